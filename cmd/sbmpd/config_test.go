package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		serialDev:        "/dev/null",
		baud:             115200,
		serialReadTO:     10 * time.Millisecond,
		bufferSize:       1024,
		listenerCapacity: 16,
		checksumPref:     "crc32",
		txQueueSize:      256,
		tapListenAddr:    "",
		tapBuffer:        256,
		tapPolicy:        "drop",
		logFormat:        "text",
		logLevel:         "info",
		redisDB:          0,
	}
}

func TestConfigValidateOK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badLogFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLogLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badChecksum", func(c *appConfig) { c.checksumPref = "md5" }},
		{"badTapPolicy", func(c *appConfig) { c.tapPolicy = "nope" }},
		{"badBufferSize", func(c *appConfig) { c.bufferSize = 0 }},
		{"badListenerCapacity", func(c *appConfig) { c.listenerCapacity = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialReadTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badTxQueueSize", func(c *appConfig) { c.txQueueSize = 0 }},
		{"badTapBuffer", func(c *appConfig) { c.tapBuffer = 0 }},
		{"badRedisDB", func(c *appConfig) { c.redisDB = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := baseConfig()
			tc.mod(c)
			if err := c.validate(); err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
		})
	}
}

func TestConfigValidateNilReceiver(t *testing.T) {
	var c *appConfig
	if err := c.validate(); err == nil {
		t.Fatal("expected error for nil config")
	}
}
