package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	serialDev    string
	baud         int
	serialReadTO time.Duration

	bufferSize       int
	listenerCapacity int
	checksumPref     string // "none" | "crc32"

	txQueueSize int

	tapListenAddr string
	tapBuffer     int
	tapPolicy     string // "drop" | "kick"

	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration

	metricsAddr string

	mdnsEnable bool
	mdnsName   string

	redisEnable  bool
	redisAddr    string
	redisPass    string
	redisDB      int
	redisPollTO  time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")

	bufferSize := flag.Int("buffer-size", 1024, "Frame codec receive buffer capacity (bytes)")
	listenerCapacity := flag.Int("listener-capacity", 16, "Session listener table capacity")
	checksumPref := flag.String("checksum", "crc32", "Preferred checksum: none|crc32")

	txQueueSize := flag.Int("tx-queue-size", 256, "Capacity of the asynchronous serial write queue")

	tapListen := flag.String("tap-listen", "", "Debug tap TCP listen address (e.g. :20100); empty disables")
	tapBuffer := flag.Int("tap-buffer", 256, "Per-client debug tap queue depth (events)")
	tapPolicy := flag.String("tap-policy", "drop", "Tap backpressure policy: drop|kick")

	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")

	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")

	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default sbmp-gateway-<hostname>)")

	redisEnable := flag.Bool("redis-enable", false, "Mirror datagram events into Redis and accept outbound sends from a Redis list")
	redisAddr := flag.String("redis-addr", "127.0.0.1:6379", "Redis address")
	redisPass := flag.String("redis-password", "", "Redis password")
	redisDB := flag.Int("redis-db", 0, "Redis database index")
	redisPollTO := flag.Duration("redis-poll-timeout", 5*time.Second, "BRPOP timeout while polling the outbound list")

	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.bufferSize = *bufferSize
	cfg.listenerCapacity = *listenerCapacity
	cfg.checksumPref = *checksumPref
	cfg.txQueueSize = *txQueueSize
	cfg.tapListenAddr = *tapListen
	cfg.tapBuffer = *tapBuffer
	cfg.tapPolicy = *tapPolicy
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.metricsAddr = *metricsAddr
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.redisEnable = *redisEnable
	cfg.redisAddr = *redisAddr
	cfg.redisPass = *redisPass
	cfg.redisDB = *redisDB
	cfg.redisPollTO = *redisPollTO

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners -- only checks values.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.checksumPref {
	case "none", "crc32":
	default:
		return fmt.Errorf("invalid checksum: %s", c.checksumPref)
	}
	switch c.tapPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid tap-policy: %s", c.tapPolicy)
	}
	if c.bufferSize <= 0 {
		return fmt.Errorf("buffer-size must be > 0 (got %d)", c.bufferSize)
	}
	if c.listenerCapacity <= 0 {
		return fmt.Errorf("listener-capacity must be > 0 (got %d)", c.listenerCapacity)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.txQueueSize <= 0 {
		return fmt.Errorf("tx-queue-size must be > 0 (got %d)", c.txQueueSize)
	}
	if c.tapBuffer <= 0 {
		return fmt.Errorf("tap-buffer must be > 0 (got %d)", c.tapBuffer)
	}
	if c.redisDB < 0 {
		return fmt.Errorf("redis-db must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps SBMPD_* environment variables onto config fields
// unless a corresponding flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	setErr := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if _, ok := set["serial"]; !ok {
		if v, ok := get("SBMPD_SERIAL"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("SBMPD_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil {
				setErr(fmt.Errorf("invalid SBMPD_BAUD: %w", err))
			}
		}
	}
	if _, ok := set["serial-read-timeout"]; !ok {
		if v, ok := get("SBMPD_SERIAL_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.serialReadTO = d
			} else if err != nil {
				setErr(fmt.Errorf("invalid SBMPD_SERIAL_READ_TIMEOUT: %w", err))
			}
		}
	}
	if _, ok := set["buffer-size"]; !ok {
		if v, ok := get("SBMPD_BUFFER_SIZE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.bufferSize = n
			} else if err != nil {
				setErr(fmt.Errorf("invalid SBMPD_BUFFER_SIZE: %w", err))
			}
		}
	}
	if _, ok := set["listener-capacity"]; !ok {
		if v, ok := get("SBMPD_LISTENER_CAPACITY"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.listenerCapacity = n
			} else if err != nil {
				setErr(fmt.Errorf("invalid SBMPD_LISTENER_CAPACITY: %w", err))
			}
		}
	}
	if _, ok := set["checksum"]; !ok {
		if v, ok := get("SBMPD_CHECKSUM"); ok && v != "" {
			c.checksumPref = v
		}
	}
	if _, ok := set["tx-queue-size"]; !ok {
		if v, ok := get("SBMPD_TX_QUEUE_SIZE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.txQueueSize = n
			} else if err != nil {
				setErr(fmt.Errorf("invalid SBMPD_TX_QUEUE_SIZE: %w", err))
			}
		}
	}
	if _, ok := set["tap-listen"]; !ok {
		if v, ok := get("SBMPD_TAP_LISTEN"); ok {
			c.tapListenAddr = v
		}
	}
	if _, ok := set["tap-buffer"]; !ok {
		if v, ok := get("SBMPD_TAP_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.tapBuffer = n
			} else if err != nil {
				setErr(fmt.Errorf("invalid SBMPD_TAP_BUFFER: %w", err))
			}
		}
	}
	if _, ok := set["tap-policy"]; !ok {
		if v, ok := get("SBMPD_TAP_POLICY"); ok && v != "" {
			c.tapPolicy = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("SBMPD_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("SBMPD_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("SBMPD_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil {
				setErr(fmt.Errorf("invalid SBMPD_LOG_METRICS_INTERVAL: %w", err))
			}
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("SBMPD_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("SBMPD_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("SBMPD_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["redis-enable"]; !ok {
		if v, ok := get("SBMPD_REDIS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.redisEnable = true
			case "0", "false", "no", "off":
				c.redisEnable = false
			}
		}
	}
	if _, ok := set["redis-addr"]; !ok {
		if v, ok := get("SBMPD_REDIS_ADDR"); ok && v != "" {
			c.redisAddr = v
		}
	}
	if _, ok := set["redis-password"]; !ok {
		if v, ok := get("SBMPD_REDIS_PASSWORD"); ok {
			c.redisPass = v
		}
	}
	if _, ok := set["redis-db"]; !ok {
		if v, ok := get("SBMPD_REDIS_DB"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.redisDB = n
			} else if err != nil {
				setErr(fmt.Errorf("invalid SBMPD_REDIS_DB: %w", err))
			}
		}
	}
	if _, ok := set["redis-poll-timeout"]; !ok {
		if v, ok := get("SBMPD_REDIS_POLL_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.redisPollTO = d
			} else if err != nil {
				setErr(fmt.Errorf("invalid SBMPD_REDIS_POLL_TIMEOUT: %w", err))
			}
		}
	}
	return firstErr
}
