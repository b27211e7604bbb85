package redisbridge

import (
	"bytes"
	"testing"
)

func TestParseOutbound(t *testing.T) {
	got, err := parseOutbound("09:deadbeef")
	if err != nil {
		t.Fatalf("parseOutbound: %v", err)
	}
	if got.Type != 0x09 {
		t.Fatalf("type = %#x, want 0x09", got.Type)
	}
	if !bytes.Equal(got.Payload, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("payload = %x", got.Payload)
	}
}

func TestParseOutboundMalformed(t *testing.T) {
	if _, err := parseOutbound("no-colon-here"); err == nil {
		t.Fatal("expected error for missing colon")
	}
	if _, err := parseOutbound("zz:deadbeef"); err == nil {
		t.Fatal("expected error for non-hex type")
	}
	if _, err := parseOutbound("09:nothex"); err == nil {
		t.Fatal("expected error for non-hex payload")
	}
}

func TestEventChannelName(t *testing.T) {
	if EventChannel() != channelEvents {
		t.Fatalf("EventChannel() = %q", EventChannel())
	}
}
