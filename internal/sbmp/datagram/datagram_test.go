package datagram

import (
	"bytes"
	"testing"

	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/frame"
)

func TestParseRoundTrip(t *testing.T) {
	var buf [HeaderLen + 2]byte
	PackHeader(buf[:], 0x8001, TypeHandshakeStart)
	buf[HeaderLen] = 0xAB
	buf[HeaderLen+1] = 0xCD

	dg, err := Parse(buf[:])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if dg.Session != 0x8001 {
		t.Fatalf("session = %#x, want 0x8001", dg.Session)
	}
	if dg.Type != TypeHandshakeStart {
		t.Fatalf("type = %d", dg.Type)
	}
	if !bytes.Equal(dg.Payload, []byte{0xAB, 0xCD}) {
		t.Fatalf("payload = %v", dg.Payload)
	}
}

func TestParseTooShort(t *testing.T) {
	if _, err := Parse([]byte{1, 2}); err != ErrTooShort {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestOriginBit(t *testing.T) {
	if OriginBit(0x0001) {
		t.Fatal("expected origin bit clear")
	}
	if !OriginBit(0x8001) {
		t.Fatal("expected origin bit set")
	}
}

func TestSendOverWire(t *testing.T) {
	var received Datagram
	rx := frame.NewSize(64, func(payload []byte, _ any) {
		dg, err := Parse(payload)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		received = dg
	})
	rx.Enable(true, false)

	tx := frame.NewSize(64, nil)
	tx.Enable(false, true)
	tx.SetSink(func(b byte) { rx.Receive(b) })

	payload := []byte("ping")
	if err := Send(tx, frame.CksumCRC32, 0x0042, 9, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if received.Session != 0x0042 || received.Type != 9 {
		t.Fatalf("got session=%#x type=%d", received.Session, received.Type)
	}
	if !bytes.Equal(received.Payload, payload) {
		t.Fatalf("payload = %q", received.Payload)
	}
}

func TestOpenRejectsOversizedTotal(t *testing.T) {
	tx := frame.NewSize(64, nil)
	tx.Enable(false, true)
	tx.SetSink(func(byte) {})
	if err := Open(tx, frame.CksumNone, 1, 1, 0xFFFF); err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}
