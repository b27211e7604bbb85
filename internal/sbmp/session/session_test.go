package session

import (
	"testing"

	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/datagram"
	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/frame"
)

func wireLoopback(a, b *Endpoint) {
	a.SetSink(func(bt byte) { b.FeedByte(bt) })
	b.SetSink(func(bt byte) { a.FeedByte(bt) })
}

func newTestEndpoint(defaultHandler DefaultHandler) *Endpoint {
	ep := NewEndpoint(256, 4, defaultHandler)
	ep.Enable(true, true)
	return ep
}

func TestHandshakeSettlesOrigin(t *testing.T) {
	a := newTestEndpoint(nil)
	b := newTestEndpoint(nil)
	wireLoopback(a, b)

	if _, err := a.StartHandshake(); err != nil {
		t.Fatalf("StartHandshake: %v", err)
	}

	if a.HandshakeStatus() != HskSuccess {
		t.Fatalf("a status = %v, want success", a.HandshakeStatus())
	}
	if b.HandshakeStatus() != HskSuccess {
		t.Fatalf("b status = %v, want success", b.HandshakeStatus())
	}
	if a.Origin() == b.Origin() {
		t.Fatalf("expected opposite origin bits, got a=%v b=%v", a.Origin(), b.Origin())
	}
	if a.Origin() {
		t.Fatal("initiator should settle as origin=false")
	}
}

func TestSendMessageDispatchesToListener(t *testing.T) {
	a := newTestEndpoint(nil)
	var gotDefault bool
	b := newTestEndpoint(func(dg datagram.Datagram) { gotDefault = true })
	wireLoopback(a, b)

	if _, err := a.StartHandshake(); err != nil {
		t.Fatalf("StartHandshake: %v", err)
	}

	var received []byte
	sesn, err := a.OpenMessage(50, 4)
	if err != nil {
		t.Fatalf("OpenMessage: %v", err)
	}
	if err := b.AddListener(sesn, func(_ *Endpoint, dg datagram.Datagram, _ *any) {
		received = append([]byte(nil), dg.Payload...)
	}, nil); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	if n, err := a.Frame().SendBuffer([]byte{1, 2, 3, 4}); err != nil || n != 4 {
		t.Fatalf("SendBuffer: n=%d err=%v", n, err)
	}

	if string(received) != "\x01\x02\x03\x04" {
		t.Fatalf("listener got %v", received)
	}
	if gotDefault {
		t.Fatal("default handler should not have fired for a registered listener")
	}
}

func TestDispatchFallsThroughToDefaultHandler(t *testing.T) {
	a := newTestEndpoint(nil)
	var gotSession uint16
	b := newTestEndpoint(func(dg datagram.Datagram) { gotSession = dg.Session })
	wireLoopback(a, b)

	if _, err := a.StartHandshake(); err != nil {
		t.Fatalf("StartHandshake: %v", err)
	}
	sesn, err := a.SendMessage(60, []byte("hi"))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if gotSession != sesn {
		t.Fatalf("default handler session = %#x, want %#x", gotSession, sesn)
	}
}

func TestAddListenerRejectsDuplicate(t *testing.T) {
	ep := newTestEndpoint(nil)
	noop := func(*Endpoint, datagram.Datagram, *any) {}
	if err := ep.AddListener(7, noop, nil); err != nil {
		t.Fatalf("first AddListener: %v", err)
	}
	if err := ep.AddListener(7, noop, nil); err != ErrDuplicateListener {
		t.Fatalf("expected ErrDuplicateListener, got %v", err)
	}
	if ep.ListenerCount() != 1 {
		t.Fatalf("expected 1 listener, got %d", ep.ListenerCount())
	}
}

func TestAddListenerTableFull(t *testing.T) {
	ep := NewEndpoint(64, 2, nil)
	noop := func(*Endpoint, datagram.Datagram, *any) {}
	if err := ep.AddListener(1, noop, nil); err != nil {
		t.Fatalf("AddListener(1): %v", err)
	}
	if err := ep.AddListener(2, noop, nil); err != nil {
		t.Fatalf("AddListener(2): %v", err)
	}
	if err := ep.AddListener(3, noop, nil); err != ErrListenerTableFull {
		t.Fatalf("expected ErrListenerTableFull, got %v", err)
	}
}

func TestRemoveListener(t *testing.T) {
	ep := newTestEndpoint(nil)
	noop := func(*Endpoint, datagram.Datagram, *any) {}
	if err := ep.AddListener(3, noop, nil); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	if !ep.RemoveListener(3) {
		t.Fatal("expected RemoveListener to report found")
	}
	if ep.RemoveListener(3) {
		t.Fatal("expected second RemoveListener to report not found")
	}
	if ep.ListenerCount() != 0 {
		t.Fatalf("expected 0 listeners, got %d", ep.ListenerCount())
	}
}

func TestNewSessionWraps(t *testing.T) {
	ep := newTestEndpoint(nil)
	ep.SeedSession(0x7FFF)
	sesn := ep.NewSession()
	if sesn != 0x7FFF {
		t.Fatalf("sesn = %#x, want 0x7FFF", sesn)
	}
	sesn = ep.NewSession()
	if sesn != 0 {
		t.Fatalf("expected wraparound to 0, got %#x", sesn)
	}
}

func TestSendResponseRejectsOversizedPayload(t *testing.T) {
	a := newTestEndpoint(nil)
	b := newTestEndpoint(nil)
	wireLoopback(a, b)
	if _, err := a.StartHandshake(); err != nil {
		t.Fatalf("StartHandshake: %v", err)
	}

	// b's codec capacity is 256; a knows b's advertised buffer size via
	// the handshake, so a too-large payload must be rejected up front.
	big := make([]byte, 1000)
	if _, err := a.SendMessage(1, big); err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestHandshakeCollisionResolvesToConflict(t *testing.T) {
	a := newTestEndpoint(nil)
	b := newTestEndpoint(nil)

	// No wiring: simulate both sides independently starting a handshake
	// with the same session number, then deliver each other's START frame
	// manually to exercise the collision branch deterministically. Each
	// side still needs a sink for its own frames to be sent.
	a.SetSink(func(byte) {})
	b.SetSink(func(byte) {})
	if _, err := a.StartHandshake(); err != nil {
		t.Fatalf("a.StartHandshake: %v", err)
	}
	if _, err := b.StartHandshake(); err != nil {
		t.Fatalf("b.StartHandshake: %v", err)
	}

	dg := datagram.Datagram{Session: a.hskSession, Type: datagram.TypeHandshakeStart, Payload: []byte{byte(frame.CksumCRC32), 0, 1}}
	a.hskSession = dg.Session
	a.handleHandshakeDatagram(dg)

	if a.HandshakeStatus() != HskConflict {
		t.Fatalf("expected conflict status, got %v", a.HandshakeStatus())
	}
}

func TestPopulateHskBufWireOrder(t *testing.T) {
	ep := NewEndpoint(0x0100, 4, nil)
	ep.prefCksum = frame.CksumCRC32

	var buf [hskPayloadLen]byte
	ep.populateHskBuf(buf[:])

	want := [hskPayloadLen]byte{byte(frame.CksumCRC32), 0x00, 0x01}
	if buf != want {
		t.Fatalf("wire bytes = %v, want %v", buf, want)
	}

	var peer Endpoint
	peer.logger = ep.logger
	peer.prefCksum = frame.CksumNone
	peer.parsePeerHskBuf(buf[:])
	if peer.peerPrefCksum != frame.CksumCRC32 {
		t.Fatalf("peerPrefCksum = %v, want CRC32", peer.peerPrefCksum)
	}
	if peer.peerBufferSize != 0x0100 {
		t.Fatalf("peerBufferSize = %#x, want 0x0100", peer.peerBufferSize)
	}
}
