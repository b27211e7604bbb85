// Package session implements the SBMP session layer: an endpoint that
// arbitrates a direction (origin) bit with its peer, allocates session
// numbers, exchanges capabilities during handshake, and dispatches
// incoming datagrams to per-session listeners or a default handler.
package session

import (
	"log/slog"

	"github.com/sbmp-io/sbmp-gateway/internal/logging"
	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/datagram"
	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/frame"
)

// DefaultHandler receives datagrams that match no registered listener.
type DefaultHandler func(dg datagram.Datagram)

// Listener is a per-session callback for a multi-message dialog. obj points
// at the slot's mutable user object; the listener may replace *obj to carry
// state between calls, and typically removes itself via RemoveListener
// once the dialog completes.
type Listener func(ep *Endpoint, dg datagram.Datagram, obj *any)

type listenerSlot struct {
	session  uint16
	active   bool
	callback Listener
	obj      any
}

// Endpoint is a stateful SBMP peer: origin bit, session counter, listener
// table and peer capabilities layered over one frame.Codec. It is not safe
// for concurrent use; see spec.md §5 for the single-endpoint serialization
// contract.
type Endpoint struct {
	logger *slog.Logger
	frm    *frame.Codec

	origin      bool
	nextSession uint16

	bufferSize     uint16
	prefCksum      frame.CksumType
	peerBufferSize uint16
	peerPrefCksum  frame.CksumType

	hskStatus HandshakeStatus
	hskSession uint16

	listeners      []listenerSlot
	defaultHandler DefaultHandler

	onHandshakeChange func(HandshakeStatus)
	onDatagramRx      func(datagram.Datagram)
}

// NewEndpoint creates an endpoint with its own frame codec sized to
// bufCap bytes and a listener table of listenerCapacity fixed slots.
// defaultHandler receives every datagram that matches no listener and is
// not part of the handshake dialog.
func NewEndpoint(bufCap, listenerCapacity int, defaultHandler DefaultHandler) *Endpoint {
	ep := &Endpoint{
		logger:         logging.Component("session"),
		prefCksum:      frame.CksumCRC32,
		peerPrefCksum:  frame.CksumCRC32,
		peerBufferSize: 0xFFFF,
		listeners:      make([]listenerSlot, listenerCapacity),
		defaultHandler: defaultHandler,
	}
	ep.frm = frame.NewSize(bufCap, ep.onFrame)
	ep.frm.SetUserToken(ep)
	ep.bufferSize = uint16(ep.frm.RxCapacity())
	return ep
}

// Frame returns the endpoint's underlying frame codec, for callers that
// need to install a byte sink, an error hook, or drive Receive directly.
func (ep *Endpoint) Frame() *frame.Codec { return ep.frm }

// SetSink installs the transmit byte sink on the underlying frame codec.
func (ep *Endpoint) SetSink(sink frame.ByteSink) { ep.frm.SetSink(sink) }

// Enable turns the underlying frame codec's rx/tx halves on or off.
func (ep *Endpoint) Enable(rx, tx bool) { ep.frm.Enable(rx, tx) }

// FeedByte drives the receive state machine with one transport byte.
func (ep *Endpoint) FeedByte(b byte) frame.RxStatus { return ep.frm.Receive(b) }

// Reset discards all session state: origin, session counter, handshake
// status and peer capabilities, and resets the underlying frame codec.
func (ep *Endpoint) Reset() {
	ep.nextSession = 0
	ep.origin = false
	ep.hskSession = 0
	ep.hskStatus = HskIdle
	ep.peerBufferSize = 0xFFFF
	ep.peerPrefCksum = frame.CksumCRC32
	ep.frm.Reset()
}

// SeedSession sets the next session counter (masked to 15 bits), useful for
// deterministic tests.
func (ep *Endpoint) SeedSession(sesn uint16) { ep.nextSession = sesn & 0x7FFF }

// SetOrigin sets the local origin bit directly, bypassing the handshake.
func (ep *Endpoint) SetOrigin(bit bool) { ep.origin = bit }

// Origin returns the local origin bit.
func (ep *Endpoint) Origin() bool { return ep.origin }

// SetPreferredChecksum sets the checksum type this endpoint advertises and
// uses for its own handshake datagrams, falling back to CRC32 if given an
// unsupported type. Other outgoing datagrams use the peer's advertised
// preference.
func (ep *Endpoint) SetPreferredChecksum(t frame.CksumType) {
	if t != frame.CksumNone && t != frame.CksumCRC32 {
		ep.logger.Warn("unsupported_cksum_type", "value", uint8(t))
		t = frame.CksumCRC32
	}
	ep.prefCksum = t
}

// BufferSize returns this endpoint's own advertised rx buffer size.
func (ep *Endpoint) BufferSize() uint16 { return ep.bufferSize }

// PreferredChecksum returns this endpoint's own advertised checksum type.
func (ep *Endpoint) PreferredChecksum() frame.CksumType { return ep.prefCksum }

// PeerBufferSize returns the peer's advertised rx buffer size, or 0xFFFF
// before a handshake completes.
func (ep *Endpoint) PeerBufferSize() uint16 { return ep.peerBufferSize }

// PeerPreferredChecksum returns the peer's advertised checksum preference.
func (ep *Endpoint) PeerPreferredChecksum() frame.CksumType { return ep.peerPrefCksum }

// NewSession allocates the next session number: a 15-bit counter combined
// with this endpoint's origin bit in bit 15, wrapping 0x7FFF -> 0.
func (ep *Endpoint) NewSession() uint16 {
	sesn := ep.nextSession
	ep.nextSession++
	if ep.nextSession == 0x8000 {
		ep.nextSession = 0
	}
	var origin uint16
	if ep.origin {
		origin = 1
	}
	return sesn | (origin << 15)
}

// SetDatagramRxHook installs a callback invoked for every datagram parsed
// off an incoming frame, regardless of whether it is later routed to the
// handshake filter, a registered listener, or the default handler. Callers
// that only want a count of successfully received traffic (e.g. a metrics
// backend) should use this instead of the default handler, which is skipped
// for handshake datagrams and datagrams matching a listener.
func (ep *Endpoint) SetDatagramRxHook(fn func(datagram.Datagram)) {
	ep.onDatagramRx = fn
}

// onFrame is installed as the frame codec's rx handler; it parses the
// datagram header and routes it to the handshake filter.
func (ep *Endpoint) onFrame(payload []byte, _ any) {
	dg, err := datagram.Parse(payload)
	if err != nil {
		ep.logger.Warn("datagram_parse_error", "error", err, "len", len(payload))
		return
	}
	if ep.onDatagramRx != nil {
		ep.onDatagramRx(dg)
	}
	ep.handleDatagram(dg)
}

func (ep *Endpoint) handleDatagram(dg datagram.Datagram) {
	switch dg.Type {
	case datagram.TypeHandshakeStart, datagram.TypeHandshakeAccept, datagram.TypeHandshakeConflict:
		ep.handleHandshakeDatagram(dg)
	default:
		ep.dispatch(dg)
	}
}

func (ep *Endpoint) dispatch(dg datagram.Datagram) {
	for i := range ep.listeners {
		slot := &ep.listeners[i]
		if !slot.active || slot.session != dg.Session {
			continue
		}
		slot.callback(ep, dg, &slot.obj)
		return
	}
	ep.logger.Debug("no_listener_for_session", "session", dg.Session)
	if ep.defaultHandler != nil {
		ep.defaultHandler(dg)
	}
}
