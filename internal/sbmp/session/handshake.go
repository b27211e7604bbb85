package session

import (
	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/datagram"
	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/frame"
)

// HandshakeStatus reflects the state of the origin-bit arbitration dialog.
type HandshakeStatus int

const (
	HskIdle HandshakeStatus = iota
	HskAwaitReply
	HskSuccess
	HskConflict
)

func (s HandshakeStatus) String() string {
	switch s {
	case HskIdle:
		return "idle"
	case HskAwaitReply:
		return "await_reply"
	case HskSuccess:
		return "success"
	case HskConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// hskPayloadLen is the handshake datagram payload: 1 byte of preferred
// checksum type followed by 2 bytes of buffer size (LE).
const hskPayloadLen = 3

// SetHandshakeCallback installs a hook invoked whenever the handshake status
// changes, for callers that want to gate other traffic on a settled origin
// bit (e.g. the gateway's readiness probe).
func (ep *Endpoint) SetHandshakeCallback(fn func(HandshakeStatus)) {
	ep.onHandshakeChange = fn
}

// HandshakeStatus returns the current handshake dialog state.
func (ep *Endpoint) HandshakeStatus() HandshakeStatus { return ep.hskStatus }

func (ep *Endpoint) setHskStatus(s HandshakeStatus) {
	if ep.hskStatus == s {
		return
	}
	ep.hskStatus = s
	if ep.onHandshakeChange != nil {
		ep.onHandshakeChange(s)
	}
}

func (ep *Endpoint) populateHskBuf(buf []byte) {
	buf[0] = byte(ep.prefCksum)
	buf[1] = byte(ep.bufferSize)
	buf[2] = byte(ep.bufferSize >> 8)
}

// parsePeerHskBuf reads the peer's advertised capabilities, downgrading an
// unrecognized checksum type to this endpoint's own preference and logging
// the downgrade.
func (ep *Endpoint) parsePeerHskBuf(buf []byte) {
	peerCksum := frame.CksumType(buf[0])
	if peerCksum != frame.CksumNone && peerCksum != frame.CksumCRC32 {
		ep.logger.Warn("peer_cksum_downgrade", "peer_value", buf[0], "fallback", ep.prefCksum)
		peerCksum = ep.prefCksum
	}
	ep.peerPrefCksum = peerCksum
	ep.peerBufferSize = uint16(buf[1]) | uint16(buf[2])<<8
}

// StartHandshake aborts any handshake already in progress and begins a new
// one: it allocates a session with the origin bit tentatively clear,
// advertises this endpoint's capabilities, and waits for the peer's reply.
func (ep *Endpoint) StartHandshake() (uint16, error) {
	ep.origin = false
	ep.hskSession = ep.NewSession()

	var buf [hskPayloadLen]byte
	ep.populateHskBuf(buf[:])
	// Await the reply before sending: a synchronous sink may deliver the
	// peer's ACCEPT before Send returns.
	ep.setHskStatus(HskAwaitReply)
	if err := datagram.Send(ep.frm, ep.prefCksum, ep.hskSession, datagram.TypeHandshakeStart, buf[:]); err != nil {
		ep.setHskStatus(HskIdle)
		return 0, err
	}
	return ep.hskSession, nil
}

// AbortHandshake discards any in-progress handshake dialog without
// affecting the currently settled origin bit or peer capabilities.
func (ep *Endpoint) AbortHandshake() {
	ep.hskSession = 0
	ep.setHskStatus(HskIdle)
}

func (ep *Endpoint) handleHandshakeDatagram(dg datagram.Datagram) {
	switch dg.Type {
	case datagram.TypeHandshakeStart:
		ep.handleHskStart(dg)
	case datagram.TypeHandshakeAccept:
		ep.handleHskAccept(dg)
	case datagram.TypeHandshakeConflict:
		ep.handleHskConflict(dg)
	}
}

// handleHskStart implements the arbitration rule: the peer proposed
// origin=0 on this session. If we are also awaiting a reply on the same
// session number, both sides independently started a dialog and the
// collision is reported back as a conflict rather than arbitrated;
// otherwise we simply accept the peer as origin=0 and settle ourselves as
// origin=1.
func (ep *Endpoint) handleHskStart(dg datagram.Datagram) {
	if len(dg.Payload) < hskPayloadLen {
		ep.logger.Warn("hsk_start_short_payload", "len", len(dg.Payload))
		return
	}

	if ep.hskStatus == HskAwaitReply && ep.hskSession == dg.Session {
		ep.logger.Debug("hsk_collision", "session", dg.Session)
		var buf [hskPayloadLen]byte
		ep.populateHskBuf(buf[:])
		if err := datagram.Send(ep.frm, ep.prefCksum, dg.Session, datagram.TypeHandshakeConflict, buf[:]); err != nil {
			ep.logger.Warn("hsk_conflict_send_failed", "error", err)
		}
		ep.setHskStatus(HskConflict)
		return
	}

	ep.parsePeerHskBuf(dg.Payload)
	ep.origin = true

	var buf [hskPayloadLen]byte
	ep.populateHskBuf(buf[:])
	if err := datagram.Send(ep.frm, ep.prefCksum, dg.Session, datagram.TypeHandshakeAccept, buf[:]); err != nil {
		ep.logger.Warn("hsk_accept_send_failed", "error", err)
		return
	}
	ep.setHskStatus(HskSuccess)
}

func (ep *Endpoint) handleHskAccept(dg datagram.Datagram) {
	if ep.hskStatus != HskAwaitReply || dg.Session != ep.hskSession {
		ep.logger.Debug("hsk_accept_unexpected", "session", dg.Session)
		return
	}
	if len(dg.Payload) < hskPayloadLen {
		ep.logger.Warn("hsk_accept_short_payload", "len", len(dg.Payload))
		return
	}
	ep.parsePeerHskBuf(dg.Payload)
	ep.setHskStatus(HskSuccess)
}

// handleHskConflict settles this side of a colliding handshake. Retry and
// backoff after a conflict are not defined by the protocol; the caller
// decides whether and when to call StartHandshake again.
func (ep *Endpoint) handleHskConflict(dg datagram.Datagram) {
	if ep.hskStatus != HskAwaitReply || dg.Session != ep.hskSession {
		ep.logger.Debug("hsk_conflict_unexpected", "session", dg.Session)
		return
	}
	ep.frm.Reset()
	ep.setHskStatus(HskConflict)
}
