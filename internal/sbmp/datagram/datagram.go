// Package datagram implements the SBMP datagram layer: a typed,
// session-tagged message packed into a single frame payload.
//
// Wire format: SessionLo(1) SessionHi(1) Type(1) Payload(N)
package datagram

import (
	"errors"

	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/frame"
)

// HeaderLen is the fixed datagram header size (session + type).
const HeaderLen = 3

// Reserved datagram types. 1..3 are the handshake dialog; 4..7 are
// reserved, by convention, for a bulk-transfer dialog this module does
// not implement (no fragmentation above one frame).
const (
	TypeHandshakeStart    = 1
	TypeHandshakeAccept   = 2
	TypeHandshakeConflict = 3

	TypeBulkOffer   = 4
	TypeBulkRequest = 5
	TypeBulkData    = 6
	TypeBulkAbort   = 7
)

// OriginBit extracts the sender's origin bit (bit 15) from a session number.
func OriginBit(session uint16) bool {
	return session&0x8000 != 0
}

// Datagram is an ephemeral view into a frame's payload: valid only for the
// duration of dispatch, per the framing layer's buffer-lifetime contract.
type Datagram struct {
	Session uint16
	Type    uint8
	Payload []byte
}

// ErrTooShort is returned by Parse when the payload is shorter than the
// 3-byte datagram header.
var ErrTooShort = errors.New("datagram: payload shorter than header")

// ErrTooLarge is returned when a datagram's framed length would exceed the
// 16-bit frame length field, or when a partial write leaves a short frame.
var ErrTooLarge = errors.New("datagram: payload too large to frame")

// Parse reads the datagram header from a frame payload. The returned
// Datagram borrows payload's backing array; it must not be retained past
// the caller's own buffer-lifetime contract.
func Parse(payload []byte) (Datagram, error) {
	if len(payload) < HeaderLen {
		return Datagram{}, ErrTooShort
	}
	return Datagram{
		Session: uint16(payload[0]) | uint16(payload[1])<<8,
		Type:    payload[2],
		Payload: payload[HeaderLen:],
	}, nil
}

// PackHeader writes the 3-byte datagram header into buf[0:3].
func PackHeader(buf []byte, session uint16, dgType uint8) {
	buf[0] = byte(session)
	buf[1] = byte(session >> 8)
	buf[2] = dgType
}

// Open begins a framed datagram transmission: it opens a frame sized for
// the header plus payloadLen, writes the datagram header, and leaves the
// frame open (via codec) for the caller to stream payloadLen more bytes.
func Open(codec *frame.Codec, cksumType frame.CksumType, session uint16, dgType uint8, payloadLen uint16) error {
	total := uint32(payloadLen) + HeaderLen
	if total > 0xFFFF {
		return ErrTooLarge
	}
	if err := codec.Open(cksumType, uint16(total)); err != nil {
		return err
	}
	var hdr [HeaderLen]byte
	PackHeader(hdr[:], session, dgType)
	_, err := codec.SendBuffer(hdr[:])
	return err
}

// Send writes a complete datagram (header + payload) in one call.
func Send(codec *frame.Codec, cksumType frame.CksumType, session uint16, dgType uint8, payload []byte) error {
	if err := Open(codec, cksumType, session, dgType, uint16(len(payload))); err != nil {
		return err
	}
	n, err := codec.SendBuffer(payload)
	if err != nil {
		return err
	}
	if n != len(payload) {
		return ErrTooLarge
	}
	return nil
}
