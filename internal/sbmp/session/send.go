package session

import "github.com/sbmp-io/sbmp-gateway/internal/sbmp/datagram"

// OpenResponse opens a framed datagram in an existing session, capping the
// payload at the peer's advertised buffer size minus the datagram header.
func (ep *Endpoint) OpenResponse(dgType uint8, length uint16, session uint16) error {
	maxPayload := int(ep.peerBufferSize) - datagram.HeaderLen
	if maxPayload < 0 {
		maxPayload = 0
	}
	if int(length) > maxPayload {
		ep.logger.Warn("payload_too_large", "length", length, "peer_max", maxPayload)
		return ErrPayloadTooLarge
	}
	return datagram.Open(ep.frm, ep.peerPrefCksum, session, dgType, length)
}

// OpenMessage allocates a new session and opens a framed datagram in it,
// returning the allocated session number.
func (ep *Endpoint) OpenMessage(dgType uint8, length uint16) (uint16, error) {
	sesn := ep.NewSession()
	if err := ep.OpenResponse(dgType, length, sesn); err != nil {
		return 0, err
	}
	return sesn, nil
}

// SendResponse opens and fully writes a datagram in an existing session.
func (ep *Endpoint) SendResponse(dgType uint8, payload []byte, session uint16) error {
	if err := ep.OpenResponse(dgType, uint16(len(payload)), session); err != nil {
		return err
	}
	n, err := ep.frm.SendBuffer(payload)
	if err != nil {
		return err
	}
	if n != len(payload) {
		return ErrPartialWrite
	}
	return nil
}

// SendMessage allocates a new session and fully writes a datagram in it,
// returning the allocated session number. The session counter advances
// even if the send itself fails, matching the allocate-before-send
// ordering the protocol requires to avoid needing a hardware round-trip
// delay between allocation and transmission.
func (ep *Endpoint) SendMessage(dgType uint8, payload []byte) (uint16, error) {
	sesn := ep.NewSession()
	if err := ep.SendResponse(dgType, payload, sesn); err != nil {
		return 0, err
	}
	return sesn, nil
}
