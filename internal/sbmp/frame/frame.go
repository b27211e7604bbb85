// Package frame implements the SBMP framing layer: a byte-at-a-time receive
// state machine and a streaming transmitter, with header-XOR and CRC32
// verification over a bounded, reusable receive buffer.
//
// Wire format: SOF(1) CksumType(1) Length(2 LE) HdrXor(1) Payload(Length) [CRC32(4 LE)]
package frame

import (
	"errors"
	"hash/crc32"
	"log/slog"

	"github.com/sbmp-io/sbmp-gateway/internal/logging"
)

const sof = 0x01

// CksumType selects the trailing checksum appended to a frame.
type CksumType uint8

const (
	CksumNone  CksumType = 0
	CksumCRC32 CksumType = 32
)

func (t CksumType) valid() bool {
	return t == CksumNone || t == CksumCRC32
}

func checksumLength(t CksumType) int {
	if t == CksumCRC32 {
		return 4
	}
	return 0
}

// RxStatus is returned by Receive for every byte fed to the codec.
type RxStatus int

const (
	RxOK RxStatus = iota
	RxInvalid
	RxBusy
	RxDisabled
)

func (s RxStatus) String() string {
	switch s {
	case RxOK:
		return "OK"
	case RxInvalid:
		return "INVALID"
	case RxBusy:
		return "BUSY"
	case RxDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// ErrorKind classifies a framing failure for metrics/logging hooks.
// All of these reset the receiver to IDLE.
type ErrorKind int

const (
	ErrBadHeaderXor ErrorKind = iota
	ErrZeroLengthFrame
	ErrInvalidCksumType
	ErrOversizedFrame
	ErrChecksumMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case ErrBadHeaderXor:
		return "bad_header_xor"
	case ErrZeroLengthFrame:
		return "zero_length_frame"
	case ErrInvalidCksumType:
		return "invalid_cksum_type"
	case ErrOversizedFrame:
		return "oversized_frame"
	case ErrChecksumMismatch:
		return "checksum_mismatch"
	default:
		return "unknown"
	}
}

// RxHandler is invoked exactly once per successfully validated frame. The
// payload slice is a view into the codec's internal buffer and is only
// valid until the handler returns, unless rx is disabled before returning
// (see Codec.EnableRx).
type RxHandler func(payload []byte, userToken any)

// ByteSink transmits a single byte. It is expected to be synchronous and
// non-blocking (or to briefly block the sole caller); the codec has no
// timeout and never retries a failed sink.
type ByteSink func(b byte)

type rxPhase int

const (
	rxIdle rxPhase = iota
	rxCksumType
	rxLength
	rxHdrXor
	rxPayload
	rxDiscard
	rxCksum
	rxWaitHandler
)

type txPhase int

const (
	txIdle txPhase = iota
	txPayload
)

// Codec is one direction pair (rx + tx) of the SBMP framing layer, bound to
// a single fixed-capacity receive buffer. It is not safe for concurrent use;
// the caller must serialize Receive, Open, SendByte and SendBuffer calls
// (typically all from one reader goroutine plus an external mutex on tx).
type Codec struct {
	logger   *slog.Logger
	onError  func(ErrorKind)
	onSent   func()
	rxHandler RxHandler
	userToken any
	sink      ByteSink

	rxEnabled bool
	rxState   rxPhase
	rxBuf     []byte
	rxCap     int
	rxIdx     int
	rxLen     int
	rxHdrXor  byte
	rxCksum   CksumType
	rxLenAcc  uint16
	rxLenN    int
	rxCrcAcc  uint32 // scratch CRC being computed over the payload
	rxCkAcc   uint32 // received checksum bytes being accumulated
	rxCkN     int
	rxDiscard int

	txEnabled bool
	txState   txPhase
	txRemain  uint16
	txCksum   CksumType
	txCrc     uint32
}

// New creates a codec that reads frames into buf (buf's capacity is the
// hard receive-size limit) and delivers them to rxHandler. Both rx and tx
// start disabled; call Enable to activate them.
func New(buf []byte, rxHandler RxHandler) *Codec {
	if cap(buf) < len(buf) {
		buf = buf[:cap(buf)]
	}
	c := &Codec{
		logger:    logging.Component("frame"),
		rxHandler: rxHandler,
		rxBuf:     buf[:cap(buf)],
		rxCap:     cap(buf),
	}
	c.Reset()
	return c
}

// NewSize allocates its own buffer of the given capacity.
func NewSize(capacity int, rxHandler RxHandler) *Codec {
	return New(make([]byte, capacity), rxHandler)
}

// SetSink installs the transmit byte sink.
func (c *Codec) SetSink(sink ByteSink) { c.sink = sink }

// SetUserToken stores an opaque value passed back to the rx handler.
func (c *Codec) SetUserToken(token any) { c.userToken = token }

// SetErrorHook installs a callback invoked for every framing error, before
// the receiver resets. Used by callers that want metrics without coupling
// the codec itself to a specific metrics backend.
func (c *Codec) SetErrorHook(fn func(ErrorKind)) { c.onError = fn }

// SetSentHook installs a callback invoked once per frame fully written to
// the sink (after the checksum trailer, if any), for counting outgoing
// traffic without the codec knowing about any particular metrics backend.
func (c *Codec) SetSentHook(fn func()) { c.onSent = fn }

// Reset clears both rx and tx state machines back to IDLE.
func (c *Codec) Reset() {
	c.resetRx()
	c.resetTx()
}

func (c *Codec) resetRx() {
	c.rxState = rxIdle
	c.rxIdx = 0
	c.rxLen = 0
	c.rxHdrXor = 0
	c.rxCksum = CksumNone
	c.rxLenAcc = 0
	c.rxLenN = 0
	c.rxCrcAcc = 0
	c.rxCkAcc = 0
	c.rxCkN = 0
	c.rxDiscard = 0
}

func (c *Codec) resetTx() {
	c.txState = txIdle
	c.txRemain = 0
	c.txCksum = CksumNone
	c.txCrc = 0
}

// Enable turns the rx and tx halves on or off independently.
func (c *Codec) Enable(rx, tx bool) {
	c.EnableRx(rx)
	c.txEnabled = tx
}

// EnableRx enables or disables the receiver. Disabling mid-dispatch (from
// inside the rx handler) suspends the codec in WAIT_HANDLER so the caller
// may retain the delivered buffer; re-enabling later resumes from IDLE.
func (c *Codec) EnableRx(enable bool) {
	wasDisabled := !c.rxEnabled
	c.rxEnabled = enable
	if enable && wasDisabled && c.rxState == rxWaitHandler {
		c.resetRx()
	}
}

// EnableTx enables or disables the transmitter.
func (c *Codec) EnableTx(enable bool) { c.txEnabled = enable }

func (c *Codec) fail(kind ErrorKind) {
	c.logger.Warn("frame_rx_error", "kind", kind.String())
	if c.onError != nil {
		c.onError(kind)
	}
}

// Receive feeds one byte from the transport into the receive state machine.
func (c *Codec) Receive(b byte) RxStatus {
	if !c.rxEnabled {
		return RxDisabled
	}

	switch c.rxState {
	case rxWaitHandler:
		return RxBusy

	case rxIdle:
		if b != sof {
			return RxInvalid
		}
		c.rxHdrXor = b
		c.rxState = rxCksumType

	case rxCksumType:
		c.rxCksum = CksumType(b)
		c.rxHdrXor ^= b
		c.rxState = rxLength
		c.rxLenAcc = 0
		c.rxLenN = 0

	case rxLength:
		c.rxLenAcc |= uint16(b) << (8 * c.rxLenN)
		c.rxLenN++
		c.rxHdrXor ^= b
		if c.rxLenN == 2 {
			if c.rxLenAcc == 0 {
				c.fail(ErrZeroLengthFrame)
				c.resetRx()
				break
			}
			c.rxLen = int(c.rxLenAcc)
			c.rxState = rxHdrXor
		}

	case rxHdrXor:
		if b != c.rxHdrXor {
			c.fail(ErrBadHeaderXor)
			c.resetRx()
			break
		}
		if !c.rxCksum.valid() {
			c.fail(ErrInvalidCksumType)
			c.resetRx()
			break
		}
		if c.rxLen > c.rxCap {
			c.fail(ErrOversizedFrame)
			c.rxDiscard = c.rxLen + checksumLength(c.rxCksum)
			c.rxIdx = 0
			c.rxState = rxDiscard
			break
		}
		c.rxIdx = 0
		c.rxCrcAcc = 0
		c.rxState = rxPayload

	case rxDiscard:
		c.rxIdx++
		if c.rxIdx >= c.rxDiscard {
			c.resetRx()
		}

	case rxPayload:
		c.rxBuf[c.rxIdx] = b
		c.rxIdx++
		if c.rxCksum == CksumCRC32 {
			c.rxCrcAcc = crc32.Update(c.rxCrcAcc, crc32.IEEETable, []byte{b})
		}
		if c.rxIdx == c.rxLen {
			if c.rxCksum == CksumNone {
				c.dispatch()
			} else {
				c.rxState = rxCksum
				c.rxCkAcc = 0
				c.rxCkN = 0
			}
		}

	case rxCksum:
		c.rxCkAcc |= uint32(b) << (8 * c.rxCkN)
		c.rxCkN++
		if c.rxCkN == 4 {
			if c.rxCkAcc == c.rxCrcAcc {
				c.dispatch()
			} else {
				c.fail(ErrChecksumMismatch)
				c.resetRx()
			}
		}
	}

	return RxOK
}

// dispatch delivers the completed frame. The receiver enters WAIT_HANDLER
// before the callback runs and is auto-reset to IDLE afterward, unless the
// handler disabled rx to retain the buffer past its return.
func (c *Codec) dispatch() {
	c.rxState = rxWaitHandler
	if c.rxHandler != nil {
		c.rxHandler(c.rxBuf[:c.rxIdx], c.userToken)
	}
	if c.rxEnabled {
		c.resetRx()
	}
}

// Framing errors for the transmit path.
var (
	ErrTxDisabled = errors.New("frame: tx disabled")
	ErrTxBusy     = errors.New("frame: tx busy")
	ErrNoSink     = errors.New("frame: no byte sink installed")
	ErrZeroLength = errors.New("frame: zero-length frame")
	ErrTxNotOpen  = errors.New("frame: no frame open for writing")
)

// Open begins transmitting a frame of the given length and checksum type,
// writing the 4-byte header and header-XOR byte through the sink.
func (c *Codec) Open(cksumType CksumType, length uint16) error {
	if !c.txEnabled {
		return ErrTxDisabled
	}
	if c.txState != txIdle {
		return ErrTxBusy
	}
	if c.sink == nil {
		return ErrNoSink
	}
	if length == 0 {
		return ErrZeroLength
	}

	c.txCksum = cksumType
	c.txRemain = length
	c.txCrc = 0
	c.txState = txPayload

	hdr := [4]byte{sof, byte(cksumType), byte(length), byte(length >> 8)}
	var hdrXor byte
	for _, hb := range hdr {
		hdrXor ^= hb
		c.sink(hb)
	}
	c.sink(hdrXor)

	return nil
}

func (c *Codec) endFrame() {
	switch c.txCksum {
	case CksumCRC32:
		c.sink(byte(c.txCrc))
		c.sink(byte(c.txCrc >> 8))
		c.sink(byte(c.txCrc >> 16))
		c.sink(byte(c.txCrc >> 24))
	}
	c.txState = txIdle
	if c.onSent != nil {
		c.onSent()
	}
}

// SendByte writes one byte of the currently open frame's payload, closing
// the frame (and appending the checksum) once the declared length is met.
func (c *Codec) SendByte(b byte) error {
	if !c.txEnabled {
		return ErrTxDisabled
	}
	if c.txState != txPayload || c.txRemain == 0 {
		return ErrTxNotOpen
	}

	c.sink(b)
	if c.txCksum == CksumCRC32 {
		c.txCrc = crc32.Update(c.txCrc, crc32.IEEETable, []byte{b})
	}
	c.txRemain--
	if c.txRemain == 0 {
		c.endFrame()
	}
	return nil
}

// SendBuffer streams bytes of buf into the open frame until it closes or
// buf is exhausted, returning the number of bytes actually accepted.
func (c *Codec) SendBuffer(buf []byte) (int, error) {
	if !c.txEnabled {
		return 0, ErrTxDisabled
	}
	if c.txState != txPayload {
		return 0, ErrTxNotOpen
	}
	n := 0
	for n < len(buf) && c.txState == txPayload {
		if err := c.SendByte(buf[n]); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// TxOpen reports whether a frame is currently open for writing.
func (c *Codec) TxOpen() bool { return c.txState == txPayload }

// TxRemaining reports how many payload bytes remain to close the open frame.
func (c *Codec) TxRemaining() uint16 { return c.txRemain }
