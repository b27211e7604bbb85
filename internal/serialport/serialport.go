// Package serialport wraps a serial device as an SBMP transport: it opens
// the port, drives a byte-at-a-time receive loop into a frame codec, and
// exposes a backoff-protected read loop that survives transient read
// errors without spinning.
package serialport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open is a var, not a func, so tests can substitute a fake port.
var Open = func(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

const (
	readBufSize  = 256
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// Metrics is the set of counters the read loop reports through, kept as an
// interface so this package does not import the metrics package directly.
type Metrics interface {
	IncBytesRead(n int)
	IncReadError()
}

type noopMetrics struct{}

func (noopMetrics) IncBytesRead(int) {}
func (noopMetrics) IncReadError()    {}

// RunRxLoop reads from sp until ctx is cancelled or a fatal error occurs,
// feeding every byte read to feed (typically an Endpoint.FeedByte or
// frame.Codec.Receive). Transient read errors back off exponentially
// instead of busy-looping; a removed device (os.PathError) or ctx
// cancellation ends the loop.
func RunRxLoop(ctx context.Context, sp Port, feed func(byte), l *slog.Logger, m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	buf := make([]byte, readBufSize)
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := sp.Read(buf)
		if n > 0 {
			m.IncBytesRead(n)
			for _, b := range buf[:n] {
				feed(b)
			}
			backoff = rxBackoffMin
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				l.Warn("serial_device_removed", "error", err)
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue
			}
			m.IncReadError()
			l.Warn("serial_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}
}
