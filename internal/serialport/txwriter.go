package serialport

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/txqueue"
)

// ErrTxOverflow is reported by the write queue's drop hook when the async
// write queue is full; SendByte discards it, so the byte is lost.
var ErrTxOverflow = errors.New("serialport: tx overflow")

// TXWriter funnels all serial writes through one goroutine so the frame
// codec's synchronous ByteSink never blocks its caller on slow hardware.
// Each byte handed to SendByte becomes one queued write job.
type TXWriter struct {
	sp    Port
	queue *txqueue.Queue
}

// TXWriterMetrics reports write-path outcomes without coupling this package
// to a concrete metrics backend.
type TXWriterMetrics interface {
	IncWriteError()
	IncBytesWritten(n int)
	IncOverflow()
}

type noopTXMetrics struct{}

func (noopTXMetrics) IncWriteError()      {}
func (noopTXMetrics) IncBytesWritten(int) {}
func (noopTXMetrics) IncOverflow()        {}

// NewTXWriter creates a serial TXWriter with a buffered job queue of size
// buf. l receives write-error logs and must not be nil; m receives
// write-path metrics (nil selects the package's no-op metrics).
func NewTXWriter(parent context.Context, sp Port, buf int, l *slog.Logger, m TXWriterMetrics) *TXWriter {
	if m == nil {
		m = noopTXMetrics{}
	}
	w := &TXWriter{sp: sp}
	hooks := txqueue.Hooks{
		OnError: func(err error) {
			m.IncWriteError()
			l.Error("serial_write_error", "error", err)
		},
		OnDrop: func() error {
			m.IncOverflow()
			return ErrTxOverflow
		},
	}
	w.queue = txqueue.New(parent, buf, hooks)
	return w
}

// SendByte queues a single byte for asynchronous write. It is installed as
// a frame.Codec's ByteSink, so it must not return an error; write failures
// surface only through the configured logger/metrics hooks.
func (w *TXWriter) SendByte(b byte) {
	_ = w.queue.Enqueue(func() error {
		_, err := w.sp.Write([]byte{b})
		return err
	})
}

// Close stops the writer and waits for pending writes to drain.
func (w *TXWriter) Close() { w.queue.Close() }
