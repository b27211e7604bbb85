package eventtap

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"
)

type wireEvent struct {
	Session uint16 `json:"session"`
	Type    uint8  `json:"type"`
	Payload []byte `json:"payload"`
	AtUnix  int64  `json:"at_unix_ns"`
}

// Writer streams one client's events to its TCP connection as
// newline-delimited JSON, flushing its buffered writer every flushInterval
// (or immediately when the client's queue is empty) to amortize syscalls
// under load without adding unbounded latency to a quiet tap.
type Writer struct {
	hub           *Hub
	client        *Client
	conn          net.Conn
	logger        *slog.Logger
	flushInterval time.Duration
	wg            *sync.WaitGroup
}

// NewWriter starts the writer goroutine for one client connection. done is
// closed to signal shutdown (e.g. server context cancellation).
func NewWriter(hub *Hub, client *Client, conn net.Conn, logger *slog.Logger, flushInterval time.Duration, wg *sync.WaitGroup, done <-chan struct{}) {
	w := &Writer{hub: hub, client: client, conn: conn, logger: logger, flushInterval: flushInterval, wg: wg}
	wg.Add(1)
	go w.run(done)
}

func (w *Writer) run(done <-chan struct{}) {
	defer w.wg.Done()
	defer func() {
		_ = w.conn.Close()
		w.hub.Remove(w.client)
		w.logger.Info("tap_client_disconnected")
	}()

	bw := bufio.NewWriter(w.conn)
	enc := json.NewEncoder(bw)
	t := time.NewTicker(w.flushInterval)
	defer t.Stop()

	write := func(ev Event) error {
		return enc.Encode(wireEvent{
			Session: ev.Session,
			Type:    ev.Type,
			Payload: ev.Payload,
			AtUnix:  ev.At.UnixNano(),
		})
	}

	for {
		select {
		case ev := <-w.client.Out:
			if err := write(ev); err != nil {
				w.logger.Warn("tap_write_error", "error", err)
				return
			}
			if len(w.client.Out) == 0 {
				if err := bw.Flush(); err != nil {
					w.logger.Warn("tap_flush_error", "error", err)
					return
				}
			}
		case <-t.C:
			if err := bw.Flush(); err != nil {
				w.logger.Warn("tap_flush_error", "error", err)
				return
			}
		case <-w.client.Closed:
			_ = bw.Flush()
			return
		case <-done:
			_ = bw.Flush()
			return
		}
	}
}
