package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sbmp-io/sbmp-gateway/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frame_rx", snap.FrameRx,
					"frame_tx", snap.FrameTx,
					"frame_rx_errors", snap.FrameRxErrors,
					"datagram_rx", snap.DatagramRx,
					"handshake_success", snap.HandshakeSuccess,
					"handshake_conflict", snap.HandshakeConflict,
					"tap_clients", snap.TapClients,
					"tap_drops", snap.TapDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
