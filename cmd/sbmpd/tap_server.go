package main

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sbmp-io/sbmp-gateway/internal/eventtap"
	"github.com/sbmp-io/sbmp-gateway/internal/metrics"
)

const tapFlushInterval = 200 * time.Millisecond

type tapMetricsSink struct{}

func (tapMetricsSink) SetClients(n int) { metrics.SetTapClients(n) }
func (tapMetricsSink) SetFanout(n int)  { metrics.SetTapFanout(n) }
func (tapMetricsSink) IncDrop()         { metrics.IncTapDrop() }
func (tapMetricsSink) IncKick()         { metrics.IncTapKick() }

// runTapServer accepts debug tap connections on addr until ctx is done,
// registering each as an eventtap.Client against hub.
func runTapServer(ctx context.Context, addr string, hub *eventtap.Hub, policy string, bufDepth int, l *slog.Logger, wg *sync.WaitGroup) (net.Addr, error) {
	switch policy {
	case "kick":
		hub.Policy = eventtap.PolicyKick
	default:
		hub.Policy = eventtap.PolicyDrop
	}
	hub.SetMetrics(tapMetricsSink{})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ln.Close()
		go func() { <-ctx.Done(); _ = ln.Close() }()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.Warn("tap_accept_error", "error", err)
				continue
			}
			client := eventtap.NewClient(bufDepth)
			hub.Add(client)
			l.Info("tap_client_connected", "remote", conn.RemoteAddr().String())
			eventtap.NewWriter(hub, client, conn, l, tapFlushInterval, wg, ctx.Done())
		}
	}()

	return ln.Addr(), nil
}

// tapObserver adapts hub into a datagramObserver so it can be wired into
// initEndpoint alongside other observers such as the Redis bridge.
func tapObserver(hub *eventtap.Hub) datagramObserver {
	return func(sesn uint16, dgType uint8, payload []byte) {
		hub.Broadcast(eventtap.Event{
			Session: sesn,
			Type:    dgType,
			Payload: append([]byte(nil), payload...),
			At:      time.Now(),
		})
		metrics.IncTapEvent()
	}
}
