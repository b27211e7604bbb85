package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sbmp-io/sbmp-gateway/internal/metrics"
	"github.com/sbmp-io/sbmp-gateway/internal/redisbridge"
	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/session"
)

// connectRedis dials Redis when enabled. It must happen before
// initEndpoint so the resulting client can be handed in as a
// datagramObserver; the outbound send loop is started separately once an
// Endpoint exists, via startRedisOutboundLoop.
func connectRedis(ctx context.Context, cfg *appConfig, l *slog.Logger) (*redisbridge.Client, func(), error) {
	if !cfg.redisEnable {
		return nil, func() {}, nil
	}
	rc, err := redisbridge.New(ctx, cfg.redisAddr, cfg.redisPass, cfg.redisDB, l)
	if err != nil {
		metrics.IncError(metrics.ErrRedisConnect)
		return nil, func() {}, err
	}
	l.Info("redis_connected", "addr", cfg.redisAddr)
	return rc, func() { _ = rc.Close() }, nil
}

// startRedisOutboundLoop polls rc's outbound list and drives every entry
// through ep.SendMessage.
func startRedisOutboundLoop(ctx context.Context, rc *redisbridge.Client, cfg *appConfig, ep *session.Endpoint, l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		redisbridge.RunOutboundLoop(ctx, rc, cfg.redisPollTO, l, func(dgType uint8, payload []byte) error {
			_, err := ep.SendMessage(dgType, payload)
			return err
		})
	}()
}

// redisDatagramTap returns a datagramObserver that mirrors every event into
// Redis; wire it in addition to (not instead of) the TCP debug tap.
func redisDatagramTap(ctx context.Context, rc *redisbridge.Client, l *slog.Logger) datagramObserver {
	return func(sesn uint16, dgType uint8, payload []byte) {
		if err := rc.PublishDatagram(ctx, sesn, dgType, payload); err != nil {
			metrics.IncError(metrics.ErrRedisCommand)
			l.Warn("redis_publish_failed", "error", err)
		}
	}
}
