package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/sbmp-io/sbmp-gateway/internal/eventtap"
	"github.com/sbmp-io/sbmp-gateway/internal/metrics"
	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/session"
)

// Helper implementations moved to dedicated files: version.go, config.go,
// logger.go, metrics_logger.go, mdns.go, backend.go, tap_server.go,
// redis_init.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("sbmpd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	rc, redisCleanup, rerr := connectRedis(ctx, cfg, l)
	if rerr != nil {
		l.Error("redis_connect_error", "error", rerr)
		return
	}
	defer redisCleanup()

	tap := eventtap.New()
	observers := []datagramObserver{tapObserver(tap)}
	if rc != nil {
		observers = append(observers, redisDatagramTap(ctx, rc, l))
	}

	var tapAddr net.Addr
	if cfg.tapListenAddr != "" {
		addr, terr := runTapServer(ctx, cfg.tapListenAddr, tap, cfg.tapPolicy, cfg.tapBuffer, l, &wg)
		if terr != nil {
			l.Error("tap_server_error", "error", terr)
			return
		}
		tapAddr = addr
		l.Info("tap_listening", "addr", tapAddr.String())
	}

	tapPort := 0
	if tapAddr != nil {
		if _, p, err := net.SplitHostPort(tapAddr.String()); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				tapPort = pn
			}
		}
	}

	var ep *session.Endpoint
	var cleanupMDNSOnce sync.Once
	var cleanupMDNS func()
	onHandshake := func(status session.HandshakeStatus) {
		if status != session.HskSuccess {
			return
		}
		cleanup, merr := startMDNS(ctx, cfg, tapPort, ep.BufferSize(), ep.PreferredChecksum())
		if merr != nil {
			l.Warn("mdns_start_failed", "error", merr)
			return
		}
		cleanupMDNS = cleanup
		l.Info("mdns_started", "service", mdnsServiceType, "port", tapPort)
	}

	ep, epCleanup, berr := initEndpoint(ctx, cfg, observers, onHandshake, l, &wg)
	if berr != nil {
		l.Error("endpoint_init_error", "error", berr)
		return
	}
	defer epCleanup()
	defer func() {
		cleanupMDNSOnce.Do(func() {
			if cleanupMDNS != nil {
				cleanupMDNS()
			}
		})
	}()

	if rc != nil {
		startRedisOutboundLoop(ctx, rc, cfg, ep, l, &wg)
	}

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	if _, err := ep.StartHandshake(); err != nil {
		l.Error("handshake_start_error", "error", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	wg.Wait()
}
