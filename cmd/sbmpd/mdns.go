package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/frame"
)

const mdnsServiceType = "_sbmp._tcp"

func cksumName(t frame.CksumType) string {
	if t == frame.CksumNone {
		return "none"
	}
	return "crc32"
}

// startMDNS registers the gateway's debug tap port via mDNS, carrying the
// endpoint's own advertised buffer size and preferred checksum as TXT
// metadata, and returns a
// cleanup function. It is a no-op if mDNS is disabled or no tap port is
// bound, since the SBMP link itself is a point-to-point serial connection
// with nothing to discover.
func startMDNS(ctx context.Context, cfg *appConfig, tapPort int, bufferSize uint16, prefCksum frame.CksumType) (func(), error) {
	if !cfg.mdnsEnable || tapPort == 0 {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("sbmp-gateway-%s", host)
	}
	meta := []string{
		"buffer_size=" + strconv.Itoa(int(bufferSize)),
		"pref_cksum=" + cksumName(prefCksum),
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", tapPort, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
