package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sbmp-io/sbmp-gateway/internal/metrics"
	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/datagram"
	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/frame"
	"github.com/sbmp-io/sbmp-gateway/internal/sbmp/session"
	"github.com/sbmp-io/sbmp-gateway/internal/serialport"
)

// openSerialPort is a hook for tests.
var openSerialPort = serialport.Open

// datagramObserver is notified of every datagram that falls through to the
// endpoint's default handler (i.e. every datagram this binary doesn't
// itself hold a dialog listener for).
type datagramObserver func(session uint16, dgType uint8, payload []byte)

// initEndpoint opens the serial device, builds a session.Endpoint over it
// and wires the frame codec's tx sink to an async write queue. The
// returned cleanup stops the RX loop and closes the port.
func initEndpoint(ctx context.Context, cfg *appConfig, observers []datagramObserver, onHandshake func(session.HandshakeStatus), l *slog.Logger, wg *sync.WaitGroup) (*session.Endpoint, func(), error) {
	sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)

	ep := session.NewEndpoint(cfg.bufferSize, cfg.listenerCapacity, func(dg datagram.Datagram) {
		for _, obs := range observers {
			obs(dg.Session, dg.Type, dg.Payload)
		}
	})
	ep.SetDatagramRxHook(func(dg datagram.Datagram) {
		metrics.IncFrameRx()
		metrics.IncDatagramRx(fmt.Sprintf("%d", dg.Type))
	})

	var cksum frame.CksumType
	switch cfg.checksumPref {
	case "none":
		cksum = frame.CksumNone
	default:
		cksum = frame.CksumCRC32
	}
	ep.SetPreferredChecksum(cksum)

	ep.Frame().SetErrorHook(func(kind frame.ErrorKind) {
		metrics.IncFrameRxError(kind.String())
	})
	ep.Frame().SetSentHook(metrics.IncFrameTx)
	ep.SetHandshakeCallback(func(status session.HandshakeStatus) {
		switch status {
		case session.HskSuccess:
			metrics.IncHandshakeSuccess()
			l.Info("handshake_settled", "origin", ep.Origin())
		case session.HskConflict:
			metrics.IncHandshakeConflict()
			l.Warn("handshake_conflict")
		}
		if onHandshake != nil {
			onHandshake(status)
		}
	})

	writer := serialport.NewTXWriter(ctx, sp, cfg.txQueueSize, l, nil)
	ep.SetSink(writer.SendByte)
	ep.Enable(true, true)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end")
		serialport.RunRxLoop(ctx, sp, func(b byte) { ep.FeedByte(b) }, l, nil)
	}()

	cleanup := func() {
		writer.Close()
		_ = sp.Close()
	}
	return ep, cleanup, nil
}
