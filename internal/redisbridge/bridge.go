package redisbridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Keys used on the Redis side; kept small and explicit rather than
// configurable, since the gateway owns this schema.
const (
	keyLastDatagram = "sbmp:last_datagram"
	channelEvents   = "sbmp:events"
	listOutbound    = "sbmp:outbound"
)

// PublishDatagram mirrors one decoded datagram into Redis: it stores a hex
// snapshot in a hash and publishes a notification on the events channel.
func (c *Client) PublishDatagram(ctx context.Context, session uint16, dgType uint8, payload []byte) error {
	value := fmt.Sprintf("%04x:%02x:%s", session, dgType, hex.EncodeToString(payload))
	field := fmt.Sprintf("%04x", session)
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, keyLastDatagram, field, value)
	pipe.Publish(ctx, channelEvents, fmt.Sprintf("%s:%s", field, value))
	_, err := pipe.Exec(ctx)
	return err
}

// OutboundSend is a send request popped off the outbound list.
type OutboundSend struct {
	Type    uint8
	Payload []byte
}

// PollOutbound blocks up to timeout for the next outbound send request
// queued by another process, decoding it from the "type:hexpayload" wire
// form LPush callers are expected to use.
func (c *Client) PollOutbound(ctx context.Context, timeout time.Duration) (*OutboundSend, error) {
	result, err := c.BRPop(ctx, timeout, listOutbound)
	if err != nil || result == nil {
		return nil, err
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("redisbridge: unexpected BRPOP result shape: %v", result)
	}
	return parseOutbound(result[1])
}

func parseOutbound(raw string) (*OutboundSend, error) {
	typeHex, payloadHex, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, fmt.Errorf("redisbridge: malformed outbound entry %q", raw)
	}
	typeVal, err := strconv.ParseUint(typeHex, 16, 8)
	if err != nil {
		return nil, fmt.Errorf("redisbridge: bad type field %q: %w", typeHex, err)
	}
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return nil, fmt.Errorf("redisbridge: bad payload field %q: %w", payloadHex, err)
	}
	return &OutboundSend{Type: uint8(typeVal), Payload: payload}, nil
}

// RunOutboundLoop polls the outbound list until ctx is done, handing each
// decoded request to send.
func RunOutboundLoop(ctx context.Context, c *Client, pollTimeout time.Duration, logger *slog.Logger, send func(dgType uint8, payload []byte) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		req, err := c.PollOutbound(ctx, pollTimeout)
		if err != nil {
			logger.Warn("outbound_poll_error", "error", err)
			continue
		}
		if req == nil {
			continue
		}
		if err := send(req.Type, req.Payload); err != nil {
			logger.Warn("outbound_send_failed", "type", req.Type, "error", err)
		}
	}
}

// EventChannel returns the pub/sub channel name other processes can
// subscribe to for live datagram notifications.
func EventChannel() string { return channelEvents }
