package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// StreamTransport implements domain.Transport on a single Redis stream. All
// envelopes share one stream so a consumer applies them in delivery order.
// The consumer's position is persisted, so a restarted consumer resumes after
// the last applied entry.
type StreamTransport struct {
	c        *Client
	bus      domain.SignalBus
	stream   string
	consumer string
	batch    int
	block    time.Duration
	logger   *slog.Logger
}

var _ domain.Transport = (*StreamTransport)(nil)

// NewStreamTransport creates a transport on stream. consumer names the
// persisted read position.
func NewStreamTransport(c *Client, bus domain.SignalBus, stream, consumer string, logger *slog.Logger) *StreamTransport {
	return &StreamTransport{
		c:        c,
		bus:      bus,
		stream:   stream,
		consumer: consumer,
		batch:    64,
		block:    2 * time.Second,
		logger:   logger.With(slog.String("component", "stream_transport")),
	}
}

// Deliver appends env to the stream.
func (t *StreamTransport) Deliver(ctx context.Context, env domain.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis: encode envelope %s: %w", env.ID, err)
	}
	if _, err := t.bus.StreamAppend(ctx, t.stream, payload); err != nil {
		return err
	}
	return nil
}

func (t *StreamTransport) cursorKey() string {
	return t.c.Key("cursor:" + t.stream + ":" + t.consumer)
}

// Cursor returns the id of the last applied entry, "0" if none.
func (t *StreamTransport) Cursor(ctx context.Context) (string, error) {
	id, err := t.c.rdb.Get(ctx, t.cursorKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: read cursor: %w", err)
	}
	return id, nil
}

// Run applies envelopes in stream order until ctx ends. When handler fails
// the entry is retried after retry; undecodable entries are skipped.
func (t *StreamTransport) Run(ctx context.Context, handler domain.EnvelopeHandler, retry time.Duration) error {
	cursor, err := t.Cursor(ctx)
	if err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "stream consumer started",
		slog.String("stream", t.stream),
		slog.String("cursor", cursor),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := t.bus.StreamRead(ctx, t.stream, cursor, t.batch, t.block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.WarnContext(ctx, "stream read failed", slog.String("error", err.Error()))
			if !sleepCtx(ctx, retry) {
				return ctx.Err()
			}
			continue
		}

		for _, msg := range msgs {
			if err := t.apply(ctx, handler, msg); err != nil {
				t.logger.ErrorContext(ctx, "envelope apply failed",
					slog.String("entry", msg.ID),
					slog.String("error", err.Error()),
				)
				if !sleepCtx(ctx, retry) {
					return ctx.Err()
				}
				break
			}
			cursor = msg.ID
			if err := t.c.rdb.Set(ctx, t.cursorKey(), cursor, 0).Err(); err != nil {
				t.logger.WarnContext(ctx, "cursor save failed",
					slog.String("entry", msg.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (t *StreamTransport) apply(ctx context.Context, handler domain.EnvelopeHandler, msg domain.StreamMessage) error {
	var env domain.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		t.logger.WarnContext(ctx, "skipping undecodable envelope",
			slog.String("entry", msg.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return handler(ctx, env)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
