package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/realtime"
)

const defaultChannelBase = "academic"

// Handler consumes relayed room events.
type Handler func(event realtime.RoomEvent)

// Relay publishes room events to redis pub/sub and NATS so local notifiers can react to
// messages in rooms the UI is not looking at. Either transport may be nil.
type Relay struct {
	redis       *redis.Client
	redisPrefix string
	nats        *nats.Conn
	natsPrefix  string
	logger      zerolog.Logger
}

// New creates a relay. channelBase namespaces channels and subjects.
func New(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *Relay {
	if channelBase == "" {
		channelBase = defaultChannelBase
	}
	return &Relay{
		redis:       redisClient,
		redisPrefix: channelBase + ":chat:rooms",
		nats:        natsConn,
		natsPrefix:  strings.ReplaceAll(channelBase, ":", ".") + ".chat.rooms",
		logger:      logger.With().Str("component", "chat_relay").Logger(),
	}
}

// Enabled reports whether any transport is configured.
func (r *Relay) Enabled() bool {
	return r != nil && (r.redis != nil || r.nats != nil)
}

// RedisChannel returns the pub/sub channel for a room.
func (r *Relay) RedisChannel(roomID int) string {
	return fmt.Sprintf("%s:%d", r.redisPrefix, roomID)
}

// NATSSubject returns the subject for a room.
func (r *Relay) NATSSubject(roomID int) string {
	return fmt.Sprintf("%s.%d", r.natsPrefix, roomID)
}

// Publish sends the event on every configured transport.
func (r *Relay) Publish(ctx context.Context, event realtime.RoomEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var errs []error
	if r.redis != nil {
		if err := r.redis.Publish(ctx, r.RedisChannel(event.RoomID), payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis publish: %w", err))
		}
	}
	if r.nats != nil {
		if err := r.nats.Publish(r.NATSSubject(event.RoomID), payload); err != nil {
			errs = append(errs, fmt.Errorf("nats publish: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Listen delivers events from every room to handler until ctx is cancelled.
func (r *Relay) Listen(ctx context.Context, handler Handler) error {
	if !r.Enabled() {
		return nil
	}

	if r.redis != nil {
		pubsub := r.redis.PSubscribe(ctx, r.redisPrefix+":*")
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return fmt.Errorf("redis subscribe: %w", err)
		}
		go r.consumeRedis(ctx, pubsub, handler)
	}

	if r.nats != nil {
		sub, err := r.nats.Subscribe(r.natsPrefix+".*", func(msg *nats.Msg) {
			r.handle(msg.Data, handler)
		})
		if err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		go func() {
			<-ctx.Done()
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				r.logger.Warn().Err(err).Msg("failed to release nats subscription")
			}
		}()
	}
	return nil
}

func (r *Relay) consumeRedis(ctx context.Context, pubsub *redis.PubSub, handler Handler) {
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			r.logger.Error().Err(err).Msg("relay redis subscription closed")
			return
		}
		r.handle([]byte(msg.Payload), handler)
	}
}

func (r *Relay) handle(data []byte, handler Handler) {
	var event realtime.RoomEvent
	if err := json.Unmarshal(data, &event); err != nil {
		r.logger.Warn().Err(err).Msg("invalid relayed event")
		return
	}
	handler(event)
}
