package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/dto"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/observability"
)

const defaultTypingTimeout = 3 * time.Second

var (
	// ErrEmptyMessage is returned for content that is blank after trimming.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrInvalidMessage is returned for content rejected by validation.
	ErrInvalidMessage = errors.New("message content is invalid")
	// ErrFallbackFailed wraps a failed HTTP delivery.
	ErrFallbackFailed = errors.New("fallback delivery failed")
)

// FrameWriter is the part of a Connection the send pipeline needs.
type FrameWriter interface {
	Phase() Phase
	Send(frame OutboundFrame) error
}

// MessagePoster persists a message over HTTP.
type MessagePoster interface {
	SendMessage(ctx context.Context, roomID int, payload dto.SendMessageRequest) (models.ChatMessage, error)
}

// Refresher re-pulls room history.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// SendPipelineOptions configures a SendPipeline.
type SendPipelineOptions struct {
	RoomID        int
	TypingTimeout time.Duration
	Validator     *validator.Validate
}

// SendPipeline routes outgoing messages over the channel when it is open and over HTTP
// otherwise, and owns the local typing timer.
type SendPipeline struct {
	channel   FrameWriter
	poster    MessagePoster
	refresher Refresher
	opts      SendPipelineOptions
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu          sync.Mutex
	typingTimer *time.Timer
	typingGen   uint64
	stopped     bool
}

// NewSendPipeline wires a send pipeline. refresher may be nil.
func NewSendPipeline(channel FrameWriter, poster MessagePoster, refresher Refresher, opts SendPipelineOptions, logger zerolog.Logger) *SendPipeline {
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = defaultTypingTimeout
	}
	validate := opts.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &SendPipeline{
		channel:   channel,
		poster:    poster,
		refresher: refresher,
		opts:      opts,
		validator: validate,
		logger:    logger.With().Str("component", "chat_sender").Int("room_id", opts.RoomID).Logger(),
		tracer:    otel.Tracer("github.com/JosephHidalgo/AcademicProjectManager/internal/realtime/sender"),
	}
}

// Send delivers content. With the channel open exactly one chat_message frame is queued and
// no HTTP request is made; otherwise exactly one fallback POST is issued followed by a history
// refresh. Only fallback failures are returned.
func (s *SendPipeline) Send(ctx context.Context, content string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	request := dto.SendMessageRequest{Content: content, MessageType: string(models.MessageKindText)}
	if err := s.validator.Struct(request); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if s.channel.Phase() == PhaseOpen {
		frame := SendChatFrame{Content: request.Content, MessageType: request.MessageType}
		if err := s.channel.Send(frame); err != nil {
			s.logger.Warn().Err(err).Msg("failed to queue chat message on open channel")
		}
		return nil
	}

	return s.sendFallback(ctx, request)
}

func (s *SendPipeline) sendFallback(ctx context.Context, request dto.SendMessageRequest) error {
	spanCtx, span := s.tracer.Start(ctx, "chat.send.fallback", trace.WithAttributes(
		attribute.Int("chat.room_id", s.opts.RoomID),
	))
	defer span.End()

	message, err := s.poster.SendMessage(spanCtx, s.opts.RoomID, request)
	if err != nil {
		span.RecordError(err)
		observability.FallbackSends().WithLabelValues("failure").Inc()
		s.logger.Warn().Err(err).Msg("fallback delivery failed")
		return fmt.Errorf("%w: %w", ErrFallbackFailed, err)
	}
	observability.FallbackSends().WithLabelValues("success").Inc()
	s.logger.Debug().Int("message_id", message.ID).Msg("message delivered over http")

	if s.refresher != nil {
		if err := s.refresher.Refresh(spanCtx); err != nil {
			s.logger.Warn().Err(err).Msg("history refresh after fallback send failed")
		}
	}
	return nil
}

// SetTyping emits the local typing signal. It does nothing unless the channel is open. Any
// armed stop timer is cancelled; a true signal arms a new one that sends a single stop frame
// after the typing timeout.
func (s *SendPipeline) SetTyping(isTyping bool) {
	if s.channel.Phase() != PhaseOpen {
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.cancelTypingLocked()
	if isTyping {
		gen := s.typingGen
		s.typingTimer = time.AfterFunc(s.opts.TypingTimeout, func() {
			s.expireTyping(gen)
		})
	}
	s.mu.Unlock()

	s.sendTyping(isTyping)
}

func (s *SendPipeline) expireTyping(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.typingGen {
		s.mu.Unlock()
		return
	}
	s.typingTimer = nil
	s.typingGen++
	s.mu.Unlock()

	s.sendTyping(false)
}

func (s *SendPipeline) sendTyping(isTyping bool) {
	if err := s.channel.Send(SendTypingFrame{IsTyping: isTyping}); err != nil {
		s.logger.Debug().Err(err).Bool("is_typing", isTyping).Msg("typing frame not sent")
	}
}

// MarkRead acknowledges messages over the channel. It does nothing unless the channel is open.
func (s *SendPipeline) MarkRead(messageIDs []int) {
	if len(messageIDs) == 0 || s.channel.Phase() != PhaseOpen {
		return
	}
	ids := append([]int(nil), messageIDs...)
	if err := s.channel.Send(MarkReadFrame{MessageIDs: ids}); err != nil {
		s.logger.Debug().Err(err).Msg("mark_read frame not sent")
	}
}

// Stop cancels the typing timer. Later SetTyping calls are ignored.
func (s *SendPipeline) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancelTypingLocked()
	s.mu.Unlock()
}

func (s *SendPipeline) cancelTypingLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typingGen++
}
