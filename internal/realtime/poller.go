package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/dto"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/observability"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/repository"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultPollTimeout  = 15 * time.Second
)

// MessageLister fetches a page of room history.
type MessageLister interface {
	ListMessages(ctx context.Context, query dto.MessagesQuery) (dto.MessagesPage, error)
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	RoomID   int
	PageSize int
	Interval time.Duration
	Timeout  time.Duration
	// Phase reports the channel phase; interval polls are skipped while it is open.
	Phase func() Phase
	// OnResult receives every successful page.
	OnResult func([]models.ChatMessage)
	// Cache, when set, seeds the feed before the first fetch and stores each page.
	Cache repository.HistoryCache
}

// Poller keeps the pulled feed of a room fresh. It fetches once on Start and then on every
// interval while the channel is not open.
type Poller struct {
	source MessageLister
	opts   PollerOptions
	logger zerolog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
	// issued numbers fetches; applied is the newest one delivered. Older results are discarded.
	issued  uint64
	applied uint64
}

// NewPoller creates a poller for one room.
func NewPoller(source MessageLister, opts PollerOptions, logger zerolog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultPollTimeout
	}
	return &Poller{
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "chat_poller").Int("room_id", opts.RoomID).Logger(),
		tracer: otel.Tracer("github.com/JosephHidalgo/AcademicProjectManager/internal/realtime/poller"),
		stop:   make(chan struct{}),
	}
}

// Start warms the feed from the cache, then runs the initial fetch and the interval loop.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	if p.opts.Cache != nil {
		if cached, ok := p.opts.Cache.Load(context.Background(), p.opts.RoomID); ok {
			p.deliver(0, cached)
		}
	}

	p.wg.Add(1)
	go p.loop()
}

// Refresh fetches immediately regardless of the channel phase.
func (p *Poller) Refresh(ctx context.Context) error {
	return p.fetch(ctx, "refresh")
}

// Stop ends the interval loop. A fetch already in flight completes but its result is dropped.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	_ = p.fetch(ctx, "initial")

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if p.opts.Phase != nil && p.opts.Phase() == PhaseOpen {
				continue
			}
			_ = p.fetch(ctx, "interval")
		}
	}
}

func (p *Poller) fetch(ctx context.Context, trigger string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.issued++
	seq := p.issued
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	spanCtx, span := p.tracer.Start(ctx, "chat.poll", trace.WithAttributes(
		attribute.Int("chat.room_id", p.opts.RoomID),
		attribute.String("chat.poll.trigger", trigger),
	))
	defer span.End()

	page, err := p.source.ListMessages(spanCtx, dto.MessagesQuery{
		RoomID:   p.opts.RoomID,
		PageSize: p.opts.PageSize,
	})
	if err != nil {
		span.RecordError(err)
		observability.Polls().WithLabelValues("failure").Inc()
		if !p.isClosed() {
			p.logger.Warn().Err(err).Str("trigger", trigger).Msg("history poll failed")
		}
		return err
	}
	observability.Polls().WithLabelValues("success").Inc()

	if !p.deliver(seq, page.Results) {
		return nil
	}
	if p.opts.Cache != nil {
		p.opts.Cache.Store(spanCtx, p.opts.RoomID, page.Results)
	}
	return nil
}

// deliver hands a page to the owner unless the poller was stopped meanwhile or a newer fetch
// already landed.
func (p *Poller) deliver(seq uint64, messages []models.ChatMessage) bool {
	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		p.logger.Debug().Msg("dropping poll result for closed room")
		return false
	case seq < p.applied:
		p.mu.Unlock()
		p.logger.Debug().Uint64("seq", seq).Msg("dropping stale poll result")
		return false
	}
	p.applied = seq
	p.mu.Unlock()

	if p.opts.OnResult != nil {
		p.opts.OnResult(messages)
	}
	return true
}

func (p *Poller) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
