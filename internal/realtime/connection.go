package realtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/observability"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultPingInterval   = (pongWait * 9) / 10
	defaultSendBuffer     = 32
	defaultDialTimeout    = 10 * time.Second
)

var (
	// ErrNotOpen is returned by Connection.Send when no channel is open.
	ErrNotOpen = errors.New("channel not open")
	// ErrSendQueueFull is returned when the writer cannot keep up.
	ErrSendQueueFull = errors.New("channel send queue full")
)

// Phase is the lifecycle phase of a room channel.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseOpen       Phase = "open"
	PhaseClosed     Phase = "closed"
)

// ConnectionState is a copy of the observable channel status.
type ConnectionState struct {
	Phase             Phase
	LastError         string
	ReconnectAttempts int
	TornDown          bool
}

// Credential supplies the token appended to the channel endpoint. It is resolved on every dial.
type Credential interface {
	Token(ctx context.Context) (string, error)
}

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	RoomID     int
	WSBaseURL  string
	Credential Credential
	Dialer     Dialer

	ReconnectDelay time.Duration
	// MaxReconnectAttempts caps consecutive reconnects; zero retries forever.
	MaxReconnectAttempts int
	PingInterval         time.Duration
	DialTimeout          time.Duration
	SendBuffer           int
}

// ConnectionEvents are invoked from the connection goroutines. Frames are delivered one at a
// time in arrival order.
type ConnectionEvents struct {
	OnFrame func(InboundFrame)
	// OnOpen reports a new live channel; recovered is true when it replaces one lost to an
	// abnormal closure.
	OnOpen        func(recovered bool)
	OnStateChange func(ConnectionState)
}

// Connection keeps one channel to a room alive, reconnecting after abnormal closures.
type Connection struct {
	opts   ConnectionOptions
	events ConnectionEvents
	logger zerolog.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          ConnectionState
	generation     uint64
	started        bool
	channel        Channel
	outbound       chan []byte
	done           chan struct{}
	reconnectTimer *time.Timer
	recovering     bool
}

// NewConnection builds an idle connection. Nothing is dialed until Open.
func NewConnection(opts ConnectionOptions, events ConnectionEvents, logger zerolog.Logger) *Connection {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Dialer == nil {
		opts.Dialer = NewGorillaDialer(opts.DialTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		opts:   opts,
		events: events,
		logger: logger.With().Str("component", "chat_connection").Int("room_id", opts.RoomID).Logger(),
		tracer: otel.Tracer("github.com/JosephHidalgo/AcademicProjectManager/internal/realtime/connection"),
		ctx:    ctx,
		cancel: cancel,
		state:  ConnectionState{Phase: PhaseClosed},
	}
}

// Open starts the first dial. A base URL that cannot produce an endpoint leaves the connection
// closed with the error recorded and no retry.
func (c *Connection) Open(ctx context.Context) {
	_, span := c.tracer.Start(ctx, "chat.connection.open", trace.WithAttributes(
		attribute.Int("chat.room_id", c.opts.RoomID),
	))
	defer span.End()

	c.mu.Lock()
	if c.state.TornDown || c.started {
		c.mu.Unlock()
		return
	}
	c.started = true

	if _, err := BuildEndpoint(c.opts.WSBaseURL, c.opts.RoomID, ""); err != nil {
		span.RecordError(err)
		c.state.Phase = PhaseClosed
		c.state.LastError = err.Error()
		state := c.state
		c.mu.Unlock()

		c.logger.Error().Err(err).Msg("cannot build channel endpoint")
		observability.ConnectionAttempts().WithLabelValues("invalid_endpoint").Inc()
		c.notify(state)
		return
	}

	c.generation++
	gen := c.generation
	c.state.Phase = PhaseConnecting
	state := c.state
	c.mu.Unlock()

	c.notify(state)
	go c.dial(gen)
}

// State returns a copy of the current state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Phase returns the current phase.
func (c *Connection) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Phase
}

// Send queues an outbound frame on the live channel.
func (c *Connection) Send(frame OutboundFrame) error {
	data, err := EncodeFrame(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseOpen || c.outbound == nil {
		return ErrNotOpen
	}

	select {
	case c.outbound <- data:
		observability.FramesSent().WithLabelValues(frame.FrameType()).Inc()
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close tears the connection down for good: the reconnect timer is cancelled and the live
// channel, if any, is closed with code 1000. Safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.state.TornDown {
		c.mu.Unlock()
		return
	}
	c.state.TornDown = true
	c.state.Phase = PhaseClosed
	c.generation++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	channel := c.detachLocked()
	state := c.state
	c.mu.Unlock()

	c.cancel()
	if channel != nil {
		if err := channel.Close(CloseNormal, ""); err != nil {
			c.logger.Debug().Err(err).Msg("channel close returned error")
		}
	}
	c.logger.Debug().Msg("connection torn down")
	c.notify(state)
}

func (c *Connection) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
	defer cancel()

	channel, err := c.dialOnce(ctx)

	c.mu.Lock()
	if gen != c.generation || c.state.TornDown {
		c.mu.Unlock()
		if channel != nil {
			_ = channel.Close(CloseNormal, "")
		}
		return
	}

	if err != nil {
		observability.ConnectionAttempts().WithLabelValues("failure").Inc()
		c.logger.Warn().Err(err).Msg("channel dial failed")
		state := c.closedLocked(CloseAbnormal, err)
		c.mu.Unlock()
		c.notify(state)
		return
	}

	recovered := c.recovering
	c.recovering = false
	c.channel = channel
	c.outbound = make(chan []byte, c.opts.SendBuffer)
	c.done = make(chan struct{})
	c.state.Phase = PhaseOpen
	c.state.LastError = ""
	c.state.ReconnectAttempts = 0
	outbound, done := c.outbound, c.done
	state := c.state
	c.mu.Unlock()

	observability.ConnectionAttempts().WithLabelValues("success").Inc()
	c.logger.Info().Bool("recovered", recovered).Msg("channel open")

	go c.writeLoop(channel, outbound, done)

	if c.events.OnOpen != nil {
		c.events.OnOpen(recovered)
	}
	c.notify(state)

	go c.readLoop(gen, channel)
}

func (c *Connection) dialOnce(ctx context.Context) (Channel, error) {
	token := ""
	if c.opts.Credential != nil {
		resolved, err := c.opts.Credential.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve credential: %w", err)
		}
		token = resolved
	}

	endpoint, err := BuildEndpoint(c.opts.WSBaseURL, c.opts.RoomID, token)
	if err != nil {
		return nil, err
	}
	return c.opts.Dialer.Dial(ctx, endpoint)
}

func (c *Connection) readLoop(gen uint64, channel Channel) {
	for {
		data, err := channel.ReadFrame()
		if err != nil {
			c.channelClosed(gen, channel, err)
			return
		}

		c.mu.Lock()
		current := gen == c.generation && !c.state.TornDown
		c.mu.Unlock()
		if !current {
			return
		}

		c.dispatch(data)
	}
}

func (c *Connection) dispatch(data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		observability.FramesDropped().WithLabelValues("malformed").Inc()
		c.logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}
	if unknown, ok := frame.(UnknownFrame); ok {
		observability.FramesDropped().WithLabelValues("unknown").Inc()
		c.logger.Debug().Str("type", unknown.Type).Msg("dropping unknown frame")
		return
	}

	observability.FramesReceived().WithLabelValues(frame.FrameType()).Inc()
	if c.events.OnFrame == nil {
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			observability.FramesDropped().WithLabelValues("handler_panic").Inc()
			c.logger.Error().Interface("panic", recovered).Str("type", frame.FrameType()).Msg("frame handler panicked")
		}
	}()
	c.events.OnFrame(frame)
}

func (c *Connection) writeLoop(channel Channel, outbound <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-outbound:
			if err := channel.WriteFrame(data); err != nil {
				c.logger.Warn().Err(err).Msg("channel write failed")
				return
			}
		case <-ticker.C:
			if err := channel.Ping(); err != nil {
				c.logger.Debug().Err(err).Msg("channel ping failed")
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Connection) channelClosed(gen uint64, channel Channel, err error) {
	code := CloseCode(err)

	c.mu.Lock()
	if gen != c.generation || c.state.TornDown {
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	state := c.closedLocked(code, err)
	c.mu.Unlock()

	_ = channel.Close(CloseNormal, "")
	c.logger.Info().Int("code", code).Str("phase", string(state.Phase)).Msg("channel closed")
	c.notify(state)
}

// closedLocked moves to closed and arms a reconnect unless the closure was normal or the
// attempt cap is reached.
func (c *Connection) closedLocked(code int, cause error) ConnectionState {
	c.state.Phase = PhaseClosed

	if code == CloseNormal {
		c.state.LastError = ""
		return c.state
	}

	c.recovering = true
	c.state.LastError = describeClosure(code, cause)

	if c.opts.MaxReconnectAttempts > 0 && c.state.ReconnectAttempts >= c.opts.MaxReconnectAttempts {
		c.logger.Warn().Int("attempts", c.state.ReconnectAttempts).Msg("reconnect attempts exhausted")
		return c.state
	}

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.state.ReconnectAttempts++
	gen := c.generation
	c.reconnectTimer = time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.reconnect(gen)
	})
	observability.ReconnectsScheduled().Inc()
	return c.state
}

func (c *Connection) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state.TornDown || c.state.Phase != PhaseClosed {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.generation++
	next := c.generation
	c.state.Phase = PhaseConnecting
	state := c.state
	c.mu.Unlock()

	c.logger.Debug().Int("attempt", state.ReconnectAttempts).Msg("reconnecting")
	c.notify(state)
	c.dial(next)
}

func (c *Connection) detachLocked() Channel {
	channel := c.channel
	c.channel = nil
	c.outbound = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	return channel
}

func (c *Connection) notify(state ConnectionState) {
	if c.events.OnStateChange != nil {
		c.events.OnStateChange(state)
	}
}

func describeClosure(code int, cause error) string {
	if cause == nil {
		return "channel closed with code " + strconv.Itoa(code)
	}
	return fmt.Sprintf("channel closed with code %d: %v", code, cause)
}
