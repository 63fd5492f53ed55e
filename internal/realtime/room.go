package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/repository"
)

const publishTimeout = 2 * time.Second

// RoomBackend is the HTTP surface a room subscription needs.
type RoomBackend interface {
	MessageLister
	MessagePoster
}

// RoomEvent is relayed to local listeners when a room receives something worth surfacing.
type RoomEvent struct {
	Source  string              `json:"source"`
	RoomID  int                 `json:"room_id"`
	Type    string              `json:"type"`
	Message *models.ChatMessage `json:"message,omitempty"`
	SentAt  time.Time           `json:"sent_at"`
}

// EventPublisher fans room events out to other local processes.
type EventPublisher interface {
	Publish(ctx context.Context, event RoomEvent) error
}

// RoomOptions configures a Room.
type RoomOptions struct {
	RoomID               int
	WSBaseURL            string
	Credential           Credential
	Dialer               Dialer
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	PollInterval         time.Duration
	PageSize             int
	TypingTimeout        time.Duration
	Cache                repository.HistoryCache
	Publisher            EventPublisher
	Validator            *validator.Validate
}

// RoomSnapshot is a consistent copy of everything the UI renders for a room.
type RoomSnapshot struct {
	RoomID         int
	SubscriptionID string
	Connection     ConnectionState
	Messages       []models.ChatMessage
	Typing         []Participant
	Online         []Participant
}

// Room is one live subscription: the channel, both message feeds, presence and the send
// pipeline of a single chat room.
type Room struct {
	id        string
	roomID    int
	conn      *Connection
	poller    *Poller
	sender    *SendPipeline
	feed      *Reconciler
	presence  *PresenceTracker
	publisher EventPublisher
	logger    zerolog.Logger

	mu       sync.Mutex
	started  bool
	closed   bool
	watchers map[uint64]chan struct{}
	nextID   uint64
}

// NewRoom assembles a subscription. Nothing runs until Start.
func NewRoom(backend RoomBackend, opts RoomOptions, logger zerolog.Logger) *Room {
	room := &Room{
		id:        uuid.NewString(),
		roomID:    opts.RoomID,
		feed:      NewReconciler(),
		presence:  NewPresenceTracker(),
		publisher: opts.Publisher,
		watchers:  make(map[uint64]chan struct{}),
	}
	room.logger = logger.With().Str("component", "chat_room").Int("room_id", opts.RoomID).Str("subscription_id", room.id).Logger()

	room.conn = NewConnection(ConnectionOptions{
		RoomID:               opts.RoomID,
		WSBaseURL:            opts.WSBaseURL,
		Credential:           opts.Credential,
		Dialer:               opts.Dialer,
		ReconnectDelay:       opts.ReconnectDelay,
		MaxReconnectAttempts: opts.MaxReconnectAttempts,
	}, ConnectionEvents{
		OnFrame:       room.handleFrame,
		OnOpen:        room.handleOpen,
		OnStateChange: func(ConnectionState) { room.changed() },
	}, logger)

	room.poller = NewPoller(backend, PollerOptions{
		RoomID:   opts.RoomID,
		PageSize: opts.PageSize,
		Interval: opts.PollInterval,
		Phase:    room.conn.Phase,
		OnResult: room.handlePolled,
		Cache:    opts.Cache,
	}, logger)

	room.sender = NewSendPipeline(room.conn, backend, room.poller, SendPipelineOptions{
		RoomID:        opts.RoomID,
		TypingTimeout: opts.TypingTimeout,
		Validator:     opts.Validator,
	}, logger)

	return room
}

// ID is the unique identity of this subscription.
func (r *Room) ID() string { return r.id }

// RoomID is the chat room this subscription follows.
func (r *Room) RoomID() int { return r.roomID }

// Start opens the channel and begins pulling history.
func (r *Room) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.poller.Start()
	r.conn.Open(ctx)
}

// Snapshot returns the merged view, presence and channel state.
func (r *Room) Snapshot() RoomSnapshot {
	return RoomSnapshot{
		RoomID:         r.roomID,
		SubscriptionID: r.id,
		Connection:     r.conn.State(),
		Messages:       r.feed.View(),
		Typing:         r.presence.Typing(),
		Online:         r.presence.Online(),
	}
}

// Send delivers a message through the channel or the HTTP fallback.
func (r *Room) Send(ctx context.Context, content string) error {
	if r.isClosed() {
		return ErrRoomClosed
	}
	return r.sender.Send(ctx, content)
}

// SetTyping emits the local typing signal.
func (r *Room) SetTyping(isTyping bool) {
	if r.isClosed() {
		return
	}
	r.sender.SetTyping(isTyping)
}

// MarkRead acknowledges messages over the channel.
func (r *Room) MarkRead(messageIDs []int) {
	if r.isClosed() {
		return
	}
	r.sender.MarkRead(messageIDs)
}

// Refresh pulls history immediately.
func (r *Room) Refresh(ctx context.Context) error {
	if r.isClosed() {
		return ErrRoomClosed
	}
	return r.poller.Refresh(ctx)
}

// Watch returns a channel signalled whenever the snapshot may have changed. Signals are
// coalesced. The channel is closed when the room closes or cancel is called.
func (r *Room) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := r.nextID
	r.nextID++
	r.watchers[id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			if existing, ok := r.watchers[id]; ok {
				delete(r.watchers, id)
				close(existing)
			}
			r.mu.Unlock()
		})
	}
	return ch, cancel
}

// Close tears the subscription down. No reconnect or typing timer fires afterwards and all
// ephemeral state is discarded.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.sender.Stop()
	r.conn.Close()
	r.poller.Stop()
	r.feed.Reset()
	r.presence.Reset()

	r.mu.Lock()
	for id, ch := range r.watchers {
		close(ch)
		delete(r.watchers, id)
	}
	r.mu.Unlock()

	r.logger.Debug().Msg("room subscription closed")
}

func (r *Room) handleOpen(recovered bool) {
	if recovered {
		r.presence.Reset()
	}
}

func (r *Room) handlePolled(messages []models.ChatMessage) {
	if r.isClosed() {
		return
	}
	r.feed.SetPolled(messages)
	r.changed()
}

func (r *Room) handleFrame(frame InboundFrame) {
	if r.isClosed() {
		return
	}

	switch f := frame.(type) {
	case ChatMessageFrame:
		message := f.Message(r.roomID)
		r.feed.AppendPushed(message)
		if !message.IsOwnMessage {
			r.publish(RoomEvent{Type: FrameChatMessage, Message: &message})
		}
	case TypingFrame:
		if !r.presence.OnTyping(f.UserID, f.UserName, f.IsTyping) {
			return
		}
	case UserJoinFrame:
		if !r.presence.OnJoin(f.UserID, f.UserName) {
			return
		}
	case UserLeaveFrame:
		if !r.presence.OnLeave(f.UserID) {
			return
		}
	case MessagesReadFrame:
		if r.feed.MarkRead(f.MessageIDs) == 0 {
			return
		}
	case ErrorFrame:
		r.logger.Warn().Str("message", f.Message).Msg("server reported channel error")
		return
	default:
		return
	}
	r.changed()
}

func (r *Room) publish(event RoomEvent) {
	if r.publisher == nil {
		return
	}
	event.Source = r.id
	event.RoomID = r.roomID
	event.SentAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn().Err(err).Msg("failed to relay room event")
	}
}

func (r *Room) changed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
