package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/observability"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/repository"
)

const markReadTimeout = 10 * time.Second

var (
	// ErrRoomClosed is returned for operations on a closed subscription.
	ErrRoomClosed = errors.New("room subscription closed")
	// ErrRoomNotOpen is returned when no subscription exists for a room.
	ErrRoomNotOpen = errors.New("room not open")
	// ErrInvalidRoom is returned for non-positive room identifiers.
	ErrInvalidRoom = errors.New("invalid room id")
)

// ManagerBackend is the HTTP surface shared by all subscriptions.
type ManagerBackend interface {
	RoomBackend
	MarkRoomRead(ctx context.Context, roomID int) error
}

// ManagerOptions carries the settings applied to every room.
type ManagerOptions struct {
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
	// Directory, when set, has its unread counter zeroed when a room opens.
	Directory *Directory
}

// Manager keeps at most one subscription per room.
type Manager struct {
	backend ManagerBackend
	opts    ManagerOptions
	logger  zerolog.Logger
	baseLog zerolog.Logger

	mu    sync.Mutex
	rooms map[int]*Room
}

// NewManager creates an empty room registry.
func NewManager(backend ManagerBackend, opts ManagerOptions, logger zerolog.Logger) *Manager {
	if opts.Validator == nil {
		opts.Validator = validator.New()
	}
	return &Manager{
		backend: backend,
		opts:    opts,
		logger:  logger.With().Str("component", "chat_manager").Logger(),
		baseLog: logger,
		rooms:   make(map[int]*Room),
	}
}

// Open returns the subscription for roomID, starting one if needed. A newly opened room is
// marked read on the backend in the background and its directory counter drops to zero.
func (m *Manager) Open(ctx context.Context, roomID int) (*Room, error) {
	if roomID <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRoom, roomID)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	if existing, ok := m.rooms[roomID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	room := NewRoom(m.backend, RoomOptions{
		RoomID:               roomID,
		WSBaseURL:            m.opts.WSBaseURL,
		Credential:           m.opts.Credential,
		Dialer:               m.opts.Dialer,
		ReconnectDelay:       m.opts.ReconnectDelay,
		MaxReconnectAttempts: m.opts.MaxReconnectAttempts,
		PollInterval:         m.opts.PollInterval,
		PageSize:             m.opts.PageSize,
		TypingTimeout:        m.opts.TypingTimeout,
		Cache:                m.opts.Cache,
		Publisher:            m.opts.Publisher,
		Validator:            m.opts.Validator,
	}, m.baseLog)
	m.rooms[roomID] = room
	m.mu.Unlock()

	room.Start(ctx)
	observability.OpenRooms().Inc()
	m.logger.Info().Int("room_id", roomID).Str("subscription_id", room.ID()).Msg("room opened")

	if m.opts.Directory != nil {
		m.opts.Directory.MarkRead(roomID)
	}
	go m.markRead(context.WithoutCancel(ctx), roomID)

	return room, nil
}

// Get returns the open subscription for roomID.
func (m *Manager) Get(roomID int) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

// Close tears down the subscription for roomID. It reports whether one existed.
func (m *Manager) Close(roomID int) bool {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if ok {
		delete(m.rooms, roomID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	room.Close()
	observability.OpenRooms().Dec()
	m.logger.Info().Int("room_id", roomID).Msg("room closed")
	return true
}

// CloseAll tears down every subscription.
func (m *Manager) CloseAll() {
	for _, roomID := range m.OpenRoomIDs() {
		m.Close(roomID)
	}
}

// OpenRoomIDs lists open rooms in ascending order.
func (m *Manager) OpenRoomIDs() []int {
	m.mu.Lock()
	ids := make([]int, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Ints(ids)
	return ids
}

func (m *Manager) markRead(ctx context.Context, roomID int) {
	ctx, cancel := context.WithTimeout(ctx, markReadTimeout)
	defer cancel()

	if err := m.backend.MarkRoomRead(ctx, roomID); err != nil {
		m.logger.Warn().Err(err).Int("room_id", roomID).Msg("failed to mark room read")
	}
}
