package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/dto"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
)

const defaultUnreadRefresh = 30 * time.Second

// DirectoryBackend is the HTTP surface behind the room list.
type DirectoryBackend interface {
	ListRooms(ctx context.Context) ([]models.ChatRoom, error)
	GetRoom(ctx context.Context, roomID int) (models.ChatRoom, error)
	ListRoomsByProject(ctx context.Context, projectID int) ([]models.ChatRoom, error)
	CreatePrivateChat(ctx context.Context, payload dto.CreatePrivateChatRequest) (models.ChatRoom, error)
	ListProjectMembers(ctx context.Context, projectID int) ([]models.ProjectMember, error)
}

// Directory caches the viewer's room list and its unread counters.
type Directory struct {
	backend   DirectoryBackend
	validator *validator.Validate
	interval  time.Duration
	logger    zerolog.Logger

	mu        sync.Mutex
	rooms     []models.ChatRoom
	refreshed time.Time
	running   bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewDirectory creates a directory refreshed every interval once started.
func NewDirectory(backend DirectoryBackend, validate *validator.Validate, interval time.Duration, logger zerolog.Logger) *Directory {
	if interval <= 0 {
		interval = defaultUnreadRefresh
	}
	if validate == nil {
		validate = validator.New()
	}
	return &Directory{
		backend:   backend,
		validator: validate,
		interval:  interval,
		logger:    logger.With().Str("component", "chat_directory").Logger(),
	}
}

// Start refreshes once and then on every interval until Stop.
func (d *Directory) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	stop := d.stop
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.Refresh(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("initial room refresh failed")
		}

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Refresh(ctx); err != nil {
					d.logger.Warn().Err(err).Msg("room refresh failed")
				}
			}
		}
	}()
}

// Stop ends periodic refreshing.
func (d *Directory) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	d.mu.Unlock()

	d.wg.Wait()
}

// Refresh reloads the room list.
func (d *Directory) Refresh(ctx context.Context) error {
	rooms, err := d.backend.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}

	d.mu.Lock()
	d.rooms = rooms
	d.refreshed = time.Now()
	d.mu.Unlock()
	return nil
}

// Rooms returns the cached room list.
func (d *Directory) Rooms() []models.ChatRoom {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.ChatRoom(nil), d.rooms...)
}

// Room returns a cached room, fetching it from the backend on a miss.
func (d *Directory) Room(ctx context.Context, roomID int) (models.ChatRoom, error) {
	d.mu.Lock()
	for _, room := range d.rooms {
		if room.ID == roomID {
			d.mu.Unlock()
			return room, nil
		}
	}
	d.mu.Unlock()

	room, err := d.backend.GetRoom(ctx, roomID)
	if err != nil {
		return models.ChatRoom{}, err
	}
	d.upsert(room)
	return room, nil
}

// TotalUnread sums the unread counters of all cached rooms.
func (d *Directory) TotalUnread() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	total := 0
	for _, room := range d.rooms {
		total += room.UnreadCount
	}
	return total
}

// MarkRead optimistically zeroes the unread counter of a room.
func (d *Directory) MarkRead(roomID int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.rooms {
		if d.rooms[i].ID == roomID {
			d.rooms[i].UnreadCount = 0
			return
		}
	}
}

// RefreshedAt reports when the list was last loaded.
func (d *Directory) RefreshedAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshed
}

// ByProject lists the rooms of a project.
func (d *Directory) ByProject(ctx context.Context, projectID int) ([]models.ChatRoom, error) {
	if projectID <= 0 {
		return nil, fmt.Errorf("invalid project id %d", projectID)
	}
	return d.backend.ListRoomsByProject(ctx, projectID)
}

// CreatePrivate opens, or reuses, a private room with another project member.
func (d *Directory) CreatePrivate(ctx context.Context, request dto.CreatePrivateChatRequest) (models.ChatRoom, error) {
	if err := d.validator.Struct(request); err != nil {
		return models.ChatRoom{}, err
	}

	room, err := d.backend.CreatePrivateChat(ctx, request)
	if err != nil {
		return models.ChatRoom{}, err
	}
	d.upsert(room)
	return room, nil
}

// Members lists the members of a project available for private chat.
func (d *Directory) Members(ctx context.Context, projectID int) ([]models.ProjectMember, error) {
	if projectID <= 0 {
		return nil, fmt.Errorf("invalid project id %d", projectID)
	}
	return d.backend.ListProjectMembers(ctx, projectID)
}

func (d *Directory) upsert(room models.ChatRoom) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.rooms {
		if d.rooms[i].ID == room.ID {
			d.rooms[i] = room
			return
		}
	}
	d.rooms = append(d.rooms, room)
}
