package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/dto"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/handler"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/realtime"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/repository"
)

type refusingDialer struct{}

func (refusingDialer) Dial(context.Context, string) (realtime.Channel, error) {
	return nil, errors.New("connection refused")
}

type tokenStub struct{}

func (tokenStub) Token(context.Context) (string, error) { return "token", nil }

type backendStub struct {
	mu       sync.Mutex
	messages []models.ChatMessage
	sendErr  error
	marked   []int
}

func (b *backendStub) ListMessages(_ context.Context, query dto.MessagesQuery) (dto.MessagesPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.ChatMessage, len(b.messages))
	copy(out, b.messages)
	return dto.MessagesPage{Count: len(out), Page: 1, PageSize: query.PageSize, Results: out}, nil
}

func (b *backendStub) SendMessage(_ context.Context, roomID int, payload dto.SendMessageRequest) (models.ChatMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return models.ChatMessage{}, b.sendErr
	}
	message := models.ChatMessage{
		ID:           len(b.messages) + 1,
		RoomID:       roomID,
		Content:      payload.Content,
		Kind:         models.MessageKindText,
		IsOwnMessage: true,
		CreatedAt:    time.Date(2024, 5, 1, 10, len(b.messages), 0, 0, time.UTC),
	}
	b.messages = append(b.messages, message)
	return message, nil
}

func (b *backendStub) MarkRoomRead(_ context.Context, roomID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marked = append(b.marked, roomID)
	return nil
}

type directoryStub struct {
	rooms   []models.ChatRoom
	created dto.CreatePrivateChatRequest
	err     error
}

func (d *directoryStub) Rooms() []models.ChatRoom { return d.rooms }

func (d *directoryStub) Room(_ context.Context, roomID int) (models.ChatRoom, error) {
	if d.err != nil {
		return models.ChatRoom{}, d.err
	}
	for _, room := range d.rooms {
		if room.ID == roomID {
			return room, nil
		}
	}
	return models.ChatRoom{}, &repository.APIError{StatusCode: http.StatusNotFound, Message: "not found"}
}

func (d *directoryStub) TotalUnread() int {
	total := 0
	for _, room := range d.rooms {
		total += room.UnreadCount
	}
	return total
}

func (d *directoryStub) ByProject(_ context.Context, projectID int) ([]models.ChatRoom, error) {
	var out []models.ChatRoom
	for _, room := range d.rooms {
		if room.ProjectID != nil && *room.ProjectID == projectID {
			out = append(out, room)
		}
	}
	return out, nil
}

func (d *directoryStub) CreatePrivate(_ context.Context, request dto.CreatePrivateChatRequest) (models.ChatRoom, error) {
	d.created = request
	return models.ChatRoom{ID: 99, Kind: models.RoomKindPrivate, Name: "private"}, nil
}

func (d *directoryStub) Members(context.Context, int) ([]models.ProjectMember, error) {
	return []models.ProjectMember{{ID: 1}}, nil
}

func newChatApp(t *testing.T, backend *backendStub, directory *directoryStub) (*fiber.App, *realtime.Manager) {
	t.Helper()

	validate := validator.New()
	manager := realtime.NewManager(backend, realtime.ManagerOptions{
		WSBaseURL:      "ws://backend.test",
		Credential:     tokenStub{},
		Dialer:         refusingDialer{},
		ReconnectDelay: time.Hour,
		PollInterval:   time.Hour,
		PageSize:       50,
		TypingTimeout:  time.Second,
		Validator:      validate,
	}, zerolog.Nop())
	t.Cleanup(manager.CloseAll)

	h := handler.NewChatHandler(manager, directory, validate, 7, zerolog.Nop())
	app := fiber.New()
	h.Register(app.Group("/chat"), nil)
	return app, manager
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)

	payload := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &payload))
	}
	return resp, payload
}

func TestChatHandlerListRoomsMarksOpenRooms(t *testing.T) {
	projectID := 3
	directory := &directoryStub{rooms: []models.ChatRoom{
		{ID: 1, Kind: models.RoomKindGroup, Name: "Capstone", ProjectID: &projectID, UnreadCount: 2},
		{ID: 2, Kind: models.RoomKindGroup, Name: "General", UnreadCount: 1},
	}}
	app, manager := newChatApp(t, &backendStub{}, directory)

	_, err := manager.Open(context.Background(), 2)
	require.NoError(t, err)

	resp, payload := doJSON(t, app, http.MethodGet, "/chat/rooms", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := payload["data"].(map[string]interface{})
	require.EqualValues(t, 3, data["total_unread"])
	rooms := data["rooms"].([]interface{})
	require.Len(t, rooms, 2)
	require.Equal(t, false, rooms[0].(map[string]interface{})["open"])
	require.Equal(t, true, rooms[1].(map[string]interface{})["open"])

	resp, payload = doJSON(t, app, http.MethodGet, "/chat/rooms?project_id=3", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rooms = payload["data"].(map[string]interface{})["rooms"].([]interface{})
	require.Len(t, rooms, 1)
	require.EqualValues(t, 1, rooms[0].(map[string]interface{})["id"])
}

func TestChatHandlerGetRoomSurfacesBackendStatus(t *testing.T) {
	app, _ := newChatApp(t, &backendStub{}, &directoryStub{})

	resp, _ := doJSON(t, app, http.MethodGet, "/chat/rooms/5", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/chat/rooms/abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatHandlerSendFallsBackWhenChannelIsDown(t *testing.T) {
	backend := &backendStub{}
	app, _ := newChatApp(t, backend, &directoryStub{})

	resp, payload := doJSON(t, app, http.MethodPost, "/chat/rooms/4/open", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	connection := payload["data"].(map[string]interface{})["connection"].(map[string]interface{})
	require.Equal(t, false, connection["connected"])

	resp, payload = doJSON(t, app, http.MethodPost, "/chat/rooms/4/messages", map[string]string{"content": "  hello <script>x</script> "})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	messages := payload["data"].(map[string]interface{})["messages"].([]interface{})
	require.Len(t, messages, 1)
	require.Equal(t, "hello ", messages[0].(map[string]interface{})["content"])

	backend.mu.Lock()
	require.Len(t, backend.messages, 1)
	require.Equal(t, "hello <script>x</script>", backend.messages[0].Content)
	backend.mu.Unlock()

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.marked) == 1 && backend.marked[0] == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChatHandlerSendErrors(t *testing.T) {
	backend := &backendStub{sendErr: &repository.APIError{StatusCode: http.StatusForbidden, Message: "forbidden"}}
	app, _ := newChatApp(t, backend, &directoryStub{})

	resp, _ := doJSON(t, app, http.MethodPost, "/chat/rooms/4/messages", map[string]string{"content": "hi"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/chat/rooms/4/open", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload := doJSON(t, app, http.MethodPost, "/chat/rooms/4/messages", map[string]string{"content": "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "validation failed", payload["message"])

	resp, _ = doJSON(t, app, http.MethodPost, "/chat/rooms/4/messages", map[string]string{"content": "hi"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestChatHandlerTypingReadAndClose(t *testing.T) {
	app, manager := newChatApp(t, &backendStub{}, &directoryStub{})

	resp, _ := doJSON(t, app, http.MethodPost, "/chat/rooms/6/open", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/chat/rooms/6/typing", map[string]bool{"is_typing": true})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/chat/rooms/6/read", map[string][]int{"message_ids": {}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/chat/rooms/6/read", map[string][]int{"message_ids": {1, 2}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/chat/rooms/6/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodDelete, "/chat/rooms/6", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok := manager.Get(6)
	require.False(t, ok)

	resp, _ = doJSON(t, app, http.MethodDelete, "/chat/rooms/6", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/chat/rooms/6/state", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatHandlerCreatePrivateValidates(t *testing.T) {
	directory := &directoryStub{}
	app, _ := newChatApp(t, &backendStub{}, directory)

	resp, payload := doJSON(t, app, http.MethodPost, "/chat/rooms/private", map[string]int{"project_id": 3})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, payload["details"], "OtherUserID")

	resp, payload = doJSON(t, app, http.MethodPost, "/chat/rooms/private", map[string]int{"project_id": 3, "other_user_id": 8})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.EqualValues(t, 99, payload["data"].(map[string]interface{})["id"])
	require.Equal(t, 8, directory.created.OtherUserID)
}

func TestChatHandlerStreamRequiresUpgrade(t *testing.T) {
	app, _ := newChatApp(t, &backendStub{}, &directoryStub{})

	resp, _ := doJSON(t, app, http.MethodGet, "/chat/rooms/6/stream", nil)
	require.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
