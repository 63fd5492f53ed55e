package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/dto"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/realtime"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/repository"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/utils"
)

const streamPingInterval = 30 * time.Second

// RoomManager opens and tears down room subscriptions.
type RoomManager interface {
	Open(ctx context.Context, roomID int) (*realtime.Room, error)
	Get(roomID int) (*realtime.Room, bool)
	Close(roomID int) bool
	OpenRoomIDs() []int
}

// RoomDirectory lists the viewer's rooms.
type RoomDirectory interface {
	Rooms() []models.ChatRoom
	Room(ctx context.Context, roomID int) (models.ChatRoom, error)
	TotalUnread() int
	ByProject(ctx context.Context, projectID int) ([]models.ChatRoom, error)
	CreatePrivate(ctx context.Context, request dto.CreatePrivateChatRequest) (models.ChatRoom, error)
	Members(ctx context.Context, projectID int) ([]models.ProjectMember, error)
}

// ChatHandler exposes the chat engine to the local UI.
type ChatHandler struct {
	manager   RoomManager
	directory RoomDirectory
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	viewerID  int
	logger    zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(manager RoomManager, directory RoomDirectory, validate *validator.Validate, viewerID int, logger zerolog.Logger) *ChatHandler {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	return &ChatHandler{
		manager:   manager,
		directory: directory,
		validator: validate,
		sanitizer: sanitizer,
		viewerID:  viewerID,
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group. sendLimiter guards the message
// route and may be nil.
func (h *ChatHandler) Register(router fiber.Router, sendLimiter fiber.Handler) {
	if sendLimiter == nil {
		sendLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}

	router.Get("/rooms", h.listRooms)
	router.Post("/rooms/private", h.createPrivate)
	router.Get("/projects/:id/members", h.members)

	router.Use("/rooms/:id/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/rooms/:id/stream", websocket.New(h.stream))

	router.Get("/rooms/:id", h.getRoom)
	router.Post("/rooms/:id/open", h.openRoom)
	router.Delete("/rooms/:id", h.closeRoom)
	router.Get("/rooms/:id/state", h.roomState)
	router.Post("/rooms/:id/messages", sendLimiter, h.sendMessage)
	router.Post("/rooms/:id/typing", h.setTyping)
	router.Post("/rooms/:id/read", h.markRead)
}

func (h *ChatHandler) listRooms(c *fiber.Ctx) error {
	projectID, err := parseQueryInt(c, "project_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid project_id")
	}

	rooms := h.directory.Rooms()
	if projectID > 0 {
		rooms, err = h.directory.ByProject(requestContext(c), projectID)
		if err != nil {
			return h.backendError(c, err, "failed to list project rooms")
		}
	}

	open := make(map[int]struct{})
	for _, id := range h.manager.OpenRoomIDs() {
		open[id] = struct{}{}
	}

	response := dto.RoomDirectoryResponse{
		Rooms:       make([]dto.RoomSummaryResponse, 0, len(rooms)),
		TotalUnread: h.directory.TotalUnread(),
	}
	for _, room := range rooms {
		_, isOpen := open[room.ID]
		response.Rooms = append(response.Rooms, dto.NewRoomSummaryResponse(room, h.viewerID, isOpen))
	}
	return utils.SendSuccess(c, "rooms retrieved", response)
}

func (h *ChatHandler) getRoom(c *fiber.Ctx) error {
	roomID, err := roomIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	room, err := h.directory.Room(requestContext(c), roomID)
	if err != nil {
		return h.backendError(c, err, "failed to load room")
	}
	_, isOpen := h.manager.Get(roomID)
	return utils.SendSuccess(c, "room retrieved", dto.NewRoomSummaryResponse(room, h.viewerID, isOpen))
}

func (h *ChatHandler) createPrivate(c *fiber.Ctx) error {
	var payload dto.CreatePrivateChatRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	}

	room, err := h.directory.CreatePrivate(requestContext(c), payload)
	if err != nil {
		return h.backendError(c, err, "failed to create private chat")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "private chat ready", dto.NewRoomSummaryResponse(room, h.viewerID, false))
}

func (h *ChatHandler) members(c *fiber.Ctx) error {
	projectID, err := strconv.Atoi(c.Params("id"))
	if err != nil || projectID <= 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid project id")
	}

	members, err := h.directory.Members(requestContext(c), projectID)
	if err != nil {
		return h.backendError(c, err, "failed to list members")
	}
	return utils.SendSuccess(c, "members retrieved", members)
}

func (h *ChatHandler) openRoom(c *fiber.Ctx) error {
	roomID, err := roomIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	room, err := h.manager.Open(requestContext(c), roomID)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	requestLogger(h.logger, c).Info().Int("room_id", roomID).Msg("room opened by ui")
	return utils.SendSuccess(c, "room opened", h.stateResponse(room.Snapshot()))
}

func (h *ChatHandler) closeRoom(c *fiber.Ctx) error {
	roomID, err := roomIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if !h.manager.Close(roomID) {
		return utils.SendError(c, fiber.StatusNotFound, realtime.ErrRoomNotOpen.Error())
	}
	return utils.SendSuccess(c, "room closed", nil)
}

func (h *ChatHandler) roomState(c *fiber.Ctx) error {
	room, ok, err := h.openedRoom(c)
	if !ok {
		return err
	}
	return utils.SendSuccess(c, "room state", h.stateResponse(room.Snapshot()))
}

func (h *ChatHandler) sendMessage(c *fiber.Ctx) error {
	room, ok, err := h.openedRoom(c)
	if !ok {
		return err
	}

	var payload dto.BridgeSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	payload.Content = strings.TrimSpace(payload.Content)
	if err := h.validator.Struct(payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	}

	sendErr := room.Send(requestContext(c), payload.Content)
	room.SetTyping(false)

	switch {
	case sendErr == nil:
		return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "message sent", h.stateResponse(room.Snapshot()))
	case errors.Is(sendErr, realtime.ErrEmptyMessage), errors.Is(sendErr, realtime.ErrInvalidMessage):
		return utils.SendError(c, fiber.StatusBadRequest, sendErr.Error())
	case errors.Is(sendErr, realtime.ErrRoomClosed):
		return utils.SendError(c, fiber.StatusNotFound, sendErr.Error())
	default:
		requestLogger(h.logger, c).Warn().Err(sendErr).Int("room_id", room.RoomID()).Msg("message delivery failed")
		return utils.SendError(c, fiber.StatusBadGateway, sendErr.Error())
	}
}

func (h *ChatHandler) setTyping(c *fiber.Ctx) error {
	room, ok, err := h.openedRoom(c)
	if !ok {
		return err
	}

	var payload dto.BridgeTypingRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	room.SetTyping(payload.IsTyping)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) markRead(c *fiber.Ctx) error {
	room, ok, err := h.openedRoom(c)
	if !ok {
		return err
	}

	var payload dto.BridgeMarkReadRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	}
	room.MarkRead(payload.MessageIDs)
	return c.SendStatus(fiber.StatusNoContent)
}

// stream pushes a fresh room state to the UI every time the room changes.
func (h *ChatHandler) stream(conn *websocket.Conn) {
	roomID, err := strconv.Atoi(conn.Params("id"))
	room, ok := h.manager.Get(roomID)
	if err != nil || !ok {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "room not open"))
		_ = conn.Close()
		return
	}

	logger := h.logger.With().Int("room_id", roomID).Logger()
	if correlation, ok := conn.Locals("correlation_id").(string); ok && correlation != "" {
		logger = logger.With().Str("correlation_id", correlation).Logger()
	}

	updates, cancel := room.Watch()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Info().Msg("ui stream connected")
	defer logger.Info().Msg("ui stream disconnected")

	if err := conn.WriteJSON(h.stateResponse(room.Snapshot())); err != nil {
		return
	}

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case _, open := <-updates:
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"))
				return
			}
			if err := conn.WriteJSON(h.stateResponse(room.Snapshot())); err != nil {
				logger.Debug().Err(err).Msg("ui stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// openedRoom resolves the :id room. When ok is false the error response has already been written.
func (h *ChatHandler) openedRoom(c *fiber.Ctx) (*realtime.Room, bool, error) {
	roomID, err := roomIDParam(c)
	if err != nil {
		return nil, false, utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	room, ok := h.manager.Get(roomID)
	if !ok {
		return nil, false, utils.SendError(c, fiber.StatusNotFound, realtime.ErrRoomNotOpen.Error())
	}
	return room, true, nil
}

func (h *ChatHandler) stateResponse(snapshot realtime.RoomSnapshot) dto.RoomStateResponse {
	return dto.RoomStateResponse{
		RoomID: snapshot.RoomID,
		Connection: dto.ConnectionResponse{
			Phase:             string(snapshot.Connection.Phase),
			Connected:         snapshot.Connection.Phase == realtime.PhaseOpen,
			LastError:         snapshot.Connection.LastError,
			ReconnectAttempts: snapshot.Connection.ReconnectAttempts,
		},
		Messages: dto.NewChatMessageResponseSlice(snapshot.Messages, h.sanitizer.Sanitize),
		Typing:   participantResponses(snapshot.Typing),
		Online:   participantResponses(snapshot.Online),
	}
}

func (h *ChatHandler) backendError(c *fiber.Ctx, err error, message string) error {
	var apiErr *repository.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < fiber.StatusInternalServerError {
		return utils.SendError(c, apiErr.StatusCode, apiErr.Error())
	}
	if isValidationError(err) {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	}
	requestLogger(h.logger, c).Error().Err(err).Msg(message)
	return utils.SendError(c, fiber.StatusBadGateway, message)
}

func participantResponses(participants []realtime.Participant) []dto.ParticipantResponse {
	out := make([]dto.ParticipantResponse, 0, len(participants))
	for _, p := range participants {
		out = append(out, dto.ParticipantResponse{ID: p.ID, Name: p.Name})
	}
	return out
}
