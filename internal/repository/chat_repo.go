package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/dto"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/middleware"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
)

const defaultPageSize = 50

// ChatRepository is the REST collaborator that owns rooms and message persistence.
type ChatRepository interface {
	ListRooms(ctx context.Context) ([]models.ChatRoom, error)
	GetRoom(ctx context.Context, roomID int) (models.ChatRoom, error)
	ListRoomsByProject(ctx context.Context, projectID int) ([]models.ChatRoom, error)
	CreatePrivateChat(ctx context.Context, payload dto.CreatePrivateChatRequest) (models.ChatRoom, error)
	ListMessages(ctx context.Context, query dto.MessagesQuery) (dto.MessagesPage, error)
	SendMessage(ctx context.Context, roomID int, payload dto.SendMessageRequest) (models.ChatMessage, error)
	MarkRoomRead(ctx context.Context, roomID int) error
	ListProjectMembers(ctx context.Context, projectID int) ([]models.ProjectMember, error)
}

// CredentialProvider supplies the bearer token attached to each request.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// invalidator is implemented by credentials that can be forced to refresh.
type invalidator interface {
	Invalidate()
}

// APIError describes a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded %d", e.StatusCode)
	}
	return fmt.Sprintf("backend responded %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError carrying the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// NewHTTPClient returns an instrumented HTTP client for the backend.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

type chatRepository struct {
	baseURL    string
	client     *http.Client
	credential CredentialProvider
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// NewChatRepository constructs a chat repository backed by the backend REST API.
func NewChatRepository(baseURL string, client *http.Client, credential CredentialProvider, logger zerolog.Logger) ChatRepository {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &chatRepository{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
		credential: credential,
		tracer:     otel.Tracer("github.com/JosephHidalgo/AcademicProjectManager/internal/repository/chat"),
		logger:     logger.With().Str("component", "chat_repository").Logger(),
	}
}

func (r *chatRepository) ListRooms(ctx context.Context) ([]models.ChatRoom, error) {
	var raw json.RawMessage
	if err := r.do(ctx, "list_rooms", http.MethodGet, "/chat/rooms/", nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeRoomList(raw)
}

func (r *chatRepository) GetRoom(ctx context.Context, roomID int) (models.ChatRoom, error) {
	var room models.ChatRoom
	path := fmt.Sprintf("/chat/rooms/%d/", roomID)
	if err := r.do(ctx, "get_room", http.MethodGet, path, nil, nil, &room); err != nil {
		return models.ChatRoom{}, err
	}
	return room, nil
}

func (r *chatRepository) ListRoomsByProject(ctx context.Context, projectID int) ([]models.ChatRoom, error) {
	query := url.Values{}
	query.Set("project_id", strconv.Itoa(projectID))

	var raw json.RawMessage
	if err := r.do(ctx, "list_rooms_by_project", http.MethodGet, "/chat/rooms/by_project/", query, nil, &raw); err != nil {
		return nil, err
	}
	return decodeRoomList(raw)
}

func (r *chatRepository) CreatePrivateChat(ctx context.Context, payload dto.CreatePrivateChatRequest) (models.ChatRoom, error) {
	var room models.ChatRoom
	if err := r.do(ctx, "create_private_chat", http.MethodPost, "/chat/rooms/create_private/", nil, payload, &room); err != nil {
		return models.ChatRoom{}, err
	}
	return room, nil
}

func (r *chatRepository) ListMessages(ctx context.Context, q dto.MessagesQuery) (dto.MessagesPage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(q.Page))
	query.Set("page_size", strconv.Itoa(q.PageSize))

	var page dto.MessagesPage
	path := fmt.Sprintf("/chat/rooms/%d/messages/", q.RoomID)
	if err := r.do(ctx, "list_messages", http.MethodGet, path, query, nil, &page); err != nil {
		return dto.MessagesPage{}, err
	}

	for i := range page.Results {
		if page.Results[i].RoomID == 0 {
			page.Results[i].RoomID = q.RoomID
		}
		if page.Results[i].Kind == "" {
			page.Results[i].Kind = models.MessageKindText
		}
	}
	return page, nil
}

func (r *chatRepository) SendMessage(ctx context.Context, roomID int, payload dto.SendMessageRequest) (models.ChatMessage, error) {
	if payload.MessageType == "" {
		payload.MessageType = string(models.MessageKindText)
	}

	var message models.ChatMessage
	path := fmt.Sprintf("/chat/rooms/%d/send_message/", roomID)
	if err := r.do(ctx, "send_message", http.MethodPost, path, nil, payload, &message); err != nil {
		return models.ChatMessage{}, err
	}
	if message.RoomID == 0 {
		message.RoomID = roomID
	}
	return message, nil
}

func (r *chatRepository) MarkRoomRead(ctx context.Context, roomID int) error {
	path := fmt.Sprintf("/chat/rooms/%d/mark_read/", roomID)
	return r.do(ctx, "mark_room_read", http.MethodPost, path, nil, nil, nil)
}

func (r *chatRepository) ListProjectMembers(ctx context.Context, projectID int) ([]models.ProjectMember, error) {
	query := url.Values{}
	query.Set("project_id", strconv.Itoa(projectID))

	var members []models.ProjectMember
	if err := r.do(ctx, "list_members", http.MethodGet, "/chat/members/", query, nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// do performs an authenticated JSON request, retrying once with a refreshed credential when
// the backend answers 401.
func (r *chatRepository) do(ctx context.Context, operation, method, path string, query url.Values, body, out interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}

	spanCtx, span := r.tracer.Start(ctx, "chat.repository."+operation, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("chat.path", path),
	))
	defer span.End()

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("encode %s request: %w", operation, err)
		}
		payload = encoded
	}

	correlation := middleware.CorrelationIDFromContext(ctx)
	if correlation == "" {
		correlation = uuid.NewString()
	}

	for attempt := 0; ; attempt++ {
		err := r.doOnce(spanCtx, method, path, query, payload, correlation, out)
		if err == nil {
			return nil
		}

		if attempt == 0 && IsStatus(err, http.StatusUnauthorized) {
			if inv, ok := r.credential.(invalidator); ok {
				r.logger.Debug().Str("operation", operation).Msg("credential rejected, retrying with refreshed token")
				inv.Invalidate()
				continue
			}
		}

		span.RecordError(err)
		r.logger.Warn().Err(err).Str("operation", operation).Str("correlation_id", correlation).Msg("backend request failed")
		return err
	}
}

func (r *chatRepository) doOnce(ctx context.Context, method, path string, query url.Values, payload []byte, correlation string, out interface{}) error {
	endpoint := r.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(middleware.CorrelationHeader, correlation)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if r.credential != nil {
		token, err := r.credential.Token(ctx)
		if err != nil {
			return fmt.Errorf("resolve credential: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return newAPIError(resp.StatusCode, respBody)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	_ = json.Unmarshal(body, &envelope)

	message := envelope.Error
	if message == "" {
		message = envelope.Detail
	}
	return &APIError{StatusCode: status, Message: message}
}

// decodeRoomList accepts both a bare array and a paginated {results: [...]} envelope.
func decodeRoomList(raw json.RawMessage) ([]models.ChatRoom, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []models.ChatRoom{}, nil
	}

	if trimmed[0] == '[' {
		var rooms []models.ChatRoom
		if err := json.Unmarshal(trimmed, &rooms); err != nil {
			return nil, fmt.Errorf("decode rooms: %w", err)
		}
		return rooms, nil
	}

	var envelope struct {
		Results []models.ChatRoom `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	if envelope.Results == nil {
		return []models.ChatRoom{}, nil
	}
	return envelope.Results, nil
}

// TokenClient refreshes access tokens. It is unauthenticated so it can back a refreshing
// credential without a dependency cycle.
type TokenClient struct {
	baseURL string
	client  *http.Client
}

// NewTokenClient creates a token refresh client.
func NewTokenClient(baseURL string, client *http.Client) *TokenClient {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &TokenClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// RefreshAccessToken exchanges the refresh token for a new access token.
func (c *TokenClient) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	payload, err := json.Marshal(dto.TokenRefreshRequest{Refresh: refreshToken})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token/refresh/", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", newAPIError(resp.StatusCode, body)
	}

	var out dto.TokenRefreshResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Access == "" {
		return "", fmt.Errorf("refresh response carried no access token")
	}
	return out.Access, nil
}
