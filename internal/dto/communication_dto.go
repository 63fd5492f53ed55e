package dto

import (
	"time"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
)

// SendMessageRequest is the payload used for both the channel frame and the fallback POST.
type SendMessageRequest struct {
	Content     string `json:"content" validate:"required,min=1,max=4000"`
	MessageType string `json:"message_type" validate:"omitempty,oneof=text file image system"`
}

// MessagesPage is the paginated envelope returned by the messages endpoint.
type MessagesPage struct {
	Count    int                  `json:"count"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
	Results  []models.ChatMessage `json:"results"`
}

// MessagesQuery selects a page of room history.
type MessagesQuery struct {
	RoomID   int `validate:"required,gt=0"`
	Page     int `validate:"omitempty,min=1"`
	PageSize int `validate:"omitempty,min=1,max=200"`
}

// CreatePrivateChatRequest opens (or reuses) a private room with another project member.
type CreatePrivateChatRequest struct {
	ProjectID   int `json:"project_id" validate:"required,gt=0"`
	OtherUserID int `json:"other_user_id" validate:"required,gt=0"`
}

// TokenRefreshRequest exchanges a refresh token for a new access token.
type TokenRefreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

// TokenRefreshResponse carries the renewed access token.
type TokenRefreshResponse struct {
	Access string `json:"access"`
}

// BridgeSendRequest is posted by the UI to the local bridge.
type BridgeSendRequest struct {
	Content string `json:"content" validate:"required,min=1,max=4000"`
}

// BridgeTypingRequest toggles the local typing signal.
type BridgeTypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

// BridgeMarkReadRequest acknowledges messages over the channel.
type BridgeMarkReadRequest struct {
	MessageIDs []int `json:"message_ids" validate:"required,min=1,dive,gt=0"`
}

// ParticipantResponse is a typing or online participant.
type ParticipantResponse struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ConnectionResponse describes the channel status of a room.
type ConnectionResponse struct {
	Phase             string `json:"phase"`
	Connected         bool   `json:"connected"`
	LastError         string `json:"last_error,omitempty"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
}

// ChatMessageResponse is the UI representation of a merged message.
type ChatMessageResponse struct {
	ID           int       `json:"id"`
	RoomID       int       `json:"room_id"`
	SenderID     *int      `json:"sender_id,omitempty"`
	SenderName   string    `json:"sender_name,omitempty"`
	Content      string    `json:"content"`
	Type         string    `json:"type"`
	File         *string   `json:"file,omitempty"`
	IsRead       bool      `json:"is_read"`
	IsOwnMessage bool      `json:"is_own_message"`
	CreatedAt    time.Time `json:"created_at"`
}

// RoomStateResponse is the full view of an open room.
type RoomStateResponse struct {
	RoomID     int                   `json:"room_id"`
	Connection ConnectionResponse    `json:"connection"`
	Messages   []ChatMessageResponse `json:"messages"`
	Typing     []ParticipantResponse `json:"typing"`
	Online     []ParticipantResponse `json:"online"`
}

// RoomSummaryResponse is a directory entry.
type RoomSummaryResponse struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	ProjectID   *int   `json:"project_id,omitempty"`
	UnreadCount int    `json:"unread_count"`
	Open        bool   `json:"open"`
}

// RoomDirectoryResponse lists rooms with the aggregated unread counter.
type RoomDirectoryResponse struct {
	Rooms       []RoomSummaryResponse `json:"rooms"`
	TotalUnread int                   `json:"total_unread"`
}

// NewChatMessageResponse converts a model into a DTO. sanitize is applied to the content.
func NewChatMessageResponse(message models.ChatMessage, sanitize func(string) string) ChatMessageResponse {
	content := message.Content
	if sanitize != nil {
		content = sanitize(content)
	}
	response := ChatMessageResponse{
		ID:           message.ID,
		RoomID:       message.RoomID,
		Content:      content,
		Type:         string(message.Kind),
		File:         message.File,
		IsRead:       message.IsRead,
		IsOwnMessage: message.IsOwnMessage,
		CreatedAt:    message.CreatedAt,
	}
	if message.Sender != nil {
		id := message.Sender.ID
		response.SenderID = &id
		response.SenderName = message.Sender.FullName()
	}
	return response
}

// NewChatMessageResponseSlice converts a slice of models into DTOs.
func NewChatMessageResponseSlice(messages []models.ChatMessage, sanitize func(string) string) []ChatMessageResponse {
	out := make([]ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewChatMessageResponse(message, sanitize))
	}
	return out
}

// NewRoomSummaryResponse converts a directory room into a DTO.
func NewRoomSummaryResponse(room models.ChatRoom, viewerID int, open bool) RoomSummaryResponse {
	return RoomSummaryResponse{
		ID:          room.ID,
		Name:        room.DisplayName(viewerID),
		Type:        string(room.Kind),
		ProjectID:   room.ProjectID,
		UnreadCount: room.UnreadCount,
		Open:        open,
	}
}
