package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
)

// Frame type tags exchanged on the room channel.
const (
	FrameChatMessage  = "chat_message"
	FrameTyping       = "typing"
	FrameUserJoin     = "user_join"
	FrameUserLeave    = "user_leave"
	FrameMessagesRead = "messages_read"
	FrameMarkRead     = "mark_read"
	FrameError        = "error"
)

// ErrMalformedFrame is returned when an inbound frame is not valid JSON or misses required fields.
var ErrMalformedFrame = errors.New("malformed frame")

var frameValidator = validator.New()

// timestamp layouts accepted for created_at. The backend emits ISO-8601 with an offset, naive
// values are read as UTC.
var frameTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
}

// InboundFrame is one decoded server to client frame. The set of implementations is closed.
type InboundFrame interface {
	FrameType() string
	inbound()
}

// FrameSender identifies the author of a pushed chat message.
type FrameSender struct {
	ID    int    `json:"id" validate:"required,gt=0"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ChatMessageFrame carries a newly persisted message.
type ChatMessageFrame struct {
	MessageID    int          `json:"message_id" validate:"required,gt=0"`
	Content      string       `json:"content"`
	MessageType  string       `json:"message_type"`
	Sender       *FrameSender `json:"sender" validate:"required"`
	CreatedAt    string       `json:"created_at" validate:"required"`
	IsOwnMessage bool         `json:"is_own_message"`
}

// TypingFrame reports that another participant started or stopped typing.
type TypingFrame struct {
	UserID   int    `json:"user_id" validate:"required,gt=0"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// UserJoinFrame reports that a participant connected to the room.
type UserJoinFrame struct {
	UserID   int    `json:"user_id" validate:"required,gt=0"`
	UserName string `json:"user_name"`
}

// UserLeaveFrame reports that a participant disconnected from the room.
type UserLeaveFrame struct {
	UserID   int    `json:"user_id" validate:"required,gt=0"`
	UserName string `json:"user_name"`
}

// MessagesReadFrame acknowledges that a participant read the listed messages.
type MessagesReadFrame struct {
	UserID     int   `json:"user_id"`
	MessageIDs []int `json:"message_ids" validate:"required"`
}

// ErrorFrame is a server side error notice.
type ErrorFrame struct {
	Message string `json:"message"`
}

// UnknownFrame is any well-formed frame whose type tag is not recognised.
type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

func (ChatMessageFrame) FrameType() string  { return FrameChatMessage }
func (TypingFrame) FrameType() string       { return FrameTyping }
func (UserJoinFrame) FrameType() string     { return FrameUserJoin }
func (UserLeaveFrame) FrameType() string    { return FrameUserLeave }
func (MessagesReadFrame) FrameType() string { return FrameMessagesRead }
func (ErrorFrame) FrameType() string        { return FrameError }
func (f UnknownFrame) FrameType() string    { return f.Type }

func (ChatMessageFrame) inbound()  {}
func (TypingFrame) inbound()       {}
func (UserJoinFrame) inbound()     {}
func (UserLeaveFrame) inbound()    {}
func (MessagesReadFrame) inbound() {}
func (ErrorFrame) inbound()        {}
func (UnknownFrame) inbound()      {}

// DecodeFrame parses one text frame. Malformed input yields an error wrapping
// ErrMalformedFrame; an unrecognised type tag yields an UnknownFrame.
func DecodeFrame(data []byte) (InboundFrame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var frame InboundFrame
	switch envelope.Type {
	case FrameChatMessage:
		var f ChatMessageFrame
		if err := decodeInto(data, &f); err != nil {
			return nil, err
		}
		if _, err := parseFrameTime(f.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: created_at: %v", ErrMalformedFrame, err)
		}
		frame = f
	case FrameTyping:
		var f TypingFrame
		if err := decodeInto(data, &f); err != nil {
			return nil, err
		}
		frame = f
	case FrameUserJoin:
		var f UserJoinFrame
		if err := decodeInto(data, &f); err != nil {
			return nil, err
		}
		frame = f
	case FrameUserLeave:
		var f UserLeaveFrame
		if err := decodeInto(data, &f); err != nil {
			return nil, err
		}
		frame = f
	case FrameMessagesRead:
		var f MessagesReadFrame
		if err := decodeInto(data, &f); err != nil {
			return nil, err
		}
		frame = f
	case FrameError:
		var f ErrorFrame
		if err := decodeInto(data, &f); err != nil {
			return nil, err
		}
		frame = f
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		frame = UnknownFrame{Type: envelope.Type, Raw: append(json.RawMessage(nil), data...)}
	}
	return frame, nil
}

func decodeInto(data []byte, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := frameValidator.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

func parseFrameTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var lastErr error
	for _, layout := range frameTimeLayouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Message converts the frame into a chat message belonging to roomID.
func (f ChatMessageFrame) Message(roomID int) models.ChatMessage {
	createdAt, _ := parseFrameTime(f.CreatedAt)
	message := models.ChatMessage{
		ID:           f.MessageID,
		RoomID:       roomID,
		Content:      f.Content,
		Kind:         models.ParseMessageKind(f.MessageType),
		CreatedAt:    createdAt,
		IsOwnMessage: f.IsOwnMessage,
	}
	if f.Sender != nil {
		sender := models.ParticipantFromDisplayName(f.Sender.ID, f.Sender.Email, f.Sender.Name)
		message.Sender = &sender
	}
	return message
}

// OutboundFrame is one client to server frame.
type OutboundFrame interface {
	FrameType() string
	outbound()
}

// SendChatFrame posts a message over the channel.
type SendChatFrame struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// SendTypingFrame toggles the local typing signal.
type SendTypingFrame struct {
	IsTyping bool `json:"is_typing"`
}

// MarkReadFrame acknowledges messages as read.
type MarkReadFrame struct {
	MessageIDs []int `json:"message_ids"`
}

func (SendChatFrame) FrameType() string   { return FrameChatMessage }
func (SendTypingFrame) FrameType() string { return FrameTyping }
func (MarkReadFrame) FrameType() string   { return FrameMarkRead }

func (SendChatFrame) outbound()   {}
func (SendTypingFrame) outbound() {}
func (MarkReadFrame) outbound()   {}

func (f SendChatFrame) MarshalJSON() ([]byte, error) {
	type alias SendChatFrame
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: f.FrameType(), alias: alias(f)})
}

func (f SendTypingFrame) MarshalJSON() ([]byte, error) {
	type alias SendTypingFrame
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: f.FrameType(), alias: alias(f)})
}

func (f MarkReadFrame) MarshalJSON() ([]byte, error) {
	type alias MarkReadFrame
	ids := f.MessageIDs
	if ids == nil {
		ids = []int{}
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: f.FrameType(), alias: alias{MessageIDs: ids}})
}

// EncodeFrame serialises an outbound frame.
func EncodeFrame(frame OutboundFrame) ([]byte, error) {
	if frame == nil {
		return nil, errors.New("nil frame")
	}
	return json.Marshal(frame)
}
