package models

import (
	"strings"
	"time"
)

// RoomKind distinguishes project-wide group rooms from one-to-one rooms.
type RoomKind string

const (
	RoomKindGroup   RoomKind = "group"
	RoomKindPrivate RoomKind = "private"
)

// MessageKind describes the payload carried by a chat message.
type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindFile   MessageKind = "file"
	MessageKindImage  MessageKind = "image"
	MessageKindSystem MessageKind = "system"
)

// ParseMessageKind maps a wire value onto a known kind, defaulting to text.
func ParseMessageKind(value string) MessageKind {
	switch MessageKind(strings.ToLower(strings.TrimSpace(value))) {
	case MessageKindFile:
		return MessageKindFile
	case MessageKindImage:
		return MessageKindImage
	case MessageKindSystem:
		return MessageKindSystem
	default:
		return MessageKindText
	}
}

// ChatParticipant is a user that can take part in a chat room.
type ChatParticipant struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// FullName joins first and last name.
func (p ChatParticipant) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ParticipantFromDisplayName splits a display name into first and last name the way the
// backend renders get_full_name().
func ParticipantFromDisplayName(id int, email, name string) ChatParticipant {
	name = strings.TrimSpace(name)
	first, last, _ := strings.Cut(name, " ")
	return ChatParticipant{
		ID:        id,
		Email:     email,
		FirstName: first,
		LastName:  strings.TrimSpace(last),
	}
}

// LastMessageSummary is the cached preview of the newest message in a room.
type LastMessageSummary struct {
	ID          int       `json:"id"`
	Content     string    `json:"content"`
	SenderName  string    `json:"sender_name"`
	CreatedAt   time.Time `json:"created_at"`
	MessageType string    `json:"message_type"`
}

// ChatRoom is a conversation scope, either the group chat of a project or a private chat.
type ChatRoom struct {
	ID           int                 `json:"id"`
	Name         string              `json:"name"`
	Kind         RoomKind            `json:"room_type"`
	ProjectID    *int                `json:"project"`
	ProjectTitle *string             `json:"project_title"`
	ProjectCode  *string             `json:"project_code"`
	Participants []ChatParticipant   `json:"participants"`
	LastMessage  *LastMessageSummary `json:"last_message"`
	UnreadCount  int                 `json:"unread_count"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// DisplayName resolves the label shown for the room from the point of view of viewerID.
func (r ChatRoom) DisplayName(viewerID int) string {
	if r.Kind == RoomKindGroup {
		if r.ProjectTitle != nil && *r.ProjectTitle != "" {
			return *r.ProjectTitle
		}
		if r.Name != "" {
			return r.Name
		}
		return "Group chat"
	}
	if len(r.Participants) > 0 {
		other := r.Participants[0]
		for _, p := range r.Participants {
			if p.ID != viewerID {
				other = p
				break
			}
		}
		return other.FullName()
	}
	if r.Name != "" {
		return r.Name
	}
	return "Chat"
}

// ChatMessage is a single message in a room. ID and CreatedAt are assigned by the backend;
// once observed, only IsRead may change.
type ChatMessage struct {
	ID           int              `json:"id"`
	RoomID       int              `json:"chat_room"`
	Sender       *ChatParticipant `json:"sender"`
	Content      string           `json:"content"`
	Kind         MessageKind      `json:"message_type"`
	File         *string          `json:"file"`
	IsRead       bool             `json:"is_read"`
	CreatedAt    time.Time        `json:"created_at"`
	IsOwnMessage bool             `json:"is_own_message"`
}

// IsSystem reports whether the message has no human sender.
func (m ChatMessage) IsSystem() bool {
	return m.Sender == nil || m.Kind == MessageKindSystem
}

// ProjectMember is a project member offered as a private chat partner.
type ProjectMember struct {
	ID             int    `json:"id"`
	Email          string `json:"email"`
	FullName       string `json:"full_name"`
	Role           string `json:"role"`
	HasPrivateChat bool   `json:"has_private_chat"`
	ChatRoomID     *int   `json:"chat_room_id"`
}
