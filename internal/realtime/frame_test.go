package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
)

func TestDecodeChatMessageFrame(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"chat_message","message_id":12,"content":"hola",
		"message_type":"text","sender":{"id":3,"name":"Ana Maria Ruiz","email":"ana@uni.edu"},
		"created_at":"2024-03-01T10:00:00.123456+00:00","is_own_message":false}`))
	require.NoError(t, err)

	chat, ok := frame.(ChatMessageFrame)
	require.True(t, ok)
	require.Equal(t, FrameChatMessage, chat.FrameType())

	message := chat.Message(42)
	require.Equal(t, 12, message.ID)
	require.Equal(t, 42, message.RoomID)
	require.Equal(t, models.MessageKindText, message.Kind)
	require.Equal(t, "Ana", message.Sender.FirstName)
	require.Equal(t, "Maria Ruiz", message.Sender.LastName)
	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC), message.CreatedAt.UTC())
}

func TestDecodeChatMessageFrameNaiveTimestamp(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"chat_message","message_id":1,"content":"x",
		"sender":{"id":3,"name":"Ana"},"created_at":"2024-03-01T10:00:00"}`))
	require.NoError(t, err)

	message := frame.(ChatMessageFrame).Message(1)
	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), message.CreatedAt)
	require.Equal(t, models.MessageKindText, message.Kind)
	require.Equal(t, "", message.Sender.LastName)
}

func TestDecodeSignalFrames(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"typing","user_id":7,"user_name":"Ana","is_typing":true}`))
	require.NoError(t, err)
	require.Equal(t, TypingFrame{UserID: 7, UserName: "Ana", IsTyping: true}, frame)

	frame, err = DecodeFrame([]byte(`{"type":"user_join","user_id":7,"user_name":"Ana"}`))
	require.NoError(t, err)
	require.Equal(t, UserJoinFrame{UserID: 7, UserName: "Ana"}, frame)

	frame, err = DecodeFrame([]byte(`{"type":"user_leave","user_id":7,"user_name":"Ana"}`))
	require.NoError(t, err)
	require.Equal(t, UserLeaveFrame{UserID: 7, UserName: "Ana"}, frame)

	frame, err = DecodeFrame([]byte(`{"type":"messages_read","user_id":7,"message_ids":[1,2]}`))
	require.NoError(t, err)
	require.Equal(t, MessagesReadFrame{UserID: 7, MessageIDs: []int{1, 2}}, frame)

	frame, err = DecodeFrame([]byte(`{"type":"error","message":"Formato de mensaje inválido"}`))
	require.NoError(t, err)
	require.Equal(t, ErrorFrame{Message: "Formato de mensaje inválido"}, frame)
}

func TestDecodeFrameRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"type":`,
		"missing type":      `{"user_id":7}`,
		"missing sender":    `{"type":"chat_message","message_id":1,"created_at":"2024-03-01T10:00:00Z"}`,
		"missing id":        `{"type":"chat_message","sender":{"id":1},"created_at":"2024-03-01T10:00:00Z"}`,
		"bad timestamp":     `{"type":"chat_message","message_id":1,"sender":{"id":1},"created_at":"yesterday"}`,
		"typing without id": `{"type":"typing","is_typing":true}`,
		"wrong field type":  `{"type":"typing","user_id":"seven","is_typing":true}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(raw))
			require.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestDecodeFrameUnknownType(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"notification","title":"x"}`))
	require.NoError(t, err)

	unknown, ok := frame.(UnknownFrame)
	require.True(t, ok)
	require.Equal(t, "notification", unknown.FrameType())
}

func TestEncodeOutboundFrames(t *testing.T) {
	cases := []struct {
		frame OutboundFrame
		want  string
	}{
		{SendChatFrame{Content: "hi", MessageType: "text"}, `{"type":"chat_message","content":"hi","message_type":"text"}`},
		{SendTypingFrame{IsTyping: false}, `{"type":"typing","is_typing":false}`},
		{MarkReadFrame{MessageIDs: []int{4, 5}}, `{"type":"mark_read","message_ids":[4,5]}`},
		{MarkReadFrame{}, `{"type":"mark_read","message_ids":[]}`},
	}
	for _, tc := range cases {
		data, err := EncodeFrame(tc.frame)
		require.NoError(t, err)
		require.JSONEq(t, tc.want, string(data))
	}

	_, err := EncodeFrame(nil)
	require.Error(t, err)
}

func TestChatMessageFrameRoundTripsThroughJSON(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	data, err := json.Marshal(chatFrame(3, at, true))
	require.NoError(t, err)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)
	message := frame.(ChatMessageFrame).Message(42)
	require.True(t, message.IsOwnMessage)
	require.True(t, at.Equal(message.CreatedAt))
}
