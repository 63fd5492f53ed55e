package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/dto"
	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errLocalClose = errors.New("channel closed locally")

type fakeChannel struct {
	inbound chan []byte
	fail    chan error
	closed  chan struct{}

	mu        sync.Mutex
	written   [][]byte
	closeCode int
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		inbound:   make(chan []byte, 16),
		fail:      make(chan error, 1),
		closed:    make(chan struct{}),
		closeCode: -1,
	}
}

func (c *fakeChannel) ReadFrame() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case err := <-c.fail:
		return nil, err
	case <-c.closed:
		return nil, errLocalClose
	}
}

func (c *fakeChannel) WriteFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Ping() error { return nil }

func (c *fakeChannel) Close(code int, _ string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeChannel) push(t *testing.T, frame interface{}) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	c.inbound <- data
}

func (c *fakeChannel) pushRaw(data string) {
	c.inbound <- []byte(data)
}

// drop simulates the peer closing the channel with code.
func (c *fakeChannel) drop(code int) {
	c.fail <- &websocket.CloseError{Code: code}
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) closedWith() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *fakeChannel) frames() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(c.written))
	for _, data := range c.written {
		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err == nil {
			out = append(out, decoded)
		}
	}
	return out
}

type fakeDialer struct {
	mu        sync.Mutex
	endpoints []string
	channels  []*fakeChannel
	failures  []error
}

func (d *fakeDialer) Dial(_ context.Context, endpoint string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.endpoints = append(d.endpoints, endpoint)
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return nil, err
	}
	channel := newFakeChannel()
	d.channels = append(d.channels, channel)
	return channel, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.endpoints)
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.channels) {
		return nil
	}
	return d.channels[i]
}

func (d *fakeDialer) endpoint(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endpoints[i]
}

type fakeBackend struct {
	mu        sync.Mutex
	page      []models.ChatMessage
	listErr   error
	listCalls int
	sent      []dto.SendMessageRequest
	sendErr   error
	markRead  []int
}

func (b *fakeBackend) ListMessages(_ context.Context, query dto.MessagesQuery) (dto.MessagesPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listCalls++
	if b.listErr != nil {
		return dto.MessagesPage{}, b.listErr
	}
	results := append([]models.ChatMessage(nil), b.page...)
	return dto.MessagesPage{Count: len(results), Page: 1, PageSize: query.PageSize, Results: results}, nil
}

func (b *fakeBackend) SendMessage(_ context.Context, roomID int, payload dto.SendMessageRequest) (models.ChatMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sent = append(b.sent, payload)
	if b.sendErr != nil {
		return models.ChatMessage{}, b.sendErr
	}
	message := models.ChatMessage{
		ID:        1000 + len(b.sent),
		RoomID:    roomID,
		Content:   payload.Content,
		Kind:      models.MessageKindText,
		CreatedAt: time.Now().UTC(),
	}
	b.page = append(b.page, message)
	return message, nil
}

func (b *fakeBackend) MarkRoomRead(_ context.Context, roomID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markRead = append(b.markRead, roomID)
	return nil
}

func (b *fakeBackend) setPage(messages ...models.ChatMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.page = messages
}

func (b *fakeBackend) listCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls
}

func (b *fakeBackend) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func (b *fakeBackend) markReadCalls() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.markRead...)
}

type staticCredential string

func (s staticCredential) Token(context.Context) (string, error) { return string(s), nil }

func message(id int, at time.Time) models.ChatMessage {
	return models.ChatMessage{ID: id, RoomID: 42, Content: "m", Kind: models.MessageKindText, CreatedAt: at}
}

func messageIDs(messages []models.ChatMessage) []int {
	ids := make([]int, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	return ids
}

func chatFrame(id int, at time.Time, own bool) map[string]interface{} {
	return map[string]interface{}{
		"type":           FrameChatMessage,
		"message_id":     id,
		"content":        "pushed",
		"message_type":   "text",
		"sender":         map[string]interface{}{"id": 7, "name": "Ana Ruiz", "email": "ana@uni.edu"},
		"created_at":     at.Format(time.RFC3339Nano),
		"is_own_message": own,
	}
}
