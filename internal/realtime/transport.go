package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes used by the connection state machine.
const (
	CloseNormal   = websocket.CloseNormalClosure
	CloseAbnormal = websocket.CloseAbnormalClosure
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
)

// ErrInvalidEndpoint is stored on the connection when the channel URL cannot be built.
var ErrInvalidEndpoint = errors.New("invalid channel endpoint")

// Channel is one live bidirectional text channel.
type Channel interface {
	// ReadFrame blocks until the next text frame arrives. Closure is reported as an error
	// that CloseCode can classify.
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Ping() error
	// Close sends a close frame with the given code and releases the channel. It must be
	// safe to call concurrently with the other methods and more than once.
	Close(code int, reason string) error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Channel, error)
}

// CloseCode classifies a read or dial error. Anything that is not a close frame from the
// peer is an abnormal closure.
func CloseCode(err error) int {
	if err == nil {
		return CloseNormal
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return CloseAbnormal
}

// ValidateBaseURL checks that base can host room channels.
func ValidateBaseURL(base string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return parsed, nil
}

// BuildEndpoint returns {base}/ws/chat/{roomID}/?token={token}.
func BuildEndpoint(base string, roomID int, token string) (string, error) {
	parsed, err := ValidateBaseURL(base)
	if err != nil {
		return "", err
	}
	if roomID <= 0 {
		return "", fmt.Errorf("%w: room id %d", ErrInvalidEndpoint, roomID)
	}

	endpoint := *parsed
	endpoint.Path = strings.TrimRight(parsed.Path, "/") + "/ws/chat/" + strconv.Itoa(roomID) + "/"
	endpoint.RawPath = ""
	query := url.Values{}
	query.Set("token", token)
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}

// GorillaDialer dials channels with gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewGorillaDialer returns a dialer with the given handshake timeout.
func NewGorillaDialer(handshakeTimeout time.Duration) *GorillaDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &GorillaDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *GorillaDialer) Dial(ctx context.Context, endpoint string) (Channel, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial channel: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial channel: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &gorillaChannel{conn: conn}, nil
}

type gorillaChannel struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *gorillaChannel) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *gorillaChannel) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaChannel) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *gorillaChannel) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
