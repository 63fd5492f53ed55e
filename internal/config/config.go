package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the chat engine and its local bridge.
type Config struct {
	AppName  string
	AppEnv   string
	LogLevel string

	// APIHost is the collaborator host override. Both the REST base and the websocket
	// base are derived from it unless overridden explicitly.
	APIHost    string
	APIBaseURL string
	WSBaseURL  string

	AccessToken  string
	RefreshToken string
	ViewerID     int

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	PollInterval         time.Duration
	TypingTimeout        time.Duration
	UnreadRefresh        time.Duration
	PageSize             int
	RequestTimeout       time.Duration

	BridgePort    string
	BridgeOrigins []string
	SendRateLimit int
	RedisURL      string
	NATSURL       string
	ChannelBase   string
	HistoryTTL    time.Duration
}

// BridgeAddress returns the address the local bridge should listen on.
func (c Config) BridgeAddress() string {
	if strings.HasPrefix(c.BridgePort, ":") {
		return c.BridgePort
	}

	return fmt.Sprintf(":%s", c.BridgePort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Academic Chat Bridge")
	v.SetDefault("app.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("api.host", "localhost:8000")
	v.SetDefault("reconnect_delay", "3s")
	v.SetDefault("reconnect_max_attempts", 0)
	v.SetDefault("poll_interval", "3s")
	v.SetDefault("typing_timeout", "3s")
	v.SetDefault("unread_refresh", "30s")
	v.SetDefault("page_size", 50)
	v.SetDefault("request_timeout", "15s")
	v.SetDefault("bridge.port", "8090")
	v.SetDefault("bridge.send_rate", 20)
	v.SetDefault("channel_base", "academic")
	v.SetDefault("history_ttl", "10m")

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		LogLevel:             strings.ToLower(v.GetString("log.level")),
		APIHost:              strings.TrimSpace(v.GetString("api.host")),
		APIBaseURL:           strings.TrimSpace(v.GetString("api.base_url")),
		WSBaseURL:            strings.TrimSpace(v.GetString("ws.base_url")),
		AccessToken:          v.GetString("access_token"),
		RefreshToken:         v.GetString("refresh_token"),
		ViewerID:             v.GetInt("viewer_id"),
		MaxReconnectAttempts: v.GetInt("reconnect_max_attempts"),
		PageSize:             v.GetInt("page_size"),
		BridgePort:           v.GetString("bridge.port"),
		BridgeOrigins:        splitList(v.GetString("bridge.origins")),
		SendRateLimit:        v.GetInt("bridge.send_rate"),
		RedisURL:             v.GetString("redis.url"),
		NATSURL:              v.GetString("nats.url"),
		ChannelBase:          v.GetString("channel_base"),
	}
	durations["reconnect_delay"] = &cfg.ReconnectDelay
	durations["poll_interval"] = &cfg.PollInterval
	durations["typing_timeout"] = &cfg.TypingTimeout
	durations["unread_refresh"] = &cfg.UnreadRefresh
	durations["request_timeout"] = &cfg.RequestTimeout
	durations["history_ttl"] = &cfg.HistoryTTL

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", key)
		}
		*target = parsed
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}

	if err := cfg.resolveEndpoints(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// resolveEndpoints derives the REST and websocket bases from the collaborator host.
func (c *Config) resolveEndpoints() error {
	if c.APIHost == "" {
		return fmt.Errorf("api host must be provided")
	}

	secure := false
	host := c.APIHost
	if strings.Contains(host, "://") {
		parsed, err := url.Parse(host)
		if err != nil {
			return fmt.Errorf("invalid api host: %w", err)
		}
		secure = parsed.Scheme == "https" || parsed.Scheme == "wss"
		host = parsed.Host
	}

	if c.APIBaseURL == "" {
		scheme := "http"
		if secure {
			scheme = "https"
		}
		c.APIBaseURL = fmt.Sprintf("%s://%s/api", scheme, host)
	}
	if c.WSBaseURL == "" {
		scheme := "ws"
		if secure {
			scheme = "wss"
		}
		c.WSBaseURL = fmt.Sprintf("%s://%s", scheme, host)
	}

	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	c.WSBaseURL = strings.TrimRight(c.WSBaseURL, "/")
	return nil
}

func splitList(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
