package viewer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"moro/internal/types"
)

const (
	DefaultReconnectDelay    = time.Second
	DefaultReconnectDelayMax = 5 * time.Second
	handshakeTimeout         = 10 * time.Second
)

// Client keeps a websocket subscription to a stream server alive. Every
// attempt dials a fresh connection; the wait between attempts doubles up to
// MaxDelay.
type Client struct {
	URL      string
	MinDelay time.Duration
	MaxDelay time.Duration
	Header   http.Header
	Log      *slog.Logger
}

func NewClient(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		URL:      url,
		MinDelay: DefaultReconnectDelay,
		MaxDelay: DefaultReconnectDelayMax,
		Log:      logger.With("component", "viewer"),
	}
}

// Run delivers events to handle until ctx is cancelled.
func (c *Client) Run(ctx context.Context, handle func(types.Event)) error {
	delay := c.MinDelay
	for {
		connected, err := c.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = c.MinDelay
		}
		c.Log.Debug("connection lost, reconnecting", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = nextDelay(delay, c.MaxDelay)
	}
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func (c *Client) session(ctx context.Context, handle func(types.Event)) (bool, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	c.Log.Info("connected", "url", c.URL)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			continue
		}
		handle(ev)
	}
}
