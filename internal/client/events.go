package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/push"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	eventQueue = 256
)

// Events connects to the daemon's websocket feed. It implements
// push.Source; every call opens a new connection and the returned channel
// closes when that connection ends.
type Events struct {
	url    string
	dialer *websocket.Dialer
	header http.Header
	logger *zap.Logger
}

// Events returns the push source of the daemon.
func (c *Client) Events(logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.NewNop()
	}
	u := c.base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &Events{url: u + "/v1/events", dialer: websocket.DefaultDialer, logger: logger}
}

// Events implements push.Source.
func (e *Events) Events(ctx context.Context) (<-chan model.Event, error) {
	conn, _, err := e.dialer.DialContext(ctx, e.url, e.header)
	if err != nil {
		return nil, err
	}
	out := make(chan model.Event, eventQueue)

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Closing the connection unblocks ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	go func() {
		defer close(out)
		defer stop()
		defer func() { _ = conn.Close() }()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					e.logger.Debug("event feed closed", zap.Error(err))
				}
				return
			}
			ev, err := push.Decode(raw)
			if err != nil {
				e.logger.Warn("dropping malformed push event", zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
