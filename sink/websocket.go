package sink

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Pharos-AI/utils/entry"
	"github.com/gorilla/websocket"
)

type WebSocketConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// WebSocket keeps one connection to the collector and sends each batch as a
// single text message, waiting for its Ack. The connection is dialled on
// first use and again after any failure.
type WebSocket struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocket(cfg WebSocketConfig) (*WebSocket, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket sink: url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &WebSocket{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Timeout,
		},
	}, nil
}

func (w *WebSocket) Send(ctx context.Context, records []entry.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	conn, err := w.connect(ctx)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(sendTimeout(ctx, w.cfg.Timeout))
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(records); err != nil {
		w.drop()
		return fmt.Errorf("write batch: %w", err)
	}

	var ack Ack
	if err := conn.ReadJSON(&ack); err != nil {
		w.drop()
		return fmt.Errorf("read ack: %w", err)
	}
	if ack.Error != "" {
		return fmt.Errorf("batch rejected: %s", ack.Error)
	}
	if ack.Accepted != len(records) {
		return fmt.Errorf("batch partially accepted: %d of %d", ack.Accepted, len(records))
	}
	return nil
}

func (w *WebSocket) connect(ctx context.Context) (*websocket.Conn, error) {
	if w.conn != nil {
		return w.conn, nil
	}

	header := http.Header{}
	if w.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	}

	conn, resp, err := w.dialer.DialContext(ctx, w.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial collector: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial collector: %w", err)
	}
	w.conn = conn
	return conn, nil
}

func (w *WebSocket) drop() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}
	w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := w.conn.Close()
	w.conn = nil
	return err
}
