package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/courier/internal/infrastructure/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var (
	ErrSendBufferFull = errors.New("client send buffer full")
	ErrClientClosed   = errors.New("client closed")
)

// CloseError is returned by a FrameHandler to end the session with a
// WebSocket close code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket close %d: %s", e.Code, e.Reason)
}

func PolicyViolation(reason string) *CloseError {
	return &CloseError{Code: websocket.ClosePolicyViolation, Reason: reason}
}

func UnsupportedData(reason string) *CloseError {
	return &CloseError{Code: websocket.CloseUnsupportedData, Reason: reason}
}

func InternalError(reason string) *CloseError {
	return &CloseError{Code: websocket.CloseInternalServerErr, Reason: reason}
}

// FrameHandler processes one inbound text frame. A non-nil result closes the
// connection.
type FrameHandler func(ctx context.Context, raw []byte) *CloseError

func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		},
	}
}

// Client is one authenticated WebSocket connection. Writes go through a
// buffered queue drained by WritePump; ReadPump owns the session's end.
type Client struct {
	UserID string

	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	written chan struct{}
	session session
	logger  logging.Logger

	closeOnce  sync.Once
	closeFrame CloseError
}

func NewClient(conn *websocket.Conn, userID string, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		UserID:  userID,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		written: make(chan struct{}),
		logger:  logger,
	}
}

func (c *Client) State() State {
	return c.session.current()
}

// Authenticate and Activate walk the handshake side of the state machine.
func (c *Client) Authenticate() error {
	return c.session.transition(StateAuthenticated)
}

func (c *Client) Activate() error {
	return c.session.transition(StateActive)
}

// Send queues payload as a JSON text frame without blocking.
func (c *Client) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close requests the session end with code. Only the first call's code is
// sent to the peer.
func (c *Client) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeFrame = CloseError{Code: code, Reason: reason}
		_ = c.session.transition(StateClosing)
		close(c.done)
	})
	return nil
}

// ReadPump reads frames until the peer goes away or handle asks to close. On
// return the session is Closed and no longer registered.
func (c *Client) ReadPump(ctx context.Context, reg *Registry, handle FrameHandler) {
	defer c.finish(reg)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn(logging.WebSocket, logging.Frame, "websocket read failed", map[logging.ExtraKey]any{
					logging.UserID:       c.UserID,
					logging.ErrorMessage: err.Error(),
				})
			}
			_ = c.Close(websocket.CloseNormalClosure, "")
			return
		}

		if msgType != websocket.TextMessage {
			_ = c.Close(websocket.CloseUnsupportedData, "text frames only")
			return
		}

		if closeErr := handle(ctx, raw); closeErr != nil {
			c.logger.Info(logging.WebSocket, logging.Frame, "closing connection", map[logging.ExtraKey]any{
				logging.UserID:    c.UserID,
				logging.CloseCode: closeErr.Code,
				"reason":          closeErr.Reason,
			})
			_ = c.Close(closeErr.Code, closeErr.Reason)
			return
		}

		select {
		case <-c.done:
			return
		default:
		}
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
// It sends the close frame once the session is closing.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.written)
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn(logging.WebSocket, logging.Frame, "websocket write failed", map[logging.ExtraKey]any{
					logging.UserID:       c.UserID,
					logging.ErrorMessage: err.Error(),
				})
				_ = c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			if c.closeFrame.Code == websocket.CloseAbnormalClosure {
				return
			}
			c.flush()
			frame := websocket.FormatCloseMessage(c.closeFrame.Code, c.closeFrame.Reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes frames queued before the close was requested.
func (c *Client) flush() {
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) finish(reg *Registry) {
	select {
	case <-c.written:
	case <-time.After(writeWait):
	}
	_ = c.conn.Close()

	if reg != nil {
		reg.DisconnectIf(c.UserID, c)
	}
	_ = c.session.transition(StateClosed)
}
