// Package ws carries page frames over a WebSocket, one frame per text message.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slighter12/isocity-host-go/logger"
	"github.com/slighter12/isocity-host-go/transport/shared"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 4 << 20
)

// TransportName identifies WebSocket pages in logs and page info.
const TransportName = "websocket"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     loopbackOrigin,
}

// loopbackOrigin admits pages served from this machine. The page and the
// control API listen on different ports, so every request is cross-origin.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Conn is a shared.Conn over a gorilla WebSocket.
type Conn struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// Upgrade accepts a page connection on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return newConn(conn), nil
}

// Dial connects to a host bridge endpoint, as a page shim would.
func Dial(ctx context.Context, endpoint string) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}
	return newConn(conn), nil
}

func newConn(conn *websocket.Conn) *Conn {
	c := &Conn{conn: conn, done: make(chan struct{})}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepAlive()
	return c
}

// ReadFrame returns the next decodable frame.
func (c *Conn) ReadFrame() (shared.Frame, error) {
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return shared.Frame{}, err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		// Any traffic proves the peer is alive.
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		frame, err := shared.DecodeFrame(payload)
		if err != nil {
			logger.Debug("Dropping websocket frame", "error", err, "bytes", len(payload))
			continue
		}
		return frame, nil
	}
}

func (c *Conn) WriteFrame(frame shared.Frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

// Close sends a close message and releases the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				logger.Debug("Websocket ping failed", "error", err)
				return
			}
		}
	}
}

// Handler upgrades requests and serves them as pages on hub until ctx is done.
func Handler(ctx context.Context, hub *shared.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			logger.Warn("Rejected page connection", "remote_addr", r.RemoteAddr, "error", err)
			return
		}
		if err := hub.Serve(ctx, TransportName, conn); err != nil && !isNormalClose(err) {
			logger.Debug("Websocket page ended", "error", err)
		}
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
