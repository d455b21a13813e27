package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voltlink/backend/services/telemetry-service/internal/models"
)

const (
	readTimeout  = 60 * time.Second
	maxReadBytes = 4096
)

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	Class    models.DeviceClass
	DeviceID string
}

func (f Filter) matches(key models.DeviceKey) bool {
	if f.Class != "" && f.Class != key.Class {
		return false
	}
	return f.DeviceID == "" || f.DeviceID == key.ID
}

// Client is one live subscriber.
type Client struct {
	ws           *websocket.Conn
	filter       Filter
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *zap.Logger
	onClose      func(*Client)
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, filter Filter, buffer int, writeTimeout, pingInterval time.Duration, logger *zap.Logger, onClose func(*Client)) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if pingInterval <= 0 || pingInterval >= readTimeout {
		pingInterval = readTimeout / 2
	}
	return &Client{
		ws:           conn,
		filter:       filter,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
		onClose:      onClose,
	}
}

// Start runs the pumps until the peer goes away or Close is called.
func (c *Client) Start() {
	go c.writePump()
	c.readPump()
}

// readPump only drains control frames; subscribers never send data.
func (c *Client) readPump() {
	defer c.Close()
	c.ws.SetReadLimit(maxReadBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.logger.Debug("live subscriber read closed", zap.Error(err))
			return
		}
	}
}

// writePump is the only writer on the connection, pings included.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.ws.Close()
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close()
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				_ = c.ws.Close()
				return
			}
		}
	}
}

// Send enqueues a message, dropping it when the subscriber is too slow.
func (c *Client) Send(msg []byte) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.logger.Warn("dropping live update, buffer full")
	}
}

// Close stops the client once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}
