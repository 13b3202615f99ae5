package websocket

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"taskboard-sync/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	DefaultSendBuffer     = 256
	DefaultMaxMessageSize = 4096
)

var (
	ErrNotReady   = errors.New("connection not ready")
	ErrBufferFull = errors.New("send buffer full")
)

type Options struct {
	SendBuffer     int
	MaxMessageSize int64
}

// Conn adapts a gorilla websocket to domain.Connection. Sends are queued on a
// buffered channel drained by the write pump, so Send never blocks.
type Conn struct {
	id       string
	userID   string
	ws       *websocket.Conn
	log      *slog.Logger
	registry domain.Registry
	handler  domain.MessageHandler
	maxSize  int64

	send      chan []byte
	ready     atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func NewConn(id, userID string, ws *websocket.Conn, log *slog.Logger, r domain.Registry, h domain.MessageHandler, opts Options) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Conn{
		id:       id,
		userID:   userID,
		ws:       ws,
		log:      log.With("connId", id),
		registry: r,
		handler:  h,
		maxSize:  opts.MaxMessageSize,
		send:     make(chan []byte, opts.SendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }
func (c *Conn) Ready() bool    { return c.ready.Load() }

// Send queues data for the write pump. It fails instead of blocking when the
// transport is closing or the client is not draining its buffer.
func (c *Conn) Send(data []byte) error {
	if !c.Ready() {
		return ErrNotReady
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrNotReady
	default:
		return ErrBufferFull
	}
}

func (c *Conn) Close() error {
	c.shutdown()
	return c.ws.Close()
}

// Done is closed once the connection has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Start registers the connection and launches the pumps.
func (c *Conn) Start() {
	c.registry.Register(c)
	c.ready.Store(true)
	go c.writePump()
	go c.readPump()
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		c.ready.Store(false)
		close(c.done)
	})
}

func (c *Conn) readPump() {
	defer func() {
		c.shutdown()
		c.registry.Leave(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.maxSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Error("read error", "error", err)
			}
			return
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("write error", "error", err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
