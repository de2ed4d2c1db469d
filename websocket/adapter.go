package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"scanner-bridge/domain"
	"scanner-bridge/logging"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 256

	// Larger frames are a transport error: gorilla answers with close
	// code 1009 and the read loop ends.
	maxMessageSize = 64 << 10
)

var ErrSendBufferFull = errors.New("send buffer full")

type Conn struct {
	id       string
	role     domain.Role
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	alive    atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	registry domain.Broadcaster
	handler  domain.MessageHandler
}

func NewConn(id string, role domain.Role, ws *websocket.Conn, r domain.Broadcaster, h domain.MessageHandler) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:       id,
		role:     role,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		registry: r,
		handler:  h,
	}
	c.alive.Store(true)
	return c
}

func (c *Conn) ID() string        { return c.id }
func (c *Conn) Role() domain.Role { return c.role }
func (c *Conn) Alive() bool       { return c.alive.Load() }
func (c *Conn) MarkProbed()       { c.alive.Store(false) }

// Send queues data for the write pump. It never blocks: a closed connection
// or a full buffer is reported as an error and the data is dropped.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return domain.ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return domain.ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Conn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Conn) Terminate() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
		c.ws.Close()
	})
}

func (c *Conn) Start() {
	c.registry.Join(c, func() { c.handler.Welcome(c) })
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.registry.Unregister(c)
		c.Terminate()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Error("read error", logging.ClientID(c.id), logging.Err(err))
			}
			return
		}

		c.handler.Handle(c.ctx, c, data)
	}
}

func (c *Conn) writePump() {
	defer c.Terminate()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("write error", logging.ClientID(c.id), logging.Err(err))
				return
			}
		}
	}
}
