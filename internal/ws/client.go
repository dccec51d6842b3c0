package ws

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is one viewer connection attached to the hub. Outbound events
// pass through a bounded send queue; when the queue is full events are
// dropped rather than buffered without limit.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// rooms tracks memberships for disconnect cleanup, guarded by hub.mu
	rooms map[string]bool

	// mu serializes enqueue against close so a broadcast racing a
	// disconnect cannot send on the closed queue
	mu     sync.Mutex
	closed bool
}

// NewClient creates a client for a websocket connection. conn may be
// nil for in-process consumers that only read the send queue.
func NewClient(hub *Hub, conn *websocket.Conn, queueLen int) *Client {
	if queueLen <= 0 {
		queueLen = 64
	}
	return &Client{
		id:    uuid.NewString(),
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, queueLen),
		rooms: make(map[string]bool),
	}
}

// ID returns the connection id assigned at creation
func (c *Client) ID() string {
	return c.id
}

// enqueue offers a message to the send queue without blocking. Messages
// offered after close are dropped.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump drains the send queue onto the connection and keeps the
// connection alive with pings. Runs as one goroutine per client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("[WS] Write error for client %s: %v", c.id, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads envelopes from the connection and hands them to the
// event router. Returns when the connection drops; the caller is
// responsible for disconnecting the client from the hub.
func (c *Client) readPump(router *EventRouter, maxMessageBytes int64) {
	c.conn.SetReadLimit(maxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error for client %s: %v", c.id, err)
			}
			return
		}
		router.Dispatch(c, msg)
	}
}
