package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketplace-messaging/internal/messaging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 64
)

// Client is one websocket connection. Session events are queued without
// blocking and written by a single writer goroutine.
type Client struct {
	conn    *websocket.Conn
	info    ConnInfo
	send    chan messaging.Event
	done    chan struct{}
	once    sync.Once
	onEvent func(messaging.Event)
}

func newClient(conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{
		conn: conn,
		info: info,
		send: make(chan messaging.Event, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Client) Info() ConnInfo {
	return c.info
}

// Enqueue queues evt for writing. A client that falls a full buffer behind is
// closed rather than left with a gap in its event stream.
func (c *Client) Enqueue(evt messaging.Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- evt:
	default:
		log.Printf("websocket send buffer full conn_id=%s, closing", c.info.ConnID)
		c.Close()
	}
}

// Close stops the writer, which then closes the connection. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *Client) writePump(hub *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				hub.publishWSError(c.info, err)
				c.Close()
				return
			}
			if c.onEvent != nil {
				c.onEvent(evt)
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				hub.publishWSError(c.info, err)
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
