package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/studyhall/studyhall/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10

	// a 1000-rune chat message can take up to four bytes per rune on the
	// wire, plus the envelope
	maxMessageSize = 8192

	// leaveWait bounds how long a room switch waits for the old room to
	// confirm the presence entry is gone.
	leaveWait = 5 * time.Second
)

type Client struct {
	id          string
	conn        *websocket.Conn
	studyServer *StudyServer
	log         *log.Logger
	user        types.User
	send        chan *ServerMessage
	room        *Room
	roomLock    sync.RWMutex
	subscribed  bool
	subLock     sync.RWMutex
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, ss *StudyServer, l *log.Logger) *Client {
	return &Client{
		id:          uuid.NewString(),
		conn:        conn,
		studyServer: ss,
		log:         l,
		user:        user,
		send:        make(chan *ServerMessage, 256),
		stop:        make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) User() types.User {
	return c.user
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		c.route(&msg)
	}
}

func (c *Client) route(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		c.joinRoom(msg)
	case msg.Leave != nil:
		c.leaveRoom(msg)
	case msg.Subscribe != nil:
		c.setSubscribed(true)
		c.queueMessage(NoErrOK(msg.Id, nil))
	case msg.Timer != nil && msg.Timer.Action == TimerActionSync:
		// resync is allowed from any connection, joined or not
		select {
		case c.studyServer.syncChan <- msg:
		default:
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
	case msg.Presence != nil, msg.Publish != nil, msg.Typing != nil,
		msg.Mute != nil, msg.Timer != nil, msg.Share != nil:
		c.sendToRoom(msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// sendToRoom forwards a room-scoped message to the room this connection has
// an acknowledged join for. Anything sent before the join ack is rejected,
// clients must wait for the ack rather than assume ordering.
func (c *Client) sendToRoom(msg *ClientMessage) {
	r := c.currentRoom()
	if r == nil {
		c.queueMessage(ErrJoinNotComplete(msg.Id))
		return
	}

	if id := msg.roomId(); id != "" && id != r.externalId {
		c.queueMessage(ErrJoinNotComplete(msg.Id))
		return
	}

	select {
	case r.clientMsgChan <- msg:
	default:
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		c.log.Printf("clientMsgChan full for room %q", r.externalId)
	}
}

func (m *ClientMessage) roomId() string {
	switch {
	case m.Publish != nil:
		return m.Publish.RoomId
	case m.Typing != nil:
		return m.Typing.RoomId
	case m.Mute != nil:
		return m.Mute.RoomId
	case m.Timer != nil:
		return m.Timer.RoomId
	case m.Share != nil:
		return m.Share.RoomId
	}
	return ""
}

// joinRoom enforces single-room occupancy: the old room must confirm the
// presence entry is removed and broadcast before the new join is forwarded.
func (c *Client) joinRoom(msg *ClientMessage) {
	if cur := c.currentRoom(); cur != nil && cur.externalId != msg.Join.RoomId {
		done := make(chan struct{})
		leave := &ClientMessage{
			Leave:     &Leave{RoomId: cur.externalId},
			UserId:    c.user.Id,
			client:    c,
			leaveDone: done,
		}

		select {
		case cur.leaveChan <- leave:
		default:
			c.log.Printf("leaveChan full for room %q", cur.externalId)
			c.queueMessage(ErrServiceUnavailable(msg.Id))
			return
		}

		select {
		case <-done:
		case <-time.After(leaveWait):
			c.log.Printf("timed out leaving room %q", cur.externalId)
			c.queueMessage(ErrServiceUnavailable(msg.Id))
			return
		}
	}

	select {
	case c.studyServer.joinChan <- msg:
	default:
		c.log.Printf("joinChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// leaveRoom is idempotent, leaving while not joined is acknowledged as a
// no-op.
func (c *Client) leaveRoom(msg *ClientMessage) {
	r := c.currentRoom()
	if r == nil {
		c.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	select {
	case r.leaveChan <- msg:
	default:
		c.log.Printf("leaveChan full for room %q", r.externalId)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup is the disconnect path: presence removal (with broadcast) and
// sharer release happen in the room actor, the timer is room-owned and is
// left untouched.
func (c *Client) cleanup() {
	c.studyServer.deRegisterChan <- c

	if r := c.currentRoom(); r != nil {
		r.leaveChan <- &ClientMessage{
			Leave:  &Leave{RoomId: r.externalId},
			UserId: c.user.Id,
			client: c,
		}
	}

	c.stopClient()
}

func (c *Client) currentRoom() *Room {
	c.roomLock.RLock()
	defer c.roomLock.RUnlock()
	return c.room
}

func (c *Client) setRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()
	c.room = r
}

// clearRoom resets the room pointer only if it still points at r, a join to
// another room may already have overwritten it.
func (c *Client) clearRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()
	if c.room == r {
		c.room = nil
	}
}

func (c *Client) setSubscribed(v bool) {
	c.subLock.Lock()
	defer c.subLock.Unlock()
	c.subscribed = v
}

func (c *Client) isSubscribed() bool {
	c.subLock.RLock()
	defer c.subLock.RUnlock()
	return c.subscribed
}
