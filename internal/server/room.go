package server

import (
	"log"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/studyhall/studyhall/internal/database"
	"github.com/studyhall/studyhall/internal/types"
)

const (
	idleRoomTimeout   = 30 * time.Second
	typingWindow      = 3 * time.Second
	muteSweepInterval = 60 * time.Second
	timerTickInterval = time.Second

	maxChatLength = 1000
)

type exitReq struct {
	deleted bool
	done    chan string
}

type typingExpiry struct {
	userId   int
	startedAt time.Time
}

type Room struct {
	id         int
	externalId string
	name       string
	ownerId    int
	isPrivate  bool
	members    map[int]struct{}

	ss  *StudyServer
	log *log.Logger

	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	typingExpired chan typingExpiry

	clients  map[*Client]struct{}
	presence map[int]*types.PresenceEntry
	typing   map[int]time.Time
	mutes    map[int]time.Time
	timer    *TimerState
	sharer   *Client

	// killTimer unloads the room once it has been empty for a while
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func newRoom(ss *StudyServer, dbRoom database.Room, logger *log.Logger) *Room {
	members := make(map[int]struct{}, len(dbRoom.MemberIds))
	for _, id := range dbRoom.MemberIds {
		members[id] = struct{}{}
	}

	return &Room{
		id:            dbRoom.Id,
		externalId:    dbRoom.ExternalId,
		name:          dbRoom.Name,
		ownerId:       dbRoom.OwnerId,
		isPrivate:     dbRoom.IsPrivate,
		members:       members,
		ss:            ss,
		log:           logger,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		typingExpired: make(chan typingExpiry, 64),
		clients:       make(map[*Client]struct{}),
		presence:      make(map[int]*types.PresenceEntry),
		typing:        make(map[int]time.Time),
		mutes:         make(map[int]time.Time),
		exit:          make(chan exitReq),
		done:          make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	tick := time.NewTicker(timerTickInterval)
	sweep := time.NewTicker(muteSweepInterval)
	defer func() {
		tick.Stop()
		sweep.Stop()
		close(r.done)
	}()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			r.dispatch(msg)
		case exp := <-r.typingExpired:
			r.handleTypingExpiry(exp)
		case <-tick.C:
			r.handleTimerTick()
		case <-sweep.C:
			r.sweepMutes()
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

// dispatch handles room-scoped client messages. Membership is re-validated
// here for every operation: the join ack is the only ordering contract, so a
// message racing ahead of its join is rejected rather than delayed.
func (r *Room) dispatch(msg *ClientMessage) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Printf("panic handling message in room %q: %v", r.externalId, p)
			msg.client.queueMessage(ErrInternalError(msg.Id))
		}
	}()

	if _, ok := r.clients[msg.client]; !ok {
		if msg.Timer != nil && msg.Timer.Action == TimerActionSync {
			// resync carries no mutation and is answered for any connection
			msg.client.queueMessage(r.timerSyncMessage(msg.Id))
			return
		}
		msg.client.queueMessage(ErrJoinNotComplete(msg.Id))
		return
	}

	switch {
	case msg.Presence != nil:
		r.handlePresenceUpdate(msg)
	case msg.Publish != nil:
		r.saveAndBroadcast(msg)
	case msg.Typing != nil:
		r.handleTyping(msg)
	case msg.Mute != nil:
		r.handleMute(msg)
	case msg.Timer != nil:
		r.handleTimerCommand(msg)
	case msg.Share != nil:
		r.handleShare(msg)
	default:
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	c := join.client

	if r.isPrivate {
		if _, ok := r.members[c.user.Id]; !ok && c.user.Id != r.ownerId {
			c.queueMessage(ErrAccessDenied(join.Id, "room is private"))
			if len(r.clients) == 0 {
				r.killTimer.Reset(idleRoomTimeout)
			}
			return
		}
	}

	r.killTimer.Stop()
	r.addClient(c)

	// the ack must precede any broadcast on behalf of this connection
	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        join.Id,
			Timestamp: Now(),
		},
		Joined: &Joined{
			ConnId: c.id,
			Room: types.Room{
				Id:          r.id,
				Name:        r.name,
				ExternalId:  r.externalId,
				OwnerId:     r.ownerId,
				IsPrivate:   r.isPrivate,
			},
		},
	})

	r.broadcastPresence()
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	c := leaveMsg.client

	if _, ok := r.clients[c]; ok {
		r.removeClient(c)
	}

	if leaveMsg.leaveDone != nil {
		close(leaveMsg.leaveDone)
	}

	if leaveMsg.Id > 0 {
		c.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}
}

func (r *Room) handlePresenceUpdate(msg *ClientMessage) {
	status := msg.Presence.Status
	if !status.Valid() {
		msg.client.queueMessage(ErrValidation(msg.Id, "unknown presence status"))
		return
	}

	entry, ok := r.presence[msg.UserId]
	if !ok {
		msg.client.queueMessage(ErrJoinNotComplete(msg.Id))
		return
	}

	entry.Status = status
	r.broadcastPresence()
}

func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	// mute entries are advisory bookkeeping, never a delivery gate; expired
	// ones are dropped on the way through
	if expiresAt, ok := r.mutes[msg.UserId]; ok && !expiresAt.After(Now()) {
		delete(r.mutes, msg.UserId)
	}

	content := strings.TrimSpace(msg.Publish.Content)
	if n := utf8.RuneCountInString(content); n == 0 || n > maxChatLength {
		msg.client.queueMessage(ErrValidation(msg.Id, "message must be between 1 and 1000 characters"))
		return
	}

	dbMsg, err := r.ss.db.CreateMessage(database.CreateMessageParams{
		RoomId:  r.id,
		UserId:  msg.client.user.Id,
		Content: content,
	})
	if err != nil {
		r.log.Println("error saving message:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	r.ss.stats.Incr("MessagesSent")

	// broadcast the persisted message, server-assigned id and timestamp
	// included, so every member sees an identical record
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: msg.Timestamp,
		},
		Message: &types.Message{
			Id:        dbMsg.Id,
			RoomId:    r.externalId,
			UserId:    msg.UserId,
			Username:  msg.client.user.Username,
			Content:   content,
			CreatedAt: dbMsg.CreatedAt,
		},
	})

	// sending a message implies the author stopped typing
	r.clearTyping(msg.UserId, nil)
}

func (r *Room) handleTyping(msg *ClientMessage) {
	if !msg.Typing.IsTyping {
		r.clearTyping(msg.UserId, msg.client)
		return
	}

	startedAt := Now()
	r.typing[msg.UserId] = startedAt

	// schedule the automatic stop; explicit stops and expiry converge on
	// clearTyping, which is idempotent
	userId := msg.UserId
	time.AfterFunc(typingWindow, func() {
		select {
		case r.typingExpired <- typingExpiry{userId: userId, startedAt: startedAt}:
		default:
		}
	})

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Typing: &TypingEvent{
			RoomId:   r.externalId,
			UserId:   msg.UserId,
			IsTyping: true,
		},
		SkipClient: msg.client,
	})
}

func (r *Room) handleTypingExpiry(exp typingExpiry) {
	startedAt, ok := r.typing[exp.userId]
	if !ok || startedAt.After(exp.startedAt) {
		// already cleared, or re-typed since this expiry was scheduled
		return
	}

	r.clearTyping(exp.userId, nil)
}

// clearTyping removes the typing entry and broadcasts the stop, skipping the
// caller's own connection when one is given. Calling it for a user who is
// not typing is a no-op.
func (r *Room) clearTyping(userId int, skip *Client) {
	if _, ok := r.typing[userId]; !ok {
		return
	}

	delete(r.typing, userId)
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Typing: &TypingEvent{
			RoomId:   r.externalId,
			UserId:   userId,
			IsTyping: false,
		},
		SkipClient: skip,
	})
}

func (r *Room) handleMute(msg *ClientMessage) {
	if msg.UserId != r.ownerId {
		msg.client.queueMessage(ErrAccessDenied(msg.Id, "only the room owner can mute users"))
		return
	}

	if msg.Mute.Minutes <= 0 {
		msg.client.queueMessage(ErrValidation(msg.Id, "minutes must be positive"))
		return
	}

	if _, ok := r.presence[msg.Mute.UserId]; !ok {
		msg.client.queueMessage(ErrConflict(msg.Id, "user is not in the room"))
		return
	}

	expiresAt := Now().Add(time.Duration(msg.Mute.Minutes) * time.Minute)
	r.mutes[msg.Mute.UserId] = expiresAt

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		UserMuted: &UserMuted{
			RoomId:    r.externalId,
			UserId:    msg.Mute.UserId,
			Minutes:   msg.Mute.Minutes,
			ExpiresAt: expiresAt,
		},
	})
}

// sweepMutes drops expired mute entries. The mute list is advisory
// bookkeeping, so this is best effort.
func (r *Room) sweepMutes() {
	now := Now()
	for userId, expiresAt := range r.mutes {
		if !expiresAt.After(now) {
			delete(r.mutes, userId)
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.externalId)
	select {
	case r.ss.unloadRoomChan <- unloadRoomRequest{roomId: r.externalId}:
	default:
		r.log.Printf("unload channel full, retrying room %q later", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)
	if e.deleted {
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Notification: &Notification{
				Kind:   "room_deleted",
				RoomId: r.externalId,
			},
		})
	}

	for c := range r.clients {
		c.clearRoom(r)
	}

	if e.done != nil {
		e.done <- r.externalId
	}
}

func (r *Room) addClient(c *Client) {
	r.clients[c] = struct{}{}
	// overwrites any stale entry for this user
	r.presence[c.user.Id] = &types.PresenceEntry{
		User:     c.user,
		Status:   types.StatusIdle,
		JoinedAt: Now(),
	}
	c.setRoom(r)
}

// removeClient tears down everything derived from the connection: presence,
// typing, sharer ownership. The timer is room-owned and survives.
func (r *Room) removeClient(c *Client) {
	delete(r.clients, c)
	c.clearRoom(r)

	if r.sharer == c {
		r.sharer = nil
		r.relayShare(&ShareEvent{
			RoomId:     r.externalId,
			Action:     ShareActionStop,
			FromConnId: c.id,
			FromUserId: c.user.Id,
		}, nil)
	}

	// another connection for the same user may still be present
	if !r.userPresent(c.user.Id) {
		delete(r.presence, c.user.Id)
		delete(r.typing, c.user.Id)
	}

	r.broadcastPresence()

	if len(r.clients) == 0 && r.timer == nil {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) userPresent(userId int) bool {
	for c := range r.clients {
		if c.user.Id == userId {
			return true
		}
	}
	return false
}

func (r *Room) broadcastPresence() {
	users := make([]types.PresenceEntry, 0, len(r.presence))
	for _, entry := range r.presence {
		users = append(users, *entry)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].User.Id < users[j].User.Id })

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Presence: &PresenceSnapshot{
			RoomId: r.externalId,
			Users:  users,
		},
	})
}

func (r *Room) broadcast(msg *ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
