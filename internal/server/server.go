package server

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/studyhall/studyhall/internal/database"
	"github.com/studyhall/studyhall/internal/stats"
)

type unloadRoomRequest struct {
	roomId  string
	deleted bool
}

type StudyServer struct {
	log            *log.Logger
	db             database.StudyHallRepository
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	syncChan       chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	broadcastChan  chan *ServerMessage
	unloadRoomChan chan unloadRoomRequest
	RmRoomChan     chan string
	rooms          map[string]*Room
	stop           chan struct{}
	done           chan struct{}
}

func NewStudyServer(logger *log.Logger, db database.StudyHallRepository, sp stats.StatsProvider) (*StudyServer, error) {
	ss := &StudyServer{
		log:            logger,
		db:             db,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		syncChan:       make(chan *ClientMessage, 256),
		RegisterChan:   make(chan *Client, 256),
		deRegisterChan: make(chan *Client, 256),
		broadcastChan:  make(chan *ServerMessage, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 64),
		RmRoomChan:     make(chan string),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	sp.RegisterMetric("ActiveConnections")
	sp.RegisterMetric("ActiveRooms")
	sp.RegisterMetric("MessagesSent")
	sp.RegisterFunc("ActiveUsers", func() any {
		return ss.ActiveUsers()
	})

	return ss, nil
}

func (ss *StudyServer) Run() {
	for {
		select {
		case joinMsg := <-ss.joinChan:
			ss.handleJoin(joinMsg)
		case syncMsg := <-ss.syncChan:
			ss.handleSync(syncMsg)
		case client := <-ss.RegisterChan:
			ss.log.Printf("adding connection from %q", client.user.Username)
			ss.addClient(client)
			ss.stats.Incr("ActiveConnections")
		case client := <-ss.deRegisterChan:
			ss.log.Printf("removing connection from %q", client.user.Username)
			ss.removeClient(client)
			ss.stats.Decr("ActiveConnections")
		case msg := <-ss.broadcastChan:
			ss.deliverToUser(msg)
		case req := <-ss.unloadRoomChan:
			ss.unloadRoom(req)
		case id := <-ss.RmRoomChan:
			ss.unloadRoom(unloadRoomRequest{roomId: id, deleted: true})
		case <-ss.stop:
			ss.log.Println("shutting down rooms")
			for _, r := range ss.rooms {
				done := make(chan string)
				r.exit <- exitReq{done: done}
				<-done
				<-r.done
			}

			close(ss.done)
			return
		}
	}
}

func (ss *StudyServer) handleJoin(joinMsg *ClientMessage) {
	if room, ok := ss.rooms[joinMsg.Join.RoomId]; ok {
		select {
		case room.joinChan <- joinMsg:
		default:
			ss.log.Printf("join channel full on room %q", room.externalId)
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	dbRoom, err := ss.db.GetRoomByExternalId(joinMsg.Join.RoomId)
	if err != nil {
		joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
		return
	}

	room := newRoom(ss, dbRoom, ss.log)
	ss.rooms[room.externalId] = room
	ss.stats.Incr("ActiveRooms")
	room.joinChan <- joinMsg

	go room.start()
}

// handleSync answers timer resync requests. The room actor replies when the
// room is loaded; an unloaded room has no timer by definition, so the
// canonical idle snapshot is the answer.
func (ss *StudyServer) handleSync(msg *ClientMessage) {
	if room, ok := ss.rooms[msg.Timer.RoomId]; ok {
		select {
		case room.clientMsgChan <- msg:
		default:
			msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
		}
		return
	}

	msg.client.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: Now(),
		},
		Timer: &TimerSync{
			RoomId:    msg.Timer.RoomId,
			Mode:      ModeFocus,
			IsRunning: false,
			EndsAt:    nil,
		},
	})
}

// deliverToUser routes a user-directed notification to every subscribed
// connection for that user.
func (ss *StudyServer) deliverToUser(msg *ServerMessage) {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()

	for c := range ss.clients {
		if c.user.Id != msg.UserId || c == msg.SkipClient {
			continue
		}
		if !c.isSubscribed() {
			continue
		}

		c.queueMessage(msg)
	}
}

// NotifyUser queues a notification for a user's personal channel. Delivery
// is fire and forget.
func (ss *StudyServer) NotifyUser(userId int, n *Notification) {
	select {
	case ss.broadcastChan <- &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: n,
		UserId:       userId,
	}:
	default:
		ss.log.Printf("broadcast channel full, dropping notification for user %d", userId)
	}
}

func (ss *StudyServer) addClient(c *Client) {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()
	ss.clients[c] = struct{}{}
}

func (ss *StudyServer) removeClient(c *Client) {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()
	delete(ss.clients, c)
}

// ActiveUsers is the number of distinct users with a live connection,
// derived from the registry on every read.
func (ss *StudyServer) ActiveUsers() int {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()

	users := make(map[int]struct{}, len(ss.clients))
	for c := range ss.clients {
		users[c.user.Id] = struct{}{}
	}
	return len(users)
}

func (ss *StudyServer) unloadRoom(req unloadRoomRequest) {
	r, ok := ss.rooms[req.roomId]
	if !ok {
		return
	}

	ss.log.Printf("removing room %q", r.externalId)
	delete(ss.rooms, req.roomId)
	ss.stats.Decr("ActiveRooms")

	done := make(chan string)
	r.exit <- exitReq{deleted: req.deleted, done: done}
	<-done
	<-r.done
}

func (ss *StudyServer) Shutdown(ctx context.Context) error {
	ss.log.Println("received shutdown signal")

	ss.clientsLock.Lock()
	for c := range ss.clients {
		c.stopClient()
	}
	ss.clientsLock.Unlock()

	close(ss.stop)

	select {
	case <-ss.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
