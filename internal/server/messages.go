package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/studyhall/studyhall/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the inbound envelope. Exactly one intent field is set.
type ClientMessage struct {
	BaseMessage
	Join      *Join           `json:"join,omitempty"`
	Leave     *Leave          `json:"leave,omitempty"`
	Presence  *PresenceUpdate `json:"presence,omitempty"`
	Publish   *Publish        `json:"publish,omitempty"`
	Typing    *Typing         `json:"typing,omitempty"`
	Mute      *Mute           `json:"mute,omitempty"`
	Timer     *TimerCommand   `json:"timer,omitempty"`
	Share     *ShareCommand   `json:"share,omitempty"`
	Subscribe *Subscribe      `json:"subscribe,omitempty"`
	UserId    int             `json:"-"`
	client    *Client         `json:"-"`
	// leaveDone is closed by the room once the presence entry is removed
	// and the updated snapshot has been broadcast. Room switches wait on it
	// so a connection is never present in two rooms at once.
	leaveDone chan struct{} `json:"-"`
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct {
	RoomId string `json:"room_id,omitempty"`
}

type PresenceUpdate struct {
	Status types.PresenceStatus `json:"status"`
}

type Publish struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

type Typing struct {
	RoomId   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type Mute struct {
	RoomId  string `json:"room_id"`
	UserId  int    `json:"user_id"`
	Minutes int    `json:"minutes"`
}

const (
	TimerActionStart  = "start"
	TimerActionPause  = "pause"
	TimerActionResume = "resume"
	TimerActionReset  = "reset"
	TimerActionSync   = "sync"
)

type TimerCommand struct {
	RoomId       string `json:"room_id"`
	Action       string `json:"action"`
	FocusMinutes int    `json:"focus_minutes,omitempty"`
	BreakMinutes int    `json:"break_minutes,omitempty"`
}

const (
	ShareActionStart     = "start"
	ShareActionStop      = "stop"
	ShareActionCandidate = "candidate"
	ShareActionAnswer    = "answer"
)

type ShareCommand struct {
	RoomId       string          `json:"room_id"`
	Action       string          `json:"action"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	TargetConnId string          `json:"target_conn_id,omitempty"`
}

type Subscribe struct{}

// ServerMessage is the outbound envelope.
type ServerMessage struct {
	BaseMessage
	Response     *Response          `json:"response,omitempty"`
	Joined       *Joined            `json:"joined,omitempty"`
	Presence     *PresenceSnapshot  `json:"presence,omitempty"`
	Message      *types.Message     `json:"message,omitempty"`
	Typing       *TypingEvent       `json:"typing,omitempty"`
	UserMuted    *UserMuted         `json:"user_muted,omitempty"`
	Timer        *TimerSync         `json:"timer,omitempty"`
	Share        *ShareEvent        `json:"share,omitempty"`
	Notification *Notification      `json:"notification,omitempty"`
	UserId       int                `json:"-"`
	SkipClient   *Client            `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Joined acknowledges a successful join. It is sent only to the joining
// connection and is the signal that room-scoped events from that connection
// will be accepted.
type Joined struct {
	ConnId string     `json:"conn_id"`
	Room   types.Room `json:"room"`
}

type PresenceSnapshot struct {
	RoomId string                `json:"room_id"`
	Users  []types.PresenceEntry `json:"users"`
}

type TypingEvent struct {
	RoomId   string `json:"room_id"`
	UserId   int    `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type UserMuted struct {
	RoomId    string    `json:"room_id"`
	UserId    int       `json:"user_id"`
	Minutes   int       `json:"minutes"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ShareEvent struct {
	RoomId     string          `json:"room_id"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	FromConnId string          `json:"from_conn_id,omitempty"`
	FromUserId int             `json:"from_user_id,omitempty"`
}

type Notification struct {
	Kind   string `json:"kind"`
	RoomId string `json:"room_id,omitempty"`
	Text   string `json:"text,omitempty"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func errResponse(id, code int, msg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "room not found")
}

func ErrNotFound(id int, msg string) *ServerMessage {
	return errResponse(id, http.StatusNotFound, msg)
}

func ErrAccessDenied(id int, msg string) *ServerMessage {
	return errResponse(id, http.StatusForbidden, msg)
}

func ErrValidation(id int, msg string) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, msg)
}

func ErrConflict(id int, msg string) *ServerMessage {
	return errResponse(id, http.StatusConflict, msg)
}

func ErrInvalidState(id int, msg string) *ServerMessage {
	return errResponse(id, http.StatusUnprocessableEntity, msg)
}

// ErrJoinNotComplete rejects room-scoped events sent before the join ack.
func ErrJoinNotComplete(id int) *ServerMessage {
	return errResponse(id, http.StatusUnprocessableEntity, "join not complete")
}

func ErrInternalError(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return errResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := errResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
