package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/studyhall/studyhall/internal/database"
	"github.com/studyhall/studyhall/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testDbRoom = database.Room{
	Id:         1,
	ExternalId: "study-1",
	Name:       "Study Room",
	OwnerId:    1,
	MemberIds:  []int{1, 2},
}

// joinClient drives a join through the room handler and drains the ack and
// the presence snapshot the joiner receives.
func joinClient(t *testing.T, r *Room, c *Client) {
	t.Helper()

	r.handleJoin(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Join:        &Join{RoomId: r.externalId},
		UserId:      c.user.Id,
		client:      c,
	})

	msg := recvMessage(t, c)
	require.NotNil(t, msg.Joined, "expected join ack")

	snapshot := recvMessage(t, c)
	require.NotNil(t, snapshot.Presence, "expected presence snapshot")
}

// drain discards any queued messages so a test can assert on what follows.
func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func Test_handleJoin_ackPrecedesSnapshot(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	r := newTestRoom(t, ss, testDbRoom)
	c := newTestClient(t, 1, "alice")

	r.handleJoin(&ClientMessage{
		BaseMessage: BaseMessage{Id: 42},
		Join:        &Join{RoomId: r.externalId},
		UserId:      1,
		client:      c,
	})

	ack := recvMessage(t, c)
	require.NotNil(t, ack.Joined, "expected the first message to be the ack")
	assert.Equal(t, 42, ack.Id, "expected ack to carry the request id")
	assert.Equal(t, c.id, ack.Joined.ConnId, "expected ack to carry the connection id")

	snapshot := recvMessage(t, c)
	require.NotNil(t, snapshot.Presence, "expected the second message to be the snapshot")
	require.Len(t, snapshot.Presence.Users, 1)
	assert.Equal(t, types.StatusIdle, snapshot.Presence.Users[0].Status, "expected joiner to start idle")
	assert.Equal(t, r, c.currentRoom(), "expected client room pointer to be set")
}

func Test_handleJoin_privateRoomDenied(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	dbRoom := testDbRoom
	dbRoom.IsPrivate = true
	r := newTestRoom(t, ss, dbRoom)

	stranger := newTestClient(t, 99, "mallory")
	r.handleJoin(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Join:        &Join{RoomId: r.externalId},
		UserId:      99,
		client:      stranger,
	})

	msg := recvMessage(t, stranger)
	require.NotNil(t, msg.Response, "expected error response")
	assert.Equal(t, http.StatusForbidden, msg.Response.ResponseCode, "expected access denied")
	assert.Empty(t, r.clients, "expected stranger to not be admitted")
	assert.Nil(t, stranger.currentRoom(), "expected client room pointer to stay nil")

	member := newTestClient(t, 2, "bob")
	joinClient(t, r, member)
	assert.Contains(t, r.clients, member, "expected member to be admitted")
}

func Test_handleLeave(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	r := newTestRoom(t, ss, testDbRoom)
	c := newTestClient(t, 1, "alice")
	joinClient(t, r, c)

	done := make(chan struct{})
	r.handleLeave(&ClientMessage{
		BaseMessage: BaseMessage{Id: 5},
		Leave:       &Leave{RoomId: r.externalId},
		UserId:      1,
		client:      c,
		leaveDone:   done,
	})

	select {
	case <-done:
	default:
		t.Fatal("expected leaveDone to be closed")
	}

	assert.NotContains(t, r.clients, c, "expected client to be removed")
	assert.Empty(t, r.presence, "expected presence entry to be removed")
	assert.Nil(t, c.currentRoom(), "expected client room pointer to be cleared")

	msg := recvMessage(t, c)
	require.NotNil(t, msg.Response, "expected ack")
	assert.Equal(t, http.StatusOK, msg.Response.ResponseCode, "expected OK ack")

	// leaving again is a no-op but still acknowledged
	r.handleLeave(&ClientMessage{
		BaseMessage: BaseMessage{Id: 6},
		Leave:       &Leave{RoomId: r.externalId},
		UserId:      1,
		client:      c,
	})
	msg = recvMessage(t, c)
	require.NotNil(t, msg.Response, "expected ack for repeated leave")
	assert.Equal(t, http.StatusOK, msg.Response.ResponseCode, "expected repeated leave to ack OK")
}

func Test_dispatch_rejectsBeforeJoinAck(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	r := newTestRoom(t, ss, testDbRoom)
	c := newTestClient(t, 1, "alice")

	r.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 2},
		Publish:     &Publish{RoomId: r.externalId, Content: "hello"},
		UserId:      1,
		client:      c,
	})

	msg := recvMessage(t, c)
	require.NotNil(t, msg.Response, "expected error response")
	assert.Equal(t, http.StatusUnprocessableEntity, msg.Response.ResponseCode, "expected join not complete")
	assert.Equal(t, "join not complete", msg.Response.Error)
}

func Test_dispatch_syncAllowedWithoutJoin(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	r := newTestRoom(t, ss, testDbRoom)
	c := newTestClient(t, 1, "alice")

	r.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 3},
		Timer:       &TimerCommand{RoomId: r.externalId, Action: TimerActionSync},
		UserId:      1,
		client:      c,
	})

	msg := recvMessage(t, c)
	require.NotNil(t, msg.Timer, "expected timer snapshot")
	assert.Equal(t, ModeFocus, msg.Timer.Mode, "expected canonical idle snapshot")
	assert.False(t, msg.Timer.IsRunning)
}

func Test_saveAndBroadcast(t *testing.T) {
	db := &database.MockStudyHallRepository{}
	created := database.Message{Id: 77, RoomId: 1, UserId: 1, Content: "hello room", CreatedAt: Now()}
	db.On("CreateMessage", database.CreateMessageParams{RoomId: 1, UserId: 1, Content: "hello room"}).
		Return(created, nil)
	defer db.AssertExpectations(t)

	ss := newTestStudyServer(t, db)
	r := newTestRoom(t, ss, testDbRoom)

	alice := newTestClient(t, 1, "alice")
	bob := newTestClient(t, 2, "bob")
	joinClient(t, r, alice)
	joinClient(t, r, bob)
	drain(alice)

	r.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 9, Timestamp: Now()},
		Publish:     &Publish{RoomId: r.externalId, Content: "  hello room  "},
		UserId:      1,
		client:      alice,
	})

	// both members receive the identical persisted record, author included
	for _, c := range []*Client{alice, bob} {
		msg := recvMessage(t, c)
		require.NotNil(t, msg.Message, "expected chat message")
		assert.Equal(t, 77, msg.Message.Id, "expected the server-assigned id")
		assert.Equal(t, r.externalId, msg.Message.RoomId)
		assert.Equal(t, "alice", msg.Message.Username)
		assert.Equal(t, "hello room", msg.Message.Content, "expected trimmed content")
	}
}

func Test_saveAndBroadcast_validation(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	r := newTestRoom(t, ss, testDbRoom)
	c := newTestClient(t, 1, "alice")
	joinClient(t, r, c)

	tcases := []struct {
		name    string
		content string
	}{
		{name: "empty", content: ""},
		{name: "whitespace only", content: "   \t  "},
		{name: "too long", content: strings.Repeat("a", maxChatLength+1)},
		{name: "too long multibyte", content: strings.Repeat("é", maxChatLength+1)},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r.dispatch(&ClientMessage{
				BaseMessage: BaseMessage{Id: 4},
				Publish:     &Publish{RoomId: r.externalId, Content: tc.content},
				UserId:      1,
				client:      c,
			})

			msg := recvMessage(t, c)
			require.NotNil(t, msg.Response, "expected error response")
			assert.Equal(t, http.StatusBadRequest, msg.Response.ResponseCode, "expected validation error")
		})
	}
}

func Test_saveAndBroadcast_muteIsAdvisory(t *testing.T) {
	db := &database.MockStudyHallRepository{}
	db.On("CreateMessage", mock.Anything).Return(database.Message{Id: 1, CreatedAt: Now()}, nil)
	defer db.AssertExpectations(t)

	ss := newTestStudyServer(t, db)
	r := newTestRoom(t, ss, testDbRoom)
	c := newTestClient(t, 2, "bob")
	joinClient(t, r, c)

	r.mutes[2] = Now().Add(time.Minute)

	r.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 8},
		Publish:     &Publish{RoomId: r.externalId, Content: "let me talk"},
		UserId:      2,
		client:      c,
	})

	// the mute list is bookkeeping only, delivery is not gated on it
	msg := recvMessage(t, c)
	require.NotNil(t, msg.Message, "expected the message to be delivered despite the mute")
	assert.Contains(t, r.mutes, 2, "expected the active mute entry to survive")
}

func Test_saveAndBroadcast_countsRunesNotBytes(t *testing.T) {
	content := strings.Repeat("é", 600)

	db := &database.MockStudyHallRepository{}
	db.On("CreateMessage", database.CreateMessageParams{RoomId: 1, UserId: 1, Content: content}).
		Return(database.Message{Id: 3, RoomId: 1, UserId: 1, Content: content, CreatedAt: Now()}, nil)
	defer db.AssertExpectations(t)

	ss := newTestStudyServer(t, db)
	r := newTestRoom(t, ss, testDbRoom)
	c := newTestClient(t, 1, "alice")
	joinClient(t, r, c)

	r.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 6},
		Publish:     &Publish{RoomId: r.externalId, Content: content},
		UserId:      1,
		client:      c,
	})

	// 600 characters of two-byte runes is well within the limit
	msg := recvMessage(t, c)
	require.NotNil(t, msg.Message, "expected multibyte message to be accepted")
	assert.Equal(t, content, msg.Message.Content)
}

func Test_saveAndBroadcast_expiredMuteCleared(t *testing.T) {
	db := &database.MockStudyHallRepository{}
	db.On("CreateMessage", mock.Anything).Return(database.Message{Id: 1, CreatedAt: Now()}, nil)
	defer db.AssertExpectations(t)

	ss := newTestStudyServer(t, db)
	r := newTestRoom(t, ss, testDbRoom)
	c := newTestClient(t, 2, "bob")
	joinClient(t, r, c)

	r.mutes[2] = Now().Add(-time.Minute)

	r.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 8},
		Publish:     &Publish{RoomId: r.externalId, Content: "back again"},
		UserId:      2,
		client:      c,
	})

	msg := recvMessage(t, c)
	require.NotNil(t, msg.Message, "expected expired mute to not block the message")
	assert.NotContains(t, r.mutes, 2, "expected expired mute entry to be dropped")
}

func Test_handlePresenceUpdate(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	r := newTestRoom(t, ss, testDbRoom)
	c := newTestClient(t, 1, "alice")
	joinClient(t, r, c)

	r.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 2},
		Presence:    &PresenceUpdate{Status: types.StatusStudying},
		UserId:      1,
		client:      c,
	})

	msg := recvMessage(t, c)
	require.NotNil(t, msg.Presence, "expected presence snapshot broadcast")
	require.Len(t, msg.Presence.Users, 1)
	assert.Equal(t, types.StatusStudying, msg.Presence.Users[0].Status, "expected updated status")

	r.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 3},
		Presence:    &PresenceUpdate{Status: "sleeping"},
		UserId:      1,
		client:      c,
	})

	msg = recvMessage(t, c)
	require.NotNil(t, msg.Response, "expected error response")
	assert.Equal(t, http.StatusBadRequest, msg.Response.ResponseCode, "expected unknown status to be rejected")
	assert.Equal(t, types.StatusStudying, r.presence[1].Status, "expected status to be unchanged")
}

func Test_handleTyping(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	r := newTestRoom(t, ss, testDbRoom)

	alice := newTestClient(t, 1, "alice")
	bob := newTestClient(t, 2, "bob")
	joinClient(t, r, alice)
	joinClient(t, r, bob)
	drain(alice)

	r.dispatch(&ClientMessage{
		Typing: &Typing{RoomId: r.externalId, IsTyping: true},
		UserId: 1,
		client: alice,
	})

	// the typing start skips the author
	assertNoMessage(t, alice)
	msg := recvMessage(t, bob)
	require.NotNil(t, msg.Typing, "expected typing event")
	assert.Equal(t, 1, msg.Typing.UserId)
	assert.True(t, msg.Typing.IsTyping)
	assert.Contains(t, r.typing, 1, "expected typing entry to be recorded")

	r.dispatch(&ClientMessage{
		Typing: &Typing{RoomId: r.externalId, IsTyping: false},
		UserId: 1,
		client: alice,
	})

	// the explicit stop also skips the author
	assertNoMessage(t, alice)
	msg = recvMessage(t, bob)
	require.NotNil(t, msg.Typing, "expected typing stop event")
	assert.False(t, msg.Typing.IsTyping)
	assert.NotContains(t, r.typing, 1, "expected typing entry to be cleared")

	// an explicit stop while not typing broadcasts nothing
	r.dispatch(&ClientMessage{
		Typing: &Typing{RoomId: r.externalId, IsTyping: false},
		UserId: 1,
		client: alice,
	})
	assertNoMessage(t, bob)
}

func Test_handleTypingExpiry(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	r := newTestRoom(t, ss, testDbRoom)
	c := newTestClient(t, 1, "alice")
	joinClient(t, r, c)

	startedAt := Now()
	r.typing[1] = startedAt

	// a stale expiry from before a re-type is ignored
	r.typing[1] = startedAt.Add(time.Second)
	r.handleTypingExpiry(typingExpiry{userId: 1, startedAt: startedAt})
	assert.Contains(t, r.typing, 1, "expected stale expiry to be ignored")
	assertNoMessage(t, c)

	// a current expiry clears the entry and broadcasts the stop
	r.handleTypingExpiry(typingExpiry{userId: 1, startedAt: startedAt.Add(time.Second)})
	assert.NotContains(t, r.typing, 1, "expected expiry to clear the entry")

	msg := recvMessage(t, c)
	require.NotNil(t, msg.Typing, "expected typing stop broadcast")
	assert.False(t, msg.Typing.IsTyping)

	// expiry for a user who already stopped is a no-op
	r.handleTypingExpiry(typingExpiry{userId: 1, startedAt: startedAt})
	assertNoMessage(t, c)
}

func Test_handleMute(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	r := newTestRoom(t, ss, testDbRoom)

	owner := newTestClient(t, 1, "alice")
	member := newTestClient(t, 2, "bob")
	joinClient(t, r, owner)
	joinClient(t, r, member)
	drain(owner)

	t.Run("non-owner denied", func(t *testing.T) {
		r.dispatch(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Mute:        &Mute{RoomId: r.externalId, UserId: 1, Minutes: 5},
			UserId:      2,
			client:      member,
		})

		msg := recvMessage(t, member)
		require.NotNil(t, msg.Response)
		assert.Equal(t, http.StatusForbidden, msg.Response.ResponseCode, "expected only the owner to mute")
	})

	t.Run("minutes must be positive", func(t *testing.T) {
		r.dispatch(&ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			Mute:        &Mute{RoomId: r.externalId, UserId: 2, Minutes: 0},
			UserId:      1,
			client:      owner,
		})

		msg := recvMessage(t, owner)
		require.NotNil(t, msg.Response)
		assert.Equal(t, http.StatusBadRequest, msg.Response.ResponseCode)
	})

	t.Run("target not present", func(t *testing.T) {
		r.dispatch(&ClientMessage{
			BaseMessage: BaseMessage{Id: 3},
			Mute:        &Mute{RoomId: r.externalId, UserId: 99, Minutes: 5},
			UserId:      1,
			client:      owner,
		})

		msg := recvMessage(t, owner)
		require.NotNil(t, msg.Response)
		assert.Equal(t, http.StatusConflict, msg.Response.ResponseCode, "expected absent target to conflict")
	})

	t.Run("mute broadcast to the room", func(t *testing.T) {
		r.dispatch(&ClientMessage{
			BaseMessage: BaseMessage{Id: 4},
			Mute:        &Mute{RoomId: r.externalId, UserId: 2, Minutes: 5},
			UserId:      1,
			client:      owner,
		})

		for _, c := range []*Client{owner, member} {
			msg := recvMessage(t, c)
			require.NotNil(t, msg.UserMuted, "expected mute broadcast")
			assert.Equal(t, 2, msg.UserMuted.UserId)
			assert.Equal(t, 5, msg.UserMuted.Minutes)
		}
		assert.Contains(t, r.mutes, 2, "expected mute entry to be recorded")
	})
}

func Test_sweepMutes(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	r := newTestRoom(t, ss, testDbRoom)

	r.mutes[1] = Now().Add(-time.Minute)
	r.mutes[2] = Now().Add(time.Minute)

	r.sweepMutes()

	assert.NotContains(t, r.mutes, 1, "expected expired mute to be swept")
	assert.Contains(t, r.mutes, 2, "expected active mute to survive")
}

func Test_removeClient_releasesSharer(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	r := newTestRoom(t, ss, testDbRoom)

	sharer := newTestClient(t, 1, "alice")
	viewer := newTestClient(t, 2, "bob")
	joinClient(t, r, sharer)
	joinClient(t, r, viewer)
	drain(sharer)

	r.sharer = sharer
	r.removeClient(sharer)

	assert.Nil(t, r.sharer, "expected sharer slot to be released")

	msg := recvMessage(t, viewer)
	require.NotNil(t, msg.Share, "expected viewers to be told the share stopped")
	assert.Equal(t, ShareActionStop, msg.Share.Action)

	snapshot := recvMessage(t, viewer)
	require.NotNil(t, snapshot.Presence, "expected presence broadcast after removal")
	require.Len(t, snapshot.Presence.Users, 1, "expected only the viewer to remain")
}

func Test_removeClient_keepsPresenceForSecondConnection(t *testing.T) {
	ss := newTestStudyServer(t, &database.MockStudyHallRepository{})
	r := newTestRoom(t, ss, testDbRoom)

	conn1 := newTestClient(t, 1, "alice")
	conn2 := newTestClient(t, 1, "alice")
	joinClient(t, r, conn1)
	joinClient(t, r, conn2)

	r.removeClient(conn1)

	assert.Contains(t, r.presence, 1, "expected presence to survive while a connection remains")

	r.removeClient(conn2)
	assert.NotContains(t, r.presence, 1, "expected presence to be removed with the last connection")
}
