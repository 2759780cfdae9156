package server

import (
	"time"
)

type TimerMode string

const (
	ModeFocus TimerMode = "focus"
	ModeBreak TimerMode = "break"
)

const (
	defaultFocusDuration = 25 * time.Minute
	defaultBreakDuration = 5 * time.Minute
)

// TimerState exists only while a room has a timer; a nil state is the idle
// terminal state. Remaining time is always derived from EndsAt, never
// decremented, so every participant computes the same countdown regardless
// of when they sampled it. A paused timer keeps EndsAt frozen at
// now+remaining, which makes resume a plain rebase.
type TimerState struct {
	Mode          TimerMode
	Running       bool
	EndsAt        time.Time
	FocusDuration time.Duration
	BreakDuration time.Duration
}

func (t *TimerState) Remaining(now time.Time) time.Duration {
	remaining := t.EndsAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

type TimerSync struct {
	RoomId           string     `json:"room_id"`
	Mode             TimerMode  `json:"mode"`
	IsRunning        bool       `json:"is_running"`
	EndsAt           *time.Time `json:"ends_at"`
	RemainingSeconds int        `json:"remaining_seconds"`
	FocusSeconds     int        `json:"focus_seconds,omitempty"`
	BreakSeconds     int        `json:"break_seconds,omitempty"`
}

// timerSnapshot renders the authoritative state, the canonical idle snapshot
// when no timer exists.
func (r *Room) timerSnapshot() *TimerSync {
	if r.timer == nil {
		return &TimerSync{
			RoomId:    r.externalId,
			Mode:      ModeFocus,
			IsRunning: false,
			EndsAt:    nil,
		}
	}

	t := r.timer
	endsAt := t.EndsAt
	return &TimerSync{
		RoomId:           r.externalId,
		Mode:             t.Mode,
		IsRunning:        t.Running,
		EndsAt:           &endsAt,
		RemainingSeconds: int(t.Remaining(Now()) / time.Second),
		FocusSeconds:     int(t.FocusDuration / time.Second),
		BreakSeconds:     int(t.BreakDuration / time.Second),
	}
}

func (r *Room) timerSyncMessage(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Timer: r.timerSnapshot(),
	}
}

func (r *Room) broadcastTimer() {
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Timer:       r.timerSnapshot(),
	})
}

func (r *Room) handleTimerCommand(msg *ClientMessage) {
	cmd := msg.Timer

	switch cmd.Action {
	case TimerActionStart:
		r.startTimer(msg)
	case TimerActionPause:
		r.pauseTimer(msg)
	case TimerActionResume:
		r.resumeTimer(msg)
	case TimerActionReset:
		r.resetTimer(msg)
	case TimerActionSync:
		msg.client.queueMessage(r.timerSyncMessage(msg.Id))
	default:
		msg.client.queueMessage(ErrValidation(msg.Id, "unknown timer action"))
	}
}

func (r *Room) startTimer(msg *ClientMessage) {
	cmd := msg.Timer
	if cmd.FocusMinutes < 0 || cmd.BreakMinutes < 0 {
		msg.client.queueMessage(ErrValidation(msg.Id, "durations cannot be negative"))
		return
	}

	focus := time.Duration(cmd.FocusMinutes) * time.Minute
	if focus == 0 {
		focus = defaultFocusDuration
	}
	brk := time.Duration(cmd.BreakMinutes) * time.Minute
	if brk == 0 {
		brk = defaultBreakDuration
	}

	r.timer = &TimerState{
		Mode:          ModeFocus,
		Running:       true,
		EndsAt:        Now().Add(focus),
		FocusDuration: focus,
		BreakDuration: brk,
	}
	r.killTimer.Stop()

	r.broadcastTimer()
}

func (r *Room) pauseTimer(msg *ClientMessage) {
	if r.timer == nil {
		msg.client.queueMessage(ErrInvalidState(msg.Id, "timer is not running"))
		return
	}

	if !r.timer.Running {
		// repeated pause is idempotent, the frozen snapshot is re-broadcast
		r.broadcastTimer()
		return
	}

	now := Now()
	remaining := r.timer.Remaining(now)
	r.timer.Running = false
	r.timer.EndsAt = now.Add(remaining)

	r.broadcastTimer()
}

func (r *Room) resumeTimer(msg *ClientMessage) {
	if r.timer == nil || r.timer.Running {
		msg.client.queueMessage(ErrInvalidState(msg.Id, "timer is not paused"))
		return
	}

	now := Now()
	remaining := r.timer.Remaining(now)
	if remaining <= 0 {
		// the clock caught up while paused
		r.clearTimer()
		return
	}

	r.timer.Running = true
	r.timer.EndsAt = now.Add(remaining)

	r.broadcastTimer()
}

func (r *Room) resetTimer(msg *ClientMessage) {
	r.clearTimer()
}

// clearTimer deletes the state and broadcasts the canonical idle snapshot.
func (r *Room) clearTimer() {
	r.timer = nil
	r.broadcastTimer()

	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// handleTimerTick drives the server-authoritative transitions on the room's
// one second cadence and re-broadcasts the snapshot so client clocks never
// drift far from the server's.
func (r *Room) handleTimerTick() {
	if r.timer == nil {
		return
	}

	now := Now()
	if r.timer.Running && r.timer.Remaining(now) == 0 {
		switch r.timer.Mode {
		case ModeFocus:
			// auto-continue into the break, no human action required
			r.timer.Mode = ModeBreak
			r.timer.EndsAt = now.Add(r.timer.BreakDuration)
		case ModeBreak:
			// the cycle is complete
			r.clearTimer()
			return
		}
	}

	r.broadcastTimer()
}
