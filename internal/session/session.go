// Package session holds the state of the one call the hub is serving.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NoCall is the TurnCount of a session with no active call.
const NoCall = -1

// Callback is a call-back scheduled after a rejected incoming call.
type Callback struct {
	URI    string
	FireAt time.Time
}

// Session describes the call in progress. The hub is its only owner; values
// are copied, never shared.
type Session struct {
	ID        string
	RemoteURI string
	CallStart time.Time
	TurnCount int

	SystemVoiceActive  bool
	SystemVoiceChanged time.Time
	UserVoiceActive    bool
	UserVoiceChanged   time.Time

	LastDMActivity time.Time
	HangupPending  bool
	Callback       *Callback

	// Disconnecting is set from call_disconnected until the flush cascade
	// that follows it completes.
	Disconnecting bool
}

// Idle returns the no-call state.
func Idle() Session {
	return Session{TurnCount: NoCall}
}

// Active reports whether a call is in progress.
func (s Session) Active() bool { return s.TurnCount != NoCall }

// Begin starts a new call from uri at now. A pending callback survives.
func (s Session) Begin(uri string, now time.Time) Session {
	return Session{
		ID:        uuid.NewString(),
		RemoteURI: uri,
		CallStart: now,
		TurnCount: 0,
		Callback:  s.Callback,
	}
}

// Reset returns the no-call state, keeping a pending callback.
func (s Session) Reset() Session {
	idle := Idle()
	idle.Callback = s.Callback
	return idle
}

// SetSystemVoice records a change of system output activity.
func (s Session) SetSystemVoice(active bool, now time.Time) Session {
	s.SystemVoiceActive = active
	s.SystemVoiceChanged = now
	return s
}

// SetUserVoice records a change of user speech activity.
func (s Session) SetUserVoice(active bool, now time.Time) Session {
	s.UserVoiceActive = active
	s.UserVoiceChanged = now
	return s
}

// Check verifies the session invariants.
func (s Session) Check() error {
	if s.TurnCount < NoCall {
		return &StateError{Event: "check", Reason: fmt.Sprintf("turn count %d", s.TurnCount)}
	}
	if s.HangupPending && !s.Active() {
		return &StateError{Event: "check", Reason: "hangup pending without an active call"}
	}
	return nil
}

// StateError reports an event that is invalid for the current session
// state. The hub logs and drops it.
type StateError struct {
	Event  string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session: %s: %s", e.Event, e.Reason)
}
