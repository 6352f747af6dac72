package hub

import (
	"strconv"
	"time"

	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/calldb"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/command"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/orchestrator"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/session"
)

const (
	// bargeInGuard separates an interruption from near-simultaneous onset
	// of user and system voice.
	bargeInGuard = 20 * time.Millisecond

	// quiescence is how long the dialogue manager and the system voice must
	// both be silent before a soft hangup goes through.
	quiescence = 2 * time.Second
)

// directive is one command the hub sends to a stage.
type directive struct {
	to  orchestrator.Name
	cmd command.Command
}

func send(to orchestrator.Name, name string, args map[string]string) directive {
	return directive{to: to, cmd: command.New(name, args, Sender, string(to))}
}

// Each transition below is a pure function of the session and the event.

func onRejectedCall(s session.Session, uri string, now time.Time, p Policy) session.Session {
	s.Callback = &session.Callback{URI: uri, FireAt: now.Add(p.CallbackDelay)}
	return s
}

// overLimit reports whether a caller has used up its allowance for the period.
func overLimit(st calldb.Stats, p Policy) bool {
	return st.RecentCalls > p.MaxRecentCalls || st.RecentTime > p.MaxRecentTime
}

func onCallConfirmed(s session.Session, uri string, st calldb.Stats, now time.Time, p Policy) (session.Session, []directive, bool, error) {
	if s.Active() {
		return s, nil, false, &session.StateError{Event: command.CallConfirmed, Reason: "a call is already active"}
	}
	if s.Disconnecting {
		return s, nil, false, &session.StateError{Event: command.CallConfirmed, Reason: "previous call still flushing"}
	}

	s = s.Begin(uri, now)
	if !overLimit(st, p) {
		return s, []directive{send(orchestrator.DM, command.NewDialogue, nil)}, true, nil
	}

	// The limit message is about to play; the soft hangup waits for it.
	s = s.SetSystemVoice(true, now)
	s.HangupPending = true
	expire := now.Add(p.BlacklistFor).Unix()
	return s, []directive{
		send(orchestrator.TTS, command.Synthesize, map[string]string{
			"text": p.LimitReachedMessage,
			"log":  "false",
		}),
		send(orchestrator.LineIO, command.BlackList, map[string]string{
			"remote_uri": uri,
			"expire":     strconv.FormatInt(expire, 10),
		}),
	}, false, nil
}

func onCallDisconnected(s session.Session) (session.Session, []directive, error) {
	if s.Disconnecting {
		return s, nil, &session.StateError{Event: command.CallDisconnected, Reason: "flush cascade already running"}
	}
	s.Disconnecting = true
	s.HangupPending = false
	return s, []directive{send(orchestrator.LineIO, command.Flush, nil)}, nil
}

// onSpeechStart records user voice and cuts system output on barge-in.
func onSpeechStart(s session.Session, now time.Time) (session.Session, []directive) {
	s = s.SetUserVoice(true, now)
	if !s.SystemVoiceActive || now.Sub(s.SystemVoiceChanged) <= bargeInGuard {
		return s, nil
	}
	s = s.SetSystemVoice(false, now)
	return s, []directive{send(orchestrator.NLG, command.Flush, nil)}
}

func onHangupRequest(s session.Session) (session.Session, error) {
	if !s.Active() {
		return s, &session.StateError{Event: command.Hangup, Reason: "no active call"}
	}
	if s.Disconnecting {
		return s, &session.StateError{Event: command.Hangup, Reason: "line already disconnected"}
	}
	s.HangupPending = true
	return s, nil
}

func onDialogueAct(s session.Session, now time.Time) (session.Session, error) {
	if !s.Active() {
		return s, &session.StateError{Event: command.DMDAGenerated, Reason: "no active call"}
	}
	s.LastDMActivity = now
	s.TurnCount++
	return s, nil
}

// flushSuccessors returns what an acknowledged flush of stage from triggers.
func flushSuccessors(from orchestrator.Name) []directive {
	switch from {
	case orchestrator.DM:
		return []directive{
			send(orchestrator.DM, command.EndDialogue, nil),
			send(orchestrator.NLG, command.Flush, nil),
		}
	case orchestrator.TTS:
		return []directive{send(orchestrator.LineIO, command.FlushOut, nil)}
	}
	next, ok := orchestrator.Next(from)
	if !ok {
		return nil
	}
	return []directive{send(next, command.Flush, nil)}
}

// Timer checks, run every tick in this order.

func checkSoftHangup(s session.Session, now time.Time) (session.Session, []directive) {
	if !s.HangupPending || s.Disconnecting ||
		now.Sub(s.LastDMActivity) <= quiescence ||
		s.SystemVoiceActive ||
		now.Sub(s.SystemVoiceChanged) <= quiescence {
		return s, nil
	}
	s.HangupPending = false
	return s, []directive{send(orchestrator.LineIO, command.Hangup, nil)}
}

func checkHardLimit(s session.Session, now time.Time, p Policy) (session.Session, []directive) {
	if !s.Active() || s.Disconnecting {
		return s, nil
	}
	if now.Sub(s.CallStart) <= p.HardTimeLimit && s.TurnCount <= p.HardTurnLimit {
		return s, nil
	}
	s.TurnCount = session.NoCall
	s.HangupPending = false
	return s, []directive{send(orchestrator.LineIO, command.Hangup, nil)}
}

func checkCallback(s session.Session, now time.Time) (session.Session, []directive) {
	if s.Callback == nil || now.Before(s.Callback.FireAt) {
		return s, nil
	}
	uri := s.Callback.URI
	s.Callback = nil
	return s, []directive{send(orchestrator.LineIO, command.MakeCall, map[string]string{"destination": uri})}
}
