package session

import (
	"testing"
	"time"
)

func TestIdle_HasNoCall(t *testing.T) {
	s := Idle()
	if s.Active() {
		t.Fatal("idle session reports an active call")
	}
	if err := s.Check(); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
}

func TestBegin_KeepsCallback(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := &Callback{URI: "sip:a@b", FireAt: now.Add(5 * time.Second)}
	s := Idle()
	s.Callback = cb
	s.HangupPending = false

	s = s.Begin("sip:c@d", now)
	if !s.Active() || s.TurnCount != 0 {
		t.Fatalf("turn=%d", s.TurnCount)
	}
	if s.ID == "" {
		t.Fatal("expected session id")
	}
	if s.Callback != cb {
		t.Fatal("callback dropped on Begin")
	}
	if !s.CallStart.Equal(now) || s.RemoteURI != "sip:c@d" {
		t.Fatalf("got %+v", s)
	}

	s = s.Reset()
	if s.Active() || s.Callback != cb {
		t.Fatalf("Reset() = %+v", s)
	}
}

func TestCheck_HangupRequiresCall(t *testing.T) {
	s := Idle()
	s.HangupPending = true
	if err := s.Check(); err == nil {
		t.Fatal("expected invariant violation")
	}
}

func TestSetVoice_Timestamps(t *testing.T) {
	t0 := time.Unix(50, 0)
	s := Idle().SetSystemVoice(true, t0).SetUserVoice(true, t0.Add(time.Second))
	if !s.SystemVoiceActive || !s.SystemVoiceChanged.Equal(t0) {
		t.Fatalf("system voice %+v", s)
	}
	if !s.UserVoiceActive || !s.UserVoiceChanged.Equal(t0.Add(time.Second)) {
		t.Fatalf("user voice %+v", s)
	}
}
