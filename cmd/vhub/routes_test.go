package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/audio"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/calldb"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/config"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/monitor"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/orchestrator"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/stages"
)

type fakeStats struct {
	st  calldb.Stats
	err error
}

func (f fakeStats) URIStats(context.Context, string) (calldb.Stats, error) { return f.st, f.err }

func newTestServer(t *testing.T, db statsReader) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pipe, err := orchestrator.StartAll(ctx, stages.Builtin(stages.VAD{Config: audio.DefaultVADConfig()}), nil)
	if err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		pipe.Wait()
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{registry: pipe.Registry(), monitor: monitor.NewBroadcaster(1), db: db})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, fakeStats{})
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestStages(t *testing.T) {
	srv := newTestServer(t, fakeStats{})
	resp, err := http.Get(srv.URL + "/stages")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got []orchestrator.StageInfo
	if err = json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != len(orchestrator.Order) {
		t.Fatalf("stages=%d", len(got))
	}
	for i, info := range got {
		if info.Name != orchestrator.Order[i] || info.ID == "" {
			t.Fatalf("stage %d=%+v", i, info)
		}
	}
}

func TestCallStats(t *testing.T) {
	srv := newTestServer(t, fakeStats{st: calldb.Stats{TotalCalls: 3, RecentCalls: 1, RecentTime: time.Minute}})

	resp, err := http.Get(srv.URL + "/calls/stats?uri=sip:alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got map[string]any
	if err = json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["total_calls"] != float64(3) || got["recent_time_seconds"] != float64(60) {
		t.Fatalf("body=%v", got)
	}

	resp2, err := http.Get(srv.URL + "/calls/stats")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp2.StatusCode)
	}
}

func TestCallStats_Error(t *testing.T) {
	srv := newTestServer(t, fakeStats{err: errors.New("closed")})
	resp, err := http.Get(srv.URL + "/calls/stats?uri=x")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(t, fakeStats{})
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err = io.Copy(buf, resp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "vhub_tick_duration_seconds") {
		t.Fatal("hub metrics not registered")
	}
}

func TestPolicyFrom(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	p := policyFrom(cfg)
	if p.Tick != cfg.MainLoopSleepTime || p.HardTurnLimit != cfg.HardTurnLimit || p.LimitReachedMessage != cfg.LimitReachedMessage {
		t.Fatalf("policy=%+v", p)
	}
}
