package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/command"
)

// ackStage answers flush with flushed and returns on stop.
func ackStage(name Name) Stage {
	return StageFunc(func(ctx context.Context, ports Ports) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c := <-ports.Commands:
				switch c.Kind {
				case command.KindStop:
					return nil
				case command.KindFlush:
					ports.Events <- command.New(command.Flushed, nil, string(name), "HUB")
				}
			case d := <-ports.In:
				ports.Out <- d
			}
		}
	})
}

func allStages(override map[Name]Stage) map[Name]Stage {
	out := map[Name]Stage{}
	for _, n := range Order {
		out[n] = ackStage(n)
	}
	for n, s := range override {
		out[n] = s
	}
	return out
}

func pollWithin(t *testing.T, ep *Endpoint, d time.Duration) command.Command {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		c, ok, err := ep.Poll()
		if err != nil {
			t.Fatalf("Poll(%s) error = %v", ep.Name(), err)
		}
		if ok {
			return c
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no event from %s within %v", ep.Name(), d)
	return command.Command{}
}

func TestNext_WalksOrder(t *testing.T) {
	want := []Name{VAD, ASR, SLU, DM, NLG, TTS}
	for i, from := range Order[:len(Order)-1] {
		got, ok := Next(from)
		if !ok || got != want[i] {
			t.Fatalf("Next(%s)=%s,%v want %s", from, got, ok, want[i])
		}
	}
	if _, ok := Next(TTS); ok {
		t.Fatal("TTS must have no successor")
	}
}

func TestStartAll_RequiresEveryStage(t *testing.T) {
	stages := allStages(nil)
	delete(stages, DM)
	if _, err := StartAll(context.Background(), stages, nil); err == nil {
		t.Fatal("expected error for missing stage")
	}
}

func TestPipeline_FlushAckAndStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := StartAll(ctx, allStages(nil), nil)
	if err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}

	ep := p.Endpoint(ASR)
	if err = ep.Send(command.New(command.Flush, nil, "HUB", "asr")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got := pollWithin(t, ep, time.Second)
	if got.Kind != command.KindFlushed {
		t.Fatalf("got %s, want flushed", got)
	}

	p.StopAll("HUB")
	if err = p.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	for _, info := range p.Registry().StatusAll() {
		if info.Status != StatusStopped {
			t.Fatalf("%s status=%s, want stopped", info.Name, info.Status)
		}
	}
}

func TestPipeline_DataWiring(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []byte, 1)
	sink := StageFunc(func(ctx context.Context, ports Ports) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c := <-ports.Commands:
				if c.Kind == command.KindStop {
					return nil
				}
			case d := <-ports.In:
				got <- d
			}
		}
	})
	source := StageFunc(func(ctx context.Context, ports Ports) error {
		ports.Out <- []byte("frame")
		<-ctx.Done()
		return ctx.Err()
	})

	p, err := StartAll(ctx, allStages(map[Name]Stage{LineIO: sink, VAD: source}), nil)
	if err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}

	select {
	case d := <-got:
		if string(d) != "frame" {
			t.Fatalf("data=%q", d)
		}
	case <-time.After(time.Second):
		t.Fatal("frame did not travel vad → … → tts → vio")
	}

	cancel()
	if err = p.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestPipeline_ExitedStageIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("boom")
	crash := StageFunc(func(ctx context.Context, ports Ports) error { return boom })

	p, err := StartAll(ctx, allStages(map[Name]Stage{NLG: crash}), nil)
	if err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}

	ep := p.Endpoint(NLG)
	deadline := time.Now().Add(time.Second)
	var pollErr error
	for time.Now().Before(deadline) && pollErr == nil {
		_, _, pollErr = ep.Poll()
		time.Sleep(time.Millisecond)
	}
	var unavailable *StageUnavailableError
	if !errors.As(pollErr, &unavailable) || unavailable.Stage != NLG {
		t.Fatalf("Poll() err=%v, want StageUnavailableError for nlg", pollErr)
	}
	if err = ep.Send(command.New(command.Flush, nil, "HUB", "nlg")); !errors.As(err, &unavailable) {
		t.Fatalf("Send() err=%v, want StageUnavailableError", err)
	}

	cancel()
	if err = p.Wait(); !errors.Is(err, boom) {
		t.Fatalf("Wait() err=%v, want boom", err)
	}
	info, _ := p.Registry().Lookup(NLG)
	if info.Status != StatusFailed {
		t.Fatalf("nlg status=%s", info.Status)
	}
}

func TestPipeline_DrainIsNonBlocking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chatty := StageFunc(func(ctx context.Context, ports Ports) error {
		for i := 0; i < 5; i++ {
			ports.Events <- command.New(command.SpeechStart, nil, "vad", "HUB")
		}
		<-ctx.Done()
		return ctx.Err()
	})
	p, err := StartAll(ctx, allStages(map[Name]Stage{VAD: chatty}), nil)
	if err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	pollWithin(t, p.Endpoint(VAD), time.Second)
	time.Sleep(20 * time.Millisecond)

	p.Drain()
	if _, ok, _ := p.Endpoint(VAD).Poll(); ok {
		t.Fatal("events left after Drain")
	}
	cancel()
	p.Wait()
}

func TestRegistry_WriteProcessRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := StartAll(ctx, allStages(nil), nil)
	if err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "vhub.pid")
	if err = p.Registry().WriteProcessRecord(path, 4242); err != nil {
		t.Fatalf("WriteProcessRecord() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 8 {
		t.Fatalf("lines=%d, want 8: %q", len(lines), data)
	}
	if lines[0] != "vhub: 4242" {
		t.Fatalf("first line=%q", lines[0])
	}
	for i, name := range Order {
		info, _ := p.Registry().Lookup(name)
		if lines[i+1] != string(name)+": "+info.ID {
			t.Fatalf("line %d=%q", i+1, lines[i+1])
		}
	}
	cancel()
	p.Wait()
}
