package orchestrator

import (
	"context"
	"fmt"

	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/command"
)

// Name identifies a pipeline stage.
type Name string

const (
	LineIO Name = "vio"
	VAD    Name = "vad"
	ASR    Name = "asr"
	SLU    Name = "slu"
	DM     Name = "dm"
	NLG    Name = "nlg"
	TTS    Name = "tts"
)

// Order is the fixed pipeline order. Polling and every flush cascade walk it.
var Order = [...]Name{LineIO, VAD, ASR, SLU, DM, NLG, TTS}

// Index returns the position of name in Order, or -1.
func Index(name Name) int {
	for i, n := range Order {
		if n == name {
			return i
		}
	}
	return -1
}

// Next returns the stage after name in pipeline order. TTS has no successor.
func Next(name Name) (Name, bool) {
	i := Index(name)
	if i < 0 || i+1 >= len(Order) {
		return "", false
	}
	return Order[i+1], true
}

// Ports are the channel ends handed to a running stage. A stage must not
// close any of them; the pipeline closes Events once Run returns.
type Ports struct {
	Commands <-chan command.Command // from the hub
	Events   chan<- command.Command // to the hub
	In       <-chan []byte          // from the previous stage's data output
	Out      chan<- []byte          // to the next stage's data input
}

// Stage is one independently running processing unit. Run blocks until the
// stage receives stop or ctx is cancelled.
type Stage interface {
	Run(ctx context.Context, ports Ports) error
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx context.Context, ports Ports) error

func (f StageFunc) Run(ctx context.Context, ports Ports) error { return f(ctx, ports) }

// StageUnavailableError reports a stage whose channel is closed or wedged.
// It is fatal to the hub.
type StageUnavailableError struct {
	Stage  Name
	Reason string
}

func (e *StageUnavailableError) Error() string {
	return fmt.Sprintf("stage %s unavailable: %s", e.Stage, e.Reason)
}
