// Package stages holds the built-in pipeline stages the hub launches.
package stages

import (
	"context"
	"log/slog"

	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/command"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/orchestrator"
)

const hub = "HUB"

// Builtin returns one stage per pipeline slot: an energy VAD for vad and a
// Relay everywhere else. The line relay plays nothing, so it sinks the
// synthesized audio instead of looping it back into the VAD.
func Builtin(vad VAD) map[orchestrator.Name]orchestrator.Stage {
	out := make(map[orchestrator.Name]orchestrator.Stage, len(orchestrator.Order))
	for _, name := range orchestrator.Order {
		out[name] = Relay{Name: name}
	}
	out[orchestrator.LineIO] = Relay{Name: orchestrator.LineIO, DropInput: true}
	out[orchestrator.VAD] = vad
	return out
}

// notify raises an event to the hub, giving up if ctx ends first.
func notify(ctx context.Context, ports orchestrator.Ports, from orchestrator.Name, name string, args map[string]string) error {
	select {
	case ports.Events <- command.New(name, args, string(from), hub):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forward passes a data chunk on, dropping it if the next stage is behind.
func forward(ports orchestrator.Ports, from orchestrator.Name, data []byte) {
	select {
	case ports.Out <- data:
	default:
		slog.Debug("data dropped, next stage behind", "stage", from, "bytes", len(data))
	}
}

// discard empties the data input without blocking.
func discard(in <-chan []byte) int {
	n := 0
	for {
		select {
		case _, ok := <-in:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
