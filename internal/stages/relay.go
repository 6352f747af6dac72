package stages

import (
	"context"
	"log/slog"

	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/command"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/orchestrator"
)

// Relay forwards data unchanged and follows the control protocol: flush
// discards in-flight input and is acknowledged with flushed(), flush_out
// discards without acknowledgement, stop ends the stage. With DropInput set
// the relay is a sink: input is consumed and never forwarded.
type Relay struct {
	Name      orchestrator.Name
	DropInput bool
}

func (r Relay) Run(ctx context.Context, ports orchestrator.Ports) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-ports.Commands:
			switch c.Kind {
			case command.KindStop:
				return nil
			case command.KindFlush:
				discard(ports.In)
				if err := notify(ctx, ports, r.Name, command.Flushed, nil); err != nil {
					return err
				}
			case command.KindFlushOut:
				discard(ports.In)
			default:
				slog.Debug("relay ignoring command", "stage", r.Name, "command", c.String())
			}
		case d := <-ports.In:
			if r.DropInput {
				continue
			}
			forward(ports, r.Name, d)
		}
	}
}
