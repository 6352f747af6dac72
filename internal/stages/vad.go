package stages

import (
	"context"
	"log/slog"

	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/audio"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/command"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/orchestrator"
)

// VAD reads PCM16 audio from the line, raises speech_start() and
// speech_end() on the transitions it detects and forwards the audio.
type VAD struct {
	Config audio.VADConfig
}

func (v VAD) Run(ctx context.Context, ports orchestrator.Ports) error {
	det := audio.NewVAD(v.Config)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-ports.Commands:
			switch c.Kind {
			case command.KindStop:
				return nil
			case command.KindFlush:
				det.Reset()
				discard(ports.In)
				if err := notify(ctx, ports, orchestrator.VAD, command.Flushed, nil); err != nil {
					return err
				}
			default:
				slog.Debug("vad ignoring command", "command", c.String())
			}
		case d := <-ports.In:
			if err := v.detect(ctx, ports, det, d); err != nil {
				return err
			}
			forward(ports, orchestrator.VAD, d)
		}
	}
}

func (v VAD) detect(ctx context.Context, ports orchestrator.Ports, det *audio.VAD, pcm []byte) error {
	switch det.Process(audio.DecodePCM16(pcm)) {
	case audio.SpeechStarted:
		return notify(ctx, ports, orchestrator.VAD, command.SpeechStart, nil)
	case audio.SpeechEnded:
		return notify(ctx, ports, orchestrator.VAD, command.SpeechEnd, nil)
	}
	return nil
}
