package audio

import (
	"math"
	"time"
)

// VADConfig controls voice activity detection behavior.
type VADConfig struct {
	SpeechThresholdDB float64
	SilenceTimeout    time.Duration
	MinSpeechDuration time.Duration
	SampleRate        int
}

// DefaultVADConfig returns defaults for 16 kHz telephone audio.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SpeechThresholdDB: -30,
		SilenceTimeout:    700 * time.Millisecond,
		MinSpeechDuration: 100 * time.Millisecond,
		SampleRate:        16000,
	}
}

// Transition is a change in detected user speech.
type Transition int

const (
	NoChange Transition = iota
	SpeechStarted
	SpeechEnded
)

// VAD implements energy-based voice activity detection. Time is measured in
// samples consumed, so results do not depend on how fast audio arrives.
type VAD struct {
	cfg VADConfig

	// pos is the stream position in samples.
	pos         int64
	candidate   int64 // start of loud audio not yet long enough to count, or -1
	isSpeech    bool
	lastSpeech  int64
	minSpeech   int64
	silenceGate int64
}

// NewVAD creates a VAD with the given config.
func NewVAD(cfg VADConfig) *VAD {
	return &VAD{
		cfg:         cfg,
		candidate:   -1,
		minSpeech:   samplesIn(cfg.MinSpeechDuration, cfg.SampleRate),
		silenceGate: samplesIn(cfg.SilenceTimeout, cfg.SampleRate),
	}
}

func samplesIn(d time.Duration, rate int) int64 {
	return int64(d.Seconds() * float64(rate))
}

// Process feeds one chunk into the VAD and reports a speech onset or offset,
// if this chunk completed one.
func (v *VAD) Process(samples []float32) Transition {
	start := v.pos
	v.pos += int64(len(samples))

	if computeEnergyDB(samples) >= v.cfg.SpeechThresholdDB {
		return v.handleSpeech(start)
	}
	return v.handleSilence()
}

func (v *VAD) handleSpeech(start int64) Transition {
	v.lastSpeech = v.pos
	if v.isSpeech {
		return NoChange
	}
	if v.candidate < 0 {
		v.candidate = start
	}
	if v.pos-v.candidate < v.minSpeech {
		return NoChange
	}
	v.isSpeech = true
	v.candidate = -1
	return SpeechStarted
}

func (v *VAD) handleSilence() Transition {
	v.candidate = -1
	if !v.isSpeech || v.pos-v.lastSpeech < v.silenceGate {
		return NoChange
	}
	v.isSpeech = false
	return SpeechEnded
}

// Speaking reports whether speech is in progress.
func (v *VAD) Speaking() bool { return v.isSpeech }

// Reset drops all state, as after a flush.
func (v *VAD) Reset() {
	*v = *NewVAD(v.cfg)
}

func computeEnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
