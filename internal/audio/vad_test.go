package audio

import (
	"math"
	"testing"
)

const chunk = 320 // 20 ms at 16 kHz

func tone(amp float32) []float32 {
	s := make([]float32, chunk)
	for i := range s {
		s[i] = amp
	}
	return s
}

func feed(v *VAD, samples []float32, n int) []Transition {
	var out []Transition
	for range n {
		if tr := v.Process(samples); tr != NoChange {
			out = append(out, tr)
		}
	}
	return out
}

func TestVAD_OnsetAndOffset(t *testing.T) {
	v := NewVAD(DefaultVADConfig())

	if got := feed(v, tone(0), 10); len(got) != 0 {
		t.Fatalf("silence produced %v", got)
	}
	got := feed(v, tone(0.5), 10)
	if len(got) != 1 || got[0] != SpeechStarted || !v.Speaking() {
		t.Fatalf("speech produced %v", got)
	}

	// Offset only after the silence timeout.
	if got = feed(v, tone(0), 30); len(got) != 0 {
		t.Fatalf("short pause produced %v", got)
	}
	got = feed(v, tone(0), 10)
	if len(got) != 1 || got[0] != SpeechEnded || v.Speaking() {
		t.Fatalf("long pause produced %v", got)
	}
}

func TestVAD_IgnoresBlips(t *testing.T) {
	v := NewVAD(DefaultVADConfig())
	for range 5 {
		if got := feed(v, tone(0.5), 2); len(got) != 0 {
			t.Fatalf("blip produced %v", got)
		}
		feed(v, tone(0), 1)
	}
}

func TestVAD_Reset(t *testing.T) {
	v := NewVAD(DefaultVADConfig())
	feed(v, tone(0.5), 10)
	v.Reset()
	if v.Speaking() {
		t.Fatal("still speaking after reset")
	}
	if got := feed(v, tone(0), 100); len(got) != 0 {
		t.Fatalf("reset VAD produced %v", got)
	}
}

func TestComputeEnergyDB(t *testing.T) {
	if db := computeEnergyDB(nil); db != -100 {
		t.Fatalf("empty=%v", db)
	}
	if db := computeEnergyDB(tone(0.5)); math.Abs(db-(-6.0206)) > 0.01 {
		t.Fatalf("half scale=%v", db)
	}
}

func TestPCM16(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1}
	out := DecodePCM16(EncodePCM16(in))
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 1e-4 {
			t.Fatalf("sample %d: %v != %v", i, out[i], in[i])
		}
	}
	if n := len(DecodePCM16([]byte{1, 2, 3})); n != 1 {
		t.Fatalf("odd input decoded %d samples", n)
	}
	if got := DecodePCM16(EncodePCM16([]float32{2})); got[0] != 1 {
		t.Fatalf("clip=%v", got[0])
	}
}
