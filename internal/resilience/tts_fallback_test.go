package resilience

import (
	"bytes"
	"context"
	"testing"

	"github.com/MrWong99/parleur/pkg/fault"
	"github.com/MrWong99/parleur/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parleur/pkg/provider/tts/mock"
)

func TestTTSFallback_SynthesizeFailover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: fault.Transient("elevenlabs", errTest)}
	backup := &ttsmock.Provider{SynthesizeResult: []byte("pcm")}

	f := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	if err := f.AddFallback("piper", backup); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	voice := tts.VoiceProfile{ID: "v1", Language: "fr"}
	audio, err := f.Synthesize(context.Background(), "Bonjour !", voice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(audio, []byte("pcm")) {
		t.Fatalf("audio = %q, want pcm from fallback", audio)
	}
	// Full text is replayable, so the fallback must receive it verbatim.
	if got := backup.SynthesizeCalls[0].Text; got != "Bonjour !" {
		t.Fatalf("fallback text = %q, want Bonjour !", got)
	}
	if got := backup.SynthesizeCalls[0].Voice.ID; got != "v1" {
		t.Fatalf("fallback voice = %q, want v1", got)
	}
}

func TestTTSFallback_StreamSetupFailover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: fault.Transient("elevenlabs", errTest)}
	backup := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("a"), []byte("b")}}

	f := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	if err := f.AddFallback("piper", backup); err != nil {
		t.Fatalf("AddFallback: %v", err)
	}

	text := make(chan string)
	close(text)
	ch, err := f.SynthesizeStream(context.Background(), text, tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var n int
	for range ch {
		n++
	}
	if n != 2 {
		t.Fatalf("received %d chunks, want 2 from fallback", n)
	}
}

func TestTTSFallback_RejectsMismatchedSampleRate(t *testing.T) {
	primary := &ttsmock.Provider{Rate: 16000}
	backup := &ttsmock.Provider{Rate: 22050}

	f := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	if err := f.AddFallback("piper", backup); err == nil {
		t.Fatal("expected error for mismatched sample rate")
	}
	if got := len(f.Engines()); got != 1 {
		t.Fatalf("engines = %d, want 1 (mismatched engine must not register)", got)
	}
}

func TestTTSFallback_SampleRateFromPrimary(t *testing.T) {
	f := NewTTSFallback(&ttsmock.Provider{Rate: 24000}, "elevenlabs", FallbackConfig{})
	if got := f.SampleRate(); got != 24000 {
		t.Fatalf("SampleRate() = %d, want 24000", got)
	}
}
