package app

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parleur/internal/config"
	"github.com/MrWong99/parleur/pkg/audio"
	"github.com/MrWong99/parleur/pkg/fault"
	"github.com/MrWong99/parleur/pkg/memory"
	memmock "github.com/MrWong99/parleur/pkg/memory/mock"
	embedmock "github.com/MrWong99/parleur/pkg/provider/embeddings/mock"
	"github.com/MrWong99/parleur/pkg/provider/llm"
	llmmock "github.com/MrWong99/parleur/pkg/provider/llm/mock"
	sttpkg "github.com/MrWong99/parleur/pkg/provider/stt"
	sttmock "github.com/MrWong99/parleur/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/parleur/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/parleur/pkg/provider/vad/mock"
	"github.com/MrWong99/parleur/pkg/transport"
	transportmock "github.com/MrWong99/parleur/pkg/transport/mock"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Tutor.TargetLanguage = config.LangFrench
	cfg.Tutor.BaseLanguage = config.LangEnglish
	cfg.Tutor.HistoryTurns = 8
	cfg.Pipeline = config.PipelineConfig{
		VADThreshold:        0.5,
		SilenceFrames:       2,
		BargeInFrames:       2,
		MinUtteranceSamples: 1,
		MaxUtteranceSeconds: 30,
		QueueSize:           64,
		ReplyTimeout:        config.Duration(5 * time.Second),
	}
	cfg.Export.Dir = t.TempDir()
	cfg.Export.Format = "json"
	return cfg
}

func testProviders(probabilities []float64) *Providers {
	return &Providers{
		Detector: &vadmock.Detector{Probabilities: probabilities},
		Transcriber: &sttmock.Transcriber{
			Results: []sttpkg.Result{{Text: "Bonjour, comment allez-vous?", Language: "fr", Confidence: 0.95}},
		},
		Generator: &llmmock.Provider{
			StreamChunks: []llm.Chunk{
				{Text: "Très bien, merci ! "},
				{Text: "Et toi ?", FinishReason: "stop"},
			},
			CompleteResponse: &llm.CompletionResponse{Content: "Très bien, merci !"},
		},
		Speaker: &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("audio-1"), []byte("audio-2")},
			SynthesizeResult: []byte("audio-batch"),
		},
		Embeddings: &embedmock.Provider{},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, providers *Providers, opts ...Option) (*App, *transportmock.Transport) {
	t.Helper()
	tr := transportmock.New()
	opts = append(opts, WithTransport(tr))
	a, err := New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})
	return a, tr
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// micFrame is one 20 ms of arbitrary 16 kHz mono PCM; the scripted detector
// decides whether it counts as speech.
func micFrame() audio.AudioFrame {
	data := make([]byte, 640)
	for i := range data {
		data[i] = byte(i)
	}
	return audio.AudioFrame{Data: data, SampleRate: 16000, Channels: 1}
}

func hasText(texts []transportmock.SentText, role, substr string) bool {
	for _, msg := range texts {
		if msg.Role == role && strings.Contains(msg.Text, substr) {
			return true
		}
	}
	return false
}

func TestApp_VoiceSessionRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	store := &memmock.TranscriptStore{}
	// Three voiced frames, then silence closes the utterance.
	a, tr := newTestApp(t, cfg, testProviders([]float64{0.9, 0.9, 0.9, 0.1}),
		WithTranscriptStore(store), WithVocabIndex(&memmock.VocabIndex{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	tr.EventCh <- transport.Event{Kind: transport.ParticipantJoined, Participant: "alice"}

	// Keep feeding frames until the utterance makes it through; the scripted
	// detector marks the first three classified frames as speech and the rest
	// as silence, so frames lost before the join event is processed are
	// harmless.
	waitFor(t, "user caption", func() bool {
		tr.FrameCh <- transport.InboundFrame{Participant: "alice", Frame: micFrame()}
		return hasText(tr.Texts(), "user", "Bonjour")
	})
	waitFor(t, "assistant reply", func() bool {
		return hasText(tr.Texts(), "assistant", "Très bien, merci ! Et toi ?")
	})
	waitFor(t, "reply audio", func() bool {
		return tr.AudioBytes("alice") > 0
	})

	tr.EventCh <- transport.Event{Kind: transport.ParticipantLeft, Participant: "alice"}

	waitFor(t, "session export", func() bool {
		files, err := os.ReadDir(cfg.Export.Dir)
		return err == nil && len(files) == 1
	})

	cancel()
	if err := <-runDone; err != context.Canceled {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestApp_StopPersistsTranscriptAndExports(t *testing.T) {
	cfg := testConfig(t)
	store := &memmock.TranscriptStore{}
	a, _ := newTestApp(t, cfg, testProviders([]float64{0.1}), WithTranscriptStore(store), WithVocabIndex(&memmock.VocabIndex{}))

	if err := a.Start("alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := a.ProcessText(context.Background(), "alice", "Bonjour", "fr"); err != nil {
		t.Fatalf("ProcessText: %v", err)
	}
	if err := a.Stop("alice"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	files, err := os.ReadDir(cfg.Export.Dir)
	if err != nil {
		t.Fatalf("read export dir: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("export files = %d, want 1", len(files))
	}
	if !strings.HasSuffix(files[0].Name(), ".json") {
		t.Errorf("export file = %q, want .json", files[0].Name())
	}

	// The session ID is generated, so search across all sessions.
	persisted, err := store.Search(context.Background(), "", memory.SearchOpts{})
	if err != nil {
		t.Fatalf("search transcript store: %v", err)
	}
	if len(persisted) != 2 {
		t.Fatalf("persisted entries = %d, want 2 (user + assistant)", len(persisted))
	}
	if persisted[0].Speaker != "user" || persisted[1].Speaker != "assistant" {
		t.Errorf("speakers = %q, %q, want user then assistant", persisted[0].Speaker, persisted[1].Speaker)
	}
}

func TestApp_ProcessTextForwardsHooks(t *testing.T) {
	cfg := testConfig(t)
	a, tr := newTestApp(t, cfg, testProviders([]float64{0.1}))

	pcm, err := a.ProcessText(context.Background(), "keyboard", "Bonjour", "fr")
	if err != nil {
		t.Fatalf("ProcessText: %v", err)
	}
	if string(pcm) != "audio-batch" {
		t.Errorf("audio = %q, want %q", pcm, "audio-batch")
	}

	texts := tr.Texts()
	if !hasText(texts, "user", "Bonjour") {
		t.Error("user caption not forwarded to transport")
	}
	if !hasText(texts, "assistant", "Très bien, merci !") {
		t.Error("assistant reply not forwarded to transport")
	}
	if tr.AudioBytes("keyboard") == 0 {
		t.Error("reply audio not forwarded to transport")
	}
}

func TestApp_NoteAndRecallVocabulary(t *testing.T) {
	cfg := testConfig(t)
	a, _ := newTestApp(t, cfg, testProviders([]float64{0.1}), WithVocabIndex(&memmock.VocabIndex{}))

	err := a.NoteVocabulary(context.Background(), "s1", "vachement", "really", "slang intensifier", "fr")
	if err != nil {
		t.Fatalf("NoteVocabulary: %v", err)
	}

	results, err := a.RecallVocabulary(context.Background(), "vachement", "fr", 5)
	if err != nil {
		t.Fatalf("RecallVocabulary: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Note.Term != "vachement" {
		t.Errorf("term = %q, want %q", results[0].Note.Term, "vachement")
	}
}

func TestApp_VocabularyRequiresMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memory.PostgresDSN = ""
	providers := testProviders([]float64{0.1})
	providers.Embeddings = nil
	a, _ := newTestApp(t, cfg, providers)

	err := a.NoteVocabulary(context.Background(), "s1", "pomme", "apple", "", "fr")
	if !fault.IsConfiguration(err) {
		t.Errorf("err = %v, want configuration fault", err)
	}
	if _, err := a.RecallVocabulary(context.Background(), "pomme", "fr", 5); !fault.IsConfiguration(err) {
		t.Errorf("err = %v, want configuration fault", err)
	}
}

func TestApp_RunStopsWhenTransportCloses(t *testing.T) {
	cfg := testConfig(t)
	a, tr := newTestApp(t, cfg, testProviders([]float64{0.1}))

	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(context.Background()) }()

	tr.Close()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after transport close")
	}
}

func TestApp_ShutdownEndsActiveSessions(t *testing.T) {
	cfg := testConfig(t)
	a, _ := newTestApp(t, cfg, testProviders([]float64{0.1}))

	if err := a.Start("alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := a.ProcessText(context.Background(), "alice", "Bonjour", "fr"); err != nil {
		t.Fatalf("ProcessText: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	files, err := os.ReadDir(cfg.Export.Dir)
	if err != nil {
		t.Fatalf("read export dir: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("export files = %d, want 1", len(files))
	}

	// Idempotent.
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
