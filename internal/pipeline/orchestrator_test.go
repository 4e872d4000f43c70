package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parleur/internal/config"
	"github.com/MrWong99/parleur/internal/tutor"
	"github.com/MrWong99/parleur/pkg/audio"
	"github.com/MrWong99/parleur/pkg/fault"
	"github.com/MrWong99/parleur/pkg/provider/llm"
	llmmock "github.com/MrWong99/parleur/pkg/provider/llm/mock"
	"github.com/MrWong99/parleur/pkg/provider/stt"
	sttmock "github.com/MrWong99/parleur/pkg/provider/stt/mock"
	"github.com/MrWong99/parleur/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parleur/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/parleur/pkg/provider/vad/mock"
)

// recorder captures hook invocations for inspection.
type recorder struct {
	mu             sync.Mutex
	userTexts      []string
	assistantTexts []string
	audioChunks    int
	statuses       []string
	errors         []string
	vadFlips       int
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnUserText: func(_, text string) {
			r.mu.Lock()
			r.userTexts = append(r.userTexts, text)
			r.mu.Unlock()
		},
		OnAssistantText: func(_, text string) {
			r.mu.Lock()
			r.assistantTexts = append(r.assistantTexts, text)
			r.mu.Unlock()
		},
		OnAssistantAudio: func(_ string, chunk []byte) {
			r.mu.Lock()
			r.audioChunks++
			r.mu.Unlock()
		},
		OnStatus: func(_, message string) {
			r.mu.Lock()
			r.statuses = append(r.statuses, message)
			r.mu.Unlock()
		},
		OnError: func(_, message string) {
			r.mu.Lock()
			r.errors = append(r.errors, message)
			r.mu.Unlock()
		},
		OnVADActive: func(_ string, _ bool) {
			r.mu.Lock()
			r.vadFlips++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) vadFlipCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vadFlips
}

func (r *recorder) userTextCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.userTexts)
}

func (r *recorder) assistantTextCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assistantTexts)
}

func (r *recorder) lastAssistantText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.assistantTexts) == 0 {
		return ""
	}
	return r.assistantTexts[len(r.assistantTexts)-1]
}

func (r *recorder) audioChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audioChunks
}

func (r *recorder) hasStatus(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.statuses {
		if got == s {
			return true
		}
	}
	return false
}

type rig struct {
	o    *Orchestrator
	rec  *recorder
	det  *vadmock.Detector
	sttm *sttmock.Transcriber
	llmm *llmmock.Provider
	ttsm *ttsmock.Provider
}

func testConfig() Config {
	return Config{
		VADThreshold:        0.5,
		SilenceFrames:       2,
		BargeInFrames:       2,
		MinUtteranceSamples: 1,
		MaxUtteranceSeconds: 30,
		QueueSize:           64,
		ReplyTimeout:        5 * time.Second,
		HistoryTurns:        8,
	}
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	r := &rig{
		rec: &recorder{},
		det: &vadmock.Detector{},
		sttm: &sttmock.Transcriber{
			Results: []stt.Result{{Text: "Bonjour, comment allez-vous?", Language: "fr", Confidence: 0.95}},
		},
		llmm: &llmmock.Provider{
			StreamChunks: []llm.Chunk{
				{Text: "Très bien, merci ! "},
				{Text: "Et toi ?", FinishReason: "stop"},
			},
			CompleteResponse: &llm.CompletionResponse{Content: "Très bien, merci !"},
		},
		ttsm: &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("audio-1"), []byte("audio-2")},
			SynthesizeResult: []byte("audio-batch"),
			ListVoicesResult: []tts.VoiceProfile{
				{ID: "en-f", Name: "Alice", Language: "en", Gender: "female"},
				{ID: "fr-f", Name: "Claire", Language: "fr", Gender: "female"},
			},
		},
	}

	tut := tutor.New(config.TutorConfig{
		TargetLanguage: config.LangFrench,
		BaseLanguage:   config.LangEnglish,
	})
	o, err := New(Components{
		Detector:    r.det,
		Transcriber: r.sttm,
		Generator:   r.llmm,
		Speaker:     r.ttsm,
		Tutor:       tut,
	}, r.rec.hooks(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	r.o = o
	t.Cleanup(func() { o.Close() })
	return r
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

func speechFrame() audio.AudioFrame {
	data := make([]byte, 3200*2)
	for i := 0; i < len(data); i += 2 {
		data[i+1] = 0x10
	}
	return audio.AudioFrame{Data: data, SampleRate: 16000, Channels: 1}
}

func push(t *testing.T, r *rig, participant string, n int) {
	t.Helper()
	for range n {
		if err := r.o.PushAudio(participant, speechFrame()); err != nil {
			t.Fatalf("PushAudio failed: %v", err)
		}
	}
}

func TestOrchestrator_FrenchRoundTrip(t *testing.T) {
	r := newRig(t, testConfig())
	// Two voiced frames then silence until the gate finalises.
	r.det.Probabilities = []float64{0.9, 0.9, 0.1}

	if err := r.o.Start("p1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	push(t, r, "p1", 4)

	waitFor(t, "assistant reply", func() bool { return r.rec.assistantTextCount() > 0 })

	if got := r.rec.userTexts[0]; got != "Bonjour, comment allez-vous?" {
		t.Errorf("user text = %q", got)
	}
	if got := r.rec.lastAssistantText(); got != "Très bien, merci ! Et toi ?" {
		t.Errorf("assistant text = %q", got)
	}

	// The detected French routes both the system prompt and the voice.
	req := r.llmm.StreamCalls[0].Req
	if !strings.Contains(req.SystemPrompt, "professeur de français") {
		t.Error("system prompt is not the French tutor persona")
	}
	if voice := r.ttsm.SynthesizeStreamCalls[0].Voice; voice.ID != "fr-f" {
		t.Errorf("selected voice %q, want the French female voice", voice.ID)
	}

	waitFor(t, "audio delivery", func() bool { return r.rec.audioChunkCount() >= 2 })
	waitFor(t, "return to listening", func() bool { return r.o.State("p1") == StateListening })

	sess := r.o.Session("p1")
	hist := sess.History()
	if len(hist) != 2 {
		t.Fatalf("history has %d turns, want 2", len(hist))
	}
	if hist[0].Role != "user" || hist[0].Language != "fr" {
		t.Errorf("first turn = %+v, want a French user turn", hist[0])
	}
	if hist[1].Role != "assistant" {
		t.Errorf("second turn role = %q, want assistant", hist[1].Role)
	}
}

func TestOrchestrator_ShortUtteranceNeverReachesTranscriber(t *testing.T) {
	cfg := testConfig()
	cfg.MinUtteranceSamples = 100000
	r := newRig(t, cfg)
	r.det.Probabilities = []float64{0.9, 0.9, 0.1}

	if err := r.o.Start("p1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	push(t, r, "p1", 4)

	// The gate flips active then inactive; the discard happens on the frame
	// after the second flip.
	waitFor(t, "frames drained", func() bool { return r.rec.vadFlipCount() >= 2 })
	time.Sleep(50 * time.Millisecond)

	if n := r.sttm.CallCount(); n != 0 {
		t.Errorf("transcriber saw %d calls, want 0 for an undersized utterance", n)
	}
	if r.o.State("p1") != StateListening {
		t.Errorf("state = %v, want listening", r.o.State("p1"))
	}
}

func TestOrchestrator_EmptyTranscriptRecordsNoTurn(t *testing.T) {
	r := newRig(t, testConfig())
	r.det.Probabilities = []float64{0.9, 0.9, 0.1}
	r.sttm.Results = []stt.Result{{}} // silence: empty text, nil error

	if err := r.o.Start("p1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	push(t, r, "p1", 4)

	waitFor(t, "transcription attempt", func() bool { return r.sttm.CallCount() > 0 })
	waitFor(t, "return to listening", func() bool { return r.o.State("p1") == StateListening })
	time.Sleep(20 * time.Millisecond)

	if n := r.llmm.StreamCallCount(); n != 0 {
		t.Errorf("generator saw %d calls, want 0", n)
	}
	if n := r.o.Session("p1").TurnCount(); n != 0 {
		t.Errorf("session has %d turns, want 0", n)
	}
}

func TestOrchestrator_BargeInCancelsReply(t *testing.T) {
	r := newRig(t, testConfig())
	// Speech, silence to finalise, then speech again for the barge-in.
	r.det.Probabilities = []float64{0.9, 0.9, 0.1, 0.1, 0.9}
	r.llmm.StreamChunks = []llm.Chunk{
		{Text: "Une très "}, {Text: "longue "}, {Text: "réponse "},
		{Text: "qui n'en finit pas.", FinishReason: "stop"},
	}
	r.llmm.ChunkDelay = 30 * time.Millisecond
	r.ttsm.ChunkDelay = 30 * time.Millisecond

	if err := r.o.Start("p1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	push(t, r, "p1", 4)
	waitFor(t, "generation start", func() bool { return r.llmm.StreamCallCount() == 1 })

	// Sustained new speech while the reply streams.
	push(t, r, "p1", 2)

	waitFor(t, "interruption", func() bool { return r.rec.hasStatus("interrupted") })
	waitFor(t, "return to listening", func() bool { return r.o.State("p1") == StateListening })

	sess := r.o.Session("p1")
	for _, turn := range sess.History() {
		if turn.Role == "assistant" {
			t.Errorf("cancelled reply recorded an assistant turn: %+v", turn)
		}
	}
}

func TestOrchestrator_InterruptWithNoReplyIsNoOp(t *testing.T) {
	r := newRig(t, testConfig())
	if err := r.o.Start("p1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	before := r.o.State("p1")
	r.o.Interrupt("p1")
	r.o.Interrupt("p1")

	if got := r.o.State("p1"); got != before {
		t.Errorf("state changed %v -> %v on idle interrupt", before, got)
	}
	if r.rec.hasStatus("interrupted") {
		t.Error("idle interrupt should not report an interruption")
	}
}

func TestOrchestrator_GenerationTimeoutDegradesToApology(t *testing.T) {
	cfg := testConfig()
	cfg.GenerateTimeout = time.Millisecond
	r := newRig(t, cfg)
	r.det.Probabilities = []float64{0.9, 0.9, 0.1}
	r.sttm.Results = []stt.Result{{Text: "How do I say hello?", Language: "en"}}
	r.llmm.ChunkDelay = 200 * time.Millisecond

	if err := r.o.Start("p1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	push(t, r, "p1", 4)

	waitFor(t, "apology", func() bool {
		return strings.HasPrefix(r.rec.lastAssistantText(), "Sorry")
	})
	waitFor(t, "return to listening", func() bool { return r.o.State("p1") == StateListening })

	hist := r.o.Session("p1").History()
	if len(hist) != 2 {
		t.Fatalf("history has %d turns, want user + apology", len(hist))
	}
	if !strings.HasPrefix(hist[1].Text, "Sorry") {
		t.Errorf("assistant turn = %q, want the apology", hist[1].Text)
	}
}

func TestOrchestrator_RepeatRequestSkipsGenerator(t *testing.T) {
	r := newRig(t, testConfig())
	r.det.Probabilities = []float64{0.9, 0.9, 0.1, 0.1, 0.9, 0.9, 0.1, 0.1}
	r.sttm.Results = []stt.Result{
		{Text: "Bonjour, comment allez-vous?", Language: "fr"},
		{Text: "Répète", Language: "fr"},
	}

	if err := r.o.Start("p1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	push(t, r, "p1", 4)
	waitFor(t, "first reply", func() bool { return r.rec.assistantTextCount() > 0 })
	waitFor(t, "return to listening", func() bool { return r.o.State("p1") == StateListening })

	push(t, r, "p1", 4)
	waitFor(t, "repeat", func() bool { return r.rec.hasStatus("repeating") })
	waitFor(t, "return to listening", func() bool { return r.o.State("p1") == StateListening })

	if n := r.llmm.StreamCallCount(); n != 1 {
		t.Errorf("generator saw %d calls, want 1; repeats must not regenerate", n)
	}
	// The repeat is re-synthesized as a batch request with the previous reply.
	if len(r.ttsm.SynthesizeCalls) != 1 {
		t.Fatalf("got %d batch synthesis calls, want 1", len(r.ttsm.SynthesizeCalls))
	}
	if got := r.ttsm.SynthesizeCalls[0].Text; got != "Très bien, merci ! Et toi ?" {
		t.Errorf("re-synthesized %q, want the previous reply", got)
	}
}

func TestOrchestrator_ProcessTextReturnsAudio(t *testing.T) {
	r := newRig(t, testConfig())

	pcm, err := r.o.ProcessText(context.Background(), "web-1", "Bonjour !", "fr")
	if err != nil {
		t.Fatalf("ProcessText failed: %v", err)
	}
	if string(pcm) != "audio-batch" {
		t.Errorf("audio = %q, want the synthesized batch", pcm)
	}
	if got := r.rec.lastAssistantText(); got != "Très bien, merci !" {
		t.Errorf("assistant text = %q", got)
	}

	sess := r.o.Session("web-1")
	if sess == nil || sess.TurnCount() != 2 {
		t.Fatalf("text-only session not recorded")
	}

	if _, err := r.o.ProcessText(context.Background(), "web-1", "   ", ""); !fault.IsInvalidInput(err) {
		t.Errorf("blank text error = %v, want invalid input", err)
	}
}

func TestOrchestrator_ProcessTextHonoursHistoryCap(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryTurns = 4
	r := newRig(t, cfg)

	for range 6 {
		if _, err := r.o.ProcessText(context.Background(), "web-1", "Encore une question", "fr"); err != nil {
			t.Fatalf("ProcessText failed: %v", err)
		}
	}

	last := r.llmm.CompleteCalls[len(r.llmm.CompleteCalls)-1].Req
	if len(last.Messages) > 4 {
		t.Errorf("prompt carries %d turns, want at most 4", len(last.Messages))
	}
	if last.SystemPrompt == "" {
		t.Error("system prompt missing from capped request")
	}
	if n := r.o.Session("web-1").TurnCount(); n != 12 {
		t.Errorf("full history has %d turns, want 12", n)
	}
}

func TestOrchestrator_SynthesisFailureKeepsTextReply(t *testing.T) {
	r := newRig(t, testConfig())
	r.det.Probabilities = []float64{0.9, 0.9, 0.1}
	r.ttsm.SynthesizeErr = fault.Transient("tts", context.DeadlineExceeded)

	if err := r.o.Start("p1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	push(t, r, "p1", 4)

	waitFor(t, "text reply", func() bool { return r.rec.assistantTextCount() > 0 })
	waitFor(t, "return to listening", func() bool { return r.o.State("p1") == StateListening })

	if got := r.rec.lastAssistantText(); got != "Très bien, merci ! Et toi ?" {
		t.Errorf("assistant text = %q; synthesis failure must not lose the reply", got)
	}
	hist := r.o.Session("p1").History()
	if len(hist) != 2 || hist[1].Role != "assistant" {
		t.Errorf("turns not recorded after synthesis failure: %+v", hist)
	}
}

func TestOrchestrator_WelcomeOnConnect(t *testing.T) {
	cfg := testConfig()
	cfg.Welcome = true
	r := newRig(t, cfg)

	if err := r.o.Start("p1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "welcome", func() bool { return r.rec.assistantTextCount() > 0 })

	if got := r.rec.lastAssistantText(); !strings.HasPrefix(got, "Bonjour") {
		t.Errorf("welcome = %q, want a French greeting", got)
	}
	waitFor(t, "welcome synthesis", func() bool { return r.rec.audioChunkCount() > 0 })
	waitFor(t, "return to listening", func() bool { return r.o.State("p1") == StateListening })
	if got := r.ttsm.SynthesizeCalls[0].Text; !strings.HasPrefix(got, "Bonjour") {
		t.Errorf("synthesized %q, want the greeting", got)
	}
}

func TestOrchestrator_StopReturnsSessionForExport(t *testing.T) {
	r := newRig(t, testConfig())
	if err := r.o.Start("p1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := r.o.ProcessText(context.Background(), "p1", "Bonjour !", "fr"); err != nil {
		t.Fatalf("ProcessText failed: %v", err)
	}

	sess, err := r.o.Stop("p1")
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sess.TurnCount() != 2 {
		t.Errorf("returned session has %d turns, want 2", sess.TurnCount())
	}
	if r.o.State("p1") != StateIdle {
		t.Errorf("stopped participant reports state %v", r.o.State("p1"))
	}
	if _, err := r.o.Stop("p1"); err == nil {
		t.Error("second Stop should fail for an unknown participant")
	}
	if err := r.o.PushAudio("p1", speechFrame()); err == nil {
		t.Error("PushAudio after Stop should fail")
	}
}

func TestOrchestrator_ParticipantsAreIndependent(t *testing.T) {
	r := newRig(t, testConfig())
	r.det.Probabilities = []float64{0.9, 0.9, 0.1}

	if err := r.o.Start("p1"); err != nil {
		t.Fatalf("Start p1 failed: %v", err)
	}
	if err := r.o.Start("p2"); err != nil {
		t.Fatalf("Start p2 failed: %v", err)
	}
	if err := r.o.Start("p1"); err == nil {
		t.Error("duplicate Start should fail")
	}

	if _, err := r.o.ProcessText(context.Background(), "p2", "Bonjour !", "fr"); err != nil {
		t.Fatalf("ProcessText failed: %v", err)
	}
	if n := r.o.Session("p1").TurnCount(); n != 0 {
		t.Errorf("p1 session gained %d turns from p2's conversation", n)
	}
}
