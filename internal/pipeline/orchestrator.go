// Package pipeline contains the conversation orchestrator: the state machine
// that turns a live stream of microphone frames into spoken tutor replies.
//
// One worker goroutine per participant drains a bounded frame queue and runs
// the speech gate on every frame, including while a reply is being generated
// or spoken — that is what makes barge-in possible. Backend calls
// (transcription, generation, synthesis) run in a per-utterance reply
// goroutine so the frame loop never blocks on a model.
//
// Cancellation is cooperative. A barge-in cancels the reply context; the
// in-flight stages observe it between chunks, stop emitting, and the worker
// returns to listening. Cancelling with no reply in flight is a no-op.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parleur/internal/config"
	"github.com/MrWong99/parleur/internal/observe"
	"github.com/MrWong99/parleur/internal/session"
	"github.com/MrWong99/parleur/internal/transcript"
	"github.com/MrWong99/parleur/internal/tutor"
	"github.com/MrWong99/parleur/pkg/audio"
	"github.com/MrWong99/parleur/pkg/fault"
	"github.com/MrWong99/parleur/pkg/provider/llm"
	"github.com/MrWong99/parleur/pkg/provider/stt"
	"github.com/MrWong99/parleur/pkg/provider/tts"
	"github.com/MrWong99/parleur/pkg/provider/vad"
)

// sentenceBufDepth is the buffer of the text channel feeding TTS. Sized to
// absorb several sentences without blocking the forwarding goroutine.
const sentenceBufDepth = 16

// Components are the backends the orchestrator drives. Detector, Transcriber,
// Generator, Speaker and Tutor are required; Corrector and Metrics are
// optional.
type Components struct {
	Detector    vad.Detector
	Transcriber stt.Transcriber
	Generator   llm.Provider
	Speaker     tts.Provider

	// Corrector rewrites known vocabulary that the transcriber mangled. Nil
	// disables correction.
	Corrector *transcript.VocabCorrector

	Tutor   *tutor.Tutor
	Metrics *observe.Metrics
}

// Orchestrator owns the per-participant sessions and workers. Participants
// are fully independent: one participant's slow model call never delays
// another's.
type Orchestrator struct {
	cfg   Config
	comp  Components
	hooks Hooks

	rootCtx context.Context
	cancel  context.CancelFunc
	eg      *errgroup.Group

	mu           sync.Mutex
	workers      map[string]*worker
	textSessions map[string]*session.Session
	closed       bool

	voiceOnce sync.Once
	voices    []tts.VoiceProfile
}

// New builds an orchestrator. It returns an error when a required component
// is missing.
func New(comp Components, hooks Hooks, cfg Config) (*Orchestrator, error) {
	switch {
	case comp.Detector == nil:
		return nil, fault.Configuration("pipeline: detector is required", nil)
	case comp.Transcriber == nil:
		return nil, fault.Configuration("pipeline: transcriber is required", nil)
	case comp.Generator == nil:
		return nil, fault.Configuration("pipeline: generator is required", nil)
	case comp.Speaker == nil:
		return nil, fault.Configuration("pipeline: speaker is required", nil)
	case comp.Tutor == nil:
		return nil, fault.Configuration("pipeline: tutor is required", nil)
	}
	if comp.Metrics == nil {
		comp.Metrics = observe.DefaultMetrics()
	}
	cfg.normalize()

	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)
	return &Orchestrator{
		cfg:          cfg,
		comp:         comp,
		hooks:        hooks,
		rootCtx:      egCtx,
		cancel:       cancel,
		eg:           eg,
		workers:      make(map[string]*worker),
		textSessions: make(map[string]*session.Session),
	}, nil
}

// Start creates a session for the participant and spawns its worker. The
// participant transitions Idle → Listening immediately.
func (o *Orchestrator) Start(participant string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("pipeline: orchestrator is closed")
	}
	if _, ok := o.workers[participant]; ok {
		return fmt.Errorf("pipeline: participant %q already started", participant)
	}

	wctx, wcancel := context.WithCancel(o.rootCtx)
	w := &worker{
		o:           o,
		participant: participant,
		sess:        session.New(participant, o.cfg.HistoryTurns),
		gate: NewGate(o.comp.Detector, GateConfig{
			Threshold:     o.cfg.VADThreshold,
			SilenceFrames: o.cfg.SilenceFrames,
			MinSamples:    o.cfg.MinUtteranceSamples,
			MaxSeconds:    o.cfg.MaxUtteranceSeconds,
			PadFrames:     o.cfg.SpeechPadFrames,
		}),
		frames: make(chan audio.AudioFrame, o.cfg.QueueSize),
		cancel: wcancel,
		done:   make(chan struct{}),
	}
	w.state.Store(int32(StateListening))
	o.workers[participant] = w
	o.comp.Metrics.ActiveSessions.Add(wctx, 1)

	o.eg.Go(func() error {
		w.run(wctx)
		return nil
	})
	slog.Info("participant connected", "participant", participant)
	return nil
}

// Stop tears down the participant's worker and returns its session so the
// caller can export the transcript. In-flight work is cancelled.
func (o *Orchestrator) Stop(participant string) (*session.Session, error) {
	o.mu.Lock()
	w, ok := o.workers[participant]
	if ok {
		delete(o.workers, participant)
	}
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown participant %q", participant)
	}

	w.cancel()
	<-w.done
	o.comp.Metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("participant disconnected", "participant", participant, "turns", w.sess.TurnCount())
	return w.sess, nil
}

// PushAudio feeds one frame into the participant's queue. It never blocks:
// when the queue is full the oldest frame is dropped to make room, which under
// sustained overload degrades to transcribing slightly stale audio rather
// than stalling the capture loop.
func (o *Orchestrator) PushAudio(participant string, frame audio.AudioFrame) error {
	o.mu.Lock()
	w, ok := o.workers[participant]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipeline: unknown participant %q", participant)
	}

	select {
	case w.frames <- frame:
	default:
		select {
		case <-w.frames:
		default:
		}
		select {
		case w.frames <- frame:
		default:
		}
	}
	return nil
}

// Interrupt cancels the participant's in-flight reply, if any. Safe to call
// at any time; interrupting an idle participant is a no-op, and interrupting
// twice has the same effect as once.
func (o *Orchestrator) Interrupt(participant string) {
	o.mu.Lock()
	w, ok := o.workers[participant]
	o.mu.Unlock()
	if ok {
		w.interrupt()
	}
}

// State reports the participant's current position in the conversation loop.
// Unknown participants are Idle.
func (o *Orchestrator) State(participant string) State {
	o.mu.Lock()
	w, ok := o.workers[participant]
	o.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return State(w.state.Load())
}

// Session returns the participant's live session, or nil when unknown.
func (o *Orchestrator) Session(participant string) *session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if w, ok := o.workers[participant]; ok {
		return w.sess
	}
	return o.textSessions[participant]
}

// ProcessText runs one conversational turn from typed text, bypassing VAD and
// transcription, and returns the synthesised reply audio. Used by non-voice
// callers. A synthesis failure degrades to empty audio with the turn still
// recorded; the text reply is delivered through OnAssistantText.
func (o *Orchestrator) ProcessText(ctx context.Context, participant, text, language string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fault.InvalidInput("pipeline: process text", "empty text")
	}
	sess := o.sessionFor(participant)
	if language == "" {
		language = sess.Language()
	}

	o.hooks.userText(participant, text)
	o.comp.Metrics.RecordUtterance(ctx, language)

	if session.IsRepeatRequest(text) {
		if last := sess.LastAssistantText(); last != "" {
			o.hooks.status(participant, "repeating")
			return o.synthesizeOnce(ctx, participant, last, language), nil
		}
	}

	sess.AddUserTurn(text, language)
	reply := o.generateBlocking(ctx, sess, language)
	sess.AddAssistantTurn(reply, language)
	o.hooks.assistantText(participant, reply)
	return o.synthesizeOnce(ctx, participant, reply, language), nil
}

// Close stops every participant and waits for all workers to exit. Safe to
// call multiple times.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	workers := make([]*worker, 0, len(o.workers))
	for _, w := range o.workers {
		workers = append(workers, w)
	}
	o.workers = make(map[string]*worker)
	o.mu.Unlock()

	o.cancel()
	for _, w := range workers {
		<-w.done
		o.comp.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
	return o.eg.Wait()
}

// sessionFor returns the participant's live session, creating a text-only one
// for callers that never started a voice stream.
func (o *Orchestrator) sessionFor(participant string) *session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if w, ok := o.workers[participant]; ok {
		return w.sess
	}
	if s, ok := o.textSessions[participant]; ok {
		return s
	}
	s := session.New(participant, o.cfg.HistoryTurns)
	o.textSessions[participant] = s
	return s
}

// generateBlocking runs a non-streaming completion and returns the reply
// text, degrading to an apology when the model fails.
func (o *Orchestrator) generateBlocking(ctx context.Context, sess *session.Session, language string) string {
	gctx := ctx
	if o.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, o.cfg.GenerateTimeout)
		defer cancel()
	}
	resp, err := o.comp.Generator.Complete(gctx, llm.CompletionRequest{
		SystemPrompt: o.comp.Tutor.SystemPrompt(config.Language(language)),
		Messages:     sess.ModelMessages(),
		Temperature:  o.cfg.Temperature,
		MaxTokens:    o.cfg.MaxTokens,
	})
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil && !fault.IsCancelled(err) {
			slog.Warn("text completion failed", "error", err)
		}
		return o.comp.Tutor.Apology(config.Language(language))
	}
	return strings.TrimSpace(resp.Content)
}

// synthesizeOnce renders text in one batch request. Returns nil audio on
// failure so text-only operation can continue.
func (o *Orchestrator) synthesizeOnce(ctx context.Context, participant, text, language string) []byte {
	voice := o.resolveVoice(ctx, language)
	pcm, err := o.comp.Speaker.Synthesize(ctx, text, voice)
	if err != nil {
		if !fault.IsCancelled(err) {
			slog.Warn("synthesis failed", "participant", participant, "error", err)
			o.hooks.errored(participant, "speech synthesis failed")
		}
		return nil
	}
	if len(pcm) > 0 {
		o.hooks.assistantAudio(participant, pcm)
	}
	return pcm
}

// resolveVoice picks a synthesis voice for the detected language. The voice
// catalogue is fetched once and reused; a fetch failure leaves the catalogue
// empty, which resolves to the provider-independent default voice.
func (o *Orchestrator) resolveVoice(ctx context.Context, language string) tts.VoiceProfile {
	o.voiceOnce.Do(func() {
		vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		voices, err := o.comp.Speaker.ListVoices(vctx)
		if err != nil {
			slog.Warn("listing voices failed, using default voice", "error", err)
			return
		}
		o.voices = voices
	})
	return tts.ResolveVoice(o.voices, o.cfg.VoiceID, language)
}

// ─── Worker ───────────────────────────────────────────────────────────────────

// worker drives one participant's conversation loop. The frame loop runs in
// its own goroutine; each finalised utterance spawns a reply goroutine so the
// gate keeps classifying frames while backends work.
type worker struct {
	o           *Orchestrator
	participant string
	sess        *session.Session
	gate        *Gate
	frames      chan audio.AudioFrame
	cancel      context.CancelFunc
	done        chan struct{}

	state atomic.Int32

	replyMu     sync.Mutex
	replyCancel context.CancelFunc
	replyWG     sync.WaitGroup

	voicedRun  int
	lastVoiced bool
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)

	if w.o.cfg.Welcome {
		w.speakWelcome(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.interrupt()
			w.replyWG.Wait()
			w.gate.Reset()
			w.setState(StateStopped)
			return
		case frame := <-w.frames:
			w.handleFrame(ctx, frame)
		}
	}
}

func (w *worker) handleFrame(ctx context.Context, frame audio.AudioFrame) {
	res := w.gate.Push(frame)

	if res.Voiced != w.lastVoiced {
		w.lastVoiced = res.Voiced
		w.o.hooks.vadActive(w.participant, res.Voiced)
	}

	// Barge-in: sustained speech while a reply is in flight interrupts it.
	// The debounce keeps clicks and playback echo from killing replies.
	if res.Voiced && w.replyInFlight() {
		w.voicedRun++
		if w.voicedRun >= w.o.cfg.BargeInFrames {
			w.voicedRun = 0
			w.interrupt()
		}
	} else if !res.Voiced {
		w.voicedRun = 0
	}

	if res.Discarded {
		w.o.comp.Metrics.RecordDiscard(ctx, "too_short")
		return
	}
	if res.Utterance != nil {
		w.startReply(ctx, res.Utterance)
	}
}

// interrupt cancels the in-flight reply, if any. Idempotent: with no reply in
// flight it changes nothing, and a second call after the first is a no-op.
func (w *worker) interrupt() {
	w.replyMu.Lock()
	cancel := w.replyCancel
	w.replyCancel = nil
	w.replyMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	w.o.comp.Metrics.RecordBargeIn(context.Background())
	w.o.hooks.status(w.participant, "interrupted")
	slog.Debug("reply interrupted", "participant", w.participant)
}

func (w *worker) replyInFlight() bool {
	w.replyMu.Lock()
	defer w.replyMu.Unlock()
	return w.replyCancel != nil
}

// startReply launches the reply goroutine for a finalised utterance. Any
// still-winding-down reply is cancelled and waited for first, so at most one
// reply per participant is ever in flight.
func (w *worker) startReply(ctx context.Context, utt *Utterance) {
	w.interrupt()
	w.replyWG.Wait()

	rctx, cancel := context.WithCancel(ctx)
	w.replyMu.Lock()
	w.replyCancel = cancel
	w.replyMu.Unlock()

	w.replyWG.Add(1)
	go func() {
		defer w.replyWG.Done()
		defer func() {
			w.replyMu.Lock()
			w.replyCancel = nil
			w.replyMu.Unlock()
			cancel()
			if State(w.state.Load()) != StateStopped {
				w.setState(StateListening)
			}
		}()
		w.reply(rctx, utt)
	}()
}

// reply runs one full turn: transcribe, generate, speak. Every exit path
// leaves the worker listening; failures degrade to a spoken apology and
// cancellations just stop.
func (w *worker) reply(ctx context.Context, utt *Utterance) {
	start := time.Now()
	m := w.o.comp.Metrics

	if w.o.cfg.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.o.cfg.ReplyTimeout)
		defer cancel()
	}

	w.setState(StateTranscribing)
	text, lang, ok := w.transcribe(ctx, utt)
	if !ok {
		return
	}

	w.o.hooks.userText(w.participant, text)
	m.RecordUtterance(ctx, lang)

	if session.IsRepeatRequest(text) {
		if last := w.sess.LastAssistantText(); last != "" {
			w.o.hooks.status(w.participant, "repeating")
			w.speak(ctx, last, lang)
			m.TurnDuration.Record(ctx, time.Since(start).Seconds())
			return
		}
	}

	w.sess.AddUserTurn(text, lang)
	w.setState(StateGenerating)
	assistant := w.generateAndSpeak(ctx, lang)
	if assistant == "" {
		if ctx.Err() != nil {
			// Barge-in or reply deadline: the turn is abandoned, not failed.
			return
		}
		assistant = w.o.comp.Tutor.Apology(config.Language(lang))
		w.o.hooks.assistantText(w.participant, assistant)
		w.speak(ctx, assistant, lang)
	}
	w.sess.AddAssistantTurn(assistant, lang)
	m.TurnDuration.Record(ctx, time.Since(start).Seconds())
}

// transcribe converts the utterance to corrected text. ok is false when the
// turn should end here: cancellation, backend failure, or an empty
// transcript, which is discarded without recording a turn.
func (w *worker) transcribe(ctx context.Context, utt *Utterance) (text, lang string, ok bool) {
	tctx := ctx
	if w.o.cfg.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, w.o.cfg.TranscribeTimeout)
		defer cancel()
	}
	hint := w.sess.Language()
	if hint == "" {
		hint = "auto"
	}

	sttStart := time.Now()
	res, err := w.o.comp.Transcriber.Transcribe(tctx, utt.Samples, utt.SampleRate, hint)
	w.o.comp.Metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	if err != nil {
		if !fault.IsCancelled(err) {
			slog.Warn("transcription failed", "participant", w.participant, "error", err)
			w.o.hooks.errored(w.participant, "transcription failed")
		}
		return "", "", false
	}

	text = strings.TrimSpace(res.Text)
	if text == "" {
		w.o.comp.Metrics.RecordDiscard(ctx, "empty_transcript")
		return "", "", false
	}

	lang = res.Language
	if lang == "" {
		lang = w.sess.Language()
	}
	if w.o.comp.Corrector != nil {
		if corrected, cerr := w.o.comp.Corrector.Correct(ctx, text, lang); cerr == nil {
			text = corrected.Corrected
		}
	}
	return text, lang, true
}

// generateAndSpeak streams the model's reply sentence-by-sentence into TTS
// and delivers audio chunks as they arrive. Returns the full reply text, or
// "" when generation produced nothing (failure, timeout, or barge-in).
func (w *worker) generateAndSpeak(ctx context.Context, lang string) string {
	gctx := ctx
	if w.o.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, w.o.cfg.GenerateTimeout)
		defer cancel()
	}

	req := llm.CompletionRequest{
		SystemPrompt: w.o.comp.Tutor.SystemPrompt(config.Language(lang)),
		Messages:     w.sess.ModelMessages(),
		Temperature:  w.o.cfg.Temperature,
		MaxTokens:    w.o.cfg.MaxTokens,
	}

	llmStart := time.Now()
	chunks, err := w.o.comp.Generator.StreamCompletion(gctx, req)
	if err != nil {
		if !fault.IsCancelled(err) {
			slog.Warn("generation failed to start", "participant", w.participant, "error", err)
			w.o.hooks.errored(w.participant, "reply generation failed")
		}
		return ""
	}

	textCh := make(chan string, sentenceBufDepth)
	voice := w.o.resolveVoice(ctx, lang)
	ttsStart := time.Now()
	audioCh, synthErr := w.o.comp.Speaker.SynthesizeStream(ctx, textCh, voice)
	if synthErr != nil {
		// Text-only degradation: keep generating, skip audio.
		slog.Warn("synthesis failed to start", "participant", w.participant, "error", synthErr)
		go audio.Drain(textCh)
	}

	full := make(chan string, 1)
	go func() {
		full <- forwardSentences(gctx, chunks, textCh)
	}()

	if synthErr == nil {
		w.drainAudio(ctx, audioCh)
		w.o.comp.Metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())
	}

	reply := <-full
	w.o.comp.Metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
	if reply != "" {
		w.o.hooks.assistantText(w.participant, reply)
	}
	return reply
}

// drainAudio delivers synthesis output to the audio hook until the stream
// closes or the reply is cancelled. After cancellation the remaining chunks
// are discarded in the background so the provider's goroutine can finish —
// no orphan audio reaches the hook.
func (w *worker) drainAudio(ctx context.Context, audioCh <-chan []byte) {
	first := true
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(audioCh)
			return
		case chunk, okCh := <-audioCh:
			if !okCh {
				return
			}
			if len(chunk) == 0 {
				continue
			}
			if first {
				first = false
				w.setState(StateSpeaking)
			}
			w.o.hooks.assistantAudio(w.participant, chunk)
		}
	}
}

// speak renders a fixed phrase in one batch request. Used for greetings,
// repeats, and apologies where streaming buys nothing.
func (w *worker) speak(ctx context.Context, text, lang string) {
	w.setState(StateSpeaking)
	ttsStart := time.Now()
	w.o.synthesizeOnce(ctx, w.participant, text, lang)
	w.o.comp.Metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())
}

// speakWelcome greets a freshly connected participant in the target language.
func (w *worker) speakWelcome(ctx context.Context) {
	welcome := w.o.comp.Tutor.Welcome()
	lang := string(w.o.comp.Tutor.TargetLanguage())
	w.o.hooks.assistantText(w.participant, welcome)
	w.sess.AddAssistantTurn(welcome, lang)
	w.speak(ctx, welcome, lang)
	w.setState(StateListening)
}

func (w *worker) setState(s State) {
	w.state.Store(int32(s))
}

// forwardSentences accumulates LLM chunks into complete sentences and writes
// each one to textCh for synthesis, closing textCh when the stream ends. It
// returns the full accumulated reply, or "" when the context was cancelled
// before the stream finished — a cancelled reply records no turn.
func forwardSentences(ctx context.Context, chunks <-chan llm.Chunk, textCh chan<- string) string {
	defer close(textCh)

	var full, pending strings.Builder
	flush := func(s string) bool {
		select {
		case textCh <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			go audio.Drain(chunks)
			return ""
		case c, okCh := <-chunks:
			if !okCh {
				if ctx.Err() != nil {
					// Provider closed the stream because the context died.
					return ""
				}
				if pending.Len() > 0 {
					flush(pending.String())
				}
				return strings.TrimSpace(full.String())
			}

			if c.FinishReason == "error" {
				slog.Warn("generation failed mid-stream", "error", c.Text)
				if pending.Len() > 0 {
					flush(pending.String())
				}
				return strings.TrimSpace(full.String())
			}

			if c.Text != "" {
				full.WriteString(c.Text)
				pending.WriteString(c.Text)
			}

			// Flush complete sentences eagerly so synthesis starts before
			// the model finishes.
			for {
				idx := sentenceBoundary(pending.String())
				if idx < 0 {
					break
				}
				s := pending.String()
				sentence := s[:idx+1]
				rest := strings.TrimLeft(s[idx+1:], " \t\n\r")
				pending.Reset()
				pending.WriteString(rest)
				if !flush(sentence) {
					go audio.Drain(chunks)
					return ""
				}
			}

			if c.FinishReason != "" {
				if pending.Len() > 0 {
					flush(pending.String())
				}
				return strings.TrimSpace(full.String())
			}
		}
	}
}

// sentenceBoundary returns the index of the first '.', '!' or '?' immediately
// followed by whitespace, or -1 when s has no complete sentence yet.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
