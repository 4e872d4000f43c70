// Package app wires all parleur subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run pumps transport frames and events into the conversation
// pipeline, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithTransport, WithVocabIndex, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parleur/internal/config"
	"github.com/MrWong99/parleur/internal/health"
	"github.com/MrWong99/parleur/internal/observe"
	"github.com/MrWong99/parleur/internal/pipeline"
	"github.com/MrWong99/parleur/internal/session"
	"github.com/MrWong99/parleur/internal/transcript"
	"github.com/MrWong99/parleur/internal/transcript/phonetic"
	"github.com/MrWong99/parleur/internal/tutor"
	"github.com/MrWong99/parleur/pkg/audio"
	"github.com/MrWong99/parleur/pkg/fault"
	"github.com/MrWong99/parleur/pkg/memory"
	"github.com/MrWong99/parleur/pkg/memory/postgres"
	"github.com/MrWong99/parleur/pkg/provider/embeddings"
	"github.com/MrWong99/parleur/pkg/provider/llm"
	"github.com/MrWong99/parleur/pkg/provider/stt"
	"github.com/MrWong99/parleur/pkg/provider/tts"
	"github.com/MrWong99/parleur/pkg/provider/vad"
	"github.com/MrWong99/parleur/pkg/transport"
	"github.com/MrWong99/parleur/pkg/transport/ws"
)

// sendTimeout bounds each outbound transport write issued from a hook.
const sendTimeout = 10 * time.Second

// Providers holds one interface value per pipeline stage. Detector,
// Transcriber, Generator and Speaker are required; Embeddings is optional and
// only used when the lesson memory layer is enabled. Populated by main.go
// from the provider chains in the config.
type Providers struct {
	Detector    vad.Detector
	Transcriber stt.Transcriber
	Generator   llm.Provider
	Speaker     tts.Provider
	Embeddings  embeddings.Provider
}

// App owns all subsystem lifetimes and bridges the transport to the
// conversation pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	transport   transport.Transport
	transcripts memory.TranscriptStore
	vocab       memory.VocabIndex
	tut         *tutor.Tutor
	orch        *pipeline.Orchestrator
	metrics     *observe.Metrics

	// active tracks participants with a running voice session so Shutdown can
	// export them.
	mu     sync.Mutex
	active map[string]struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	// checkers are readiness probes for subsystems the App owns.
	checkers []health.Checker

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTransport injects a transport instead of creating the WebSocket bridge.
func WithTransport(t transport.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithTranscriptStore injects a transcript store instead of creating one from
// the configured Postgres DSN.
func WithTranscriptStore(s memory.TranscriptStore) Option {
	return func(a *App) { a.transcripts = s }
}

// WithVocabIndex injects a vocabulary index instead of creating one from the
// configured Postgres DSN.
func WithVocabIndex(v memory.VocabIndex) Option {
	return func(a *App) { a.vocab = v }
}

// WithMetrics injects a metrics set instead of using the global meter.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (built from the configured provider chains). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		active:    make(map[string]struct{}),
	}
	for _, o := range opts {
		o(a)
	}

	if a.transport == nil {
		a.transport = ws.NewBridge(slog.Default())
	}
	a.closers = append(a.closers, a.transport.Close)

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	a.tut = tutor.New(cfg.Tutor)

	var corrector *transcript.VocabCorrector
	if a.vocab != nil {
		corrector = transcript.NewVocabCorrector(phonetic.New(), a.vocab)
	}

	orch, err := pipeline.New(pipeline.Components{
		Detector:    providers.Detector,
		Transcriber: providers.Transcriber,
		Generator:   providers.Generator,
		Speaker:     providers.Speaker,
		Corrector:   corrector,
		Tutor:       a.tut,
		Metrics:     a.metrics,
	}, a.hooks(), pipeline.FromConfig(cfg.Pipeline, cfg.Tutor))
	if err != nil {
		return nil, fmt.Errorf("app: build pipeline: %w", err)
	}
	a.orch = orch
	a.closers = append(a.closers, orch.Close)

	return a, nil
}

// initMemory sets up the Postgres lesson memory unless stores were injected.
// An empty DSN leaves the memory layer disabled; the pipeline runs without it.
func (a *App) initMemory(ctx context.Context) error {
	if a.transcripts != nil && a.vocab != nil {
		return nil // both injected
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		slog.Info("lesson memory disabled, no postgres dsn configured")
		return nil
	}

	dims := a.cfg.Memory.EmbeddingDimensions
	if a.providers.Embeddings != nil {
		dims = a.providers.Embeddings.Dimensions()
	}

	store, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}

	if a.transcripts == nil {
		a.transcripts = store.Transcripts()
	}
	if a.vocab == nil {
		a.vocab = store.Vocabulary()
	}

	a.checkers = append(a.checkers, health.CheckFunc("memory", store.Ping))
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// HealthCheckers returns readiness probes for subsystems the App owns.
func (a *App) HealthCheckers() []health.Checker {
	return a.checkers
}

// hooks bridges pipeline events onto the transport. Send failures are logged
// and dropped; a slow or broken client must not stall the pipeline.
func (a *App) hooks() pipeline.Hooks {
	rate := a.providers.Speaker.SampleRate()
	return pipeline.Hooks{
		OnUserText: func(participant, text string) {
			a.sendText(participant, "user", text)
		},
		OnAssistantText: func(participant, text string) {
			a.sendText(participant, "assistant", text)
		},
		OnAssistantAudio: func(participant string, chunk []byte) {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := a.transport.SendAudio(ctx, participant, chunk, rate); err != nil && !fault.IsCancelled(err) {
				slog.Warn("audio send failed", "participant", participant, "error", err)
			}
		},
		OnStatus: func(participant, message string) {
			a.sendText(participant, "status", message)
		},
		OnError: func(participant, message string) {
			a.sendText(participant, "status", message)
		},
		OnVADActive: func(participant string, active bool) {
			slog.Debug("voice activity", "participant", participant, "active", active)
		},
	}
}

func (a *App) sendText(participant, role, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := a.transport.SendText(ctx, participant, role, text); err != nil && !fault.IsCancelled(err) {
		slog.Warn("text send failed", "participant", participant, "role", role, "error", err)
	}
}

// Run pumps transport frames and participant events into the pipeline until
// ctx is cancelled or the transport closes both channels.
func (a *App) Run(ctx context.Context) error {
	frames := a.transport.Frames()
	events := a.transport.Events()

	slog.Info("app running", "target_language", a.cfg.Tutor.TargetLanguage)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				if frames == nil {
					return nil
				}
				continue
			}
			switch ev.Kind {
			case transport.ParticipantJoined:
				if err := a.Start(ev.Participant); err != nil {
					slog.Warn("start participant failed", "participant", ev.Participant, "error", err)
				}
			case transport.ParticipantLeft:
				if err := a.Stop(ev.Participant); err != nil {
					slog.Warn("stop participant failed", "participant", ev.Participant, "error", err)
				}
			}

		case f, ok := <-frames:
			if !ok {
				frames = nil
				if events == nil {
					return nil
				}
				continue
			}
			if err := a.PushAudio(f.Participant, f.Frame); err != nil {
				slog.Debug("frame dropped", "participant", f.Participant, "error", err)
			}
		}
	}
}

// Start begins a voice session for the participant.
func (a *App) Start(participant string) error {
	if err := a.orch.Start(participant); err != nil {
		return err
	}
	a.mu.Lock()
	a.active[participant] = struct{}{}
	a.mu.Unlock()
	return nil
}

// Stop ends the participant's voice session, exports the transcript to the
// configured directory, and persists the turns to the lesson memory.
func (a *App) Stop(participant string) error {
	a.mu.Lock()
	delete(a.active, participant)
	a.mu.Unlock()

	sess, err := a.orch.Stop(participant)
	if err != nil {
		return err
	}
	a.finishSession(sess)
	return nil
}

// PushAudio feeds one microphone frame into the participant's pipeline.
func (a *App) PushAudio(participant string, frame audio.AudioFrame) error {
	return a.orch.PushAudio(participant, frame)
}

// ProcessText runs one typed conversational turn and returns the synthesised
// reply audio. The reply text is delivered through the OnAssistantText hook.
func (a *App) ProcessText(ctx context.Context, participant, text, language string) ([]byte, error) {
	return a.orch.ProcessText(ctx, participant, text, language)
}

// Interrupt cancels the participant's in-flight reply, if any.
func (a *App) Interrupt(participant string) {
	a.orch.Interrupt(participant)
}

// NoteVocabulary records a vocabulary item in the lesson memory so later
// sessions can resurface it. Requires both the memory layer and an embeddings
// provider; returns a configuration fault otherwise.
func (a *App) NoteVocabulary(ctx context.Context, sessionID, term, translation, note, language string) error {
	if a.vocab == nil || a.providers.Embeddings == nil {
		return fault.Configuration("app: note vocabulary", fmt.Errorf("lesson memory or embeddings provider not configured"))
	}
	vec, err := a.providers.Embeddings.Embed(ctx, term+" — "+note)
	if err != nil {
		return fmt.Errorf("app: embed vocabulary note: %w", err)
	}
	return a.vocab.IndexNote(ctx, memory.VocabNote{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Term:        term,
		Translation: translation,
		Note:        note,
		Language:    language,
		Embedding:   vec,
		CreatedAt:   time.Now(),
	})
}

// RecallVocabulary returns the stored vocabulary notes most similar to the
// query, for the given language. Requires the memory layer and an embeddings
// provider.
func (a *App) RecallVocabulary(ctx context.Context, query, language string, topK int) ([]memory.NoteResult, error) {
	if a.vocab == nil || a.providers.Embeddings == nil {
		return nil, fault.Configuration("app: recall vocabulary", fmt.Errorf("lesson memory or embeddings provider not configured"))
	}
	vec, err := a.providers.Embeddings.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("app: embed query: %w", err)
	}
	return a.vocab.Search(ctx, vec, topK, memory.NoteFilter{Language: language})
}

// finishSession exports the finished session and appends its turns to the
// transcript log. Both are best-effort; failures are logged, never returned.
func (a *App) finishSession(sess *session.Session) {
	if sess == nil {
		return
	}

	if dir := a.cfg.Export.Dir; dir != "" {
		paths, err := sess.Export(dir, session.Format(a.cfg.Export.Format))
		if err != nil {
			slog.Warn("session export failed", "session", sess.ID(), "error", err)
		} else {
			slog.Info("session exported", "session", sess.ID(), "files", paths)
		}
	}

	if a.transcripts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	for _, t := range sess.History() {
		entry := memory.TranscriptEntry{
			Speaker:   t.Role,
			Text:      t.Text,
			Language:  t.Language,
			Timestamp: t.Timestamp,
		}
		if err := a.transcripts.WriteEntry(ctx, sess.ID(), entry); err != nil {
			slog.Warn("transcript write failed", "session", sess.ID(), "error", err)
			return
		}
	}
}

// Shutdown ends every active voice session, then tears subsystems down in
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		participants := make([]string, 0, len(a.active))
		for p := range a.active {
			participants = append(participants, p)
		}
		a.mu.Unlock()

		slog.Info("shutting down", "active_sessions", len(participants))
		for _, p := range participants {
			if err := a.Stop(p); err != nil {
				slog.Warn("session stop error", "participant", p, "error", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
