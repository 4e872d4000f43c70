// Command parleur is the main entry point for the parleur voice tutor server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/parleur/internal/app"
	"github.com/MrWong99/parleur/internal/config"
	"github.com/MrWong99/parleur/internal/health"
	"github.com/MrWong99/parleur/internal/observe"
	"github.com/MrWong99/parleur/internal/resilience"
	"github.com/MrWong99/parleur/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/parleur/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/parleur/pkg/provider/embeddings/openai"
	"github.com/MrWong99/parleur/pkg/provider/llm"
	"github.com/MrWong99/parleur/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/parleur/pkg/provider/llm/openai"
	"github.com/MrWong99/parleur/pkg/provider/stt"
	"github.com/MrWong99/parleur/pkg/provider/stt/whisper"
	"github.com/MrWong99/parleur/pkg/provider/tts"
	"github.com/MrWong99/parleur/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/parleur/pkg/provider/tts/noop"
	"github.com/MrWong99/parleur/pkg/provider/tts/piper"
	"github.com/MrWong99/parleur/pkg/provider/vad"
	"github.com/MrWong99/parleur/pkg/provider/vad/energy"
	"github.com/MrWong99/parleur/pkg/provider/vad/silero"
	"github.com/MrWong99/parleur/pkg/transport/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parleur: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parleur: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("parleur starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"target_language", cfg.Tutor.TargetLanguage,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "parleur"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider chains ───────────────────────────────────────────────────────
	providers, checkers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return 1
	}

	// ── Transport + application ───────────────────────────────────────────────
	bridge := ws.NewBridge(logger)
	application, err := app.New(ctx, cfg, providers,
		app.WithTransport(bridge),
		app.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	// ── Startup health report ─────────────────────────────────────────────────
	checkers = append(checkers, application.HealthCheckers()...)
	h := health.New(checkers...)
	if failed := h.Report(ctx); len(failed) > 0 {
		slog.Warn("starting with degraded backends", "failed", failed)
	}

	// ── HTTP servers ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("/session", bridge)
	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mmux := http.NewServeMux()
		mmux.Handle("/metrics", promhttp.Handler())
		h.Register(mmux)
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mmux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("metrics server error", "error", err)
			}
		}()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "error", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates every configured provider chain and returns the
// wrapped providers plus the startup health probes for the reachable backends.
func buildProviders(cfg *config.Config) (*app.Providers, []health.Checker, error) {
	var checkers []health.Checker

	detector, err := buildDetector(cfg.Providers.VAD)
	if err != nil {
		return nil, nil, fmt.Errorf("vad: %w", err)
	}

	transcriber, sttCheckers, err := buildTranscriberChain(cfg.Providers.STT)
	if err != nil {
		return nil, nil, fmt.Errorf("stt: %w", err)
	}
	checkers = append(checkers, sttCheckers...)

	generator, llmCheckers, err := buildGeneratorChain(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("llm: %w", err)
	}
	checkers = append(checkers, llmCheckers...)

	speaker, ttsCheckers, err := buildSpeakerChain(cfg.Providers.TTS)
	if err != nil {
		return nil, nil, fmt.Errorf("tts: %w", err)
	}
	checkers = append(checkers, ttsCheckers...)

	embedder, err := buildEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("embeddings: %w", err)
	}

	return &app.Providers{
		Detector:    detector,
		Transcriber: transcriber,
		Generator:   generator,
		Speaker:     speaker,
		Embeddings:  embedder,
	}, checkers, nil
}

// buildDetector creates the VAD backend. An empty name selects the dependency-
// free energy detector.
func buildDetector(entry config.ProviderEntry) (vad.Detector, error) {
	switch entry.Name {
	case "", "energy":
		return energy.New(), nil
	case "silero":
		return silero.New(entry.BaseURL)
	default:
		return nil, fmt.Errorf("unknown provider %q", entry.Name)
	}
}

// buildTranscriberChain wraps the configured STT entries in a fallback group,
// primary first.
func buildTranscriberChain(chain config.ChainConfig) (stt.Transcriber, []health.Checker, error) {
	var (
		group    *resilience.STTFallback
		checkers []health.Checker
	)
	for i, entry := range chain.Entries() {
		t, checker, err := buildTranscriber(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("%q: %w", entry.Name, err)
		}
		if checker != nil {
			checkers = append(checkers, *checker)
		}
		if i == 0 {
			group = resilience.NewSTTFallback(t, entry.Name, resilience.FallbackConfig{})
		} else {
			group.AddFallback(entry.Name, t)
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}
	return group, checkers, nil
}

func buildTranscriber(entry config.ProviderEntry) (stt.Transcriber, *health.Checker, error) {
	switch entry.Name {
	case "whisper":
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		t, err := whisper.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, nil, err
		}
		checker := health.CheckHTTP("stt/whisper", entry.BaseURL)
		return t, &checker, nil
	case "whisper-native":
		t, err := whisper.NewNative(entry.Model)
		return t, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", entry.Name)
	}
}

// buildGeneratorChain wraps the configured LLM entries in a fallback group,
// primary first.
func buildGeneratorChain(chain config.ChainConfig) (llm.Provider, []health.Checker, error) {
	var (
		group    *resilience.LLMFallback
		checkers []health.Checker
	)
	for i, entry := range chain.Entries() {
		p, checker, err := buildGenerator(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("%q: %w", entry.Name, err)
		}
		if checker != nil {
			checkers = append(checkers, *checker)
		}
		if i == 0 {
			group = resilience.NewLLMFallback(p, entry.Name, resilience.FallbackConfig{})
		} else {
			group.AddFallback(entry.Name, p)
		}
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
	}
	return group, checkers, nil
}

func buildGenerator(entry config.ProviderEntry) (llm.Provider, *health.Checker, error) {
	switch entry.Name {
	case "ollama", "llamacpp", "llamafile":
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New(entry.Name, entry.Model, opts...)
		if err != nil {
			return nil, nil, err
		}
		if entry.Name == "ollama" {
			checker := health.CheckLLM("llm/ollama", entry.BaseURL)
			return p, &checker, nil
		}
		return p, nil, nil
	case "openai":
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		p, err := oallm.New(entry.APIKey, entry.Model, opts...)
		return p, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", entry.Name)
	}
}

// buildSpeakerChain wraps the configured TTS entries in a fallback group and
// appends the silent provider as the last resort so synthesis failures degrade
// to text-only replies instead of killing the session.
func buildSpeakerChain(chain config.ChainConfig) (tts.Provider, []health.Checker, error) {
	var (
		group    *resilience.TTSFallback
		checkers []health.Checker
		hasNoop  bool
	)
	for i, entry := range chain.Entries() {
		p, err := buildSpeaker(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("%q: %w", entry.Name, err)
		}
		if i == 0 {
			group = resilience.NewTTSFallback(p, entry.Name, resilience.FallbackConfig{})
			checkers = append(checkers, health.CheckSpeaker("tts/"+entry.Name, p))
		} else if err := group.AddFallback(entry.Name, p); err != nil {
			return nil, nil, err
		}
		if entry.Name == "noop" {
			hasNoop = true
		}
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}
	if !hasNoop {
		if err := group.AddFallback("noop", noop.New()); err != nil {
			slog.Warn("silent tts fallback not added", "error", err)
		}
	}
	return group, checkers, nil
}

func buildSpeaker(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "elevenlabs":
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	case "piper":
		return piper.New(entry.BaseURL, entry.SampleRate)
	case "noop":
		return noop.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", entry.Name)
	}
}

// buildEmbeddings creates the optional embeddings backend. An empty name
// leaves vocabulary retrieval disabled.
func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "":
		return nil, nil
	case "ollama":
		return ollamaembed.New(entry.BaseURL, entry.Model)
	case "openai":
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", entry.Name)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
