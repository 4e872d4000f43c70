package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per pipeline stage.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper", "whisper-native"},
	"llm":        {"ollama", "llamacpp", "llamafile", "openai"},
	"tts":        {"elevenlabs", "piper", "noop"},
	"vad":        {"silero", "energy"},
	"embeddings": {"ollama", "openai"},
}

// Defaults applied by [Normalize] for zero-valued pipeline fields.
const (
	DefaultFrameMillis         = 32
	DefaultVADThreshold        = 0.5
	DefaultSilenceFrames       = 15
	DefaultBargeInFrames       = 3
	DefaultMinUtteranceSamples = 1024
	DefaultMaxUtteranceSeconds = 30
	DefaultQueueSize           = 256
	DefaultReplyTimeout        = 60 * time.Second
	DefaultHistoryTurns        = 10
)

// Load reads the YAML configuration file at path and returns a validated,
// normalised [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it, and applies
// defaults. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Tutor.TargetLanguage != "" && !cfg.Tutor.TargetLanguage.IsValid() {
		errs = append(errs, fmt.Errorf("tutor.target_language %q is invalid; valid values: en, fr", cfg.Tutor.TargetLanguage))
	}
	if cfg.Tutor.BaseLanguage != "" && !cfg.Tutor.BaseLanguage.IsValid() {
		errs = append(errs, fmt.Errorf("tutor.base_language %q is invalid; valid values: en, fr", cfg.Tutor.BaseLanguage))
	}
	if cfg.Tutor.TargetLanguage != "" && cfg.Tutor.TargetLanguage == cfg.Tutor.BaseLanguage {
		errs = append(errs, fmt.Errorf("tutor.target_language and tutor.base_language must differ, both are %q", cfg.Tutor.TargetLanguage))
	}
	if cfg.Tutor.Temperature < 0 || cfg.Tutor.Temperature > 2 {
		errs = append(errs, fmt.Errorf("tutor.temperature %.2f is out of range [0, 2]", cfg.Tutor.Temperature))
	}
	if cfg.Tutor.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("tutor.history_turns must not be negative, got %d", cfg.Tutor.HistoryTurns))
	}

	validateChain("stt", cfg.Providers.STT, &errs)
	validateChain("llm", cfg.Providers.LLM, &errs)
	validateChain("tts", cfg.Providers.TTS, &errs)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.STT.Primary.Name == "" {
		errs = append(errs, errors.New("providers.stt.primary is required"))
	}
	if cfg.Providers.LLM.Primary.Name == "" {
		errs = append(errs, errors.New("providers.llm.primary is required"))
	}
	if cfg.Providers.TTS.Primary.Name == "" {
		errs = append(errs, errors.New("providers.tts.primary is required"))
	}

	if cfg.Pipeline.VADThreshold < 0 || cfg.Pipeline.VADThreshold >= 1 {
		errs = append(errs, fmt.Errorf("pipeline.vad_threshold %.2f is out of range [0, 1)", cfg.Pipeline.VADThreshold))
	}
	if cfg.Pipeline.FrameMillis < 0 {
		errs = append(errs, fmt.Errorf("pipeline.frame_ms must not be negative, got %d", cfg.Pipeline.FrameMillis))
	}
	if cfg.Pipeline.SpeechPadFrames < 0 {
		errs = append(errs, fmt.Errorf("pipeline.speech_pad_frames must not be negative, got %d", cfg.Pipeline.SpeechPadFrames))
	}

	if cfg.Memory.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("memory.postgres_dsn is set but providers.embeddings is not; vocabulary retrieval will be unavailable")
	}
	if cfg.Memory.PostgresDSN != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("memory.postgres_dsn is set but memory.embedding_dimensions is not; defaulting to 768")
	}

	switch cfg.Export.Format {
	case "", "json", "csv", "both":
	default:
		errs = append(errs, fmt.Errorf("export.format %q is invalid; valid values: json, csv, both", cfg.Export.Format))
	}

	return errors.Join(errs...)
}

// Normalize applies defaults for zero-valued fields. Call after [Validate].
func Normalize(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8085"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Tutor.TargetLanguage == "" {
		cfg.Tutor.TargetLanguage = LangFrench
	}
	if cfg.Tutor.BaseLanguage == "" {
		cfg.Tutor.BaseLanguage = LangEnglish
	}
	if cfg.Tutor.HistoryTurns == 0 {
		cfg.Tutor.HistoryTurns = DefaultHistoryTurns
	}
	if cfg.Pipeline.FrameMillis == 0 {
		cfg.Pipeline.FrameMillis = DefaultFrameMillis
	}
	if cfg.Pipeline.VADThreshold == 0 {
		cfg.Pipeline.VADThreshold = DefaultVADThreshold
	}
	if cfg.Pipeline.SilenceFrames == 0 {
		cfg.Pipeline.SilenceFrames = DefaultSilenceFrames
	}
	if cfg.Pipeline.BargeInFrames == 0 {
		cfg.Pipeline.BargeInFrames = DefaultBargeInFrames
	}
	if cfg.Pipeline.MinUtteranceSamples == 0 {
		cfg.Pipeline.MinUtteranceSamples = DefaultMinUtteranceSamples
	}
	if cfg.Pipeline.MaxUtteranceSeconds == 0 {
		cfg.Pipeline.MaxUtteranceSeconds = DefaultMaxUtteranceSeconds
	}
	if cfg.Pipeline.QueueSize == 0 {
		cfg.Pipeline.QueueSize = DefaultQueueSize
	}
	if cfg.Pipeline.ReplyTimeout == 0 {
		cfg.Pipeline.ReplyTimeout = Duration(DefaultReplyTimeout)
	}
	if cfg.Memory.PostgresDSN != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		cfg.Memory.EmbeddingDimensions = 768
	}
	if cfg.Export.Format == "" {
		cfg.Export.Format = "json"
	}
}

// validateChain validates every entry of a provider chain.
func validateChain(kind string, chain ChainConfig, errs *[]error) {
	validateProviderName(kind, chain.Primary.Name)
	for i, entry := range chain.Fallbacks {
		if entry.Name == "" {
			*errs = append(*errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, entry.Name)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
