package config

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const validYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
providers:
  stt:
    primary:
      name: whisper
      base_url: http://localhost:8080
  llm:
    primary:
      name: ollama
      model: qwen2.5:7b-instruct
    fallbacks:
      - name: openai
        api_key: sk-test
        model: gpt-4o-mini
  tts:
    primary:
      name: elevenlabs
      api_key: el-test
    fallbacks:
      - name: piper
        base_url: http://localhost:5000
        sample_rate: 22050
      - name: noop
  vad:
    name: energy
tutor:
  target_language: fr
  base_language: en
  welcome: true
pipeline:
  vad_threshold: 0.6
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q, want :9000", cfg.Server.ListenAddr)
	}
	if cfg.Providers.LLM.Primary.Name != "ollama" {
		t.Errorf("llm primary = %q, want ollama", cfg.Providers.LLM.Primary.Name)
	}
	if got := len(cfg.Providers.TTS.Fallbacks); got != 2 {
		t.Errorf("tts fallbacks = %d, want 2", got)
	}
	if cfg.Pipeline.VADThreshold != 0.6 {
		t.Errorf("vad_threshold = %v, want 0.6", cfg.Pipeline.VADThreshold)
	}
}

func TestLoadFromReaderAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Tutor.HistoryTurns != DefaultHistoryTurns {
		t.Errorf("history_turns = %d, want %d", cfg.Tutor.HistoryTurns, DefaultHistoryTurns)
	}
	if cfg.Pipeline.MinUtteranceSamples != DefaultMinUtteranceSamples {
		t.Errorf("min_utterance_samples = %d, want %d", cfg.Pipeline.MinUtteranceSamples, DefaultMinUtteranceSamples)
	}
	if cfg.Pipeline.ReplyTimeout != Duration(60*time.Second) {
		t.Errorf("reply_timeout = %v, want 60s", cfg.Pipeline.ReplyTimeout)
	}
	if cfg.Export.Format != "json" {
		t.Errorf("export format = %q, want json", cfg.Export.Format)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	yaml := strings.Replace(validYAML, "welcome: true", "welcom: true", 1)
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{LogLevel: "verbose"},
		Tutor:  TutorConfig{TargetLanguage: "fr", BaseLanguage: "fr", Temperature: 3},
		Export: ExportConfig{Format: "xml"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"log_level", "base_language must differ", "temperature", "export.format", "providers.stt.primary", "providers.llm.primary", "providers.tts.primary"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestValidateRejectsUnnamedFallback(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.Providers.TTS.Fallbacks = append(cfg.Providers.TTS.Fallbacks, ProviderEntry{})
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "fallbacks[3].name") {
		t.Fatalf("expected unnamed fallback error, got %v", err)
	}
}

func TestDurationAcceptsStringsAndIntegers(t *testing.T) {
	yaml := strings.Replace(validYAML, "pipeline:", "pipeline:\n  reply_timeout: 1m30s", 1)
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Pipeline.ReplyTimeout != Duration(90*time.Second) {
		t.Errorf("reply_timeout = %v, want 1m30s", cfg.Pipeline.ReplyTimeout)
	}

	var d Duration
	if err := d.UnmarshalYAML(yamlScalar("!!int", "2500000000")); err != nil {
		t.Fatalf("integer duration: %v", err)
	}
	if d != Duration(2500*time.Millisecond) {
		t.Errorf("duration = %v, want 2.5s in nanoseconds", d)
	}

	if err := d.UnmarshalYAML(yamlScalar("!!str", "soon")); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

// yamlScalar wraps a raw scalar in a yaml.Node for direct unmarshal tests.
func yamlScalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

func TestLoadFromReaderStageTuning(t *testing.T) {
	extended := strings.Replace(validYAML, "pipeline:",
		"pipeline:\n  speech_pad_frames: 3\n  transcribe_timeout: 15s\n  generate_timeout: 30s", 1)
	cfg, err := LoadFromReader(strings.NewReader(extended))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Pipeline.SpeechPadFrames != 3 {
		t.Errorf("speech_pad_frames = %d, want 3", cfg.Pipeline.SpeechPadFrames)
	}
	if cfg.Pipeline.TranscribeTimeout != Duration(15*time.Second) {
		t.Errorf("transcribe_timeout = %v, want 15s", cfg.Pipeline.TranscribeTimeout)
	}
	if cfg.Pipeline.GenerateTimeout != Duration(30*time.Second) {
		t.Errorf("generate_timeout = %v, want 30s", cfg.Pipeline.GenerateTimeout)
	}
}

func TestValidateRejectsNegativePad(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.Pipeline.SpeechPadFrames = -1
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "speech_pad_frames") {
		t.Fatalf("expected speech_pad_frames error, got %v", err)
	}
}

func TestChainEntriesOrder(t *testing.T) {
	chain := ChainConfig{
		Primary:   ProviderEntry{Name: "a"},
		Fallbacks: []ProviderEntry{{Name: "b"}, {Name: "c"}},
	}
	entries := chain.Entries()
	if len(entries) != 3 || entries[0].Name != "a" || entries[2].Name != "c" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
