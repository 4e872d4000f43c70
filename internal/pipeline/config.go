package pipeline

import (
	"time"

	"github.com/MrWong99/parleur/internal/config"
)

// Config tunes the orchestrator. Zero values take defaults applied in [New].
type Config struct {
	// VADThreshold, SilenceFrames, SpeechPadFrames, MinUtteranceSamples and
	// MaxUtteranceSeconds are passed through to each participant's [Gate].
	VADThreshold        float64
	SilenceFrames       int
	SpeechPadFrames     int
	MinUtteranceSamples int
	MaxUtteranceSeconds int

	// BargeInFrames is the run of voiced frames that must arrive while a
	// reply is in flight before it is interrupted. Debounces against clicks
	// and playback echo.
	BargeInFrames int

	// QueueSize bounds the per-participant frame queue. Ingress never blocks;
	// when the queue is full the oldest frame is dropped.
	QueueSize int

	// ReplyTimeout bounds the whole transcribe-generate-speak cycle for one
	// utterance.
	ReplyTimeout time.Duration

	// TranscribeTimeout and GenerateTimeout bound the individual backend
	// calls. Zero means bounded only by ReplyTimeout.
	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration

	// HistoryTurns caps the conversation history sent to the model.
	HistoryTurns int

	// VoiceID pins an explicit synthesis voice. Empty selects by detected
	// language.
	VoiceID string

	// Temperature and MaxTokens are passed through to the model.
	Temperature float64
	MaxTokens   int

	// Welcome speaks a greeting as soon as a participant connects.
	Welcome bool
}

// FromConfig maps the YAML configuration sections onto a pipeline Config.
func FromConfig(pc config.PipelineConfig, tc config.TutorConfig) Config {
	return Config{
		VADThreshold:        pc.VADThreshold,
		SilenceFrames:       pc.SilenceFrames,
		SpeechPadFrames:     pc.SpeechPadFrames,
		MinUtteranceSamples: pc.MinUtteranceSamples,
		MaxUtteranceSeconds: pc.MaxUtteranceSeconds,
		BargeInFrames:       pc.BargeInFrames,
		QueueSize:           pc.QueueSize,
		ReplyTimeout:        time.Duration(pc.ReplyTimeout),
		TranscribeTimeout:   time.Duration(pc.TranscribeTimeout),
		GenerateTimeout:     time.Duration(pc.GenerateTimeout),
		HistoryTurns:        tc.HistoryTurns,
		VoiceID:             tc.VoiceID,
		Temperature:         tc.Temperature,
		MaxTokens:           tc.MaxReplyTokens,
		Welcome:             tc.Welcome,
	}
}

func (c *Config) normalize() {
	if c.VADThreshold == 0 {
		c.VADThreshold = config.DefaultVADThreshold
	}
	if c.SilenceFrames == 0 {
		c.SilenceFrames = config.DefaultSilenceFrames
	}
	if c.MinUtteranceSamples == 0 {
		c.MinUtteranceSamples = config.DefaultMinUtteranceSamples
	}
	if c.MaxUtteranceSeconds == 0 {
		c.MaxUtteranceSeconds = config.DefaultMaxUtteranceSeconds
	}
	if c.BargeInFrames == 0 {
		c.BargeInFrames = config.DefaultBargeInFrames
	}
	if c.QueueSize == 0 {
		c.QueueSize = config.DefaultQueueSize
	}
	if c.ReplyTimeout == 0 {
		c.ReplyTimeout = config.DefaultReplyTimeout
	}
	if c.HistoryTurns == 0 {
		c.HistoryTurns = config.DefaultHistoryTurns
	}
}
