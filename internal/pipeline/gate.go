package pipeline

import (
	"log/slog"

	"github.com/MrWong99/parleur/pkg/audio"
	"github.com/MrWong99/parleur/pkg/provider/vad"
)

// Utterance is a contiguous run of speech frames finalised by the gate and
// handed off for transcription. Samples are mono floats normalised to
// [-1.0, 1.0]; ownership transfers to the receiver.
type Utterance struct {
	Samples    []float32
	SampleRate int
}

// GateConfig tunes utterance segmentation. Zero values take the defaults
// applied by [NewGate].
type GateConfig struct {
	// Threshold is the speech probability at or above which a frame counts as
	// voiced.
	Threshold float64

	// SilenceFrames is the run of unvoiced frames that finalises an
	// utterance.
	SilenceFrames int

	// MinSamples discards finalised utterances shorter than this. Filters
	// out clicks and coughs before they reach the transcriber. Only voiced
	// samples count towards the minimum; padding does not.
	MinSamples int

	// MaxSeconds force-finalises an utterance that never goes silent.
	MaxSeconds int

	// PadFrames prepends up to this many of the most recent unvoiced frames
	// on speech onset and keeps the same number of trailing frames when the
	// utterance finalises, so clipped plosives at the edges still reach the
	// transcriber. Zero disables padding.
	PadFrames int
}

const (
	defaultGateThreshold     = 0.5
	defaultGateSilenceFrames = 15
	defaultGateMinSamples    = 1024
	defaultGateMaxSeconds    = 30
)

// PushResult is the outcome of feeding one frame to the gate.
type PushResult struct {
	// Voiced reports whether the frame was classified as speech.
	Voiced bool

	// Utterance is non-nil when this frame finalised an utterance that met
	// the minimum length.
	Utterance *Utterance

	// Discarded reports that an utterance boundary was crossed but the
	// accumulated buffer was below MinSamples and was dropped as noise.
	Discarded bool
}

// Gate turns a continuous stream of audio frames into discrete utterances.
//
// It keeps an is-speaking flag, a silence-run counter, and an accumulation
// buffer. Voiced frames are appended to the buffer; a run of SilenceFrames
// unvoiced frames finalises it. Buffers below MinSamples are discarded, and a
// buffer that reaches MaxSeconds is force-finalised so a noisy room cannot
// grow it without bound.
//
// A Gate is owned by a single session worker and is not safe for concurrent
// use. The underlying detector may be shared.
type Gate struct {
	det vad.Detector
	cfg GateConfig

	speaking   bool
	silenceRun int
	buf        []float32
	voiced     int
	pad        [][]float32
	sampleRate int
}

// NewGate builds a gate over the given detector, applying defaults for
// zero-valued config fields.
func NewGate(det vad.Detector, cfg GateConfig) *Gate {
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultGateThreshold
	}
	if cfg.SilenceFrames == 0 {
		cfg.SilenceFrames = defaultGateSilenceFrames
	}
	if cfg.MinSamples == 0 {
		cfg.MinSamples = defaultGateMinSamples
	}
	if cfg.MaxSeconds == 0 {
		cfg.MaxSeconds = defaultGateMaxSeconds
	}
	return &Gate{det: det, cfg: cfg}
}

// Classify reports whether a single frame is speech. A detector failure is
// treated as silence for that frame; the gate must never take down the audio
// loop.
func (g *Gate) Classify(samples []float32, sampleRate int) bool {
	p, err := g.det.Probability(samples, sampleRate)
	if err != nil {
		slog.Debug("vad classification failed, treating frame as silence", "error", err)
		return false
	}
	return p >= g.cfg.Threshold
}

// Push feeds one frame through the gate and reports whether it crossed an
// utterance boundary. Multi-channel frames are down-mixed to mono before
// classification.
func (g *Gate) Push(frame audio.AudioFrame) PushResult {
	samples := audio.PCMToFloat32Mono(frame.Data, frame.Channels)
	var res PushResult
	res.Voiced = g.Classify(samples, frame.SampleRate)

	if res.Voiced {
		if !g.speaking {
			for _, lead := range g.pad {
				g.buf = append(g.buf, lead...)
			}
			g.pad = g.pad[:0]
		}
		g.buf = append(g.buf, samples...)
		g.voiced += len(samples)
		g.sampleRate = frame.SampleRate
		g.silenceRun = 0
		g.speaking = true
		if g.sampleRate > 0 && len(g.buf) >= g.cfg.MaxSeconds*g.sampleRate {
			res.Utterance, res.Discarded = g.finalize()
		}
		return res
	}

	if !g.speaking {
		if g.cfg.PadFrames > 0 {
			g.pad = append(g.pad, samples)
			if len(g.pad) > g.cfg.PadFrames {
				g.pad = g.pad[1:]
			}
		}
		return res
	}
	g.silenceRun++
	if g.silenceRun <= g.cfg.PadFrames {
		g.buf = append(g.buf, samples...)
	}
	if g.silenceRun >= g.cfg.SilenceFrames {
		res.Utterance, res.Discarded = g.finalize()
	}
	return res
}

// Reset drops any partially accumulated utterance. Used on shutdown.
func (g *Gate) Reset() {
	g.buf = nil
	g.voiced = 0
	g.pad = nil
	g.speaking = false
	g.silenceRun = 0
}

// finalize hands off the accumulated buffer and rearms the gate. Returns
// (nil, true) when the voiced content was below the minimum length.
func (g *Gate) finalize() (*Utterance, bool) {
	buf := g.buf
	rate := g.sampleRate
	voiced := g.voiced
	g.buf = nil
	g.voiced = 0
	g.pad = nil
	g.speaking = false
	g.silenceRun = 0

	if voiced < g.cfg.MinSamples {
		return nil, true
	}
	return &Utterance{Samples: buf, SampleRate: rate}, false
}
