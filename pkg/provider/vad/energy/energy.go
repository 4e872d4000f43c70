// Package energy implements a pure-Go energy-threshold [vad.Detector].
//
// It maps the RMS level of each frame onto a pseudo-probability so it can
// stand in for a neural VAD behind the same contract. This is the degraded
// mode used when the Silero sidecar is unreachable; it is also handy in tests.
package energy

import (
	"github.com/MrWong99/parleur/pkg/audio"
	"github.com/MrWong99/parleur/pkg/provider/vad"
)

// defaultFullScaleRMS is the RMS level mapped to probability 1.0. Normal
// speech at a sane input gain sits well below full scale; 0.1 RMS makes the
// 0.5 default threshold correspond to ~0.05 RMS, close to the hand-tuned
// cutoff the energy fallback has always used.
const defaultFullScaleRMS = 0.1

// Compile-time check that *Detector satisfies [vad.Detector].
var _ vad.Detector = (*Detector)(nil)

// Detector classifies frames by RMS energy. The zero value is not usable;
// create one with [New]. Detector is stateless and safe for concurrent use.
type Detector struct {
	fullScale float64
}

// Option configures a [Detector].
type Option func(*Detector)

// WithFullScaleRMS sets the RMS level that maps to probability 1.0.
// Lower values make the detector more sensitive. Default: 0.1.
func WithFullScaleRMS(rms float64) Option {
	return func(d *Detector) {
		if rms > 0 {
			d.fullScale = rms
		}
	}
}

// New creates an energy Detector with the given options.
func New(opts ...Option) *Detector {
	d := &Detector{fullScale: defaultFullScaleRMS}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Probability returns the frame's RMS level scaled into [0.0, 1.0].
// Empty frames yield 0. The sample rate is ignored; energy is rate-agnostic.
func (d *Detector) Probability(frame []float32, _ int) (float64, error) {
	p := audio.RMS(frame) / d.fullScale
	if p > 1.0 {
		p = 1.0
	}
	return p, nil
}
