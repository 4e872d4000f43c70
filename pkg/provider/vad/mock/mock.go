// Package mock provides a test double for the vad.Detector interface.
//
// Use Detector to script per-frame probabilities and inspect the frames that
// were submitted for classification.
//
// Example:
//
//	d := &mock.Detector{Probabilities: []float64{0.9, 0.9, 0.1}}
//	p, _ := d.Probability(frame, 16000) // 0.9, then 0.9, then 0.1, then 0.1...
package mock

import (
	"sync"

	"github.com/MrWong99/parleur/pkg/provider/vad"
)

// Compile-time check that *Detector satisfies [vad.Detector].
var _ vad.Detector = (*Detector)(nil)

// Call records a single invocation of Probability.
type Call struct {
	// Samples is the number of samples in the submitted frame.
	Samples int

	// SampleRate is the sample rate passed with the frame.
	SampleRate int
}

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Probabilities is the scripted sequence of return values. Once exhausted,
	// the last value repeats. Empty means always 0.
	Probabilities []float64

	// Err, if non-nil, is returned by every Probability call.
	Err error

	// Calls records every invocation in order.
	Calls []Call

	next int
}

// Probability records the call and returns the next scripted probability.
func (d *Detector) Probability(frame []float32, sampleRate int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Calls = append(d.Calls, Call{Samples: len(frame), SampleRate: sampleRate})
	if d.Err != nil {
		return 0, d.Err
	}
	if len(d.Probabilities) == 0 {
		return 0, nil
	}
	p := d.Probabilities[d.next]
	if d.next < len(d.Probabilities)-1 {
		d.next++
	}
	return p, nil
}

// Reset clears recorded calls and rewinds the scripted sequence.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = nil
	d.next = 0
}
