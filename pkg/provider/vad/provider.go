// Package vad defines the Detector interface for Voice Activity Detection
// backends.
//
// A VAD detector wraps a frame-level speech classifier (e.g., Silero VAD or a
// plain energy threshold) and surfaces it as a single synchronous call:
// Probability takes one audio frame of normalised float samples and returns
// the model's speech probability. The stateful utterance segmentation built on
// top of this (silence runs, minimum lengths, barge-in debounce) lives in the
// pipeline's speech gate, not in the detector.
//
// Probability is called on every incoming frame from the audio loop, so
// implementations must be fast and must not block. Implementations must be
// safe for concurrent use if shared across streams; the bundled detectors are.
package vad

// Detector is the abstraction over any frame-level speech classifier.
type Detector interface {
	// Probability analyses a single mono audio frame of normalised float
	// samples in [-1.0, 1.0] at the given sample rate and returns the speech
	// probability in [0.0, 1.0].
	//
	// A detector failure must be recoverable: callers treat an error as
	// "non-speech" for that frame and carry on.
	Probability(frame []float32, sampleRate int) (float64, error)
}
