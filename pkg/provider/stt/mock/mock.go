// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to script transcription results and inspect the utterances
// that reached the backend.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    Results: []stt.Result{{Text: "Bonjour", Language: "fr"}},
//	}
//	res, _ := tr.Transcribe(ctx, samples, 16000, "auto")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parleur/pkg/provider/stt"
)

// Compile-time check that *Transcriber satisfies [stt.Transcriber].
var _ stt.Transcriber = (*Transcriber)(nil)

// Call records a single invocation of Transcribe.
type Call struct {
	// Samples is the number of samples in the submitted utterance.
	Samples int

	// SampleRate is the sample rate passed with the utterance.
	SampleRate int

	// LanguageHint is the hint passed to Transcribe.
	LanguageHint string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Results is the scripted sequence of return values. Once exhausted, the
	// last value repeats. Empty means an empty Result every time.
	Results []stt.Result

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Delay, if non-nil, is waited on before returning, honouring ctx
	// cancellation. Use a never-closing channel plus a context deadline to
	// simulate a slow backend.
	Delay <-chan struct{}

	// Calls records every invocation in order.
	Calls []Call

	next int
}

// Transcribe records the call and returns the next scripted result.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (stt.Result, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, Call{Samples: len(samples), SampleRate: sampleRate, LanguageHint: languageHint})
	delay := t.Delay
	err := t.Err
	var res stt.Result
	if len(t.Results) > 0 {
		res = t.Results[t.next]
		if t.next < len(t.Results)-1 {
			t.next++
		}
	}
	t.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// CallCount returns the number of recorded Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}
