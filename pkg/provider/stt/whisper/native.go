// This file contains the NativeTranscriber implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/parleur/pkg/audio"
	"github.com/MrWong99/parleur/pkg/fault"
	"github.com/MrWong99/parleur/pkg/provider/stt"
)

// Compile-time assertion that *NativeTranscriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeTranscriber)(nil)

// NativeTranscriber implements stt.Transcriber using the whisper.cpp Go
// bindings (CGO), eliminating HTTP overhead entirely. The model is loaded
// once at construction and shared by all logical sessions; a mutex serializes
// the physical inference call because whisper contexts are not reentrant.
type NativeTranscriber struct {
	model whisperlib.Model

	mu sync.Mutex // guards inference
}

// NewNative creates a NativeTranscriber that loads the whisper.cpp model from
// the given file path. The caller must call Close when the transcriber is no
// longer needed.
func NewNative(modelPath string) (*NativeTranscriber, error) {
	if modelPath == "" {
		return nil, fault.Configuration("whisper", errors.New("modelPath must not be empty"))
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fault.Configuration("whisper", fmt.Errorf("load model %q: %w", modelPath, err))
	}
	return &NativeTranscriber{model: model}, nil
}

// Close releases the whisper model. Calling any method after Close is invalid.
func (t *NativeTranscriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe runs in-process whisper.cpp inference on the utterance.
// Near-silent input returns an empty Result without invoking the model.
func (t *NativeTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fault.Cancelled("whisper", err)
	}

	samples = normalize(samples, sampleRate)
	if len(samples) == 0 || audio.RMS(samples) < silenceRMS {
		return stt.Result{}, nil
	}

	// Whisper contexts are cheap relative to inference, and each one is
	// single-use per utterance. The mutex covers the whole inference because
	// the shared model's compute path is not reentrant.
	t.mu.Lock()
	defer t.mu.Unlock()

	wctx, err := t.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := hintOrEmpty(languageHint)
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: failed to set language, falling back to detection",
				"language", lang, "error", err)
			lang = ""
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	if lang == "" {
		lang = wctx.DetectedLanguage()
	}
	return stt.Result{
		Text:     strings.Join(parts, " "),
		Language: lang,
	}, nil
}
