// Package whisper provides whisper.cpp-backed implementations of
// [stt.Transcriber].
//
// Two variants are available:
//
//   - Transcriber (this file) talks to a running whisper-server binary over
//     its REST API (POST /inference), uploading each utterance as a WAV file.
//   - NativeTranscriber (native.go) loads the model in-process through the
//     whisper.cpp CGO bindings, eliminating HTTP overhead at the cost of a
//     link-time dependency on libwhisper.a.
//
// Both normalise their input to the model's 16 kHz mono float contract and
// silently discard near-silent utterances.
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parleur/pkg/audio"
	"github.com/MrWong99/parleur/pkg/fault"
	"github.com/MrWong99/parleur/pkg/provider/stt"
)

const (
	// modelSampleRate is the sample rate whisper models are trained on.
	// Input at any other rate is resampled before inference.
	modelSampleRate = 16000

	// bitsPerSample is fixed at 16 for the PCM payload uploaded to the server.
	bitsPerSample = 16

	// silenceRMS is the normalised RMS level below which an utterance is
	// considered silent and skipped without calling the model.
	silenceRMS = 0.003

	defaultTimeout = 30 * time.Second
)

// Compile-time assertion that *Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the model identifier forwarded to the whisper server
// (e.g., "base", "medium"). When empty the server uses whichever model it was
// started with — this is the default.
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithTimeout sets the per-inference HTTP timeout. Defaults to 30 s; the
// caller's context may impose a tighter bound.
func WithTimeout(d time.Duration) Option {
	return func(t *Transcriber) { t.httpClient.Timeout = d }
}

// Transcriber implements stt.Transcriber backed by a whisper-server HTTP
// endpoint. Safe for concurrent use; the server serializes access to the
// model itself.
type Transcriber struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// New creates a Transcriber that connects to the whisper-server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Transcriber, error) {
	if serverURL == "" {
		return nil, fault.Configuration("whisper", errors.New("serverURL must not be empty"))
	}
	t := &Transcriber{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// inferenceResponse is the whisper-server JSON reply.
type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Transcribe uploads the utterance as a WAV file to POST /inference and
// returns the transcription. Near-silent or undersized input yields an empty
// Result without touching the network.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int, languageHint string) (stt.Result, error) {
	samples = normalize(samples, sampleRate)
	if len(samples) == 0 || audio.RMS(samples) < silenceRMS {
		return stt.Result{}, nil
	}

	wav := encodeWAV(audio.Float32ToPCM(samples), modelSampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if lang := hintOrEmpty(languageHint); lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if t.model != "" {
		if err := mw.WriteField("model", t.model); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverURL+"/inference", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fault.Transient("whisper", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fault.Transient("whisper", fmt.Errorf("server returned HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fault.Transient("whisper", fmt.Errorf("read response body: %w", err))
	}

	var ir inferenceResponse
	if err := json.Unmarshal(data, &ir); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	lang := ir.Language
	if lang == "" {
		lang = hintOrEmpty(languageHint)
	}
	return stt.Result{
		Text:     strings.TrimSpace(ir.Text),
		Language: lang,
	}, nil
}

// ---- helpers ----------------------------------------------------------------

// normalize brings samples to the model's 16 kHz rate, preserving duration.
func normalize(samples []float32, sampleRate int) []float32 {
	if sampleRate > 0 && sampleRate != modelSampleRate {
		return audio.ResampleFloat32(samples, sampleRate, modelSampleRate)
	}
	return samples
}

// hintOrEmpty maps the "auto" pseudo-tag to an absent hint.
func hintOrEmpty(hint string) string {
	if strings.EqualFold(hint, "auto") {
		return ""
	}
	return hint
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The returned byte slice is suitable for direct inclusion
// in a multipart form upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
