// Package silero provides a [vad.Detector] backed by a Silero VAD sidecar.
//
// The sidecar is a small HTTP server wrapping the Silero ONNX model and
// exposing POST /probability, which accepts one frame of little-endian int16
// PCM and returns the model's speech probability. Running the model out of
// process keeps the Go binary free of an ONNX runtime dependency, mirroring
// how the whisper STT provider talks to whisper-server.
//
// The detector is fail-safe by construction at the call site: the speech gate
// treats any returned error as "non-speech" for that frame, so a crashed or
// slow sidecar degrades detection without breaking the audio loop.
package silero

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/parleur/pkg/audio"
	"github.com/MrWong99/parleur/pkg/fault"
	"github.com/MrWong99/parleur/pkg/provider/vad"
)

// defaultTimeout bounds each probability call. The gate runs per frame
// (typically 20–100 ms of audio), so a slow sidecar must fail fast rather
// than stall the loop.
const defaultTimeout = 150 * time.Millisecond

// Compile-time check that *Detector satisfies [vad.Detector].
var _ vad.Detector = (*Detector)(nil)

// Detector is a Silero VAD client. Safe for concurrent use.
type Detector struct {
	serverURL  string
	httpClient *http.Client
}

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithTimeout overrides the per-call HTTP timeout. Default: 150 ms.
func WithTimeout(d time.Duration) Option {
	return func(det *Detector) {
		det.httpClient.Timeout = d
	}
}

// New creates a Detector that connects to the Silero sidecar at serverURL
// (e.g., "http://localhost:8721"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Detector, error) {
	if serverURL == "" {
		return nil, fault.Configuration("silero", errors.New("serverURL must not be empty"))
	}
	d := &Detector{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// probabilityResponse is the sidecar's reply to POST /probability.
type probabilityResponse struct {
	Probability float64 `json:"probability"`
}

// Probability submits one frame to the sidecar and returns the model's speech
// probability. The frame is converted to int16 PCM for the wire; the sample
// rate travels as a header so the sidecar can reject mismatched models.
func (d *Detector) Probability(frame []float32, sampleRate int) (float64, error) {
	pcm := audio.Float32ToPCM(frame)

	req, err := http.NewRequest(http.MethodPost, d.serverURL+"/probability", bytes.NewReader(pcm))
	if err != nil {
		return 0, fault.Transient("silero", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Sample-Rate", strconv.Itoa(sampleRate))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fault.Transient("silero", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fault.Transient("silero", fmt.Errorf("sidecar returned %s", resp.Status))
	}

	var pr probabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, fault.Transient("silero", fmt.Errorf("decode response: %w", err))
	}
	if pr.Probability < 0 || pr.Probability > 1 {
		return 0, fault.Transient("silero", fmt.Errorf("probability %f out of range", pr.Probability))
	}
	return pr.Probability, nil
}
