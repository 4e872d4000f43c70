// Package ws implements the bundled WebSocket/Opus transport bridge.
//
// Each WebSocket connection is one participant. Binary messages carry Opus
// packets (48 kHz mono, 20 ms frames) in both directions; text messages carry
// JSON captions and status lines. The bridge decodes inbound packets to PCM
// frames for the pipeline and re-encodes synthesized replies on the way out.
//
// The Bridge is an http.Handler; mount it on any mux and point clients at it:
//
//	bridge := ws.NewBridge(logger)
//	mux.Handle("/session", bridge)
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"layeh.com/gopus"

	"github.com/MrWong99/parleur/pkg/audio"
	"github.com/MrWong99/parleur/pkg/fault"
	"github.com/MrWong99/parleur/pkg/transport"
)

// The bridge speaks 48 kHz mono Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
	// maxOpusPacket caps the encoded size of a single frame.
	maxOpusPacket = 4000
)

// Compile-time interface assertions.
var (
	_ transport.Transport = (*Bridge)(nil)
	_ http.Handler        = (*Bridge)(nil)
)

// textMessage is the JSON payload for caption and status text messages.
type textMessage struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// client is the per-connection state for one participant.
type client struct {
	conn *websocket.Conn

	// writeMu serialises outbound writes; encMu guards the stateful encoder.
	writeMu sync.Mutex
	encMu   sync.Mutex
	enc     *gopus.Encoder

	// pending holds PCM carried over between SendAudio calls until a full
	// Opus frame accumulates.
	pending []byte
}

// Bridge implements transport.Transport over WebSocket connections.
type Bridge struct {
	logger *slog.Logger

	frames chan transport.InboundFrame
	events chan transport.Event

	mu      sync.Mutex
	clients map[string]*client
	closed  bool

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewBridge creates a Bridge ready to accept connections.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		logger:  logger,
		frames:  make(chan transport.InboundFrame, 256),
		events:  make(chan transport.Event, 16),
		clients: make(map[string]*client),
		done:    make(chan struct{}),
	}
}

// Frames implements transport.Transport.
func (b *Bridge) Frames() <-chan transport.InboundFrame {
	return b.frames
}

// Events implements transport.Transport.
func (b *Bridge) Events() <-chan transport.Event {
	return b.events
}

// ServeHTTP upgrades the request to a WebSocket connection and runs the
// participant's read loop until disconnect.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket accept failed", "error", err)
		return
	}

	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		b.logger.Error("create opus encoder", "error", err)
		conn.Close(websocket.StatusInternalError, "encoder init failed")
		return
	}

	participant := uuid.NewString()
	c := &client{conn: conn, enc: enc}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	b.clients[participant] = c
	b.wg.Add(1)
	b.mu.Unlock()

	b.emitEvent(transport.Event{Kind: transport.ParticipantJoined, Participant: participant})
	b.logger.Info("participant connected", "participant", participant)

	b.readLoop(r.Context(), participant, c)

	b.mu.Lock()
	delete(b.clients, participant)
	b.mu.Unlock()

	b.emitEvent(transport.Event{Kind: transport.ParticipantLeft, Participant: participant})
	b.logger.Info("participant disconnected", "participant", participant)
	conn.Close(websocket.StatusNormalClosure, "bye")
	// wg covers every sender on frames and events; release it only after the
	// leave event is out so Close cannot close the channels under us.
	b.wg.Done()
}

// readLoop decodes inbound Opus packets into PCM frames until the connection
// drops or the bridge closes. Each connection owns its decoder; Opus decoder
// state must not be shared across streams.
func (b *Bridge) readLoop(ctx context.Context, participant string, c *client) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		b.logger.Error("create opus decoder", "participant", participant, "error", err)
		return
	}

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		select {
		case <-b.done:
			return
		default:
		}

		if typ != websocket.MessageBinary {
			continue
		}

		pcm16, err := dec.Decode(data, opusFrameSize, false)
		if err != nil {
			b.logger.Warn("opus decode failed, dropping packet", "participant", participant, "error", err)
			continue
		}

		frame := transport.InboundFrame{
			Participant: participant,
			Frame: audio.AudioFrame{
				Data:       int16sToBytes(pcm16),
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
			},
		}
		select {
		case b.frames <- frame:
		case <-b.done:
			return
		}
	}
}

// SendAudio re-encodes PCM as Opus frames and writes them to the participant.
// PCM at a different sample rate is resampled to the bridge rate first.
// Residual samples shorter than one frame are held until the next call.
func (b *Bridge) SendAudio(ctx context.Context, participant string, pcm []byte, sampleRate int) error {
	c, err := b.client(participant)
	if err != nil {
		return err
	}

	if sampleRate != opusSampleRate {
		pcm = audio.ResampleMono16(pcm, sampleRate, opusSampleRate)
	}

	c.encMu.Lock()
	c.pending = append(c.pending, pcm...)
	const frameBytes = opusFrameSize * 2
	var packets [][]byte
	for len(c.pending) >= frameBytes {
		frame := bytesToInt16s(c.pending[:frameBytes])
		c.pending = c.pending[frameBytes:]
		packet, err := c.enc.Encode(frame, opusFrameSize, maxOpusPacket)
		if err != nil {
			c.encMu.Unlock()
			return fault.Transient("ws.SendAudio", fmt.Errorf("opus encode: %w", err))
		}
		packets = append(packets, packet)
	}
	c.encMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, packet := range packets {
		if err := c.conn.Write(ctx, websocket.MessageBinary, packet); err != nil {
			if fault.IsCancelled(err) {
				return err
			}
			return fault.Transient("ws.SendAudio", err)
		}
	}
	return nil
}

// SendText writes a JSON caption or status message to the participant.
func (b *Bridge) SendText(ctx context.Context, participant string, role, text string) error {
	c, err := b.client(participant)
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(textMessage{Type: "text", Role: role, Text: text})

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		if fault.IsCancelled(err) {
			return err
		}
		return fault.Transient("ws.SendText", err)
	}
	return nil
}

// Close disconnects all participants and closes the frame and event channels.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		clients := make([]*client, 0, len(b.clients))
		for _, c := range b.clients {
			clients = append(clients, c)
		}
		b.mu.Unlock()

		close(b.done)
		for _, c := range clients {
			c.conn.Close(websocket.StatusGoingAway, "shutting down")
		}
		// Wait for read loops to drain before closing the channels they feed.
		b.wg.Wait()
		close(b.frames)
		close(b.events)
	})
	return nil
}

// client looks up the connection state for a participant.
func (b *Bridge) client(participant string) (*client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients[participant]
	if !ok {
		return nil, fault.InvalidInput("ws.client", fmt.Sprintf("unknown participant %q", participant))
	}
	return c, nil
}

// emitEvent delivers an event without blocking shutdown.
func (b *Bridge) emitEvent(ev transport.Event) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

// int16sToBytes converts int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// bytesToInt16s converts little-endian bytes to int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
