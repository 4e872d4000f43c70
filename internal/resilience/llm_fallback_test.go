package resilience

import (
	"context"
	"testing"

	"github.com/MrWong99/parleur/pkg/fault"
	"github.com/MrWong99/parleur/pkg/provider/llm"
	llmmock "github.com/MrWong99/parleur/pkg/provider/llm/mock"
)

func TestLLMFallback_StreamSetupFailover(t *testing.T) {
	primary := &llmmock.Provider{StreamErr: fault.Transient("ollama", errTest)}
	backup := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Bonjour, "},
		{Text: "comment ça va ?", FinishReason: "stop"},
	}}

	f := NewLLMFallback(primary, "ollama", FallbackConfig{})
	f.AddFallback("openai", backup)

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "salut"}}}
	ch, err := f.StreamCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var text string
	for chunk := range ch {
		text += chunk.Text
	}
	if text != "Bonjour, comment ça va ?" {
		t.Fatalf("streamed text = %q", text)
	}
	// The request must be replayed against the fallback unchanged.
	if got := backup.StreamCalls[0].Req.Messages[0].Content; got != "salut" {
		t.Fatalf("fallback saw content %q, want salut", got)
	}
}

func TestLLMFallback_CancellationDoesNotAdvance(t *testing.T) {
	primary := &llmmock.Provider{StreamErr: fault.Cancelled("ollama", nil)}
	backup := &llmmock.Provider{}

	f := NewLLMFallback(primary, "ollama", FallbackConfig{})
	f.AddFallback("openai", backup)

	_, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if !fault.IsCancelled(err) {
		t.Fatalf("err = %v, want cancellation passthrough", err)
	}
	if backup.StreamCallCount() != 0 {
		t.Fatalf("backup called %d times, want 0 after barge-in", backup.StreamCallCount())
	}
}

func TestLLMFallback_CompleteFailover(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: fault.Transient("ollama", errTest)}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Très bien !"}}

	f := NewLLMFallback(primary, "ollama", FallbackConfig{})
	f.AddFallback("openai", backup)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Très bien !" {
		t.Fatalf("Content = %q, want Très bien !", resp.Content)
	}
}
