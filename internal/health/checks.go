package health

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MrWong99/parleur/pkg/provider/llm/anyllm"
	"github.com/MrWong99/parleur/pkg/provider/tts"
)

// CheckLLM probes an Ollama-compatible backend by listing its models.
func CheckLLM(name, baseURL string) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			models, err := anyllm.ListModels(ctx, baseURL)
			if err != nil {
				return err
			}
			if len(models) == 0 {
				return fmt.Errorf("backend at %s reports no models", baseURL)
			}
			return nil
		},
	}
}

// CheckSpeaker probes a TTS provider by listing its voice catalogue.
func CheckSpeaker(name string, p tts.Provider) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			_, err := p.ListVoices(ctx)
			return err
		},
	}
}

// CheckHTTP probes an HTTP backend (e.g. a whisper-server) by issuing a GET
// against its base URL. Any response counts as reachable; only transport
// failures are errors.
func CheckHTTP(name, url string) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			return resp.Body.Close()
		},
	}
}

// CheckFunc wraps a plain probe function (e.g. a store's connectivity check)
// as a named Checker.
func CheckFunc(name string, fn func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: fn}
}
