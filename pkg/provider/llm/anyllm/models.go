package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/parleur/pkg/fault"
)

// DefaultOllamaBaseURL is where a locally installed Ollama daemon listens.
const DefaultOllamaBaseURL = "http://localhost:11434"

// tagsResponse mirrors the Ollama /api/tags payload.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the model names available on an Ollama daemon. baseURL
// may be empty, in which case [DefaultOllamaBaseURL] is used. Also serves as
// the daemon reachability probe at startup.
func ListModels(ctx context.Context, baseURL string) ([]string, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	url := strings.TrimRight(baseURL, "/") + "/api/tags"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fault.Configuration("anyllm.ListModels", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if fault.IsCancelled(err) {
			return nil, err
		}
		return nil, fault.Transient("anyllm.ListModels", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.Transient("anyllm.ListModels", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fault.Transient("anyllm.ListModels", fmt.Errorf("decode response: %w", err))
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
