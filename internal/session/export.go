package session

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Format selects the on-disk representation for an export.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatBoth Format = "both"
)

// exportDocument is the JSON shape written by Export.
type exportDocument struct {
	SessionID   string    `json:"session_id"`
	Participant string    `json:"participant"`
	StartedAt   time.Time `json:"started_at"`
	ExportedAt  time.Time `json:"exported_at"`
	Turns       []Turn    `json:"turns"`
}

// Export writes the session's full turn history into dir, one file per
// format, and returns the paths written. File names embed the session ID and
// export time, so repeated exports never clobber each other.
//
// An empty session exports a valid document with zero turns.
func (s *Session) Export(dir string, format Format) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session export: create dir: %w", err)
	}

	now := time.Now()
	base := fmt.Sprintf("session-%s-%s", s.id, now.Format("20060102-150405"))

	var paths []string
	if format == FormatJSON || format == FormatBoth {
		p := filepath.Join(dir, base+".json")
		if err := s.exportJSON(p, now); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	if format == FormatCSV || format == FormatBoth {
		p := filepath.Join(dir, base+".csv")
		if err := s.exportCSV(p); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("session export: unknown format %q", format)
	}
	return paths, nil
}

func (s *Session) exportJSON(path string, exportedAt time.Time) error {
	doc := exportDocument{
		SessionID:   s.id,
		Participant: s.participant,
		StartedAt:   s.startedAt,
		ExportedAt:  exportedAt,
		Turns:       s.History(),
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("session export: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("session export: encode json: %w", err)
	}
	return f.Close()
}

func (s *Session) exportCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("session export: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "role", "language", "text"}); err != nil {
		return fmt.Errorf("session export: write header: %w", err)
	}
	for _, t := range s.History() {
		record := []string{
			t.Timestamp.Format(time.RFC3339),
			t.Role,
			t.Language,
			t.Text,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("session export: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("session export: flush csv: %w", err)
	}
	return f.Close()
}
