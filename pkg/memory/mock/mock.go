// Package mock provides in-memory implementations of the lesson memory
// interfaces for tests.
//
// Unlike pure recording doubles, these stores behave functionally: entries
// are kept in insertion order, searches apply the documented filters, and
// vocabulary search ranks by cosine distance. This lets tests exercise
// retrieval logic without a PostgreSQL instance.
package mock

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parleur/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.TranscriptStore = (*TranscriptStore)(nil)
	_ memory.VocabIndex      = (*VocabIndex)(nil)
)

// TranscriptStore is an in-memory memory.TranscriptStore.
type TranscriptStore struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every method.
	Err error

	// entries maps session ID to its entry log in write order.
	entries map[string][]memory.TranscriptEntry
}

// WriteEntry appends entry to the session log.
func (s *TranscriptStore) WriteEntry(_ context.Context, sessionID string, entry memory.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.entries == nil {
		s.entries = map[string][]memory.TranscriptEntry{}
	}
	s.entries[sessionID] = append(s.entries[sessionID], entry)
	return nil
}

// GetRecent returns entries recorded within the given duration of now.
func (s *TranscriptStore) GetRecent(_ context.Context, sessionID string, duration time.Duration) ([]memory.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	cutoff := time.Now().Add(-duration)
	out := []memory.TranscriptEntry{}
	for _, e := range s.entries[sessionID] {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Search matches entries whose Text contains the query, case-insensitively,
// applying the filters in opts.
func (s *TranscriptStore) Search(_ context.Context, query string, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	q := strings.ToLower(query)
	out := []memory.TranscriptEntry{}
	for sessionID, entries := range s.entries {
		if opts.SessionID != "" && sessionID != opts.SessionID {
			continue
		}
		for _, e := range entries {
			if !strings.Contains(strings.ToLower(e.Text), q) {
				continue
			}
			if opts.Speaker != "" && e.Speaker != opts.Speaker {
				continue
			}
			if opts.Language != "" && e.Language != opts.Language {
				continue
			}
			if !opts.After.IsZero() && !e.Timestamp.After(opts.After) {
				continue
			}
			if !opts.Before.IsZero() && !e.Timestamp.Before(opts.Before) {
				continue
			}
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Entries returns a copy of the log for a session, in write order.
func (s *TranscriptStore) Entries(sessionID string) []memory.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.entries[sessionID]
	out := make([]memory.TranscriptEntry, len(src))
	copy(out, src)
	return out
}

// VocabIndex is an in-memory memory.VocabIndex.
type VocabIndex struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every method.
	Err error

	notes []memory.VocabNote
}

// IndexNote upserts the note by ID.
func (v *VocabIndex) IndexNote(_ context.Context, note memory.VocabNote) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Err != nil {
		return v.Err
	}
	for i, n := range v.notes {
		if n.ID == note.ID {
			v.notes[i] = note
			return nil
		}
	}
	v.notes = append(v.notes, note)
	return nil
}

// Search ranks stored notes by cosine distance to the query embedding.
func (v *VocabIndex) Search(_ context.Context, embedding []float32, topK int, filter memory.NoteFilter) ([]memory.NoteResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Err != nil {
		return nil, v.Err
	}
	out := []memory.NoteResult{}
	for _, n := range v.notes {
		if filter.SessionID != "" && n.SessionID != filter.SessionID {
			continue
		}
		if filter.Language != "" && n.Language != filter.Language {
			continue
		}
		if !filter.After.IsZero() && !n.CreatedAt.After(filter.After) {
			continue
		}
		out = append(out, memory.NoteResult{Note: n, Distance: cosineDistance(embedding, n.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Terms returns distinct terms for a language, most recently created first.
func (v *VocabIndex) Terms(_ context.Context, language string, limit int) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Err != nil {
		return nil, v.Err
	}
	latest := map[string]time.Time{}
	for _, n := range v.notes {
		if language != "" && n.Language != language {
			continue
		}
		if t, ok := latest[n.Term]; !ok || n.CreatedAt.After(t) {
			latest[n.Term] = n.CreatedAt
		}
	}
	terms := make([]string, 0, len(latest))
	for t := range latest {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool { return latest[terms[i]].After(latest[terms[j]]) })
	if limit > 0 && len(terms) > limit {
		terms = terms[:limit]
	}
	return terms, nil
}

// cosineDistance returns 1 - cosine similarity. Mismatched or zero-length
// vectors yield the maximum distance of 1.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
