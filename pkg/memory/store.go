// Package memory defines the two-layer lesson memory used across tutoring
// sessions.
//
//   - Transcript log ([TranscriptStore]): a time-ordered record of everything
//     said in each session, searchable by keyword and time range. Feeds the
//     session export formats and lets a new session recall what was covered
//     before.
//   - Vocabulary index ([VocabIndex]): a vector store of vocabulary notes
//     (terms the learner struggled with, corrections, translations) supporting
//     embedding-based similarity search, so the tutor can resurface related
//     vocabulary when a topic comes up again.
//
// The interfaces are public so alternative backends (Postgres/pgvector,
// in-memory, …) can be supplied without depending on internals. Every
// implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// TranscriptEntry is a single utterance or reply in a session transcript.
type TranscriptEntry struct {
	// Speaker is "user" or "assistant".
	Speaker string

	// Text is the final text of the entry (transcription or generated reply).
	Text string

	// Language is the BCP 47 primary subtag the entry was spoken in ("en", "fr").
	Language string

	// Timestamp is when the entry was recorded.
	Timestamp time.Time

	// Duration is the spoken length of the entry, zero when unknown.
	Duration time.Duration
}

// SearchOpts configures a keyword search over transcript entries.
// All non-zero fields are applied as AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to a single session. Empty searches all
	// sessions.
	SessionID string

	// Speaker restricts results to "user" or "assistant" entries. Empty
	// matches both.
	Speaker string

	// Language restricts results to entries in the given language.
	Language string

	// After filters entries recorded after this instant (exclusive). A zero
	// Time disables the lower bound.
	After time.Time

	// Before filters entries recorded before this instant (exclusive).
	Before time.Time

	// Limit caps the number of results. Zero lets the implementation apply
	// its own default.
	Limit int
}

// VocabNote records a vocabulary item worth resurfacing in later sessions.
type VocabNote struct {
	// ID is the unique identifier for this note (e.g. a UUID).
	ID string

	// SessionID is the session during which the note was taken.
	SessionID string

	// Term is the word or phrase in the language being practised.
	Term string

	// Translation is the term rendered in the learner's base language.
	Translation string

	// Note is free-form context: the sentence it came up in, the mistake
	// made, a usage hint.
	Note string

	// Language is the language of Term ("en", "fr").
	Language string

	// Embedding is the vector representation of the note. Dimension must
	// match the index configuration.
	Embedding []float32

	// CreatedAt is when the note was taken.
	CreatedAt time.Time
}

// NoteFilter narrows a vocabulary search. All non-zero fields are AND
// conditions.
type NoteFilter struct {
	// SessionID restricts results to notes taken in a single session.
	SessionID string

	// Language restricts results to notes in a single language.
	Language string

	// After filters notes created after this instant (exclusive).
	After time.Time
}

// NoteResult pairs a retrieved note with its vector-space distance from the
// query embedding. Lower Distance means higher semantic similarity.
type NoteResult struct {
	// Note is the retrieved vocabulary note.
	Note VocabNote

	// Distance is the cosine distance to the query embedding.
	Distance float64
}

// TranscriptStore is a time-ordered, append-only log of [TranscriptEntry]
// records, one stream per session.
//
// Entries are returned in chronological order unless otherwise specified.
// Implementations must be safe for concurrent use.
type TranscriptStore interface {
	// WriteEntry appends entry to the log for the given session. sessionID
	// must be non-empty. Returns an error only on storage failure.
	WriteEntry(ctx context.Context, sessionID string, entry TranscriptEntry) error

	// GetRecent returns all entries for the session whose Timestamp is no
	// earlier than time.Now()-duration. Returns an empty (non-nil) slice when
	// nothing matches.
	GetRecent(ctx context.Context, sessionID string, duration time.Duration) ([]TranscriptEntry, error)

	// Search performs a keyword search over the Text field, refined by opts.
	// Returns an empty (non-nil) slice when nothing matches.
	Search(ctx context.Context, query string, opts SearchOpts) ([]TranscriptEntry, error)
}

// VocabIndex is a vector store for embedding-based similarity search over
// vocabulary notes.
//
// Callers produce embeddings before calling IndexNote or Search.
// Implementations must be safe for concurrent use.
type VocabIndex interface {
	// IndexNote stores a pre-embedded note. A note with an existing ID is
	// replaced (upsert).
	IndexNote(ctx context.Context, note VocabNote) error

	// Search finds the topK notes whose embeddings are closest to the query
	// embedding, filtered by filter. Results are ordered by ascending
	// Distance. Returns an empty (non-nil) slice when nothing matches.
	Search(ctx context.Context, embedding []float32, topK int, filter NoteFilter) ([]NoteResult, error)

	// Terms returns the distinct Term values stored for a language, most
	// recent first. Used to seed the vocabulary corrector with words the
	// learner has met before. limit caps the result; zero means all.
	Terms(ctx context.Context, language string, limit int) ([]string, error)
}
