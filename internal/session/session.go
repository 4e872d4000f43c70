// Package session holds the per-participant conversation state: the ordered
// turn history, the language currently spoken, and the last assistant reply
// for "répète"-style repeat requests.
//
// Two views exist over the same history. The model context is capped to the
// most recent turns so prompts stay small; the full history is retained for
// the lifetime of the session and can be exported to JSON or CSV when the
// participant leaves.
//
// A Session is owned by the single pipeline worker for its participant;
// methods are nevertheless mutex-guarded so export and hooks can read it from
// other goroutines.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parleur/pkg/provider/llm"
)

// Turn is one utterance in the conversation. Immutable once recorded.
type Turn struct {
	// Role is [llm.RoleUser] or [llm.RoleAssistant].
	Role string `json:"role"`

	// Text is what was said.
	Text string `json:"text"`

	// Language is the BCP-47 primary subtag the turn was spoken in ("en",
	// "fr").
	Language string `json:"language"`

	// Timestamp is when the turn was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Session is the conversation state for one participant.
type Session struct {
	id          string
	participant string
	historyCap  int
	startedAt   time.Time

	mu            sync.Mutex
	turns         []Turn
	language      string
	lastAssistant string
}

// New creates a Session for participant. historyCap is the maximum number of
// turns included in the model context; zero or negative means 10.
func New(participant string, historyCap int) *Session {
	if historyCap <= 0 {
		historyCap = 10
	}
	return &Session{
		id:          uuid.NewString(),
		participant: participant,
		historyCap:  historyCap,
		startedAt:   time.Now(),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Participant returns the participant this session belongs to.
func (s *Session) Participant() string { return s.participant }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// AddUserTurn records an utterance by the learner and updates the session
// language to the language it was spoken in.
func (s *Session) AddUserTurn(text, language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{
		Role:      llm.RoleUser,
		Text:      text,
		Language:  language,
		Timestamp: time.Now(),
	})
	if language != "" {
		s.language = language
	}
}

// AddAssistantTurn records a tutor reply and remembers it for repeat
// requests.
func (s *Session) AddAssistantTurn(text, language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{
		Role:      llm.RoleAssistant,
		Text:      text,
		Language:  language,
		Timestamp: time.Now(),
	})
	s.lastAssistant = text
}

// Language returns the language of the most recent learner turn, or "" when
// the learner has not spoken yet.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// LastAssistantText returns the most recent tutor reply, or "" when there is
// none.
func (s *Session) LastAssistantText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAssistant
}

// ModelMessages returns the conversation as [llm.Message] values for the
// next completion request, capped to the most recent historyCap turns. Older
// turns stay in the session but never reach the model.
func (s *Session) ModelMessages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if len(s.turns) > s.historyCap {
		start = len(s.turns) - s.historyCap
	}
	msgs := make([]llm.Message, 0, len(s.turns)-start)
	for _, t := range s.turns[start:] {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Text})
	}
	return msgs
}

// History returns a copy of every turn recorded so far, oldest first.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// TurnCount returns the total number of recorded turns.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// repeatPhrases are the requests that short-circuit generation and replay the
// last tutor reply instead.
var repeatPhrases = []string{
	"répète",
	"repete",
	"répétez",
	"repetez",
	"encore une fois",
	"repeat",
	"repeat that",
	"say that again",
	"again please",
}

// IsRepeatRequest reports whether text asks the tutor to repeat itself.
// Matching is case-insensitive and tolerant of trailing punctuation.
func IsRepeatRequest(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimRight(normalized, ".!?, ")
	if normalized == "" {
		return false
	}
	for _, p := range repeatPhrases {
		if normalized == p {
			return true
		}
	}
	return false
}
