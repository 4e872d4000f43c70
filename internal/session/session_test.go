package session

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/MrWong99/parleur/pkg/provider/llm"
)

func TestSession_ModelMessagesCappedHistoryRetained(t *testing.T) {
	s := New("p1", 4)

	for i := 0; i < 10; i++ {
		s.AddUserTurn(fmt.Sprintf("user %d", i), "fr")
		s.AddAssistantTurn(fmt.Sprintf("tutor %d", i), "fr")
	}

	msgs := s.ModelMessages()
	if len(msgs) != 4 {
		t.Fatalf("model context has %d messages, want cap of 4", len(msgs))
	}
	// The cap keeps the most recent turns.
	if msgs[0].Content != "user 8" {
		t.Errorf("oldest model message = %q, want %q", msgs[0].Content, "user 8")
	}
	if msgs[3].Content != "tutor 9" {
		t.Errorf("newest model message = %q, want %q", msgs[3].Content, "tutor 9")
	}

	// Full history is untouched by the cap.
	if got := s.TurnCount(); got != 20 {
		t.Fatalf("TurnCount = %d, want 20", got)
	}
	hist := s.History()
	if hist[0].Text != "user 0" {
		t.Errorf("history[0] = %q, want %q", hist[0].Text, "user 0")
	}
}

func TestSession_ModelMessagesBelowCap(t *testing.T) {
	s := New("p1", 10)
	s.AddUserTurn("bonjour", "fr")
	s.AddAssistantTurn("Bonjour ! Comment ça va ?", "fr")

	msgs := s.ModelMessages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[1].Role != llm.RoleAssistant {
		t.Fatalf("roles = %q, %q", msgs[0].Role, msgs[1].Role)
	}
}

func TestSession_LanguageFollowsUser(t *testing.T) {
	s := New("p1", 10)
	if s.Language() != "" {
		t.Fatalf("Language = %q before any turn, want empty", s.Language())
	}

	s.AddUserTurn("bonjour", "fr")
	if s.Language() != "fr" {
		t.Fatalf("Language = %q, want fr", s.Language())
	}

	s.AddAssistantTurn("Bonjour !", "fr")
	s.AddUserTurn("let's switch to english", "en")
	if s.Language() != "en" {
		t.Fatalf("Language = %q, want en", s.Language())
	}

	// An empty detected language keeps the previous one.
	s.AddUserTurn("hmm", "")
	if s.Language() != "en" {
		t.Fatalf("Language = %q after empty detection, want en", s.Language())
	}
}

func TestSession_LastAssistantText(t *testing.T) {
	s := New("p1", 10)
	if s.LastAssistantText() != "" {
		t.Fatal("LastAssistantText should be empty initially")
	}
	s.AddAssistantTurn("première réponse", "fr")
	s.AddAssistantTurn("deuxième réponse", "fr")
	if got := s.LastAssistantText(); got != "deuxième réponse" {
		t.Fatalf("LastAssistantText = %q, want deuxième réponse", got)
	}
}

func TestIsRepeatRequest(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"répète", true},
		{"Répète !", true},
		{"repeat that", true},
		{"Say that again", true},
		{"encore une fois", true},
		{"can you repeat the word slowly", false},
		{"bonjour", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsRepeatRequest(tt.text); got != tt.want {
			t.Errorf("IsRepeatRequest(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestSession_ExportJSON(t *testing.T) {
	dir := t.TempDir()
	s := New("p1", 10)
	s.AddUserTurn("bonjour", "fr")
	s.AddAssistantTurn("Bonjour ! Comment ça va ?", "fr")

	paths, err := s.Export(dir, FormatJSON)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("got %d paths, want 1", len(paths))
	}

	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var doc struct {
		SessionID   string `json:"session_id"`
		Participant string `json:"participant"`
		Turns       []Turn `json:"turns"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if doc.SessionID != s.ID() {
		t.Errorf("session_id = %q, want %q", doc.SessionID, s.ID())
	}
	if doc.Participant != "p1" {
		t.Errorf("participant = %q, want p1", doc.Participant)
	}
	if len(doc.Turns) != 2 {
		t.Fatalf("exported %d turns, want 2", len(doc.Turns))
	}
	if doc.Turns[1].Text != "Bonjour ! Comment ça va ?" {
		t.Errorf("turn text = %q", doc.Turns[1].Text)
	}
}

func TestSession_ExportCSV(t *testing.T) {
	dir := t.TempDir()
	s := New("p1", 10)
	s.AddUserTurn("une virgule, ici", "fr")

	paths, err := s.Export(dir, FormatCSV)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	f, err := os.Open(paths[0])
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records (incl. header), want 2", len(records))
	}
	if records[0][0] != "timestamp" || records[0][3] != "text" {
		t.Fatalf("header = %v", records[0])
	}
	// CSV quoting must survive an embedded comma.
	if records[1][3] != "une virgule, ici" {
		t.Errorf("text cell = %q", records[1][3])
	}
}

func TestSession_ExportBoth(t *testing.T) {
	dir := t.TempDir()
	s := New("p1", 10)

	paths, err := s.Export(dir, FormatBoth)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2", len(paths))
	}
}

func TestSession_ExportUnknownFormat(t *testing.T) {
	s := New("p1", 10)
	if _, err := s.Export(t.TempDir(), Format("xml")); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
