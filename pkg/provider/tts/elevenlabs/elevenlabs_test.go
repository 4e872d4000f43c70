package elevenlabs

import "testing"

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestParseVoicesResponsePromotesLabels(t *testing.T) {
	data := []byte(`{
		"voices": [
			{
				"voice_id": "abc123",
				"name": "Charlotte",
				"category": "premade",
				"labels": {"language": "fr", "gender": "female", "accent": "parisian"}
			},
			{
				"voice_id": "def456",
				"name": "Adam",
				"labels": {"gender": "male"}
			}
		]
	}`)

	profiles, err := parseVoicesResponse(data)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(profiles))
	}

	fr := profiles[0]
	if fr.ID != "abc123" || fr.Language != "fr" || fr.Gender != "female" {
		t.Fatalf("unexpected first profile: %+v", fr)
	}
	if fr.Metadata["accent"] != "parisian" || fr.Metadata["category"] != "premade" {
		t.Fatalf("metadata not carried over: %+v", fr.Metadata)
	}

	en := profiles[1]
	if en.Language != "" || en.Gender != "male" {
		t.Fatalf("unexpected second profile: %+v", en)
	}
}

func TestParseVoicesResponseRejectsInvalidJSON(t *testing.T) {
	if _, err := parseVoicesResponse([]byte("{")); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
