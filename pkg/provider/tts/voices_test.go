package tts

import "testing"

func catalogue() []VoiceProfile {
	return []VoiceProfile{
		{ID: "en-m", Language: "en", Gender: "male"},
		{ID: "en-f", Language: "en-US", Gender: "female"},
		{ID: "fr-m", Language: "fr-FR", Gender: "male"},
		{ID: "fr-f", Language: "fr", Gender: "female"},
		{ID: "fr-x", Language: "fr"},
	}
}

func TestResolveVoiceExplicitIDWins(t *testing.T) {
	got := ResolveVoice(catalogue(), "fr-m", "en")
	if got.ID != "fr-m" {
		t.Fatalf("got %q, want %q", got.ID, "fr-m")
	}
}

func TestResolveVoiceUnknownExplicitIDFallsThrough(t *testing.T) {
	got := ResolveVoice(catalogue(), "missing", "fr")
	if got.ID != "fr-f" {
		t.Fatalf("got %q, want %q", got.ID, "fr-f")
	}
}

func TestResolveVoicePrefersFemaleForLanguage(t *testing.T) {
	got := ResolveVoice(catalogue(), "", "fr")
	if got.ID != "fr-f" {
		t.Fatalf("got %q, want %q", got.ID, "fr-f")
	}
}

func TestResolveVoiceFallsBackToMale(t *testing.T) {
	cat := []VoiceProfile{
		{ID: "fr-m", Language: "fr", Gender: "male"},
		{ID: "en-f", Language: "en", Gender: "female"},
	}
	got := ResolveVoice(cat, "", "fr")
	if got.ID != "fr-m" {
		t.Fatalf("got %q, want %q", got.ID, "fr-m")
	}
}

func TestResolveVoiceRegionalTagMatchesPrimarySubtag(t *testing.T) {
	cat := []VoiceProfile{
		{ID: "fr-ca", Language: "fr-CA", Gender: "female"},
	}
	got := ResolveVoice(cat, "", "fr")
	if got.ID != "fr-ca" {
		t.Fatalf("got %q, want %q", got.ID, "fr-ca")
	}
}

func TestResolveVoiceEnglishFallbackForUnservedLanguage(t *testing.T) {
	got := ResolveVoice(catalogue(), "", "de")
	if got.ID != "en-f" {
		t.Fatalf("got %q, want %q", got.ID, "en-f")
	}
}

func TestResolveVoiceEmptyCatalogueReturnsDefault(t *testing.T) {
	got := ResolveVoice(nil, "", "fr")
	if got.ID != DefaultVoice.ID {
		t.Fatalf("got %q, want default %q", got.ID, DefaultVoice.ID)
	}
}

func TestResolveVoiceDeterministic(t *testing.T) {
	first := ResolveVoice(catalogue(), "", "fr")
	for i := 0; i < 10; i++ {
		if got := ResolveVoice(catalogue(), "", "fr"); got.ID != first.ID {
			t.Fatalf("resolution not deterministic: got %q, want %q", got.ID, first.ID)
		}
	}
}
