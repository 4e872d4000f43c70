package tts

// VoiceProfile describes a single synthesis voice offered by a provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the primary BCP 47 language tag of the voice ("en", "fr").
	// Empty when the provider does not report one; multilingual voices carry
	// their default language here.
	Language string

	// Gender is "female", "male", or "" when unknown.
	Gender string

	// Metadata holds provider-specific voice attributes (accent, age, etc.).
	Metadata map[string]string
}
