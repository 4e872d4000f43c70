package tts

import "strings"

// DefaultVoice is used when the catalogue offers nothing that matches the
// requested language. The ID is the ElevenLabs "Rachel" voice, which exists on
// every ElevenLabs account; non-ElevenLabs providers that receive it should
// substitute their own default.
var DefaultVoice = VoiceProfile{
	ID:       "21m00Tcm4TlvDq8ikWAM",
	Name:     "Rachel",
	Provider: "elevenlabs",
	Language: "en",
	Gender:   "female",
}

// ResolveVoice picks a voice from the catalogue for the given language.
//
// The selection is deterministic for a fixed catalogue order:
//
//  1. a voice whose ID equals explicitID, when explicitID is non-empty
//  2. the first voice matching the language with Gender "female"
//  3. the first voice matching the language with Gender "male"
//  4. the first voice matching the language with any gender
//  5. steps 2-4 repeated for "en" when the language is not "en"
//  6. DefaultVoice
//
// Language matching compares primary subtags case-insensitively, so "fr"
// matches a voice tagged "fr-FR".
func ResolveVoice(catalogue []VoiceProfile, explicitID, language string) VoiceProfile {
	if explicitID != "" {
		for _, v := range catalogue {
			if v.ID == explicitID {
				return v
			}
		}
	}

	langs := []string{language}
	if primarySubtag(language) != "en" {
		langs = append(langs, "en")
	}
	for _, lang := range langs {
		for _, gender := range []string{"female", "male", ""} {
			for _, v := range catalogue {
				if !languageMatches(v.Language, lang) {
					continue
				}
				if gender != "" && !strings.EqualFold(v.Gender, gender) {
					continue
				}
				return v
			}
		}
	}

	return DefaultVoice
}

// languageMatches reports whether a voice language tag matches the wanted
// language by primary subtag.
func languageMatches(voiceLang, want string) bool {
	if voiceLang == "" || want == "" {
		return false
	}
	return primarySubtag(voiceLang) == primarySubtag(want)
}

// primarySubtag returns the lowercase primary subtag of a BCP 47 tag
// ("fr-FR" -> "fr").
func primarySubtag(tag string) string {
	tag = strings.ToLower(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		return tag[:i]
	}
	return tag
}
