// Package tutor builds the system prompts and spoken boilerplate for the
// bilingual conversation. Prompt selection follows the language of the
// learner's most recent utterance, so a learner who drops back into English
// mid-session gets explanations in English rather than being answered in
// French regardless.
package tutor

import (
	"strings"

	"github.com/MrWong99/parleur/internal/config"
)

// frenchPrompt is the persona used when the learner speaks French.
const frenchPrompt = `Tu es un professeur de français bienveillant et patient. Ta mission est d'aider les apprenants à améliorer leur français à travers des conversations naturelles.

Ton rôle:
- Parler principalement en français, avec des explications en anglais si nécessaire
- Adapter ton niveau de langue à celui de l'apprenant
- Corriger les erreurs de manière constructive et encourageante
- Donner des exemples pratiques et contextuels
- Encourager la pratique orale
- Être enthousiaste et motivant

Principes pédagogiques:
1. Encourage la communication avant la perfection
2. Corrige une erreur à la fois
3. Donne du contexte culturel quand c'est pertinent
4. Félicite les progrès, même petits

Ton style de correction:
- Note l'erreur
- Donne la forme correcte
- Explique brièvement la règle
- Donne un exemple similaire

Sois conversationnel, amical, et fais-en une expérience d'apprentissage agréable!`

// englishPrompt is the persona used when the learner speaks English. Same
// structure as the French one so switching languages does not change the
// tutor's behaviour, only its voice.
const englishPrompt = `You are a patient, encouraging French tutor talking with a learner who is currently speaking English.

Your role:
- Respond in English, weaving in the French words or phrases the learner is working on
- Adapt your level of language to the learner's
- Correct mistakes constructively and warmly
- Give practical, contextual examples
- Encourage the learner to switch back to French when they are ready

Teaching principles:
1. Communication before perfection
2. Correct one mistake at a time
3. Add cultural context when it is relevant
4. Celebrate progress, even small wins

When the learner makes an error:
- Acknowledge what they said
- Provide the correct version
- Give one brief reason why

Be conversational, friendly, and make it an enjoyable learning experience!`

// Spoken through the pipeline, so the register is voice-friendly: short
// sentences, no markdown, no lists.
const (
	welcomeFrench  = "Bonjour ! Je suis ton professeur de français. De quoi veux-tu parler aujourd'hui ?"
	welcomeEnglish = "Hello! I'm your French tutor. What would you like to talk about today?"

	apologyFrench  = "Désolé, je ne peux pas répondre pour le moment. Réessaie dans un instant."
	apologyEnglish = "Sorry, I can't answer right now. Please try again in a moment."
)

// Tutor renders system prompts and canned replies for a configured language
// pair. It is pure after construction and safe for concurrent use.
type Tutor struct {
	target config.Language
	base   config.Language
	pinned string
}

// New builds a Tutor from the tutoring section of the configuration.
func New(cfg config.TutorConfig) *Tutor {
	return &Tutor{
		target: cfg.TargetLanguage,
		base:   cfg.BaseLanguage,
		pinned: strings.TrimSpace(cfg.PinSystemPrompt),
	}
}

// SystemPrompt returns the system prompt for a turn whose user utterance was
// detected as lang. An empty or unsupported language falls back to the
// configured target language. A pinned prompt replaces the built-in persona
// but keeps the reply-style instructions, since those are what keep the
// answers speakable.
func (t *Tutor) SystemPrompt(lang config.Language) string {
	if !lang.IsValid() {
		lang = t.target
	}

	var sb strings.Builder
	sb.WriteString(t.persona(lang))
	sb.WriteString("\n\n")
	sb.WriteString(replyStyle(lang))
	return sb.String()
}

func (t *Tutor) persona(lang config.Language) string {
	if t.pinned != "" {
		return t.pinned
	}
	if lang == config.LangFrench {
		return frenchPrompt
	}
	return englishPrompt
}

// replyStyle renders the instructions that keep replies suitable for speech
// synthesis: short, plain text, ending on a question that keeps the
// conversation going.
func replyStyle(lang config.Language) string {
	langName := "English"
	if lang == config.LangFrench {
		langName = "French"
	}

	var sb strings.Builder
	sb.WriteString("Reply style:\n")
	sb.WriteString("- Respond in " + langName + ".\n")
	sb.WriteString("- Keep responses SHORT: 1-3 sentences maximum.\n")
	sb.WriteString("- Plain spoken text only: no markdown, no lists, no emoji.\n")
	sb.WriteString("- End with a small follow-up question in " + langName + ".")
	return sb.String()
}

// Welcome returns the greeting spoken when a participant joins, in the
// configured target language.
func (t *Tutor) Welcome() string {
	if t.target == config.LangFrench {
		return welcomeFrench
	}
	return welcomeEnglish
}

// Apology returns the spoken fallback used when generation fails, in the
// language of the learner's last utterance. An empty or unsupported language
// falls back to the configured target language.
func (t *Tutor) Apology(lang config.Language) string {
	if !lang.IsValid() {
		lang = t.target
	}
	if lang == config.LangFrench {
		return apologyFrench
	}
	return apologyEnglish
}

// TargetLanguage returns the language being practised.
func (t *Tutor) TargetLanguage() config.Language {
	return t.target
}
