package pipeline

// Hooks are the callbacks through which hosts (transport bridge, CLI, tests)
// observe the conversation. All fields are optional; nil hooks are skipped.
//
// Hooks are invoked from the orchestrator's worker goroutines and must not
// block for long — a slow OnAssistantAudio consumer stalls playback for that
// participant only.
type Hooks struct {
	// OnUserText fires once per transcribed utterance, after vocabulary
	// correction.
	OnUserText func(participant, text string)

	// OnAssistantText fires once per assistant reply with the full text.
	OnAssistantText func(participant, text string)

	// OnAssistantAudio fires for each synthesised PCM chunk, in playback
	// order.
	OnAssistantAudio func(participant string, chunk []byte)

	// OnStatus fires on conversational milestones ("interrupted",
	// "repeating").
	OnStatus func(participant, message string)

	// OnError fires with a user-presentable message when a turn degrades.
	// The pipeline has already recovered by the time this fires.
	OnError func(participant, message string)

	// OnVADActive fires when the gate's speech classification flips.
	OnVADActive func(participant string, active bool)
}

func (h Hooks) userText(participant, text string) {
	if h.OnUserText != nil {
		h.OnUserText(participant, text)
	}
}

func (h Hooks) assistantText(participant, text string) {
	if h.OnAssistantText != nil {
		h.OnAssistantText(participant, text)
	}
}

func (h Hooks) assistantAudio(participant string, chunk []byte) {
	if h.OnAssistantAudio != nil {
		h.OnAssistantAudio(participant, chunk)
	}
}

func (h Hooks) status(participant, message string) {
	if h.OnStatus != nil {
		h.OnStatus(participant, message)
	}
}

func (h Hooks) errored(participant, message string) {
	if h.OnError != nil {
		h.OnError(participant, message)
	}
}

func (h Hooks) vadActive(participant string, active bool) {
	if h.OnVADActive != nil {
		h.OnVADActive(participant, active)
	}
}
