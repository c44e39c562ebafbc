package core

// Tone selects a response style. Each tone maps to its own system prompt,
// sampling temperature, and synthesis voice.
type Tone string

const (
	ToneFriendly Tone = "friendly"
	ToneFormal   Tone = "formal"
	ToneGenZ     Tone = "gen-z"
)

// Valid reports whether t is one of the known tones.
func (t Tone) Valid() bool {
	switch t {
	case ToneFriendly, ToneFormal, ToneGenZ:
		return true
	}
	return false
}

// OrDefault returns t when valid, ToneFriendly otherwise.
func (t Tone) OrDefault() Tone {
	if t.Valid() {
		return t
	}
	return ToneFriendly
}

// Temperature returns the sampling temperature for this tone. Formal
// responses are kept tighter than the conversational tones.
func (t Tone) Temperature() float64 {
	switch t {
	case ToneFormal:
		return 0.4
	case ToneGenZ:
		return 0.9
	default:
		return 0.7
	}
}

// SystemPrompt returns the generation system prompt for this tone.
func (t Tone) SystemPrompt() string {
	switch t {
	case ToneFormal:
		return "You are Aria, a professional assistant with persistent memory. " +
			"Communicate precisely and with structure. Provide well-organized " +
			"explanations, reference prior discussions where relevant, and never " +
			"use casual language, slang, or emojis."
	case ToneGenZ:
		return "You are Aria, an extremely online AI bestie with perfect memory. " +
			"Use internet slang naturally, keep it enthusiastic and unfiltered, " +
			"abbreviate freely, and reference past convos like a close friend " +
			"would. Stay helpful underneath the vibe."
	default:
		return "You are Aria, a warm and caring AI friend with persistent memory. " +
			"Use casual conversational language, show genuine curiosity, ask " +
			"follow-up questions, and reference past conversations naturally. " +
			"Be supportive and optimistic."
	}
}
