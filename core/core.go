// Package core holds the small shared types the rest of aria-core is built
// on: resource kinds, response tones, backend identifiers, and the error
// taxonomy. It has no dependencies so every other package can import it.
package core

// ResourceKind identifies one of the heavy, process-lifetime model
// resources managed by the model cache.
type ResourceKind string

const (
	ResourceEmbedding       ResourceKind = "embedding"
	ResourceSpeechToText    ResourceKind = "speech-to-text"
	ResourceSpeechSynthesis ResourceKind = "speech-synthesis"
)

// BackendKind identifies which generation backend produced a response.
type BackendKind string

const (
	BackendLocal  BackendKind = "local"
	BackendRemote BackendKind = "remote"

	// BackendNone marks degraded replies that were served without any
	// backend (canned response, timeout).
	BackendNone BackendKind = "none"
)

// Reply is the result of one text turn.
type Reply struct {
	Text     string
	Backend  BackendKind
	Degraded bool
}

// VoiceReply is the result of one voice turn. Audio is nil when synthesis
// was skipped; the text response is always present on success.
type VoiceReply struct {
	Text     string
	Audio    []byte
	Backend  BackendKind
	Degraded bool
}
