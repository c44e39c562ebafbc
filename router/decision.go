package router

import (
	"fmt"
	"strings"

	"github.com/ariabot/aria-core/core"
	"github.com/ariabot/aria-core/memory"
)

// attemptPlan returns the backends to try, in order. Local always goes
// first when present; the paid remote is only ever a fallback.
func attemptPlan(hasLocal, hasRemote bool) []core.BackendKind {
	var plan []core.BackendKind
	if hasLocal {
		plan = append(plan, core.BackendLocal)
	}
	if hasRemote {
		plan = append(plan, core.BackendRemote)
	}
	return plan
}

// SystemPrompt assembles the full system prompt for a request: the tone
// persona plus any retrieved memory context. Backends share this so both
// paths present the same persona.
func SystemPrompt(tone core.Tone, contextRecords []memory.Record) string {
	var b strings.Builder
	b.WriteString(tone.SystemPrompt())

	if len(contextRecords) > 0 {
		b.WriteString("\n\nRelevant context from previous conversations:\n")
		for _, rec := range contextRecords {
			fmt.Fprintf(&b, "- %s\n", rec.Text)
		}
	}
	return b.String()
}

// EstimateTokens approximates token count from text length. Four bytes
// per token is the usual rough cut for English text.
func EstimateTokens(text string) int64 {
	n := int64(len(text)) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// cannedReply is the last-resort response when no backend can serve.
func cannedReply(tone core.Tone) *core.Reply {
	text := "I'm having trouble thinking right now. Give me a moment and try again?"
	if tone == core.ToneFormal {
		text = "I am temporarily unable to process your request. Please try again shortly."
	}
	return &core.Reply{Text: text, Backend: core.BackendNone, Degraded: true}
}

// timeoutReply is returned when the request deadline expires mid-flight.
func timeoutReply(tone core.Tone) *core.Reply {
	text := "That took longer than it should have. Mind trying again?"
	if tone == core.ToneFormal {
		text = "Your request could not be completed in time. Please try again."
	}
	return &core.Reply{Text: text, Backend: core.BackendNone, Degraded: true}
}
