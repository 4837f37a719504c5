// File: internal/agent/history.go
package agent

import "github.com/xkilldash9x/balatro-agent/api/schemas"

// CompactHistory bounds the conversation sent to the model. It keeps at most
// window entries, drops every image-bearing entry except the most recent one,
// drops assistant turns that only carried tool calls once all their results
// are present, and preserves the relative order of what remains.
//
// The function is idempotent and never modifies msgs.
func CompactHistory(msgs []schemas.Message, window int) []schemas.Message {
	if len(msgs) == 0 {
		return nil
	}

	lastImage := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].HasImage() {
			lastImage = i
			break
		}
	}

	answered := make(map[string]bool)
	for _, m := range msgs {
		if m.ToolResult != nil && m.ToolResult.CallID != "" {
			answered[m.ToolResult.CallID] = true
		}
	}

	kept := make([]schemas.Message, 0, len(msgs))
	keptImage := -1
	for i, m := range msgs {
		if m.HasImage() && i != lastImage {
			continue
		}
		if m.IsToolCallOnly() && allAnswered(m.ToolCalls, answered) {
			continue
		}
		if i == lastImage {
			keptImage = len(kept)
		}
		kept = append(kept, m)
	}

	if window <= 0 || len(kept) <= window {
		return kept
	}

	// Evict the oldest entries, but never the surviving image.
	start := len(kept) - window
	if keptImage < 0 || keptImage >= start {
		return append([]schemas.Message(nil), kept[start:]...)
	}
	out := make([]schemas.Message, 0, window)
	out = append(out, kept[keptImage])
	out = append(out, kept[start+1:]...)
	return out
}

func allAnswered(calls []schemas.ToolCall, answered map[string]bool) bool {
	for _, c := range calls {
		if c.ID == "" || !answered[c.ID] {
			return false
		}
	}
	return true
}
