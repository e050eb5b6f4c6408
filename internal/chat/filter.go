package chat

import "strings"

// Filtered pairs a message's usable content with its position in the
// original message list. Every analyzer consumes the same filtered view so
// that drift scores, topic ids, and boundary candidates all resolve to the
// same original indices.
type Filtered struct {
	Index   int
	Content string
	Role    Role
}

// Filter drops messages with empty or whitespace-only content, preserving
// order and original indices. This is the single filtering step for the
// whole engine; analyzers must not re-filter.
func Filter(messages []Message) []Filtered {
	filtered := make([]Filtered, 0, len(messages))
	for i, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		filtered = append(filtered, Filtered{Index: i, Content: m.Content, Role: m.Role})
	}
	return filtered
}

// Texts returns the content of each filtered message, in order.
func Texts(filtered []Filtered) []string {
	texts := make([]string, len(filtered))
	for i, f := range filtered {
		texts[i] = f.Content
	}
	return texts
}
