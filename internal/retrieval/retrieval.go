// Package retrieval defines the capability shared by the two ticket
// retrieval backends and assembles retrieved matches into prompt context.
//
// The lexical store (internal/kb) and the vector store (internal/knowledge)
// both implement Searcher. Callers, the chat service in particular, depend
// only on this interface, so either backend can be wired in without touching
// context assembly.
package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// Searcher finds historical tickets relevant to a free-text query.
// Implementations return at most limit matches, best first. A nil/empty
// result is valid and means "no relevant history", not an error.
type Searcher interface {
	SearchRelevant(ctx context.Context, query string, limit int32) ([]Match, error)
}

// Turn is one role-labeled line of a ticket conversation.
type Turn struct {
	Role    string // "customer" or "agent"
	Content string // normalized plain text
}

// Match is a request-scoped retrieval result. Exactly one of two shapes is
// populated: the relational path fills Title/Category/Description/Turns,
// while the vector path carries its pre-rendered document blob in Rendered.
type Match struct {
	Title       string
	Category    string
	Description string
	Turns       []Turn

	// Rendered, when non-empty, is the complete document text of an
	// embedded-document match and takes precedence over the structured
	// fields during context assembly.
	Rendered string
}

// Prompt fragments. These feed the model directly, so they stay in the
// language of the ticket corpus.
const (
	contextPreamble     = "以下是相关的历史客服案例供参考:\n\n"
	uncategorizedLabel  = "未分类"
	customerSpeaker     = "用户"
	agentSpeaker        = "客服"
	customerRoleLiteral = "customer"
)

// FormatContext renders matches into a single plain-text context block.
// Output order equals input order; no re-ranking happens here. An empty
// input yields exactly the empty string, which callers must treat as
// "inject no context" rather than injecting an empty instruction.
func FormatContext(matches []Match) string {
	if len(matches) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(contextPreamble)

	for i, m := range matches {
		fmt.Fprintf(&b, "【案例%d】\n", i+1)

		if m.Rendered != "" {
			b.WriteString(m.Rendered)
			b.WriteString("\n\n")
			continue
		}

		category := m.Category
		if category == "" {
			category = uncategorizedLabel
		}
		fmt.Fprintf(&b, "分类: %s\n", category)
		fmt.Fprintf(&b, "问题: %s\n", m.Title)

		if m.Description != "" {
			fmt.Fprintf(&b, "描述: %s\n", m.Description)
		}

		if len(m.Turns) > 0 {
			b.WriteString("对话记录:\n")
			for _, turn := range m.Turns {
				fmt.Fprintf(&b, "%s: %s\n", SpeakerLabel(turn.Role), turn.Content)
			}
		}

		b.WriteString("\n")
	}

	return b.String()
}

// SpeakerLabel translates a reply owner role into the human-readable
// transcript label.
func SpeakerLabel(role string) string {
	if role == customerRoleLiteral {
		return customerSpeaker
	}
	return agentSpeaker
}
