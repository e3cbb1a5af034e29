// Package prompt assembles the model context for a node: the system
// prompt followed by the ancestor conversation along that node's path,
// trimmed to a token budget.
package prompt

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/canvaschat/canvaschat/internal/canvas"
	"github.com/canvaschat/canvaschat/internal/llm"
	"github.com/canvaschat/canvaschat/internal/splitter"
	"github.com/canvaschat/canvaschat/internal/tree"
)

// DefaultMaxTokens bounds the assembled context when no budget is
// configured.
const DefaultMaxTokens = 8000

// EstimateTokens approximates the token cost of text as one token per
// four runes, rounded up. Crude, but consistent across estimation and
// budgeting, which is all truncation needs.
func EstimateTokens(text string) int {
	n := 0
	for range text {
		n++
	}
	return (n + 3) / 4
}

// Summarize produces a node summary from its content: the first 50
// runes, with an ellipsis when content was cut.
func Summarize(content string) string {
	runes := []rune(content)
	if len(runes) <= 50 {
		return content
	}
	return string(runes[:50]) + "..."
}

// Builder assembles llm message lists from canvas state.
type Builder struct {
	maxTokens int
	logger    *slog.Logger
}

// NewBuilder returns a Builder with the given token budget. A
// non-positive budget falls back to DefaultMaxTokens.
func NewBuilder(maxTokens int, logger *slog.Logger) *Builder {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Builder{maxTokens: maxTokens, logger: logger}
}

// Build assembles the message list for generating a reply under
// nodeID: the canvas system prompt (with the split-mode instruction
// appended when the canvas has split mode on) followed by the
// root-to-node conversation in order.
//
// Path nodes with the system role are skipped — the canvas system
// prompt is the single source of system instruction. Nodes flagged as
// compressed contribute their compressed content instead of the full
// text. When the path exceeds the token budget, oldest conversation
// messages are dropped first; the system message always survives
// truncation.
//
// A nodeID absent from the navigator yields an empty list.
func (b *Builder) Build(c *canvas.Canvas, nav *tree.Navigator, nodeID uuid.UUID) []llm.Message {
	path := nav.PathToRoot(nodeID)
	if len(path) == 0 {
		return nil
	}

	system := c.SystemPrompt
	if c.SplitMode {
		system += splitter.SplitModePrompt
	}

	budget := b.maxTokens
	var sysMsg *llm.Message
	if system != "" {
		sysMsg = &llm.Message{Role: llm.RoleSystem, Content: system}
		budget -= EstimateTokens(system)
	}

	// Walk newest to oldest so the recent turns win when the budget
	// runs out, then reverse back into conversation order.
	var kept []llm.Message
	for i := len(path) - 1; i >= 0; i-- {
		n := path[i]
		if n.Role == canvas.RoleSystem {
			continue
		}
		content := n.Content
		if n.IsCompressed && n.CompressedContent != "" {
			content = n.CompressedContent
		}
		cost := EstimateTokens(content)
		if cost > budget {
			b.logger.Debug("context budget reached",
				"node_id", nodeID, "kept", len(kept), "dropped_at", n.ID)
			break
		}
		budget -= cost
		kept = append(kept, llm.Message{Role: llm.Role(n.Role), Content: content})
	}

	messages := make([]llm.Message, 0, len(kept)+1)
	if sysMsg != nil {
		messages = append(messages, *sysMsg)
	}
	for i := len(kept) - 1; i >= 0; i-- {
		messages = append(messages, kept[i])
	}
	return messages
}
