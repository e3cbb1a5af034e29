// Package export renders a conversation subtree as portable JSON
// records or linearized markdown.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/canvaschat/canvaschat/internal/canvas"
	"github.com/canvaschat/canvaschat/internal/tree"
)

// Record is one exported node, stripped to the fields that survive a
// round trip between installations.
type Record struct {
	ID         uuid.UUID  `json:"id"`
	ParentID   *uuid.UUID `json:"parentId"`
	Role       canvas.Role `json:"role"`
	Content    string     `json:"content"`
	Summary    string     `json:"summary,omitempty"`
	Model      string     `json:"model,omitempty"`
	TokenCount int        `json:"tokenCount,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Records exports the subtree rooted at id in depth-first pre-order.
// Returns nil when id is not in the navigator's snapshot.
func Records(nav *tree.Navigator, id uuid.UUID) []Record {
	nodes := nav.Subtree(id)
	if nodes == nil {
		return nil
	}
	records := make([]Record, 0, len(nodes))
	for _, n := range nodes {
		records = append(records, Record{
			ID:         n.ID,
			ParentID:   n.ParentID,
			Role:       n.Role,
			Content:    n.Content,
			Summary:    n.Summary,
			Model:      n.Model,
			TokenCount: n.TokenCount,
			CreatedAt:  n.CreatedAt,
		})
	}
	return records
}

// Markdown linearizes the subtree rooted at id: one block per node in
// depth-first order, headed by the role and indented two spaces per
// level of depth so branch structure stays readable in flat text.
func Markdown(nav *tree.Navigator, id uuid.UUID) string {
	root := nav.Node(id)
	if root == nil {
		return ""
	}

	var sb strings.Builder
	var walk func(n *canvas.Node, depth int)
	walk = func(n *canvas.Node, depth int) {
		indent := strings.Repeat("  ", depth)
		fmt.Fprintf(&sb, "%s**%s**", indent, n.Role)
		if n.Model != "" {
			fmt.Fprintf(&sb, " (%s)", n.Model)
		}
		sb.WriteString("\n\n")
		for _, line := range strings.Split(n.Content, "\n") {
			sb.WriteString(indent)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
		for _, child := range nav.Children(n.ID) {
			walk(child, depth+1)
		}
	}
	walk(root, 0)
	return sb.String()
}
