package canvas

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a node's message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Position is a node's location on the 2D canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Canvas is a named conversation workspace.
type Canvas struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	SystemPrompt string     `json:"systemPrompt"`
	SplitMode    bool       `json:"splitMode"`
	RootNodeID   *uuid.UUID `json:"rootNodeId"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Node is one message in a canvas's conversation tree.
//
// ParentID is nil only for root nodes. IsCollapsed hides the node's
// descendant subtree from derived views; it never hides the node itself
// and is only meaningful on nodes with children.
type Node struct {
	ID                uuid.UUID   `json:"id"`
	CanvasID          uuid.UUID   `json:"canvasId"`
	ParentID          *uuid.UUID  `json:"parentId"`
	Role              Role        `json:"role"`
	Content           string      `json:"content"`
	Summary           string      `json:"summary"`
	CompressedContent string      `json:"compressedContent,omitempty"`
	IsCompressed      bool        `json:"isCompressed"`
	IsCollapsed       bool        `json:"isCollapsed"`
	Model             string      `json:"model,omitempty"`
	TokenCount        int         `json:"tokenCount,omitempty"`
	AttachmentIDs     []uuid.UUID `json:"attachmentIds,omitempty"`
	Position          Position    `json:"position"`
	CreatedAt         time.Time   `json:"createdAt"`
}

// AttachmentType classifies an attachment's content.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentPDF   AttachmentType = "pdf"
	AttachmentText  AttachmentType = "text"
	AttachmentCode  AttachmentType = "code"
)

// Attachment is a binary file owned by exactly one node.
// Data is opaque to the core; ExtractedText carries any text pulled out
// of the payload upstream (PDF text, file contents).
type Attachment struct {
	ID            uuid.UUID      `json:"id"`
	NodeID        uuid.UUID      `json:"nodeId"`
	Type          AttachmentType `json:"type"`
	Filename      string         `json:"filename"`
	MimeType      string         `json:"mimeType"`
	Size          int64          `json:"size"`
	Data          []byte         `json:"-"`
	ExtractedText string         `json:"extractedText,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}
