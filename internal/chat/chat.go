// Package chat orchestrates a conversation turn: persisting the user's
// message, assembling model context along the tree path, streaming the
// reply into an assistant node, and expanding split-mode responses
// into per-topic children.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/canvaschat/canvaschat/internal/canvas"
	"github.com/canvaschat/canvaschat/internal/llm"
	"github.com/canvaschat/canvaschat/internal/prompt"
	"github.com/canvaschat/canvaschat/internal/splitter"
	"github.com/canvaschat/canvaschat/internal/tree"
)

// Node placement for new turns. Siblings fan out horizontally under
// their parent; the assistant reply lands one tier below its user node.
const (
	siblingSpacing = 250
	tierSpacing    = 150
	rootOriginX    = 400
	rootOriginY    = 100
)

// splitSummary marks a node whose reply was expanded into per-topic
// children.
const splitSummary = "응답 분기점"

// Config carries the orchestrator's dependencies.
type Config struct {
	Store    *canvas.Store
	Streamer llm.Streamer
	Builder  *prompt.Builder
	Logger   *slog.Logger
}

func (cfg Config) validate() error {
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Streamer == nil {
		return errors.New("streamer is required")
	}
	if cfg.Builder == nil {
		return errors.New("prompt builder is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Service runs conversation turns. Safe for concurrent use across
// nodes; two concurrent generations into the same assistant node are
// not coordinated and the last writer wins.
type Service struct {
	store    *canvas.Store
	streamer llm.Streamer
	builder  *prompt.Builder
	logger   *slog.Logger
}

// New creates a Service from required configuration.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Service{
		store:    cfg.Store,
		streamer: cfg.Streamer,
		builder:  cfg.Builder,
		logger:   cfg.Logger,
	}, nil
}

// AttachmentInput is a file sent along with a user message.
type AttachmentInput struct {
	Type          canvas.AttachmentType `json:"type"`
	Filename      string                `json:"filename"`
	MimeType      string                `json:"mimeType"`
	Data          []byte                `json:"data"`
	ExtractedText string                `json:"extractedText"`
}

// SendRequest describes one conversation turn.
type SendRequest struct {
	CanvasID    uuid.UUID         `json:"canvasId"`
	ParentID    *uuid.UUID        `json:"parentId"`
	Content     string            `json:"content"`
	Model       string            `json:"model"`
	Attachments []AttachmentInput `json:"attachments,omitempty"`
}

// Result reports the nodes a turn produced. Children is non-empty only
// when split mode expanded the reply into per-topic nodes.
type Result struct {
	UserNode      *canvas.Node   `json:"userNode"`
	AssistantNode *canvas.Node   `json:"assistantNode"`
	Children      []*canvas.Node `json:"children,omitempty"`
}

// Send runs one turn. onChunk, if non-nil, receives each streamed text
// fragment as it arrives; node content is persisted in whole after
// every fragment so a concurrent reader always sees a valid prefix.
//
// When ctx is cancelled mid-stream the loop stops, the partial content
// already persisted is kept and finalized with a summary, and the
// cancellation error is returned alongside the Result.
func (s *Service) Send(ctx context.Context, req SendRequest, onChunk llm.ChunkFunc) (*Result, error) {
	cv, err := s.store.Canvas(ctx, req.CanvasID)
	if err != nil {
		return nil, fmt.Errorf("loading canvas: %w", err)
	}

	nodes, err := s.store.NodesByCanvas(ctx, req.CanvasID)
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}
	nav := tree.NewNavigator(nodes)

	userPos := s.placeUserNode(nav, req.ParentID)

	userNode, err := s.store.CreateNode(ctx, canvas.NodeDraft{
		CanvasID:   req.CanvasID,
		ParentID:   req.ParentID,
		Role:       canvas.RoleUser,
		Content:    req.Content,
		Summary:    prompt.Summarize(req.Content),
		TokenCount: prompt.EstimateTokens(req.Content),
		Position:   userPos,
	})
	if err != nil {
		return nil, fmt.Errorf("creating user node: %w", err)
	}

	images, err := s.attachFiles(ctx, userNode, req.Attachments)
	if err != nil {
		return nil, err
	}

	// Rebuild the snapshot so the context includes the new user turn.
	nodes, err = s.store.NodesByCanvas(ctx, req.CanvasID)
	if err != nil {
		return nil, fmt.Errorf("reloading nodes: %w", err)
	}
	nav = tree.NewNavigator(nodes)

	messages := s.builder.Build(cv, nav, userNode.ID)
	if len(images) > 0 {
		attachImages(messages, images)
	}

	assistantNode, err := s.store.CreateNode(ctx, canvas.NodeDraft{
		CanvasID: req.CanvasID,
		ParentID: &userNode.ID,
		Role:     canvas.RoleAssistant,
		Model:    req.Model,
		Position: canvas.Position{X: userNode.Position.X, Y: userNode.Position.Y + tierSpacing},
	})
	if err != nil {
		return nil, fmt.Errorf("creating assistant node: %w", err)
	}

	result := &Result{UserNode: userNode, AssistantNode: assistantNode}

	full, streamErr := s.streamInto(ctx, assistantNode, req.Model, messages, onChunk)
	if streamErr != nil {
		// Partial content is already persisted; finalize what we have.
		// The request context may already be cancelled, so the final
		// write runs detached from it.
		s.logger.Warn("generation interrupted",
			"node_id", assistantNode.ID, "received", len(full), "error", streamErr)
		if full != "" {
			s.finalizeWhole(context.WithoutCancel(ctx), assistantNode, full)
		}
		return result, fmt.Errorf("streaming response: %w", streamErr)
	}

	children, err := s.finalize(ctx, cv, assistantNode, full)
	if err != nil {
		return result, err
	}
	result.Children = children
	return result, nil
}

// placeUserNode picks the new user node's canvas position: fan out to
// the right of existing siblings under the parent, or the default
// origin for a parentless node.
func (s *Service) placeUserNode(nav *tree.Navigator, parentID *uuid.UUID) canvas.Position {
	if parentID == nil {
		return canvas.Position{X: rootOriginX, Y: rootOriginY}
	}
	parent := nav.Node(*parentID)
	if parent == nil {
		return canvas.Position{X: rootOriginX, Y: rootOriginY}
	}
	siblings := len(nav.Children(parent.ID))
	return canvas.Position{
		X: parent.Position.X + float64(siblings*siblingSpacing),
		Y: parent.Position.Y + tierSpacing,
	}
}

// attachFiles persists the request's attachments under the user node
// and returns the image payloads for the model call. Non-image
// attachments contribute their extracted text to the node content via
// the prompt path, so only images need separate transport.
func (s *Service) attachFiles(ctx context.Context, userNode *canvas.Node, inputs []AttachmentInput) ([]llm.Image, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	var images []llm.Image
	ids := make([]uuid.UUID, 0, len(inputs))
	var extracted []string

	for _, in := range inputs {
		att, err := s.store.CreateAttachment(ctx, canvas.AttachmentDraft{
			NodeID:        userNode.ID,
			Type:          in.Type,
			Filename:      in.Filename,
			MimeType:      in.MimeType,
			Size:          int64(len(in.Data)),
			Data:          in.Data,
			ExtractedText: in.ExtractedText,
		})
		if err != nil {
			return nil, fmt.Errorf("storing attachment %q: %w", in.Filename, err)
		}
		ids = append(ids, att.ID)

		if in.Type == canvas.AttachmentImage {
			images = append(images, llm.Image{MimeType: in.MimeType, Data: in.Data})
		} else if in.ExtractedText != "" {
			extracted = append(extracted, fmt.Sprintf("[%s]\n%s", in.Filename, in.ExtractedText))
		}
	}

	update := canvas.NodeUpdate{AttachmentIDs: &ids}
	if len(extracted) > 0 {
		content := userNode.Content + "\n\n" + strings.Join(extracted, "\n\n")
		update.Content = &content
		userNode.Content = content
	}
	userNode.AttachmentIDs = ids

	if err := s.store.UpdateNode(ctx, userNode.ID, update); err != nil {
		return nil, fmt.Errorf("linking attachments: %w", err)
	}
	return images, nil
}

// attachImages pins the image payloads onto the last user message,
// which carries the turn being answered.
func attachImages(messages []llm.Message, images []llm.Image) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			messages[i].Images = images
			return
		}
	}
}

// streamInto consumes the model stream, accumulating locally and
// persisting the node's whole content after every fragment.
func (s *Service) streamInto(ctx context.Context, node *canvas.Node, model string, messages []llm.Message, onChunk llm.ChunkFunc) (string, error) {
	var sb strings.Builder

	full, err := s.streamer.Stream(ctx, model, messages, func(ctx context.Context, text string) error {
		sb.WriteString(text)
		content := sb.String()
		if uerr := s.store.UpdateNode(ctx, node.ID, canvas.NodeUpdate{Content: &content}); uerr != nil {
			return fmt.Errorf("persisting chunk: %w", uerr)
		}
		if onChunk != nil {
			return onChunk(ctx, text)
		}
		return nil
	})
	if err != nil {
		return sb.String(), err
	}
	if full == "" {
		full = sb.String()
	}
	return full, nil
}

// finalize completes the assistant node after a full stream. In split
// mode a multi-section response is rewritten in place as a branch
// point and its sections become child nodes; otherwise the node gets
// its summary and token count.
func (s *Service) finalize(ctx context.Context, cv *canvas.Canvas, node *canvas.Node, full string) ([]*canvas.Node, error) {
	if cv.SplitMode {
		if sections := splitter.SplitByHeadings(full); len(sections) > 1 {
			return s.expandSections(ctx, node, sections)
		}
	}
	s.finalizeWhole(ctx, node, full)
	return nil, nil
}

func (s *Service) finalizeWhole(ctx context.Context, node *canvas.Node, full string) {
	summary := prompt.Summarize(full)
	tokens := prompt.EstimateTokens(full)
	update := canvas.NodeUpdate{Content: &full, Summary: &summary, TokenCount: &tokens}
	if err := s.store.UpdateNode(ctx, node.ID, update); err != nil {
		s.logger.Error("finalizing assistant node", "node_id", node.ID, "error", err)
		return
	}
	node.Content = full
	node.Summary = summary
	node.TokenCount = tokens
}

// expandSections rewrites node as a branch point listing its topics
// and creates one child per section, fanned out below it.
func (s *Service) expandSections(ctx context.Context, node *canvas.Node, sections []splitter.Section) ([]*canvas.Node, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "이 응답은 %d개 주제로 분할되었습니다:\n\n", len(sections))
	for _, sec := range sections {
		sb.WriteString("• " + sec.Title + "\n")
	}

	content := sb.String()
	summary := splitSummary
	tokens := prompt.EstimateTokens(content)
	update := canvas.NodeUpdate{Content: &content, Summary: &summary, TokenCount: &tokens}
	if err := s.store.UpdateNode(ctx, node.ID, update); err != nil {
		return nil, fmt.Errorf("rewriting branch point: %w", err)
	}
	node.Content = content
	node.Summary = summary
	node.TokenCount = tokens

	positions := splitter.Positions(node.Position, len(sections))
	children := make([]*canvas.Node, 0, len(sections))
	for i, sec := range sections {
		child, err := s.store.CreateNode(ctx, canvas.NodeDraft{
			CanvasID:   node.CanvasID,
			ParentID:   &node.ID,
			Role:       canvas.RoleAssistant,
			Content:    sec.Content,
			Summary:    sec.Title,
			Model:      node.Model,
			TokenCount: prompt.EstimateTokens(sec.Content),
			Position:   positions[i],
		})
		if err != nil {
			return children, fmt.Errorf("creating section node %d: %w", i, err)
		}
		children = append(children, child)
	}

	s.logger.Info("split response into sections",
		"node_id", node.ID, "sections", len(sections))
	return children, nil
}
