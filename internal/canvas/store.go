package canvas

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store manages canvas, node and attachment persistence with a SQLite
// backend. It implements the persistence contract consumed by the tree,
// chat and export components.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store instance.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// CreateCanvas creates a new canvas with a generated id and timestamps.
func (s *Store) CreateCanvas(ctx context.Context, name, systemPrompt string) (*Canvas, error) {
	c := &Canvas{
		ID:           uuid.New(),
		Name:         name,
		SystemPrompt: systemPrompt,
		CreatedAt:    time.Now(),
	}
	c.UpdatedAt = c.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO canvases (id, name, system_prompt, split_mode, root_node_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, NULL, ?, ?)`,
		c.ID.String(), c.Name, c.SystemPrompt, c.SplitMode, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating canvas: %w", err)
	}

	s.logger.Debug("created canvas", "id", c.ID, "name", c.Name)
	return c, nil
}

// Canvas retrieves a canvas by id. Returns ErrNotFound if it does not exist.
func (s *Store) Canvas(ctx context.Context, id uuid.UUID) (*Canvas, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, system_prompt, split_mode, root_node_id, created_at, updated_at
		 FROM canvases WHERE id = ?`, id.String())

	c, err := scanCanvas(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("canvas %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting canvas %s: %w", id, err)
	}
	return c, nil
}

// Canvases lists all canvases ordered by most recently updated.
func (s *Store) Canvases(ctx context.Context) ([]*Canvas, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, system_prompt, split_mode, root_node_id, created_at, updated_at
		 FROM canvases ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing canvases: %w", err)
	}
	defer rows.Close()

	var canvases []*Canvas
	for rows.Next() {
		c, err := scanCanvas(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning canvas: %w", err)
		}
		canvases = append(canvases, c)
	}
	return canvases, rows.Err()
}

// CanvasUpdate carries the fields to merge into an existing canvas.
// Nil fields are left unchanged.
type CanvasUpdate struct {
	Name         *string
	SystemPrompt *string
	SplitMode    *bool
	RootNodeID   *uuid.UUID
}

// UpdateCanvas merges non-nil fields into the canvas and bumps updated_at.
func (s *Store) UpdateCanvas(ctx context.Context, id uuid.UUID, u CanvasUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now()}

	if u.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
	}
	if u.SystemPrompt != nil {
		sets = append(sets, "system_prompt = ?")
		args = append(args, *u.SystemPrompt)
	}
	if u.SplitMode != nil {
		sets = append(sets, "split_mode = ?")
		args = append(args, *u.SplitMode)
	}
	if u.RootNodeID != nil {
		sets = append(sets, "root_node_id = ?")
		args = append(args, u.RootNodeID.String())
	}
	args = append(args, id.String())

	res, err := s.db.ExecContext(ctx,
		"UPDATE canvases SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating canvas %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("canvas %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteCanvas deletes a canvas, all of its nodes and their attachments.
func (s *Store) DeleteCanvas(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Debug("rollback", "error", err)
		}
	}()

	// Attachments before nodes, nodes before the canvas.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM attachments WHERE node_id IN (SELECT id FROM nodes WHERE canvas_id = ?)`,
		id.String()); err != nil {
		return fmt.Errorf("deleting canvas attachments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE canvas_id = ?`, id.String()); err != nil {
		return fmt.Errorf("deleting canvas nodes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM canvases WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("deleting canvas: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing canvas delete: %w", err)
	}
	s.logger.Debug("deleted canvas", "id", id)
	return nil
}

// NodeDraft carries the caller-supplied fields for a new node.
type NodeDraft struct {
	CanvasID          uuid.UUID
	ParentID          *uuid.UUID
	Role              Role
	Content           string
	Summary           string
	CompressedContent string
	IsCompressed      bool
	Model             string
	TokenCount        int
	AttachmentIDs     []uuid.UUID
	Position          Position
}

// CreateNode inserts a new node with a generated id and creation time.
//
// The draft's ParentID is not checked for existence: a node may be
// created under a parent id that is not (yet) in the store. This is a
// deliberate allowance — disconnected nodes stay out of derived tree
// views and can be reattached or cleaned up later.
//
// If the draft is a root node (nil ParentID) and its canvas has no root
// reference yet, the canvas's root_node_id is set to the new node.
func (s *Store) CreateNode(ctx context.Context, draft NodeDraft) (*Node, error) {
	if !draft.Role.Valid() {
		return nil, fmt.Errorf("role %q: %w", draft.Role, ErrInvalidRole)
	}

	n := &Node{
		ID:                uuid.New(),
		CanvasID:          draft.CanvasID,
		ParentID:          draft.ParentID,
		Role:              draft.Role,
		Content:           draft.Content,
		Summary:           draft.Summary,
		CompressedContent: draft.CompressedContent,
		IsCompressed:      draft.IsCompressed,
		Model:             draft.Model,
		TokenCount:        draft.TokenCount,
		AttachmentIDs:     draft.AttachmentIDs,
		Position:          draft.Position,
		CreatedAt:         time.Now(),
	}

	attachmentIDs, err := marshalIDs(n.AttachmentIDs)
	if err != nil {
		return nil, fmt.Errorf("encoding attachment ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, canvas_id, parent_id, role, content, summary, compressed_content,
		                    is_compressed, is_collapsed, model, token_count, attachment_ids,
		                    pos_x, pos_y, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.CanvasID.String(), uuidOrNil(n.ParentID), string(n.Role),
		n.Content, n.Summary, n.CompressedContent, n.IsCompressed,
		n.Model, n.TokenCount, attachmentIDs,
		n.Position.X, n.Position.Y, n.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating node: %w", err)
	}

	if n.ParentID == nil {
		if err := s.adoptRoot(ctx, n.CanvasID, n.ID); err != nil {
			s.logger.Warn("setting canvas root", "canvas_id", n.CanvasID, "error", err)
		}
	}

	s.logger.Debug("created node", "id", n.ID, "canvas_id", n.CanvasID, "role", n.Role)
	return n, nil
}

// adoptRoot sets the canvas's root reference to nodeID if none is set.
func (s *Store) adoptRoot(ctx context.Context, canvasID, nodeID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE canvases SET root_node_id = ?, updated_at = ? WHERE id = ? AND root_node_id IS NULL`,
		nodeID.String(), time.Now(), canvasID.String())
	return err
}

// Node retrieves a node by id. Returns ErrNotFound if it does not exist.
func (s *Store) Node(ctx context.Context, id uuid.UUID) (*Node, error) {
	row := s.db.QueryRowContext(ctx, nodeSelect+` WHERE id = ?`, id.String())
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting node %s: %w", id, err)
	}
	return n, nil
}

// NodesByCanvas bulk-loads every node belonging to a canvas in one query.
// Tree algorithms must operate on this snapshot rather than issuing one
// query per parent hop.
func (s *Store) NodesByCanvas(ctx context.Context, canvasID uuid.UUID) ([]*Node, error) {
	return s.queryNodes(ctx, nodeSelect+` WHERE canvas_id = ?`, canvasID.String())
}

// ChildrenOf returns all nodes whose parent is parentID.
func (s *Store) ChildrenOf(ctx context.Context, parentID uuid.UUID) ([]*Node, error) {
	return s.queryNodes(ctx, nodeSelect+` WHERE parent_id = ?`, parentID.String())
}

// SearchNodes returns the canvas's nodes whose content or summary
// contains the query string, newest first.
func (s *Store) SearchNodes(ctx context.Context, canvasID uuid.UUID, query string) ([]*Node, error) {
	if query == "" {
		return nil, nil
	}
	pattern := "%" + query + "%"
	return s.queryNodes(ctx,
		nodeSelect+` WHERE canvas_id = ? AND (content LIKE ? OR summary LIKE ?) ORDER BY created_at DESC`,
		canvasID.String(), pattern, pattern)
}

// NodeUpdate carries the fields to merge into an existing node.
// Nil fields are left unchanged; id, canvas id and creation time are
// immutable.
type NodeUpdate struct {
	Content           *string
	Summary           *string
	CompressedContent *string
	IsCompressed      *bool
	IsCollapsed       *bool
	Model             *string
	TokenCount        *int
	AttachmentIDs     *[]uuid.UUID
	Position          *Position
}

// UpdateNode merges non-nil fields into the node. Content is replaced
// wholesale, never appended — streaming callers accumulate the full
// string before each call, so repeated updates are safe.
func (s *Store) UpdateNode(ctx context.Context, id uuid.UUID, u NodeUpdate) error {
	var sets []string
	var args []any

	if u.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *u.Content)
	}
	if u.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *u.Summary)
	}
	if u.CompressedContent != nil {
		sets = append(sets, "compressed_content = ?")
		args = append(args, *u.CompressedContent)
	}
	if u.IsCompressed != nil {
		sets = append(sets, "is_compressed = ?")
		args = append(args, *u.IsCompressed)
	}
	if u.IsCollapsed != nil {
		sets = append(sets, "is_collapsed = ?")
		args = append(args, *u.IsCollapsed)
	}
	if u.Model != nil {
		sets = append(sets, "model = ?")
		args = append(args, *u.Model)
	}
	if u.TokenCount != nil {
		sets = append(sets, "token_count = ?")
		args = append(args, *u.TokenCount)
	}
	if u.AttachmentIDs != nil {
		encoded, err := marshalIDs(*u.AttachmentIDs)
		if err != nil {
			return fmt.Errorf("encoding attachment ids: %w", err)
		}
		sets = append(sets, "attachment_ids = ?")
		args = append(args, encoded)
	}
	if u.Position != nil {
		sets = append(sets, "pos_x = ?", "pos_y = ?")
		args = append(args, u.Position.X, u.Position.Y)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id.String())

	res, err := s.db.ExecContext(ctx,
		"UPDATE nodes SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating node %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteNode deletes the node and its entire descendant subtree,
// children before parents, along with every deleted node's attachments.
// Deleting a node that does not exist is a no-op.
//
// The subtree is computed over one bulk load of the canvas's node set;
// no per-node child queries are issued.
func (s *Store) DeleteNode(ctx context.Context, id uuid.UUID) error {
	target, err := s.Node(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	nodes, err := s.NodesByCanvas(ctx, target.CanvasID)
	if err != nil {
		return fmt.Errorf("loading canvas nodes: %w", err)
	}

	children := make(map[uuid.UUID][]uuid.UUID, len(nodes))
	for _, n := range nodes {
		if n.ParentID != nil {
			children[*n.ParentID] = append(children[*n.ParentID], n.ID)
		}
	}

	// Post-order walk: descendants come before their ancestors.
	var order []uuid.UUID
	var walk func(uuid.UUID)
	walk = func(nodeID uuid.UUID) {
		for _, child := range children[nodeID] {
			walk(child)
		}
		order = append(order, nodeID)
	}
	walk(id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Debug("rollback", "error", err)
		}
	}()

	for _, nodeID := range order {
		if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE node_id = ?`, nodeID.String()); err != nil {
			return fmt.Errorf("deleting attachments of %s: %w", nodeID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, nodeID.String()); err != nil {
			return fmt.Errorf("deleting node %s: %w", nodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing node delete: %w", err)
	}
	s.logger.Debug("deleted subtree", "root", id, "count", len(order))
	return nil
}

// AttachmentDraft carries the caller-supplied fields for a new attachment.
type AttachmentDraft struct {
	NodeID        uuid.UUID
	Type          AttachmentType
	Filename      string
	MimeType      string
	Size          int64
	Data          []byte
	ExtractedText string
}

// CreateAttachment inserts a new attachment with a generated id.
func (s *Store) CreateAttachment(ctx context.Context, draft AttachmentDraft) (*Attachment, error) {
	a := &Attachment{
		ID:            uuid.New(),
		NodeID:        draft.NodeID,
		Type:          draft.Type,
		Filename:      draft.Filename,
		MimeType:      draft.MimeType,
		Size:          draft.Size,
		Data:          draft.Data,
		ExtractedText: draft.ExtractedText,
		CreatedAt:     time.Now(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (id, node_id, type, filename, mime_type, size, data, extracted_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.NodeID.String(), string(a.Type), a.Filename, a.MimeType,
		a.Size, a.Data, a.ExtractedText, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating attachment %s: %w", a.Filename, err)
	}

	s.logger.Debug("created attachment", "id", a.ID, "node_id", a.NodeID, "filename", a.Filename)
	return a, nil
}

// AttachmentsByNode returns all attachments owned by a node.
func (s *Store) AttachmentsByNode(ctx context.Context, nodeID uuid.UUID) ([]*Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_id, type, filename, mime_type, size, data, extracted_text, created_at
		 FROM attachments WHERE node_id = ?`, nodeID.String())
	if err != nil {
		return nil, fmt.Errorf("listing attachments for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	var attachments []*Attachment
	for rows.Next() {
		a := &Attachment{}
		var id, nodeID, typ string
		if err := rows.Scan(&id, &nodeID, &typ, &a.Filename, &a.MimeType,
			&a.Size, &a.Data, &a.ExtractedText, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing attachment id: %w", err)
		}
		if a.NodeID, err = uuid.Parse(nodeID); err != nil {
			return nil, fmt.Errorf("parsing attachment node id: %w", err)
		}
		a.Type = AttachmentType(typ)
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

// DeleteAttachment removes a single attachment. No-op if absent.
func (s *Store) DeleteAttachment(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("deleting attachment %s: %w", id, err)
	}
	return nil
}

const nodeSelect = `SELECT id, canvas_id, parent_id, role, content, summary, compressed_content,
       is_compressed, is_collapsed, model, token_count, attachment_ids, pos_x, pos_y, created_at
  FROM nodes`

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCanvas(row scanner) (*Canvas, error) {
	c := &Canvas{}
	var id string
	var rootID sql.NullString
	if err := row.Scan(&id, &c.Name, &c.SystemPrompt, &c.SplitMode, &rootID,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing canvas id: %w", err)
	}
	if rootID.Valid {
		parsed, err := uuid.Parse(rootID.String)
		if err != nil {
			return nil, fmt.Errorf("parsing root node id: %w", err)
		}
		c.RootNodeID = &parsed
	}
	return c, nil
}

func scanNode(row scanner) (*Node, error) {
	n := &Node{}
	var id, canvasID, role, attachmentIDs string
	var parentID sql.NullString
	if err := row.Scan(&id, &canvasID, &parentID, &role, &n.Content, &n.Summary,
		&n.CompressedContent, &n.IsCompressed, &n.IsCollapsed, &n.Model,
		&n.TokenCount, &attachmentIDs, &n.Position.X, &n.Position.Y, &n.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if n.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing node id: %w", err)
	}
	if n.CanvasID, err = uuid.Parse(canvasID); err != nil {
		return nil, fmt.Errorf("parsing canvas id: %w", err)
	}
	if parentID.Valid {
		parsed, err := uuid.Parse(parentID.String)
		if err != nil {
			return nil, fmt.Errorf("parsing parent id: %w", err)
		}
		n.ParentID = &parsed
	}
	n.Role = Role(role)
	if n.AttachmentIDs, err = unmarshalIDs(attachmentIDs); err != nil {
		return nil, fmt.Errorf("decoding attachment ids: %w", err)
	}
	return n, nil
}

func uuidOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func marshalIDs(ids []uuid.UUID) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalIDs(data string) ([]uuid.UUID, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
