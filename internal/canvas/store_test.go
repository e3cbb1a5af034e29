package canvas_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvaschat/canvaschat/internal/canvas"
	"github.com/canvaschat/canvaschat/internal/log"
	"github.com/canvaschat/canvaschat/internal/storage"
)

// newTestStore opens a migrated store on a per-test database file.
func newTestStore(t *testing.T) *canvas.Store {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, storage.Migrate(db))
	return canvas.New(db, log.NewNop())
}

func TestCanvasLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cv, err := store.CreateCanvas(ctx, "quantum notes", "answer precisely")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, cv.ID)
	assert.Nil(t, cv.RootNodeID)
	assert.False(t, cv.SplitMode)

	t.Run("round trip", func(t *testing.T) {
		got, err := store.Canvas(ctx, cv.ID)
		require.NoError(t, err)
		assert.Equal(t, cv.ID, got.ID)
		assert.Equal(t, "quantum notes", got.Name)
		assert.Equal(t, "answer precisely", got.SystemPrompt)
	})

	t.Run("missing canvas is ErrNotFound", func(t *testing.T) {
		_, err := store.Canvas(ctx, uuid.New())
		assert.ErrorIs(t, err, canvas.ErrNotFound)
	})

	t.Run("update merges only set fields", func(t *testing.T) {
		name := "renamed"
		split := true
		err := store.UpdateCanvas(ctx, cv.ID, canvas.CanvasUpdate{Name: &name, SplitMode: &split})
		require.NoError(t, err)

		got, err := store.Canvas(ctx, cv.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.True(t, got.SplitMode)
		assert.Equal(t, "answer precisely", got.SystemPrompt)
	})

	t.Run("update of missing canvas is ErrNotFound", func(t *testing.T) {
		name := "x"
		err := store.UpdateCanvas(ctx, uuid.New(), canvas.CanvasUpdate{Name: &name})
		assert.ErrorIs(t, err, canvas.ErrNotFound)
	})

	t.Run("list orders by most recent update", func(t *testing.T) {
		second, err := store.CreateCanvas(ctx, "second", "")
		require.NoError(t, err)
		name := "bumped"
		require.NoError(t, store.UpdateCanvas(ctx, second.ID, canvas.CanvasUpdate{Name: &name}))

		canvases, err := store.Canvases(ctx)
		require.NoError(t, err)
		require.Len(t, canvases, 2)
		assert.Equal(t, second.ID, canvases[0].ID)
	})
}

func TestCreateNode(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cv, err := store.CreateCanvas(ctx, "c", "")
	require.NoError(t, err)

	t.Run("first root is adopted as canvas root", func(t *testing.T) {
		root, err := store.CreateNode(ctx, canvas.NodeDraft{
			CanvasID: cv.ID,
			Role:     canvas.RoleUser,
			Content:  "hello",
			Position: canvas.Position{X: 400, Y: 100},
		})
		require.NoError(t, err)

		got, err := store.Canvas(ctx, cv.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RootNodeID)
		assert.Equal(t, root.ID, *got.RootNodeID)
	})

	t.Run("second root does not displace the first", func(t *testing.T) {
		before, err := store.Canvas(ctx, cv.ID)
		require.NoError(t, err)

		_, err = store.CreateNode(ctx, canvas.NodeDraft{
			CanvasID: cv.ID,
			Role:     canvas.RoleUser,
			Content:  "another root",
		})
		require.NoError(t, err)

		after, err := store.Canvas(ctx, cv.ID)
		require.NoError(t, err)
		assert.Equal(t, *before.RootNodeID, *after.RootNodeID)
	})

	t.Run("invalid role rejected", func(t *testing.T) {
		_, err := store.CreateNode(ctx, canvas.NodeDraft{CanvasID: cv.ID, Role: "moderator"})
		assert.ErrorIs(t, err, canvas.ErrInvalidRole)
	})

	t.Run("unknown parent id is allowed", func(t *testing.T) {
		ghost := uuid.New()
		n, err := store.CreateNode(ctx, canvas.NodeDraft{
			CanvasID: cv.ID,
			ParentID: &ghost,
			Role:     canvas.RoleAssistant,
		})
		require.NoError(t, err)
		require.NotNil(t, n.ParentID)
		assert.Equal(t, ghost, *n.ParentID)
	})

	t.Run("fields survive the round trip", func(t *testing.T) {
		attID := uuid.New()
		created, err := store.CreateNode(ctx, canvas.NodeDraft{
			CanvasID:      cv.ID,
			Role:          canvas.RoleAssistant,
			Content:       "body",
			Summary:       "sum",
			Model:         "googleai/gemini-2.5-flash",
			TokenCount:    42,
			AttachmentIDs: []uuid.UUID{attID},
			Position:      canvas.Position{X: 120, Y: 250},
		})
		require.NoError(t, err)

		got, err := store.Node(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "body", got.Content)
		assert.Equal(t, "sum", got.Summary)
		assert.Equal(t, "googleai/gemini-2.5-flash", got.Model)
		assert.Equal(t, 42, got.TokenCount)
		assert.Equal(t, []uuid.UUID{attID}, got.AttachmentIDs)
		assert.Equal(t, canvas.Position{X: 120, Y: 250}, got.Position)
	})
}

func TestUpdateNode(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cv, err := store.CreateCanvas(ctx, "c", "")
	require.NoError(t, err)
	n, err := store.CreateNode(ctx, canvas.NodeDraft{CanvasID: cv.ID, Role: canvas.RoleAssistant})
	require.NoError(t, err)

	t.Run("repeated whole-content updates keep the last write", func(t *testing.T) {
		for _, content := range []string{"Hel", "Hello, wo", "Hello, world"} {
			c := content
			require.NoError(t, store.UpdateNode(ctx, n.ID, canvas.NodeUpdate{Content: &c}))
		}
		got, err := store.Node(ctx, n.ID)
		require.NoError(t, err)
		assert.Equal(t, "Hello, world", got.Content)
	})

	t.Run("collapse flag toggles", func(t *testing.T) {
		collapsed := true
		require.NoError(t, store.UpdateNode(ctx, n.ID, canvas.NodeUpdate{IsCollapsed: &collapsed}))
		got, err := store.Node(ctx, n.ID)
		require.NoError(t, err)
		assert.True(t, got.IsCollapsed)
	})

	t.Run("position moves", func(t *testing.T) {
		pos := canvas.Position{X: -140, Y: 250}
		require.NoError(t, store.UpdateNode(ctx, n.ID, canvas.NodeUpdate{Position: &pos}))
		got, err := store.Node(ctx, n.ID)
		require.NoError(t, err)
		assert.Equal(t, pos, got.Position)
	})

	t.Run("empty update is a no-op", func(t *testing.T) {
		assert.NoError(t, store.UpdateNode(ctx, n.ID, canvas.NodeUpdate{}))
	})

	t.Run("missing node is ErrNotFound", func(t *testing.T) {
		c := "x"
		err := store.UpdateNode(ctx, uuid.New(), canvas.NodeUpdate{Content: &c})
		assert.ErrorIs(t, err, canvas.ErrNotFound)
	})
}

func TestDeleteNodeSubtree(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cv, err := store.CreateCanvas(ctx, "c", "")
	require.NoError(t, err)

	// root → a → (a1, a2), root → b
	root, err := store.CreateNode(ctx, canvas.NodeDraft{CanvasID: cv.ID, Role: canvas.RoleUser})
	require.NoError(t, err)
	a, err := store.CreateNode(ctx, canvas.NodeDraft{CanvasID: cv.ID, ParentID: &root.ID, Role: canvas.RoleAssistant})
	require.NoError(t, err)
	a1, err := store.CreateNode(ctx, canvas.NodeDraft{CanvasID: cv.ID, ParentID: &a.ID, Role: canvas.RoleUser})
	require.NoError(t, err)
	_, err = store.CreateNode(ctx, canvas.NodeDraft{CanvasID: cv.ID, ParentID: &a.ID, Role: canvas.RoleUser})
	require.NoError(t, err)
	b, err := store.CreateNode(ctx, canvas.NodeDraft{CanvasID: cv.ID, ParentID: &root.ID, Role: canvas.RoleAssistant})
	require.NoError(t, err)

	// Attachment under a deep descendant must go with the subtree.
	_, err = store.CreateAttachment(ctx, canvas.AttachmentDraft{
		NodeID: a1.ID, Type: canvas.AttachmentText, Filename: "notes.txt",
	})
	require.NoError(t, err)

	t.Run("deleting a branch removes descendants and attachments", func(t *testing.T) {
		require.NoError(t, store.DeleteNode(ctx, a.ID))

		nodes, err := store.NodesByCanvas(ctx, cv.ID)
		require.NoError(t, err)
		assert.Len(t, nodes, 2) // root and b survive

		_, err = store.Node(ctx, a1.ID)
		assert.ErrorIs(t, err, canvas.ErrNotFound)

		atts, err := store.AttachmentsByNode(ctx, a1.ID)
		require.NoError(t, err)
		assert.Empty(t, atts)
	})

	t.Run("deleting the root empties the canvas", func(t *testing.T) {
		require.NoError(t, store.DeleteNode(ctx, root.ID))
		nodes, err := store.NodesByCanvas(ctx, cv.ID)
		require.NoError(t, err)
		assert.Empty(t, nodes)

		_, err = store.Node(ctx, b.ID)
		assert.ErrorIs(t, err, canvas.ErrNotFound)
	})

	t.Run("deleting an absent node succeeds", func(t *testing.T) {
		assert.NoError(t, store.DeleteNode(ctx, root.ID))
		assert.NoError(t, store.DeleteNode(ctx, uuid.New()))
	})
}

func TestDeleteCanvasCascades(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cv, err := store.CreateCanvas(ctx, "c", "")
	require.NoError(t, err)
	n, err := store.CreateNode(ctx, canvas.NodeDraft{CanvasID: cv.ID, Role: canvas.RoleUser})
	require.NoError(t, err)
	_, err = store.CreateAttachment(ctx, canvas.AttachmentDraft{
		NodeID: n.ID, Type: canvas.AttachmentImage, Filename: "img.png",
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteCanvas(ctx, cv.ID))

	_, err = store.Canvas(ctx, cv.ID)
	assert.ErrorIs(t, err, canvas.ErrNotFound)
	_, err = store.Node(ctx, n.ID)
	assert.ErrorIs(t, err, canvas.ErrNotFound)
	atts, err := store.AttachmentsByNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestSearchNodes(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cv, err := store.CreateCanvas(ctx, "c", "")
	require.NoError(t, err)
	_, err = store.CreateNode(ctx, canvas.NodeDraft{
		CanvasID: cv.ID, Role: canvas.RoleUser, Content: "tell me about qubits",
	})
	require.NoError(t, err)
	_, err = store.CreateNode(ctx, canvas.NodeDraft{
		CanvasID: cv.ID, Role: canvas.RoleAssistant, Content: "unrelated", Summary: "qubit overview",
	})
	require.NoError(t, err)
	_, err = store.CreateNode(ctx, canvas.NodeDraft{
		CanvasID: cv.ID, Role: canvas.RoleAssistant, Content: "nothing here",
	})
	require.NoError(t, err)

	got, err := store.SearchNodes(ctx, cv.ID, "qubit")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	empty, err := store.SearchNodes(ctx, cv.ID, "")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAttachments(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cv, err := store.CreateCanvas(ctx, "c", "")
	require.NoError(t, err)
	n, err := store.CreateNode(ctx, canvas.NodeDraft{CanvasID: cv.ID, Role: canvas.RoleUser})
	require.NoError(t, err)

	att, err := store.CreateAttachment(ctx, canvas.AttachmentDraft{
		NodeID:        n.ID,
		Type:          canvas.AttachmentPDF,
		Filename:      "paper.pdf",
		MimeType:      "application/pdf",
		Size:          3,
		Data:          []byte{1, 2, 3},
		ExtractedText: "abstract text",
	})
	require.NoError(t, err)

	got, err := store.AttachmentsByNode(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, att.ID, got[0].ID)
	assert.Equal(t, canvas.AttachmentPDF, got[0].Type)
	assert.Equal(t, []byte{1, 2, 3}, got[0].Data)
	assert.Equal(t, "abstract text", got[0].ExtractedText)

	require.NoError(t, store.DeleteAttachment(ctx, att.ID))
	left, err := store.AttachmentsByNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}
