package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/canvaschat/canvaschat/internal/canvas"
	"github.com/canvaschat/canvaschat/internal/llm"
	"github.com/canvaschat/canvaschat/internal/log"
	"github.com/canvaschat/canvaschat/internal/prompt"
	"github.com/canvaschat/canvaschat/internal/storage"
	"github.com/canvaschat/canvaschat/internal/tree"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStreamer replays canned chunks, honoring context cancellation
// between chunks like a real provider client.
type fakeStreamer struct {
	chunks   []string
	err      error
	messages []llm.Message // captured from the last call
}

func (f *fakeStreamer) Stream(ctx context.Context, _ string, messages []llm.Message, onChunk llm.ChunkFunc) (string, error) {
	f.messages = messages
	var sb strings.Builder
	for _, c := range f.chunks {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		default:
		}
		if onChunk != nil {
			if err := onChunk(ctx, c); err != nil {
				return sb.String(), err
			}
		}
		sb.WriteString(c)
	}
	if f.err != nil {
		return sb.String(), f.err
	}
	return sb.String(), nil
}

func newTestService(t *testing.T, streamer llm.Streamer) (*Service, *canvas.Store) {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(db))

	store := canvas.New(db, log.NewNop())
	svc, err := New(Config{
		Store:    store,
		Streamer: streamer,
		Builder:  prompt.NewBuilder(0, log.NewNop()),
		Logger:   log.NewNop(),
	})
	require.NoError(t, err)
	return svc, store
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("first turn creates user and assistant nodes", func(t *testing.T) {
		streamer := &fakeStreamer{chunks: []string{"Hello", ", world"}}
		svc, store := newTestService(t, streamer)
		cv, err := store.CreateCanvas(ctx, "c", "be helpful")
		require.NoError(t, err)

		var received []string
		result, err := svc.Send(ctx, SendRequest{
			CanvasID: cv.ID,
			Content:  "hi there",
			Model:    "googleai/gemini-2.5-flash",
		}, func(_ context.Context, text string) error {
			received = append(received, text)
			return nil
		})
		require.NoError(t, err)

		// User node at the root origin, assistant one tier below.
		assert.Equal(t, canvas.Position{X: 400, Y: 100}, result.UserNode.Position)
		assert.Equal(t, canvas.Position{X: 400, Y: 250}, result.AssistantNode.Position)
		assert.Equal(t, canvas.RoleUser, result.UserNode.Role)
		assert.Equal(t, canvas.RoleAssistant, result.AssistantNode.Role)
		require.NotNil(t, result.AssistantNode.ParentID)
		assert.Equal(t, result.UserNode.ID, *result.AssistantNode.ParentID)

		// Chunks relayed in order; full content persisted.
		assert.Equal(t, []string{"Hello", ", world"}, received)
		persisted, err := store.Node(ctx, result.AssistantNode.ID)
		require.NoError(t, err)
		assert.Equal(t, "Hello, world", persisted.Content)
		assert.Equal(t, "Hello, world", persisted.Summary)
		assert.Equal(t, prompt.EstimateTokens("Hello, world"), persisted.TokenCount)

		// Context included the system prompt and the user turn.
		require.NotEmpty(t, streamer.messages)
		assert.Equal(t, llm.RoleSystem, streamer.messages[0].Role)
		assert.Equal(t, "be helpful", streamer.messages[0].Content)
		assert.Equal(t, "hi there", streamer.messages[len(streamer.messages)-1].Content)

		// The first root was adopted as the canvas root.
		got, err := store.Canvas(ctx, cv.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RootNodeID)
		assert.Equal(t, result.UserNode.ID, *got.RootNodeID)
	})

	t.Run("siblings fan out under their parent", func(t *testing.T) {
		streamer := &fakeStreamer{chunks: []string{"ok"}}
		svc, store := newTestService(t, streamer)
		cv, err := store.CreateCanvas(ctx, "c", "")
		require.NoError(t, err)

		first, err := svc.Send(ctx, SendRequest{CanvasID: cv.ID, Content: "root"}, nil)
		require.NoError(t, err)
		parent := first.AssistantNode

		second, err := svc.Send(ctx, SendRequest{CanvasID: cv.ID, ParentID: &parent.ID, Content: "branch one"}, nil)
		require.NoError(t, err)
		third, err := svc.Send(ctx, SendRequest{CanvasID: cv.ID, ParentID: &parent.ID, Content: "branch two"}, nil)
		require.NoError(t, err)

		assert.Equal(t, parent.Position.X, second.UserNode.Position.X)
		assert.Equal(t, parent.Position.Y+150, second.UserNode.Position.Y)
		assert.Equal(t, parent.Position.X+250, third.UserNode.Position.X)
	})

	t.Run("split mode expands a structured reply", func(t *testing.T) {
		reply := "## 개요\n양자 컴퓨팅 소개입니다.\n## 큐비트\n중첩 상태 설명입니다.\n## 얽힘\n얽힘 설명입니다."
		streamer := &fakeStreamer{chunks: []string{reply}}
		svc, store := newTestService(t, streamer)

		cv, err := store.CreateCanvas(ctx, "c", "")
		require.NoError(t, err)
		split := true
		require.NoError(t, store.UpdateCanvas(ctx, cv.ID, canvas.CanvasUpdate{SplitMode: &split}))

		result, err := svc.Send(ctx, SendRequest{CanvasID: cv.ID, Content: "양자 컴퓨팅이란?"}, nil)
		require.NoError(t, err)
		require.Len(t, result.Children, 3)

		// Parent rewritten as a branch point.
		parent, err := store.Node(ctx, result.AssistantNode.ID)
		require.NoError(t, err)
		assert.Contains(t, parent.Content, "이 응답은 3개 주제로 분할되었습니다")
		assert.Contains(t, parent.Content, "• 큐비트")
		assert.Equal(t, "응답 분기점", parent.Summary)

		// Children carry section content and titles as summaries.
		titles := []string{"개요", "큐비트", "얽힘"}
		for i, child := range result.Children {
			assert.Equal(t, titles[i], child.Summary)
			require.NotNil(t, child.ParentID)
			assert.Equal(t, result.AssistantNode.ID, *child.ParentID)
			assert.Equal(t, canvas.RoleAssistant, child.Role)
			assert.Equal(t, result.AssistantNode.Position.Y+150, child.Position.Y)
		}
		assert.Equal(t, "중첩 상태 설명입니다.", result.Children[1].Content)

		// Row centered on the parent.
		assert.Equal(t, result.AssistantNode.Position.X-280, result.Children[0].Position.X)
		assert.Equal(t, result.AssistantNode.Position.X+280, result.Children[2].Position.X)
	})

	t.Run("split mode keeps single-section replies whole", func(t *testing.T) {
		streamer := &fakeStreamer{chunks: []string{"plain answer with no headings"}}
		svc, store := newTestService(t, streamer)

		cv, err := store.CreateCanvas(ctx, "c", "")
		require.NoError(t, err)
		split := true
		require.NoError(t, store.UpdateCanvas(ctx, cv.ID, canvas.CanvasUpdate{SplitMode: &split}))

		result, err := svc.Send(ctx, SendRequest{CanvasID: cv.ID, Content: "q"}, nil)
		require.NoError(t, err)
		assert.Empty(t, result.Children)

		got, err := store.Node(ctx, result.AssistantNode.ID)
		require.NoError(t, err)
		assert.Equal(t, "plain answer with no headings", got.Content)
	})

	t.Run("cancellation keeps streamed prefix", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		streamer := &fakeStreamer{chunks: []string{"partial ", "never sent"}}
		svc, store := newTestService(t, streamer)
		cv, err := store.CreateCanvas(ctx, "c", "")
		require.NoError(t, err)

		result, err := svc.Send(cancelCtx, SendRequest{CanvasID: cv.ID, Content: "q"},
			func(_ context.Context, _ string) error {
				cancel() // client walks away after the first chunk
				return nil
			})
		require.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, result)

		got, gerr := store.Node(ctx, result.AssistantNode.ID)
		require.NoError(t, gerr)
		assert.Equal(t, "partial ", got.Content)
		assert.Equal(t, "partial ", got.Summary)
	})

	t.Run("stream failure surfaces after partial persist", func(t *testing.T) {
		boom := errors.New("provider unavailable")
		streamer := &fakeStreamer{chunks: []string{"half"}, err: boom}
		svc, store := newTestService(t, streamer)
		cv, err := store.CreateCanvas(ctx, "c", "")
		require.NoError(t, err)

		result, err := svc.Send(ctx, SendRequest{CanvasID: cv.ID, Content: "q"}, nil)
		require.ErrorIs(t, err, boom)

		got, gerr := store.Node(ctx, result.AssistantNode.ID)
		require.NoError(t, gerr)
		assert.Equal(t, "half", got.Content)
	})

	t.Run("missing canvas fails before any node is created", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeStreamer{})
		_, err := svc.Send(ctx, SendRequest{CanvasID: uuid.New(), Content: "q"}, nil)
		assert.ErrorIs(t, err, canvas.ErrNotFound)
	})

	t.Run("attachments store and extracted text joins the prompt", func(t *testing.T) {
		streamer := &fakeStreamer{chunks: []string{"ok"}}
		svc, store := newTestService(t, streamer)
		cv, err := store.CreateCanvas(ctx, "c", "")
		require.NoError(t, err)

		result, err := svc.Send(ctx, SendRequest{
			CanvasID: cv.ID,
			Content:  "summarize this",
			Attachments: []AttachmentInput{
				{Type: canvas.AttachmentText, Filename: "notes.txt", MimeType: "text/plain",
					Data: []byte("raw"), ExtractedText: "important findings"},
				{Type: canvas.AttachmentImage, Filename: "fig.png", MimeType: "image/png",
					Data: []byte{0x89, 0x50}},
			},
		}, nil)
		require.NoError(t, err)

		atts, err := store.AttachmentsByNode(ctx, result.UserNode.ID)
		require.NoError(t, err)
		assert.Len(t, atts, 2)

		userNode, err := store.Node(ctx, result.UserNode.ID)
		require.NoError(t, err)
		assert.Len(t, userNode.AttachmentIDs, 2)
		assert.Contains(t, userNode.Content, "important findings")

		// Image rides on the last user message.
		last := streamer.messages[len(streamer.messages)-1]
		require.Len(t, last.Images, 1)
		assert.Equal(t, "image/png", last.Images[0].MimeType)
	})
}

func TestSendPathContext(t *testing.T) {
	ctx := context.Background()
	streamer := &fakeStreamer{chunks: []string{"answer"}}
	svc, store := newTestService(t, streamer)
	cv, err := store.CreateCanvas(ctx, "c", "")
	require.NoError(t, err)

	first, err := svc.Send(ctx, SendRequest{CanvasID: cv.ID, Content: "first question"}, nil)
	require.NoError(t, err)
	_, err = svc.Send(ctx, SendRequest{CanvasID: cv.ID, ParentID: &first.AssistantNode.ID, Content: "second question"}, nil)
	require.NoError(t, err)

	// The second turn's context is the full path: q1, a1, q2.
	require.Len(t, streamer.messages, 3)
	assert.Equal(t, "first question", streamer.messages[0].Content)
	assert.Equal(t, llm.RoleAssistant, streamer.messages[1].Role)
	assert.Equal(t, "second question", streamer.messages[2].Content)

	// Sanity: derived views see one connected tree.
	nodes, err := store.NodesByCanvas(ctx, cv.ID)
	require.NoError(t, err)
	nav := tree.NewNavigator(nodes)
	require.NotNil(t, first.UserNode)
	assert.Equal(t, 3, nav.DescendantCount(first.UserNode.ID))
}
