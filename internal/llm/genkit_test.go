package llm

import (
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertMessages(t *testing.T) {
	t.Parallel()

	t.Run("roles map onto genkit message kinds", func(t *testing.T) {
		t.Parallel()
		system, out := convertMessages([]Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "question"},
			{Role: RoleAssistant, Content: "answer"},
			{Role: RoleUser, Content: "follow-up"},
		})

		assert.Equal(t, "be brief", system)
		require.Len(t, out, 3)
		assert.Equal(t, ai.RoleUser, out[0].Role)
		assert.Equal(t, ai.RoleModel, out[1].Role)
		assert.Equal(t, ai.RoleUser, out[2].Role)
		assert.Equal(t, "follow-up", out[2].Content[0].Text)
	})

	t.Run("multiple system messages fold into one", func(t *testing.T) {
		t.Parallel()
		system, out := convertMessages([]Message{
			{Role: RoleSystem, Content: "first"},
			{Role: RoleSystem, Content: "second"},
		})
		assert.Equal(t, "first\n\nsecond", system)
		assert.Empty(t, out)
	})

	t.Run("images become data-uri media parts before the text", func(t *testing.T) {
		t.Parallel()
		_, out := convertMessages([]Message{
			{
				Role:    RoleUser,
				Content: "what is in this picture?",
				Images:  []Image{{MimeType: "image/png", Data: []byte{1, 2, 3}}},
			},
		})

		require.Len(t, out, 1)
		require.Len(t, out[0].Content, 2)
		media := out[0].Content[0]
		assert.True(t, media.IsMedia())
		assert.True(t, strings.HasPrefix(media.Text, "data:image/png;base64,"))
		assert.Equal(t, "what is in this picture?", out[0].Content[1].Text)
	})
}
