package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// ErrEmptyModel is returned when Stream is called without a model name
// and the client has no default.
var ErrEmptyModel = errors.New("model name is empty")

// Client is a Streamer backed by Genkit. It is safe for concurrent
// use; the rate limiter throttles across all callers.
type Client struct {
	g            *genkit.Genkit
	defaultModel string
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewClient wraps an initialized Genkit instance. defaultModel is the
// provider-qualified model name used when a request names none. A nil
// limiter installs a conservative default.
func NewClient(g *genkit.Genkit, defaultModel string, limiter *rate.Limiter, logger *slog.Logger) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	return &Client{g: g, defaultModel: defaultModel, limiter: limiter, logger: logger}
}

// Stream implements Streamer. The system message, if present, is
// passed through ai.WithSystem; remaining messages become the history.
func (c *Client) Stream(ctx context.Context, model string, messages []Message, onChunk ChunkFunc) (string, error) {
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return "", ErrEmptyModel
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	system, aiMessages := convertMessages(messages)

	opts := []ai.GenerateOption{
		ai.WithModelName(model),
		ai.WithMessages(aiMessages...),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}
	if onChunk != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			if chunk == nil {
				return nil
			}
			for _, part := range chunk.Content {
				if part.Text == "" {
					continue
				}
				if err := onChunk(ctx, part.Text); err != nil {
					return err
				}
			}
			return nil
		}))
	}

	c.logger.Debug("generating response", "model", model, "messages", len(aiMessages))

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generating response: %w", err)
	}
	return resp.Text(), nil
}

// convertMessages maps provider-neutral messages onto Genkit's types.
// System messages are folded into a single system string; images ride
// along as base64 data-URI media parts on their message.
func convertMessages(messages []Message) (system string, out []*ai.Message) {
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleAssistant:
			out = append(out, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		default:
			parts := make([]*ai.Part, 0, len(m.Images)+1)
			for _, img := range m.Images {
				uri := "data:" + img.MimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
				parts = append(parts, ai.NewMediaPart(img.MimeType, uri))
			}
			parts = append(parts, ai.NewTextPart(m.Content))
			out = append(out, ai.NewUserMessage(parts...))
		}
	}
	return system, out
}
