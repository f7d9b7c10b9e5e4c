// Package gemini implements model.Bridge by calling Gemini directly through
// the Google Gen AI SDK. Generated text parts are written to the returned
// stream as raw UTF-8, exactly like the local HTTP backend would send them.
package gemini

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"google.golang.org/genai"

	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/model"
)

// DefaultModel is used when a persona does not name one.
const DefaultModel = "gemini-2.0-flash"

const endpoint = "gemini"

type streamFunc func(ctx context.Context, modelName string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// Bridge implements model.Bridge using the Google Gen AI SDK.
type Bridge struct {
	stream       streamFunc
	modelName    string
	instructions string
}

// Verify interface compliance.
var _ model.Bridge = (*Bridge)(nil)

// Client wraps a Gen AI client so several personas can share it.
type Client struct {
	client *genai.Client
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Client{client: client}, nil
}

// Bridge returns a bridge speaking as the persona described by instructions.
func (c *Client) Bridge(modelName, instructions string) *Bridge {
	return newBridge(c.client.Models.GenerateContentStream, modelName, instructions)
}

func newBridge(stream streamFunc, modelName, instructions string) *Bridge {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Bridge{stream: stream, modelName: modelName, instructions: instructions}
}

// Name returns the backend identifier.
func (b *Bridge) Name() string { return domain.BackendGemini }

// Generate starts a streaming generation. An error on the first response is
// reported as unreachable; later errors end the stream with a StreamError.
func (b *Bridge) Generate(ctx context.Context, history []domain.HistoryTurn) (io.ReadCloser, error) {
	slog.Debug("Gemini.Generate", "model", b.modelName, "turns", len(history))

	contents := toContents(history)
	if len(contents) == 0 {
		return nil, &model.UnreachableError{Endpoint: endpoint, Message: "empty history"}
	}

	var config *genai.GenerateContentConfig
	if b.instructions != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{
				Parts: []*genai.Part{{Text: b.instructions}},
			},
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	next, stop := iter.Pull2(b.stream(streamCtx, b.modelName, contents, config))

	first, err, ok := next()
	if err != nil {
		stop()
		cancel()
		return nil, &model.UnreachableError{Endpoint: endpoint, Err: err}
	}

	pr, pw := io.Pipe()
	go func() {
		defer stop()
		for ok {
			if err != nil {
				pw.CloseWithError(&model.StreamError{Err: err})
				return
			}
			for _, text := range textParts(first) {
				if _, werr := io.WriteString(pw, text); werr != nil {
					// Reader went away.
					return
				}
			}
			first, err, ok = next()
		}
		pw.Close()
	}()

	return &pipeBody{PipeReader: pr, cancel: cancel}, nil
}

// toContents converts history turns into Gen AI contents. Empty turns are
// dropped because the API rejects parts without data.
func toContents(history []domain.HistoryTurn) []*genai.Content {
	var contents []*genai.Content
	for _, turn := range history {
		if turn.Parts == "" {
			continue
		}
		role := genai.RoleUser
		if turn.Role == domain.HistoryRoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  string(role),
			Parts: []*genai.Part{{Text: turn.Parts}},
		})
	}
	return contents
}

// textParts returns the visible text of a response, skipping thoughts.
func textParts(resp *genai.GenerateContentResponse) []string {
	if resp == nil {
		return nil
	}
	var out []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" && !part.Thought {
				out = append(out, part.Text)
			}
		}
	}
	return out
}

type pipeBody struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (p *pipeBody) Close() error {
	p.cancel()
	return p.PipeReader.Close()
}
