package gemini

import (
	"context"
	"errors"
	"io"
	"iter"
	"testing"

	"google.golang.org/genai"

	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/model"
)

type fakeChunk struct {
	text string
	err  error
}

func fakeStream(t *testing.T, chunks []fakeChunk, seen *[]*genai.Content, seenConfig **genai.GenerateContentConfig) streamFunc {
	t.Helper()
	return func(ctx context.Context, modelName string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
		*seen = contents
		*seenConfig = config
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			for _, c := range chunks {
				if c.err != nil {
					yield(nil, c.err)
					return
				}
				resp := &genai.GenerateContentResponse{
					Candidates: []*genai.Candidate{{
						Content: &genai.Content{
							Role: string(genai.RoleModel),
							Parts: []*genai.Part{
								{Text: "thinking...", Thought: true},
								{Text: c.text},
							},
						},
					}},
				}
				if !yield(resp, nil) {
					return
				}
			}
		}
	}
}

func TestGenerateStreamsText(t *testing.T) {
	var contents []*genai.Content
	var config *genai.GenerateContentConfig
	b := newBridge(fakeStream(t, []fakeChunk{{text: "삼성"}, {text: "전자는 "}, {text: "좋은 기업이네."}}, &contents, &config), "", "You are Warren Buffett.")

	body, err := b.Generate(context.Background(), []domain.HistoryTurn{
		{Role: domain.HistoryRoleUser, Parts: "hi"},
		{Role: domain.HistoryRoleModel, Parts: ""},
		{Role: domain.HistoryRoleModel, Parts: "hello"},
		{Role: domain.HistoryRoleUser, Parts: "삼성전자 어때?"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if got, want := string(data), "삼성전자는 좋은 기업이네."; got != want {
		t.Errorf("body = %q, want %q", got, want)
	}

	if len(contents) != 3 {
		t.Fatalf("contents len = %d, want 3 (empty turn dropped)", len(contents))
	}
	if contents[1].Role != string(genai.RoleModel) {
		t.Errorf("contents[1].Role = %q, want model", contents[1].Role)
	}
	if config == nil || config.SystemInstruction == nil || config.SystemInstruction.Parts[0].Text != "You are Warren Buffett." {
		t.Errorf("system instruction not forwarded: %+v", config)
	}
	if b.modelName != DefaultModel {
		t.Errorf("modelName = %q, want %q", b.modelName, DefaultModel)
	}
}

func TestGenerateFirstResponseError(t *testing.T) {
	var contents []*genai.Content
	var config *genai.GenerateContentConfig
	b := newBridge(fakeStream(t, []fakeChunk{{err: errors.New("api key invalid")}}, &contents, &config), "m", "")

	_, err := b.Generate(context.Background(), []domain.HistoryTurn{{Role: domain.HistoryRoleUser, Parts: "hi"}})
	if !errors.Is(err, model.ErrUpstreamUnreachable) {
		t.Fatalf("error = %v, want ErrUpstreamUnreachable", err)
	}
}

func TestGenerateMidStreamError(t *testing.T) {
	var contents []*genai.Content
	var config *genai.GenerateContentConfig
	b := newBridge(fakeStream(t, []fakeChunk{{text: "partial"}, {err: errors.New("reset")}}, &contents, &config), "m", "")

	body, err := b.Generate(context.Background(), []domain.HistoryTurn{{Role: domain.HistoryRoleUser, Parts: "hi"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if string(data) != "partial" {
		t.Errorf("body = %q, want %q", data, "partial")
	}
	if !errors.Is(err, model.ErrUpstreamStream) {
		t.Errorf("read error = %v, want ErrUpstreamStream", err)
	}
}

func TestGenerateEmptyHistory(t *testing.T) {
	var contents []*genai.Content
	var config *genai.GenerateContentConfig
	b := newBridge(fakeStream(t, nil, &contents, &config), "m", "")

	if _, err := b.Generate(context.Background(), nil); !errors.Is(err, model.ErrUpstreamUnreachable) {
		t.Errorf("error = %v, want ErrUpstreamUnreachable", err)
	}
}
