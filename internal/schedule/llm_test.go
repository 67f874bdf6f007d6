package schedule

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

// mockCompleter implements chatCompleter for testing.
type mockCompleter struct {
	content string
	err     error
}

func (m *mockCompleter) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.content}},
		},
	}, nil
}

func TestLLMExtractor_Found(t *testing.T) {
	x := &LLMExtractor{
		client: &mockCompleter{content: `{"found": true, "date": "06-29-2025", "time": "4:30 PM"}`},
		model:  "gpt-4o-mini",
	}

	slot, ok, err := x.Extract(context.Background(), "transcript text")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a slot")
	}
	if slot.Method != "llm" {
		t.Errorf("Method = %q, want llm", slot.Method)
	}
	if slot.FormattedDate != "29-06-2025" || slot.FormattedTime != "16:30" {
		t.Errorf("slot = %+v", slot)
	}
}

func TestLLMExtractor_NotFound(t *testing.T) {
	x := &LLMExtractor{
		client: &mockCompleter{content: `{"found": false, "date": "", "time": ""}`},
		model:  "gpt-4o-mini",
	}

	_, ok, err := x.Extract(context.Background(), "no slot here")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected no slot")
	}
}

func TestLLMExtractor_APIError(t *testing.T) {
	x := &LLMExtractor{
		client: &mockCompleter{err: errors.New("rate limited")},
		model:  "gpt-4o-mini",
	}

	if _, _, err := x.Extract(context.Background(), "text"); err == nil {
		t.Error("expected error to propagate")
	}
}

func TestLLMExtractor_MalformedResponse(t *testing.T) {
	x := &LLMExtractor{
		client: &mockCompleter{content: `not json`},
		model:  "gpt-4o-mini",
	}

	if _, _, err := x.Extract(context.Background(), "text"); err == nil {
		t.Error("expected parse error")
	}
}
