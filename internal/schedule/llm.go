package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const llmSystemPrompt = "You are an assistant that reads interview call transcripts. " +
	"Find the final agreed interview date and time, if any. " +
	"Respond with JSON containing exactly these fields: " +
	`"found" (boolean), "date" (string, MM-DD-YYYY) and "time" (string, HH:MM AM/PM). ` +
	"If no slot was agreed, set found to false and leave date and time empty."

// chatCompleter is the slice of the OpenAI client the extractor needs.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMExtractor asks a chat model for the agreed slot when regex extraction
// comes up empty. Used only when an API key is configured.
type LLMExtractor struct {
	client chatCompleter
	model  string
}

// NewLLMExtractor creates an extractor backed by the OpenAI chat API.
func NewLLMExtractor(apiKey, model string) *LLMExtractor {
	return &LLMExtractor{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

type llmSlot struct {
	Found bool   `json:"found"`
	Date  string `json:"date"`
	Time  string `json:"time"`
}

// Extract asks the model for the agreed slot in the transcript.
func (x *LLMExtractor) Extract(ctx context.Context, content string) (Slot, bool, error) {
	resp, err := x.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: x.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llmSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return Slot{}, false, fmt.Errorf("schedule: llm extraction: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Slot{}, false, fmt.Errorf("schedule: llm extraction: empty response")
	}

	var parsed llmSlot
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return Slot{}, false, fmt.Errorf("schedule: llm extraction: parse response: %w", err)
	}
	if !parsed.Found {
		return Slot{}, false, nil
	}

	date, err := time.ParseInLocation("01-02-2006", parsed.Date, time.Local)
	if err != nil {
		return Slot{}, false, fmt.Errorf("schedule: llm extraction: bad date %q: %w", parsed.Date, err)
	}
	clock, ok := parseClock(parsed.Time)
	if !ok {
		return Slot{}, false, fmt.Errorf("schedule: llm extraction: bad time %q", parsed.Time)
	}

	return Slot{
		Date:          date,
		FormattedDate: date.Format("02-01-2006"),
		FormattedTime: clock,
		RawDate:       parsed.Date,
		RawTime:       parsed.Time,
		Method:        "llm",
	}, true, nil
}
