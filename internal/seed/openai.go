package seed

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const summarizePrompt = "You condense earlier voice conversations into a short context note for a " +
	"conversation partner. Keep names, open questions and the user's interests. " +
	"Answer with at most five plain sentences."

// OpenAISummarizer condenses long transcripts with a chat completion.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

func NewOpenAISummarizer(apiKey, model string) *OpenAISummarizer {
	return NewOpenAISummarizerWithConfig(openai.DefaultConfig(apiKey), model)
}

// NewOpenAISummarizerWithConfig allows a custom base URL or HTTP client.
func NewOpenAISummarizerWithConfig(cfg openai.ClientConfig, model string) *OpenAISummarizer {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAISummarizer{client: openai.NewClientWithConfig(cfg), model: model}
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript string, topics []string) (string, error) {
	user := transcript
	if len(topics) > 0 {
		user = "Topics: " + strings.Join(topics, ", ") + "\n\n" + transcript
	}

	resp, err := s.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: summarizePrompt},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("summarizer returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
