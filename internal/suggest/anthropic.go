package suggest

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const maxSuggestionTokens = 1024

// AnthropicSummarizer generates answer suggestions with the Anthropic
// messages API.
type AnthropicSummarizer struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicSummarizer(apiKey, model string) *AnthropicSummarizer {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicSummarizer{
		client: &client,
		model:  model,
	}
}

func (s *AnthropicSummarizer) Summarize(ctx context.Context, question string, answers []string) (string, error) {
	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: maxSuggestionTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(question, answers))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic api call: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	suggestion := strings.TrimSpace(sb.String())
	if suggestion == "" {
		return "", fmt.Errorf("empty suggestion response")
	}

	return suggestion, nil
}

func buildPrompt(question string, answers []string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant that provides suggestions for answering questions in a forum.\n")
	fmt.Fprintf(&sb, "The user has asked: %q\n", question)

	if len(answers) > 0 {
		sb.WriteString("\nAnswers given so far:\n")
		for _, a := range answers {
			fmt.Fprintf(&sb, "- %s\n", a)
		}
	}

	sb.WriteString("\nProvide a helpful and concise suggestion for answering this question. ")
	sb.WriteString("Focus on the key points and be specific.")

	return sb.String()
}
