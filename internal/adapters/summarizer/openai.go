// Package summarizer implements domain.Summarizer against an external
// chat-completions endpoint.
package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"digestbot/internal/domain"
	openai "digestbot/internal/infra/openai"
	"digestbot/internal/retry"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, purpose string, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI реализует domain.Summarizer через Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

// NewOpenAI создаёт провайдер суммаризации.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

// Summarize implements domain.Summarizer per spec §4.2: group topics, use
// short bullet-style paragraphs, answer in baseLanguage, ~500 words.
func (s *OpenAI) Summarize(ctx context.Context, posts []domain.Post, baseLanguage string) (string, error) {
	if len(posts) == 0 {
		return "", domain.Wrap(domain.KindSummarizeFailed, "OpenAI.Summarize", fmt.Errorf("no posts to summarize"))
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var user strings.Builder
	for i, p := range posts {
		fmt.Fprintf(&user, "%d. @%s: %s\n", i+1, p.Author, p.Text)
	}

	systemPrompt := fmt.Sprintf(
		"You are a news digest editor. Group related posts by topic, write short bullet-style paragraphs, "+
			"keep the whole digest to approximately 500 words, and answer entirely in %s. Do not add commentary "+
			"about the instructions themselves.", baseLanguage)

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.7,
		MaxTokens:   1000,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: user.String()},
		},
	}

	var resp openai.ChatCompletionResponse
	err := retry.Do(ctx, retry.Summarize(), isTransient, func(ctx context.Context) error {
		var callErr error
		resp, callErr = s.client.CreateChatCompletion(ctx, "summarize", req)
		return callErr
	})
	if err != nil {
		return "", domain.Wrap(domain.KindSummarizeFailed, "OpenAI.Summarize", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.Wrap(domain.KindSummarizeFailed, "OpenAI.Summarize", fmt.Errorf("empty response"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func isTransient(err error) bool {
	se, ok := err.(*openai.StatusError)
	if !ok {
		return true
	}
	return se.StatusCode >= 500
}
