// Package translator implements domain.Translator with cache-through
// semantics over domain.TranslationRepo, per spec §4.3.
package translator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"digestbot/internal/domain"
	"digestbot/internal/i18n"
	openai "digestbot/internal/infra/openai"
	"digestbot/internal/infra/metrics"
	"digestbot/internal/retry"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, purpose string, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Translator wraps the summarization backend's chat-completions endpoint
// for translation, caching results in a TranslationRepo.
type Translator struct {
	client       chatClient
	repo         domain.TranslationRepo
	model        string
	timeout      time.Duration
	baseLanguage string
}

// New creates a Translator. baseLanguage is compared against the requested
// language to short-circuit the base-language case.
func New(client chatClient, repo domain.TranslationRepo, model, baseLanguage string, timeout time.Duration) *Translator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Translator{client: client, repo: repo, model: model, timeout: timeout, baseLanguage: baseLanguage}
}

// Translate implements domain.Translator.
func (t *Translator) Translate(ctx context.Context, digest domain.Digest, language string) (string, error) {
	if language == t.baseLanguage {
		return digest.Content, nil
	}

	cached, ok, err := t.repo.GetTranslation(ctx, digest.ID, language)
	if err != nil {
		return "", err
	}
	if ok {
		metrics.ObserveTranslationCache(true)
		return cached.Content, nil
	}
	metrics.ObserveTranslationCache(false)

	lang, ok := i18n.Get().Get(language)
	if !ok {
		return "", domain.Wrap(domain.KindConfigInvalid, "Translator.Translate", fmt.Errorf("unsupported language %q", language))
	}

	content, err := t.callTranslate(ctx, digest.Content, lang.Name)
	if err != nil {
		return "", domain.Wrap(domain.KindSummarizeFailed, "Translator.Translate", err)
	}

	created, err := t.repo.CreateTranslation(ctx, domain.Translation{
		DigestID:  digest.ID,
		Language:  language,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return created.Content, nil
}

func (t *Translator) callTranslate(ctx context.Context, text, targetLanguageName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	systemPrompt := fmt.Sprintf(
		"Translate the following text to %s; preserve structure and bullet markers; do not add commentary.",
		targetLanguageName)

	req := openai.ChatCompletionRequest{
		Model:       t.model,
		Temperature: 0.3,
		MaxTokens:   1200,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: text},
		},
	}

	var resp openai.ChatCompletionResponse
	err := retry.Do(ctx, retry.Summarize(), isTransient, func(ctx context.Context) error {
		var callErr error
		resp, callErr = t.client.CreateChatCompletion(ctx, "translate", req)
		return callErr
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("translate: empty response")
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
