package ai

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
)

const maxTitleRunes = 60

// Titler names a new conversation from its first exchange.
type Titler interface {
	Title(ctx context.Context, userText, assistantText string) (string, error)
}

type OpenAITitler struct {
	client *openai.Client
	model  string
}

func NewOpenAITitler(apiKey, baseURL, model string) *OpenAITitler {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAITitler{client: openai.NewClientWithConfig(cfg), model: model}
}

func (t *OpenAITitler) Title(ctx context.Context, userText, assistantText string) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     t.model,
		MaxTokens: 16,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Write a short title (3-6 words) for this conversation in the user's language. Output only the title."},
			{Role: openai.ChatMessageRoleUser, Content: userText},
			{Role: openai.ChatMessageRoleAssistant, Content: assistantText},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("title: empty response")
	}
	title := CleanTitle(resp.Choices[0].Message.Content)
	if title == "" {
		return "", errors.New("title: blank title")
	}
	return title, nil
}

// CleanTitle strips quotes, trailing punctuation and newlines and caps
// the length.
func CleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "Title: ")
	s = strings.Trim(s, "\"'`“”‘’「」 ")
	s = strings.TrimRight(s, ".。!！ ")
	if utf8.RuneCountInString(s) > maxTitleRunes {
		r := []rune(s)
		s = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return s
}

// PlaceholderTitle is used when no titler is configured or it fails.
func PlaceholderTitle(now time.Time) string {
	return "Chat " + now.UTC().Format("2006-01-02 15:04")
}
