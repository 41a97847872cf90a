package assist

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const systemPrompt = `You are Zispr's writing assistant. You help users draft short
social posts. Posts are at most 280 characters, plain text, no hashtag spam.
Match the tone the user asks for; stay neutral when no tone is given.
Output only the suggested post text, nothing else.`

// Composer produces post and reply suggestions backed by Gemini. Models are
// tried in order; rate-limit and not-found errors fall through to the next.
type Composer struct {
	client *genai.Client
	models []string
}

func NewComposer(ctx context.Context, apiKey string) (*Composer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return &Composer{
		client: client,
		models: []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"},
	}, nil
}

// SuggestPost drafts a post about the given topic.
func (c *Composer) SuggestPost(ctx context.Context, topic, tone string) (string, error) {
	prompt := fmt.Sprintf("%s\n\nDraft a post about: %s", systemPrompt, topic)
	if tone != "" {
		prompt += fmt.Sprintf("\nTone: %s", tone)
	}
	return c.generateWithFallback(ctx, prompt)
}

// SuggestReply drafts a reply to an existing post.
func (c *Composer) SuggestReply(ctx context.Context, postContent, instruction string) (string, error) {
	prompt := fmt.Sprintf("%s\n\nDraft a reply to this post:\n%s", systemPrompt, postContent)
	if instruction != "" {
		prompt += fmt.Sprintf("\nGuidance from the user: %s", instruction)
	}
	return c.generateWithFallback(ctx, prompt)
}

func (c *Composer) generateWithFallback(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for _, model := range c.models {
		result, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
		if err != nil {
			errStr := strings.ToLower(err.Error())
			if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") ||
				strings.Contains(errStr, "exhausted") || strings.Contains(errStr, "not found") {
				lastErr = err
				continue
			}
			return "", err
		}
		if result != nil && len(result.Candidates) > 0 && len(result.Candidates[0].Content.Parts) > 0 {
			return clampPost(result.Candidates[0].Content.Parts[0].Text), nil
		}
	}
	return "", fmt.Errorf("all models unavailable: %v", lastErr)
}

// clampPost trims model output to the post length limit.
func clampPost(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, `"`)
	runes := []rune(text)
	if len(runes) > 280 {
		return string(runes[:280])
	}
	return text
}
