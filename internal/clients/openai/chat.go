package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

type Chat interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResult, error)
}

type ChatTurn struct {
	Role    string // "user" | "assistant" | "system"
	Content string
}

type ChatRequest struct {
	History []ChatTurn
	Context string
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResult struct {
	Text  string
	Usage Usage
}

type chat struct {
	log    *logger.Logger
	client Client
}

func NewChat(log *logger.Logger, c Client) (Chat, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if c == nil {
		return nil, fmt.Errorf("openai client required")
	}
	return &chat{log: log.With("service", "Chat"), client: c}, nil
}

type chatAPIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func (c *chat) Complete(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if len(req.History) == 0 {
		return nil, fmt.Errorf("empty chat history")
	}

	msgs := make([]map[string]any, 0, len(req.History)+1)
	system := "You are the studio assistant of a collaborative sprite workspace. Help users direct image generation, compare variants and plan multi-step asset work. Be concise."
	if extra := strings.TrimSpace(req.Context); extra != "" {
		system += "\n\nWorkspace context:\n" + extra
	}
	msgs = append(msgs, map[string]any{"role": "system", "content": system})
	for _, t := range req.History {
		role := t.Role
		if role != "assistant" && role != "system" {
			role = "user"
		}
		msgs = append(msgs, map[string]any{"role": role, "content": t.Content})
	}

	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	body := map[string]any{
		"model":    c.client.ChatModel(),
		"messages": msgs,
	}

	var out chatAPIResponse
	if err := c.client.PostJSON(ctx, "/chat/completions", body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("empty chat response")
	}
	return &ChatResult{
		Text:  strings.TrimSpace(out.Choices[0].Message.Content),
		Usage: out.Usage,
	}, nil
}
