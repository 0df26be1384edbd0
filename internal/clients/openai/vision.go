package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

type Vision interface {
	// Describe returns a textual description of one image, optionally guided
	// by extra context from the caller.
	Describe(ctx context.Context, req DescribeRequest) (string, error)
}

type DescribeRequest struct {
	ImageURL   string
	ImageBytes []byte
	ImageMime  string
	Context    string
}

type vision struct {
	log    *logger.Logger
	client Client
}

func NewVision(log *logger.Logger, c Client) (Vision, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if c == nil {
		return nil, fmt.Errorf("openai client required")
	}
	return &vision{log: log.With("service", "Vision"), client: c}, nil
}

func (v *vision) Describe(ctx context.Context, req DescribeRequest) (string, error) {
	imageURL := strings.TrimSpace(req.ImageURL)
	if imageURL == "" && len(req.ImageBytes) > 0 {
		mime := req.ImageMime
		if mime == "" {
			mime = "image/png"
		}
		imageURL = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.ImageBytes)
	}
	if imageURL == "" {
		return "", fmt.Errorf("missing image")
	}

	prompt := "Describe this sprite or game asset image: subject, style, palette, pose and notable details."
	if extra := strings.TrimSpace(req.Context); extra != "" {
		prompt += "\n\nContext: " + extra
	}

	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	body := map[string]any{
		"model": v.client.VisionModel(),
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
					{"type": "image_url", "image_url": map[string]any{"url": imageURL, "detail": "low"}},
				},
			},
		},
		"max_tokens": 400,
	}

	var out chatAPIResponse
	if err := v.client.PostJSON(ctx, "/chat/completions", body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty vision response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
