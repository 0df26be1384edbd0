package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spriteforge/spriteforge-backend/internal/platform/envutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

// Client is the shared low-level OpenAI HTTP client. The image, vision and
// chat providers all go through it.
type Client interface {
	PostJSON(ctx context.Context, path string, body any, out any) error
	PostMultipart(ctx context.Context, path string, contentType string, body io.Reader, out any) error
	ImageModel() string
	VisionModel() string
	ChatModel() string
}

type client struct {
	log     *logger.Logger
	http    *http.Client
	baseURL string
	apiKey  string

	imageModel  string
	visionModel string
	chatModel   string
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := envutil.String("OPENAI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	return &client{
		log:         log.With("service", "OpenAIClient"),
		http:        &http.Client{Timeout: 180 * time.Second},
		baseURL:     strings.TrimRight(envutil.String("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
		apiKey:      apiKey,
		imageModel:  envutil.String("OPENAI_IMAGE_MODEL", "gpt-image-1"),
		visionModel: envutil.String("OPENAI_VISION_MODEL", "gpt-4o-mini"),
		chatModel:   envutil.String("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
	}, nil
}

func (c *client) ImageModel() string  { return c.imageModel }
func (c *client) VisionModel() string { return c.visionModel }
func (c *client) ChatModel() string   { return c.chatModel }

func (c *client) PostJSON(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) PostMultipart(ctx context.Context, path string, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("openai status %d: %s", resp.StatusCode, truncate(string(raw), 500))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode openai response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
