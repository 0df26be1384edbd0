package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

// MaxReferenceImages is the provider-imposed cap on source images per
// request. Callers must trim their reference lists to this.
const MaxReferenceImages = 8

type ImageProvider interface {
	// Generate synthesizes one image. When SourceImages are present the
	// edits endpoint is used so the references condition the output.
	Generate(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

type ImageRequest struct {
	Prompt string
	// Size is "WxH", e.g. "1024x1024".
	Size string

	SourceImages [][]byte
	SourceMimes  []string
}

type ImageResult struct {
	Data []byte
	Mime string
}

type imageProvider struct {
	log    *logger.Logger
	client Client
}

func NewImageProvider(log *logger.Logger, c Client) (ImageProvider, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if c == nil {
		return nil, fmt.Errorf("openai client required")
	}
	return &imageProvider{log: log.With("service", "ImageProvider"), client: c}, nil
}

type imageAPIResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (p *imageProvider) Generate(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("missing prompt")
	}
	if len(req.SourceImages) > MaxReferenceImages {
		return nil, fmt.Errorf("too many reference images: %d > %d", len(req.SourceImages), MaxReferenceImages)
	}
	size := req.Size
	if size == "" {
		size = "1024x1024"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	var out imageAPIResponse
	if len(req.SourceImages) == 0 {
		body := map[string]any{
			"model":  p.client.ImageModel(),
			"prompt": prompt,
			"size":   size,
			"n":      1,
		}
		if err := p.client.PostJSON(ctx, "/images/generations", body, &out); err != nil {
			return nil, err
		}
	} else {
		contentType, body, err := buildEditsForm(p.client.ImageModel(), prompt, size, req.SourceImages, req.SourceMimes)
		if err != nil {
			return nil, err
		}
		if err := p.client.PostMultipart(ctx, "/images/edits", contentType, body, &out); err != nil {
			return nil, err
		}
	}

	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("empty image response")
	}
	data, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return &ImageResult{Data: data, Mime: "image/png"}, nil
}

func buildEditsForm(model, prompt, size string, images [][]byte, mimes []string) (string, *bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	_ = w.WriteField("model", model)
	_ = w.WriteField("prompt", prompt)
	_ = w.WriteField("size", size)
	_ = w.WriteField("n", "1")

	for i, img := range images {
		ext := "png"
		if i < len(mimes) && strings.Contains(mimes[i], "jpeg") {
			ext = "jpg"
		}
		fw, err := w.CreateFormFile("image[]", fmt.Sprintf("ref_%d.%s", i, ext))
		if err != nil {
			return "", nil, err
		}
		if _, err := fw.Write(img); err != nil {
			return "", nil, err
		}
	}
	if err := w.Close(); err != nil {
		return "", nil, err
	}
	return w.FormDataContentType(), buf, nil
}
