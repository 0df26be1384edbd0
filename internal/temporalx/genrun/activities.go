package genrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/spriteforge/spriteforge-backend/internal/clients/openai"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
	"github.com/spriteforge/spriteforge-backend/internal/tasks"
)

// MediaStore is the slice of the media service the activities need.
type MediaStore interface {
	FetchImage(ctx context.Context, imageRef string) ([]byte, error)
	StoreVariantImage(ctx context.Context, variantID uuid.UUID, data []byte) (imageRef, thumbRef string, err error)
}

type Activities struct {
	Log      *logger.Logger
	Provider openai.ImageProvider
	Media    MediaStore
	Sink     tasks.Callbacks
}

func (a *Activities) Generate(ctx context.Context, payload tasks.Payload) (GenerateResult, error) {
	var res GenerateResult
	if a == nil || a.Provider == nil || a.Media == nil {
		return res, temporal.NewNonRetryableApplicationError("genrun: activity not configured", "config", nil)
	}
	if payload.VariantID == uuid.Nil {
		return res, temporal.NewNonRetryableApplicationError("genrun: missing variant_id", "config", nil)
	}

	stop := startHeartbeat(ctx)
	defer stop()

	req := openai.ImageRequest{
		Prompt: payload.Prompt,
		Size:   payload.Size,
	}
	for _, ref := range payload.SourceImageRefs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		data, err := a.Media.FetchImage(ctx, ref)
		if err != nil {
			return res, fmt.Errorf("fetch reference %s: %w", ref, err)
		}
		req.SourceImages = append(req.SourceImages, data)
		req.SourceMimes = append(req.SourceMimes, "image/png")
	}

	out, err := a.Provider.Generate(ctx, req)
	if err != nil {
		return res, err
	}

	imageRef, thumbRef, err := a.Media.StoreVariantImage(ctx, payload.VariantID, out.Data)
	if err != nil {
		return res, fmt.Errorf("store variant image: %w", err)
	}

	res.ImageRef = imageRef
	res.ThumbRef = thumbRef
	return res, nil
}

func (a *Activities) Deliver(ctx context.Context, d Delivery) error {
	if a == nil || a.Sink == nil {
		return temporal.NewNonRetryableApplicationError("genrun: callback sink not configured", "config", nil)
	}
	switch d.Outcome {
	case "status":
		return a.Sink.OnStatus(ctx, d.Payload.WorkspaceID, d.Payload.VariantID, d.Status)
	case "complete":
		return a.Sink.OnComplete(ctx, d.Payload.WorkspaceID, d.Payload.VariantID, d.ImageRef, d.ThumbRef)
	case "fail":
		return a.Sink.OnFail(ctx, d.Payload.WorkspaceID, d.Payload.VariantID, d.ErrorMessage)
	default:
		return temporal.NewNonRetryableApplicationError(fmt.Sprintf("genrun: unknown outcome %q", d.Outcome), "config", nil)
	}
}

func startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
