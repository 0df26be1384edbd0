package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"strings"

	_ "image/jpeg"

	"github.com/fogleman/gg"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	types "github.com/spriteforge/spriteforge-backend/internal/domain"
	"github.com/spriteforge/spriteforge-backend/internal/platform/envutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/gcp"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

const thumbMaxSide = 256

// MediaService owns every byte-level image concern: object-store round trips
// behind image_ref/thumb_ref values, thumbnail generation, rotation sheet
// slicing, and placeholder rendering for assets with no variant yet.
type MediaService interface {
	StoreVariantImage(ctx context.Context, variantID uuid.UUID, data []byte) (imageRef, thumbRef string, err error)
	FetchImage(ctx context.Context, imageRef string) ([]byte, error)
	SliceSheet(ctx context.Context, sheet []byte, layout types.SheetLayout) ([][]byte, error)
	RenderPlaceholder(label string, size int) ([]byte, error)
	PublicURL(ref string) string
}

type mediaService struct {
	log    *logger.Logger
	bucket gcp.BucketService

	fontPath string
}

func NewMediaService(baseLog *logger.Logger, bucket gcp.BucketService) MediaService {
	return &mediaService{
		log:      baseLog.With("service", "MediaService"),
		bucket:   bucket,
		fontPath: envutil.String("PLACEHOLDER_FONT", ""),
	}
}

// StoreVariantImage uploads the full image and a downscaled thumb under keys
// derived from the variant id. Refs are "<category>/<key>" strings.
func (s *mediaService) StoreVariantImage(ctx context.Context, variantID uuid.UUID, data []byte) (string, string, error) {
	if s.bucket == nil {
		return "", "", fmt.Errorf("bucket service not configured")
	}
	if variantID == uuid.Nil || len(data) == 0 {
		return "", "", fmt.Errorf("missing variant image")
	}

	key := fmt.Sprintf("variants/%s.png", variantID.String())
	if err := s.bucket.UploadObject(ctx, gcp.BucketCategoryImage, key, "image/png", bytes.NewReader(data)); err != nil {
		return "", "", fmt.Errorf("upload variant image: %w", err)
	}
	imageRef := joinRef(gcp.BucketCategoryImage, key)

	thumb, err := s.thumbnail(data)
	if err != nil {
		// A missing thumb degrades the client preview, not the variant.
		s.log.Warn("thumbnail generation failed", "variant_id", variantID, "error", err)
		return imageRef, "", nil
	}
	if err := s.bucket.UploadObject(ctx, gcp.BucketCategoryThumb, key, "image/png", bytes.NewReader(thumb)); err != nil {
		s.log.Warn("thumbnail upload failed", "variant_id", variantID, "error", err)
		return imageRef, "", nil
	}
	return imageRef, joinRef(gcp.BucketCategoryThumb, key), nil
}

func (s *mediaService) FetchImage(ctx context.Context, imageRef string) ([]byte, error) {
	if s.bucket == nil {
		return nil, fmt.Errorf("bucket service not configured")
	}
	category, key, err := splitRef(imageRef)
	if err != nil {
		return nil, err
	}
	rc, err := s.bucket.DownloadObject(ctx, category, key)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", imageRef, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// SliceSheet cuts a grid-layout sheet into row-major cells and re-encodes
// each as PNG. Cells are scaled to layout.CellSize when it is set and differs
// from the natural cell size.
func (s *mediaService) SliceSheet(ctx context.Context, sheet []byte, layout types.SheetLayout) ([][]byte, error) {
	if layout.Rows < 1 || layout.Cols < 1 {
		return nil, fmt.Errorf("invalid sheet layout %dx%d", layout.Rows, layout.Cols)
	}
	img, _, err := image.Decode(bytes.NewReader(sheet))
	if err != nil {
		return nil, fmt.Errorf("decode sheet: %w", err)
	}

	b := img.Bounds()
	cellW := b.Dx() / layout.Cols
	cellH := b.Dy() / layout.Rows
	if cellW < 1 || cellH < 1 {
		return nil, fmt.Errorf("sheet %dx%d too small for %dx%d grid", b.Dx(), b.Dy(), layout.Rows, layout.Cols)
	}

	out := make([][]byte, layout.Rows*layout.Cols)
	g, _ := errgroup.WithContext(ctx)
	for row := 0; row < layout.Rows; row++ {
		for col := 0; col < layout.Cols; col++ {
			idx := row*layout.Cols + col
			x0 := b.Min.X + col*cellW
			y0 := b.Min.Y + row*cellH
			g.Go(func() error {
				cell := image.NewRGBA(image.Rect(0, 0, cellW, cellH))
				draw.Draw(cell, cell.Bounds(), img, image.Point{X: x0, Y: y0}, draw.Src)

				final := image.Image(cell)
				if layout.CellSize > 0 && (cellW != layout.CellSize || cellH != layout.CellSize) {
					scaled := image.NewRGBA(image.Rect(0, 0, layout.CellSize, layout.CellSize))
					draw.CatmullRom.Scale(scaled, scaled.Bounds(), cell, cell.Bounds(), draw.Over, nil)
					final = scaled
				}

				var buf bytes.Buffer
				if err := png.Encode(&buf, final); err != nil {
					return fmt.Errorf("encode cell %d: %w", idx, err)
				}
				out[idx] = buf.Bytes()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// RenderPlaceholder draws the stand-in shown for an asset before its first
// variant completes: transparency checkerboard, tinted panel, and the asset's
// initials when a font is configured.
func (s *mediaService) RenderPlaceholder(label string, size int) ([]byte, error) {
	if size < 16 {
		size = thumbMaxSide
	}

	dc := gg.NewContext(size, size)

	check := size / 8
	if check < 4 {
		check = 4
	}
	light := color.NRGBA{R: 0x3A, G: 0x3F, B: 0x4A, A: 0xFF}
	dark := color.NRGBA{R: 0x2E, G: 0x33, B: 0x3D, A: 0xFF}
	for y := 0; y < size; y += check {
		for x := 0; x < size; x += check {
			if ((x/check)+(y/check))%2 == 0 {
				dc.SetColor(light)
			} else {
				dc.SetColor(dark)
			}
			dc.DrawRectangle(float64(x), float64(y), float64(check), float64(check))
			dc.Fill()
		}
	}

	inset := float64(size) * 0.18
	dc.SetRGBA(0.33, 0.42, 0.65, 0.85)
	dc.DrawRoundedRectangle(inset, inset, float64(size)-2*inset, float64(size)-2*inset, float64(size)*0.06)
	dc.Fill()

	if initials := computeInitials(label); initials != "" && s.fontPath != "" {
		if _, err := os.Stat(s.fontPath); err == nil {
			if err := dc.LoadFontFace(s.fontPath, float64(size)*0.28); err == nil {
				dc.SetRGB(1, 1, 1)
				dc.DrawStringAnchored(initials, float64(size)/2, float64(size)/2, 0.5, 0.5)
			}
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *mediaService) PublicURL(ref string) string {
	category, key, err := splitRef(ref)
	if err != nil || s.bucket == nil {
		return ""
	}
	return s.bucket.GetPublicURL(category, key)
}

// thumbnail downscales to fit thumbMaxSide, preserving aspect ratio. Images
// already small enough are re-encoded as-is.
func (s *mediaService) thumbnail(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("empty image")
	}

	tw, th := w, h
	if w > thumbMaxSide || h > thumbMaxSide {
		if w >= h {
			tw = thumbMaxSide
			th = h * thumbMaxSide / w
		} else {
			th = thumbMaxSide
			tw = w * thumbMaxSide / h
		}
		if tw < 1 {
			tw = 1
		}
		if th < 1 {
			th = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode thumb: %w", err)
	}
	return buf.Bytes(), nil
}

func joinRef(category gcp.BucketCategory, key string) string {
	return string(category) + "/" + key
}

func splitRef(ref string) (gcp.BucketCategory, string, error) {
	ref = strings.TrimSpace(ref)
	i := strings.IndexByte(ref, '/')
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("malformed ref %q", ref)
	}
	switch cat := gcp.BucketCategory(ref[:i]); cat {
	case gcp.BucketCategoryImage, gcp.BucketCategoryThumb:
		return cat, ref[i+1:], nil
	default:
		return "", "", fmt.Errorf("unknown ref category %q", ref[:i])
	}
}

func computeInitials(label string) string {
	fields := strings.Fields(strings.TrimSpace(label))
	switch len(fields) {
	case 0:
		return ""
	case 1:
		r := []rune(fields[0])
		if len(r) > 2 {
			r = r[:2]
		}
		return strings.ToUpper(string(r))
	default:
		first := []rune(fields[0])
		last := []rune(fields[len(fields)-1])
		return strings.ToUpper(string(first[0]) + string(last[0]))
	}
}
