package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/google/uuid"

	"github.com/spriteforge/spriteforge-backend/internal/data/repos/testutil"
	types "github.com/spriteforge/spriteforge-backend/internal/domain"
)

func encodeGrid(t *testing.T, w, h int, rows, cols int, colors []color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	cellW, cellH := w/cols, h/rows
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := (y/cellH)*cols + (x / cellW)
			img.Set(x, y, colors[idx])
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode grid: %v", err)
	}
	return buf.Bytes()
}

func TestSliceSheetTwoByTwo(t *testing.T) {
	media := NewMediaService(testutil.Logger(t), newMemoryBucket())

	colors := []color.NRGBA{
		{R: 0xFF, A: 0xFF},
		{G: 0xFF, A: 0xFF},
		{B: 0xFF, A: 0xFF},
		{R: 0xFF, G: 0xFF, A: 0xFF},
	}
	sheet := encodeGrid(t, 1024, 1024, 2, 2, colors)

	cells, err := media.SliceSheet(context.Background(), sheet, types.SheetLayout{Rows: 2, Cols: 2, CellSize: 512})
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	if len(cells) != 4 {
		t.Fatalf("expected 4 cells, got %d", len(cells))
	}
	for i, cell := range cells {
		img, err := png.Decode(bytes.NewReader(cell))
		if err != nil {
			t.Fatalf("cell %d does not decode: %v", i, err)
		}
		b := img.Bounds()
		if b.Dx() != 512 || b.Dy() != 512 {
			t.Fatalf("cell %d should be 512x512, got %dx%d", i, b.Dx(), b.Dy())
		}
		r, g, bl, _ := img.At(256, 256).RGBA()
		want := colors[i]
		if uint8(r>>8) != want.R || uint8(g>>8) != want.G || uint8(bl>>8) != want.B {
			t.Fatalf("cell %d center color mismatch: got (%d,%d,%d), want %+v", i, r>>8, g>>8, bl>>8, want)
		}
	}
}

func TestSliceSheetScalesOddCells(t *testing.T) {
	media := NewMediaService(testutil.Logger(t), newMemoryBucket())

	colors := make([]color.NRGBA, 8)
	for i := range colors {
		colors[i] = color.NRGBA{R: uint8(i * 30), A: 0xFF}
	}
	sheet := encodeGrid(t, 800, 400, 2, 4, colors)

	cells, err := media.SliceSheet(context.Background(), sheet, types.SheetLayout{Rows: 2, Cols: 4, CellSize: 512})
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	if len(cells) != 8 {
		t.Fatalf("expected 8 cells, got %d", len(cells))
	}
	img, err := png.Decode(bytes.NewReader(cells[0]))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 512 || img.Bounds().Dy() != 512 {
		t.Fatalf("cells should be scaled to the layout size, got %v", img.Bounds())
	}
}

func TestSliceSheetRejectsBadInput(t *testing.T) {
	media := NewMediaService(testutil.Logger(t), newMemoryBucket())
	ctx := context.Background()

	if _, err := media.SliceSheet(ctx, []byte("not a png"), types.SheetLayout{Rows: 2, Cols: 2}); err == nil {
		t.Fatalf("garbage input should not slice")
	}
	sheet := encodeGrid(t, 64, 64, 2, 2, []color.NRGBA{{A: 0xFF}, {A: 0xFF}, {A: 0xFF}, {A: 0xFF}})
	if _, err := media.SliceSheet(ctx, sheet, types.SheetLayout{Rows: 0, Cols: 2}); err == nil {
		t.Fatalf("zero rows should be rejected")
	}
	if _, err := media.SliceSheet(ctx, sheet, types.SheetLayout{Rows: 2, Cols: 128}); err == nil {
		t.Fatalf("grid finer than the image should be rejected")
	}
}

func TestStoreVariantImageWritesImageAndThumb(t *testing.T) {
	bucket := newMemoryBucket()
	media := NewMediaService(testutil.Logger(t), bucket)

	img := image.NewNRGBA(image.Rect(0, 0, 1024, 1024))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}

	id := uuid.New()
	imageRef, thumbRef, err := media.StoreVariantImage(context.Background(), id, buf.Bytes())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if imageRef == "" || thumbRef == "" {
		t.Fatalf("refs missing: %q %q", imageRef, thumbRef)
	}

	full, err := media.FetchImage(context.Background(), imageRef)
	if err != nil {
		t.Fatalf("fetch full image: %v", err)
	}
	if !bytes.Equal(full, buf.Bytes()) {
		t.Fatalf("stored image does not round-trip")
	}

	thumbData, err := media.FetchImage(context.Background(), thumbRef)
	if err != nil {
		t.Fatalf("fetch thumb: %v", err)
	}
	thumb, err := png.Decode(bytes.NewReader(thumbData))
	if err != nil {
		t.Fatalf("thumb does not decode: %v", err)
	}
	if thumb.Bounds().Dx() > 256 || thumb.Bounds().Dy() > 256 {
		t.Fatalf("thumb exceeds 256px: %v", thumb.Bounds())
	}
}

func TestRenderPlaceholderDecodes(t *testing.T) {
	media := NewMediaService(testutil.Logger(t), newMemoryBucket())

	data, err := media.RenderPlaceholder("Hero Knight", 256)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("placeholder does not decode: %v", err)
	}
	if img.Bounds().Dx() != 256 || img.Bounds().Dy() != 256 {
		t.Fatalf("placeholder should match the requested size: %v", img.Bounds())
	}
}

func TestPublicURL(t *testing.T) {
	bucket := newMemoryBucket()
	media := NewMediaService(testutil.Logger(t), bucket)

	url := media.PublicURL("image/variants/x.png")
	if url != "https://example.test/image/variants/x.png" {
		t.Fatalf("unexpected public url %q", url)
	}
	if media.PublicURL("garbage") != "" {
		t.Fatalf("malformed ref should yield empty url")
	}
}
