package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"jestbook/api/internal/lifecycle"
)

func testScan(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test scan: %v", err)
	}
	return buf.Bytes()
}

func TestCropProducesBoxSizedImage(t *testing.T) {
	scan := testScan(t, 400, 300)
	box := lifecycle.Box{Left: 50, Top: 40, Right: 250, Bottom: 140}

	data, err := Crop(scan, box)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode crop: %v", err)
	}
	if cfg.Width != 200 || cfg.Height != 100 {
		t.Fatalf("expected 200x100 crop, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestCropRejectsOutOfBoundsBox(t *testing.T) {
	scan := testScan(t, 100, 100)
	if _, err := Crop(scan, lifecycle.Box{Left: 10, Top: 10, Right: 200, Bottom: 50}); err == nil {
		t.Fatal("expected error for box outside source bounds")
	}
}

func TestCropRejectsMalformedBox(t *testing.T) {
	scan := testScan(t, 100, 100)
	if _, err := Crop(scan, lifecycle.Box{Left: 50, Top: 10, Right: 40, Bottom: 50}); err == nil {
		t.Fatal("expected error for inverted box")
	}
}

func TestResampleKeepsAspectRatio(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3200, 1600))
	out := Resample(img, 1600)
	if out.Bounds().Dx() != 1600 || out.Bounds().Dy() != 800 {
		t.Fatalf("expected 1600x800, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestResampleLeavesSmallImagesAlone(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	out := Resample(img, 1600)
	if out != image.Image(img) {
		t.Fatal("expected small image returned unchanged")
	}
}

func TestBounds(t *testing.T) {
	scan := testScan(t, 321, 123)
	w, h, err := Bounds(scan)
	if err != nil {
		t.Fatalf("Bounds failed: %v", err)
	}
	if w != 321 || h != 123 {
		t.Fatalf("expected 321x123, got %dx%d", w, h)
	}
}
