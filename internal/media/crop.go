package media

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder

	xdraw "golang.org/x/image/draw"

	"jestbook/api/internal/lifecycle"
)

// maxCropWidth caps rendered crops so OCR input and browser previews stay a
// manageable size.
const maxCropWidth = 1600

// Decode reads the image and reports its pixel size.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Bounds reports the pixel dimensions without decoding the full image.
func Bounds(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Crop cuts the box out of the source scan and returns it PNG encoded,
// downscaled when wider than maxCropWidth.
func Crop(sourceData []byte, box lifecycle.Box) ([]byte, error) {
	if !box.Valid() {
		return nil, fmt.Errorf("invalid crop box")
	}
	src, err := Decode(sourceData)
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	if !box.Within(bounds.Dx(), bounds.Dy()) {
		return nil, fmt.Errorf("crop box %v exceeds source bounds %dx%d", box, bounds.Dx(), bounds.Dy())
	}

	rect := image.Rect(box.Left, box.Top, box.Right, box.Bottom).Add(bounds.Min)
	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	xdraw.Draw(cropped, cropped.Bounds(), src, rect.Min, xdraw.Src)

	out := Resample(cropped, maxCropWidth)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// Resample downscales the image to at most maxWidth pixels wide, preserving
// aspect ratio. Images already narrow enough are returned unchanged.
func Resample(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= maxWidth {
		return img
	}
	height := bounds.Dy() * maxWidth / bounds.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}
