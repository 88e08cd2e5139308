package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // decoder registration
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageProcessor normalises downloaded images to PNG no larger than maxSize
// on either side.
type ImageProcessor struct {
	maxSize int
}

// NewImageProcessor returns a processor, or nil when maxSize is 0.
func NewImageProcessor(maxSize int) *ImageProcessor {
	if maxSize <= 0 {
		return nil
	}
	return &ImageProcessor{maxSize: maxSize}
}

// Process decodes data, scales it down with Catmull-Rom when needed and
// encodes the result as PNG.
func (p *ImageProcessor) Process(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), p.maxSize)
	if width != bounds.Dx() || height != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin scales width and height to fit a limit-by-limit box, keeping the aspect ratio.
func fitWithin(width, height, limit int) (int, int) {
	if width <= limit && height <= limit {
		return width, height
	}
	if width >= height {
		h := height * limit / width
		if h < 1 {
			h = 1
		}
		return limit, h
	}
	w := width * limit / height
	if w < 1 {
		w = 1
	}
	return w, limit
}
