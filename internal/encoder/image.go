package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
)

// grayPNG encodes a square matrix of [0,255] values as an 8-bit grayscale PNG.
func grayPNG(side int, pix []uint8) ([]byte, error) {
	if len(pix) != side*side {
		return nil, fmt.Errorf("pixel buffer has %d values, want %d", len(pix), side*side)
	}
	img := image.NewGray(image.Rect(0, 0, side, side))
	copy(img.Pix, pix)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// toPixel scales v from [0,1] to [0,255], rounding and saturating.
func toPixel(v float64) uint8 {
	p := math.Round(v * 255)
	switch {
	case p <= 0:
		return 0
	case p >= 255:
		return 255
	default:
		return uint8(p)
	}
}

// concatBytes joins the captured bytes of all packets, stopping at limit.
func concatBytes(packets [][]byte, limit int) []byte {
	out := make([]byte, limit)
	n := 0
	for _, data := range packets {
		if n >= limit {
			break
		}
		n += copy(out[n:], data)
	}
	return out
}
