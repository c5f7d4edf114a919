package inference

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	xdraw "golang.org/x/image/draw"
)

var (
	ErrInvalidPayload   = errors.New("invalid image payload")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrImageTooLarge    = errors.New("image exceeds pixel limit")
)

// MaxPixels bounds width*height of a payload. Headers are checked before
// the pixel buffer is allocated.
const MaxPixels = 40_000_000

var decodable = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// DecodePayload turns a data URL or bare base64 string into raw bytes.
func DecodePayload(payload string) ([]byte, error) {
	encoded := payload
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("%w: data URL must be base64", ErrInvalidPayload)
		}
		encoded = data
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	return raw, nil
}

// Decode sniffs the payload content type and decodes the image. The
// declared type of a data URL is not trusted.
func Decode(payload string) (image.Image, error) {
	raw, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	mt := mimetype.Detect(raw)
	if !decodable[mt.String()] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, mt.String())
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s header: %v", ErrInvalidPayload, mt.String(), err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mt.String(), err)
	}
	return img, nil
}

// Preprocess resamples img to shape with nearest-neighbour sampling and
// normalizes every channel value. The result is row-major HWC.
func Preprocess(img image.Image, shape Shape, norm Normalization) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, shape.Width, shape.Height))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make([]float32, 0, shape.Size())
	for i := 0; i+3 < len(dst.Pix); i += 4 {
		r, g, b := float64(dst.Pix[i]), float64(dst.Pix[i+1]), float64(dst.Pix[i+2])
		if shape.Channels == 1 {
			lum := 0.299*r + 0.587*g + 0.114*b
			out = append(out, float32(lum*norm.Scale+norm.Offset))
			continue
		}
		out = append(out,
			float32(r*norm.Scale+norm.Offset),
			float32(g*norm.Scale+norm.Offset),
			float32(b*norm.Scale+norm.Offset))
	}
	return out
}
