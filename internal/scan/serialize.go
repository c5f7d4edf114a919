package scan

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
)

const (
	// DefaultRasterSize is used for a dimension the element does not report.
	DefaultRasterSize = 224
	// JPEGQuality is the encoder quality of serialized payloads.
	JPEGQuality = 80
	// maxRasterSide bounds the offscreen surface.
	maxRasterSide = 4096
)

// Serialize draws img over white into an offscreen RGBA raster of the given
// size, stretched to fill it, and returns it as a JPEG data URL.
func Serialize(img image.Image, size Size) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", ErrNoPixels
	}
	w, h := clampSide(size.Width), clampSide(size.Height)

	raster := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(raster, raster.Bounds(), image.White, image.Point{}, draw.Src)
	xdraw.NearestNeighbor.Scale(raster, raster.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, raster, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func clampSide(v int) int {
	switch {
	case v <= 0:
		return DefaultRasterSize
	case v > maxRasterSide:
		return maxRasterSide
	default:
		return v
	}
}
