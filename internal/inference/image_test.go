package inference

import (
	"encoding/base64"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	img := solidImage(3, 2, color.RGBA{R: 255, A: 255})
	url := pngDataURL(t, img)

	got, err := Decode(url)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), got.Bounds())

	// bare base64 and a lying declared type both decode by content
	bare := url[len("data:image/png;base64,"):]
	_, err = Decode(bare)
	assert.NoError(t, err)
	_, err = Decode("data:image/jpeg;base64," + bare)
	assert.NoError(t, err)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{name: "not base64", payload: "data:image/png;base64,!!!", wantErr: ErrInvalidPayload},
		{name: "not base64 encoded url", payload: "data:image/svg+xml,<svg/>", wantErr: ErrInvalidPayload},
		{name: "empty", payload: "", wantErr: ErrInvalidPayload},
		{name: "text content", payload: base64.StdEncoding.EncodeToString([]byte("hello world")), wantErr: ErrUnsupportedImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	huge := base64.StdEncoding.EncodeToString(headerOnlyPNG(30000, 30000))

	_, err := Decode("data:image/png;base64," + huge)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	// within budget the header passes and the missing pixels fail decoding
	small := base64.StdEncoding.EncodeToString(headerOnlyPNG(100, 100))
	_, err = Decode(small)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrImageTooLarge)
}

func TestPreprocessNearestNeighbour(t *testing.T) {
	// 4x4 image with distinct quadrants
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	quadrant := func(x, y int) color.RGBA {
		switch {
		case x < 2 && y < 2:
			return color.RGBA{R: 255, A: 255}
		case y < 2:
			return color.RGBA{G: 255, A: 255}
		case x < 2:
			return color.RGBA{B: 255, A: 255}
		default:
			return color.RGBA{A: 255}
		}
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, quadrant(x, y))
		}
	}

	got := Preprocess(img, Shape{Height: 2, Width: 2, Channels: 3}, Normalization{Scale: 1})
	assert.Equal(t, []float32{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 0, 0, 0,
	}, got)
}

func TestPreprocessSubImageUpscale(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 1))
	img.Set(2, 0, color.RGBA{R: 255, A: 255})
	img.Set(3, 0, color.RGBA{G: 255, A: 255})
	sub := img.SubImage(image.Rect(2, 0, 4, 1))

	got := Preprocess(sub, Shape{Height: 1, Width: 4, Channels: 3}, Normalization{Scale: 1})
	assert.Equal(t, []float32{
		255, 0, 0, 255, 0, 0,
		0, 255, 0, 0, 255, 0,
	}, got)
}

func TestPreprocessNormalization(t *testing.T) {
	white := solidImage(5, 5, color.White)
	black := solidImage(5, 5, color.Black)
	shape := Shape{Height: 3, Width: 3, Channels: 3}

	for _, v := range Preprocess(white, shape, MobileNet) {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
	for _, v := range Preprocess(black, shape, MobileNet) {
		assert.InDelta(t, -1.0, v, 1e-6)
	}

	gray := Preprocess(white, Shape{Height: 2, Width: 2, Channels: 1}, Normalization{Scale: 1})
	require.Len(t, gray, 4)
	assert.InDelta(t, 255, gray[0], 1e-3)
}
