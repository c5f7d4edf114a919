package inference

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

var tinyShape = Shape{Height: 2, Width: 2, Channels: 3}

const tinyClasses = 4

// tinyWeights returns a kernel that routes every input to class `hot`.
func tinyWeights(hot int) (kernel, bias []float32) {
	inputs := tinyShape.Size()
	kernel = make([]float32, inputs*tinyClasses)
	for i := 0; i < inputs; i++ {
		kernel[i*tinyClasses+hot] = 1
	}
	bias = make([]float32, tinyClasses)
	return kernel, bias
}

func float32Bytes(values ...[]float32) []byte {
	var buf bytes.Buffer
	for _, v := range values {
		for _, f := range v {
			_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(f))
		}
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const tinyManifest = `{
  "format": "linear",
  "inputShape": [1, 2, 2, 3],
  "classes": 4,
  "weightsManifest": [
    {"paths": ["shard1.bin", "shard2.bin"],
     "weights": [
       {"name": "dense/kernel", "shape": [12, 4], "dtype": "float32"},
       {"name": "dense/bias", "shape": [4], "dtype": "float32"}
     ]}
  ]
}`

// writeTinyArtifact writes a linear model whose kernel straddles two
// shards; the second shard is gzip-compressed.
func writeTinyArtifact(t *testing.T, hot int) string {
	t.Helper()
	dir := t.TempDir()
	kernel, bias := tinyWeights(hot)
	data := float32Bytes(kernel, bias)
	split := len(data) / 3

	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(tinyManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shard1.bin"), data[:split], 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shard2.bin.gz"), gzipBytes(t, data[split:]), 0o644))
	return dir
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngDataURL(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// headerOnlyPNG is a valid PNG signature and IHDR claiming w x h RGBA
// pixels, followed by an empty IDAT.
func headerOnlyPNG(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(typ string, data []byte) {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		crc := crc32.NewIEEE()
		buf.WriteString(typ)
		crc.Write([]byte(typ))
		buf.Write(data)
		crc.Write(data)
		_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA
	chunk("IHDR", ihdr)
	chunk("IDAT", nil)
	chunk("IEND", nil)
	return buf.Bytes()
}
