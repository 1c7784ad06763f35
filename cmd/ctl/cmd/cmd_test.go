package cmd

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfielding/jpegcodec.go/pkg/compress/jpeg"
)

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	path := filepath.Join(dir, "in.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestCompressDecompressCommands(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 24, 16)
	jpg := filepath.Join(dir, "out.jpg")
	outPNG := filepath.Join(dir, "out.png")
	ctx := context.Background()

	root := NewRoot(ctx, "test")
	root.SetArgs([]string{"compress", "--log-level", "ERROR", "-i", in, "-o", jpg,
		"-q", "90", "--progressive", "--density-unit", "dpi", "--density-x", "96", "--density-y", "96",
		"--comment", "made by jpegctl"})
	require.NoError(t, root.Execute())

	data, err := os.ReadFile(jpg)
	require.NoError(t, err)
	report, err := analyze(data, 64)
	require.NoError(t, err)
	assert.Equal(t, 24, report.Width)
	assert.Equal(t, 16, report.Height)
	assert.True(t, report.Progressive)
	assert.Equal(t, 1, report.DensityUnit)
	assert.Equal(t, uint16(96), report.DensityX)
	names := []string{}
	for _, m := range report.Markers {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, "COM")

	root = NewRoot(ctx, "test")
	root.SetArgs([]string{"decompress", "--log-level", "ERROR", "-i", jpg, "-o", outPNG, "--scale", "1/2", "--block-smoothing=false"})
	require.NoError(t, root.Execute())

	f, err := os.Open(outPNG)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 8), img.Bounds())
}

func TestInfoText(t *testing.T) {
	dir := t.TempDir()
	jpg := filepath.Join(dir, "gray.jpg")
	src := jpeg.NewImageSource(image.NewGray(image.Rect(0, 0, 8, 8)))
	sess, err := jpeg.NewSession()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, sess.Compress(src, &buf))
	require.NoError(t, os.WriteFile(jpg, buf.Bytes(), 0o644))

	report, err := analyze(buf.Bytes(), 16)
	require.NoError(t, err)
	var out bytes.Buffer
	report.print(&out)
	assert.Contains(t, out.String(), "Size: 8x8")
	assert.Contains(t, out.String(), "JPEG colorspace: grayscale")
	assert.Contains(t, out.String(), "APP0")
}

func TestCompressionParamFlags(t *testing.T) {
	cmd := NewCompressCmd(context.Background())
	require.NoError(t, cmd.ParseFlags([]string{"--colorspace", "gray", "--dct", "float", "-q", "40", "--restart-rows", "2"}))
	p, err := compressionParams(cmd)
	require.NoError(t, err)
	cs, ok := p.Colorspace.Get()
	assert.True(t, ok)
	assert.Equal(t, jpeg.Grayscale, cs)
	assert.Equal(t, jpeg.DCTFloat, p.DCTMethod)
	assert.Equal(t, 40, p.Quality)
	assert.Equal(t, uint(2), p.RestartInRows)

	cmd = NewCompressCmd(context.Background())
	require.NoError(t, cmd.ParseFlags([]string{"-q", "140"}))
	_, err = compressionParams(cmd)
	assert.ErrorIs(t, err, jpeg.ErrArgument)
}

func TestDecompressionParamFlags(t *testing.T) {
	cmd := NewDecompressCmd(context.Background())
	require.NoError(t, cmd.ParseFlags([]string{"--scale", "3/8", "--quantize", "16", "--two-pass=false", "--dither", "ordered"}))
	p, err := decompressionParams(cmd)
	require.NoError(t, err)
	assert.Equal(t, 3, p.ScaleNumerator)
	assert.Equal(t, 8, p.ScaleDenominator)
	assert.True(t, p.QuantizeColors)
	assert.True(t, p.EnableOnePassQuantizer)
	assert.Equal(t, jpeg.DitherOrdered, p.DitherMode)

	cmd = NewDecompressCmd(context.Background())
	require.NoError(t, cmd.ParseFlags([]string{"--scale", "x/2"}))
	_, err = decompressionParams(cmd)
	assert.Error(t, err)
}
