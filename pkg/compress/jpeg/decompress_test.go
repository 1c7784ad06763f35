package jpeg

import (
	"bytes"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecompressCallOrder(t *testing.T) {
	const w, h = 20, 12
	stream := encode(t, gradientRGB(w, h), NewCompressionParameters())

	s := newTestSession(t)
	sink := &recordingSink{}
	require.NoError(t, s.Decompress(bytes.NewReader(stream), sink))

	require.Len(t, sink.calls, h+3)
	assert.Equal(t, "params", sink.calls[0])
	assert.Equal(t, "start", sink.calls[1])
	assert.Equal(t, "finish", sink.calls[len(sink.calls)-1])
	assert.Equal(t, 1, count(sink.calls, "params"))
	assert.Equal(t, h, count(sink.calls, "row"))

	p := sink.params
	assert.Equal(t, w, p.Width)
	assert.Equal(t, h, p.Height)
	assert.Equal(t, RGB, p.Colorspace)
	assert.Equal(t, YCbCr, p.JPEGColorspace)
	assert.Equal(t, 3, p.Components)
	assert.Equal(t, 3, p.ComponentsPerSample)
	assert.False(t, p.QuantizeColors)
	for _, row := range sink.rows {
		assert.Len(t, row, w*3)
	}
}

func TestDecompressNilArguments(t *testing.T) {
	s := newTestSession(t)
	sink := &recordingSink{}
	assert.ErrorIs(t, s.Decompress(nil, sink), ErrArgument)
	assert.ErrorIs(t, s.Decompress(bytes.NewReader(nil), nil), ErrArgument)
	assert.Empty(t, sink.calls)
}

func TestRoundTripQuality100(t *testing.T) {
	const w, h = 40, 24
	img := gradientRGB(w, h)
	p := NewCompressionParameters()
	p.Quality = 100
	p.ForceBaseline = true
	stream := encode(t, img, p)

	s := newTestSession(t)
	sink := &ImageSink{}
	require.NoError(t, s.Decompress(bytes.NewReader(stream), sink))

	out := sink.Image()
	require.NotNil(t, out)
	assert.Equal(t, image.Rect(0, 0, w, h), out.Bounds())
	assert.Equal(t, 3, sink.Params.Components)

	var total float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r0, g0, b0, _ := img.At(x, y).RGBA()
			r1, g1, b1, _ := out.At(x, y).RGBA()
			total += math.Abs(float64(r0>>8)-float64(r1>>8)) +
				math.Abs(float64(g0>>8)-float64(g1>>8)) +
				math.Abs(float64(b0>>8)-float64(b1>>8))
		}
	}
	mean := total / float64(w*h*3)
	assert.Less(t, mean, 8.0, "mean absolute error %.2f", mean)
}

func TestDecompressGrayRoundTrip(t *testing.T) {
	stream := encode(t, gradientGray(16, 16), NewCompressionParameters())
	s := newTestSession(t)
	sink := &ImageSink{}
	require.NoError(t, s.Decompress(bytes.NewReader(stream), sink))
	assert.Equal(t, Grayscale, sink.Params.Colorspace)
	assert.Equal(t, 1, sink.Params.Components)
	_, ok := sink.Image().(*image.Gray)
	assert.True(t, ok)
}

func TestDecompressScale(t *testing.T) {
	stream := encode(t, gradientRGB(33, 17), NewCompressionParameters())

	s := newTestSession(t)
	p := NewDecompressionParameters()
	p.ScaleNumerator = 1
	p.ScaleDenominator = 2
	require.NoError(t, s.SetDecompressionParameters(p))

	sink := &recordingSink{}
	require.NoError(t, s.Decompress(bytes.NewReader(stream), sink))
	assert.Equal(t, 17, sink.params.Width)
	assert.Equal(t, 9, sink.params.Height)
	assert.Equal(t, 9, count(sink.calls, "row"))
	assert.Len(t, sink.rows[0], 17*3)
}

func TestDecompressOutColorspace(t *testing.T) {
	stream := encode(t, gradientRGB(16, 8), NewCompressionParameters())

	tests := []struct {
		name  string
		cs    ColorspaceSetting
		want  Colorspace
		comps int
		err   error
	}{
		{"inherit", ColorspaceSetting{}, RGB, 3, nil},
		{"grayscale", ExplicitColorspace(Grayscale), Grayscale, 1, nil},
		{"ycbcr", ExplicitColorspace(YCbCr), YCbCr, 3, nil},
		{"cmyk", ExplicitColorspace(CMYK), 0, 0, ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			p := NewDecompressionParameters()
			p.OutColorspace = tt.cs
			require.NoError(t, s.SetDecompressionParameters(p))

			sink := &recordingSink{}
			err := s.Decompress(bytes.NewReader(stream), sink)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Empty(t, sink.calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, sink.params.Colorspace)
			assert.Equal(t, tt.comps, sink.params.Components)
		})
	}
}

func TestDecompressQuantize(t *testing.T) {
	stream := encode(t, gradientRGB(32, 32), NewCompressionParameters())

	tests := []struct {
		name    string
		twoPass bool
		dither  DitherMode
		colors  int
		max     int
	}{
		{"one pass none", false, DitherNone, 16, 16},
		{"one pass ordered", false, DitherOrdered, 27, 27},
		{"one pass fs", false, DitherFloydSteinberg, 256, 252},
		{"two pass", true, DitherFloydSteinberg, 32, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			p := NewDecompressionParameters()
			p.QuantizeColors = true
			p.TwoPassQuantize = tt.twoPass
			p.DitherMode = tt.dither
			p.DesiredNumberOfColors = tt.colors
			require.NoError(t, s.SetDecompressionParameters(p))

			sink := &ImageSink{}
			require.NoError(t, s.Decompress(bytes.NewReader(stream), sink))
			params := sink.Params
			assert.True(t, params.QuantizeColors)
			assert.Equal(t, 1, params.Components)
			assert.Equal(t, 3, params.ComponentsPerSample)
			require.Len(t, params.Colormap, 3)
			assert.LessOrEqual(t, params.ActualNumberOfColors, tt.max)
			assert.Positive(t, params.ActualNumberOfColors)

			pal, ok := sink.Image().(*image.Paletted)
			require.True(t, ok)
			for _, idx := range pal.Pix {
				assert.Less(t, int(idx), params.ActualNumberOfColors)
			}
		})
	}
}

func TestDecompressExternalColormap(t *testing.T) {
	stream := encode(t, gradientGray(16, 16), NewCompressionParameters())
	s := newTestSession(t)
	p := NewDecompressionParameters()
	p.QuantizeColors = true
	p.EnableExternalQuant = true
	p.ExternalColormap = [][]byte{{0, 255}}
	require.NoError(t, s.SetDecompressionParameters(p))

	sink := &recordingSink{}
	require.NoError(t, s.Decompress(bytes.NewReader(stream), sink))
	assert.Equal(t, 2, sink.params.ActualNumberOfColors)
	for _, row := range sink.rows {
		for _, v := range row {
			assert.LessOrEqual(t, v, byte(1))
		}
	}
}

func TestDecompressMalformed(t *testing.T) {
	stream := encode(t, gradientRGB(16, 16), NewCompressionParameters())

	tests := []struct {
		name string
		data []byte
		kind error
	}{
		{"not jpeg", []byte("definitely not a jpeg"), ErrInvalidData},
		{"empty", nil, ErrInvalidData},
		{"truncated header", stream[:30], ErrInvalidData},
		{"lossless", craftedSOF(MarkerSOF3, 8), ErrUnsupported},
		{"12 bit", craftedSOF(MarkerSOF1, 12), ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			sink := &recordingSink{}
			err := s.Decompress(bytes.NewReader(tt.data), sink)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			var ee *EngineError
			assert.True(t, errors.As(err, &ee))
			assert.Empty(t, sink.calls)

			// a failed call leaves the session aborted
			assert.ErrorIs(t, s.Decompress(bytes.NewReader(stream), sink), ErrAborted)
			require.NoError(t, s.Reset())
			assert.NoError(t, s.Decompress(bytes.NewReader(stream), sink))
		})
	}
}

func TestDecompressCorruptScans(t *testing.T) {
	img := noiseRGB(128, 128)
	progressive := NewCompressionParameters()
	progressive.SimpleProgressive = true

	jpegliSession := newTestSession(t, WithEncoder("jpegli"))
	require.NoError(t, jpegliSession.SetCompressionParameters(progressive))
	var jpegliStream bytes.Buffer
	require.NoError(t, jpegliSession.Compress(NewImageSource(img), &jpegliStream))

	streams := map[string][]byte{
		"baseline":           encode(t, img, NewCompressionParameters()),
		"progressive":        encode(t, img, progressive),
		"jpegli progressive": jpegliStream.Bytes(),
	}
	damage := []struct {
		name  string
		apply func(b []byte, scan int) []byte
	}{
		{"cut after SOS", func(b []byte, scan int) []byte { return b[:scan+20] }},
		{"missing EOI", func(b []byte, _ int) []byte { return b[:len(b)-2] }},
		{"halfway", func(b []byte, scan int) []byte { return b[:scan+(len(b)-scan)/2] }},
		{"fill before stuffed zero", func(b []byte, scan int) []byte {
			for i := scan + 8; i < scan+24; i++ {
				b[i] = 0xFF
			}
			b[scan+24] = 0x00
			return b
		}},
		{"stray SOF in scan", func(b []byte, scan int) []byte {
			b[scan+16], b[scan+17] = 0xFF, MarkerSOF0
			return b
		}},
		{"RST without DRI", func(b []byte, scan int) []byte {
			b[scan+16], b[scan+17] = 0xFF, MarkerRST0
			return b
		}},
	}
	decoders := append([]string{""}, DecoderNames()...)

	for streamName, stream := range streams {
		scan := firstScan(t, stream)
		for _, dm := range damage {
			for _, dec := range decoders {
				name := dec
				if name == "" {
					name = "default"
				}
				t.Run(streamName+"/"+dm.name+"/"+name, func(t *testing.T) {
					data := dm.apply(bytes.Clone(stream), scan)
					var opts []Option
					if dec != "" {
						opts = append(opts, WithDecoder(dec))
					}
					s := newTestSession(t, opts...)
					sink := &recordingSink{}
					err := s.Decompress(bytes.NewReader(data), sink)
					require.Error(t, err)
					assert.ErrorIs(t, err, ErrInvalidData)
					var ee *EngineError
					require.True(t, errors.As(err, &ee))
					assert.Equal(t, "start_decompress", ee.Op)
					assert.Empty(t, sink.calls)
				})
			}
		}
	}
}

func TestCheckScans(t *testing.T) {
	tests := []struct {
		name    string
		restart int
		data    []byte
		ok      bool
	}{
		{"plain", 0, []byte{0x12, 0xFF, 0x00, 0x34, 0xFF, MarkerEOI}, true},
		{"restarts in order", 2, []byte{0x12, 0xFF, MarkerRST0, 0x34, 0xFF, MarkerRST0 + 1, 0x56, 0xFF, MarkerEOI}, true},
		{"restarts wrap", 1, []byte{
			0xFF, 0xD0, 0xFF, 0xD1, 0xFF, 0xD2, 0xFF, 0xD3, 0xFF, 0xD4, 0xFF, 0xD5, 0xFF, 0xD6, 0xFF, 0xD7,
			0xFF, 0xD0, 0xFF, MarkerEOI,
		}, true},
		{"fill before marker", 0, []byte{0x12, 0xFF, 0xFF, 0xFF, MarkerEOI}, true},
		{"second scan", 0, []byte{0x12, 0xFF, MarkerDHT, 0, 3, 0, 0xFF, MarkerSOS, 0, 2, 0x34, 0xFF, MarkerEOI}, true},
		{"DRI between scans", 0, []byte{0x12, 0xFF, MarkerDRI, 0, 4, 0, 1, 0xFF, MarkerSOS, 0, 2, 0xFF, MarkerRST0, 0xFF, MarkerEOI}, true},
		{"restart out of order", 2, []byte{0x12, 0xFF, MarkerRST0, 0xFF, MarkerRST0 + 2, 0xFF, MarkerEOI}, false},
		{"restart after new scan", 2, []byte{0xFF, MarkerRST0, 0xFF, MarkerSOS, 0, 2, 0xFF, MarkerRST0 + 1, 0xFF, MarkerEOI}, false},
		{"no EOI", 0, []byte{0x12, 0x34}, false},
		{"ends in fill", 0, []byte{0x12, 0xFF, 0xFF}, false},
		{"segment overruns", 0, []byte{0x12, 0xFF, MarkerDHT, 0, 40, 1}, false},
		{"frame marker", 0, []byte{0x12, 0xFF, MarkerSOF2, 0, 2, 0xFF, MarkerEOI}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDecompressor(newTestSession(t).log)
			d.data = tt.data
			d.restartInt = tt.restart
			err := d.checkScans()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidData)
			}
		})
	}
}

func TestDecompressBufferedImageNeedsEnabledPass(t *testing.T) {
	stream := encode(t, gradientRGB(16, 16), NewCompressionParameters())
	p := NewDecompressionParameters()
	p.BufferedImage = true
	p.QuantizeColors = true
	p.DesiredNumberOfColors = 64

	s := newTestSession(t)
	require.NoError(t, s.SetDecompressionParameters(p))
	sink := &recordingSink{}
	err := s.Decompress(bytes.NewReader(stream), sink)
	assert.ErrorIs(t, err, ErrInvalidData)
	assert.Contains(t, err.Error(), "one-pass quantizer not enabled")
	assert.Empty(t, sink.calls)

	require.NoError(t, s.Reset())
	p.TwoPassQuantize = true
	p.EnableOnePassQuantizer = true
	require.NoError(t, s.SetDecompressionParameters(p))
	err = s.Decompress(bytes.NewReader(stream), sink)
	assert.ErrorIs(t, err, ErrInvalidData)
	assert.Contains(t, err.Error(), "two-pass quantizer not enabled")

	require.NoError(t, s.Reset())
	p.EnableTwoPassQuantizer = true
	require.NoError(t, s.SetDecompressionParameters(p))
	sink = &recordingSink{}
	require.NoError(t, s.Decompress(bytes.NewReader(stream), sink))
	assert.Equal(t, 16, count(sink.calls, "row"))
	assert.LessOrEqual(t, sink.params.ActualNumberOfColors, 64)
}

// craftedSOF builds SOI, a 3-component frame header and an empty SOS.
func craftedSOF(code byte, precision byte) []byte {
	var b bytes.Buffer
	_ = writeMarker(&b, MarkerSOI)
	_ = writeSegment(&b, code, []byte{precision, 0, 8, 0, 8, 3, 1, 0x11, 0, 2, 0x11, 1, 3, 0x11, 1})
	_ = writeSegment(&b, MarkerSOS, []byte{1, 1, 0, 0, 63, 0})
	_ = writeMarker(&b, MarkerEOI)
	return b.Bytes()
}

func TestDecompressRawDataOutUnsupported(t *testing.T) {
	stream := encode(t, gradientRGB(8, 8), NewCompressionParameters())
	s := newTestSession(t)
	p := NewDecompressionParameters()
	p.RawDataOut = true
	require.NoError(t, s.SetDecompressionParameters(p))

	err := s.Decompress(bytes.NewReader(stream), &recordingSink{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestDecompressBackends(t *testing.T) {
	stream := encode(t, gradientRGB(24, 16), NewCompressionParameters())
	for _, name := range DecoderNames() {
		t.Run(name, func(t *testing.T) {
			s := newTestSession(t, WithDecoder(name))
			sink := &recordingSink{}
			require.NoError(t, s.Decompress(bytes.NewReader(stream), sink))
			assert.Equal(t, 24, sink.params.Width)
			assert.Equal(t, 16, count(sink.calls, "row"))
		})
	}
}

func TestDecompressSelectsBackend(t *testing.T) {
	tests := []struct {
		name        string
		dct         DCTMethod
		progressive bool
		smoothing   bool
		want        string
	}{
		{"default", DCTInteger, false, true, "jpegn"},
		{"float dct", DCTFloat, false, true, "jpegli"},
		{"progressive smoothing", DCTInteger, true, true, "jpegli"},
		{"progressive", DCTInteger, true, false, "jpegn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &decompressor{dctMethod: tt.dct, progressive: tt.progressive, blockSmoothing: tt.smoothing}
			b, err := d.selectBackend()
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Name())
		})
	}
}

func TestDeriveColorspace(t *testing.T) {
	tests := []struct {
		name      string
		comps     int
		jfif      bool
		adobe     bool
		transform int
		ids       []byte
		want      Colorspace
	}{
		{"gray", 1, false, false, 0, []byte{1}, Grayscale},
		{"jfif", 3, true, false, 0, []byte{1, 2, 3}, YCbCr},
		{"adobe rgb", 3, false, true, 0, []byte{1, 2, 3}, RGB},
		{"adobe ycc", 3, false, true, 1, []byte{1, 2, 3}, YCbCr},
		{"rgb ids", 3, false, false, 0, []byte("RGB"), RGB},
		{"plain", 3, false, false, 0, []byte{1, 2, 3}, YCbCr},
		{"cmyk", 4, false, true, 0, []byte{1, 2, 3, 4}, CMYK},
		{"ycck", 4, false, true, 2, []byte{1, 2, 3, 4}, YCCK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &decompressor{numComponents: tt.comps, sawJFIF: tt.jfif, sawAdobe: tt.adobe, adobeTransform: tt.transform, componentIDs: tt.ids}
			d.deriveColorspace()
			assert.Equal(t, tt.want, d.jpegColorspace)
		})
	}
}

func TestScanHeaderSkipsFill(t *testing.T) {
	stream := encode(t, gradientGray(8, 8), NewCompressionParameters())
	// fill bytes before a marker are legal
	padded := append([]byte{0xFF, MarkerSOI, 0xFF, 0xFF}, stream[2:]...)
	d := newDecompressor(newTestSession(t).log)
	require.NoError(t, d.readHeader(bytes.NewReader(padded)))
	assert.Equal(t, 8, d.imageWidth)
	assert.True(t, d.sawJFIF)
	assert.Equal(t, Grayscale, d.outColorspace)
}
