package jpeg

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingSource serves rows from an image and records every call.
type recordingSource struct {
	ImageSource
	calls   []string
	nilAt   int // GetPixelRow returns nil at this row; -1 never
	rows    int
	out     *bytes.Buffer
	startAt int // out.Len() when Start was called
}

func newRecordingSource(img image.Image, out *bytes.Buffer) *recordingSource {
	return &recordingSource{ImageSource: *NewImageSource(img), nilAt: -1, out: out}
}

func (s *recordingSource) Header() SourceHeader {
	s.calls = append(s.calls, "header")
	return s.ImageSource.Header()
}

func (s *recordingSource) Start() error {
	s.calls = append(s.calls, "start")
	if s.out != nil {
		s.startAt = s.out.Len()
	}
	return s.ImageSource.Start()
}

func (s *recordingSource) GetPixelRow() ([]byte, error) {
	s.calls = append(s.calls, "row")
	if s.rows == s.nilAt {
		s.rows++
		return nil, nil
	}
	s.rows++
	return s.ImageSource.GetPixelRow()
}

func (s *recordingSource) Finish() error {
	s.calls = append(s.calls, "finish")
	return s.ImageSource.Finish()
}

// recordingSink keeps copies of the rows it is given.
type recordingSink struct {
	calls  []string
	params ImageParameters
	rows   [][]byte
}

func (s *recordingSink) SetImageParameters(p ImageParameters) error {
	s.calls = append(s.calls, "params")
	s.params = p
	return nil
}

func (s *recordingSink) Start() error {
	s.calls = append(s.calls, "start")
	return nil
}

func (s *recordingSink) ProcessPixelsRow(row []byte) error {
	s.calls = append(s.calls, "row")
	s.rows = append(s.rows, bytes.Clone(row))
	return nil
}

func (s *recordingSink) Finish() error {
	s.calls = append(s.calls, "finish")
	return nil
}

func count(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}

func gradientRGB(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: uint8((x + y) * 4),
				A: 0xFF,
			})
		}
	}
	return img
}

func gradientGray(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) * 8)})
		}
	}
	return img
}

func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	s, err := NewSession(opts...)
	require.NoError(t, err)
	return s
}

// encode compresses img with p and returns the stream.
func encode(t *testing.T, img image.Image, p CompressionParameters) []byte {
	t.Helper()
	s := newTestSession(t)
	require.NoError(t, s.SetCompressionParameters(p))
	var buf bytes.Buffer
	require.NoError(t, s.Compress(NewImageSource(img), &buf))
	return buf.Bytes()
}

// headerSegments lists the segments of b up to and including SOS.
func headerSegments(t *testing.T, b []byte) []Marker {
	t.Helper()
	require.GreaterOrEqual(t, len(b), 2)
	require.Equal(t, []byte{0xFF, MarkerSOI}, b[:2])
	var segs []Marker
	pos := 2
	for pos+4 <= len(b) {
		require.Equal(t, byte(0xFF), b[pos], "marker expected at %d", pos)
		code := b[pos+1]
		n := int(binary.BigEndian.Uint16(b[pos+2:]))
		segs = append(segs, Marker{Code: code, Data: b[pos+4 : pos+2+n]})
		if code == MarkerSOS {
			return segs
		}
		pos += 2 + n
	}
	t.Fatal("no SOS segment")
	return nil
}

func findSegment(segs []Marker, code byte) (Marker, bool) {
	for _, m := range segs {
		if m.Code == code {
			return m, true
		}
	}
	return Marker{}, false
}

// sofComponents returns the component count declared by the frame header.
func sofComponents(t *testing.T, b []byte) (code byte, comps int) {
	t.Helper()
	for _, m := range headerSegments(t, b) {
		if isSOF(m.Code) {
			return m.Code, int(m.Data[5])
		}
	}
	t.Fatal("no SOF segment")
	return 0, 0
}

// withSegment inserts a segment directly after SOI.
func withSegment(b []byte, code byte, payload []byte) []byte {
	var seg bytes.Buffer
	_ = writeSegment(&seg, code, payload)
	out := append([]byte{}, b[:2]...)
	out = append(out, seg.Bytes()...)
	return append(out, b[2:]...)
}

// noiseRGB fills an opaque image from a fixed LCG so every scan carries data.
func noiseRGB(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(1)
	for i := range img.Pix {
		seed = seed*1664525 + 1013904223
		img.Pix[i] = uint8(seed >> 24)
		if i%4 == 3 {
			img.Pix[i] = 0xFF
		}
	}
	return img
}

// firstScan returns the offset of the entropy data after the first SOS.
func firstScan(t *testing.T, b []byte) int {
	t.Helper()
	d := newDecompressor(newTestSession(t).log)
	require.NoError(t, d.readHeader(bytes.NewReader(b)))
	require.Positive(t, d.scanStart)
	return d.scanStart
}
