package jpeg

import (
	"bytes"
	"errors"
	"image"
	stdjpeg "image/jpeg"
	"io"
	"sort"

	"github.com/dlecorfec/progjpeg"
	"github.com/gen2brain/jpegli"
	"github.com/gen2brain/jpegn"
)

// encoderBackend codes a fully buffered frame into a complete JPEG stream.
// The compressor splices the result behind its own header segments.
type encoderBackend interface {
	encode(w io.Writer, img image.Image, c *compressor) error
	Name() string
}

// decoderBackend decodes a complete JPEG stream to an image.
type decoderBackend interface {
	decode(data []byte, d *decompressor) (image.Image, error)
	Name() string
}

// progjpegEncoder handles baseline and spectral-selection progressive streams.
type progjpegEncoder struct{}

func (progjpegEncoder) Name() string { return "progjpeg" }

func (progjpegEncoder) encode(w io.Writer, img image.Image, c *compressor) error {
	opts := &progjpeg.Options{Quality: c.quality}
	if c.progressive {
		opts.Progressive = true
		opts.ScanScript = make(progjpeg.ScanScript, 0, len(c.scanScript))
		for _, s := range c.scanScript {
			opts.ScanScript = append(opts.ScanScript, progjpeg.ProgressiveScan{
				Component:     s.component,
				SpectralStart: s.ss,
				SpectralEnd:   s.se,
			})
		}
	}
	return progjpeg.Encode(w, img, opts)
}

// jpegliEncoder handles Huffman-optimized streams and honours the DCT method.
type jpegliEncoder struct{}

func (jpegliEncoder) Name() string { return "jpegli" }

func (jpegliEncoder) encode(w io.Writer, img image.Image, c *compressor) error {
	opts := &jpegli.EncodingOptions{
		Quality:             c.quality,
		ChromaSubsampling:   image.YCbCrSubsampleRatio420,
		OptimizeCoding:      c.optimizeCoding,
		StandardQuantTables: true,
		DCTMethod:           jpegliDCT(c.dctMethod),
	}
	if c.progressive {
		opts.ProgressiveLevel = 2
	}
	return jpegli.Encode(w, img, opts)
}

// jpegnDecoder is the default pure Go decoder. It falls back to the standard
// library for progressive and CMYK streams.
type jpegnDecoder struct{}

func (jpegnDecoder) Name() string { return "jpegn" }

func (jpegnDecoder) decode(data []byte, d *decompressor) (image.Image, error) {
	opts := &jpegn.Options{UpsampleMethod: jpegn.NearestNeighbor}
	if d.fancyUpsampling {
		opts.UpsampleMethod = jpegn.CatmullRom
	}
	return jpegn.Decode(bytes.NewReader(data), opts)
}

// jpegliDecoder honours the DCT method, block smoothing and scaling.
type jpegliDecoder struct{}

func (jpegliDecoder) Name() string { return "jpegli" }

func (jpegliDecoder) decode(data []byte, d *decompressor) (image.Image, error) {
	opts := &jpegli.DecodingOptions{
		FancyUpsampling: d.fancyUpsampling,
		BlockSmoothing:  d.blockSmoothing,
		DCTMethod:       jpegliDCT(d.dctMethod),
	}
	if d.outputWidth != d.imageWidth || d.outputHeight != d.imageHeight {
		opts.ScaleTarget = image.Rect(0, 0, d.outputWidth, d.outputHeight)
	}
	return jpegli.DecodeWithOptions(bytes.NewReader(data), opts)
}

func jpegliDCT(m DCTMethod) jpegli.DCTMethod {
	switch m {
	case DCTFastInteger:
		return jpegli.DCTIFast
	case DCTFloat:
		return jpegli.DCTFloat
	}
	return jpegli.DCTISlow
}

var encodersByName = map[string]encoderBackend{
	"progjpeg": progjpegEncoder{},
	"jpegli":   jpegliEncoder{},
}

var decodersByName = map[string]decoderBackend{
	"jpegn":  jpegnDecoder{},
	"jpegli": jpegliDecoder{},
}

// EncoderNames lists the registered encoder backends.
func EncoderNames() []string { return sortedKeys(encodersByName) }

// DecoderNames lists the registered decoder backends.
func DecoderNames() []string { return sortedKeys(decodersByName) }

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// classifyDecodeError maps backend errors onto the engine error kinds.
func classifyDecodeError(err error) error {
	var fe stdjpeg.FormatError
	var ue stdjpeg.UnsupportedError
	switch {
	case errors.As(err, &ue), errors.Is(err, jpegn.ErrUnsupported):
		return engineErr("start_decompress", ErrUnsupported, "%v", err)
	case errors.As(err, &fe),
		errors.Is(err, jpegn.ErrSyntax),
		errors.Is(err, jpegn.ErrNoJPEG),
		errors.Is(err, jpegli.ErrDecode),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return engineErr("start_decompress", ErrInvalidData, "%v", err)
	}
	return &EngineError{Op: "start_decompress", Err: err}
}
