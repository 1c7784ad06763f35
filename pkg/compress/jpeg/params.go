package jpeg

import (
	"fmt"
)

// DefaultQuality matches the engine default quality.
const DefaultQuality = 75

// CompressionParameters configure Session.Compress. The zero value inherits
// the engine colourspace and encodes at quality 0 (clamped to 1); use
// NewCompressionParameters for engine defaults.
type CompressionParameters struct {
	// Colorspace of the encoded stream. Inherit derives it from the source.
	Colorspace ColorspaceSetting
	// OptimizeCoding computes optimal Huffman tables (selects the jpegli encoder).
	OptimizeCoding bool
	// RestartInterval in MCUs; RestartInRows overrides it when non-zero.
	RestartInterval uint
	RestartInRows   uint
	// SmoothingFactor 0-100 applies an input smoothing filter.
	SmoothingFactor int
	DCTMethod       DCTMethod
	// Quality 0-100.
	Quality       int
	ForceBaseline bool
	// SimpleProgressive emits a multi-scan progressive stream.
	SimpleProgressive bool
	// TraceLevel enables engine trace messages at debug level (higher is noisier).
	TraceLevel int
	// Markers are written verbatim after the JFIF header.
	Markers []Marker
}

// NewCompressionParameters returns the engine defaults.
func NewCompressionParameters() CompressionParameters {
	return CompressionParameters{
		DCTMethod: DCTInteger,
		Quality:   DefaultQuality,
	}
}

// Validate checks field ranges.
func (p CompressionParameters) Validate() error {
	if cs, ok := p.Colorspace.Get(); ok && cs.Components() == 0 {
		return fmt.Errorf("%w: colorspace %v", ErrArgument, cs)
	}
	if p.Quality < 0 || p.Quality > 100 {
		return fmt.Errorf("%w: quality %d not in 0-100", ErrArgument, p.Quality)
	}
	if p.SmoothingFactor < 0 || p.SmoothingFactor > 100 {
		return fmt.Errorf("%w: smoothing factor %d not in 0-100", ErrArgument, p.SmoothingFactor)
	}
	if p.RestartInterval > 65535 || p.RestartInRows > 65535 {
		return fmt.Errorf("%w: restart interval exceeds 65535", ErrArgument)
	}
	if p.DCTMethod < DCTInteger || p.DCTMethod > DCTFloat {
		return fmt.Errorf("%w: dct method %v", ErrArgument, p.DCTMethod)
	}
	for _, m := range p.Markers {
		if !writableMarker(m.Code) {
			return fmt.Errorf("%w: marker 0x%02X cannot be written", ErrArgument, m.Code)
		}
		if len(m.Data) > maxSegmentPayload {
			return fmt.Errorf("%w: marker 0x%02X payload %d bytes exceeds %d", ErrArgument, m.Code, len(m.Data), maxSegmentPayload)
		}
	}
	return nil
}

// DecompressionParameters configure Session.Decompress.
type DecompressionParameters struct {
	// OutColorspace of the rows handed to the sink. Inherit uses the engine default
	// for the stream (grayscale stays grayscale, YCbCr becomes RGB, YCCK becomes CMYK).
	OutColorspace    ColorspaceSetting
	ScaleNumerator   int
	ScaleDenominator int
	BufferedImage    bool
	RawDataOut       bool
	DCTMethod        DCTMethod
	DitherMode       DitherMode

	DoFancyUpsampling bool
	DoBlockSmoothing  bool

	QuantizeColors        bool
	TwoPassQuantize       bool
	DesiredNumberOfColors int

	EnableOnePassQuantizer bool
	EnableTwoPassQuantizer bool
	EnableExternalQuant    bool
	// ExternalColormap is component-major ([component][index]) and is used
	// when both QuantizeColors and EnableExternalQuant are set.
	ExternalColormap [][]byte

	TraceLevel int
}

// NewDecompressionParameters returns the engine defaults.
func NewDecompressionParameters() DecompressionParameters {
	return DecompressionParameters{
		ScaleNumerator:        1,
		ScaleDenominator:      1,
		DCTMethod:             DCTInteger,
		DitherMode:            DitherFloydSteinberg,
		DoFancyUpsampling:     true,
		DoBlockSmoothing:      true,
		TwoPassQuantize:       true,
		DesiredNumberOfColors: 256,
	}
}

// Validate checks field ranges.
func (p DecompressionParameters) Validate() error {
	if cs, ok := p.OutColorspace.Get(); ok && cs.Components() == 0 {
		return fmt.Errorf("%w: colorspace %v", ErrArgument, cs)
	}
	if p.ScaleNumerator <= 0 || p.ScaleDenominator <= 0 {
		return fmt.Errorf("%w: scale %d/%d must be positive", ErrArgument, p.ScaleNumerator, p.ScaleDenominator)
	}
	if p.DCTMethod < DCTInteger || p.DCTMethod > DCTFloat {
		return fmt.Errorf("%w: dct method %v", ErrArgument, p.DCTMethod)
	}
	if p.DitherMode < DitherNone || p.DitherMode > DitherFloydSteinberg {
		return fmt.Errorf("%w: dither mode %v", ErrArgument, p.DitherMode)
	}
	if p.DesiredNumberOfColors < 0 || p.DesiredNumberOfColors > 256 {
		return fmt.Errorf("%w: desired colors %d not in 0-256", ErrArgument, p.DesiredNumberOfColors)
	}
	if len(p.ExternalColormap) > 0 {
		n := len(p.ExternalColormap[0])
		if n == 0 || n > 256 {
			return fmt.Errorf("%w: external colormap has %d entries", ErrArgument, n)
		}
		for _, c := range p.ExternalColormap {
			if len(c) != n {
				return fmt.Errorf("%w: external colormap components differ in length", ErrArgument)
			}
		}
	}
	return nil
}

// applyCompression copies p into the compressor. The colourspace is skipped
// when p inherits; quality and progression run last since they recompute the
// quantization tables and the scan script from the fields copied before them.
func applyCompression(p CompressionParameters, c *compressor) {
	if cs, ok := p.Colorspace.Get(); ok {
		c.setColorspace(cs)
	}
	c.optimizeCoding = p.OptimizeCoding
	c.restartInterval = p.RestartInterval
	c.restartInRows = p.RestartInRows
	c.smoothingFactor = p.SmoothingFactor
	c.dctMethod = p.DCTMethod
	c.traceLevel = p.TraceLevel
	c.markers = p.Markers

	c.setQuality(p.Quality, p.ForceBaseline)
	if p.SimpleProgressive {
		c.simpleProgression()
	}
}

// applyDecompression copies p into the decompressor, skipping an inherited
// output colourspace.
func applyDecompression(p DecompressionParameters, d *decompressor) {
	if cs, ok := p.OutColorspace.Get(); ok {
		d.outColorspace = cs
	}
	d.scaleNum = p.ScaleNumerator
	d.scaleDenom = p.ScaleDenominator
	d.bufferedImage = p.BufferedImage
	d.rawDataOut = p.RawDataOut
	d.dctMethod = p.DCTMethod
	d.ditherMode = p.DitherMode
	d.fancyUpsampling = p.DoFancyUpsampling
	d.blockSmoothing = p.DoBlockSmoothing
	d.quantizeColors = p.QuantizeColors
	d.twoPassQuantize = p.TwoPassQuantize
	d.desiredColors = p.DesiredNumberOfColors
	d.enableOnePass = p.EnableOnePassQuantizer
	d.enableTwoPass = p.EnableTwoPassQuantizer
	d.enableExternal = p.EnableExternalQuant
	d.externalColormap = p.ExternalColormap
	d.traceLevel = p.TraceLevel
}
