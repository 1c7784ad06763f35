package jpeg

import (
	"bytes"
	"encoding/binary"
	"image"
	"io"
	"log/slog"
)

type engineState int

const (
	stateIdle engineState = iota
	stateConfigured
	stateScanning
	stateAborted
)

var stateNames = [...]string{"idle", "configured", "scanning", "aborted"}

func (s engineState) String() string { return stateNames[s] }

// scan is one entry of a progressive scan script. component -1 is an
// interleaved DC scan of every component.
type scan struct {
	component int
	ss, se    int
}

// compressor is the compression engine context. Its fields are filled in the
// order Session.Compress drives it: frame, defaults, density, parameters.
type compressor struct {
	log     *slog.Logger
	encoder string // forced backend, empty selects by parameters

	imageWidth      int
	imageHeight     int
	inputComponents int
	dataPrecision   int
	inColorspace    Colorspace

	jpegColorspace Colorspace
	numComponents  int
	writeJFIF      bool
	density        Density
	densitySet     bool

	optimizeCoding  bool
	restartInterval uint
	restartInRows   uint
	smoothingFactor int
	dctMethod       DCTMethod
	quality         int
	forceBaseline   bool
	quantTables     [2][64]uint16
	progressive     bool
	scanScript      []scan
	traceLevel      int
	markers         []Marker

	state        engineState
	dest         io.Writer
	backend      encoderBackend
	frame        image.Image
	nextScanline int
}

func newCompressor(log *slog.Logger) *compressor {
	return &compressor{log: log}
}

func (c *compressor) trace(level int, msg string, args ...any) {
	if c.traceLevel >= level {
		c.log.Debug(msg, args...)
	}
}

// reset returns the context to idle, keeping the logger and forced backend.
func (c *compressor) reset() {
	*c = compressor{log: c.log, encoder: c.encoder}
}

func (c *compressor) abort() {
	c.frame = nil
	c.dest = nil
	c.state = stateAborted
}

// setFrame copies the source geometry into the context.
func (c *compressor) setFrame(h SourceHeader) {
	c.imageWidth = h.Width
	c.imageHeight = h.Height
	c.inputComponents = h.ComponentsPerPixel
	c.dataPrecision = h.DataPrecision
	c.inColorspace = h.Colorspace
	c.state = stateConfigured
}

// densityStage is returned by setDefaults. Defaulting overwrites the density,
// so the caller's density can only be applied through this stage.
type densityStage struct {
	c *compressor
}

func (s densityStage) applyDensity(d Density) *compressor {
	s.c.density = d
	s.c.densitySet = true
	return s.c
}

// setDefaults fills every parameter with the defaults for the input colourspace.
func (c *compressor) setDefaults() densityStage {
	c.setColorspace(defaultJPEGColorspace(c.inColorspace))
	c.optimizeCoding = false
	c.restartInterval = 0
	c.restartInRows = 0
	c.smoothingFactor = 0
	c.dctMethod = DCTInteger
	c.progressive = false
	c.scanScript = nil
	c.markers = nil
	c.density = defaultDensity
	c.densitySet = false
	c.setQuality(DefaultQuality, true)
	return densityStage{c: c}
}

func defaultJPEGColorspace(in Colorspace) Colorspace {
	switch in {
	case Grayscale:
		return Grayscale
	case RGB, YCbCr:
		return YCbCr
	case CMYK:
		return CMYK
	case YCCK:
		return YCCK
	}
	return in
}

// setColorspace selects the colourspace written to the stream.
func (c *compressor) setColorspace(cs Colorspace) {
	c.jpegColorspace = cs
	c.numComponents = cs.Components()
	c.writeJFIF = cs == Grayscale || cs == YCbCr
}

// setQuality rebuilds the quantization tables for quality.
func (c *compressor) setQuality(quality int, forceBaseline bool) {
	scale := qualityScaling(quality)
	c.quality = min(max(quality, 1), 100)
	c.forceBaseline = forceBaseline
	c.quantTables[0] = scaleQuantTable(&stdLuminanceQuant, scale, forceBaseline)
	c.quantTables[1] = scaleQuantTable(&stdChrominanceQuant, scale, forceBaseline)
	c.trace(2, "quantization tables scaled", slog.Int("quality", c.quality), slog.Int("scale", scale), slog.Bool("baseline", forceBaseline))
}

// wideQuantTables reports whether a table needs 16-bit entries.
func (c *compressor) wideQuantTables() bool {
	for _, t := range c.quantTables {
		for _, q := range t {
			if q > 255 {
				return true
			}
		}
	}
	return false
}

// simpleProgression switches to progressive output with a spectral-selection
// script for the current stream colourspace.
func (c *compressor) simpleProgression() {
	c.progressive = true
	switch {
	case c.jpegColorspace == YCbCr && c.numComponents == 3:
		c.scanScript = []scan{
			{component: -1, ss: 0, se: 0},
			{component: 0, ss: 1, se: 5},
			{component: 2, ss: 1, se: 63},
			{component: 1, ss: 1, se: 63},
			{component: 0, ss: 6, se: 63},
		}
	case c.numComponents == 1:
		c.scanScript = []scan{
			{component: 0, ss: 0, se: 0},
			{component: 0, ss: 1, se: 5},
			{component: 0, ss: 6, se: 63},
		}
	default:
		c.scanScript = []scan{{component: -1, ss: 0, se: 0}}
		for i := 0; i < c.numComponents; i++ {
			c.scanScript = append(c.scanScript, scan{component: i, ss: 1, se: 63})
		}
	}
	c.trace(1, "progressive scan script", slog.Int("scans", len(c.scanScript)))
}

func (c *compressor) selectBackend() (encoderBackend, error) {
	name := c.encoder
	if name == "" {
		name = "progjpeg"
		if c.optimizeCoding {
			name = "jpegli"
		}
	}
	b, ok := encodersByName[name]
	if !ok {
		return nil, engineErr("start_compress", ErrUnsupported, "no encoder backend %q", name)
	}
	return b, nil
}

// newFrame allocates the buffer rows are converted into.
func (c *compressor) newFrame() (image.Image, error) {
	r := image.Rect(0, 0, c.imageWidth, c.imageHeight)
	switch {
	case c.jpegColorspace == Grayscale && (c.inColorspace == Grayscale || c.inColorspace == RGB || c.inColorspace == YCbCr):
		return image.NewGray(r), nil
	case c.jpegColorspace == YCbCr && c.inColorspace == YCbCr:
		return image.NewYCbCr(r, image.YCbCrSubsampleRatio444), nil
	case c.jpegColorspace == YCbCr && c.inColorspace == RGB:
		return image.NewRGBA(r), nil
	}
	return nil, engineErr("start_compress", ErrUnsupported, "color conversion %v to %v", c.inColorspace, c.jpegColorspace)
}

// restartMCUs resolves the restart interval in MCUs.
func (c *compressor) restartMCUs() uint {
	if c.restartInRows == 0 {
		return c.restartInterval
	}
	mcuWidth := 8
	if c.numComponents > 1 {
		mcuWidth = 16
	}
	perRow := uint((c.imageWidth + mcuWidth - 1) / mcuWidth)
	return min(c.restartInRows*perRow, 65535)
}

func (c *compressor) setDestination(w io.Writer) {
	c.dest = w
}

// startCompress validates the configuration and writes the stream header.
func (c *compressor) startCompress() error {
	if c.state != stateConfigured || !c.densitySet {
		return engineErr("start_compress", ErrInvalidData, "improper call in state %v", c.state)
	}
	if c.dataPrecision != 8 {
		return engineErr("start_compress", ErrUnsupported, "data precision %d", c.dataPrecision)
	}
	if c.imageWidth <= 0 || c.imageHeight <= 0 || c.imageWidth >= 1<<16 || c.imageHeight >= 1<<16 {
		return engineErr("start_compress", ErrInvalidData, "image dimensions %dx%d", c.imageWidth, c.imageHeight)
	}
	if c.inputComponents != c.inColorspace.Components() {
		return engineErr("start_compress", ErrInvalidData, "%d components for %v input", c.inputComponents, c.inColorspace)
	}
	frame, err := c.newFrame()
	if err != nil {
		return err
	}
	backend, err := c.selectBackend()
	if err != nil {
		return err
	}
	if ri := c.restartMCUs(); ri > 0 {
		c.trace(0, "restart markers are not emitted by the encoder backend", slog.Uint64("interval", uint64(ri)), slog.String("backend", backend.Name()))
	}
	if c.wideQuantTables() {
		c.trace(0, "16-bit quantization tables are not emitted by the encoder backend, baseline tables used",
			slog.Int("quality", c.quality), slog.String("backend", backend.Name()))
	}
	if c.optimizeCoding && backend.Name() != "jpegli" {
		c.trace(0, "huffman optimization unavailable, standard tables used", slog.String("backend", backend.Name()))
	}

	if err := writeMarker(c.dest, MarkerSOI); err != nil {
		return &EngineError{Op: "start_compress", Err: err}
	}
	if c.writeJFIF {
		if err := writeSegment(c.dest, MarkerAPP0, jfifPayload(c.density)); err != nil {
			return &EngineError{Op: "start_compress", Err: err}
		}
	}
	for _, m := range c.markers {
		if err := writeSegment(c.dest, m.Code, m.Data); err != nil {
			return &EngineError{Op: "write_marker", Err: err}
		}
	}

	c.frame = frame
	c.backend = backend
	c.nextScanline = 0
	c.state = stateScanning
	c.trace(1, "start compress",
		slog.Int("width", c.imageWidth),
		slog.Int("height", c.imageHeight),
		slog.String("in", c.inColorspace.String()),
		slog.String("jpeg", c.jpegColorspace.String()),
		slog.String("backend", backend.Name()))
	return nil
}

// writeScanline converts one input row into the frame buffer.
func (c *compressor) writeScanline(row []byte) error {
	if c.state != stateScanning {
		return engineErr("write_scanlines", ErrInvalidData, "improper call in state %v", c.state)
	}
	if c.nextScanline >= c.imageHeight {
		return engineErr("write_scanlines", ErrInvalidData, "too many scanlines")
	}
	want := c.imageWidth * c.inputComponents
	if len(row) < want {
		return engineErr("write_scanlines", ErrInvalidData, "row %d has %d bytes, want %d", c.nextScanline, len(row), want)
	}
	y := c.nextScanline
	switch f := c.frame.(type) {
	case *image.Gray:
		dst := f.Pix[y*f.Stride : y*f.Stride+c.imageWidth]
		switch c.inColorspace {
		case Grayscale:
			copy(dst, row)
		case YCbCr:
			for x := range dst {
				dst[x] = row[x*3]
			}
		case RGB:
			for x := range dst {
				r, g, b := uint32(row[x*3]), uint32(row[x*3+1]), uint32(row[x*3+2])
				dst[x] = uint8((19595*r + 38470*g + 7471*b + 1<<15) >> 16)
			}
		}
	case *image.RGBA:
		dst := f.Pix[y*f.Stride:]
		for x := 0; x < c.imageWidth; x++ {
			dst[x*4] = row[x*3]
			dst[x*4+1] = row[x*3+1]
			dst[x*4+2] = row[x*3+2]
			dst[x*4+3] = 0xFF
		}
	case *image.YCbCr:
		yo, co := y*f.YStride, y*f.CStride
		for x := 0; x < c.imageWidth; x++ {
			f.Y[yo+x] = row[x*3]
			f.Cb[co+x] = row[x*3+1]
			f.Cr[co+x] = row[x*3+2]
		}
	}
	c.nextScanline++
	return nil
}

// finishCompress codes the buffered frame and writes it behind the header.
func (c *compressor) finishCompress() error {
	if c.state != stateScanning {
		return engineErr("finish_compress", ErrInvalidData, "improper call in state %v", c.state)
	}
	if c.nextScanline < c.imageHeight {
		return engineErr("finish_compress", ErrInvalidData, "too few scanlines: %d of %d", c.nextScanline, c.imageHeight)
	}
	if c.smoothingFactor > 0 {
		smoothFrame(c.frame, c.smoothingFactor)
		c.trace(2, "input smoothing applied", slog.Int("factor", c.smoothingFactor))
	}
	var buf bytes.Buffer
	if err := c.backend.encode(&buf, c.frame, c); err != nil {
		return &EngineError{Op: "finish_compress", Err: err}
	}
	body, err := stripLeadingHeader(buf.Bytes())
	if err != nil {
		return &EngineError{Op: "finish_compress", Err: err}
	}
	if _, err := c.dest.Write(body); err != nil {
		return &EngineError{Op: "finish_compress", Err: err}
	}
	c.trace(1, "finish compress", slog.Int("bytes", len(body)))
	c.frame = nil
	c.dest = nil
	c.backend = nil
	c.state = stateIdle
	return nil
}

// stripLeadingHeader drops the backend's SOI and any APP0 segments directly
// after it; the compressor already wrote its own.
func stripLeadingHeader(b []byte) ([]byte, error) {
	if len(b) < 2 || b[0] != 0xFF || b[1] != MarkerSOI {
		return nil, engineErr("finish_compress", ErrInvalidData, "encoder output lacks SOI")
	}
	pos := 2
	for pos+4 <= len(b) && b[pos] == 0xFF && b[pos+1] == MarkerAPP0 {
		pos += 2 + int(binary.BigEndian.Uint16(b[pos+2:]))
	}
	if pos > len(b) {
		return nil, engineErr("finish_compress", ErrInvalidData, "truncated encoder output")
	}
	return b[pos:], nil
}
