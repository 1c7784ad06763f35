package jpeg

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
)

// markerHook lets the session process a marker segment. handled reports that
// a processor consumed it; ok is the processor's verdict.
type markerHook func(m Marker) (handled, ok bool)

// decompressor is the decompression engine context.
type decompressor struct {
	log     *slog.Logger
	decoder string // forced backend, empty selects by parameters

	hook       markerHook
	saveLimits map[byte]int

	data []byte

	imageWidth     int
	imageHeight    int
	numComponents  int
	dataPrecision  int
	componentIDs   []byte
	progressive    bool
	jpegColorspace Colorspace
	sawJFIF        bool
	density        Density
	sawAdobe       bool
	adobeTransform int
	restartInt     int
	scanStart      int
	saved          []Marker

	outColorspace    Colorspace
	scaleNum         int
	scaleDenom       int
	bufferedImage    bool
	rawDataOut       bool
	dctMethod        DCTMethod
	ditherMode       DitherMode
	fancyUpsampling  bool
	blockSmoothing   bool
	quantizeColors   bool
	twoPassQuantize  bool
	desiredColors    int
	enableOnePass    bool
	enableTwoPass    bool
	enableExternal   bool
	externalColormap [][]byte
	traceLevel       int

	outputWidth        int
	outputHeight       int
	outColorComponents int
	outputComponents   int
	actualColors       int
	colormap           [][]byte

	state          engineState
	headerRead     bool
	pixels         []byte
	rowBuf         []byte
	outputScanline int
}

func newDecompressor(log *slog.Logger) *decompressor {
	return &decompressor{log: log}
}

func (d *decompressor) trace(level int, msg string, args ...any) {
	if d.traceLevel >= level {
		d.log.Debug(msg, args...)
	}
}

func (d *decompressor) reset() {
	*d = decompressor{log: d.log, decoder: d.decoder}
}

func (d *decompressor) abort() {
	d.data = nil
	d.pixels = nil
	d.rowBuf = nil
	d.colormap = nil
	d.saved = nil
	d.state = stateAborted
}

// readHeader consumes the stream and scans the markers up to the first SOS.
func (d *decompressor) readHeader(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &EngineError{Op: "read_header", Err: err}
	}
	d.data = data
	d.density = defaultDensity
	if err := d.scanHeader(); err != nil {
		return err
	}
	d.deriveColorspace()
	d.setDefaultOutput()
	d.headerRead = true
	d.state = stateConfigured
	d.trace(1, "header read",
		slog.Int("width", d.imageWidth),
		slog.Int("height", d.imageHeight),
		slog.Int("components", d.numComponents),
		slog.String("jpeg", d.jpegColorspace.String()),
		slog.Bool("progressive", d.progressive))
	return nil
}

func (d *decompressor) scanHeader() error {
	b := d.data
	if len(b) < 2 || b[0] != 0xFF || b[1] != MarkerSOI {
		return engineErr("read_header", ErrInvalidData, "not a JPEG file: missing SOI")
	}
	pos := 2
	sawSOF := false
	for {
		skipped := 0
		for pos < len(b) && b[pos] != 0xFF {
			pos++
			skipped++
		}
		if skipped > 0 {
			d.trace(0, "corrupt JPEG data: extraneous bytes before marker", slog.Int("bytes", skipped))
		}
		for pos < len(b) && b[pos] == 0xFF {
			pos++
		}
		if pos >= len(b) {
			return engineErr("read_header", ErrInvalidData, "premature end of data before SOS")
		}
		code := b[pos]
		pos++

		if standalone(code) {
			switch code {
			case MarkerSOI:
				return engineErr("read_header", ErrInvalidData, "duplicate SOI")
			case MarkerEOI:
				return engineErr("read_header", ErrInvalidData, "no image: EOI before SOS")
			}
			continue
		}
		if pos+2 > len(b) {
			return engineErr("read_header", ErrInvalidData, "truncated marker 0x%02X", code)
		}
		length := int(binary.BigEndian.Uint16(b[pos:]))
		if length < 2 || pos+length > len(b) {
			return engineErr("read_header", ErrInvalidData, "bad length %d for marker 0x%02X", length, code)
		}
		payload := b[pos+2 : pos+length]
		pos += length
		d.trace(3, "marker", slog.String("code", MarkerName(code)), slog.Int("length", length))

		switch {
		case isSOF(code):
			if sawSOF {
				return engineErr("read_header", ErrInvalidData, "duplicate SOF")
			}
			if err := d.readSOF(code, payload); err != nil {
				return err
			}
			sawSOF = true
		case code == MarkerSOS:
			if !sawSOF {
				return engineErr("read_header", ErrInvalidData, "SOS before SOF")
			}
			d.scanStart = pos
			return nil
		case code == MarkerDRI:
			if len(payload) < 2 {
				return engineErr("read_header", ErrInvalidData, "bad DRI length")
			}
			d.restartInt = int(binary.BigEndian.Uint16(payload))
		case overridableMarker(int(code)):
			if err := d.processMarker(Marker{Code: code, Data: payload}); err != nil {
				return err
			}
		}
	}
}

func (d *decompressor) readSOF(code byte, p []byte) error {
	switch code {
	case MarkerSOF0, MarkerSOF1:
	case MarkerSOF2:
		d.progressive = true
	default:
		return engineErr("read_header", ErrUnsupported, "SOF type %s", MarkerName(code))
	}
	if len(p) < 6 {
		return engineErr("read_header", ErrInvalidData, "bad SOF length")
	}
	d.dataPrecision = int(p[0])
	d.imageHeight = int(binary.BigEndian.Uint16(p[1:]))
	d.imageWidth = int(binary.BigEndian.Uint16(p[3:]))
	d.numComponents = int(p[5])
	if len(p) != 6+3*d.numComponents {
		return engineErr("read_header", ErrInvalidData, "bad SOF length for %d components", d.numComponents)
	}
	if d.imageWidth == 0 || d.imageHeight == 0 {
		return engineErr("read_header", ErrInvalidData, "empty image")
	}
	if d.dataPrecision != 8 {
		return engineErr("read_header", ErrUnsupported, "data precision %d", d.dataPrecision)
	}
	switch d.numComponents {
	case 1, 3, 4:
	default:
		return engineErr("read_header", ErrUnsupported, "%d components", d.numComponents)
	}
	d.componentIDs = make([]byte, d.numComponents)
	for i := range d.componentIDs {
		d.componentIDs[i] = p[6+3*i]
	}
	return nil
}

// processMarker runs a registered processor, saves the segment when asked to,
// and otherwise applies the native JFIF/Adobe handling.
func (d *decompressor) processMarker(m Marker) error {
	if d.hook != nil {
		handled, ok := d.hook(m)
		if handled {
			if !ok {
				return engineErr("read_header", ErrInvalidData, "marker %s rejected by processor", MarkerName(m.Code))
			}
			return nil
		}
	}
	if limit, ok := d.saveLimits[m.Code]; ok {
		data := m.Data
		if limit >= 0 && len(data) > limit {
			data = data[:limit]
		}
		d.saved = append(d.saved, Marker{Code: m.Code, Data: bytes.Clone(data)})
	}
	switch m.Code {
	case MarkerAPP0:
		if len(m.Data) >= 12 && bytes.HasPrefix(m.Data, []byte("JFIF\x00")) {
			d.sawJFIF = true
			d.density = Density{
				Unit: DensityUnit(m.Data[7]),
				X:    binary.BigEndian.Uint16(m.Data[8:]),
				Y:    binary.BigEndian.Uint16(m.Data[10:]),
			}
			d.trace(1, "JFIF APP0", slog.Int("major", int(m.Data[5])), slog.Int("minor", int(m.Data[6])),
				slog.Int("unit", int(d.density.Unit)), slog.Int("x", int(d.density.X)), slog.Int("y", int(d.density.Y)))
		}
	case MarkerAPP14:
		if len(m.Data) >= 12 && bytes.HasPrefix(m.Data, []byte("Adobe")) {
			d.sawAdobe = true
			d.adobeTransform = int(m.Data[11])
			d.trace(1, "Adobe APP14", slog.Int("transform", d.adobeTransform))
		}
	}
	return nil
}

// deriveColorspace guesses the stream colourspace from the component count
// and the JFIF/Adobe markers.
func (d *decompressor) deriveColorspace() {
	switch d.numComponents {
	case 1:
		d.jpegColorspace = Grayscale
	case 3:
		switch {
		case d.sawJFIF:
			d.jpegColorspace = YCbCr
		case d.sawAdobe && d.adobeTransform == 0:
			d.jpegColorspace = RGB
		case d.sawAdobe:
			d.jpegColorspace = YCbCr
		case bytes.Equal(d.componentIDs, []byte("RGB")):
			d.jpegColorspace = RGB
		default:
			d.jpegColorspace = YCbCr
		}
	case 4:
		if d.sawAdobe && d.adobeTransform == 2 {
			d.jpegColorspace = YCCK
		} else {
			d.jpegColorspace = CMYK
		}
	}
}

// setDefaultOutput fills the output parameters with the engine defaults.
func (d *decompressor) setDefaultOutput() {
	switch d.jpegColorspace {
	case Grayscale:
		d.outColorspace = Grayscale
	case YCbCr, RGB:
		d.outColorspace = RGB
	default:
		d.outColorspace = CMYK
	}
	p := NewDecompressionParameters()
	p.OutColorspace = ExplicitColorspace(d.outColorspace)
	p.TraceLevel = d.traceLevel
	applyDecompression(p, d)
}

// calcOutputDimensions resolves the output geometry from the scale and
// colour parameters.
func (d *decompressor) calcOutputDimensions() error {
	if !d.headerRead {
		return engineErr("calc_output_dimensions", ErrInvalidData, "improper call in state %v", d.state)
	}
	if !supportedConversion(d.jpegColorspace, d.outColorspace) {
		return engineErr("calc_output_dimensions", ErrUnsupported, "color conversion %v to %v", d.jpegColorspace, d.outColorspace)
	}
	d.outputWidth = (d.imageWidth*d.scaleNum + d.scaleDenom - 1) / d.scaleDenom
	d.outputHeight = (d.imageHeight*d.scaleNum + d.scaleDenom - 1) / d.scaleDenom
	d.outColorComponents = d.outColorspace.Components()
	d.outputComponents = d.outColorComponents
	if d.quantizeColors {
		d.outputComponents = 1
	}
	d.trace(1, "output dimensions",
		slog.Int("width", d.outputWidth),
		slog.Int("height", d.outputHeight),
		slog.Int("components", d.outputComponents))
	return nil
}

func (d *decompressor) selectBackend() (decoderBackend, error) {
	name := d.decoder
	if name == "" {
		name = "jpegn"
		if d.dctMethod != DCTInteger || (d.progressive && d.blockSmoothing) {
			name = "jpegli"
		}
	}
	b, ok := decodersByName[name]
	if !ok {
		return nil, engineErr("start_decompress", ErrUnsupported, "no decoder backend %q", name)
	}
	return b, nil
}

// startDecompress decodes the frame and prepares output scanlines.
func (d *decompressor) startDecompress() error {
	if d.state != stateConfigured || d.outputWidth == 0 {
		return engineErr("start_decompress", ErrInvalidData, "improper call in state %v", d.state)
	}
	if d.rawDataOut {
		return engineErr("start_decompress", ErrUnsupported, "raw data output cannot be read as scanlines")
	}
	if d.bufferedImage {
		d.trace(1, "buffered-image mode delivers the final pass")
	}
	quant, err := d.prepareQuantizer()
	if err != nil {
		return err
	}
	if err := d.checkScans(); err != nil {
		return err
	}
	backend, err := d.selectBackend()
	if err != nil {
		return err
	}
	img, err := backend.decode(d.data, d)
	if err != nil {
		return classifyDecodeError(err)
	}
	if b := img.Bounds(); b.Dx() != d.outputWidth || b.Dy() != d.outputHeight {
		d.trace(2, "scaling decoded frame", slog.Int("from_width", b.Dx()), slog.Int("from_height", b.Dy()))
		img = scaleImage(img, d.outColorspace, d.outputWidth, d.outputHeight)
	}
	pix := interleave(img, d.outColorspace)

	if d.quantizeColors {
		if quant == nil {
			d.colormap = popularityColormap(pix, d.desiredColors)
			quant = newQuantizer(d.colormap, d.ditherMode)
		}
		d.actualColors = len(d.colormap[0])
		pix = quant.apply(pix, d.outputWidth, d.outputHeight)
	}

	d.pixels = pix
	d.rowBuf = make([]byte, d.outputWidth*d.outputComponents)
	d.outputScanline = 0
	d.state = stateScanning
	d.trace(1, "start decompress", slog.String("backend", backend.Name()), slog.Int("colors", d.actualColors))
	return nil
}

// prepareQuantizer picks the colormap source. A nil quantizer with no error
// means the two-pass colormap is built from the decoded pixels.
func (d *decompressor) prepareQuantizer() (*quantizer, error) {
	if !d.quantizeColors {
		return nil, nil
	}
	if d.enableExternal && len(d.externalColormap) > 0 {
		if len(d.externalColormap) != d.outColorComponents {
			return nil, engineErr("start_decompress", ErrInvalidData, "external colormap has %d components, want %d", len(d.externalColormap), d.outColorComponents)
		}
		d.colormap = d.externalColormap
		return newQuantizer(d.colormap, d.ditherMode), nil
	}
	if d.desiredColors < 2 || d.desiredColors > 256 {
		return nil, engineErr("start_decompress", ErrInvalidData, "cannot quantize to %d colors", d.desiredColors)
	}
	if d.twoPassQuantize && d.outColorComponents == 3 {
		if d.ditherMode == DitherOrdered {
			d.ditherMode = DitherFloydSteinberg
		}
		if err := d.requirePass(d.enableTwoPass, "two-pass"); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := d.requirePass(d.enableOnePass, "one-pass"); err != nil {
		return nil, err
	}
	levels := selectNColors(d.desiredColors, d.outColorComponents)
	if levels == nil {
		return nil, engineErr("start_decompress", ErrInvalidData, "cannot quantize %d components to %d colors", d.outColorComponents, d.desiredColors)
	}
	d.colormap = uniformColormap(levels)
	d.trace(2, "one-pass colormap", slog.Any("levels", levels))
	return newQuantizer(d.colormap, d.ditherMode), nil
}

// requirePass rejects a quantizer that buffered-image output did not enable
// up front.
func (d *decompressor) requirePass(enabled bool, name string) error {
	if d.bufferedImage && !enabled {
		return engineErr("start_decompress", ErrInvalidData, "%s quantizer not enabled for buffered-image output", name)
	}
	return nil
}

// checkScans walks the entropy-coded data from the first scan to EOI.
func (d *decompressor) checkScans() error {
	b := d.data
	pos := d.scanStart
	scans := 1
	restart := d.restartInt
	nextRST := 0
	for {
		for pos < len(b) && b[pos] != 0xFF {
			pos++
		}
		fill := 0
		for pos < len(b) && b[pos] == 0xFF {
			pos++
			fill++
		}
		if pos >= len(b) {
			return engineErr("start_decompress", ErrInvalidData, "premature end of data in scan %d", scans)
		}
		code := b[pos]
		pos++

		switch {
		case code == 0x00:
			// encoders never pad before a stuffed byte
			if fill > 1 {
				return engineErr("start_decompress", ErrInvalidData, "corrupt data in scan %d at offset %d", scans, pos-fill-1)
			}
		case code >= MarkerRST0 && code <= MarkerRST7:
			if restart == 0 || int(code-MarkerRST0) != nextRST {
				return engineErr("start_decompress", ErrInvalidData, "unexpected %s in scan %d", MarkerName(code), scans)
			}
			nextRST = (nextRST + 1) % 8
		case code == MarkerEOI:
			d.trace(2, "scans checked", slog.Int("scans", scans))
			return nil
		case code == MarkerSOS, code == MarkerDHT, code == MarkerDQT, code == MarkerDRI,
			code == MarkerDNL, code == MarkerCOM, isAPP(code):
			if pos+2 > len(b) {
				return engineErr("start_decompress", ErrInvalidData, "premature end of data after scan %d", scans)
			}
			length := int(binary.BigEndian.Uint16(b[pos:]))
			if length < 2 || pos+length > len(b) {
				return engineErr("start_decompress", ErrInvalidData, "bad length %d for %s after scan %d", length, MarkerName(code), scans)
			}
			switch code {
			case MarkerSOS:
				scans++
				nextRST = 0
			case MarkerDRI:
				if length >= 4 {
					restart = int(binary.BigEndian.Uint16(b[pos+2:]))
				}
			}
			pos += length
		default:
			return engineErr("start_decompress", ErrInvalidData, "unexpected marker %s in scan %d", MarkerName(code), scans)
		}
	}
}

// readScanline returns the next output row. The slice is reused by the next call.
func (d *decompressor) readScanline() ([]byte, error) {
	if d.state != stateScanning {
		return nil, engineErr("read_scanlines", ErrInvalidData, "improper call in state %v", d.state)
	}
	if d.outputScanline >= d.outputHeight {
		return nil, engineErr("read_scanlines", ErrInvalidData, "read past output height")
	}
	n := len(d.rowBuf)
	copy(d.rowBuf, d.pixels[d.outputScanline*n:(d.outputScanline+1)*n])
	d.outputScanline++
	return d.rowBuf, nil
}

// finishDecompress releases the call's buffers.
func (d *decompressor) finishDecompress() error {
	if d.state != stateScanning {
		return engineErr("finish_decompress", ErrInvalidData, "improper call in state %v", d.state)
	}
	if d.outputScanline < d.outputHeight {
		return engineErr("finish_decompress", ErrInvalidData, "too few scanlines read: %d of %d", d.outputScanline, d.outputHeight)
	}
	d.trace(1, "finish decompress", slog.Int("rows", d.outputScanline))
	d.reset()
	return nil
}

// imageParameters snapshots the resolved output description.
func (d *decompressor) imageParameters() ImageParameters {
	return ImageParameters{
		Colorspace:           d.outColorspace,
		JPEGColorspace:       d.jpegColorspace,
		QuantizeColors:       d.quantizeColors,
		Width:                d.outputWidth,
		Height:               d.outputHeight,
		ComponentsPerSample:  d.outColorComponents,
		Components:           d.outputComponents,
		ActualNumberOfColors: d.actualColors,
		Colormap:             d.colormap,
		DensityUnit:          d.density.Unit,
		DensityX:             d.density.X,
		DensityY:             d.density.Y,
		Progressive:          d.progressive,
		Markers:              d.saved,
	}
}
