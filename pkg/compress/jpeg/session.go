// Package jpeg drives a JPEG codec engine to compress pixel rows into a JPEG
// stream and to decompress a JPEG stream into pixel rows.
//
// A Session owns one compressor and one decompressor context and may be
// reused for any number of sequential calls. It is not safe for concurrent
// use; a call made while another is in flight fails with ErrBusy.
package jpeg

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jpfielding/jpegcodec.go/pkg/util"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger engine traces are written to.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithEncoder forces the named encoder backend (see EncoderNames).
func WithEncoder(name string) Option {
	return func(s *Session) { s.encoder = name }
}

// WithDecoder forces the named decoder backend (see DecoderNames).
func WithDecoder(name string) Option {
	return func(s *Session) { s.decoder = name }
}

// Session is the codec facade.
type Session struct {
	ID string

	log     *slog.Logger
	encoder string
	decoder string

	comp   *compressor
	decomp *decompressor

	cparams CompressionParameters
	dparams DecompressionParameters

	processors map[byte]MarkerProcessor
	saveLimits map[byte]int
	current    *Marker

	busy    atomic.Bool
	aborted bool
	closed  bool
}

// NewSession creates a session with default parameter sets.
func NewSession(opts ...Option) (*Session, error) {
	s := &Session{
		ID:         uuid.NewString(),
		log:        slog.Default(),
		cparams:    NewCompressionParameters(),
		dparams:    NewDecompressionParameters(),
		processors: map[byte]MarkerProcessor{},
		saveLimits: map[byte]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.encoder != "" {
		if _, ok := encodersByName[s.encoder]; !ok {
			return nil, fmt.Errorf("%w: unknown encoder %q", ErrArgument, s.encoder)
		}
	}
	if s.decoder != "" {
		if _, ok := decodersByName[s.decoder]; !ok {
			return nil, fmt.Errorf("%w: unknown decoder %q", ErrArgument, s.decoder)
		}
	}
	s.log = s.log.With(slog.String("session", s.ID))
	s.comp = newCompressor(s.log)
	s.comp.encoder = s.encoder
	s.decomp = newDecompressor(s.log)
	s.decomp.decoder = s.decoder
	return s, nil
}

// SetCompressionParameters replaces the parameter set used by Compress.
func (s *Session) SetCompressionParameters(p CompressionParameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.Markers = append([]Marker(nil), p.Markers...)
	s.cparams = p
	return nil
}

func (s *Session) CompressionParameters() CompressionParameters { return s.cparams }

// SetDecompressionParameters replaces the parameter set used by Decompress.
func (s *Session) SetDecompressionParameters(p DecompressionParameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.dparams = p
	return nil
}

func (s *Session) DecompressionParameters() DecompressionParameters { return s.dparams }

// SetMarkerProcessor registers p for code, replacing any earlier processor.
// Only APPn, COM and JPGn may be overridden. A nil p removes the registration.
func (s *Session) SetMarkerProcessor(code int, p MarkerProcessor) error {
	if !overridableMarker(code) {
		return fmt.Errorf("%w: marker 0x%02X cannot be processed by the caller", ErrArgument, code)
	}
	if p == nil {
		delete(s.processors, byte(code))
		return nil
	}
	s.processors[byte(code)] = p
	return nil
}

// SaveMarkers keeps segments with code, truncated to lengthLimit bytes (a
// negative limit keeps them whole), and reports them in ImageParameters.Markers.
// A lengthLimit of 0 stops saving code.
func (s *Session) SaveMarkers(code int, lengthLimit int) error {
	if !overridableMarker(code) {
		return fmt.Errorf("%w: marker 0x%02X cannot be saved", ErrArgument, code)
	}
	if lengthLimit == 0 {
		delete(s.saveLimits, byte(code))
		return nil
	}
	s.saveLimits[byte(code)] = lengthLimit
	return nil
}

// CurrentMarker returns the segment being handed to a MarkerProcessor. It is
// only set while a processor runs.
func (s *Session) CurrentMarker() (Marker, bool) {
	if s.current == nil {
		return Marker{}, false
	}
	return *s.current, true
}

// Reset clears the aborted state left by a failed call.
func (s *Session) Reset() error {
	if s.closed {
		return ErrClosed
	}
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)
	s.comp.reset()
	s.decomp.reset()
	s.aborted = false
	return nil
}

// Close releases both engine contexts.
func (s *Session) Close() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)
	s.comp = nil
	s.decomp = nil
	s.closed = true
	return nil
}

// enter claims the session for one call.
func (s *Session) enter() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	switch {
	case s.closed:
		s.busy.Store(false)
		return ErrClosed
	case s.aborted:
		s.busy.Store(false)
		return ErrAborted
	}
	return nil
}

// Compress encodes the rows of src into dst. dst is not closed.
func (s *Session) Compress(src PixelSource, dst io.Writer) error {
	if src == nil || dst == nil {
		return fmt.Errorf("%w: compress needs a pixel source and an output", ErrArgument)
	}
	if err := s.enter(); err != nil {
		return err
	}
	defer s.busy.Store(false)

	if err := s.compress(src, dst); err != nil {
		s.comp.abort()
		s.aborted = true
		s.log.Debug("compress failed", slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Session) compress(src PixelSource, dst io.Writer) error {
	c := s.comp
	c.reset()
	c.traceLevel = s.cparams.TraceLevel
	c.trace(1, "compress parameters", settingsAttr(s.cparams))

	hdr := src.Header()
	c.setFrame(hdr)
	c.setDefaults().applyDensity(hdr.Density)
	applyCompression(s.cparams, c)
	c.setDestination(dst)
	if err := c.startCompress(); err != nil {
		return fmt.Errorf("start compress: %w", err)
	}

	if err := src.Start(); err != nil {
		return fmt.Errorf("start pixel source: %w", err)
	}
	for row := 0; row < hdr.Height; row++ {
		pixels, err := src.GetPixelRow()
		if err != nil {
			return fmt.Errorf("read row %d: %w", row, err)
		}
		if pixels == nil {
			return fmt.Errorf("read row %d: %w: row of pixels is null", row, ErrInvalidData)
		}
		if err := c.writeScanline(pixels); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
	}
	if err := src.Finish(); err != nil {
		return fmt.Errorf("finish pixel source: %w", err)
	}
	if err := c.finishCompress(); err != nil {
		return fmt.Errorf("finish compress: %w", err)
	}
	return nil
}

// Decompress decodes the JPEG stream in src and hands its rows to dst.
func (s *Session) Decompress(src io.Reader, dst PixelSink) error {
	if src == nil || dst == nil {
		return fmt.Errorf("%w: decompress needs an input and a pixel sink", ErrArgument)
	}
	if err := s.enter(); err != nil {
		return err
	}
	defer s.busy.Store(false)

	if err := s.decompress(src, dst); err != nil {
		s.decomp.abort()
		s.aborted = true
		s.log.Debug("decompress failed", slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Session) decompress(src io.Reader, dst PixelSink) error {
	d := s.decomp
	d.reset()
	d.traceLevel = s.dparams.TraceLevel
	d.hook = s.runProcessor
	d.saveLimits = s.saveLimits
	d.trace(1, "decompress parameters", settingsAttr(s.dparams))

	if err := d.readHeader(src); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	applyDecompression(s.dparams, d)
	if err := d.calcOutputDimensions(); err != nil {
		return fmt.Errorf("calc output dimensions: %w", err)
	}
	if err := d.startDecompress(); err != nil {
		return fmt.Errorf("start decompress: %w", err)
	}

	if err := dst.SetImageParameters(d.imageParameters()); err != nil {
		return fmt.Errorf("set image parameters: %w", err)
	}
	if err := dst.Start(); err != nil {
		return fmt.Errorf("start pixel sink: %w", err)
	}
	for row := 0; row < d.outputHeight; row++ {
		pixels, err := d.readScanline()
		if err != nil {
			return fmt.Errorf("read row %d: %w", row, err)
		}
		if err := dst.ProcessPixelsRow(pixels); err != nil {
			return fmt.Errorf("process row %d: %w", row, err)
		}
	}
	if err := dst.Finish(); err != nil {
		return fmt.Errorf("finish pixel sink: %w", err)
	}
	if err := d.finishDecompress(); err != nil {
		return fmt.Errorf("finish decompress: %w", err)
	}
	return nil
}

// runProcessor is the decompressor's marker hook.
func (s *Session) runProcessor(m Marker) (handled, ok bool) {
	p, found := s.processors[m.Code]
	if !found {
		return false, false
	}
	s.current = &m
	defer func() { s.current = nil }()
	return true, p.ProcessMarker(s)
}

func settingsAttr(v any) slog.Attr {
	id, err := util.SettingsID(v)
	if err != nil {
		return slog.String("params_error", err.Error())
	}
	return slog.String("params", id)
}
