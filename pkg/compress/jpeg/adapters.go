package jpeg

import (
	"fmt"
	"image"
	"image/color"
)

// SourceHeader is what a PixelSource declares about its rows. It is read once,
// before the engine fills in its defaults.
type SourceHeader struct {
	Width              int
	Height             int
	Colorspace         Colorspace
	ComponentsPerPixel int
	DataPrecision      int
	Density            Density
}

// PixelSource supplies rows to Compress. GetPixelRow is called exactly
// Header().Height times between Start and Finish; a nil row is fatal.
type PixelSource interface {
	Header() SourceHeader
	Start() error
	GetPixelRow() ([]byte, error)
	Finish() error
}

// PixelSink consumes rows from Decompress. SetImageParameters is called once
// before Start; the row passed to ProcessPixelsRow is only valid during the call.
type PixelSink interface {
	SetImageParameters(ImageParameters) error
	Start() error
	ProcessPixelsRow(row []byte) error
	Finish() error
}

// ImageSource adapts an image.Image to PixelSource. Gray images produce
// grayscale rows, *image.YCbCr produces YCbCr rows, *image.CMYK produces CMYK
// rows and everything else produces RGB rows. CMYK rows cannot be compressed
// yet; Compress rejects them with ErrUnsupported.
type ImageSource struct {
	Image   image.Image
	Density Density

	cs  Colorspace
	y   int
	row []byte
}

// NewImageSource wraps img with the default density.
func NewImageSource(img image.Image) *ImageSource {
	return &ImageSource{Image: img, Density: defaultDensity}
}

func (s *ImageSource) colorspace() Colorspace {
	switch s.Image.(type) {
	case *image.Gray, *image.Gray16:
		return Grayscale
	case *image.YCbCr:
		return YCbCr
	case *image.CMYK:
		return CMYK
	}
	return RGB
}

func (s *ImageSource) Header() SourceHeader {
	b := s.Image.Bounds()
	cs := s.colorspace()
	return SourceHeader{
		Width:              b.Dx(),
		Height:             b.Dy(),
		Colorspace:         cs,
		ComponentsPerPixel: cs.Components(),
		DataPrecision:      8,
		Density:            s.Density,
	}
}

func (s *ImageSource) Start() error {
	s.cs = s.colorspace()
	s.y = 0
	s.row = make([]byte, s.Image.Bounds().Dx()*s.cs.Components())
	return nil
}

func (s *ImageSource) GetPixelRow() ([]byte, error) {
	b := s.Image.Bounds()
	if s.row == nil || s.y >= b.Dy() {
		return nil, fmt.Errorf("%w: no row %d", ErrInvalidData, s.y)
	}
	y := b.Min.Y + s.y
	n := s.cs.Components()
	for x := b.Min.X; x < b.Max.X; x++ {
		dst := s.row[(x-b.Min.X)*n:]
		switch s.cs {
		case Grayscale:
			dst[0] = color.GrayModel.Convert(s.Image.At(x, y)).(color.Gray).Y
		case YCbCr:
			c := s.Image.(*image.YCbCr).YCbCrAt(x, y)
			dst[0], dst[1], dst[2] = c.Y, c.Cb, c.Cr
		case CMYK:
			c := s.Image.(*image.CMYK).CMYKAt(x, y)
			dst[0], dst[1], dst[2], dst[3] = c.C, c.M, c.Y, c.K
		default:
			r, g, bb, _ := s.Image.At(x, y).RGBA()
			dst[0], dst[1], dst[2] = uint8(r>>8), uint8(g>>8), uint8(bb>>8)
		}
	}
	s.y++
	return s.row, nil
}

func (s *ImageSource) Finish() error {
	s.row = nil
	return nil
}

// ImageSink adapts PixelSink to build an image.Image from the delivered rows.
type ImageSink struct {
	Params ImageParameters

	img image.Image
	y   int
}

func (s *ImageSink) SetImageParameters(p ImageParameters) error {
	s.Params = p
	// Colormap and Markers are borrowed; keep copies.
	s.Params.Markers = append([]Marker(nil), p.Markers...)
	if p.Colormap != nil {
		s.Params.Colormap = make([][]byte, len(p.Colormap))
		for i, c := range p.Colormap {
			s.Params.Colormap[i] = append([]byte(nil), c...)
		}
	}
	return nil
}

func (s *ImageSink) Start() error {
	r := image.Rect(0, 0, s.Params.Width, s.Params.Height)
	s.y = 0
	switch {
	case s.Params.QuantizeColors:
		s.img = image.NewPaletted(r, s.palette())
	case s.Params.Colorspace == Grayscale:
		s.img = image.NewGray(r)
	case s.Params.Colorspace == YCbCr:
		s.img = image.NewYCbCr(r, image.YCbCrSubsampleRatio444)
	case s.Params.Colorspace == CMYK:
		s.img = image.NewCMYK(r)
	case s.Params.Colorspace == RGB:
		s.img = image.NewRGBA(r)
	default:
		return fmt.Errorf("%w: sink cannot hold %v rows", ErrUnsupported, s.Params.Colorspace)
	}
	return nil
}

func (s *ImageSink) palette() color.Palette {
	n := s.Params.ActualNumberOfColors
	p := make(color.Palette, n)
	cm := s.Params.Colormap
	for i := 0; i < n; i++ {
		switch len(cm) {
		case 1:
			p[i] = color.Gray{Y: cm[0][i]}
		case 4:
			p[i] = color.CMYK{C: cm[0][i], M: cm[1][i], Y: cm[2][i], K: cm[3][i]}
		default:
			if s.Params.Colorspace == YCbCr {
				p[i] = color.YCbCr{Y: cm[0][i], Cb: cm[1][i], Cr: cm[2][i]}
			} else {
				p[i] = color.RGBA{R: cm[0][i], G: cm[1][i], B: cm[2][i], A: 0xFF}
			}
		}
	}
	return p
}

func (s *ImageSink) ProcessPixelsRow(row []byte) error {
	if s.img == nil || s.y >= s.Params.Height {
		return fmt.Errorf("%w: unexpected row %d", ErrInvalidData, s.y)
	}
	if len(row) < s.Params.RowBytes() {
		return fmt.Errorf("%w: row %d has %d bytes, want %d", ErrInvalidData, s.y, len(row), s.Params.RowBytes())
	}
	w := s.Params.Width
	switch m := s.img.(type) {
	case *image.Paletted:
		copy(m.Pix[s.y*m.Stride:], row[:w])
	case *image.Gray:
		copy(m.Pix[s.y*m.Stride:], row[:w])
	case *image.CMYK:
		copy(m.Pix[s.y*m.Stride:], row[:w*4])
	case *image.RGBA:
		dst := m.Pix[s.y*m.Stride:]
		for x := 0; x < w; x++ {
			dst[x*4], dst[x*4+1], dst[x*4+2], dst[x*4+3] = row[x*3], row[x*3+1], row[x*3+2], 0xFF
		}
	case *image.YCbCr:
		for x := 0; x < w; x++ {
			m.Y[s.y*m.YStride+x] = row[x*3]
			m.Cb[s.y*m.CStride+x] = row[x*3+1]
			m.Cr[s.y*m.CStride+x] = row[x*3+2]
		}
	}
	s.y++
	return nil
}

func (s *ImageSink) Finish() error {
	if s.y != s.Params.Height {
		return fmt.Errorf("%w: sink received %d of %d rows", ErrInvalidData, s.y, s.Params.Height)
	}
	return nil
}

// Image returns the assembled image.
func (s *ImageSink) Image() image.Image { return s.img }
