package jpeg

import (
	"fmt"
	"strings"
)

// Colorspace identifies the colour model of pixel rows or of the encoded stream.
type Colorspace int

const (
	Grayscale Colorspace = iota + 1
	RGB
	YCbCr
	CMYK
	YCCK
)

var colorspaceNames = map[Colorspace]string{
	Grayscale: "grayscale",
	RGB:       "rgb",
	YCbCr:     "ycbcr",
	CMYK:      "cmyk",
	YCCK:      "ycck",
}

func (cs Colorspace) String() string {
	if n, ok := colorspaceNames[cs]; ok {
		return n
	}
	return fmt.Sprintf("colorspace(%d)", int(cs))
}

// Components is the number of samples per pixel in cs.
func (cs Colorspace) Components() int {
	switch cs {
	case Grayscale:
		return 1
	case RGB, YCbCr:
		return 3
	case CMYK, YCCK:
		return 4
	}
	return 0
}

// ParseColorspace accepts the String form (and "gray").
func ParseColorspace(s string) (Colorspace, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "gray" {
		return Grayscale, nil
	}
	for cs, n := range colorspaceNames {
		if n == s {
			return cs, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown colorspace %q", ErrArgument, s)
}

// ColorspaceSetting is an optional colourspace. The zero value inherits the
// colourspace the engine derives from the stream or the source.
type ColorspaceSetting struct {
	cs  Colorspace
	set bool
}

// ExplicitColorspace overrides the engine-derived colourspace with cs.
func ExplicitColorspace(cs Colorspace) ColorspaceSetting {
	return ColorspaceSetting{cs: cs, set: true}
}

// Get returns the explicit colourspace, or false when the setting inherits.
func (s ColorspaceSetting) Get() (Colorspace, bool) {
	return s.cs, s.set
}

func (s ColorspaceSetting) String() string {
	if !s.set {
		return "inherit"
	}
	return s.cs.String()
}

func (s ColorspaceSetting) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DCTMethod selects the forward/inverse DCT implementation.
type DCTMethod int

const (
	DCTInteger DCTMethod = iota
	DCTFastInteger
	DCTFloat
)

func (m DCTMethod) String() string {
	switch m {
	case DCTInteger:
		return "integer"
	case DCTFastInteger:
		return "fast-integer"
	case DCTFloat:
		return "float"
	}
	return fmt.Sprintf("dct(%d)", int(m))
}

// ParseDCTMethod accepts the String form.
func ParseDCTMethod(s string) (DCTMethod, error) {
	for _, m := range []DCTMethod{DCTInteger, DCTFastInteger, DCTFloat} {
		if strings.EqualFold(m.String(), s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown dct method %q", ErrArgument, s)
}

// DitherMode selects the dithering used by colour quantization.
type DitherMode int

const (
	DitherNone DitherMode = iota
	DitherOrdered
	DitherFloydSteinberg
)

func (d DitherMode) String() string {
	switch d {
	case DitherNone:
		return "none"
	case DitherOrdered:
		return "ordered"
	case DitherFloydSteinberg:
		return "fs"
	}
	return fmt.Sprintf("dither(%d)", int(d))
}

// ParseDitherMode accepts the String form.
func ParseDitherMode(s string) (DitherMode, error) {
	for _, d := range []DitherMode{DitherNone, DitherOrdered, DitherFloydSteinberg} {
		if strings.EqualFold(d.String(), s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown dither mode %q", ErrArgument, s)
}

// DensityUnit is the JFIF density unit.
type DensityUnit uint8

const (
	DensityNone        DensityUnit = 0 // X/Y only give the pixel aspect ratio
	DensityDotsPerInch DensityUnit = 1
	DensityDotsPerCm   DensityUnit = 2
)

// Density is the JFIF pixel density.
type Density struct {
	Unit DensityUnit
	X, Y uint16
}

// defaultDensity is what the engine defaulting step writes.
var defaultDensity = Density{Unit: DensityNone, X: 1, Y: 1}
