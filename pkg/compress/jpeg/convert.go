package jpeg

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// supportedConversion reports whether a stream in colourspace in can be
// delivered as out.
func supportedConversion(in, out Colorspace) bool {
	switch in {
	case Grayscale:
		return out == Grayscale || out == RGB
	case YCbCr:
		return out == Grayscale || out == RGB || out == YCbCr
	case RGB:
		return out == RGB || out == Grayscale
	case CMYK, YCCK:
		return out == CMYK
	}
	return false
}

// interleave converts img into packed samples of colourspace out.
func interleave(img image.Image, out Colorspace) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	n := out.Components()
	pix := make([]byte, w*h*n)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			putPixel(pix[i:i+n], img, x, y, out)
			i += n
		}
	}
	return pix
}

func putPixel(dst []byte, img image.Image, x, y int, out Colorspace) {
	switch out {
	case Grayscale:
		switch m := img.(type) {
		case *image.Gray:
			dst[0] = m.GrayAt(x, y).Y
		case *image.YCbCr:
			dst[0] = m.YCbCrAt(x, y).Y
		default:
			dst[0] = color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
		}
	case RGB:
		switch m := img.(type) {
		case *image.RGBA:
			c := m.RGBAAt(x, y)
			dst[0], dst[1], dst[2] = c.R, c.G, c.B
		case *image.YCbCr:
			c := m.YCbCrAt(x, y)
			dst[0], dst[1], dst[2] = color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
		case *image.Gray:
			g := m.GrayAt(x, y).Y
			dst[0], dst[1], dst[2] = g, g, g
		default:
			r, g, b, _ := img.At(x, y).RGBA()
			dst[0], dst[1], dst[2] = uint8(r>>8), uint8(g>>8), uint8(b>>8)
		}
	case YCbCr:
		switch m := img.(type) {
		case *image.YCbCr:
			c := m.YCbCrAt(x, y)
			dst[0], dst[1], dst[2] = c.Y, c.Cb, c.Cr
		default:
			r, g, b, _ := img.At(x, y).RGBA()
			dst[0], dst[1], dst[2] = color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(b>>8))
		}
	case CMYK:
		var c color.CMYK
		if m, ok := img.(*image.CMYK); ok {
			c = m.CMYKAt(x, y)
		} else {
			c = color.CMYKModel.Convert(img.At(x, y)).(color.CMYK)
		}
		dst[0], dst[1], dst[2], dst[3] = c.C, c.M, c.Y, c.K
	}
}

// boxKernel averages the source pixels an output pixel covers; enlarging
// replicates them.
var boxKernel = &draw.Kernel{Support: 0.5, At: func(float64) float64 { return 1 }}

// scaleImage resizes src to w x h in a buffer able to hold colourspace out.
func scaleImage(src image.Image, out Colorspace, w, h int) image.Image {
	r := image.Rect(0, 0, w, h)
	var dst draw.Image
	switch out {
	case Grayscale:
		dst = image.NewGray(r)
	case CMYK, YCCK:
		dst = image.NewCMYK(r)
	default:
		dst = image.NewRGBA(r)
	}
	boxKernel.Scale(dst, r, src, src.Bounds(), draw.Src, nil)
	return dst
}
