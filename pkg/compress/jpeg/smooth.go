package jpeg

import "image"

// smoothFrame applies the 3x3 input smoothing filter in place. Each sample
// becomes (1-8*sf/1024) of itself plus sf/1024 of each of its eight
// neighbours; edges replicate.
func smoothFrame(img image.Image, factor int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch f := img.(type) {
	case *image.Gray:
		smoothPlane(f.Pix, f.Stride, w, h, 1, factor)
	case *image.RGBA:
		for ch := 0; ch < 3; ch++ {
			smoothPlane(f.Pix[ch:], f.Stride, w, h, 4, factor)
		}
	case *image.YCbCr:
		smoothPlane(f.Y, f.YStride, w, h, 1, factor)
		smoothPlane(f.Cb, f.CStride, w, h, 1, factor)
		smoothPlane(f.Cr, f.CStride, w, h, 1, factor)
	}
}

// smoothPlane filters one interleaved channel; step is the sample distance.
func smoothPlane(pix []byte, stride, w, h, step, factor int) {
	memberScale := int64(65536 - factor*512)
	neighScale := int64(factor * 64)

	at := func(row []byte, x int) int64 {
		x = min(max(x, 0), w-1)
		return int64(row[x*step])
	}
	prev := make([]byte, stride)
	curr := make([]byte, stride)
	copy(prev, pix[:min(stride, len(pix))])
	for y := 0; y < h; y++ {
		copy(curr, pix[y*stride:min(y*stride+stride, len(pix))])
		next := curr
		if y+1 < h {
			next = pix[(y+1)*stride : min((y+2)*stride, len(pix))]
		}
		above := prev
		if y == 0 {
			above = curr
		}
		out := pix[y*stride:]
		for x := 0; x < w; x++ {
			neigh := at(above, x-1) + at(above, x) + at(above, x+1) +
				at(curr, x-1) + at(curr, x+1) +
				at(next, x-1) + at(next, x) + at(next, x+1)
			v := (memberScale*at(curr, x) + neighScale*neigh + 32768) >> 16
			out[x*step] = uint8(min(max(v, 0), 255))
		}
		prev, curr = curr, prev
	}
}
