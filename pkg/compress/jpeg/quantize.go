package jpeg

import (
	"math"
	"sort"
)

// selectNColors picks per-component level counts whose product does not exceed
// maxColors. Components are bumped in RGB order G, R, B so green gets the
// extra levels first. It returns nil when maxColors cannot give every
// component two levels.
func selectNColors(maxColors, comps int) []int {
	iroot := 1
	for {
		iroot++
		temp := 1
		for i := 0; i < comps; i++ {
			temp *= iroot
		}
		if temp > maxColors {
			break
		}
	}
	iroot--
	if iroot < 2 {
		return nil
	}
	levels := make([]int, comps)
	total := 1
	for i := range levels {
		levels[i] = iroot
		total *= iroot
	}
	order := make([]int, comps)
	for i := range order {
		order[i] = i
	}
	if comps == 3 {
		order = []int{1, 0, 2}
	}
	for changed := true; changed; {
		changed = false
		for _, j := range order {
			temp := total / levels[j] * (levels[j] + 1)
			if temp > maxColors {
				break
			}
			levels[j]++
			total = temp
			changed = true
		}
	}
	return levels
}

// uniformColormap builds the component-major colormap for the level counts.
func uniformColormap(levels []int) [][]byte {
	total := 1
	for _, n := range levels {
		total *= n
	}
	cmap := make([][]byte, len(levels))
	blksize := total
	for c, n := range levels {
		cmap[c] = make([]byte, total)
		blksize /= n
		for j := 0; j < n; j++ {
			v := byte((j*255 + (n-1)/2) / (n - 1))
			for ptr := j * blksize; ptr < total; ptr += blksize * n {
				for k := 0; k < blksize; k++ {
					cmap[c][ptr+k] = v
				}
			}
		}
	}
	return cmap
}

// popularityColormap picks the n most frequent 5-6-5 histogram cells of a
// three-component image and uses each cell's mean colour.
func popularityColormap(pix []byte, n int) [][]byte {
	type cell struct {
		count   int
		r, g, b int
		key     int
	}
	cells := make(map[int]*cell)
	for i := 0; i+2 < len(pix); i += 3 {
		key := int(pix[i]>>3)<<11 | int(pix[i+1]>>2)<<5 | int(pix[i+2]>>3)
		c := cells[key]
		if c == nil {
			c = &cell{key: key}
			cells[key] = c
		}
		c.count++
		c.r += int(pix[i])
		c.g += int(pix[i+1])
		c.b += int(pix[i+2])
	}
	sorted := make([]*cell, 0, len(cells))
	for _, c := range cells {
		sorted = append(sorted, c)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].key < sorted[j].key
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	cmap := [][]byte{make([]byte, len(sorted)), make([]byte, len(sorted)), make([]byte, len(sorted))}
	for i, c := range sorted {
		cmap[0][i] = byte(c.r / c.count)
		cmap[1][i] = byte(c.g / c.count)
		cmap[2][i] = byte(c.b / c.count)
	}
	return cmap
}

// bayer4 is the 4x4 ordered-dither matrix.
var bayer4 = [4][4]int{
	{0, 8, 2, 10},
	{12, 4, 14, 6},
	{3, 11, 1, 9},
	{15, 7, 13, 5},
}

type quantizer struct {
	cmap   [][]byte
	comps  int
	dither DitherMode
	spread int // ordered-dither amplitude
}

func newQuantizer(cmap [][]byte, dither DitherMode) *quantizer {
	q := &quantizer{cmap: cmap, comps: len(cmap), dither: dither}
	n := len(cmap[0])
	levels := math.Pow(float64(n), 1/float64(q.comps))
	if levels < 2 {
		levels = 2
	}
	q.spread = int(255 / (levels - 1))
	return q
}

func (q *quantizer) nearest(px []int) int {
	best, bestDist := 0, math.MaxInt
	for i := range q.cmap[0] {
		dist := 0
		for c := 0; c < q.comps; c++ {
			d := px[c] - int(q.cmap[c][i])
			dist += d * d
		}
		if dist < bestDist {
			best, bestDist = i, dist
			if dist == 0 {
				break
			}
		}
	}
	return best
}

// apply maps interleaved pixels to colormap indices.
func (q *quantizer) apply(pix []byte, w, h int) []byte {
	out := make([]byte, w*h)
	px := make([]int, q.comps)
	var errCur, errNext []int
	if q.dither == DitherFloydSteinberg {
		errCur = make([]int, (w+2)*q.comps)
		errNext = make([]int, (w+2)*q.comps)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (y*w + x) * q.comps
			for c := 0; c < q.comps; c++ {
				v := int(pix[base+c])
				switch q.dither {
				case DitherOrdered:
					v += (bayer4[y&3][x&3]*2 - 15) * q.spread / 32
				case DitherFloydSteinberg:
					v += errCur[(x+1)*q.comps+c] / 16
				}
				px[c] = min(max(v, 0), 255)
			}
			idx := q.nearest(px)
			out[y*w+x] = byte(idx)
			if q.dither != DitherFloydSteinberg {
				continue
			}
			for c := 0; c < q.comps; c++ {
				e := px[c] - int(q.cmap[c][idx])
				errCur[(x+2)*q.comps+c] += e * 7
				errNext[x*q.comps+c] += e * 3
				errNext[(x+1)*q.comps+c] += e * 5
				errNext[(x+2)*q.comps+c] += e
			}
		}
		if errCur != nil {
			errCur, errNext = errNext, errCur
			clear(errNext)
		}
	}
	return out
}
