package jpeg

// Annex K.1 quantization tables in natural order.
var stdLuminanceQuant = [64]uint16{
	16, 11, 10, 16, 24, 40, 51, 61,
	12, 12, 14, 19, 26, 58, 60, 55,
	14, 13, 16, 24, 40, 57, 69, 56,
	14, 17, 22, 29, 51, 87, 80, 62,
	18, 22, 37, 56, 68, 109, 103, 77,
	24, 35, 55, 64, 81, 104, 113, 92,
	49, 64, 78, 87, 103, 121, 120, 101,
	72, 92, 95, 98, 112, 100, 103, 99,
}

var stdChrominanceQuant = [64]uint16{
	17, 18, 24, 47, 99, 99, 99, 99,
	18, 21, 26, 66, 99, 99, 99, 99,
	24, 26, 56, 99, 99, 99, 99, 99,
	47, 66, 99, 99, 99, 99, 99, 99,
	99, 99, 99, 99, 99, 99, 99, 99,
	99, 99, 99, 99, 99, 99, 99, 99,
	99, 99, 99, 99, 99, 99, 99, 99,
	99, 99, 99, 99, 99, 99, 99, 99,
}

// qualityScaling converts a 0-100 quality rating to a percentage scale factor.
func qualityScaling(quality int) int {
	if quality <= 0 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	if quality < 50 {
		return 5000 / quality
	}
	return 200 - quality*2
}

// scaleQuantTable scales base by scale percent. Entries are clamped to
// 1..32767, or to 1..255 when forceBaseline is set.
func scaleQuantTable(base *[64]uint16, scale int, forceBaseline bool) [64]uint16 {
	var out [64]uint16
	for i, v := range base {
		t := (int(v)*scale + 50) / 100
		if t <= 0 {
			t = 1
		}
		if t > 32767 {
			t = 32767
		}
		if forceBaseline && t > 255 {
			t = 255
		}
		out[i] = uint16(t)
	}
	return out
}
