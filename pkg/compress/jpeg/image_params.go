package jpeg

// ImageParameters describes the rows a Decompress call is about to deliver.
// It is built once per call, after the header is read and the output
// dimensions are resolved. Colormap and Markers are borrowed from the engine
// and are only valid until the call returns.
type ImageParameters struct {
	// Colorspace of the delivered rows.
	Colorspace Colorspace
	// JPEGColorspace is the colourspace the stream declares.
	JPEGColorspace Colorspace
	QuantizeColors bool
	Width          int
	Height         int
	// ComponentsPerSample is the colour component count of Colorspace;
	// Components is the per-pixel row width (1 when quantizing).
	ComponentsPerSample  int
	Components           int
	ActualNumberOfColors int
	// Colormap is component-major: Colormap[component][index].
	Colormap    [][]byte
	DensityUnit DensityUnit
	DensityX    uint16
	DensityY    uint16
	Progressive bool
	// Markers holds segments kept by Session.SaveMarkers.
	Markers []Marker
}

// RowBytes is the length of one delivered row.
func (p ImageParameters) RowBytes() int {
	return p.Width * p.Components
}
