package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jpfielding/jpegcodec.go/pkg/compress/jpeg"
	"github.com/jpfielding/jpegcodec.go/pkg/util"
	"github.com/spf13/cobra"
)

// NewInfoCmd reports the parameters of a JPEG stream.
func NewInfoCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info [in]",
		Short: "Analyze JPEG stream structure",
		Long:  "Decompresses a JPEG stream and prints the resolved image parameters and any APPn/COM segments.",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			uri, _ := flags.GetString("in")
			verbose, _ := flags.GetBool("verbose")
			format, _ := flags.GetString("format")
			limit, _ := flags.GetInt("marker-limit")

			in, err := openInput(ctx, inputArg(uri, args), verbose)
			if err != nil {
				return err
			}
			defer in.Close()
			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			report, err := analyze(data, limit)
			if err != nil {
				return err
			}
			switch format {
			case "text":
				report.print(os.Stdout)
			default:
				j, _ := json.MarshalIndent(report, "", "  ")
				os.Stdout.Write(append(j, '\n'))
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("in", "i", "", "input JPEG path, url or - for stdin")
	pf.BoolP("verbose", "v", false, "dump http request/response")
	pf.StringP("format", "f", "json", "output format (text|json)")
	pf.Int("marker-limit", 64, "bytes of each APPn/COM segment to keep")
	return cmd
}

type markerReport struct {
	Name   string `json:"name"`
	Length int    `json:"length"`
	Data   string `json:"data"`
}

type infoReport struct {
	MD5            string         `json:"md5"`
	Bytes          int            `json:"bytes"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	JPEGColorspace string         `json:"jpeg_colorspace"`
	Colorspace     string         `json:"colorspace"`
	Components     int            `json:"components"`
	Progressive    bool           `json:"progressive"`
	DensityUnit    int            `json:"density_unit"`
	DensityX       uint16         `json:"density_x"`
	DensityY       uint16         `json:"density_y"`
	Markers        []markerReport `json:"markers,omitempty"`
}

// paramsSink keeps the image parameters and drops the rows.
type paramsSink struct {
	params jpeg.ImageParameters
}

func (s *paramsSink) SetImageParameters(p jpeg.ImageParameters) error {
	s.params = p
	s.params.Markers = append([]jpeg.Marker(nil), p.Markers...)
	return nil
}

func (s *paramsSink) Start() error { return nil }

func (s *paramsSink) ProcessPixelsRow(row []byte) error { return nil }

func (s *paramsSink) Finish() error { return nil }

func analyze(data []byte, limit int) (*infoReport, error) {
	sess, err := jpeg.NewSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	for code := jpeg.MarkerAPP0; code <= jpeg.MarkerAPP15; code++ {
		if err := sess.SaveMarkers(code, limit); err != nil {
			return nil, err
		}
	}
	if err := sess.SaveMarkers(jpeg.MarkerCOM, limit); err != nil {
		return nil, err
	}
	sink := &paramsSink{}
	if err := sess.Decompress(bytes.NewReader(data), sink); err != nil {
		return nil, err
	}
	p := sink.params
	r := &infoReport{
		MD5:            util.Fingerprint(data),
		Bytes:          len(data),
		Width:          p.Width,
		Height:         p.Height,
		JPEGColorspace: p.JPEGColorspace.String(),
		Colorspace:     p.Colorspace.String(),
		Components:     p.ComponentsPerSample,
		Progressive:    p.Progressive,
		DensityUnit:    int(p.DensityUnit),
		DensityX:       p.DensityX,
		DensityY:       p.DensityY,
	}
	for _, m := range p.Markers {
		r.Markers = append(r.Markers, markerReport{
			Name:   jpeg.MarkerName(m.Code),
			Length: len(m.Data),
			Data:   fmt.Sprintf("%q", m.Data),
		})
	}
	return r, nil
}

func (r *infoReport) print(w io.Writer) {
	fmt.Fprintln(w, "=== Stream ===")
	fmt.Fprintf(w, "MD5: %s\n", r.MD5)
	fmt.Fprintf(w, "Bytes: %d\n", r.Bytes)
	fmt.Fprintf(w, "Size: %dx%d\n", r.Width, r.Height)
	fmt.Fprintf(w, "JPEG colorspace: %s\n", r.JPEGColorspace)
	fmt.Fprintf(w, "Output colorspace: %s (%d components)\n", r.Colorspace, r.Components)
	fmt.Fprintf(w, "Progressive: %v\n", r.Progressive)
	fmt.Fprintf(w, "Density: unit=%d x=%d y=%d\n", r.DensityUnit, r.DensityX, r.DensityY)
	if len(r.Markers) == 0 {
		return
	}
	fmt.Fprintln(w, "\n=== Markers ===")
	for _, m := range r.Markers {
		fmt.Fprintf(w, "%-6s %5d %s\n", m.Name, m.Length, m.Data)
	}
}
