package cmd

import (
	"bufio"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"

	"github.com/jpfielding/jpegcodec.go/pkg/compress/jpeg"
	"github.com/spf13/cobra"
)

// NewCompressCmd encodes a png/gif/jpeg image as JPEG.
func NewCompressCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress [in]",
		Short: "compress an image to JPEG",
		Long:  "Decodes a png, gif or jpeg image and compresses it to a JPEG stream with the given parameters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			uri, _ := flags.GetString("in")
			outPath, _ := flags.GetString("out")
			verbose, _ := flags.GetBool("verbose")
			encoder, _ := flags.GetString("encoder")

			params, err := compressionParams(cmd)
			if err != nil {
				return err
			}
			density, err := densityFlags(cmd)
			if err != nil {
				return err
			}

			in, err := openInput(ctx, inputArg(uri, args), verbose)
			if err != nil {
				return err
			}
			defer in.Close()
			img, format, err := image.Decode(bufio.NewReader(in))
			if err != nil {
				return fmt.Errorf("decode input: %w", err)
			}
			slog.DebugContext(ctx, "input decoded", "format", format, "bounds", img.Bounds().String())

			var opts []jpeg.Option
			if encoder != "" {
				opts = append(opts, jpeg.WithEncoder(encoder))
			}
			sess, err := jpeg.NewSession(opts...)
			if err != nil {
				return err
			}
			defer sess.Close()
			if err := sess.SetCompressionParameters(params); err != nil {
				return err
			}

			out, err := createOutput(outPath)
			if err != nil {
				return err
			}
			defer out.Close()
			bw := bufio.NewWriter(out)
			src := jpeg.NewImageSource(img)
			src.Density = density
			if err := sess.Compress(src, bw); err != nil {
				return err
			}
			if err := bw.Flush(); err != nil {
				return err
			}
			slog.InfoContext(ctx, "compressed", "session", sess.ID, "out", outPath, "quality", params.Quality, "progressive", params.SimpleProgressive)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("in", "i", "", "input image path, url or - for stdin")
	pf.StringP("out", "o", "-", "output JPEG path, - for stdout")
	pf.BoolP("verbose", "v", false, "dump http request/response")
	pf.String("encoder", "", "force an encoder backend ("+strings.Join(jpeg.EncoderNames(), "|")+")")
	pf.IntP("quality", "q", jpeg.DefaultQuality, "quality 0-100")
	pf.Bool("baseline", false, "force baseline quantization tables")
	pf.Bool("progressive", false, "emit a simple progressive scan script")
	pf.Bool("optimize", false, "optimize huffman tables")
	pf.Uint("restart", 0, "restart interval in MCUs")
	pf.Uint("restart-rows", 0, "restart interval in MCU rows")
	pf.Int("smoothing", 0, "input smoothing factor 0-100")
	pf.String("dct", "integer", "dct method (integer|fast-integer|float)")
	pf.String("colorspace", "", "stream colorspace (grayscale|ycbcr|...), empty derives it from the input")
	pf.String("density-unit", "none", "JFIF density unit (none|dpi|dpcm)")
	pf.Uint16("density-x", 1, "horizontal density")
	pf.Uint16("density-y", 1, "vertical density")
	pf.StringArray("comment", nil, "COM segment text, may be repeated")
	pf.Int("trace", 0, "engine trace level, logged at DEBUG")
	return cmd
}

func compressionParams(cmd *cobra.Command) (jpeg.CompressionParameters, error) {
	flags := cmd.Flags()
	p := jpeg.NewCompressionParameters()
	p.Quality, _ = flags.GetInt("quality")
	p.ForceBaseline, _ = flags.GetBool("baseline")
	p.SimpleProgressive, _ = flags.GetBool("progressive")
	p.OptimizeCoding, _ = flags.GetBool("optimize")
	p.RestartInterval, _ = flags.GetUint("restart")
	p.RestartInRows, _ = flags.GetUint("restart-rows")
	p.SmoothingFactor, _ = flags.GetInt("smoothing")
	p.TraceLevel, _ = flags.GetInt("trace")

	dct, _ := flags.GetString("dct")
	m, err := jpeg.ParseDCTMethod(dct)
	if err != nil {
		return p, err
	}
	p.DCTMethod = m

	if cs, _ := flags.GetString("colorspace"); cs != "" {
		v, err := jpeg.ParseColorspace(cs)
		if err != nil {
			return p, err
		}
		p.Colorspace = jpeg.ExplicitColorspace(v)
	}
	comments, _ := flags.GetStringArray("comment")
	for _, c := range comments {
		p.Markers = append(p.Markers, jpeg.Marker{Code: jpeg.MarkerCOM, Data: []byte(c)})
	}
	return p, p.Validate()
}

func densityFlags(cmd *cobra.Command) (jpeg.Density, error) {
	flags := cmd.Flags()
	var d jpeg.Density
	d.X, _ = flags.GetUint16("density-x")
	d.Y, _ = flags.GetUint16("density-y")
	switch unit, _ := flags.GetString("density-unit"); strings.ToLower(unit) {
	case "none", "":
		d.Unit = jpeg.DensityNone
	case "dpi":
		d.Unit = jpeg.DensityDotsPerInch
	case "dpcm":
		d.Unit = jpeg.DensityDotsPerCm
	default:
		return d, fmt.Errorf("unknown density unit %q", unit)
	}
	return d, nil
}
