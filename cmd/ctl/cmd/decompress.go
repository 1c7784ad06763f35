package cmd

import (
	"bufio"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jpfielding/jpegcodec.go/pkg/compress/jpeg"
	"github.com/spf13/cobra"
)

// NewDecompressCmd decodes a JPEG stream to png.
func NewDecompressCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompress [in]",
		Short: "decompress a JPEG to png",
		Long:  "Decompresses a JPEG stream through the codec session, optionally scaling, converting or colour quantizing, and writes png.",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			uri, _ := flags.GetString("in")
			outPath, _ := flags.GetString("out")
			verbose, _ := flags.GetBool("verbose")
			decoder, _ := flags.GetString("decoder")

			params, err := decompressionParams(cmd)
			if err != nil {
				return err
			}
			in, err := openInput(ctx, inputArg(uri, args), verbose)
			if err != nil {
				return err
			}
			defer in.Close()

			var opts []jpeg.Option
			if decoder != "" {
				opts = append(opts, jpeg.WithDecoder(decoder))
			}
			sess, err := jpeg.NewSession(opts...)
			if err != nil {
				return err
			}
			defer sess.Close()
			if err := sess.SetDecompressionParameters(params); err != nil {
				return err
			}

			sink := &jpeg.ImageSink{}
			if err := sess.Decompress(bufio.NewReader(in), sink); err != nil {
				return err
			}

			out, err := createOutput(outPath)
			if err != nil {
				return err
			}
			defer out.Close()
			bw := bufio.NewWriter(out)
			if err := png.Encode(bw, sink.Image()); err != nil {
				return fmt.Errorf("encode png: %w", err)
			}
			if err := bw.Flush(); err != nil {
				return err
			}
			slog.InfoContext(ctx, "decompressed",
				"session", sess.ID,
				"width", sink.Params.Width,
				"height", sink.Params.Height,
				"colorspace", sink.Params.Colorspace.String(),
				"colors", sink.Params.ActualNumberOfColors)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("in", "i", "", "input JPEG path, url or - for stdin")
	pf.StringP("out", "o", "-", "output png path, - for stdout")
	pf.BoolP("verbose", "v", false, "dump http request/response")
	pf.String("decoder", "", "force a decoder backend ("+strings.Join(jpeg.DecoderNames(), "|")+")")
	pf.String("scale", "1/1", "output scale as num/denom")
	pf.String("colorspace", "", "output colorspace (grayscale|rgb|ycbcr|cmyk), empty uses the stream default")
	pf.String("dct", "integer", "dct method (integer|fast-integer|float)")
	pf.Int("quantize", 0, "quantize to this many colors (0 disables)")
	pf.Bool("two-pass", true, "build the colormap from the image instead of a uniform one")
	pf.String("dither", "fs", "dither mode (none|ordered|fs)")
	pf.Bool("fancy", true, "fancy upsampling")
	pf.Bool("block-smoothing", true, "block smoothing for progressive streams")
	pf.Int("trace", 0, "engine trace level, logged at DEBUG")
	return cmd
}

func decompressionParams(cmd *cobra.Command) (jpeg.DecompressionParameters, error) {
	flags := cmd.Flags()
	p := jpeg.NewDecompressionParameters()
	p.TwoPassQuantize, _ = flags.GetBool("two-pass")
	p.DoFancyUpsampling, _ = flags.GetBool("fancy")
	p.DoBlockSmoothing, _ = flags.GetBool("block-smoothing")
	p.TraceLevel, _ = flags.GetInt("trace")

	scale, _ := flags.GetString("scale")
	num, denom, ok := strings.Cut(scale, "/")
	if !ok {
		denom = "1"
	}
	var err error
	if p.ScaleNumerator, err = strconv.Atoi(num); err != nil {
		return p, fmt.Errorf("bad scale %q: %w", scale, err)
	}
	if p.ScaleDenominator, err = strconv.Atoi(denom); err != nil {
		return p, fmt.Errorf("bad scale %q: %w", scale, err)
	}

	if cs, _ := flags.GetString("colorspace"); cs != "" {
		v, err := jpeg.ParseColorspace(cs)
		if err != nil {
			return p, err
		}
		p.OutColorspace = jpeg.ExplicitColorspace(v)
	}
	dct, _ := flags.GetString("dct")
	if p.DCTMethod, err = jpeg.ParseDCTMethod(dct); err != nil {
		return p, err
	}
	dither, _ := flags.GetString("dither")
	if p.DitherMode, err = jpeg.ParseDitherMode(dither); err != nil {
		return p, err
	}
	if n, _ := flags.GetInt("quantize"); n > 0 {
		p.QuantizeColors = true
		p.DesiredNumberOfColors = n
		p.EnableOnePassQuantizer = !p.TwoPassQuantize
		p.EnableTwoPassQuantizer = p.TwoPassQuantize
	}
	return p, p.Validate()
}
