package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/jordanlister/KickbackApp/internal/config"
	"github.com/jordanlister/KickbackApp/internal/logger"
	"github.com/jordanlister/KickbackApp/internal/quantize"
	"github.com/jordanlister/KickbackApp/internal/report"
	"github.com/jordanlister/KickbackApp/internal/version"
)

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	var (
		verify  bool
		samples int
	)

	flags := append(config.CommonFlags(), config.QuantizeFlags()...)
	flags = append(flags,
		&cli.BoolFlag{Name: "verify", Value: true, Usage: "re-read the output after saving", Destination: &verify},
		&cli.IntFlag{Name: "samples", Value: 5, Usage: "number of quantized tensors to list (0 lists none)", Destination: &samples},
	)

	return &cli.Command{
		Name:      "quantize-weights",
		Usage:     "Quantize the model shards to an 8-bit safetensors file",
		Version:   version.String(),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Resolve(cmd)
			if err != nil {
				return err
			}
			log, err := logger.FromFormat(stderr, cfg.LogFormat, cfg.LogLevel)
			if err != nil {
				return err
			}
			ctx = logger.WithContext(ctx, log)

			p := report.New(stdout)
			p.Title("Model Weight Quantization")
			p.Row("Models directory", cfg.ModelsDir)
			p.Row("Output", cfg.OutputPath())
			p.Blank()

			limit := samples
			if limit <= 0 {
				limit = -1
			}
			stats, err := quantize.Run(ctx, quantize.Options{
				Shards:      cfg.ShardPaths(),
				Output:      cfg.OutputPath(),
				Verify:      verify,
				Progress:    stdout,
				SampleLimit: limit,
			})
			if err != nil {
				p.Blank()
				p.Line("Quantization failed. Check the error messages above.")
				return err
			}

			p.Blank()
			p.Line("Quantization completed successfully!")
			p.Line("The app will automatically detect and use %s", filepath.Base(cfg.OutputPath()))
			p.Row("Tensors", fmt.Sprintf("%d (%d quantized)", stats.Tensors, stats.Quantized))
			p.Row("Written", report.FormatBytes(stats.FileBytes))
			return p.Err()
		},
	}
}
