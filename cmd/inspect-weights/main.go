package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jordanlister/KickbackApp/internal/config"
	"github.com/jordanlister/KickbackApp/internal/logger"
	"github.com/jordanlister/KickbackApp/internal/version"
	"github.com/jordanlister/KickbackApp/internal/weightindex"
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
		showShards bool
		asJSON     bool
	)

	flags := append(config.CommonFlags(), config.IndexFlags()...)
	flags = append(flags,
		&cli.BoolFlag{Name: "shards", Usage: "also list how many weights each shard holds", Destination: &showShards},
		&cli.BoolFlag{Name: "json", Usage: "print the summary as JSON", Destination: &asJSON},
	)

	return &cli.Command{
		Name:      "inspect-weights",
		Usage:     "List the weights named in a sharded safetensors index",
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

			indexPath := cfg.IndexPath()
			idx, err := weightindex.ReadIndex(indexPath)
			if errors.Is(err, weightindex.ErrIndexNotFound) {
				log.Warn("index not found", "path", indexPath)
				return weightindex.WriteFallback(stdout, indexPath, cfg.ModelsDir)
			}
			if err != nil {
				return err
			}
			log.Debug("index loaded", "path", indexPath, "weights", len(idx.WeightMap))

			summary := weightindex.Summarize(idx, weightindex.DefaultCategories)
			if showShards {
				summary.Shards = idx.ShardCounts()
			}
			if asJSON {
				return weightindex.WriteJSON(stdout, summary)
			}
			return weightindex.WriteReport(stdout, summary)
		},
	}
}
