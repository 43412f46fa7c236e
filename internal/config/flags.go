package config

import (
	"os"
	"strings"

	"github.com/urfave/cli/v3"
)

const (
	FlagConfig    = "config"
	FlagModelsDir = "models-dir"
	FlagIndex     = "index"
	FlagShard     = "shard"
	FlagOutput    = "output"
	FlagLogLevel  = "log-level"
	FlagLogFormat = "log-format"
)

// CommonFlags are understood by both tools.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  FlagConfig,
			Usage: "path to weights.yaml (default: $" + EnvConfigFile + " or user config dir)",
		},
		&cli.StringFlag{
			Name:    FlagModelsDir,
			Aliases: []string{"d"},
			Usage:   "directory holding the model files (default: $" + EnvModelsDir + " or " + DefaultModelsDir + ")",
		},
		&cli.StringFlag{
			Name:  FlagLogLevel,
			Usage: "log level (debug, info, warn, error)",
		},
		&cli.StringFlag{
			Name:  FlagLogFormat,
			Usage: "log format (pretty, json, text)",
		},
	}
}

func IndexFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  FlagIndex,
			Usage: "weight index file, relative to --models-dir unless absolute (default: " + DefaultIndexFile + ")",
		},
	}
}

func QuantizeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  FlagShard,
			Usage: "shard file to load, repeatable, relative to --models-dir unless absolute (default: " + strings.Join(DefaultShards, ", ") + ")",
		},
		&cli.StringFlag{
			Name:    FlagOutput,
			Aliases: []string{"o"},
			Usage:   "output file, relative to --models-dir unless absolute (default: " + DefaultOutputFile + ")",
		},
	}
}

// Resolve builds the effective Config for cmd.
// Precedence: explicit flag > environment > config file > default.
func Resolve(cmd *cli.Command) (Config, error) {
	path := Path()
	if cmd.IsSet(FlagConfig) {
		path = cmd.String(FlagConfig)
	}
	file, err := Load(path)
	if err != nil {
		return Config{}, err
	}

	var fromFlags Config
	if dir := strings.TrimSpace(os.Getenv(EnvModelsDir)); dir != "" {
		fromFlags.ModelsDir = dir
	}
	if cmd.IsSet(FlagModelsDir) {
		fromFlags.ModelsDir = cmd.String(FlagModelsDir)
	}
	if cmd.IsSet(FlagIndex) {
		fromFlags.IndexFile = cmd.String(FlagIndex)
	}
	if cmd.IsSet(FlagShard) {
		fromFlags.Shards = cmd.StringSlice(FlagShard)
	}
	if cmd.IsSet(FlagOutput) {
		fromFlags.OutputFile = cmd.String(FlagOutput)
	}
	if cmd.IsSet(FlagLogLevel) {
		fromFlags.LogLevel = cmd.String(FlagLogLevel)
	}
	if cmd.IsSet(FlagLogFormat) {
		fromFlags.LogFormat = cmd.String(FlagLogFormat)
	}

	return fromFlags.Merge(file).Merge(Default()), nil
}
