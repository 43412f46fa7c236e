// Package config resolves the paths and logging settings shared by the weight
// tools. Both tools run without arguments; everything has a default.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModelsDir  = "KickbackApp/Resources/Models"
	DefaultIndexFile  = "model.safetensors.index.json"
	DefaultOutputFile = "model-q8_0.safetensors"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "pretty"

	EnvModelsDir  = "KICKBACK_MODELS_DIR"
	EnvConfigFile = "KICKBACK_WEIGHTS_CONFIG"
)

// DefaultShards are the two shards of the bundled model, in load order.
var DefaultShards = []string{
	"model-00001-of-00002.safetensors",
	"model-00002-of-00002.safetensors",
}

// Config is the optional weights.yaml file. Empty fields fall back to defaults.
type Config struct {
	ModelsDir  string   `yaml:"models_dir"`
	IndexFile  string   `yaml:"index_file"`
	Shards     []string `yaml:"shards"`
	OutputFile string   `yaml:"output_file"`
	LogLevel   string   `yaml:"log_level"`
	LogFormat  string   `yaml:"log_format"`
}

func Default() Config {
	return Config{
		ModelsDir:  DefaultModelsDir,
		IndexFile:  DefaultIndexFile,
		Shards:     append([]string(nil), DefaultShards...),
		OutputFile: DefaultOutputFile,
		LogLevel:   DefaultLogLevel,
		LogFormat:  DefaultLogFormat,
	}
}

// Path returns the config file location: $KICKBACK_WEIGHTS_CONFIG, else
// <user config dir>/kickback/weights.yaml. Empty if neither can be determined.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kickback", "weights.yaml")
}

// Load reads path. A missing file yields a zero Config and no error.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Merge returns c with every empty field taken from base.
func (c Config) Merge(base Config) Config {
	if c.ModelsDir == "" {
		c.ModelsDir = base.ModelsDir
	}
	if c.IndexFile == "" {
		c.IndexFile = base.IndexFile
	}
	if len(c.Shards) == 0 {
		c.Shards = base.Shards
	}
	if c.OutputFile == "" {
		c.OutputFile = base.OutputFile
	}
	if c.LogLevel == "" {
		c.LogLevel = base.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = base.LogFormat
	}
	return c
}

func (c Config) IndexPath() string { return c.resolve(c.IndexFile) }

func (c Config) OutputPath() string { return c.resolve(c.OutputFile) }

// ShardPaths resolves each shard against ModelsDir, keeping order.
func (c Config) ShardPaths() []string {
	out := make([]string, len(c.Shards))
	for i, s := range c.Shards {
		out[i] = c.resolve(s)
	}
	return out
}

func (c Config) resolve(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(c.ModelsDir, name)
}
