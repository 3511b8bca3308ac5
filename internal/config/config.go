// Package config loads lockimg settings from defaults, an optional
// lockimg.yaml and LOCKIMG_* environment variables, in rising precedence.
// Command-line flags are bound on top by the cmd package.
package config

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/illarion/lockimg/internal/crypto"
	"github.com/illarion/lockimg/internal/sector"
)

// Keys
const (
	KeyIterations = "iterations"
	KeyKeyring    = "keyring"
	KeyVerbose    = "verbose"
	KeyChunkSize  = "chunk_size"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the resolved settings
type Config struct {
	Iterations int    `mapstructure:"iterations"`
	Keyring    bool   `mapstructure:"keyring"`
	Verbose    bool   `mapstructure:"verbose"`
	ChunkSize  string `mapstructure:"chunk_size"`

	// ChunkBytes is ChunkSize parsed
	ChunkBytes int `mapstructure:"-"`
}

// New returns a viper instance with defaults, search paths and the
// environment prefix set. With no paths the current directory and
// $HOME/.config/lockimg are searched.
func New(paths ...string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("lockimg")
	if len(paths) == 0 {
		paths = []string{".", "$HOME/.config/lockimg"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetDefault(KeyIterations, crypto.DefaultIters)
	v.SetDefault(KeyKeyring, true)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyChunkSize, "512KiB")

	v.SetEnvPrefix("LOCKIMG")
	v.AutomaticEnv()
	return v
}

// Load reads the config file if there is one and resolves every key.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidConfig, c.Iterations)
	}

	n, err := ParseSize(c.ChunkSize)
	if err != nil {
		return fmt.Errorf("%w: chunk_size: %v", ErrInvalidConfig, err)
	}
	if n <= 0 || n%sector.Size != 0 {
		return fmt.Errorf("%w: chunk_size %s is not a positive multiple of %d", ErrInvalidConfig, c.ChunkSize, sector.Size)
	}
	c.ChunkBytes = int(n)
	return nil
}

// ParseSize parses byte sizes such as "1536", "4MiB" or "1.5 MB".
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %s too large", s)
	}
	return int64(n), nil
}

// FormatSize renders a byte count in IEC units.
func FormatSize(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}
