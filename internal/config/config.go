// Package config loads the tftpc YAML configuration file.
package config

import (
	"time"

	"github.com/pkg/errors"

	"github.com/Pablu23/tftpc/internal/common"
	"github.com/Pablu23/tftpc/internal/storage"
)

type Config struct {
	Server      string   `yaml:"server"`
	Port        int      `yaml:"port"`
	Dir         string   `yaml:"dir"`
	Mode        string   `yaml:"mode"`
	Timeout     Duration `yaml:"timeout"`
	Retries     *int     `yaml:"retries,omitempty"`
	Verbose     bool     `yaml:"verbose"`
	MetricsFile string   `yaml:"metrics_file"`
}

// Default mirrors the client defaults: localhost:69, octet, client_files.
func Default() *Config {
	retries := 5
	return &Config{
		Server:  "localhost",
		Port:    common.DefaultPort,
		Dir:     storage.DefaultFolder,
		Mode:    common.ModeOctet,
		Retries: &retries,
	}
}

// Duration wraps time.Duration for strings like "5s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	if parsed < 0 {
		return errors.Errorf("duration %q must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Validate rejects values no transfer could run with.
func (c *Config) Validate() error {
	if c.Server == "" {
		return errors.New("server must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	if c.Mode != common.ModeOctet {
		return errors.Errorf("unsupported mode %q, only %q is implemented", c.Mode, common.ModeOctet)
	}
	if c.Retries != nil && *c.Retries < 0 {
		return errors.Errorf("retries must not be negative, got %d", *c.Retries)
	}
	return nil
}
