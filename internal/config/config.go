// Package config loads the process configuration: a YAML file
// overridden by CMP_* environment variables. The result is an
// immutable value handed down to the commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no file is named explicitly.
const DefaultPath = "/etc/compute/config.yaml"

// Config is the process configuration.
type Config struct {
	// SocketPath is the libvirt unix socket. Empty means the
	// qemu:///system default.
	SocketPath string `yaml:"socket_path"`
	// ImagesPool holds the source disk images.
	ImagesPool string `yaml:"images_pool"`
	// VolumesPool holds the instance volumes.
	VolumesPool string `yaml:"volumes_pool"`
	// ConnectTimeout bounds the libvirt dial.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ImagesPool:     "images",
		VolumesPool:    "volumes",
		ConnectTimeout: 5 * time.Second,
	}
}

// Load builds the configuration: defaults, then the YAML file, then
// environment overrides. A missing file at the default path is fine;
// an explicitly named file must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// No config file, defaults apply.
	default:
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	if cfg.ImagesPool == "" || cfg.VolumesPool == "" {
		return Config{}, fmt.Errorf("images_pool and volumes_pool must not be empty")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CMP_SOCKET_PATH"); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv("CMP_IMAGES_POOL"); v != "" {
		cfg.ImagesPool = v
	}
	if v := os.Getenv("CMP_VOLUMES_POOL"); v != "" {
		cfg.VolumesPool = v
	}
	if v := os.Getenv("CMP_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ConnectTimeout = d
		}
	}
}
