package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ImagesPool != "images" || cfg.VolumesPool != "volumes" {
		t.Errorf("pools = %q/%q, want images/volumes", cfg.ImagesPool, cfg.VolumesPool)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("connect timeout = %v", cfg.ConnectTimeout)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "socket_path: /run/libvirt/libvirt-sock\nimages_pool: templates\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.SocketPath != "/run/libvirt/libvirt-sock" {
		t.Errorf("socket path = %q", cfg.SocketPath)
	}
	if cfg.ImagesPool != "templates" {
		t.Errorf("images pool = %q", cfg.ImagesPool)
	}
	// Keys absent from the file keep their defaults.
	if cfg.VolumesPool != "volumes" {
		t.Errorf("volumes pool = %q, want default", cfg.VolumesPool)
	}
}

func TestLoadUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("no_such_key: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should reject unknown keys")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() with a named missing file should fail")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CMP_IMAGES_POOL", "env-images")
	t.Setenv("CMP_CONNECT_TIMEOUT", "9s")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ImagesPool != "env-images" {
		t.Errorf("images pool = %q, want env-images", cfg.ImagesPool)
	}
	if cfg.ConnectTimeout != 9*time.Second {
		t.Errorf("connect timeout = %v, want 9s", cfg.ConnectTimeout)
	}
}
