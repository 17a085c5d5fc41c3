package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveDataDirOverride(t *testing.T) {
	override := t.TempDir()
	t.Setenv("GOWHISPER_DATA_DIR", override)

	dataDir, err := ResolveDataDir()
	if err != nil {
		t.Fatalf("ResolveDataDir failed: %v", err)
	}
	if dataDir != override {
		t.Fatalf("expected override %q, got %q", override, dataDir)
	}
}

func TestLoadOrCreateFirstRun(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("GOWHISPER_DATA_DIR", dataDir)

	cfg, cfgPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfgPath != ConfigPath(dataDir) {
		t.Fatalf("unexpected config path %q", cfgPath)
	}
	if cfg.DeviceID == "" {
		t.Fatal("expected generated device id")
	}
	if cfg.RelayMode != RelayModeDiscover {
		t.Fatalf("expected default relay mode %q, got %q", RelayModeDiscover, cfg.RelayMode)
	}
	if cfg.Ed25519PrivateKeyPath == "" || cfg.ChannelSecretPath == "" {
		t.Fatal("expected default key paths")
	}

	if _, err := os.Stat(filepath.Join(dataDir, "keys")); err != nil {
		t.Fatalf("expected keys directory: %v", err)
	}
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("expected persisted config file: %v", err)
	}

	// A second load must return the same identity.
	reloaded, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate reload failed: %v", err)
	}
	if reloaded.DeviceID != cfg.DeviceID {
		t.Fatalf("device id changed across loads: %q vs %q", reloaded.DeviceID, cfg.DeviceID)
	}
}

func TestNormalizeDefaultsFillsGaps(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("GOWHISPER_DATA_DIR", dataDir)

	if err := EnsureDataDirectories(dataDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}
	if err := Save(ConfigPath(dataDir), &DeviceConfig{
		RelayAddress: "relay.example.com:8443",
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.DeviceID == "" || cfg.DeviceName == "" {
		t.Fatal("expected generated identity fields")
	}
	if cfg.RelayMode != RelayModeConfigured {
		t.Fatalf("expected relay mode configured when an address exists, got %q", cfg.RelayMode)
	}
	if cfg.Ed25519PrivateKeyPath == "" || cfg.Ed25519PublicKeyPath == "" || cfg.ChannelSecretPath == "" {
		t.Fatal("expected filled key paths")
	}
}
