/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir != "data" {
		t.Errorf("Expected default data_dir 'data', got '%s'", cfg.DataDir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log_level 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.LogJSON != false {
		t.Errorf("Expected default log_json false, got %v", cfg.LogJSON)
	}
	if cfg.Compression != "none" {
		t.Errorf("Expected default compression 'none', got '%s'", cfg.Compression)
	}
	if cfg.Collation != "BINARY" {
		t.Errorf("Expected default collation 'BINARY', got '%s'", cfg.Collation)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "valid with compression and interval",
			mutate:  func(c *Config) { c.Compression = "zstd"; c.CheckpointIntervalSec = 60 },
			wantErr: false,
		},
		{
			name:    "empty data_dir",
			mutate:  func(c *Config) { c.DataDir = "" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: true,
		},
		{
			name:    "invalid compression",
			mutate:  func(c *Config) { c.Compression = "brotli" },
			wantErr: true,
		},
		{
			name:    "invalid collation",
			mutate:  func(c *Config) { c.Collation = "REVERSE" },
			wantErr: true,
		},
		{
			name:    "negative checkpoint threshold",
			mutate:  func(c *Config) { c.CheckpointThresholdPages = -1 },
			wantErr: true,
		},
		{
			name:    "negative checkpoint interval",
			mutate:  func(c *Config) { c.CheckpointIntervalSec = -5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()

	configContent := `# Test configuration
data_dir = "/var/lib/flydb"
log_level = "debug"
log_json = true
checkpoint_threshold_pages = 2048
checkpoint_interval_seconds = 30
compression = "lz4"
collation = "NOCASE"
`

	configPath := filepath.Join(tmpDir, "flydb.conf")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	cfg := mgr.Get()

	if cfg.DataDir != "/var/lib/flydb" {
		t.Errorf("Expected data_dir '/var/lib/flydb', got '%s'", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log_level 'debug', got '%s'", cfg.LogLevel)
	}
	if cfg.LogJSON != true {
		t.Errorf("Expected log_json true, got %v", cfg.LogJSON)
	}
	if cfg.CheckpointThresholdPages != 2048 {
		t.Errorf("Expected checkpoint_threshold_pages 2048, got %d", cfg.CheckpointThresholdPages)
	}
	if cfg.CheckpointIntervalSec != 30 {
		t.Errorf("Expected checkpoint_interval_seconds 30, got %d", cfg.CheckpointIntervalSec)
	}
	if cfg.Compression != "lz4" {
		t.Errorf("Expected compression 'lz4', got '%s'", cfg.Compression)
	}
	if cfg.Collation != "NOCASE" {
		t.Errorf("Expected collation 'NOCASE', got '%s'", cfg.Collation)
	}
	if cfg.ConfigFile != configPath {
		t.Errorf("Expected ConfigFile '%s', got '%s'", configPath, cfg.ConfigFile)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/flydb-env")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogJSON, "true")
	t.Setenv(EnvCompression, "zstd")
	t.Setenv(EnvPassphrase, "env-secret")

	mgr := NewManager()
	mgr.LoadFromEnv()

	cfg := mgr.Get()

	if cfg.DataDir != "/tmp/flydb-env" {
		t.Errorf("Expected data_dir '/tmp/flydb-env' from env, got '%s'", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log_level 'debug' from env, got '%s'", cfg.LogLevel)
	}
	if cfg.LogJSON != true {
		t.Errorf("Expected log_json true from env, got %v", cfg.LogJSON)
	}
	if cfg.Compression != "zstd" {
		t.Errorf("Expected compression 'zstd' from env, got '%s'", cfg.Compression)
	}
	if cfg.Passphrase != "env-secret" {
		t.Errorf("Expected passphrase from env, got '%s'", cfg.Passphrase)
	}
}

func TestConfigPrecedence(t *testing.T) {
	tmpDir := t.TempDir()

	configContent := `data_dir = "/from/file"
log_level = "info"
`
	configPath := filepath.Join(tmpDir, "flydb.conf")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv(EnvDataDir, "/from/env")

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	mgr.LoadFromEnv()

	cfg := mgr.Get()

	// Env var should override file value
	if cfg.DataDir != "/from/env" {
		t.Errorf("Expected data_dir '/from/env' (env override), got '%s'", cfg.DataDir)
	}
}

func TestToTOMLOmitsPassphrase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/flydb"
	cfg.Compression = "gzip"
	cfg.Passphrase = "must-not-leak"

	toml := cfg.ToTOML()

	if !strings.Contains(toml, `data_dir = "/var/lib/flydb"`) {
		t.Error("TOML output missing data_dir")
	}
	if !strings.Contains(toml, `compression = "gzip"`) {
		t.Error("TOML output missing compression")
	}
	if strings.Contains(toml, "must-not-leak") {
		t.Error("TOML output must never contain the passphrase")
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/flydb"
	cfg.CheckpointThresholdPages = 512

	configPath := filepath.Join(tmpDir, "subdir", "flydb.conf")
	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	loaded := mgr.Get()
	if loaded.DataDir != "/var/lib/flydb" {
		t.Errorf("Expected data_dir '/var/lib/flydb', got '%s'", loaded.DataDir)
	}
	if loaded.CheckpointThresholdPages != 512 {
		t.Errorf("Expected checkpoint_threshold_pages 512, got %d", loaded.CheckpointThresholdPages)
	}
}

func TestReload(t *testing.T) {
	tmpDir := t.TempDir()

	configContent := `data_dir = "initial"
log_level = "info"
`
	configPath := filepath.Join(tmpDir, "flydb.conf")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if got := mgr.Get().DataDir; got != "initial" {
		t.Errorf("Expected initial data_dir 'initial', got '%s'", got)
	}

	reloadCalled := false
	mgr.OnReload(func(c *Config) {
		reloadCalled = true
	})

	newContent := `data_dir = "reloaded"
log_level = "debug"
`
	if err := os.WriteFile(configPath, []byte(newContent), 0644); err != nil {
		t.Fatalf("Failed to update config file: %v", err)
	}

	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	cfg := mgr.Get()
	if cfg.DataDir != "reloaded" {
		t.Errorf("Expected reloaded data_dir 'reloaded', got '%s'", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected reloaded log_level 'debug', got '%s'", cfg.LogLevel)
	}
	if !reloadCalled {
		t.Error("Reload callback was not called")
	}
}

func TestGlobalManager(t *testing.T) {
	mgr := Global()
	if mgr == nil {
		t.Error("Global() returned nil")
	}

	mgr2 := Global()
	if mgr != mgr2 {
		t.Error("Global() returned different instances")
	}
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Passphrase = "must-not-leak"
	str := cfg.String()

	if !strings.Contains(str, "DataDir:") {
		t.Error("String() missing DataDir")
	}
	if !strings.Contains(str, "Collation:") {
		t.Error("String() missing Collation")
	}
	if strings.Contains(str, "must-not-leak") {
		t.Error("String() must never contain the passphrase")
	}
}
