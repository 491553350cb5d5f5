package config

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// FileName is the project-local configuration file.
	FileName = ".specgate.yaml"

	// EnvPrefix scopes environment overrides.
	EnvPrefix = "SPECGATE_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load reads configuration for the given project root.
//
// Precedence (highest to lowest):
//  1. Environment variables (SPECGATE_GATE_JOURNAL_PATH, SPECGATE_SERVE_PORT, ...)
//  2. <projectRoot>/.specgate.yaml
//  3. Defaults
//
// A missing file is not an error; defaults plus environment apply. The
// file, when present, must be owner-only (0600 or 0400) and under 1MB.
func Load(projectRoot string) (*Config, error) {
	k := koanf.New(".")

	configPath := filepath.Join(projectRoot, FileName)
	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate on the file descriptor to avoid a
		// TOCTOU race between the permission check and the read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment variables map to section.field_name by splitting on the
	// first underscore after the prefix:
	//
	//	SPECGATE_SERVE_PORT          -> serve.port
	//	SPECGATE_GATE_JOURNAL_PATH   -> gate.journal_path
	//	SPECGATE_ARTIFACT_MAX_AGE    -> artifact.max_age
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info fs.FileInfo) error {
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	perm := info.Mode().Perm()
	if perm != 0600 && perm != 0400 {
		return fmt.Errorf("config file has insecure permissions %04o (must be 0600 or 0400)", perm)
	}

	return nil
}
