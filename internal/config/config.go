// Package config provides configuration loading for specgate.
//
// Configuration lives in .specgate.yaml at the project root, with
// environment overrides under the SPECGATE_ prefix. Defaults are applied
// before validation so an absent file yields a working configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the full specgate configuration.
type Config struct {
	State     StateConfig     `koanf:"state"`
	Gate      GateConfig      `koanf:"gate"`
	Artifact  ArtifactConfig  `koanf:"artifact"`
	Intent    IntentConfig    `koanf:"intent"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Events    EventsConfig    `koanf:"events"`
	GitHub    GitHubConfig    `koanf:"github"`
	Serve     ServeConfig     `koanf:"serve"`
}

// StateConfig locates the workflow document.
type StateConfig struct {
	// Path is project-relative; empty uses the default location.
	Path        string   `koanf:"path"`
	SaveTimeout Duration `koanf:"save_timeout"`
}

// PathRuleConfig maps a protected path pattern to its spec type.
type PathRuleConfig struct {
	Pattern  string `koanf:"pattern"`
	SpecType string `koanf:"spec_type"`
}

// GateConfig carries the path classification tables.
type GateConfig struct {
	ProtectedPathRules    []PathRuleConfig `koanf:"protected_path_rules"`
	AlwaysAllowedPatterns []string         `koanf:"always_allowed_patterns"`
	// JournalPath overrides the decision journal location; "off"
	// disables journaling.
	JournalPath string `koanf:"journal_path"`
}

// ArtifactConfig tunes evidence validation.
type ArtifactConfig struct {
	MinSizeBytes       int64    `koanf:"min_size_bytes"`
	MaxAge             Duration `koanf:"max_age"`
	DisableSecretsScan bool     `koanf:"disable_secrets_scan"`
	// UserAllowlistPath points at an extra gitleaks allowlist file.
	UserAllowlistPath string `koanf:"user_allowlist_path"`
}

// PhraseConfig is one extra intent phrase.
type PhraseConfig struct {
	Locale string `koanf:"locale"`
	Phrase string `koanf:"phrase"`
	Intent string `koanf:"intent"`
}

// IntentConfig extends the builtin phrase table.
type IntentConfig struct {
	Phrases []PhraseConfig `koanf:"phrases"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	Protocol string `koanf:"protocol"` // grpc or http
	Insecure bool   `koanf:"insecure"`
	// TLSSkipVerify accepts certificates from internal CAs over grpc.
	TLSSkipVerify bool     `koanf:"tls_skip_verify"`
	SampleRate    float64  `koanf:"sample_rate"`
	MetricEvery   Duration `koanf:"metric_interval"`
}

// EventsConfig configures the NATS transition publisher.
type EventsConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// GitHubConfig configures backlog-to-issue label sync.
type GitHubConfig struct {
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
	Token Secret `koanf:"token"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// applyDefaults fills missing values.
func applyDefaults(cfg *Config) {
	if cfg.State.SaveTimeout == 0 {
		cfg.State.SaveTimeout = Duration(5 * time.Second)
	}
	if cfg.Artifact.MinSizeBytes == 0 {
		cfg.Artifact.MinSizeBytes = 1024
	}
	if cfg.Artifact.MaxAge == 0 {
		cfg.Artifact.MaxAge = Duration(24 * time.Hour)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.MetricEvery == 0 {
		cfg.Telemetry.MetricEvery = Duration(30 * time.Second)
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "specgate"
	}
	if cfg.Serve.Host == "" {
		cfg.Serve.Host = "127.0.0.1"
	}
	if cfg.Serve.Port == 0 {
		cfg.Serve.Port = 8632
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	for i, rule := range c.Gate.ProtectedPathRules {
		if rule.Pattern == "" {
			return fmt.Errorf("gate.protected_path_rules[%d]: pattern is required", i)
		}
	}
	for i, p := range c.Intent.Phrases {
		if p.Phrase == "" {
			return fmt.Errorf("intent.phrases[%d]: phrase is required", i)
		}
		if p.Intent != "approve" && p.Intent != "pause" {
			return fmt.Errorf("intent.phrases[%d]: intent must be approve or pause, got %q", i, p.Intent)
		}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be within [0, 1], got %v", c.Telemetry.SampleRate)
	}
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("serve.port out of range: %d", c.Serve.Port)
	}
	if (c.GitHub.Owner == "") != (c.GitHub.Repo == "") {
		return fmt.Errorf("github.owner and github.repo must be set together")
	}
	return nil
}
