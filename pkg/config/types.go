package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Models    ModelsConfig    `yaml:"models"`
	Chat      ChatConfig      `yaml:"chat"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	APIKeys     struct {
		Backend  []string `yaml:"backend"`
		Frontend []string `yaml:"frontend"`
		Admin    []string `yaml:"admin"`
	} `yaml:"api_keys"`
	// Identity configures how end users are identified behind the API key.
	Identity struct {
		// SigningKeys verify X-User-Signature HMACs. Backend keys are
		// always accepted as signing keys too.
		SigningKeys []string `yaml:"signing_keys"`
		// TokenSecret verifies HS256 identity tokens in X-User-Token.
		TokenSecret string `yaml:"token_secret"`
		Issuer      string `yaml:"issuer"`
	} `yaml:"identity"`
	AuditDir string `yaml:"audit_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RetentionConfig drives the background sweeper.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// StaleAfter marks assistant messages still streaming after this long as failed.
	StaleAfter Duration `yaml:"stale_after"`
	// DeltaTTL drops the delta log of finished messages older than this.
	DeltaTTL  Duration `yaml:"delta_ttl"`
	BatchSize int      `yaml:"batch_size"`
	DryRun    bool     `yaml:"dry_run"`
}

// IngestConfig holds queueing and processing configuration.
type IngestConfig struct {
	Processor ProcessorConfig `yaml:"processor"`
	Queue     QueueConfig     `yaml:"queue"`
}

// ProcessorConfig controls worker concurrency.
type ProcessorConfig struct {
	Workers int `yaml:"workers"`
}

// QueueConfig holds in-memory queue tunables.
type QueueConfig struct {
	Capacity             int       `yaml:"capacity"`
	DrainPollInterval    Duration  `yaml:"drain_poll_interval"`
	MaxPooledBufferBytes SizeBytes `yaml:"max_pooled_buffer_bytes"`
}

// ModelsConfig configures the OpenRouter-compatible completion backend.
type ModelsConfig struct {
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Timeout     Duration `yaml:"timeout"`
	MaxSteps    int      `yaml:"max_steps"`
	Temperature float64  `yaml:"temperature"`
	// SeedModels populates the enabled model list in app config on first start.
	SeedModels []string `yaml:"seed_models"`
	// MaxResponseBytes caps a single completion response body.
	MaxResponseBytes SizeBytes `yaml:"max_response_bytes"`
}

// ChatConfig holds conversation pipeline tunables.
type ChatConfig struct {
	TitleMaxWords  int    `yaml:"title_max_words"`
	TitleMaxChars  int    `yaml:"title_max_chars"`
	PurgeBatchSize int    `yaml:"purge_batch_size"`
	SystemPrompt   string `yaml:"system_prompt"`
	PageSize       int    `yaml:"page_size"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.Bytes(uint64(s)) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
