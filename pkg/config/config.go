package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds derived runtime values that other packages query
// after startup has merged file, env and flags.
type RuntimeConfig struct {
	BackendKeys map[string]struct{}
	SigningKeys map[string]struct{}
	TokenSecret string
	Issuer      string
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// NewRuntime derives runtime key sets from an effective config.
func NewRuntime(cfg *Config) *RuntimeConfig {
	rc := &RuntimeConfig{
		BackendKeys: map[string]struct{}{},
		SigningKeys: map[string]struct{}{},
		TokenSecret: cfg.Security.Identity.TokenSecret,
		Issuer:      cfg.Security.Identity.Issuer,
	}
	for _, k := range cfg.Security.APIKeys.Backend {
		rc.BackendKeys[k] = struct{}{}
		rc.SigningKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.Identity.SigningKeys {
		rc.SigningKeys[k] = struct{}{}
	}
	return rc
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// GetBackendKeys returns a copy of configured backend keys.
func GetBackendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	if runtimeCfg == nil {
		return map[string]struct{}{}
	}
	return copySet(runtimeCfg.BackendKeys)
}

// GetSigningKeys returns a copy of configured signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	if runtimeCfg == nil {
		return map[string]struct{}{}
	}
	return copySet(runtimeCfg.SigningKeys)
}

// GetTokenSecret returns the identity token secret and issuer.
func GetTokenSecret() (secret, issuer string) {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	if runtimeCfg == nil {
		return "", ""
	}
	return runtimeCfg.TokenSecret, runtimeCfg.Issuer
}

// Addr returns host:port for HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// ApplyDefaults fills zero values with the values the server runs with.
func (c *Config) ApplyDefaults() {
	if c.Server.DBPath == "" {
		c.Server.DBPath = "./.database"
	}
	if c.Security.RateLimit.RPS <= 0 {
		c.Security.RateLimit.RPS = 5
	}
	if c.Security.RateLimit.Burst <= 0 {
		c.Security.RateLimit.Burst = 10
	}
	if c.Retention.Cron == "" {
		c.Retention.Cron = "*/10 * * * *"
	}
	if c.Retention.StaleAfter == 0 {
		c.Retention.StaleAfter = Duration(time.Hour)
	}
	if c.Retention.DeltaTTL == 0 {
		c.Retention.DeltaTTL = Duration(24 * time.Hour)
	}
	if c.Retention.BatchSize <= 0 {
		c.Retention.BatchSize = 500
	}
	if c.Ingest.Processor.Workers <= 0 {
		c.Ingest.Processor.Workers = 4
	}
	if c.Ingest.Queue.Capacity <= 0 {
		c.Ingest.Queue.Capacity = 256
	}
	if c.Ingest.Queue.DrainPollInterval == 0 {
		c.Ingest.Queue.DrainPollInterval = Duration(10 * time.Millisecond)
	}
	if c.Ingest.Queue.MaxPooledBufferBytes == 0 {
		c.Ingest.Queue.MaxPooledBufferBytes = 256 * 1024
	}
	if c.Models.BaseURL == "" {
		c.Models.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Models.Timeout == 0 {
		c.Models.Timeout = Duration(2 * time.Minute)
	}
	if c.Models.MaxSteps <= 0 {
		c.Models.MaxSteps = 20
	}
	if c.Models.Temperature == 0 {
		c.Models.Temperature = 0.2
	}
	if c.Models.MaxResponseBytes == 0 {
		c.Models.MaxResponseBytes = 8 * 1024 * 1024
	}
	if c.Chat.TitleMaxWords <= 0 {
		c.Chat.TitleMaxWords = 6
	}
	if c.Chat.TitleMaxChars <= 0 {
		c.Chat.TitleMaxChars = 50
	}
	if c.Chat.PurgeBatchSize <= 0 {
		c.Chat.PurgeBatchSize = 100
	}
	if c.Chat.PageSize <= 0 {
		c.Chat.PageSize = 50
	}
	if strings.TrimSpace(c.Chat.SystemPrompt) == "" {
		c.Chat.SystemPrompt = DefaultSystemPrompt
	}
}

// DefaultSystemPrompt is the assistant's standing instruction.
const DefaultSystemPrompt = `You are an IT support assistant for an asset and ticket management system.
Use the available tools to look up machines, users, tickets and notes instead of guessing.
When a question depends on today's date or time, call getCurrentDateTime first.
Present lists of records as markdown tables and keep answers short.`

// Load reads a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return &cfg, nil
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and ASSETDESK_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("ASSETDESK_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
