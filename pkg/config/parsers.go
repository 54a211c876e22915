package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult holds the result of LoadEffectiveConfig.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "defaults", "config", "env", "config+env" or "flags"
}

// ParseConfigFlags parses os.Args into a Flags struct.
func ParseConfigFlags() Flags {
	f, _ := ParseConfigFlagsFrom(flag.CommandLine, os.Args[1:])
	return f
}

// ParseConfigFlagsFrom registers the server flags on fs and parses args.
func ParseConfigFlagsFrom(fs *flag.FlagSet, args []string) (Flags, error) {
	addrPtr := fs.String("addr", ":8080", "HTTP listen address")
	dbPtr := fs.String("db", "./.database", "Pebble DB path")
	cfgPtr := fs.String("config", "./config.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}, nil
}

// ParseConfigFile resolves the config path and loads the YAML file. It
// returns the parsed config, whether the file was present, and an error
// for fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

func parseList(v string) []string {
	if v == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitAddr(cfg *Config, v string) {
	if h, p, err := net.SplitHostPort(v); err == nil {
		cfg.Server.Address = h
		if pi, err := strconv.Atoi(p); err == nil {
			cfg.Server.Port = pi
		}
		return
	}
	cfg.Server.Address = v
}

// envBinding maps one ASSETDESK_* variable onto a config field.
type envBinding struct {
	name  string
	apply func(cfg *Config, v string) error
}

var envBindings = []envBinding{
	{"ASSETDESK_ADDR", func(c *Config, v string) error { splitAddr(c, v); return nil }},
	{"ASSETDESK_SERVER_ADDRESS", func(c *Config, v string) error { c.Server.Address = v; return nil }},
	{"ASSETDESK_SERVER_PORT", func(c *Config, v string) error {
		p, err := strconv.Atoi(v)
		c.Server.Port = p
		return err
	}},
	{"ASSETDESK_DB_PATH", func(c *Config, v string) error { c.Server.DBPath = v; return nil }},
	{"ASSETDESK_TLS_CERT", func(c *Config, v string) error { c.Server.TLS.CertFile = v; return nil }},
	{"ASSETDESK_TLS_KEY", func(c *Config, v string) error { c.Server.TLS.KeyFile = v; return nil }},
	{"ASSETDESK_CORS_ORIGINS", func(c *Config, v string) error { c.Security.CORS.AllowedOrigins = parseList(v); return nil }},
	{"ASSETDESK_RATE_RPS", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		c.Security.RateLimit.RPS = f
		return err
	}},
	{"ASSETDESK_RATE_BURST", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.Security.RateLimit.Burst = n
		return err
	}},
	{"ASSETDESK_IP_WHITELIST", func(c *Config, v string) error { c.Security.IPWhitelist = parseList(v); return nil }},
	{"ASSETDESK_API_BACKEND_KEYS", func(c *Config, v string) error { c.Security.APIKeys.Backend = parseList(v); return nil }},
	{"ASSETDESK_API_FRONTEND_KEYS", func(c *Config, v string) error { c.Security.APIKeys.Frontend = parseList(v); return nil }},
	{"ASSETDESK_API_ADMIN_KEYS", func(c *Config, v string) error { c.Security.APIKeys.Admin = parseList(v); return nil }},
	{"ASSETDESK_SIGNING_KEYS", func(c *Config, v string) error { c.Security.Identity.SigningKeys = parseList(v); return nil }},
	{"ASSETDESK_TOKEN_SECRET", func(c *Config, v string) error { c.Security.Identity.TokenSecret = v; return nil }},
	{"ASSETDESK_TOKEN_ISSUER", func(c *Config, v string) error { c.Security.Identity.Issuer = v; return nil }},
	{"ASSETDESK_AUDIT_DIR", func(c *Config, v string) error { c.Security.AuditDir = v; return nil }},
	{"ASSETDESK_RETENTION_ENABLED", func(c *Config, v string) error { c.Retention.Enabled = parseBool(v); return nil }},
	{"ASSETDESK_RETENTION_CRON", func(c *Config, v string) error { c.Retention.Cron = v; return nil }},
	{"ASSETDESK_RETENTION_STALE_AFTER", func(c *Config, v string) error {
		d, err := parseDuration(v)
		c.Retention.StaleAfter = d
		return err
	}},
	{"ASSETDESK_INGEST_WORKERS", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.Ingest.Processor.Workers = n
		return err
	}},
	{"ASSETDESK_QUEUE_CAPACITY", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.Ingest.Queue.Capacity = n
		return err
	}},
	{"ASSETDESK_QUEUE_MAX_POOLED_BUFFER", func(c *Config, v string) error {
		s, err := parseSize(v)
		c.Ingest.Queue.MaxPooledBufferBytes = s
		return err
	}},
	{"ASSETDESK_MODELS_BASE_URL", func(c *Config, v string) error { c.Models.BaseURL = v; return nil }},
	{"ASSETDESK_OPENROUTER_API_KEY", func(c *Config, v string) error { c.Models.APIKey = v; return nil }},
	{"ASSETDESK_MODELS", func(c *Config, v string) error { c.Models.SeedModels = parseList(v); return nil }},
	{"ASSETDESK_MODELS_TIMEOUT", func(c *Config, v string) error {
		d, err := parseDuration(v)
		c.Models.Timeout = d
		return err
	}},
	{"ASSETDESK_LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
}

// ApplyEnvOverrides applies every set ASSETDESK_* variable onto cfg and
// reports whether any was present. Malformed values are returned as an error
// naming the variable.
func ApplyEnvOverrides(cfg *Config) (bool, error) {
	used := false
	for _, b := range envBindings {
		v := strings.TrimSpace(os.Getenv(b.name))
		if v == "" {
			continue
		}
		used = true
		if err := b.apply(cfg, v); err != nil {
			return used, fmt.Errorf("invalid %s: %w", b.name, err)
		}
	}
	return used, nil
}

// LoadEffectiveConfig layers the config file, then ASSETDESK_* env vars,
// then explicit --addr/--db flags, and fills defaults. An explicit --config
// that does not exist is an error.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	if flags.Set["config"] && !fileExists {
		return res, fmt.Errorf("config file %s not found", flags.Config)
	}

	cfg := &Config{}
	res.Source = "defaults"
	if fileExists && fileCfg != nil {
		cfg = fileCfg
		res.Source = "config"
	}

	envUsed, err := ApplyEnvOverrides(cfg)
	if err != nil {
		return res, err
	}
	if envUsed {
		if res.Source == "config" {
			res.Source = "config+env"
		} else {
			res.Source = "env"
		}
	}

	if flags.Set["addr"] {
		splitAddr(cfg, flags.Addr)
		if cfg.Server.Address == "" {
			cfg.Server.Address = "0.0.0.0"
		}
		res.Source = "flags"
	}
	if flags.Set["db"] {
		cfg.Server.DBPath = flags.DB
		res.Source = "flags"
	}

	cfg.ApplyDefaults()
	res.Config = cfg
	res.Addr = cfg.Addr()
	res.DBPath = cfg.Server.DBPath
	return res, nil
}
