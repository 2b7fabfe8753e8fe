package rewriter

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultDailyLimit    = 500
	DefaultMinuteLimit   = 10
	DefaultMaxAttempts   = 10
	DefaultBackoff       = 5 * time.Second
	DefaultModel         = "gemini-2.5-flash"
	DefaultCredentialEnv = "GEMINI_API_KEY"
)

// Store backends understood by the CLI.
const (
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the top-level rewriter configuration. A zero limit takes its
// default; a negative limit disables that check.
type Config struct {
	Credentials []Credential   `yaml:"credentials" mapstructure:"credentials"`
	Models      []string       `yaml:"models" mapstructure:"models"`
	DailyLimit  int            `yaml:"daily_limit" mapstructure:"daily_limit"`
	MinuteLimit int            `yaml:"minute_limit" mapstructure:"minute_limit"`
	MaxAttempts int            `yaml:"max_attempts" mapstructure:"max_attempts"`
	Backoff     time.Duration  `yaml:"backoff" mapstructure:"backoff"`
	Timezone    string         `yaml:"timezone" mapstructure:"timezone"`
	Provider    ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Store       StoreConfig    `yaml:"store" mapstructure:"store"`

	// Generation settings passed to the model; nil leaves the model default.
	Temperature     *float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxOutputTokens *int     `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
}

// ProviderConfig selects and configures the remote adapter.
type ProviderConfig struct {
	Name    string        `yaml:"name" mapstructure:"name"`
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// StoreConfig selects the durable state backend.
type StoreConfig struct {
	Backend   string `yaml:"backend" mapstructure:"backend"`
	Dir       string `yaml:"dir" mapstructure:"dir"`
	Path      string `yaml:"path" mapstructure:"path"`
	Addr      string `yaml:"addr" mapstructure:"addr"`
	DSN       string `yaml:"dsn" mapstructure:"dsn"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// DefaultConfig returns a Config with every default applied and no credentials.
func DefaultConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing, and
// credentials found in GEMINI_API_KEY_N variables are appended.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("rewriter: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("rewriter: parse config: %w", err)
	}

	cfg.Credentials = MergeCredentials(cfg.Credentials, CredentialsFromEnv(DefaultCredentialEnv, os.Environ()))
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyDefaults fills zero fields with their defaults.
func (c *Config) ApplyDefaults() {
	if len(c.Models) == 0 {
		c.Models = []string{DefaultModel}
	}
	if c.DailyLimit == 0 {
		c.DailyLimit = DefaultDailyLimit
	}
	if c.MinuteLimit == 0 {
		c.MinuteLimit = DefaultMinuteLimit
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff == 0 {
		c.Backoff = DefaultBackoff
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Provider.Name == "" {
		c.Provider.Name = "gemini"
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 60 * time.Second
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendJSON
	}
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if len(c.Credentials) == 0 {
		return fmt.Errorf("rewriter: config: at least one credential is required")
	}

	seen := make(map[Credential]bool, len(c.Credentials))
	for i, cred := range c.Credentials {
		if strings.TrimSpace(string(cred)) == "" {
			return fmt.Errorf("rewriter: config: credentials[%d]: empty credential", i)
		}
		if seen[cred] {
			return fmt.Errorf("rewriter: config: duplicate credential %s", cred.Redacted())
		}
		seen[cred] = true
	}

	for i, m := range c.Models {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("rewriter: config: models[%d]: empty model name", i)
		}
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("rewriter: config: max_attempts must be at least 1")
	}
	if c.Backoff < 0 {
		return fmt.Errorf("rewriter: config: backoff must not be negative")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("rewriter: config: temperature must be between 0 and 2")
	}
	if c.MaxOutputTokens != nil && *c.MaxOutputTokens < 1 {
		return fmt.Errorf("rewriter: config: max_output_tokens must be at least 1")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.Store.Backend {
	case "", BackendJSON, BackendSQLite, BackendRedis, BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("rewriter: config: unknown store backend %q", c.Store.Backend)
	}

	return nil
}

// Location resolves Timezone. An empty timezone means UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("rewriter: config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// CredentialsFromEnv collects credentials from PREFIX_N entries of environ
// ("KEY=value" pairs), ordered by N. The prefix match ignores case; blank
// values and duplicates are skipped.
func CredentialsFromEnv(prefix string, environ []string) []Credential {
	type numbered struct {
		n   int
		val Credential
	}

	want := strings.ToUpper(prefix) + "_"
	var found []numbered
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(key)
		if !strings.HasPrefix(key, want) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(key, want))
		if err != nil || n < 1 {
			continue
		}
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}
		found = append(found, numbered{n: n, val: Credential(val)})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].n < found[j].n })

	out := make([]Credential, 0, len(found))
	for _, f := range found {
		out = append(out, f.val)
	}
	return MergeCredentials(nil, out)
}

// MergeCredentials appends extra to base, keeping the first occurrence of
// each credential.
func MergeCredentials(base, extra []Credential) []Credential {
	seen := make(map[Credential]bool, len(base)+len(extra))
	out := make([]Credential, 0, len(base)+len(extra))
	for _, list := range [][]Credential{base, extra} {
		for _, c := range list {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
