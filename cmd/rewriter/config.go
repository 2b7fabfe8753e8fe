package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ineyio/rewriter"
)

const envPrefix = "REWRITER"

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"store":     "store.backend",
	"store-dir": "store.dir",
	"provider":  "provider.name",
}

func setDefaults(v *viper.Viper) {
	d := rewriter.DefaultConfig()
	v.SetDefault("credentials", []string{})
	v.SetDefault("models", d.Models)
	v.SetDefault("daily_limit", d.DailyLimit)
	v.SetDefault("minute_limit", d.MinuteLimit)
	v.SetDefault("max_attempts", d.MaxAttempts)
	v.SetDefault("backoff", d.Backoff)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.timeout", d.Provider.Timeout)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.dir", ".")
	v.SetDefault("store.path", "rewriter.db")
	v.SetDefault("store.addr", "localhost:6379")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.key_prefix", "")
}

// loadConfig resolves the configuration with the precedence
// flag > REWRITER_* env > config file > defaults, then appends numbered
// GEMINI_API_KEY_N credentials from the environment and the dotenv file.
func loadConfig(cmd *cobra.Command, configPath, envFile string) (rewriter.Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolveConfigPath(configPath)
	if err != nil {
		return rewriter.Config{}, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return rewriter.Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader([]byte(os.ExpandEnv(string(data))))); err != nil {
			return rewriter.Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Optional settings without a default are only seen by Unmarshal when bound.
	for _, key := range []string{"temperature", "max_output_tokens"} {
		if err := v.BindEnv(key); err != nil {
			return rewriter.Config{}, fmt.Errorf("bind %s env: %w", key, err)
		}
	}

	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return rewriter.Config{}, fmt.Errorf("bind %s flag: %w", flag, err)
			}
		}
	}

	var cfg rewriter.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return rewriter.Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Credentials = splitCredentials(v.GetStringSlice("credentials"))
	cfg.Models = splitList(v.GetStringSlice("models"))

	environ := os.Environ()
	dotenv, err := readEnvFile(envFile)
	if err != nil {
		return rewriter.Config{}, err
	}
	environ = append(environ, dotenv...)
	cfg.Credentials = rewriter.MergeCredentials(cfg.Credentials,
		rewriter.CredentialsFromEnv(rewriter.DefaultCredentialEnv, environ))

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return rewriter.Config{}, err
	}
	return cfg, nil
}

// resolveConfigPath returns the explicit path, or the first rewriter.yaml
// found in the working directory or ~/.config/rewriter. No file is fine.
func resolveConfigPath(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}

	candidates := []string{"rewriter.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "rewriter", "rewriter.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat config %s: %w", c, err)
		}
	}
	return "", nil
}

// readEnvFile parses a dotenv file into KEY=value pairs. A missing file
// yields nothing.
func readEnvFile(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}

	var out []string
	for k, val := range ev.AllSettings() {
		out = append(out, fmt.Sprintf("%s=%v", k, val))
	}
	return out, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func splitCredentials(values []string) []rewriter.Credential {
	parts := splitList(values)
	out := make([]rewriter.Credential, 0, len(parts))
	for _, p := range parts {
		out = append(out, rewriter.Credential(p))
	}
	return out
}
