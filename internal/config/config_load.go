package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "~/.tg-monitor/tg_monitor.db",
		},
		AI: AIConfig{
			APIURL:              "http://localhost:18789/v1/chat/completions",
			Model:               "gpt-4o-mini",
			MaxConcurrentPerKey: 3,
			MaxTokens:           2048,
		},
		Monitoring: MonitoringConfig{
			KeepDays: 90,
		},
		ScheduledPush: ScheduledPushConfig{
			Hours: 24,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — Default() plus env overrides is a valid config.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.resolveDatabasePath()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.resolveDatabasePath()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config, env taking
// precedence over file values — mirroring the source loader's env-first
// merge for every credential field.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Sensitive Telegram fields are env-only; they never round-trip
	// through Save() onto disk.
	envStr("BOT_TOKEN", &c.Telegram.BotToken)
	envStr("BOT_OWNER_ID", &c.Telegram.OwnerChatID)

	envStr("AI_API_KEY", &c.AI.APIKey)
	envStr("AI_API_URL", &c.AI.APIURL)

	// Numbered multi-key pool: any AI_API_KEY_1..5 present REPLACES the
	// file's api_keys list outright, matching the source loader's
	// all-or-nothing override (it does not merge the two lists).
	var numbered []string
	for i := 1; i <= 5; i++ {
		if v := os.Getenv(fmt.Sprintf("AI_API_KEY_%d", i)); v != "" {
			numbered = append(numbered, v)
		}
	}
	if len(numbered) > 0 {
		c.AI.APIKeys = FlexibleStringSlice(numbered)
	}

	if v := os.Getenv("AI_MAX_CONCURRENT_PER_KEY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.AI.MaxConcurrentPerKey = n
		}
	}

	envStr("DATABASE_PATH", &c.Database.Path)
}

// resolveDatabasePath expands a leading ~ in database.path. Any other path,
// relative or absolute, is left as given; a relative path is not resolved
// against any base directory.
func (c *Config) resolveDatabasePath() {
	c.Database.Path = ExpandHome(c.Database.Path)
}

// Validate returns the list of configuration problems that must be fixed
// before the monitor can start, mirroring the source's validate_config.
func (c *Config) Validate() []string {
	var errs []string
	if c.Telegram.BotToken == "" {
		errs = append(errs, "missing BOT_TOKEN (create a bot via @BotFather)")
	}
	if len(c.Groups) == 0 {
		errs = append(errs, "no monitored groups configured (groups list is empty)")
	}
	return errs
}

// Save writes the config to a JSON file. Env-only sensitive fields
// (BotToken, OwnerChatID) are tagged json:"-" and never appear in the
// written file.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 digest of the config's JSON encoding, for
// change detection. The fsnotify watcher in cmd/run.go does not use it.
func (c *Config) Hash() string {
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
