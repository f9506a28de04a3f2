// Package config loads and overlays the monitor's runtime configuration:
// Telegram tenant bootstrap, monitored groups, storage location, the LLM
// credential pool, alert keywords, link filtering, and retention/scheduling
// knobs.
package config

import (
	"encoding/json"
	"fmt"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON5, for config
// fields that get edited by hand and don't always come back as strings.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the monitor.
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Groups        []GroupEntry        `json:"groups,omitempty"`
	Database      DatabaseConfig      `json:"database"`
	AI            AIConfig            `json:"ai"`
	Alerts        AlertsConfig        `json:"alerts,omitempty"`
	Filtering     FilteringConfig     `json:"filtering,omitempty"`
	Monitoring    MonitoringConfig    `json:"monitoring,omitempty"`
	ScheduledPush ScheduledPushConfig `json:"scheduled_push,omitempty"`
}

// TelegramConfig holds the owner-facing bot credentials: the bootstrap
// tenant's bot token (registered into Store as Tenant #1 on first run) and
// the chat id that receives alert pushes and scheduled reports.
type TelegramConfig struct {
	BotToken    string `json:"-"` // BOT_TOKEN env only, never persisted to disk
	OwnerChatID string `json:"-"` // BOT_OWNER_ID env only, never persisted to disk
}

// GroupEntry identifies one chat to monitor, by numeric id or @handle.
type GroupEntry struct {
	ID       int64  `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
}

// DatabaseConfig points at the embedded SQLite file.
type DatabaseConfig struct {
	Path string `json:"path,omitempty"`
}

// AIConfig configures the LLM credential pool feeding the summarizer.
type AIConfig struct {
	APIURL              string              `json:"api_url,omitempty"`
	APIKey              string              `json:"api_key,omitempty"`  // single-key shorthand
	APIKeys             FlexibleStringSlice `json:"api_keys,omitempty"` // multi-key pool, takes precedence
	Model               string              `json:"model,omitempty"`
	MaxConcurrentPerKey int                 `json:"max_concurrent_per_key,omitempty"`
	PerKeyRPS           float64             `json:"per_key_rps,omitempty"`
	MaxTokens           int                 `json:"max_tokens,omitempty"`
}

// Keys returns the effective key pool: the non-empty entries of the
// multi-key list with duplicates removed, if any, else the single api_key
// as a one-element list, else a single empty string (an unauthenticated
// local proxy).
func (a AIConfig) Keys() []string {
	seen := make(map[string]bool, len(a.APIKeys))
	var keys []string
	for _, k := range a.APIKeys {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		return keys
	}
	return []string{a.APIKey}
}

// AlertsConfig configures the keyword alert engine.
type AlertsConfig struct {
	Enabled  bool     `json:"enabled,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// FilteringConfig configures link-aggregation noise suppression.
type FilteringConfig struct {
	BlockDomains []string `json:"block_domains,omitempty"`
}

// MonitoringConfig configures retention.
type MonitoringConfig struct {
	KeepDays int `json:"keep_days,omitempty"`
}

// ScheduledPushConfig configures the cron-driven daily report push.
type ScheduledPushConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Cron    string `json:"cron,omitempty"` // gronx expression, e.g. "0 8 * * *"
	Hours   int    `json:"hours,omitempty"`
}
