// Package config implements gk's cascading configuration. Values are
// layered built-in defaults, then the global config file in the state
// directory, then the project-local file under .gk/, then GK_* environment
// variables. Nested objects merge key by key; scalars and lists replace.
package config

import (
	"time"
)

// Config is the fully merged configuration.
type Config struct {
	LogLevel  string        `mapstructure:"log_level" json:"log_level" yaml:"log_level" jsonschema:"enum=trace,enum=debug,enum=info,enum=warn,enum=error"`
	LogFormat string        `mapstructure:"log_format" json:"log_format" yaml:"log_format" jsonschema:"enum=fmt,enum=text,enum=json"`
	StateDir  string        `mapstructure:"state_dir" json:"state_dir,omitempty" yaml:"state_dir,omitempty"`
	Session   SessionConfig `mapstructure:"session" json:"session" yaml:"session"`
	Notify    NotifyConfig  `mapstructure:"notify" json:"notify" yaml:"notify"`
	Hooks     HooksConfig   `mapstructure:"hooks" json:"hooks" yaml:"hooks"`
	Skills    CatalogConfig `mapstructure:"skills" json:"skills" yaml:"skills"`
	Agents    CatalogConfig `mapstructure:"agents" json:"agents" yaml:"agents"`
	Commands  CatalogConfig `mapstructure:"commands" json:"commands" yaml:"commands"`
	MMIO      MMIOConfig    `mapstructure:"mmio" json:"mmio" yaml:"mmio"`
}

// SessionConfig controls session bookkeeping.
type SessionConfig struct {
	// MaxDepth bounds sub-agent nesting; the main agent is depth 0.
	MaxDepth      int    `mapstructure:"max_depth" json:"max_depth" yaml:"max_depth"`
	RetentionDays int    `mapstructure:"retention_days" json:"retention_days" yaml:"retention_days"`
	EnvFile       string `mapstructure:"env_file" json:"env_file,omitempty" yaml:"env_file,omitempty"`
}

// NotifyConfig controls lifecycle notifications.
type NotifyConfig struct {
	Enabled bool          `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Events  []string      `mapstructure:"events" json:"events,omitempty" yaml:"events,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	Retries int           `mapstructure:"retries" json:"retries" yaml:"retries"`
	Discord DiscordConfig `mapstructure:"discord" json:"discord" yaml:"discord"`
}

// DiscordConfig configures the Discord webhook notifier.
type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	Username   string `mapstructure:"username" json:"username,omitempty" yaml:"username,omitempty"`
	AvatarURL  string `mapstructure:"avatar_url" json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	Mention    string `mapstructure:"mention" json:"mention,omitempty" yaml:"mention,omitempty"`
}

// HooksConfig controls user hook executables.
type HooksConfig struct {
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	Dirs    []string      `mapstructure:"dirs" json:"dirs,omitempty" yaml:"dirs,omitempty"`
}

// CatalogConfig adds search directories and name filters to a markdown
// catalogue (skills, agents, commands).
type CatalogConfig struct {
	Dirs    []string `mapstructure:"dirs" json:"dirs,omitempty" yaml:"dirs,omitempty"`
	Include []string `mapstructure:"include" json:"include,omitempty" yaml:"include,omitempty"`
}

// MMIOConfig configures the multimodal commands.
type MMIOConfig struct {
	APIKey             string        `mapstructure:"api_key" json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Resolution         string        `mapstructure:"resolution" json:"resolution" yaml:"resolution" jsonschema:"enum=low,enum=medium,enum=high"`
	Thinking           string        `mapstructure:"thinking" json:"thinking" yaml:"thinking" jsonschema:"enum=minimal,enum=low,enum=high"`
	OutputDir          string        `mapstructure:"output_dir" json:"output_dir" yaml:"output_dir"`
	FileAPIThresholdMB int           `mapstructure:"file_api_threshold_mb" json:"file_api_threshold_mb" yaml:"file_api_threshold_mb"`
	PollInterval       time.Duration `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`
	Models             ModelsConfig  `mapstructure:"models" json:"models" yaml:"models"`
}

// ModelsConfig holds the default model per multimodal task.
type ModelsConfig struct {
	Analyze    string `mapstructure:"analyze" json:"analyze" yaml:"analyze"`
	Transcribe string `mapstructure:"transcribe" json:"transcribe" yaml:"transcribe"`
	Imagine    string `mapstructure:"imagine" json:"imagine" yaml:"imagine"`
	Video      string `mapstructure:"video" json:"video" yaml:"video"`
}

// Defaults returns a fresh copy of the built-in default layer.
func Defaults() map[string]any {
	return map[string]any{
		"log_level":  "info",
		"log_format": "fmt",
		"state_dir":  "",
		"session": map[string]any{
			"max_depth":      5,
			"retention_days": 30,
			"env_file":       "",
		},
		"notify": map[string]any{
			"enabled": false,
			"events":  []any{},
			"timeout": "10s",
			"retries": 3,
			"discord": map[string]any{
				"webhook_url": "",
				"username":    "gk",
				"avatar_url":  "",
				"mention":     "",
			},
		},
		"hooks": map[string]any{
			"timeout": "30s",
			"dirs":    []any{},
		},
		"skills": map[string]any{
			"dirs":    []any{},
			"include": []any{},
		},
		"agents": map[string]any{
			"dirs": []any{},
		},
		"commands": map[string]any{
			"dirs": []any{},
		},
		"mmio": map[string]any{
			"api_key":               "",
			"resolution":            "medium",
			"thinking":              "low",
			"output_dir":            "generated",
			"file_api_threshold_mb": 15,
			"poll_interval":         "5s",
			"models": map[string]any{
				"analyze":    "gemini-3-flash-preview",
				"transcribe": "gemini-3-flash-preview",
				"imagine":    "gemini-2.5-flash-image",
				"video":      "veo-3.1-generate-preview",
			},
		},
	}
}
