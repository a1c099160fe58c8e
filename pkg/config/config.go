// Package config provides configuration management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigName is the config file name looked up in the working
// directory when no explicit path is given.
const DefaultConfigName = "webpilot.json"

// Config holds all configuration settings.
type Config struct {
	// Server settings
	ListenAddr string `json:"listen_addr"` // WebSocket port server address

	// Logging
	LogLevel string `json:"log_level,omitempty"`
	LogFile  string `json:"log_file,omitempty"`

	// Agent model settings. If Planner or Validator are unconfigured the
	// Navigator model is reused.
	Navigator AgentModelConfig `json:"navigator"`
	Planner   AgentModelConfig `json:"planner,omitempty"`
	Validator AgentModelConfig `json:"validator,omitempty"`

	// Executor settings, snapshotted at task setup.
	General GeneralSettings `json:"general"`

	// Navigation firewall.
	Firewall FirewallSettings `json:"firewall"`

	// Browser attachment.
	Browser BrowserSettings `json:"browser"`

	// Chat-history store.
	History HistorySettings `json:"history"`

	// Optional telegram notifications for terminal task events.
	Telegram TelegramSettings `json:"telegram,omitempty"`
}

// AgentModelConfig describes the chat model one agent uses.
type AgentModelConfig struct {
	Provider    string   `json:"provider,omitempty"` // "openai", "anthropic", "ollama", "" for auto-detect
	APIBaseURL  string   `json:"api_base_url,omitempty"`
	APIKey      string   `json:"api_key,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// IsConfigured reports whether this agent has a usable model.
func (a AgentModelConfig) IsConfigured() bool {
	return a.Model != ""
}

// GeneralSettings are the executor knobs read once per task.
type GeneralSettings struct {
	MaxSteps              int  `json:"max_steps"`
	MaxFailures           int  `json:"max_failures"`
	MaxActionsPerStep     int  `json:"max_actions_per_step"`
	UseVision             bool `json:"use_vision"`
	UseVisionForPlanner   bool `json:"use_vision_for_planner"`
	PlanningInterval      int  `json:"planning_interval"`
	MinWaitPageLoadMs     int  `json:"min_wait_page_load_ms"`
	DisplayHighlights     bool `json:"display_highlights"`
	ReplayHistoricalTasks bool `json:"replay_historical_tasks"`
	ValidateResults       bool `json:"validate_results"`
	TaskTimeoutSeconds    int  `json:"task_timeout_seconds"`
}

// FirewallSettings restrict which URLs agent navigation may reach.
type FirewallSettings struct {
	Enabled   bool     `json:"enabled"`
	AllowList []string `json:"allow_list,omitempty"`
	DenyList  []string `json:"deny_list,omitempty"`
}

// BrowserSettings locate the browser's remote-debugging endpoint.
type BrowserSettings struct {
	DebuggingURL string `json:"debugging_url"` // e.g. http://127.0.0.1:9222
	// IncludeAttributes lists element attributes serialized for the LLM.
	IncludeAttributes []string `json:"include_attributes,omitempty"`
}

// HistorySettings locate the SQLite chat-history store.
type HistorySettings struct {
	Path string `json:"path"` // database file; ":memory:" for tests
}

// TelegramSettings configure the optional terminal-event notifier.
type TelegramSettings struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8320",
		LogLevel:   "INFO",
		General: GeneralSettings{
			MaxSteps:           100,
			MaxFailures:        3,
			MaxActionsPerStep:  5,
			UseVision:          false,
			PlanningInterval:   3,
			MinWaitPageLoadMs:  250,
			DisplayHighlights:  true,
			TaskTimeoutSeconds: 300,
		},
		Browser: BrowserSettings{
			DebuggingURL: "http://127.0.0.1:9222",
			IncludeAttributes: []string{
				"title", "type", "name", "role", "value",
				"placeholder", "aria-label", "href",
			},
		},
		History: HistorySettings{Path: "webpilot.db"},
	}
}

// Load reads a config file, applying defaults for missing fields and
// environment overrides for secrets. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config atomically (temp file + rename).
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigName
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".webpilot-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmpName, path)
}

// applyDefaults fills zero values that would otherwise break the executor.
func (c *Config) applyDefaults() {
	def := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.General.MaxFailures <= 0 {
		c.General.MaxFailures = def.General.MaxFailures
	}
	if c.General.MaxActionsPerStep <= 0 {
		c.General.MaxActionsPerStep = def.General.MaxActionsPerStep
	}
	if c.General.PlanningInterval <= 0 {
		c.General.PlanningInterval = def.General.PlanningInterval
	}
	if c.General.TaskTimeoutSeconds <= 0 {
		c.General.TaskTimeoutSeconds = def.General.TaskTimeoutSeconds
	}
	if c.Browser.DebuggingURL == "" {
		c.Browser.DebuggingURL = def.Browser.DebuggingURL
	}
	if len(c.Browser.IncludeAttributes) == 0 {
		c.Browser.IncludeAttributes = def.Browser.IncludeAttributes
	}
	if c.History.Path == "" {
		c.History.Path = def.History.Path
	}
	// An unconfigured planner/validator reuses the navigator model.
	if !c.Planner.IsConfigured() {
		c.Planner = c.Navigator
	}
	if !c.Validator.IsConfigured() {
		c.Validator = c.Navigator
	}
}

// applyEnvOverrides lets secrets come from the environment instead of the
// config file.
func applyEnvOverrides(c *Config) {
	if key := os.Getenv("WEBPILOT_API_KEY"); key != "" {
		if c.Navigator.APIKey == "" {
			c.Navigator.APIKey = key
		}
		if c.Planner.APIKey == "" {
			c.Planner.APIKey = key
		}
		if c.Validator.APIKey == "" {
			c.Validator.APIKey = key
		}
	}
	if token := os.Getenv("WEBPILOT_TELEGRAM_TOKEN"); token != "" {
		c.Telegram.BotToken = token
	}
}
