// Package config provides YAML-based configuration loading for Mailroom.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Mailroom configuration, loaded from config.yaml.
// Values may be overridden by MAILROOM_* environment variables (see Load).
type Config struct {
	Token         string   `yaml:"token"`
	MainServerIDs []string `yaml:"main_server_ids"`
	InboxServerID string   `yaml:"inbox_server_id"`
	LogChannelID  string   `yaml:"log_channel_id"`
	Prefix        string   `yaml:"prefix"`

	MySQL MySQLConfig `yaml:"mysql"`
	// SQLitePath, when set, takes precedence over the MySQL settings.
	// Used for local setups and tests.
	SQLitePath string `yaml:"sqlite_path"`

	StatusMessage   string `yaml:"status_message"`
	CloseMessage    string `yaml:"close_message"`
	ResponseMessage string `yaml:"response_message"`

	MentionRoleIDs []string `yaml:"mention_role_ids"`

	Requirements RequirementsConfig `yaml:"requirements"`
	Automation   AutomationConfig   `yaml:"automation"`

	UseDisplaynames         bool `yaml:"use_displaynames"`
	UseNicknames            bool `yaml:"use_nicknames"`
	BreakFormattingForNames bool `yaml:"break_formatting_for_names"`
	RelayInlineReplies      bool `yaml:"relay_inline_replies"`
	ThreadTimestamps        bool `yaml:"thread_timestamps"`

	FallbackRoleName        string `yaml:"fallback_role_name"`
	OverrideRoleNameDisplay string `yaml:"override_role_name_display"`

	AllowSnippets               bool   `yaml:"allow_snippets"`
	AllowInlineSnippets         bool   `yaml:"allow_inline_snippets"`
	InlineSnippetStart          string `yaml:"inline_snippet_start"`
	InlineSnippetEnd            string `yaml:"inline_snippet_end"`
	ErrorOnUnknownInlineSnippet bool   `yaml:"error_on_unknown_inline_snippet"`

	AutoAlert      bool   `yaml:"auto_alert"`
	AutoAlertDelay string `yaml:"auto_alert_delay"`

	AllowSuspend   bool `yaml:"allow_suspend"`
	AllowUserClose bool `yaml:"allow_user_close"`

	ReactOnSeen      bool   `yaml:"react_on_seen"`
	ReactOnSeenEmoji string `yaml:"react_on_seen_emoji"`

	IgnoreAccidentalThreads bool `yaml:"ignore_accidental_threads"`

	AttachmentStorage                  string `yaml:"attachment_storage"` // original, local, channel
	AttachmentDir                      string `yaml:"attachment_dir"`
	AttachmentStorageChannelID         string `yaml:"attachment_storage_channel_id"`
	RelaySmallAttachmentsAsAttachments bool   `yaml:"relay_small_attachments_as_attachments"`
	SmallAttachmentLimit               int64  `yaml:"small_attachment_limit"`

	LogStorage string `yaml:"log_storage"` // none, local, attachment
	LogDir     string `yaml:"log_dir"`

	Web WebConfig `yaml:"web"`

	UpdateNotifications bool   `yaml:"update_notifications"`
	UpdateCheckSchedule string `yaml:"update_check_schedule"`
}

// MySQLConfig holds connection settings for the MySQL server.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RequirementsConfig gates new thread creation.
type RequirementsConfig struct {
	// AccountAgeHours is the minimum account age, in hours. Zero disables the gate.
	AccountAgeHours         int    `yaml:"account_age_hours"`
	AccountAgeDeniedMessage string `yaml:"account_age_denied_message"`
	// TimeOnServerMinutes is the minimum membership time on a main server.
	TimeOnServerMinutes       int    `yaml:"time_on_server_minutes"`
	TimeOnServerDeniedMessage string `yaml:"time_on_server_denied_message"`
}

// AutomationConfig controls where new thread channels are placed.
type AutomationConfig struct {
	// NewThreadCategories maps a main server id to the category new threads
	// for members of that server are created under.
	NewThreadCategories map[string]string `yaml:"new_thread_categories"`
	DefaultCategoryID   string            `yaml:"default_category_id"`
}

// WebConfig holds settings for the log/attachment web server.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// BaseURL is the externally reachable URL used when building log and
	// attachment links, e.g. "https://mailroom.example.com".
	BaseURL string `yaml:"base_url"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file in the working directory is loaded first, and MAILROOM_TOKEN /
// MAILROOM_SQLITE_PATH / MAILROOM_MYSQL_PASSWORD override file values.
func Load(path string) (*Config, error) {
	// A missing .env is fine; it is a convenience for local setups.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unmarshals YAML bytes into a Config with defaults applied.
// Validation is left to the caller so tests can build partial configs.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in derived and default values.
func (c *Config) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "!"
	}
	if c.MySQL.Host == "" {
		c.MySQL.Host = "127.0.0.1"
	}
	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.MySQL.User == "" {
		c.MySQL.User = "mailroom"
	}
	if c.MySQL.Database == "" {
		c.MySQL.Database = "mailroom"
	}
	if c.InlineSnippetStart == "" {
		c.InlineSnippetStart = "{{"
	}
	if c.InlineSnippetEnd == "" {
		c.InlineSnippetEnd = "}}"
	}
	if c.AutoAlertDelay == "" {
		c.AutoAlertDelay = "2m"
	}
	if c.AttachmentStorage == "" {
		c.AttachmentStorage = "original"
	}
	if c.AttachmentDir == "" {
		c.AttachmentDir = "attachments"
	}
	if c.SmallAttachmentLimit == 0 {
		c.SmallAttachmentLimit = 2 * 1024 * 1024
	}
	if c.LogStorage == "" {
		c.LogStorage = "local"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":8890"
	}
	if c.UpdateCheckSchedule == "" {
		// Twice a day.
		c.UpdateCheckSchedule = "0 */12 * * *"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MAILROOM_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("MAILROOM_SQLITE_PATH"); v != "" {
		c.SQLitePath = v
	}
	if v := os.Getenv("MAILROOM_MYSQL_PASSWORD"); v != "" {
		c.MySQL.Password = v
	}
}

// Validate checks that all required fields are present and consistent.
func (c *Config) Validate() error {
	var errs []string
	if c.Token == "" {
		errs = append(errs, "token is required")
	}
	if c.InboxServerID == "" {
		errs = append(errs, "inbox_server_id is required")
	}
	if len(c.MainServerIDs) == 0 {
		errs = append(errs, "at least one main_server_id is required")
	}
	switch c.AttachmentStorage {
	case "original", "local", "channel":
	default:
		errs = append(errs, fmt.Sprintf("unknown attachment_storage %q", c.AttachmentStorage))
	}
	if c.AttachmentStorage == "channel" && c.AttachmentStorageChannelID == "" {
		errs = append(errs, "attachment_storage_channel_id is required for channel attachment storage")
	}
	switch c.LogStorage {
	case "none", "local", "attachment":
	default:
		errs = append(errs, fmt.Sprintf("unknown log_storage %q", c.LogStorage))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SelfURL joins the configured web base URL with the given path.
func (c *Config) SelfURL(path string) string {
	base := strings.TrimRight(c.Web.BaseURL, "/")
	if base == "" {
		base = "http://127.0.0.1" + c.Web.Addr
	}
	return base + "/" + strings.TrimLeft(path, "/")
}
