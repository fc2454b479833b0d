package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Default values applied when the YAML file leaves a field unset.
const (
	DefaultPoolSize          = 3
	DefaultMaxSessionAge     = 900 // seconds
	DefaultEvictionInterval  = 60  // seconds
	DefaultMaxLoginAttempts  = 4
	DefaultBackoffBase       = 5  // seconds
	DefaultBackoffStep       = 5  // seconds
	DefaultChallengeGrace    = 20 // seconds
	DefaultCodeRetries       = 2
	DefaultCodeRetryDelay    = 10 // seconds
	DefaultIMAPLookback      = 15 // minutes
	DefaultIMAPFetchWindow   = 5
	DefaultOperationTimeout  = 30000.0 // milliseconds
	DefaultViewportWidth     = 1280
	DefaultViewportHeight    = 720
)

// Config is the root configuration for the bot, decoded from YAML.
type Config struct {
	Headless       bool                 `yaml:"headless"`
	Pool           PoolConfig           `yaml:"pool"`
	Accounts       []Account            `yaml:"accounts"`
	Auth           AuthConfig           `yaml:"auth"`
	Site           SiteConfig           `yaml:"site"`
	Codes          CodesConfig          `yaml:"codes"`
	WorkItems      WorkItemsConfig      `yaml:"work_items"`
	Report         ReportConfig         `yaml:"report"`
	Schedule       ScheduleConfig       `yaml:"schedule"`
	Classification ClassificationConfig `yaml:"classification"`
}

// Account holds one set of site credentials. Immutable after load.
type Account struct {
	Username   string `yaml:"username"`
	Secret     string `yaml:"secret"`
	InboxLabel string `yaml:"inbox_label,omitempty"`
}

// PoolConfig configures the browser session pool.
type PoolConfig struct {
	Size                    int    `yaml:"size"`
	ProfileRoot             string `yaml:"profile_root"`
	MaxSessionAgeSeconds    int    `yaml:"max_session_age_seconds"`
	EvictionIntervalSeconds int    `yaml:"eviction_interval_seconds"`
}

// MaxSessionAge returns the eviction age threshold.
func (p PoolConfig) MaxSessionAge() time.Duration {
	return time.Duration(p.MaxSessionAgeSeconds) * time.Second
}

// EvictionInterval returns how often the eviction sweep runs.
func (p PoolConfig) EvictionInterval() time.Duration {
	return time.Duration(p.EvictionIntervalSeconds) * time.Second
}

// AuthConfig configures the login flow and its retry policy.
type AuthConfig struct {
	MaxAttempts           int `yaml:"max_attempts"`
	BackoffBaseSeconds    int `yaml:"backoff_base_seconds"`
	BackoffStepSeconds    int `yaml:"backoff_step_seconds"`
	ChallengeGraceSeconds int `yaml:"challenge_grace_seconds"`
	CodeRetries           int `yaml:"code_retries"`
	CodeRetryDelaySeconds int `yaml:"code_retry_delay_seconds"`
}

// BackoffBase returns the fixed part of the between-attempt delay.
func (a AuthConfig) BackoffBase() time.Duration {
	return time.Duration(a.BackoffBaseSeconds) * time.Second
}

// BackoffStep returns the attempt-indexed part of the between-attempt delay.
func (a AuthConfig) BackoffStep() time.Duration {
	return time.Duration(a.BackoffStepSeconds) * time.Second
}

// ChallengeGrace returns how long to wait after a challenge appears before
// the first code acquisition. Acquiring too early fails deterministically.
func (a AuthConfig) ChallengeGrace() time.Duration {
	return time.Duration(a.ChallengeGraceSeconds) * time.Second
}

// CodeRetryDelay returns the fixed delay between code acquisition tries.
func (a AuthConfig) CodeRetryDelay() time.Duration {
	return time.Duration(a.CodeRetryDelaySeconds) * time.Second
}

// SiteConfig points the bot at the target site. Selector strings belong to
// the site-specific layer and are supplied here rather than hard-coded.
type SiteConfig struct {
	EntryURL  string      `yaml:"entry_url"`
	Selectors SelectorSet `yaml:"selectors"`
}

// SelectorSet carries the CSS selectors for every page interaction the bot
// performs against the target site.
type SelectorSet struct {
	UsernameField    string `yaml:"username_field"`
	SecretField      string `yaml:"secret_field"`
	LoginSubmit      string `yaml:"login_submit"`
	ChallengeField   string `yaml:"challenge_field"`
	ChallengeSubmit  string `yaml:"challenge_submit"`
	SuccessIndicator string `yaml:"success_indicator,omitempty"`
	LogoutButton     string `yaml:"logout_button"`
	SearchBox        string `yaml:"search_box"`
	SearchSubmit     string `yaml:"search_submit"`
	ResultRow        string `yaml:"result_row"`
	DetailLink       string `yaml:"detail_link"`
	FailureMarker    string `yaml:"failure_marker"`
	FailureDetail    string `yaml:"failure_detail,omitempty"`
}

// CodesConfig configures the verification code sources.
type CodesConfig struct {
	IMAP    IMAPConfig    `yaml:"imap"`
	Webmail WebmailConfig `yaml:"webmail"`
}

// IMAPConfig configures the API-based inbox source.
type IMAPConfig struct {
	Server          string `yaml:"server"` // host:port, implicit TLS
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	LookbackMinutes int    `yaml:"lookback_minutes"`
	FetchWindow     int    `yaml:"fetch_window"`
}

// Lookback returns how far back the inbox search reaches.
func (i IMAPConfig) Lookback() time.Duration {
	return time.Duration(i.LookbackMinutes) * time.Minute
}

// WebmailConfig configures the UI-driven fallback source.
type WebmailConfig struct {
	URL          string `yaml:"url"`
	BodySelector string `yaml:"body_selector"`
}

// WorkItemsConfig defines the universe of work item codes for a run.
// Codes may be listed explicitly, derived from a dated activity log, or both.
type WorkItemsConfig struct {
	Codes       []string `yaml:"codes,omitempty"`
	ActivityLog string   `yaml:"activity_log,omitempty"`
	Date        string   `yaml:"date,omitempty"` // YYYY-MM-DD, defaults to today
}

// ReportConfig configures run report output.
type ReportConfig struct {
	Dir       string `yaml:"dir"`
	UploadURL string `yaml:"upload_url,omitempty"`
}

// ScheduleConfig configures the recurring run trigger.
type ScheduleConfig struct {
	Cron string `yaml:"cron,omitempty"`
}

// ClassificationConfig controls the fail-open policy: when a detail view
// cannot be parsed, the outcome defaults to success unless fail_open is
// explicitly set to false.
type ClassificationConfig struct {
	FailOpen *bool `yaml:"fail_open,omitempty"`
}

// FailOpenEnabled reports the effective fail-open policy (default true).
func (c ClassificationConfig) FailOpenEnabled() bool {
	if c.FailOpen == nil {
		return true
	}
	return *c.FailOpen
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".webbot", "config.yaml"), nil
}

// Load reads, decodes and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Pool.Size == 0 {
		c.Pool.Size = DefaultPoolSize
	}
	if c.Pool.MaxSessionAgeSeconds == 0 {
		c.Pool.MaxSessionAgeSeconds = DefaultMaxSessionAge
	}
	if c.Pool.EvictionIntervalSeconds == 0 {
		c.Pool.EvictionIntervalSeconds = DefaultEvictionInterval
	}
	if c.Pool.ProfileRoot == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			c.Pool.ProfileRoot = filepath.Join(homeDir, ".webbot", "profiles")
		}
	}
	if c.Auth.MaxAttempts == 0 {
		c.Auth.MaxAttempts = DefaultMaxLoginAttempts
	}
	if c.Auth.BackoffBaseSeconds == 0 {
		c.Auth.BackoffBaseSeconds = DefaultBackoffBase
	}
	if c.Auth.BackoffStepSeconds == 0 {
		c.Auth.BackoffStepSeconds = DefaultBackoffStep
	}
	if c.Auth.ChallengeGraceSeconds == 0 {
		c.Auth.ChallengeGraceSeconds = DefaultChallengeGrace
	}
	if c.Auth.CodeRetries == 0 {
		c.Auth.CodeRetries = DefaultCodeRetries
	}
	if c.Auth.CodeRetryDelaySeconds == 0 {
		c.Auth.CodeRetryDelaySeconds = DefaultCodeRetryDelay
	}
	if c.Codes.IMAP.LookbackMinutes == 0 {
		c.Codes.IMAP.LookbackMinutes = DefaultIMAPLookback
	}
	if c.Codes.IMAP.FetchWindow == 0 {
		c.Codes.IMAP.FetchWindow = DefaultIMAPFetchWindow
	}
	if c.WorkItems.Date == "" {
		c.WorkItems.Date = time.Now().Format("2006-01-02")
	}
	if c.Report.Dir == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			c.Report.Dir = filepath.Join(homeDir, ".webbot", "reports")
		}
	}
}

// Validate checks the configuration for unrecoverable problems.
func (c *Config) Validate() error {
	if c.Pool.Size < 1 {
		return fmt.Errorf("pool.size must be at least 1, got %d", c.Pool.Size)
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}
	for i, a := range c.Accounts {
		if a.Username == "" || a.Secret == "" {
			return fmt.Errorf("account %d is missing username or secret", i)
		}
	}
	if c.Site.EntryURL == "" {
		return fmt.Errorf("site.entry_url is required")
	}
	if _, err := time.Parse("2006-01-02", c.WorkItems.Date); err != nil {
		return fmt.Errorf("work_items.date must be YYYY-MM-DD: %w", err)
	}
	return nil
}

// FilterAccounts returns the accounts whose username matches the glob
// pattern. An empty pattern keeps every account.
func FilterAccounts(accounts []Account, pattern string) ([]Account, error) {
	if pattern == "" {
		return accounts, nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid account filter %q: %w", pattern, err)
	}

	var matched []Account
	for _, a := range accounts {
		if g.Match(a.Username) {
			matched = append(matched, a)
		}
	}
	return matched, nil
}
