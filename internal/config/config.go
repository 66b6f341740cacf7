// Package config provides configuration file and environment variable support for ticketwright.
//
// Configuration priority (highest to lowest):
//  1. Command-line flags
//  2. Environment variables
//  3. Config file (~/.ticketwright/config.toml)
//  4. Built-in defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/daglabs/ticketwright/internal/models"
)

// Config represents the ticketwright configuration.
type Config struct {
	// DB is the path to the database file.
	// Default: ~/.ticketwright/ticketwright.db
	DB string `toml:"db"`

	// NoColor disables colored output.
	// Default: false
	NoColor bool `toml:"no_color"`

	// DefaultProject is the default project key for commands.
	// Used when --project/-p flag is not specified.
	DefaultProject string `toml:"default_project"`

	// DefaultWorkerID is the default agent id for worker processes.
	// Used when `worker run --agent-id` is not specified.
	DefaultWorkerID string `toml:"default_worker_id"`

	// PollIntervalSeconds is how often an idle worker asks for new work.
	PollIntervalSeconds int `toml:"poll_interval"`

	// MaxInternalAttempts bounds the generate-validate-retry loop within a
	// single claim. Distinct from a project's MaxAttempts, which bounds
	// how many times a ticket is reclaimed across separate claims.
	MaxInternalAttempts int `toml:"max_internal_attempts"`

	// ValidationLevel is the default validator ladder: minimal, standard,
	// or strict. A project's own validation_level overrides this.
	ValidationLevel string `toml:"validation_level"`

	// ValidationTimeoutSeconds bounds how long a single validation ladder
	// run may take before the stage is treated as failed.
	ValidationTimeoutSeconds int `toml:"validation_timeout"`

	// HeartbeatPeriodSeconds is how often a worker renews its claim.
	HeartbeatPeriodSeconds int `toml:"heartbeat_period"`

	// ClaimTTLSeconds is the default claim TTL for projects that don't
	// set their own.
	ClaimTTLSeconds int `toml:"claim_ttl"`

	// MaxAttempts is the default attempt budget for projects that don't
	// set their own.
	MaxAttempts int `toml:"max_attempts"`

	// WorkerModel names the default LLM model a worker uses when a
	// ticket's scope has no entry in ScopeToModelMap.
	WorkerModel string `toml:"worker_model"`

	// ScopeToModelMap maps an estimated scope (small, medium, large) to
	// the model a worker should use for it.
	ScopeToModelMap map[string]string `toml:"scope_to_model_map"`

	// BaseBranch is the default base branch for projects that don't set
	// their own repository base branch.
	BaseBranch string `toml:"base_branch"`

	// LLMAPIKeyEnv names the environment variable holding the LLM
	// provider API key. Secret storage itself is out of scope; this only
	// names where to look.
	LLMAPIKeyEnv string `toml:"llm_api_key_env"`

	// GitHubTokenEnv names the environment variable holding the GitHub
	// token used to open pull requests.
	GitHubTokenEnv string `toml:"github_token_env"`

	// AgentKeyEnv names the environment variable holding the shared
	// X-Agent-Key both the server and every worker authenticate with.
	AgentKeyEnv string `toml:"agent_key_env"`

	// OrchestratorURL is the base URL a worker polls for claims.
	OrchestratorURL string `toml:"orchestrator_url"`

	// MaxFileLines bounds how much of an existing file is sent to the
	// model; files longer than this are presented as head+tail halves
	// with an ellipsis in between.
	MaxFileLines int `toml:"max_file_lines"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		DB:                       "", // Empty means use db.DefaultDBPath
		NoColor:                  false,
		PollIntervalSeconds:      15,
		MaxInternalAttempts:      3,
		ValidationLevel:          "standard",
		ValidationTimeoutSeconds: 120,
		HeartbeatPeriodSeconds:   30,
		ClaimTTLSeconds:          900,
		MaxAttempts:              3,
		WorkerModel:              "",
		ScopeToModelMap:          map[string]string{},
		BaseBranch:               "main",
		LLMAPIKeyEnv:             "ANTHROPIC_API_KEY",
		GitHubTokenEnv:           "GITHUB_TOKEN",
		AgentKeyEnv:              "TICKETWRIGHT_AGENT_KEY",
		OrchestratorURL:          "http://localhost:18080",
		MaxFileLines:             400,
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ticketwright", "config.toml")
}

// Load loads configuration from the config file and environment variables.
// Environment variables take precedence over file settings.
// Returns default config if the config file doesn't exist.
func Load() (*Config, error) {
	return LoadFromPath(DefaultConfigPath())
}

// LoadFromPath loads configuration from a specific file path.
// Environment variables take precedence over file settings.
// Returns default config if the config file doesn't exist.
func LoadFromPath(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Try to load from config file
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if _, err := toml.DecodeFile(configPath, cfg); err != nil {
				return nil, err
			}
		}
		// If file doesn't exist, just continue with defaults
	}

	// Apply environment variable overrides
	cfg.applyEnv()

	return cfg, nil
}

// applyEnv applies environment variable overrides to the config.
func (c *Config) applyEnv() {
	// Check TICKETWRIGHT_DB first
	if db := os.Getenv("TICKETWRIGHT_DB"); db != "" {
		c.DB = db
	}
	// TICKETWRIGHT_DB_PATH takes precedence over TICKETWRIGHT_DB (more explicit name)
	if dbPath := os.Getenv("TICKETWRIGHT_DB_PATH"); dbPath != "" {
		c.DB = dbPath
	}

	// TICKETWRIGHT_NO_COLOR - any value means true
	if _, ok := os.LookupEnv("TICKETWRIGHT_NO_COLOR"); ok {
		c.NoColor = true
	}

	if project := os.Getenv("TICKETWRIGHT_DEFAULT_PROJECT"); project != "" {
		c.DefaultProject = project
	}

	if workerID := os.Getenv("TICKETWRIGHT_DEFAULT_WORKER_ID"); workerID != "" {
		c.DefaultWorkerID = workerID
	}

	if v := os.Getenv("TICKETWRIGHT_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PollIntervalSeconds = n
		}
	}

	if v := os.Getenv("TICKETWRIGHT_MAX_INTERNAL_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxInternalAttempts = n
		}
	}

	if v := os.Getenv("TICKETWRIGHT_VALIDATION_LEVEL"); v != "" {
		c.ValidationLevel = v
	}

	if v := os.Getenv("TICKETWRIGHT_VALIDATION_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ValidationTimeoutSeconds = n
		}
	}

	if v := os.Getenv("TICKETWRIGHT_HEARTBEAT_PERIOD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.HeartbeatPeriodSeconds = n
		}
	}

	if v := os.Getenv("TICKETWRIGHT_CLAIM_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ClaimTTLSeconds = n
		}
	}

	if v := os.Getenv("TICKETWRIGHT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxAttempts = n
		}
	}

	if v := os.Getenv("TICKETWRIGHT_WORKER_MODEL"); v != "" {
		c.WorkerModel = v
	}

	if v := os.Getenv("TICKETWRIGHT_BASE_BRANCH"); v != "" {
		c.BaseBranch = v
	}

	if v := os.Getenv("TICKETWRIGHT_LLM_API_KEY_ENV"); v != "" {
		c.LLMAPIKeyEnv = v
	}

	if v := os.Getenv("TICKETWRIGHT_GITHUB_TOKEN_ENV"); v != "" {
		c.GitHubTokenEnv = v
	}

	if v := os.Getenv("TICKETWRIGHT_AGENT_KEY_ENV"); v != "" {
		c.AgentKeyEnv = v
	}

	if v := os.Getenv("TICKETWRIGHT_ORCHESTRATOR_URL"); v != "" {
		c.OrchestratorURL = v
	}

	if v := os.Getenv("TICKETWRIGHT_MAX_FILE_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxFileLines = n
		}
	}
}

// GetDB returns the database path, using the default if not set.
func (c *Config) GetDB() string {
	if c.DB != "" {
		return c.DB
	}
	return "" // Return empty to signal use of db.DefaultDBPath
}

// PollInterval returns the poll interval as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// HeartbeatPeriod returns the heartbeat period as a time.Duration.
func (c *Config) HeartbeatPeriod() time.Duration {
	if c.HeartbeatPeriodSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.HeartbeatPeriodSeconds) * time.Second
}

// ClaimTTL returns the default claim TTL as a time.Duration.
func (c *Config) ClaimTTL() time.Duration {
	if c.ClaimTTLSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.ClaimTTLSeconds) * time.Second
}

// ValidationTimeout returns the validation timeout as a time.Duration.
func (c *Config) ValidationTimeout() time.Duration {
	if c.ValidationTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.ValidationTimeoutSeconds) * time.Second
}

// ValidationLevelValue returns ValidationLevel parsed as a
// models.ValidationLevel, defaulting to standard when unset or invalid.
func (c *Config) ValidationLevelValue() models.ValidationLevel {
	level := models.ValidationLevel(c.ValidationLevel)
	if !level.IsValid() {
		return models.ValidationStandard
	}
	return level
}

// ModelForScope resolves the LLM model to use for a ticket of the given
// estimated scope, falling back to WorkerModel when the scope has no
// explicit mapping.
func (c *Config) ModelForScope(scope string) string {
	if model, ok := c.ScopeToModelMap[scope]; ok && model != "" {
		return model
	}
	return c.WorkerModel
}

// SampleConfig returns a sample configuration file content.
func SampleConfig() string {
	return `# ticketwright Configuration File
# Location: ~/.ticketwright/config.toml
#
# Configuration priority (highest to lowest):
#   1. Command-line flags
#   2. Environment variables (TICKETWRIGHT_*)
#   3. This config file
#   4. Built-in defaults

# Path to the database file
# Default: ~/.ticketwright/ticketwright.db
# Environment: TICKETWRIGHT_DB or TICKETWRIGHT_DB_PATH (TICKETWRIGHT_DB_PATH takes precedence)
# db = "/path/to/ticketwright.db"

# Disable colored output
# Default: false
# Environment: TICKETWRIGHT_NO_COLOR (any value = true)
# no_color = false

# Default project key for commands
# Used when --project/-p flag is not specified
# Environment: TICKETWRIGHT_DEFAULT_PROJECT
# default_project = "MYPROJ"

# Default agent id for worker processes
# Used when 'worker run --agent-id' is not specified
# Environment: TICKETWRIGHT_DEFAULT_WORKER_ID
# default_worker_id = "agent-1"

# How often an idle worker polls for new work, in seconds
# Environment: TICKETWRIGHT_POLL_INTERVAL
# poll_interval = 15

# Generate-validate-retry attempts allowed within a single claim
# Environment: TICKETWRIGHT_MAX_INTERNAL_ATTEMPTS
# max_internal_attempts = 3

# Validator ladder: minimal, standard, strict
# Environment: TICKETWRIGHT_VALIDATION_LEVEL
# validation_level = "standard"

# Timeout in seconds for a single validation ladder run
# Environment: TICKETWRIGHT_VALIDATION_TIMEOUT
# validation_timeout = 120

# How often a worker renews its claim, in seconds
# Environment: TICKETWRIGHT_HEARTBEAT_PERIOD
# heartbeat_period = 30

# Default claim TTL in seconds, for projects without their own setting
# Environment: TICKETWRIGHT_CLAIM_TTL
# claim_ttl = 900

# Default attempt budget, for projects without their own setting
# Environment: TICKETWRIGHT_MAX_ATTEMPTS
# max_attempts = 3

# Default LLM model for workers
# Environment: TICKETWRIGHT_WORKER_MODEL
# worker_model = "claude-sonnet-4"

# Per-scope model overrides
# [scope_to_model_map]
# small = "claude-haiku-4"
# large = "claude-opus-4"

# Default base branch, for projects without their own setting
# Environment: TICKETWRIGHT_BASE_BRANCH
# base_branch = "main"

# Environment variable names holding secrets (not the secrets themselves)
# Environment: TICKETWRIGHT_LLM_API_KEY_ENV, TICKETWRIGHT_GITHUB_TOKEN_ENV, TICKETWRIGHT_AGENT_KEY_ENV
# llm_api_key_env = "ANTHROPIC_API_KEY"
# github_token_env = "GITHUB_TOKEN"
# agent_key_env = "TICKETWRIGHT_AGENT_KEY"

# Base URL a worker polls for claims
# Environment: TICKETWRIGHT_ORCHESTRATOR_URL
# orchestrator_url = "http://localhost:18080"

# Existing-file lines sent to the model before head/tail truncation
# Environment: TICKETWRIGHT_MAX_FILE_LINES
# max_file_lines = 400
`
}

// WriteConfigFile writes the sample config file to the specified path.
// Creates parent directories if needed.
func WriteConfigFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(SampleConfig()), 0644)
}
