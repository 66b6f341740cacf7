package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "", cfg.DB)
	assert.False(t, cfg.NoColor)
	assert.Equal(t, "", cfg.DefaultProject)
	assert.Equal(t, "", cfg.DefaultWorkerID)

	assert.Equal(t, 15, cfg.PollIntervalSeconds)
	assert.Equal(t, 3, cfg.MaxInternalAttempts)
	assert.Equal(t, "standard", cfg.ValidationLevel)
	assert.Equal(t, 120, cfg.ValidationTimeoutSeconds)
	assert.Equal(t, 30, cfg.HeartbeatPeriodSeconds)
	assert.Equal(t, 900, cfg.ClaimTTLSeconds)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, "main", cfg.BaseBranch)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.LLMAPIKeyEnv)
	assert.Equal(t, "GITHUB_TOKEN", cfg.GitHubTokenEnv)
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	cfg, err := LoadFromPath("/nonexistent/path/config.toml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromPath_ValidFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
db = "/custom/db/path.db"
no_color = true
default_project = "TESTPROJ"
default_worker_id = "worker-123"
poll_interval = 20
max_internal_attempts = 5
validation_level = "strict"
base_branch = "develop"
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/custom/db/path.db", cfg.DB)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "TESTPROJ", cfg.DefaultProject)
	assert.Equal(t, "worker-123", cfg.DefaultWorkerID)
	assert.Equal(t, 20, cfg.PollIntervalSeconds)
	assert.Equal(t, 5, cfg.MaxInternalAttempts)
	assert.Equal(t, "strict", cfg.ValidationLevel)
	assert.Equal(t, "develop", cfg.BaseBranch)
}

func TestLoadFromPath_PartialFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
default_project = "MYPROJ"
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, "MYPROJ", cfg.DefaultProject)
	assert.Equal(t, "", cfg.DB)
	assert.False(t, cfg.NoColor)
	assert.Equal(t, "", cfg.DefaultWorkerID)
	assert.Equal(t, "standard", cfg.ValidationLevel)
}

func TestLoadFromPath_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `invalid toml {{{{ content`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	_, err = LoadFromPath(configPath)
	assert.Error(t, err)
}

func TestLoadFromPath_EmptyPath(t *testing.T) {
	cfg, err := LoadFromPath("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
db = "/file/db/path.db"
no_color = false
default_project = "FILEPROJ"
default_worker_id = "file-worker"
poll_interval = 30
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	t.Setenv("TICKETWRIGHT_DB", "/env/db/path.db")
	t.Setenv("TICKETWRIGHT_NO_COLOR", "1")
	t.Setenv("TICKETWRIGHT_DEFAULT_PROJECT", "ENVPROJ")
	t.Setenv("TICKETWRIGHT_DEFAULT_WORKER_ID", "env-worker")
	t.Setenv("TICKETWRIGHT_POLL_INTERVAL", "90")

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/env/db/path.db", cfg.DB)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "ENVPROJ", cfg.DefaultProject)
	assert.Equal(t, "env-worker", cfg.DefaultWorkerID)
	assert.Equal(t, 90, cfg.PollIntervalSeconds)
}

func TestEnvOverrides_DomainKeys(t *testing.T) {
	t.Setenv("TICKETWRIGHT_POLL_INTERVAL", "45")
	t.Setenv("TICKETWRIGHT_MAX_INTERNAL_ATTEMPTS", "7")
	t.Setenv("TICKETWRIGHT_VALIDATION_LEVEL", "minimal")
	t.Setenv("TICKETWRIGHT_VALIDATION_TIMEOUT", "60")
	t.Setenv("TICKETWRIGHT_HEARTBEAT_PERIOD", "10")
	t.Setenv("TICKETWRIGHT_CLAIM_TTL", "300")
	t.Setenv("TICKETWRIGHT_MAX_ATTEMPTS", "9")
	t.Setenv("TICKETWRIGHT_WORKER_MODEL", "claude-opus-4")
	t.Setenv("TICKETWRIGHT_BASE_BRANCH", "trunk")
	t.Setenv("TICKETWRIGHT_LLM_API_KEY_ENV", "MY_LLM_KEY")
	t.Setenv("TICKETWRIGHT_GITHUB_TOKEN_ENV", "MY_GH_TOKEN")

	cfg, err := LoadFromPath("")
	require.NoError(t, err)

	assert.Equal(t, 45, cfg.PollIntervalSeconds)
	assert.Equal(t, 7, cfg.MaxInternalAttempts)
	assert.Equal(t, "minimal", cfg.ValidationLevel)
	assert.Equal(t, 60, cfg.ValidationTimeoutSeconds)
	assert.Equal(t, 10, cfg.HeartbeatPeriodSeconds)
	assert.Equal(t, 300, cfg.ClaimTTLSeconds)
	assert.Equal(t, 9, cfg.MaxAttempts)
	assert.Equal(t, "claude-opus-4", cfg.WorkerModel)
	assert.Equal(t, "trunk", cfg.BaseBranch)
	assert.Equal(t, "MY_LLM_KEY", cfg.LLMAPIKeyEnv)
	assert.Equal(t, "MY_GH_TOKEN", cfg.GitHubTokenEnv)
}

func TestEnvOverrides_PartialEnv(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
db = "/file/db/path.db"
default_project = "FILEPROJ"
poll_interval = 30
`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	t.Setenv("TICKETWRIGHT_DB", "/env/db/path.db")

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/env/db/path.db", cfg.DB)
	assert.Equal(t, "FILEPROJ", cfg.DefaultProject)
	assert.Equal(t, 30, cfg.PollIntervalSeconds)
}

func TestEnvOverrides_NoColorAnyValue(t *testing.T) {
	testCases := []string{"1", "true", "yes", "anything", ""}

	for _, val := range testCases {
		t.Run("value="+val, func(t *testing.T) {
			t.Setenv("TICKETWRIGHT_NO_COLOR", val)
			cfg, err := LoadFromPath("")
			require.NoError(t, err)
			assert.True(t, cfg.NoColor, "TICKETWRIGHT_NO_COLOR=%q should enable no_color", val)
		})
	}
}

func TestEnvOverrides_InvalidPollInterval(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `poll_interval = 45`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	t.Setenv("TICKETWRIGHT_POLL_INTERVAL", "invalid")
	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.PollIntervalSeconds)

	t.Setenv("TICKETWRIGHT_POLL_INTERVAL", "0")
	cfg, err = LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.PollIntervalSeconds)

	t.Setenv("TICKETWRIGHT_POLL_INTERVAL", "-10")
	cfg, err = LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.PollIntervalSeconds)
}

func TestGetDB(t *testing.T) {
	cfg := &Config{DB: "/custom/path.db"}
	assert.Equal(t, "/custom/path.db", cfg.GetDB())

	cfg = &Config{DB: ""}
	assert.Equal(t, "", cfg.GetDB())
}

func TestModelForScope(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerModel = "claude-sonnet-4"
	cfg.ScopeToModelMap = map[string]string{"large": "claude-opus-4"}

	assert.Equal(t, "claude-opus-4", cfg.ModelForScope("large"))
	assert.Equal(t, "claude-sonnet-4", cfg.ModelForScope("small"))
	assert.Equal(t, "claude-sonnet-4", cfg.ModelForScope("unknown"))
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollIntervalSeconds = 0
	cfg.HeartbeatPeriodSeconds = 0
	cfg.ClaimTTLSeconds = 0
	cfg.ValidationTimeoutSeconds = 0

	assert.Equal(t, 15, int(cfg.PollInterval().Seconds()))
	assert.Equal(t, 30, int(cfg.HeartbeatPeriod().Seconds()))
	assert.Equal(t, 900, int(cfg.ClaimTTL().Seconds()))
	assert.Equal(t, 120, int(cfg.ValidationTimeout().Seconds()))
}

func TestWriteConfigFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "subdir", "config.toml")

	err := WriteConfigFile(configPath)
	require.NoError(t, err)

	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "ticketwright Configuration File")
	assert.Contains(t, string(content), "db =")
	assert.Contains(t, string(content), "no_color")
	assert.Contains(t, string(content), "default_project")
	assert.Contains(t, string(content), "default_worker_id")
	assert.Contains(t, string(content), "poll_interval")
}

func TestSampleConfig(t *testing.T) {
	sample := SampleConfig()
	assert.Contains(t, sample, "ticketwright Configuration File")
	assert.Contains(t, sample, "TICKETWRIGHT_DB")
	assert.Contains(t, sample, "TICKETWRIGHT_NO_COLOR")
	assert.Contains(t, sample, "TICKETWRIGHT_DEFAULT_PROJECT")
	assert.Contains(t, sample, "TICKETWRIGHT_DEFAULT_WORKER_ID")
	assert.Contains(t, sample, "TICKETWRIGHT_POLL_INTERVAL")
	assert.Contains(t, sample, "validation_level")
	assert.Contains(t, sample, "scope_to_model_map")
	assert.Contains(t, sample, "llm_api_key_env")
	assert.Contains(t, sample, "github_token_env")
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	assert.Contains(t, path, ".ticketwright")
	assert.Contains(t, path, "config.toml")
}

func TestDBPathPrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `db = "/file/db.db"`
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	t.Setenv("TICKETWRIGHT_DB", "/ticketwright-db-path.db")
	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, "/ticketwright-db-path.db", cfg.DB)

	t.Setenv("TICKETWRIGHT_DB", "")
	t.Setenv("TICKETWRIGHT_DB_PATH", "/ticketwright-db-path-explicit.db")
	cfg, err = LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, "/ticketwright-db-path-explicit.db", cfg.DB)

	t.Setenv("TICKETWRIGHT_DB", "/should-be-ignored.db")
	t.Setenv("TICKETWRIGHT_DB_PATH", "/should-win.db")
	cfg, err = LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, "/should-win.db", cfg.DB)
}

func TestPriorityOrder(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	cfg, err := LoadFromPath(filepath.Join(dir, "nonexistent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.PollIntervalSeconds)

	content := `poll_interval = 45`
	err = os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err = LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.PollIntervalSeconds)

	t.Setenv("TICKETWRIGHT_POLL_INTERVAL", "90")
	cfg, err = LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.PollIntervalSeconds)
}
