package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const minimalConfig = `
accounts:
  - username: qa-main
    secret: hunter2
site:
  entry_url: https://portal.example.com/login
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultPoolSize, cfg.Pool.Size)
	assert.Equal(t, 15*time.Minute, cfg.Pool.MaxSessionAge())
	assert.Equal(t, time.Minute, cfg.Pool.EvictionInterval())
	assert.Equal(t, DefaultMaxLoginAttempts, cfg.Auth.MaxAttempts)
	assert.Equal(t, 20*time.Second, cfg.Auth.ChallengeGrace())
	assert.Equal(t, DefaultCodeRetries, cfg.Auth.CodeRetries)
	assert.Equal(t, 15*time.Minute, cfg.Codes.IMAP.Lookback())
	assert.NotEmpty(t, cfg.WorkItems.Date)
	assert.True(t, cfg.Classification.FailOpenEnabled())
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
pool:
  size: 5
  max_session_age_seconds: 120
auth:
  max_attempts: 2
  backoff_base_seconds: 1
  backoff_step_seconds: 3
classification:
  fail_open: false
`))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pool.Size)
	assert.Equal(t, 2*time.Minute, cfg.Pool.MaxSessionAge())
	assert.Equal(t, 2, cfg.Auth.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Auth.BackoffBase())
	assert.Equal(t, 3*time.Second, cfg.Auth.BackoffStep())
	assert.False(t, cfg.Classification.FailOpenEnabled())
}

func TestLoadRejectsMissingAccounts(t *testing.T) {
	_, err := Load(writeConfig(t, `
site:
  entry_url: https://portal.example.com/login
`))
	assert.ErrorContains(t, err, "at least one account")
}

func TestLoadRejectsIncompleteAccount(t *testing.T) {
	_, err := Load(writeConfig(t, `
accounts:
  - username: qa-main
site:
  entry_url: https://portal.example.com/login
`))
	assert.ErrorContains(t, err, "missing username or secret")
}

func TestLoadRejectsMissingEntryURL(t *testing.T) {
	_, err := Load(writeConfig(t, `
accounts:
  - username: qa-main
    secret: hunter2
`))
	assert.ErrorContains(t, err, "entry_url")
}

func TestLoadRejectsBadDate(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
work_items:
  date: 27/08/2026
`))
	assert.ErrorContains(t, err, "YYYY-MM-DD")
}

func TestFilterAccounts(t *testing.T) {
	all := []Account{
		{Username: "qa-main"},
		{Username: "qa-backup"},
		{Username: "ops-main"},
	}

	t.Run("empty pattern keeps everything", func(t *testing.T) {
		matched, err := FilterAccounts(all, "")
		require.NoError(t, err)
		assert.Len(t, matched, 3)
	})

	t.Run("glob narrows", func(t *testing.T) {
		matched, err := FilterAccounts(all, "qa-*")
		require.NoError(t, err)
		require.Len(t, matched, 2)
		assert.Equal(t, "qa-main", matched[0].Username)
	})

	t.Run("exact match", func(t *testing.T) {
		matched, err := FilterAccounts(all, "ops-main")
		require.NoError(t, err)
		require.Len(t, matched, 1)
	})

	t.Run("bad pattern errors", func(t *testing.T) {
		_, err := FilterAccounts(all, "[")
		assert.Error(t, err)
	})
}

func TestWorkUniverseMergesAndNormalizes(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "activity.log")
	log := "# header comment\n" +
		"2026-08-27\tab-1042\tpaid\n" +
		"2026-08-27\tAB-1042\tduplicate casing\n" +
		"2026-08-27\tcd-2077\n" +
		"2026-08-26\tzz-9999\tother day\n" +
		"malformed line without tabs\n"
	require.NoError(t, os.WriteFile(logPath, []byte(log), 0600))

	cfg := &Config{
		WorkItems: WorkItemsConfig{
			Codes:       []string{" ab-1042 ", "EF-3001"},
			ActivityLog: logPath,
			Date:        "2026-08-27",
		},
	}

	universe, err := cfg.WorkUniverse()
	require.NoError(t, err)
	assert.Equal(t, []string{"AB-1042", "EF-3001", "CD-2077"}, universe)
}

func TestWorkUniverseWithoutActivityLog(t *testing.T) {
	cfg := &Config{WorkItems: WorkItemsConfig{Codes: []string{"a1", "a1", "b2"}}}

	universe, err := cfg.WorkUniverse()
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B2"}, universe)
}

func TestWorkUniverseMissingLogFileErrors(t *testing.T) {
	cfg := &Config{WorkItems: WorkItemsConfig{ActivityLog: "/nonexistent/activity.log", Date: "2026-08-27"}}

	_, err := cfg.WorkUniverse()
	assert.Error(t, err)
}
