package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbridge/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
app:
  name: taskbridge
  environment: test
database:
  path: /tmp/taskbridge-test.db
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Motion.RequestsPerMinute)
	assert.Equal(t, 50, cfg.Trello.BatchSize)
	assert.Equal(t, "exponential", cfg.Motion.BackoffStrategy)
	assert.Equal(t, "linear", cfg.Trello.BackoffStrategy)
	assert.Equal(t, 10, cfg.Queue.BatchSize)
	assert.Equal(t, 3, models.DefaultMaxRetries)
	assert.Equal(t, 7, cfg.Queue.RetentionDays)
	assert.Equal(t, models.StrategyLatestWins, cfg.Queue.DefaultStrategy)
	assert.Equal(t, 8080, cfg.Webhook.Port)
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TEST_MOTION_TOKEN", "secret-token")

	cfg, err := Load(writeConfig(t, minimalConfig+`
motion:
  api_token: ${TEST_MOTION_TOKEN}
`))
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.Motion.APIToken)
}

func TestValidateRejectsMissingDatabase(t *testing.T) {
	_, err := Load(writeConfig(t, `app: {name: x}`))
	assert.Error(t, err)
}

func TestValidateRejectsBadBackoff(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
motion:
  backoff_strategy: fibonacci
`))
	assert.Error(t, err)
}

func TestValidateRejectsManualDefaultStrategy(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
queue:
  default_strategy: manual_merge
`))
	assert.Error(t, err, "default strategy must work unattended")
}

func TestValidateNotifyNeedsToken(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
notify:
  telegram_enabled: true
`))
	assert.Error(t, err)
}

func TestValidateProjects(t *testing.T) {
	valid := []*models.SyncProject{
		{ID: 1, Name: "Roadmap", MotionProjectID: "proj-1", TrelloBoardID: "board-1", SyncEnabled: true},
		{ID: 2, Name: "Marketing", MotionProjectID: "proj-2", TrelloBoardID: "board-2"},
	}
	assert.NoError(t, ValidateProjects(valid))

	assert.Error(t, ValidateProjects([]*models.SyncProject{
		{ID: 0, Name: "bad", MotionProjectID: "p", TrelloBoardID: "b"},
	}))

	assert.Error(t, ValidateProjects([]*models.SyncProject{
		{ID: 1, MotionProjectID: "p1", TrelloBoardID: "b1"},
		{ID: 1, MotionProjectID: "p2", TrelloBoardID: "b2"},
	}), "duplicate project id")

	assert.Error(t, ValidateProjects([]*models.SyncProject{
		{ID: 1, MotionProjectID: "p1", TrelloBoardID: ""},
	}), "unpaired project")

	assert.Error(t, ValidateProjects([]*models.SyncProject{
		{ID: 1, MotionProjectID: "p1", TrelloBoardID: "b1"},
		{ID: 2, MotionProjectID: "p1", TrelloBoardID: "b2"},
	}), "motion project paired twice")
}
