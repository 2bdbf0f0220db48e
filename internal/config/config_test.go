package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scrypster/souvenir/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.StorageEngine)
	assert.Equal(t, 1.0, cfg.Recall.FtsWeight)
	assert.Equal(t, 1.5, cfg.Recall.VectorWeight)
	assert.Equal(t, 0.8, cfg.Recall.EntityWeight)
	assert.Equal(t, 0.005, cfg.Recall.TemporalDecayLambda)
	assert.Equal(t, 0.05, cfg.Recall.RelevanceThreshold)
	assert.Equal(t, 20, cfg.Recall.TopK)
	assert.Equal(t, 50, cfg.Consolidation.TaskMaxItemsPerSession)
	assert.Equal(t, 90*24*time.Hour, cfg.Consolidation.DurableDecayInactivePeriod)
	assert.Equal(t, 0.97, cfg.Consolidation.DurableDecayRate)
	assert.Equal(t, 0.05, cfg.Consolidation.DurableDecayFloor)
	assert.Equal(t, 14*24*time.Hour, cfg.Consolidation.EnvironmentalDecayInactivePeriod)
	assert.Equal(t, 0.95, cfg.Consolidation.EnvironmentalDecayRate)
	assert.Equal(t, 0.1, cfg.Consolidation.EnvironmentalDecayFloor)
	assert.Equal(t, 7*24*time.Hour, cfg.Compaction.ExpiredRetention)
	assert.Equal(t, 30*24*time.Hour, cfg.Compaction.SupersededRetention)
	assert.Equal(t, 14*24*time.Hour, cfg.Compaction.DecayedRetention)
	assert.Equal(t, 90*24*time.Hour, cfg.Compaction.EpisodeRetention)
	require.NotNil(t, cfg.Compaction.DeduplicationThreshold)
	assert.Equal(t, 0.99, *cfg.Compaction.DeduplicationThreshold)
	assert.Equal(t, 20, cfg.Engine.FlushThreshold)
	assert.False(t, cfg.Storage.RequireEncryption)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOUVENIR_STORAGE_ENGINE", "postgres")
	t.Setenv("SOUVENIR_FTS_WEIGHT", "2.5")
	t.Setenv("SOUVENIR_TOP_K", "10")
	t.Setenv("SOUVENIR_REQUIRE_ENCRYPTION", "true")
	t.Setenv("SOUVENIR_TABLE_PREFIX", "researcher_")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.StorageEngine)
	assert.Equal(t, 2.5, cfg.Recall.FtsWeight)
	assert.Equal(t, 10, cfg.Recall.TopK)
	assert.True(t, cfg.Storage.RequireEncryption)
	assert.Equal(t, "researcher_", cfg.Storage.TablePrefix)
}

func TestLoad_InvalidNumericEnvFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOUVENIR_TOP_K", "not-a-number")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Recall.TopK)
}

func TestLoadFile_OverlaysYAML(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "souvenir.yaml")
	yamlContent := []byte(`
recall:
  top_k: 5
  relevance_threshold: 0.2
storage:
  storage_engine: postgres
  table_prefix: agent1_
`)
	require.NoError(t, os.WriteFile(path, yamlContent, 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Recall.TopK)
	assert.Equal(t, 0.2, cfg.Recall.RelevanceThreshold)
	assert.Equal(t, "postgres", cfg.Storage.StorageEngine)
	assert.Equal(t, "agent1_", cfg.Storage.TablePrefix)
	// Fields untouched by the file keep their env/default value.
	assert.Equal(t, 1.0, cfg.Recall.FtsWeight)
}

func TestLoadFile_MissingFileErrors(t *testing.T) {
	clearEnv(t)
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SOUVENIR_STORAGE_ENGINE", "SOUVENIR_DSN", "SOUVENIR_TABLE_PREFIX",
		"SOUVENIR_REQUIRE_ENCRYPTION", "SOUVENIR_FTS_WEIGHT", "SOUVENIR_VECTOR_WEIGHT",
		"SOUVENIR_ENTITY_WEIGHT", "SOUVENIR_TEMPORAL_DECAY_LAMBDA", "SOUVENIR_RELEVANCE_THRESHOLD",
		"SOUVENIR_TOP_K", "SOUVENIR_DEFAULT_TOKEN_BUDGET", "SOUVENIR_TASK_MAX_ITEMS_PER_SESSION",
	} {
		_ = os.Unsetenv(key)
	}
}
