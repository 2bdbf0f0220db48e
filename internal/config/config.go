// Package config provides configuration management for the Souvenir memory
// engine. It loads settings from environment variables with the SOUVENIR_
// prefix, with sensible defaults matching every literal default named in the
// specification, and supports a YAML override file for the same tunables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig carries every tunable named in the recall/consolidation/
// compaction algorithms, plus storage selection and multi-agent isolation.
type EngineConfig struct {
	Storage       StorageConfig       `yaml:"storage"`
	Recall        RecallConfig        `yaml:"recall"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Compaction    CompactionConfig    `yaml:"compaction"`
	Engine        EngineTunables      `yaml:"engine"`
}

// StorageConfig selects and configures the backing MemoryStore/EpisodeStore.
type StorageConfig struct {
	// StorageEngine selects the backend: "sqlite" (default) or "postgres".
	StorageEngine string `yaml:"storage_engine"`
	// DSN is the backend-specific connection string (a file path for
	// sqlite, a libpq connection string for postgres).
	DSN string `yaml:"dsn"`
	// TablePrefix is prepended to every table/virtual-table name so several
	// agents can share one backing file/database without collision.
	TablePrefix string `yaml:"table_prefix"`
	// RequireEncryption fails construction fast if the DSN carries no
	// SQLCipher-equivalent encryption key.
	RequireEncryption bool `yaml:"require_encryption"`
}

// RecallConfig tunes UnifiedRecall's fusion, decay, and budget behaviour.
type RecallConfig struct {
	FtsWeight            float64            `yaml:"fts_weight"`
	VectorWeight         float64            `yaml:"vector_weight"`
	EntityWeight         float64            `yaml:"entity_weight"`
	ComponentWeights     map[string]float64 `yaml:"component_weights"`
	TemporalDecayLambda  float64            `yaml:"temporal_decay_lambda"`
	RelevanceThreshold   float64            `yaml:"relevance_threshold"`
	TopK                 int                `yaml:"top_k"`
	DefaultTokenBudget   int                `yaml:"default_token_budget"`
	FtsCandidateLimit    int                `yaml:"fts_candidate_limit"`
	VectorCandidateLimit int                `yaml:"vector_candidate_limit"`
	CharsPerToken        int                `yaml:"chars_per_token"`
}

// ConsolidationConfig tunes the three reference components' lifecycle
// behaviour.
type ConsolidationConfig struct {
	TaskMaxItemsPerSession int `yaml:"task_max_items_per_session"`

	DurableDecayInactivePeriod time.Duration `yaml:"durable_decay_inactive_period"`
	DurableDecayRate           float64       `yaml:"durable_decay_rate"`
	DurableDecayFloor          float64       `yaml:"durable_decay_floor"`

	EnvironmentalDecayInactivePeriod time.Duration `yaml:"environmental_decay_inactive_period"`
	EnvironmentalDecayRate           float64       `yaml:"environmental_decay_rate"`
	EnvironmentalDecayFloor          float64       `yaml:"environmental_decay_floor"`

	FindSimilarLimit int `yaml:"find_similar_limit"`
}

// CompactionConfig tunes tombstone retention, episode pruning, and
// near-duplicate clustering.
type CompactionConfig struct {
	ExpiredRetention       time.Duration `yaml:"expired_retention"`
	SupersededRetention    time.Duration `yaml:"superseded_retention"`
	DecayedRetention       time.Duration `yaml:"decayed_retention"`
	EpisodeRetention       time.Duration `yaml:"episode_retention"`
	DeduplicationThreshold *float64      `yaml:"deduplication_threshold"`
}

// EngineTunables configures the coordinator itself.
type EngineTunables struct {
	FlushThreshold int `yaml:"flush_threshold"`
}

// Load builds an EngineConfig from environment variables prefixed
// SOUVENIR_, falling back to the literal defaults named throughout the
// specification.
func Load() (*EngineConfig, error) {
	dedupDefault := 0.99

	cfg := &EngineConfig{
		Storage: StorageConfig{
			StorageEngine:     getEnv("SOUVENIR_STORAGE_ENGINE", "sqlite"),
			DSN:               getEnv("SOUVENIR_DSN", "./souvenir.db"),
			TablePrefix:       getEnv("SOUVENIR_TABLE_PREFIX", ""),
			RequireEncryption: getEnvBool("SOUVENIR_REQUIRE_ENCRYPTION", false),
		},
		Recall: RecallConfig{
			FtsWeight:            getEnvFloat("SOUVENIR_FTS_WEIGHT", 1.0),
			VectorWeight:         getEnvFloat("SOUVENIR_VECTOR_WEIGHT", 1.5),
			EntityWeight:         getEnvFloat("SOUVENIR_ENTITY_WEIGHT", 0.8),
			ComponentWeights:     map[string]float64{},
			TemporalDecayLambda:  getEnvFloat("SOUVENIR_TEMPORAL_DECAY_LAMBDA", 0.005),
			RelevanceThreshold:   getEnvFloat("SOUVENIR_RELEVANCE_THRESHOLD", 0.05),
			TopK:                 getEnvInt("SOUVENIR_TOP_K", 20),
			DefaultTokenBudget:   getEnvInt("SOUVENIR_DEFAULT_TOKEN_BUDGET", 2000),
			FtsCandidateLimit:    getEnvInt("SOUVENIR_FTS_CANDIDATE_LIMIT", 50),
			VectorCandidateLimit: getEnvInt("SOUVENIR_VECTOR_CANDIDATE_LIMIT", 20),
			CharsPerToken:        getEnvInt("SOUVENIR_CHARS_PER_TOKEN", 4),
		},
		Consolidation: ConsolidationConfig{
			TaskMaxItemsPerSession: getEnvInt("SOUVENIR_TASK_MAX_ITEMS_PER_SESSION", 50),

			DurableDecayInactivePeriod: getEnvDuration("SOUVENIR_DURABLE_DECAY_INACTIVE_PERIOD", 90*24*time.Hour),
			DurableDecayRate:           getEnvFloat("SOUVENIR_DURABLE_DECAY_RATE", 0.97),
			DurableDecayFloor:          getEnvFloat("SOUVENIR_DURABLE_DECAY_FLOOR", 0.05),

			EnvironmentalDecayInactivePeriod: getEnvDuration("SOUVENIR_ENVIRONMENTAL_DECAY_INACTIVE_PERIOD", 14*24*time.Hour),
			EnvironmentalDecayRate:           getEnvFloat("SOUVENIR_ENVIRONMENTAL_DECAY_RATE", 0.95),
			EnvironmentalDecayFloor:          getEnvFloat("SOUVENIR_ENVIRONMENTAL_DECAY_FLOOR", 0.1),

			FindSimilarLimit: getEnvInt("SOUVENIR_FIND_SIMILAR_LIMIT", 5),
		},
		Compaction: CompactionConfig{
			ExpiredRetention:       getEnvDuration("SOUVENIR_EXPIRED_RETENTION", 7*24*time.Hour),
			SupersededRetention:    getEnvDuration("SOUVENIR_SUPERSEDED_RETENTION", 30*24*time.Hour),
			DecayedRetention:       getEnvDuration("SOUVENIR_DECAYED_RETENTION", 14*24*time.Hour),
			EpisodeRetention:       getEnvDuration("SOUVENIR_EPISODE_RETENTION", 90*24*time.Hour),
			DeduplicationThreshold: &dedupDefault,
		},
		Engine: EngineTunables{
			FlushThreshold: getEnvInt("SOUVENIR_FLUSH_THRESHOLD", 20),
		},
	}

	return cfg, nil
}

// LoadFile reads path as a YAML document and overlays it onto the
// environment-derived defaults from Load. Every field present in the file
// overrides, an explicit zero value included; absent fields keep their
// Load() value.
func LoadFile(path string) (*EngineConfig, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
