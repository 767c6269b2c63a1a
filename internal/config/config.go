// Package config loads tabgraphd's runtime configuration from the
// environment (and an optional .env file), the way the rest of the
// ecosystem this service grew out of does it: godotenv for local
// overrides, plain os.Getenv reads with explicit defaults, and a
// narrow yaml.v3 escape hatch for the cluster-tuning knobs that are
// more naturally expressed as a file than a pile of env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration for tabgraphd.
type Config struct {
	HTTPAddr string
	LogLevel string
	LogPretty bool

	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	ClickHouse ClickHouseConfig
	Qdrant    QdrantConfig

	Embedding EmbeddingConfig
	LLM       LLMConfig

	Cluster ClusterConfig
}

// PostgresConfig configures the graph store's connection pool.
type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
}

// RedisConfig configures the optional enrichment dedup cache. Addr empty
// disables the dedup cache: a no-op cache that never reports a
// duplicate is used instead.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures the optional enrichment fan-out transport.
// Brokers empty falls back to the in-process channel queue.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// ClickHouseConfig configures the optional ingest audit log. DSN empty
// disables audit logging.
type ClickHouseConfig struct {
	DSN string
}

// QdrantConfig configures the optional entity-name embedding index.
// cmd/tabgraphd does not read it and builds no index; nearest-cluster
// lookups always scan the in-memory centroids.
type QdrantConfig struct {
	Addr       string
	Collection string
}

// EmbeddingConfig configures the HTTP embedding backend.
type EmbeddingConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// LLMConfig selects and configures the provider used for entity
// extraction, enrichment and cluster naming.
type LLMConfig struct {
	Provider string // "openai" | "anthropic" | "google"

	OpenAI struct {
		APIKey  string
		Model   string
		BaseURL string
	}
	Anthropic struct {
		APIKey  string
		Model   string
		BaseURL string
	}
	Google struct {
		APIKey string
		Model  string
	}
}

// ClusterConfig tunes the online clustering engine.
type ClusterConfig struct {
	SimilarityThreshold       float64
	HybridSimilarityThreshold float64
	EmbeddingWeight           float64
	EntityOverlapWeight       float64
	RenameThreshold           int
	MinClusterSize            int
	EnrichmentCacheTTL        time.Duration
}

// Load reads configuration from the environment, overlaying any .env
// file found in the working directory, and applies the same defaults
// the original service shipped with.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		HTTPAddr: firstNonEmpty(os.Getenv("HTTP_ADDR"), ":8080"),
		LogLevel: firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
	}
	cfg.LogPretty = envBool("LOG_PRETTY", false)

	cfg.Postgres.DSN = os.Getenv("POSTGRES_DSN")
	cfg.Postgres.MaxConns = int32(envInt("POSTGRES_MAX_CONNS", 10))
	cfg.Postgres.MinConns = int32(envInt("POSTGRES_MIN_CONNS", 2))

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = envInt("REDIS_DB", 0)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.Topic = firstNonEmpty(os.Getenv("KAFKA_ENRICHMENT_TOPIC"), "tabgraph.enrichment")
	cfg.Kafka.GroupID = firstNonEmpty(os.Getenv("KAFKA_GROUP_ID"), "tabgraph-enrichment-worker")

	cfg.ClickHouse.DSN = os.Getenv("CLICKHOUSE_DSN")

	cfg.Qdrant.Addr = os.Getenv("QDRANT_ADDR")
	cfg.Qdrant.Collection = firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), "tabgraph_entities")

	cfg.Embedding.BaseURL = firstNonEmpty(os.Getenv("EMBEDDING_BASE_URL"), "http://127.0.0.1:11434")
	cfg.Embedding.Model = firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-small")
	cfg.Embedding.Timeout = envDuration("EMBEDDING_TIMEOUT", 30*time.Second)

	cfg.LLM.Provider = firstNonEmpty(strings.ToLower(os.Getenv("LLM_PROVIDER")), "openai")
	cfg.LLM.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.LLM.OpenAI.Model = firstNonEmpty(os.Getenv("OPENAI_MODEL"), "gpt-4o-mini")
	cfg.LLM.OpenAI.BaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.LLM.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.LLM.Anthropic.Model = firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), "claude-3-5-haiku-latest")
	cfg.LLM.Anthropic.BaseURL = os.Getenv("ANTHROPIC_BASE_URL")
	cfg.LLM.Google.APIKey = os.Getenv("GOOGLE_LLM_API_KEY")
	cfg.LLM.Google.Model = firstNonEmpty(os.Getenv("GOOGLE_LLM_MODEL"), "gemini-1.5-flash")

	cfg.Cluster = ClusterConfig{
		SimilarityThreshold:       envFloat("CLUSTER_SIMILARITY_THRESHOLD", 0.75),
		HybridSimilarityThreshold: envFloat("CLUSTER_HYBRID_SIMILARITY_THRESHOLD", 0.50),
		EmbeddingWeight:           envFloat("CLUSTER_EMBEDDING_WEIGHT", 0.6),
		EntityOverlapWeight:       envFloat("CLUSTER_ENTITY_OVERLAP_WEIGHT", 0.4),
		RenameThreshold:           envInt("CLUSTER_RENAME_THRESHOLD", 3),
		MinClusterSize:            envInt("CLUSTER_MIN_SIZE", 2),
		EnrichmentCacheTTL:        envDuration("ENRICHMENT_CACHE_TTL", 7*24*time.Hour),
	}

	if path := os.Getenv("CLUSTER_CONFIG_FILE"); path != "" {
		if err := overlayClusterConfig(path, &cfg.Cluster); err != nil {
			return cfg, fmt.Errorf("config: loading cluster overrides from %s: %w", path, err)
		}
	}

	if cfg.Postgres.DSN == "" {
		return cfg, fmt.Errorf("config: POSTGRES_DSN is required")
	}

	return cfg, nil
}

// overlayClusterConfig lets operators tune the clustering engine from a
// small YAML file without restating every env var.
func overlayClusterConfig(path string, cc *ClusterConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overrides struct {
		SimilarityThreshold       *float64 `yaml:"similarity_threshold"`
		HybridSimilarityThreshold *float64 `yaml:"hybrid_similarity_threshold"`
		EmbeddingWeight           *float64 `yaml:"embedding_weight"`
		EntityOverlapWeight       *float64 `yaml:"entity_overlap_weight"`
		RenameThreshold           *int     `yaml:"rename_threshold"`
		MinClusterSize            *int     `yaml:"min_cluster_size"`
	}
	if err := yaml.Unmarshal(b, &overrides); err != nil {
		return err
	}
	if overrides.SimilarityThreshold != nil {
		cc.SimilarityThreshold = *overrides.SimilarityThreshold
	}
	if overrides.HybridSimilarityThreshold != nil {
		cc.HybridSimilarityThreshold = *overrides.HybridSimilarityThreshold
	}
	if overrides.EmbeddingWeight != nil {
		cc.EmbeddingWeight = *overrides.EmbeddingWeight
	}
	if overrides.EntityOverlapWeight != nil {
		cc.EntityOverlapWeight = *overrides.EntityOverlapWeight
	}
	if overrides.RenameThreshold != nil {
		cc.RenameThreshold = *overrides.RenameThreshold
	}
	if overrides.MinClusterSize != nil {
		cc.MinClusterSize = *overrides.MinClusterSize
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
