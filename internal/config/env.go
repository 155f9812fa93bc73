package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string

	StorageBackend string // "s3" or "local"
	LocalRoot      string
	AwsAccessKey   string
	AwsSecretKey   string
	AwsRegion      string
	Collections    []string

	AIAPIKey       string
	EmbedModel     string
	EmbedDim       int
	GenModel       string
	GenTemperature float64
	GenMaxTokens   int

	ChunkTargetTokens  int
	ChunkOverlapTokens int
	EmbedBatchSize     int
	EmbedMaxAttempts   int
	EmbedRetryBase     time.Duration
	EmbedRateLimit     float64 // embedding requests per second, 0 = unlimited
	Workers            int
	FetchTimeout       time.Duration
	EmbedTimeout       time.Duration
	CommitTimeout      time.Duration
	StoreTimeout       time.Duration
	WatchDebounce      time.Duration

	JWTSecret string
	Port      string
}

// LoadConfig loads the environment variables and returns config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),

		StorageBackend: getEnv("STORAGE_BACKEND", "s3"),
		LocalRoot:      getEnv("LOCAL_ROOT", ""),
		AwsAccessKey:   getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:   getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:      getEnv("AWS_REGION", "us-east-2"),
		Collections:    splitList(getEnv("COLLECTIONS", "policies,docs,templates,reports")),

		AIAPIKey:       getEnv("GEMINI_API_KEY", ""),
		EmbedModel:     getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:       getEnvInt("EMBED_DIM", 768),
		GenModel:       getEnv("GEN_MODEL", "gemini-1.5-flash"),
		GenTemperature: getEnvFloat("GEN_TEMPERATURE", 0.2),
		GenMaxTokens:   getEnvInt("GEN_MAX_TOKENS", 1024),

		ChunkTargetTokens:  getEnvInt("CHUNK_TARGET_TOKENS", 500),
		ChunkOverlapTokens: getEnvInt("CHUNK_OVERLAP_TOKENS", 50),
		EmbedBatchSize:     getEnvInt("EMBED_BATCH_SIZE", 16),
		EmbedMaxAttempts:   getEnvInt("EMBED_MAX_ATTEMPTS", 4),
		EmbedRetryBase:     getEnvDuration("EMBED_RETRY_BASE", time.Second),
		EmbedRateLimit:     getEnvFloat("EMBED_RATE_LIMIT", 5),
		Workers:            getEnvInt("WORKERS", 4),
		FetchTimeout:       getEnvDuration("FETCH_TIMEOUT", 2*time.Minute),
		EmbedTimeout:       getEnvDuration("EMBED_TIMEOUT", time.Minute),
		CommitTimeout:      getEnvDuration("COMMIT_TIMEOUT", time.Minute),
		StoreTimeout:       getEnvDuration("STORE_TIMEOUT", 30*time.Second),
		WatchDebounce:      getEnvDuration("WATCH_DEBOUNCE", 2*time.Second),

		JWTSecret: getEnv("JWT_SECRET", ""),
		Port:      getEnv("PORT", "8080"),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.StorageBackend == "local" && cfg.LocalRoot == "" {
		log.Fatal("LOCAL_ROOT not set for local storage backend")
	}
	if cfg.ChunkOverlapTokens < 0 || cfg.ChunkOverlapTokens >= cfg.ChunkTargetTokens {
		log.Fatalf("CHUNK_OVERLAP_TOKENS=%d must be in [0, CHUNK_TARGET_TOKENS=%d)",
			cfg.ChunkOverlapTokens, cfg.ChunkTargetTokens)
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %v", key, v, def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %v", key, v, def)
		return def
	}
	return d
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
