package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Record store backends.
const (
	StoreBigQuery = "bigquery"
	StoreMemory   = "memory"
)

// Cycle service backends.
const (
	CyclesBigQuery = "bigquery"
	CyclesNotion   = "notion"
	CyclesMemory   = "memory"
)

// Config holds application configuration
type Config struct {
	ProjectID string
	DatasetID string
	Bucket    string

	RecordStore  string
	CycleBackend string
	BanksFile    string

	GeminiModel       string
	ExtractAttempts   int
	ExtractBackoff    time.Duration
	ExtractTimeout    time.Duration
	BatchQueueSize    int
	SignedURLLifetime time.Duration

	RevalidateSchedule string
	ValidatorID        string

	NotionToken      string
	NotionDatabaseID string

	Port           string
	AllowedOrigins []string
	LogLevel       string
	LogJSON        bool
}

// Load reads configuration from environment variables, after loading .env if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ProjectID: getEnv("GCP_PROJECT_ID", ""),
		DatasetID: getEnv("BQ_DATASET_ID", "statements"),
		Bucket:    getEnv("GCS_BUCKET", ""),

		RecordStore:  strings.ToLower(getEnv("RECORD_STORE", StoreBigQuery)),
		CycleBackend: strings.ToLower(getEnv("CYCLE_BACKEND", CyclesBigQuery)),
		BanksFile:    getEnv("BANKS_FILE", "banks.yaml"),

		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		ExtractAttempts:   getEnvAsInt("EXTRACT_MAX_ATTEMPTS", 3),
		ExtractBackoff:    getEnvAsDuration("EXTRACT_BACKOFF", 2*time.Second),
		ExtractTimeout:    getEnvAsDuration("EXTRACT_TIMEOUT", 2*time.Minute),
		BatchQueueSize:    getEnvAsInt("BATCH_QUEUE_SIZE", 100),
		SignedURLLifetime: getEnvAsDuration("SIGNED_URL_TTL", 15*time.Minute),

		RevalidateSchedule: getEnv("REVALIDATE_SCHEDULE", "0 */6 * * *"),
		ValidatorID:        getEnv("VALIDATOR_ID", "system"),

		NotionToken:      getEnv("NOTION_TOKEN", ""),
		NotionDatabaseID: getEnv("NOTION_CYCLES_DATABASE_ID", ""),

		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogJSON:        getEnvAsBool("LOG_JSON", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.RecordStore {
	case StoreBigQuery, StoreMemory:
	default:
		return fmt.Errorf("RECORD_STORE must be %q or %q, got %q", StoreBigQuery, StoreMemory, c.RecordStore)
	}

	switch c.CycleBackend {
	case CyclesBigQuery, CyclesMemory:
	case CyclesNotion:
		if c.NotionToken == "" || c.NotionDatabaseID == "" {
			return fmt.Errorf("NOTION_TOKEN and NOTION_CYCLES_DATABASE_ID are required for the notion cycle backend")
		}
	default:
		return fmt.Errorf("unknown CYCLE_BACKEND %q", c.CycleBackend)
	}

	if (c.RecordStore == StoreBigQuery || c.CycleBackend == CyclesBigQuery) && c.ProjectID == "" {
		return fmt.Errorf("GCP_PROJECT_ID is required for the bigquery backend")
	}
	if c.ExtractAttempts < 1 {
		return fmt.Errorf("EXTRACT_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
