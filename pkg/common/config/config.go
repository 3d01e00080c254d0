package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	RateLimitRPS   int
	RateLimitBurst int

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	PostgresMaxOpen  int
	PostgresMaxIdle  int
	PostgresConnLife time.Duration

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers       []string
	KafkaGroupID       string
	MappingEventsTopic string
	UpstreamTopic      string
	MappingEventsDLQ   string
	ConsumeUpstream    bool

	// Mapping data
	DataDir          string
	MappingDir       string
	UpstreamDir      string
	SuggestionLimit  int
	KeyLockTTL       time.Duration
	ExportPrefix     string
	ExportSources    []string
	ReconcileOrphans bool

	// Ontology lookup service
	OLSBaseURL        string
	OLSRequestTimeout time.Duration
	OLSPageSize       int
	OntologyRootsFile string
}

func Load() *Config {
	dataDir := getEnv("DATA_DIR", "./data")
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8086"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 60*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 16*1024*1024)),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "curator"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "curator123"),
		PostgresDB:       getEnv("POSTGRES_DB", "curator"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresMaxOpen:  getIntEnv("POSTGRES_MAX_OPEN_CONNS", 20),
		PostgresMaxIdle:  getIntEnv("POSTGRES_MAX_IDLE_CONNS", 5),
		PostgresConnLife: getDuration("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:       getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "mapping-curator"),
		MappingEventsTopic: getEnv("MAPPING_EVENTS_TOPIC", "mapping-events"),
		UpstreamTopic:      getEnv("UPSTREAM_ATTRIBUTES_TOPIC", "source-attributes"),
		MappingEventsDLQ:   getEnv("MAPPING_EVENTS_DLQ_TOPIC", ""),
		ConsumeUpstream:    getBoolEnv("CONSUME_UPSTREAM", true),

		DataDir:          dataDir,
		MappingDir:       getEnv("MAPPING_DIR", filepath.Join(dataDir, "mapping")),
		UpstreamDir:      getEnv("UPSTREAM_DIR", filepath.Join(dataDir, "data", "UPDOG")),
		SuggestionLimit:  getIntEnv("SUGGESTION_LIMIT", 10),
		KeyLockTTL:       getDuration("KEY_LOCK_TTL", 30*time.Second),
		ExportPrefix:     getEnv("EXPORT_PREFIX", "EurOPDX"),
		ExportSources:    getStringSliceEnv("EXPORT_DATA_SOURCES", defaultExportSources),
		ReconcileOrphans: getBoolEnv("RECONCILE_ORPHANS", false),

		OLSBaseURL:        getEnv("OLS_BASE_URL", "https://www.ebi.ac.uk/ols/api/ontologies/ncit/terms"),
		OLSRequestTimeout: getDuration("OLS_REQUEST_TIMEOUT", 30*time.Second),
		OLSPageSize:       getIntEnv("OLS_PAGE_SIZE", 200),
		OntologyRootsFile: getEnv("ONTOLOGY_ROOTS_FILE", ""),
	}
}

var defaultExportSources = []string{
	"Curie-BC",
	"Curie-LC",
	"Curie-OC",
	"IRCC-CRC",
	"IRCC-GC",
	"TRACE",
	"UOC-BC",
	"UOM-BC",
	"VHIO-BC",
	"VHIO-CRC",
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
