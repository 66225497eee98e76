package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	KurrentDB    KurrentDBConfig
	Kafka        KafkaConfig
	Lab          LabConfig
	Auth         AuthConfig
	Surveillance SurveillanceConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB), the
// transport for alert payloads to downstream delivery.
type KurrentDBConfig struct {
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
}

// KafkaConfig holds configuration for the diagnosis ingest topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Enabled bool
}

// LabConfig holds configuration for the hospital lab-system polling adapter.
type LabConfig struct {
	Enabled bool
	// DSN is the SQL Server connection string of the lab database
	DSN string
	// PollInterval between result scans
	PollInterval time.Duration
	// ResultTable is the lab results table to scan
	ResultTable string
}

type AuthConfig struct {
	JWTSecret string
}

// SurveillanceConfig carries the tunable heuristics of the surveillance core.
// Every value has a named default; tests and callers may override per call.
type SurveillanceConfig struct {
	// ContactRadiusMeters is the maximum great-circle distance between two
	// events for them to count as a contact.
	ContactRadiusMeters float64
	// ContactWindowDays is how far back from an index event contacts are searched.
	ContactWindowDays int
	// R0PeriodDays is the default lookback for R0 estimation.
	R0PeriodDays int
	// ClusterWindowDays is the rolling window for cluster case counts.
	ClusterWindowDays int
	// GraphMaxDepth bounds transmission graph expansion.
	GraphMaxDepth int
	// GraphMaxNodes and GraphMaxEdges are the hard caps after which a graph
	// is returned truncated.
	GraphMaxNodes int
	GraphMaxEdges int
	// GraphWorkers bounds concurrent per-patient expansion.
	GraphWorkers int
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "epiwatch"),
			Password: getEnv("DB_PASSWORD", "epiwatch"),
			Database: getEnv("DB_NAME", "epiwatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_DIAGNOSIS_TOPIC", "diagnosis-events"),
			GroupID: getEnv("KAFKA_GROUP_ID", "epiwatch-cluster-engine"),
			Enabled: getEnvBool("KAFKA_ENABLED", false),
		},
		Lab: LabConfig{
			Enabled:      getEnvBool("LAB_ADAPTER_ENABLED", false),
			DSN:          getEnv("LAB_DB_DSN", ""),
			PollInterval: time.Duration(getEnvInt("LAB_POLL_SECONDS", 60)) * time.Second,
			ResultTable:  getEnv("LAB_RESULT_TABLE", "dbo.LabResults"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Surveillance: SurveillanceConfig{
			ContactRadiusMeters: getEnvFloat("CONTACT_RADIUS_METERS", 50),
			ContactWindowDays:   getEnvInt("CONTACT_WINDOW_DAYS", 14),
			R0PeriodDays:        getEnvInt("R0_PERIOD_DAYS", 30),
			ClusterWindowDays:   getEnvInt("CLUSTER_WINDOW_DAYS", 7),
			GraphMaxDepth:       getEnvInt("GRAPH_MAX_DEPTH", 5),
			GraphMaxNodes:       getEnvInt("GRAPH_MAX_NODES", 2000),
			GraphMaxEdges:       getEnvInt("GRAPH_MAX_EDGES", 5000),
			GraphWorkers:        getEnvInt("GRAPH_WORKERS", 8),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
