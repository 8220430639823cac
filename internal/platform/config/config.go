package config

import (
	"os"
	"strings"
)

// Config captures process-level configuration. main stays lean; everything
// here comes from the environment.
type Config struct {
	Addr             string
	LogLevel         string
	JWTSigningKey    string
	DeployerIdentity string

	// Optional backends. Empty values select the in-memory wiring.
	RedisURL    string
	PostgresURL string

	// Kafka event delivery. Empty brokers select the in-memory sink.
	KafkaBrokers []string
	KafkaTopic   string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:             getenv("VICINITY_ADDR", ":8080"),
		LogLevel:         getenv("VICINITY_LOG_LEVEL", "info"),
		JWTSigningKey:    getenv("VICINITY_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		DeployerIdentity: getenv("VICINITY_DEPLOYER", "deployer"),
		RedisURL:         os.Getenv("VICINITY_REDIS_URL"),
		PostgresURL:      os.Getenv("VICINITY_POSTGRES_URL"),
		KafkaTopic:       getenv("VICINITY_KAFKA_TOPIC", "vicinity.graph.events"),
	}
	if brokers := os.Getenv("VICINITY_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
