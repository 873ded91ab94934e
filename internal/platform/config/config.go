package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration. Everything is env-driven so
// main stays lean.
type Server struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  []string
	AuditTopic    string
	VerifyTimeout time.Duration
}

// FromEnv builds a Server config from environment variables. Empty
// DatabaseURL selects the in-memory store; empty RedisURL and KafkaBrokers
// disable the resolve cache and the audit publisher respectively.
func FromEnv() Server {
	addr := os.Getenv("WALIAS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	topic := os.Getenv("WALIAS_AUDIT_TOPIC")
	if topic == "" {
		topic = "walias.audit"
	}

	verifyTimeout := 10 * time.Second
	if raw := os.Getenv("WALIAS_VERIFY_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			verifyTimeout = d
		}
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return Server{
		Addr:          addr,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaBrokers:  brokers,
		AuditTopic:    topic,
		VerifyTimeout: verifyTimeout,
	}
}
