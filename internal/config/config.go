package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Server
	Port        string
	CORSOrigins string

	// Query limits
	MaxBlocksPerRequest int

	// Block validation. BlockMaxAge is in seconds; 0 disables the skew check.
	BlockMaxAge int64

	// Websocket admission and eviction
	SocketMaxConnections    int
	SocketMaxMessageSize    int64
	SocketInactivityTimeout time.Duration

	// HTTP admission
	HTTPMaxConnections int
	HTTPMaxBodySize    int

	// Background services
	ArchiveDir       string
	ArchiveInterval  time.Duration
	MetricsInterval  time.Duration
	LogRetentionDays int
}

func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "relay_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		Port:        getEnv("PORT", "3000"),
		CORSOrigins: getEnv("HOST_ALLOWED", "*"),

		MaxBlocksPerRequest: getEnvInt("MAX_BLOCKS_PER_REQUEST", 1000),
		BlockMaxAge:         int64(getEnvInt("BLOCK_MAX_AGE", 0)),

		SocketMaxConnections:    getEnvInt("SOCKET_MAX_CONNECTIONS", 10000),
		SocketMaxMessageSize:    int64(getEnvInt("SOCKET_MAX_MESSAGE_SIZE", 1024*1024)),
		SocketInactivityTimeout: parseDuration(getEnv("SOCKET_INACTIVITY_TIMEOUT", "10m")),

		HTTPMaxConnections: getEnvInt("HTTP_MAX_CONNECTIONS", 2000),
		HTTPMaxBodySize:    getEnvInt("HTTP_MAX_MESSAGE_SIZE", 262144),

		ArchiveDir:       getEnv("ARCHIVE_DIR", "backups"),
		ArchiveInterval:  parseDuration(getEnv("ARCHIVE_INTERVAL", "24h")),
		MetricsInterval:  parseDuration(getEnv("METRICS_INTERVAL", "1m")),
		LogRetentionDays: getEnvInt("LOG_RETENTION_DAYS", 30),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// AllowedOrigins returns the parsed origin allow-list. A single "*" entry
// allows every origin.
func (c *Config) AllowedOrigins() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// OriginAllowed checks one origin against the allow-list.
func (c *Config) OriginAllowed(origin string) bool {
	for _, allowed := range c.AllowedOrigins() {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}
