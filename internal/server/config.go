// Package server assembles configuration and the HTTP router for the
// ingestion daemon.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/etlwatch/ingestd/internal/ftppool"
	"github.com/etlwatch/ingestd/internal/scheduler"
)

// Config holds daemon configuration from environment variables.
type Config struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	FTPHost     string
	FTPPort     int
	FTPUser     string
	FTPPassword string

	PoolMaxConn      int
	PoolConnectGap   time.Duration
	PoolIdleTimeout  time.Duration
	PoolDialTimeout  time.Duration
	PoolOpRetries    int
	PoolLocalRetries int
	PoolRetryBackoff time.Duration
	PoolBreakerBase  time.Duration
	PoolBreakerCap   int

	Sources        []string
	Extensions     []string
	ScanInterval   time.Duration
	ParallelLimit  int
	LargeThreshold int64
	MaxFailures    int
	SmallTimeout   time.Duration
	LargeTimeout   time.Duration
	BatchTimeout   time.Duration
	TrackLines     int
	RunTimeout     time.Duration
	ScanCron       string

	SpoolDir   string
	ArchiveDir string

	NatsURL    string
	BatchDelay time.Duration
}

// LoadConfig reads configuration from environment variables with defaults.
// NATS_URL is empty by default: eventing is opt-in.
func LoadConfig() Config {
	return Config{
		Port:            getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),

		FTPHost:     getEnv("FTP_HOST", "localhost"),
		FTPPort:     getEnvInt("FTP_PORT", 21),
		FTPUser:     getEnv("FTP_USER", "anonymous"),
		FTPPassword: getEnv("FTP_PASSWORD", ""),

		PoolMaxConn:      getEnvInt("POOL_MAX_CONN", 5),
		PoolConnectGap:   getEnvDuration("POOL_CONNECT_GAP", time.Second),
		PoolIdleTimeout:  getEnvDuration("POOL_IDLE_TIMEOUT", time.Minute),
		PoolDialTimeout:  getEnvDuration("POOL_DIAL_TIMEOUT", 10*time.Second),
		PoolOpRetries:    getEnvInt("POOL_OP_RETRIES", 3),
		PoolLocalRetries: getEnvInt("POOL_LOCAL_RETRIES", 3),
		PoolRetryBackoff: getEnvDuration("POOL_RETRY_BACKOFF", 500*time.Millisecond),
		PoolBreakerBase:  getEnvDuration("POOL_BREAKER_BASE", 2*time.Second),
		PoolBreakerCap:   getEnvInt("POOL_BREAKER_CAP", 6),

		Sources:        getEnvList("SCHED_SOURCES", []string{"/"}),
		Extensions:     getEnvList("SCHED_EXTENSIONS", []string{".xlsx", ".xls", ".csv"}),
		ScanInterval:   getEnvDuration("SCHED_INTERVAL", 30*time.Second),
		ParallelLimit:  getEnvInt("SCHED_PARALLEL_LIMIT", 4),
		LargeThreshold: getEnvInt64("SCHED_LARGE_THRESHOLD", 20<<20),
		MaxFailures:    getEnvInt("SCHED_MAX_FAILURES", 3),
		SmallTimeout:   getEnvDuration("SCHED_SMALL_TIMEOUT", 2*time.Minute),
		LargeTimeout:   getEnvDuration("SCHED_LARGE_TIMEOUT", 10*time.Minute),
		BatchTimeout:   getEnvDuration("SCHED_BATCH_TIMEOUT", 15*time.Minute),
		TrackLines:     getEnvInt("SCHED_TRACK_LINES", 100),
		RunTimeout:     getEnvDuration("SCHED_RUN_TIMEOUT", time.Hour),
		ScanCron:       getEnv("SCHED_SCAN_CRON", ""),

		SpoolDir:   getEnv("INGEST_SPOOL_DIR", "spool"),
		ArchiveDir: getEnv("INGEST_ARCHIVE_DIR", ""),

		NatsURL:    getEnv("NATS_URL", ""),
		BatchDelay: getEnvDuration("NATS_BATCH_DELAY", 2*time.Second),
	}
}

// PoolConfig maps the FTP and pool settings onto the pool's config.
func (c Config) PoolConfig() ftppool.Config {
	return ftppool.Config{
		Host:         c.FTPHost,
		Port:         c.FTPPort,
		User:         c.FTPUser,
		Password:     c.FTPPassword,
		MaxConn:      c.PoolMaxConn,
		ConnectGap:   c.PoolConnectGap,
		IdleTimeout:  c.PoolIdleTimeout,
		DialTimeout:  c.PoolDialTimeout,
		OpRetries:    c.PoolOpRetries,
		LocalRetries: c.PoolLocalRetries,
		RetryBackoff: c.PoolRetryBackoff,
		BreakerBase:  c.PoolBreakerBase,
		BreakerCap:   c.PoolBreakerCap,
	}
}

// SchedulerConfig maps the scan settings onto the scheduler's config.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Sources:        c.Sources,
		Extensions:     c.Extensions,
		Interval:       c.ScanInterval,
		ParallelLimit:  c.ParallelLimit,
		LargeThreshold: c.LargeThreshold,
		MaxFailures:    c.MaxFailures,
		SmallTimeout:   c.SmallTimeout,
		LargeTimeout:   c.LargeTimeout,
		BatchTimeout:   c.BatchTimeout,
		TrackLines:     c.TrackLines,
	}
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
