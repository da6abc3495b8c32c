// Package config holds the typed, environment-driven configuration for
// every component of the relay.
package config

import (
	"fmt"
	"time"
)

// Database describes how to reach the relational store that backs the
// Reading Store (C2). The store engine itself is an external collaborator;
// this is only connection material.
type Database struct {
	Host     string `long:"db-host" env:"DB_HOST" default:"localhost" description:"database host"`
	Port     int    `long:"db-port" env:"DB_PORT" default:"5432" description:"database port"`
	Name     string `long:"db-name" env:"DB_NAME" default:"tattile" description:"database name"`
	User     string `long:"db-user" env:"DB_USER" default:"tattile" description:"database user"`
	Password string `long:"db-password" env:"DB_PASSWORD" description:"database password"`
	SSLMode  string `long:"db-sslmode" env:"DB_SSLMODE" default:"disable" description:"postgres sslmode"`
}

// DSN builds a libpq-style connection string for pgxpool.Connect.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// Sender tunes the outbound delivery worker (C8).
type Sender struct {
	Enabled            bool          `long:"sender-enabled" env:"SENDER_ENABLED" default:"true"`
	PollInterval       time.Duration `long:"sender-poll-interval" env:"SENDER_POLL_INTERVAL_SECONDS" default:"5s"`
	MaxBatchSize       int           `long:"sender-max-batch-size" env:"SENDER_MAX_BATCH_SIZE" default:"50"`
	DefaultRetryMax    int           `long:"sender-default-retry-max" env:"SENDER_DEFAULT_RETRY_MAX" default:"3"`
	DefaultBackoffMS   int           `long:"sender-default-backoff-ms" env:"SENDER_DEFAULT_BACKOFF_MS" default:"1000"`
	DefaultTimeoutMS   int           `long:"sender-default-timeout-ms" env:"SENDER_DEFAULT_TIMEOUT_MS" default:"5000"`
	BackoffOnFailSec   time.Duration `long:"sender-backoff-on-fail-sec" env:"SENDER_BACKOFF_ON_FAIL_SEC" default:"3s"`
	TimestampTTLSec    int           `long:"sender-ts-ttl-sec" env:"SENDER_TS_TTL_SEC" default:"300"`
}

// Mirror tunes the filesystem mirror (C3).
type Mirror struct {
	SrcDir           string        `long:"mirror-src-dir" env:"MIRROR_SRC_DIR" default:"./data/capture"`
	DstDir           string        `long:"mirror-dst-dir" env:"CLONED_DIR" default:"./data/cloned"`
	StabilityWindow  time.Duration `long:"mirror-stability-ms" env:"MIRROR_STABILITY_MS" default:"250ms"`
	DebounceWindow   time.Duration `long:"mirror-debounce-ms" env:"MIRROR_DEBOUNCE_MS" default:"250ms"`
	StabilityPoll    time.Duration `long:"mirror-stability-poll-ms" env:"MIRROR_STABILITY_POLL_MS" default:"50ms"`
	ReconcileScan    time.Duration `long:"mirror-reconcile-interval" env:"MIRROR_RECONCILE_INTERVAL_MS" default:"500ms"`
	SummaryInterval  time.Duration `long:"mirror-summary-interval" env:"MIRROR_SUMMARY_INTERVAL_SEC" default:"60s"`
	CopyRetries      int           `long:"mirror-copy-retries" env:"MIRROR_COPY_RETRIES" default:"25"`
	CopyRetryDelay   time.Duration `long:"mirror-copy-retry-delay" env:"MIRROR_COPY_RETRY_DELAY_MS" default:"40ms"`
}

// Retention tunes the janitor subsystem (C10). Each target has an
// independent retention window and sweep interval.
type Retention struct {
	ImageRetention   time.Duration `long:"retain-images" env:"RETAIN_IMAGES_MIN" default:"45m"`
	ImageSweep       time.Duration `long:"sweep-images" env:"SWEEP_IMAGES_SEC" default:"600s"`
	LogRetention     time.Duration `long:"retain-logs" env:"RETAIN_LOGS_HOURS" default:"4h"`
	LogSweep         time.Duration `long:"sweep-logs" env:"SWEEP_LOGS_SEC" default:"300s"`
	FailedRetention  time.Duration `long:"retain-failed" env:"RETAIN_FAILED_HOURS" default:"1h"`
	FailedSweep      time.Duration `long:"sweep-failed" env:"SWEEP_FAILED_SEC" default:"3600s"`
	PendingRetention time.Duration `long:"retain-pending" env:"RETAIN_PENDING_HOURS" default:"1h"`
	PendingSweep     time.Duration `long:"sweep-pending" env:"SWEEP_PENDING_SEC" default:"3600s"`
	IngestRetention  time.Duration `long:"retain-ingest" env:"RETAIN_INGEST_HOURS" default:"1h"`
	IngestSweep      time.Duration `long:"sweep-ingest" env:"SWEEP_INGEST_SEC" default:"3600s"`
}

// Paths collects the filesystem layout (spec.md §6).
type Paths struct {
	ImagesDir       string `long:"images-dir" env:"IMAGES_DIR" default:"./data/images"`
	CertsDir        string `long:"certs-dir" env:"CERTS_DIR" default:"./data/certs"`
	IngestJSONDir   string `long:"ingest-json-dir" env:"INGEST_JSON_DIR" default:"./data/ingest-json"`
	SenderJSONDir   string `long:"sender-json-dir" env:"SENDER_JSON_DIR" default:"./data/sender-json"`
	SenderPendingDir string `long:"sender-pending-dir" env:"SENDER_PENDING_DIR" default:"./data/sender-pending"`
	SenderFailedDir string `long:"sender-failed-dir" env:"SENDER_FAILED_DIR" default:"./data/sender-failed"`
	LogDir          string `long:"log-dir" env:"LOG_DIR" default:"./data/logs"`
}

// Config is the top-level configuration object threaded into every
// component at boot, replacing the teacher's module-level settings
// singleton (spec.md §9 design note).
type Config struct {
	Database    Database  `group:"database"`
	Paths       Paths     `group:"paths"`
	Sender      Sender    `group:"sender"`
	Mirror      Mirror    `group:"mirror"`
	Retention   Retention `group:"retention"`
	TransitPort int       `long:"transit-port" env:"TRANSIT_PORT" default:"33334" description:"TCP port for Tattile ingest"`
	HTTPPort    int       `long:"http-port" env:"HTTP_PORT" default:"8080" description:"HTTP ingest port"`
	LogLevel    string    `long:"log-level" env:"LOG_LEVEL" default:"info"`
}
