// Package logging provides the bucketed, structured loggers used across
// the relay (spec.md §7: categories ingest, mirror, proc, send, cleanup,
// api, service), built on top of logrus the way the teacher's
// go/materialize and go/ingest packages do throughout.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Category names the log buckets named in spec.md §7.
type Category string

const (
	CategoryIngest  Category = "ingest"
	CategoryMirror  Category = "mirror"
	CategoryProc    Category = "proc"
	CategorySend    Category = "send"
	CategoryCleanup Category = "cleanup"
	CategoryAPI     Category = "api"
	CategoryService Category = "service"
)

// bucketWriter rotates to a new file every 30 minutes, named
// <category>/YYYYMMDD_HHMM.log, per spec.md §6's filesystem layout.
type bucketWriter struct {
	mu       sync.Mutex
	dir      string
	file     *os.File
	bucketAt time.Time
}

func newBucketWriter(dir string) *bucketWriter {
	return &bucketWriter{dir: dir}
}

func bucketStart(t time.Time) time.Time {
	t = t.UTC()
	minute := (t.Minute() / 30) * 30
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, time.UTC)
}

func (b *bucketWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := bucketStart(time.Now())
	if b.file == nil || !now.Equal(b.bucketAt) {
		if b.file != nil {
			_ = b.file.Close()
		}
		if err := os.MkdirAll(b.dir, 0o755); err != nil {
			return 0, fmt.Errorf("creating log dir %s: %w", b.dir, err)
		}
		name := now.Format("20060102_1504") + ".log"
		f, err := os.OpenFile(filepath.Join(b.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, fmt.Errorf("opening log bucket %s: %w", name, err)
		}
		b.file = f
		b.bucketAt = now
	}
	return b.file.Write(p)
}

// Loggers is the set of category loggers threaded into each component at
// boot, replacing the module-level logger singletons of the teacher/source.
type Loggers struct {
	root     string
	mu       sync.Mutex
	entries  map[Category]*log.Logger
}

// New builds a Loggers rooted at logDir with the given level (e.g. "info",
// "debug").
func New(logDir string, level string) (*Loggers, error) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	l := &Loggers{root: logDir, entries: make(map[Category]*log.Logger)}
	for _, c := range []Category{CategoryIngest, CategoryMirror, CategoryProc, CategorySend, CategoryCleanup, CategoryAPI, CategoryService} {
		logger := log.New()
		logger.SetLevel(parsed)
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		logger.SetOutput(newBucketWriter(filepath.Join(logDir, string(c))))
		l.entries[c] = logger
	}
	return l, nil
}

// For returns the logger for a category as a *log.Entry, matching the
// teacher's log.WithFields(...) call sites.
func (l *Loggers) For(c Category) *log.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[c].WithField("category", string(c))
}
