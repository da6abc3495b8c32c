// Package janitor implements C10: independent periodic sweepers that
// delete files past their retention window from the mirror output
// directory, the log directory, and the sender staging directories.
// Grounded on original_source/app/admin/cleanup.py's per-target
// retention/sweep pairs.
package janitor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Lasarikoo/TattileSender/go/metrics"
)

// Sweep is one independent (directory, retention, interval) janitor.
type Sweep struct {
	Target    string
	Dir       string
	Retention time.Duration
	Interval  time.Duration
}

// Janitor runs a fixed set of Sweeps concurrently.
type Janitor struct {
	sweeps  []Sweep
	log     *log.Entry
	metrics *metrics.Registry
}

// New builds a Janitor over the given sweeps.
func New(sweeps []Sweep, logger *log.Entry, reg *metrics.Registry) *Janitor {
	return &Janitor{sweeps: sweeps, log: logger, metrics: reg}
}

// Run starts one goroutine per configured sweep and blocks until ctx is
// cancelled or every sweep goroutine has returned.
func (j *Janitor) Run(ctx context.Context) error {
	done := make(chan struct{}, len(j.sweeps))
	for _, sw := range j.sweeps {
		sw := sw
		go func() {
			j.runSweep(ctx, sw)
			done <- struct{}{}
		}()
	}
	for range j.sweeps {
		<-done
	}
	return nil
}

func (j *Janitor) runSweep(ctx context.Context, sw Sweep) {
	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweepOnce(sw)
		}
	}
}

// sweepOnce lists sw.Dir and, recursively, its subdirectories (the log
// directory keeps one subdirectory per category), unlinks every file older
// than sw.Retention, tolerates files vanishing underneath it, and logs only
// when something was actually deleted (spec.md §4.10). Directories
// themselves are never removed.
func (j *Janitor) sweepOnce(sw Sweep) {
	entries, err := os.ReadDir(sw.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.log.WithError(err).WithField("target", sw.Target).Warn("janitor failed listing directory")
		}
		return
	}

	cutoff := time.Now().Add(-sw.Retention)
	deleted := 0
	for _, e := range entries {
		path := filepath.Join(sw.Dir, e.Name())
		if e.IsDir() {
			sub := sw
			sub.Dir = path
			j.sweepOnce(sub)
			continue
		}
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				j.log.WithError(err).WithField("file", path).Warn("janitor failed removing file")
			}
			continue
		}
		deleted++
		if j.metrics != nil {
			j.metrics.JanitorDeletes.WithLabelValues(sw.Target).Inc()
		}
	}

	if deleted > 0 {
		j.log.WithField("target", sw.Target).WithField("deleted", deleted).Info("janitor sweep removed expired files")
	}
}
