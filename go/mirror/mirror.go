// Package mirror implements C3, the filesystem mirror that copies camera
// capture files from SRC_DIR into CLONED_DIR once they stop changing size,
// grounded on original_source/app/mirror/watcher.py's debounce/stability
// loop and built on github.com/fsnotify/fsnotify, adopted from the wider
// example pack (the teacher itself has no filesystem-watch concern) per
// DESIGN.md.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/Lasarikoo/TattileSender/go/config"
	"github.com/Lasarikoo/TattileSender/go/metrics"
)

// Mirror watches SrcDir and copies each stable file to DstDir under the
// same base name.
type Mirror struct {
	cfg     config.Mirror
	log     *log.Entry
	metrics *metrics.Registry

	mu      sync.Mutex
	timers  map[string]*time.Timer
	counts  summaryCounts
}

type summaryCounts struct {
	copied, skipped, permFail, otherFail int
}

// New builds a Mirror bound to cfg.
func New(cfg config.Mirror, logger *log.Entry, reg *metrics.Registry) *Mirror {
	return &Mirror{cfg: cfg, log: logger, metrics: reg, timers: make(map[string]*time.Timer)}
}

// Run starts the watcher, debounce timers, periodic reconciliation scan and
// summary logger. It blocks until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.DstDir, 0o755); err != nil {
		return fmt.Errorf("creating mirror dst dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.cfg.SrcDir); err != nil {
		return fmt.Errorf("watching mirror src dir %s: %w", m.cfg.SrcDir, err)
	}

	reconcile := time.NewTicker(m.cfg.ReconcileScan)
	defer reconcile.Stop()
	summary := time.NewTicker(m.cfg.SummaryInterval)
	defer summary.Stop()

	m.log.WithField("src", m.cfg.SrcDir).WithField("dst", m.cfg.DstDir).Info("mirror watching")

	for {
		select {
		case <-ctx.Done():
			m.cancelPendingTimers()
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Create covers both new files and files moved into SrcDir;
			// Write (modify) events are deliberately ignored.
			if ev.Op&fsnotify.Create != 0 {
				m.scheduleDebounced(ctx, ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.WithError(err).Warn("fsnotify error")
		case <-reconcile.C:
			m.reconcileOnce(ctx)
		case <-summary.C:
			m.logSummary()
		}
	}
}

// scheduleDebounced resets a per-filename debounce timer; the copy itself
// only fires after DebounceWindow passes with no further events for that
// name (spec.md §4.3).
func (m *Mirror) scheduleDebounced(ctx context.Context, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[path]; ok {
		t.Stop()
	}
	m.timers[path] = time.AfterFunc(m.cfg.DebounceWindow, func() {
		m.mu.Lock()
		delete(m.timers, path)
		m.mu.Unlock()
		m.handleFile(ctx, path)
	})
}

func (m *Mirror) cancelPendingTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = make(map[string]*time.Timer)
}

// reconcileOnce catches files the watcher missed (e.g. written before the
// watch was established), per spec.md §4.3's periodic scan.
func (m *Mirror) reconcileOnce(ctx context.Context) {
	entries, err := os.ReadDir(m.cfg.SrcDir)
	if err != nil {
		m.log.WithError(err).Warn("reconcile scan failed to list src dir")
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m.handleFile(ctx, filepath.Join(m.cfg.SrcDir, e.Name()))
	}
}

func (m *Mirror) handleFile(ctx context.Context, path string) {
	if !m.waitStable(ctx, path) {
		return
	}
	m.copyExactName(path)
}

// waitStable polls the file size on StabilityPoll ticks until it is
// unchanged for StabilityWindow, per spec.md §4.3. Returns false if the
// file vanished or ctx was cancelled before stabilizing.
func (m *Mirror) waitStable(ctx context.Context, path string) bool {
	var lastSize int64 = -1
	var stableSince time.Time

	ticker := time.NewTicker(m.cfg.StabilityPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				if os.IsNotExist(err) {
					return false
				}
				continue
			}
			size := info.Size()
			if size != lastSize {
				lastSize = size
				stableSince = time.Now()
				continue
			}
			if time.Since(stableSince) >= m.cfg.StabilityWindow {
				return true
			}
		}
	}
}

// copyExactName copies src into DstDir under its own base name, skipping
// if an identically-sized copy already exists there, per spec.md §4.3.
func (m *Mirror) copyExactName(src string) {
	name := filepath.Base(src)
	dst := filepath.Join(m.cfg.DstDir, name)

	srcInfo, err := os.Stat(src)
	if err != nil {
		return
	}
	if dstInfo, err := os.Stat(dst); err == nil && dstInfo.Size() == srcInfo.Size() {
		m.record(&m.counts.skipped, "skipped")
		return
	}

	var lastErr error
	for attempt := 0; attempt <= m.cfg.CopyRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(m.cfg.CopyRetryDelay)
		}
		if err := copyAtomic(src, dst); err != nil {
			lastErr = err
			if errors.Is(err, os.ErrPermission) {
				m.log.WithField("file", name).WithError(err).Error("permanent copy failure")
				m.record(&m.counts.permFail, "perm_fail")
				return
			}
			continue
		}
		m.record(&m.counts.copied, "copied")
		return
	}
	m.log.WithField("file", name).WithError(lastErr).Error("copy failed after retries")
	m.record(&m.counts.otherFail, "other_fail")
}

func (m *Mirror) record(counter *int, result string) {
	m.mu.Lock()
	*counter++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.MirrorCopies.WithLabelValues(result).Inc()
	}
}

func (m *Mirror) logSummary() {
	m.mu.Lock()
	c := m.counts
	m.counts = summaryCounts{}
	m.mu.Unlock()

	if c.copied+c.skipped+c.permFail+c.otherFail == 0 {
		return
	}
	m.log.WithFields(log.Fields{
		"copied":    c.copied,
		"skipped":   c.skipped,
		"perm_fail": c.permFail,
		"other_fail": c.otherFail,
	}).Info("mirror summary")
}

// copyAtomic copies src to a temp file beside dst, then renames it into
// place, so a reader of dst never observes a partial write.
func copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
