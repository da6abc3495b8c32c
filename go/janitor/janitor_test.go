package janitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestJanitor_SweepOnceRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jpg")
	fresh := filepath.Join(dir, "fresh.jpg")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	j := New(nil, log.New().WithField("test", true), nil)
	j.sweepOnce(Sweep{Target: "images", Dir: dir, Retention: 10 * time.Minute, Interval: time.Minute})

	_, err := os.Stat(old)
	require.True(t, os.IsNotExist(err), "expired file should be removed")
	_, err = os.Stat(fresh)
	require.NoError(t, err, "fresh file should survive")
}

func TestJanitor_SweepOnceToleratesMissingDir(t *testing.T) {
	j := New(nil, log.New().WithField("test", true), nil)
	require.NotPanics(t, func() {
		j.sweepOnce(Sweep{Target: "images", Dir: "/nonexistent/path/xyz", Retention: time.Minute, Interval: time.Minute})
	})
}
