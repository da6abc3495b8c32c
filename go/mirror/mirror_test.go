package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Lasarikoo/TattileSender/go/config"
)

func testMirror(t *testing.T) (*Mirror, config.Mirror) {
	t.Helper()
	src := t.TempDir()
	dst := t.TempDir()
	cfg := config.Mirror{
		SrcDir:          src,
		DstDir:          dst,
		StabilityWindow: 20 * time.Millisecond,
		DebounceWindow:  20 * time.Millisecond,
		StabilityPoll:   5 * time.Millisecond,
		ReconcileScan:   50 * time.Millisecond,
		SummaryInterval: time.Hour,
		CopyRetries:     3,
		CopyRetryDelay:  5 * time.Millisecond,
	}
	logger := log.New().WithField("test", true)
	return New(cfg, logger, nil), cfg
}

func TestMirror_CopiesStableFile(t *testing.T) {
	m, cfg := testMirror(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go m.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.SrcDir, "plate.jpg"), []byte("hello"), 0o644))

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(cfg.DstDir, "plate.jpg"))
		return err == nil && string(b) == "hello"
	}, time.Second, 5*time.Millisecond)
}

func TestMirror_SkipsIdenticalSizeCopy(t *testing.T) {
	m, _ := testMirror(t)
	src := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(src, []byte("12345"), 0o644))
	dst := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(dst, []byte("67890"), 0o644))

	m.cfg.DstDir = filepath.Dir(dst)
	m.copyExactName(src)

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "67890", string(b), "identical-size dst should not be overwritten")
	require.Equal(t, 1, m.counts.skipped)
}

func TestMirror_ReconcileCatchesMissedFile(t *testing.T) {
	m, cfg := testMirror(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SrcDir, "pre-existing.jpg"), []byte("abc"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(cfg.DstDir, "pre-existing.jpg"))
		return err == nil && string(b) == "abc"
	}, time.Second, 10*time.Millisecond)
}
