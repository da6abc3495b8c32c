package store

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRelativePath_DeterministicLayout(t *testing.T) {
	ts := time.Date(2026, 7, 29, 14, 5, 2, 0, time.UTC)
	rel := RelativePath("CAM01", "1234 ABC", ts, ImageOCR)
	require.Equal(t, "CAM01/2026/07/29/20260729140502_plate-1234ABC_ocr.jpg", rel)
}

func TestRelativePath_UnknownPlateFallback(t *testing.T) {
	ts := time.Date(2026, 7, 29, 14, 5, 2, 0, time.UTC)
	rel := RelativePath("CAM01", "###", ts, ImageCTX)
	require.Contains(t, rel, "plate-unknown_ctx.jpg")
}

func TestImageStore_SaveAndReadRoundTrip(t *testing.T) {
	s := NewImageStore(t.TempDir())
	ts := time.Date(2026, 7, 29, 14, 5, 2, 0, time.UTC)

	rel, err := s.Save("CAM01", "1234ABC", ts, ImageOCR, []byte("jpegdata"))
	require.NoError(t, err)
	require.True(t, s.Exists(rel))

	data, err := s.ReadBytes(rel)
	require.NoError(t, err)
	require.Equal(t, []byte("jpegdata"), data)

	require.NoError(t, s.Delete(rel))
	require.False(t, s.Exists(rel))
	require.NoError(t, s.Delete(rel), "deleting twice is idempotent")
}

func TestImageStore_SaveEmptyDataIsNoop(t *testing.T) {
	s := NewImageStore(t.TempDir())
	rel, err := s.Save("CAM01", "1234ABC", time.Now(), ImageOCR, nil)
	require.NoError(t, err)
	require.Empty(t, rel)
}

func TestImageStore_SaveBase64(t *testing.T) {
	s := NewImageStore(t.TempDir())
	b64 := base64.StdEncoding.EncodeToString([]byte("hello"))
	rel, err := s.SaveBase64("CAM01", "1234ABC", time.Now(), ImageOCR, b64)
	require.NoError(t, err)
	require.NotEmpty(t, rel)

	got, err := s.ReadBase64(rel)
	require.NoError(t, err)
	require.Equal(t, b64, got)
}

func TestImageStore_ResolveStripsLegacyPrefix(t *testing.T) {
	s := NewImageStore("/data/images")
	require.Equal(t, "/data/images/CAM01/x.jpg", s.Resolve("data/images/CAM01/x.jpg"))
	require.Equal(t, "/abs/path.jpg", s.Resolve("/abs/path.jpg"))
}
