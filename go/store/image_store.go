package store

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ImageKind distinguishes the two images a reading may carry.
type ImageKind string

const (
	ImageOCR ImageKind = "ocr"
	ImageCTX ImageKind = "ctx"
)

var plateCleaner = regexp.MustCompile(`[^A-Z0-9]`)

// normalizePlate mirrors original_source/app/utils/images.py's
// normalize_plate: strip spaces, upper-case, fall back to "unknown".
func normalizePlate(plate string) string {
	p := plateCleaner.ReplaceAllString(strings.ToUpper(strings.ReplaceAll(plate, " ", "")), "")
	if p == "" {
		return "unknown"
	}
	return p
}

// ImageStore implements C1: deterministic layout, base64 decode/encode,
// best-effort idempotent deletion, tolerant of missing intermediate dirs.
type ImageStore struct {
	Root string
}

// NewImageStore builds an ImageStore rooted at root (IMAGES_DIR).
func NewImageStore(root string) *ImageStore {
	return &ImageStore{Root: root}
}

// RelativePath returns the stable, deterministic relative path for a
// (plate, device_sn, timestamp, kind) tuple, per spec.md §4.1:
// <device_sn>/YYYY/MM/DD/<YYYYMMDDhhmmss>_plate-<PLATE>_{ocr|ctx}.jpg
func RelativePath(deviceSN, plate string, ts time.Time, kind ImageKind) string {
	ts = ts.UTC()
	datePart := ts.Format("2006/01/02")
	tsPart := ts.Format("20060102150405")
	filename := fmt.Sprintf("%s_plate-%s_%s.jpg", tsPart, normalizePlate(plate), kind)
	return filepath.Join(deviceSN, datePart, filename)
}

// Resolve normalizes legacy absolute-or-"data/images/..." inputs to an
// absolute filesystem path under Root, per spec.md §4.1.
func (s *ImageStore) Resolve(relOrLegacy string) string {
	if relOrLegacy == "" {
		return ""
	}
	if filepath.IsAbs(relOrLegacy) {
		return relOrLegacy
	}
	// Legacy paths sometimes carry a "data/images/" prefix already baked
	// in; strip it so we don't double the root.
	trimmed := strings.TrimPrefix(relOrLegacy, "data/images/")
	return filepath.Join(s.Root, trimmed)
}

// Save writes the already-decoded image bytes in data to the deterministic
// path for (plate, deviceSN, ts, kind), recreating any missing intermediate
// directories. Returns the relative path on success; empty data writes
// nothing and returns "". Write failure must be treated by the caller as
// "image absent" (spec.md §4.1) — Save returns ("", err). It writes to the
// final path directly, so a failed write can leave a partial file there.
func (s *ImageStore) Save(deviceSN, plate string, ts time.Time, kind ImageKind, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	rel := RelativePath(deviceSN, plate, ts, kind)
	full := filepath.Join(s.Root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating image dir for %s: %w", rel, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("writing image %s: %w", rel, err)
	}
	return rel, nil
}

// SaveBase64 decodes b64 and delegates to Save; a decode failure is
// reported the same as a write failure.
func (s *ImageStore) SaveBase64(deviceSN, plate string, ts time.Time, kind ImageKind, b64 string) (string, error) {
	if b64 == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decoding base64 image %s: %w", kind, err)
	}
	return s.Save(deviceSN, plate, ts, kind, data)
}

// ReadBytes reads the raw bytes stored at a relative (or legacy) path.
func (s *ImageStore) ReadBytes(relOrLegacy string) ([]byte, error) {
	full := s.Resolve(relOrLegacy)
	return os.ReadFile(full)
}

// ReadBase64 reads and re-encodes the image at path, as used by the
// Sender to build imgMatricula/imgContext.
func (s *ImageStore) ReadBase64(relOrLegacy string) (string, error) {
	data, err := s.ReadBytes(relOrLegacy)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Exists reports whether the image at a relative (or legacy) path is
// present on disk.
func (s *ImageStore) Exists(relOrLegacy string) bool {
	if relOrLegacy == "" {
		return false
	}
	full := s.Resolve(relOrLegacy)
	info, err := os.Stat(full)
	return err == nil && !info.IsDir()
}

// Delete removes the image at a relative (or legacy) path. Deletion is
// best-effort idempotent: a missing file is not an error.
func (s *ImageStore) Delete(relOrLegacy string) error {
	if relOrLegacy == "" {
		return nil
	}
	full := s.Resolve(relOrLegacy)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting image %s: %w", relOrLegacy, err)
	}
	return nil
}
