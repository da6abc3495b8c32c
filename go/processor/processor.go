// Package processor implements C5, the File Processor: it polls
// INGEST_JSON_DIR for staged ingest payloads, resolves image path
// references against the mirror output directory, inlines them as base64
// and emits the normalized payload to SENDER_JSON_DIR. Grounded on
// original_source/app/processor/file_processor.py's key-family resolution
// table.
package processor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Lasarikoo/TattileSender/go/config"
)

// imageFieldFamily is a resolved key family for one logical image field:
// ContentKeys are where inlined base64 already might live; PathKeys are
// where a filesystem reference to resolve might live (spec.md §4.5).
type imageFieldFamily struct {
	name        string
	contentKeys []string
	pathKeys    []string
}

var imageFamilies = []imageFieldFamily{
	{name: "ocr", contentKeys: []string{"ImageOCR", "ImageOcr", "IMAGE_OCR"}, pathKeys: []string{"OCRImagePath"}},
	{name: "crop", contentKeys: []string{"ImageCrop", "IMAGE_CROP"}, pathKeys: []string{"CROPImagePath"}},
	{name: "ctx", contentKeys: []string{"ImageCTX", "ImageCtx", "IMAGE_CTX"}, pathKeys: []string{"ColorImagePath"}},
}

// Processor polls cfg's ingest stage dir and emits to its sender stage dir.
type Processor struct {
	cfg       config.Paths
	mirrorDst string
	poll      time.Duration
	stability time.Duration
	log       *log.Entry
}

// New builds a Processor. mirrorDst is the filesystem mirror's destination
// directory (CLONED_DIR), where path-valued image references are resolved.
func New(paths config.Paths, mirrorDst string, poll, stability time.Duration, logger *log.Entry) *Processor {
	return &Processor{cfg: paths, mirrorDst: mirrorDst, poll: poll, stability: stability, log: logger}
}

// Run polls INGEST_JSON_DIR every p.poll until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	if err := os.MkdirAll(p.cfg.SenderJSONDir, 0o755); err != nil {
		return fmt.Errorf("creating sender json dir: %w", err)
	}
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.processOldest(ctx)
		}
	}
}

// processOldest picks the single oldest .json file in INGEST_JSON_DIR by
// mtime and processes it, per spec.md §4.5's FIFO ordering.
func (p *Processor) processOldest(ctx context.Context) {
	entries, err := os.ReadDir(p.cfg.IngestJSONDir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.WithError(err).Warn("failed listing ingest json dir")
		}
		return
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{filepath.Join(p.cfg.IngestJSONDir, e.Name()), info.ModTime()})
	}
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mod.Before(candidates[j].mod) })

	oldest := candidates[0].path
	if !p.waitStable(ctx, oldest) {
		return
	}
	p.processFile(oldest)
}

// waitStable requires the file's size be unchanged for p.stability,
// matching the mirror's stability-gate idiom.
func (p *Processor) waitStable(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	lastSize := info.Size()

	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.stability):
	}

	info, err = os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() == lastSize
}

// processFile normalizes one staged ingest file and writes it to
// SENDER_JSON_DIR, deleting the source and any mirror images it consumed on
// success. Any parse/write failure is logged and the file is dropped
// (spec.md §4.5).
func (p *Processor) processFile(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		p.log.WithError(err).WithField("file", path).Warn("failed reading staged ingest file")
		return
	}

	var single map[string]any
	var list []map[string]any

	if err := json.Unmarshal(raw, &list); err != nil {
		if err := json.Unmarshal(raw, &single); err != nil {
			p.log.WithError(err).WithField("file", path).Warn("staged ingest file is not valid JSON object or list")
			_ = os.Remove(path)
			return
		}
		list = []map[string]any{single}
	}

	var usedMirrorFiles []string
	for i, obj := range list {
		used := p.resolveImages(obj)
		usedMirrorFiles = append(usedMirrorFiles, used...)
		list[i] = obj
	}

	var out any = list
	if len(list) == 1 {
		out = list[0]
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		p.log.WithError(err).WithField("file", path).Error("failed encoding processed payload")
		_ = os.Remove(path)
		return
	}

	dst := filepath.Join(p.cfg.SenderJSONDir, filepath.Base(path))
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		p.log.WithError(err).WithField("file", path).Error("failed writing processed payload")
		_ = os.Remove(tmp)
		_ = os.Remove(path)
		return
	}
	if err := os.Rename(tmp, dst); err != nil {
		p.log.WithError(err).WithField("file", path).Error("failed renaming processed payload into place")
		_ = os.Remove(tmp)
		_ = os.Remove(path)
		return
	}

	_ = os.Remove(path)
	for _, f := range usedMirrorFiles {
		_ = os.Remove(f)
	}
}

// resolveImages fills in each image family's content key from a path
// reference when no base64 is already present, per spec.md §4.5. It
// returns the absolute mirror-directory paths it consumed, for deletion on
// success.
func (p *Processor) resolveImages(obj map[string]any) []string {
	var used []string
	for _, fam := range imageFamilies {
		if hasNonEmptyString(obj, fam.contentKeys) {
			continue
		}
		pathRef := firstNonEmptyString(obj, fam.pathKeys)
		if pathRef == "" {
			continue
		}
		resolved, ok := p.resolvePath(pathRef)
		if !ok {
			continue
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			p.log.WithError(err).WithField("path", resolved).Warn("failed reading referenced image for inlining")
			continue
		}
		obj[fam.contentKeys[0]] = base64.StdEncoding.EncodeToString(data)
		used = append(used, resolved)
	}
	return used
}

// resolvePath implements spec.md §4.5's basename-against-mirror-dir,
// recursive fallback, then absolute-path fallback resolution order.
func (p *Processor) resolvePath(ref string) (string, bool) {
	base := filepath.Base(ref)

	direct := filepath.Join(p.mirrorDst, base)
	if fileExists(direct) {
		return direct, true
	}

	var found string
	_ = filepath.Walk(p.mirrorDst, func(path string, info os.FileInfo, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if !info.IsDir() && info.Name() == base {
			found = path
		}
		return nil
	})
	if found != "" {
		return found, true
	}

	if filepath.IsAbs(ref) && fileExists(ref) {
		return ref, true
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func hasNonEmptyString(obj map[string]any, keys []string) bool {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return true
		}
	}
	return false
}

func firstNonEmptyString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
