package processor

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Lasarikoo/TattileSender/go/config"
)

func newTestProcessor(t *testing.T) (*Processor, config.Paths, string) {
	t.Helper()
	ingestDir := t.TempDir()
	senderDir := t.TempDir()
	mirrorDst := t.TempDir()

	paths := config.Paths{IngestJSONDir: ingestDir, SenderJSONDir: senderDir}
	p := New(paths, mirrorDst, 10*time.Millisecond, 5*time.Millisecond, log.New().WithField("test", true))
	return p, paths, mirrorDst
}

func TestProcessor_ResolvesPathReferenceToBase64(t *testing.T) {
	p, paths, mirrorDst := newTestProcessor(t)

	require.NoError(t, os.WriteFile(filepath.Join(mirrorDst, "plate001.jpg"), []byte("jpegbytes"), 0o644))

	payload := map[string]any{
		"Plate":        "1234ABC",
		"OCRImagePath": "/var/capture/plate001.jpg",
	}
	raw, _ := json.Marshal(payload)
	src := filepath.Join(paths.IngestJSONDir, "a.json")
	require.NoError(t, os.WriteFile(src, raw, 0o644))

	p.processFile(src)

	_, err := os.Stat(src)
	require.True(t, os.IsNotExist(err), "source should be removed")

	out, err := os.ReadFile(filepath.Join(paths.SenderJSONDir, "a.json"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpegbytes")), decoded["ImageOCR"])

	_, err = os.Stat(filepath.Join(mirrorDst, "plate001.jpg"))
	require.True(t, os.IsNotExist(err), "consumed mirror image should be deleted")
}

func TestProcessor_HandlesListPayload(t *testing.T) {
	p, paths, _ := newTestProcessor(t)

	raw, _ := json.Marshal([]map[string]any{
		{"Plate": "AAA111"},
		{"Plate": "BBB222"},
	})
	src := filepath.Join(paths.IngestJSONDir, "list.json")
	require.NoError(t, os.WriteFile(src, raw, 0o644))

	p.processFile(src)

	out, err := os.ReadFile(filepath.Join(paths.SenderJSONDir, "list.json"))
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded, 2)
}

func TestProcessor_DropsUnparsableFile(t *testing.T) {
	p, paths, _ := newTestProcessor(t)

	src := filepath.Join(paths.IngestJSONDir, "bad.json")
	require.NoError(t, os.WriteFile(src, []byte("not json"), 0o644))

	p.processFile(src)

	_, err := os.Stat(src)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(paths.SenderJSONDir, "bad.json"))
	require.True(t, os.IsNotExist(err))
}
