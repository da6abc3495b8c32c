package ingesthttp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServer_StageWritesUniqueFile(t *testing.T) {
	dir := t.TempDir()
	s := &Server{StageDir: dir}

	require.NoError(t, s.stage([]byte(`{"Plate":"1234ABC"}`)))
	require.NoError(t, s.stage([]byte(`{"Plate":"5678DEF"}`)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.False(t, filepath.Ext(e.Name()) == ".tmp", "no leftover tmp files")
	}
}
