package importer

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foilbox/foilbox/internal/archive"
	"github.com/foilbox/foilbox/internal/download"
	"github.com/foilbox/foilbox/internal/store"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tempRoot := t.TempDir()
	queue := download.NewManager(download.NewClient(testLogger()), st, testLogger())
	extractor := archive.NewExtractor(tempRoot, testLogger())

	return NewProcessor(queue, extractor, tempRoot, testLogger())
}

func writeTestZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestProcessLocalFile(t *testing.T) {
	p := newTestProcessor(t)

	path := filepath.Join(t.TempDir(), "game.nsp")
	require.NoError(t, os.WriteFile(path, []byte("game"), 0644))

	m, err := p.Process(context.Background(), &Source{Kind: KindLocal, Path: path})
	require.NoError(t, err)
	defer m.Release()

	assert.Equal(t, []string{path}, m.Files)
	assert.Empty(t, m.TempDir)
}

func TestProcessLocalArchive(t *testing.T) {
	p := newTestProcessor(t)

	archivePath := filepath.Join(t.TempDir(), "bundle.zip")
	writeTestZip(t, archivePath, map[string]string{
		"a.nsp":        "aaa",
		"nested/b.nsp": "bbb",
	})

	m, err := p.Process(context.Background(), &Source{Kind: KindLocalArchive, Path: archivePath})
	require.NoError(t, err)
	defer m.Release()

	assert.Len(t, m.Files, 2)
	assert.NotEmpty(t, m.TempDir)

	// The source archive is consumed.
	_, err = os.Stat(archivePath)
	assert.True(t, os.IsNotExist(err))

	tmpDir := m.TempDir
	m.Release()
	_, err = os.Stat(tmpDir)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessLocalDir(t *testing.T) {
	p := newTestProcessor(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.nsp"), []byte("a"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.nsp"), []byte("b"), 0644))

	m, err := p.Process(context.Background(), &Source{Kind: KindLocalDir, Path: dir})
	require.NoError(t, err)
	defer m.Release()

	assert.Len(t, m.Files, 2)
	assert.Empty(t, m.TempDir)
}

func TestProcessRemoteFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote game bytes"))
	}))
	defer server.Close()

	p := newTestProcessor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := p.Process(ctx, &Source{Kind: KindRemote, URL: server.URL + "/game.nsp"})
	require.NoError(t, err)
	defer m.Release()

	require.Len(t, m.Files, 1)
	assert.Equal(t, "game.nsp", filepath.Base(m.Files[0]))

	content, err := os.ReadFile(m.Files[0])
	require.NoError(t, err)
	assert.Equal(t, "remote game bytes", string(content))
}

func TestProcessRemoteAuto(t *testing.T) {
	t.Run("archive is extracted", func(t *testing.T) {
		zipPath := filepath.Join(t.TempDir(), "bundle.zip")
		writeTestZip(t, zipPath, map[string]string{"inner.nsp": "inner bytes"})
		zipBytes, err := os.ReadFile(zipPath)
		require.NoError(t, err)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(zipBytes)
		}))
		defer server.Close()

		p := newTestProcessor(t)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		m, err := p.Process(ctx, &Source{Kind: KindRemoteAuto, URL: server.URL + "/bundle.zip"})
		require.NoError(t, err)
		defer m.Release()

		require.Len(t, m.Files, 1)
		assert.Equal(t, "inner.nsp", filepath.Base(m.Files[0]))

		content, err := os.ReadFile(m.Files[0])
		require.NoError(t, err)
		assert.Equal(t, "inner bytes", string(content))
	})

	t.Run("plain file passes through", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("plain"))
		}))
		defer server.Close()

		p := newTestProcessor(t)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		m, err := p.Process(ctx, &Source{Kind: KindRemoteAuto, URL: server.URL + "/game.xci"})
		require.NoError(t, err)
		defer m.Release()

		require.Len(t, m.Files, 1)
		assert.Equal(t, "game.xci", filepath.Base(m.Files[0]))
	})
}

func TestProcessRemoteFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := newTestProcessor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.Process(ctx, &Source{Kind: KindRemote, URL: server.URL + "/missing.nsp"})
	assert.Error(t, err)
}

func TestImportFilesPreservesArchiveStructure(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "updates"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "base.nsp"), []byte("base"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "updates", "patch.nsp"), []byte("patch"), 0644))

	m := &Materialized{
		Files: []string{
			filepath.Join(tmpDir, "base.nsp"),
			filepath.Join(tmpDir, "updates", "patch.nsp"),
		},
		TempDir: tmpDir,
	}

	libraryRoot := t.TempDir()
	require.NoError(t, ImportFiles(m, libraryRoot, testLogger()))

	content, err := os.ReadFile(filepath.Join(libraryRoot, "base.nsp"))
	require.NoError(t, err)
	assert.Equal(t, "base", string(content))

	content, err = os.ReadFile(filepath.Join(libraryRoot, "updates", "patch.nsp"))
	require.NoError(t, err)
	assert.Equal(t, "patch", string(content))
}

func TestImportFilesBasenameForDirectFiles(t *testing.T) {
	srcDir := t.TempDir()
	nested := filepath.Join(srcDir, "deep", "path")
	require.NoError(t, os.MkdirAll(nested, 0755))
	src := filepath.Join(nested, "game.nsp")
	require.NoError(t, os.WriteFile(src, []byte("direct"), 0644))

	// No TempDir: the file keeps only its basename.
	m := &Materialized{Files: []string{src}}

	libraryRoot := t.TempDir()
	require.NoError(t, ImportFiles(m, libraryRoot, testLogger()))

	content, err := os.ReadFile(filepath.Join(libraryRoot, "game.nsp"))
	require.NoError(t, err)
	assert.Equal(t, "direct", string(content))
}

func TestImportFilesPartialFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.nsp")
	require.NoError(t, os.WriteFile(good, []byte("ok"), 0644))

	m := &Materialized{Files: []string{good, filepath.Join(dir, "missing.nsp")}}

	libraryRoot := t.TempDir()
	err := ImportFiles(m, libraryRoot, testLogger())
	require.Error(t, err)

	// The file that moved stays moved.
	_, statErr := os.Stat(filepath.Join(libraryRoot, "good.nsp"))
	assert.NoError(t, statErr)
}
