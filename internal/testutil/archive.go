// Package testutil builds zip fixtures for tests: runtime archives and
// launcher bundles.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

// Entry is a single file written into a fixture archive.
type Entry struct {
	Name string
	Body string

	// Zstd stores the entry with zstd compression (zip method 93) instead
	// of deflate.
	Zstd bool
}

// Files converts a name → body map into entries sorted by name.
func Files(files map[string]string) []Entry {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, Entry{Name: name, Body: files[name]})
	}
	return entries
}

// WriteArchive writes a zip archive at path and returns path.
func WriteArchive(t testing.TB, path string, entries ...Entry) string {
	t.Helper()
	return WriteBundle(t, path, nil, entries...)
}

// WriteBundle writes prefix followed by a zip archive, the layout of a
// launcher executable with its application appended. The zip offsets
// account for the prefix, so any zip reader can open the result.
func WriteBundle(t testing.TB, path string, prefix []byte, entries ...Entry) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	if len(prefix) > 0 {
		_, err = f.Write(prefix)
		require.NoError(t, err)
	}

	w := zip.NewWriter(f)
	w.SetOffset(int64(len(prefix)))
	w.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())

	for _, entry := range entries {
		method := zip.Deflate
		if entry.Zstd {
			method = zstd.ZipMethodWinZip
		}
		fw, err := w.CreateHeader(&zip.FileHeader{Name: entry.Name, Method: method})
		require.NoError(t, err)
		_, err = fw.Write([]byte(entry.Body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

// RuntimeManifest returns a runtime.json body declaring the given engine
// and api version.
func RuntimeManifest(component, engine string, api int) string {
	return `{
  // fixture manifest
  "component": "` + component + `",
  "version": "5.2.4",
  "engine": "` + engine + `",
  "api": ` + strconv.Itoa(api) + `,
}`
}
