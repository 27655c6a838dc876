package archive

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/shinji-kodama/bundle-launcher/internal/location"
)

// Archive is an open zip archive: either a runtime archive or the launcher
// bundle itself (an executable with a zip appended to it).
//
// Entries are read lazily; Open only scans the central directory and the
// optional runtime manifest.
type Archive struct {
	// Path is the absolute filesystem path the archive was opened from.
	Path string

	// Manifest is the parsed runtime.json, or nil when the archive has none.
	Manifest *RuntimeManifest

	// reader is nil once the archive is closed.
	reader *zip.ReadCloser

	// files indexes the file entries by cleaned name, without a leading
	// slash.
	files map[string]*zip.File
}

// Open opens the zip archive at archivePath.
//
// Entries compressed with zstd (zip method 93) are readable in addition to
// the stored and deflate methods. When the archive contains runtime.json at
// its root, the manifest is parsed and must be valid.
func Open(archivePath string) (*Archive, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening archive %s", archivePath)
	}
	// Register zstd per reader so the global zip registry stays untouched.
	reader.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	a := &Archive{
		Path:   archivePath,
		reader: reader,
		files:  make(map[string]*zip.File, len(reader.File)),
	}
	for _, f := range reader.File {
		// Directory entries carry no content and would shadow nothing useful.
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		a.files[path.Clean(strings.TrimPrefix(f.Name, "/"))] = f
	}

	// A runtime manifest is optional, but a broken one fails the open.
	data, ok, err := a.ReadFile(RuntimeManifestName)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	if ok {
		manifest, err := ParseRuntimeManifest(data)
		if err != nil {
			_ = reader.Close()
			return nil, errors.Wrapf(err, "archive %s", archivePath)
		}
		a.Manifest = manifest
	}
	return a, nil
}

// Has reports whether the archive contains the named entry.
func (a *Archive) Has(name string) bool {
	_, ok := a.files[path.Clean(name)]
	return ok
}

// ReadFile returns the content of the named entry. The boolean is false
// when the entry does not exist, in which case the error is nil.
func (a *Archive) ReadFile(name string) ([]byte, bool, error) {
	f, ok := a.files[path.Clean(name)]
	if !ok {
		return nil, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, true, errors.Wrapf(err, "opening %s", a.Origin(name))
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, true, errors.Wrapf(err, "reading %s", a.Origin(name))
	}
	return data, true, nil
}

// Origin formats the location of an entry as "<archive>!/<entry>", the
// same form location.Parse accepts.
func (a *Archive) Origin(name string) string {
	return fmt.Sprintf("%s%s%s", a.Path, location.EntryMarker, path.Clean(name))
}

// Roots returns the in-archive directories searched for modules. Without a
// manifest (or when the manifest lists none) the archive root is searched.
func (a *Archive) Roots() []string {
	if a.Manifest == nil || len(a.Manifest.Roots) == 0 {
		return []string{""}
	}
	return a.Manifest.Roots
}

// LauncherManifest reads META-INF/launcher.yaml. It returns an empty
// manifest when the entry is absent.
func (a *Archive) LauncherManifest() (*LauncherManifest, error) {
	data, ok, err := a.ReadFile(LauncherManifestName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &LauncherManifest{}, nil
	}
	manifest, err := ParseLauncherManifest(data)
	if err != nil {
		return nil, errors.Wrapf(err, "archive %s", a.Path)
	}
	return manifest, nil
}

// Close releases the underlying file.
func (a *Archive) Close() error {
	if a.reader == nil {
		return nil
	}
	err := a.reader.Close()
	a.reader = nil
	return err
}
