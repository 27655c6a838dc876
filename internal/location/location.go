// Package location resolves the filesystem path of the launcher's own bundle.
//
// In a deployed bundle the launcher is the running executable, with the
// application zip appended to it, so the bundle path is the executable path.
// An explicit location may be supplied instead; it is accepted either as a
// plain path or as a file: URL, and may carry an entry marker pointing inside
// the archive (for example "file:/srv/app.zip!/META-INF/init.lua"). The scheme
// and the marker are stripped to obtain the archive path.
package location

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// EntryMarker separates an archive path from the name of an entry inside it.
const EntryMarker = "!/"

// ExecutableFunc returns the path of the running program.
// os.Executable satisfies it; tests substitute their own.
type ExecutableFunc func() (string, error)

// Resolve returns the absolute, symlink-free path of the bundle.
//
// When explicit is non-empty it is parsed with Parse; otherwise executable is
// consulted (os.Executable when nil). The resolved path must name an existing
// regular file.
func Resolve(explicit string, executable ExecutableFunc) (string, error) {
	var (
		path string
		err  error
	)
	if strings.TrimSpace(explicit) != "" {
		path, err = Parse(explicit)
	} else {
		path, err = fromExecutable(executable)
	}
	if err != nil {
		return "", err
	}

	// EvalSymlinks also fails for paths that do not exist, which is the
	// check we want: a bundle path that cannot be opened is useless.
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolving bundle path %s", path)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", errors.Wrapf(err, "inspecting bundle %s", resolved)
	}
	if info.IsDir() {
		return "", errors.Errorf("bundle path %s is a directory", resolved)
	}
	return resolved, nil
}

// Parse converts a location string into an absolute filesystem path.
//
// Accepted forms:
//
//	/opt/app/app.bundle
//	relative/app.zip
//	file:/opt/app/app.zip
//	file:///opt/app/app.zip
//	file:/opt/app/app.zip!/META-INF/init.lua
//
// Anything after the entry marker is discarded.
func Parse(raw string) (string, error) {
	location := strings.TrimSpace(raw)
	if i := strings.Index(location, EntryMarker); i >= 0 {
		location = location[:i]
	}
	location = strings.TrimSuffix(location, "!")

	if strings.HasPrefix(location, "file:") {
		u, err := url.Parse(location)
		if err != nil {
			return "", errors.Wrapf(err, "parsing bundle location %q", raw)
		}
		if u.Host != "" && u.Host != "localhost" {
			return "", errors.Errorf("bundle location %q points at remote host %q", raw, u.Host)
		}
		location = u.Path
		if location == "" {
			location = u.Opaque
		}
	}

	if location == "" {
		return "", errors.Errorf("bundle location %q has no path", raw)
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return "", errors.Wrapf(err, "making bundle location %q absolute", raw)
	}
	return abs, nil
}

func fromExecutable(executable ExecutableFunc) (string, error) {
	if executable == nil {
		executable = os.Executable
	}
	path, err := executable()
	if err != nil {
		return "", errors.Wrap(err, "locating running executable")
	}
	if path == "" {
		return "", errors.New("running executable has no path")
	}
	return filepath.Abs(path)
}
