package archive

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"

	"github.com/shinji-kodama/bundle-launcher/internal/model"
)

// RuntimeArchivePattern matches the file names of runtime archives:
// "runtime-", the component ("core" or "stdlib"), "-", any non-empty
// suffix (normally the version) and the ".zip" extension.
var RuntimeArchivePattern = regexp.MustCompile(`^runtime-(core|stdlib)-.+\.zip$`)

// Match reports whether name is a runtime archive file name.
func Match(name string) bool {
	return RuntimeArchivePattern.MatchString(name)
}

// ComponentOf returns the component encoded in a runtime archive file name.
func ComponentOf(name string) (model.RuntimeComponent, bool) {
	m := RuntimeArchivePattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return model.RuntimeComponent(m[1]), true
}

// Discover lists dir and returns the absolute paths of the non-directory
// entries whose names match RuntimeArchivePattern. Symlinks are kept
// without being followed; opening them later reports a dangling link.
//
// The result keeps the order in which the directory yields its entries; it
// is deliberately not sorted, so the order is platform dependent. Callers
// that need determinism must sort themselves.
func Discover(dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving directory %s", dir)
	}

	// os.ReadDir sorts by name; File.ReadDir returns directory order.
	f, err := os.Open(absDir)
	if err != nil {
		return nil, errors.Wrapf(err, "opening directory %s", absDir)
	}
	defer func() { _ = f.Close() }()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, errors.Wrapf(err, "listing directory %s", absDir)
	}

	var archives []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if Match(entry.Name()) {
			archives = append(archives, filepath.Join(absDir, entry.Name()))
		}
	}
	return archives, nil
}
