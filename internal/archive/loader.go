package archive

import (
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/shinji-kodama/bundle-launcher/internal/model"
)

// Loader is the isolated loading context handed to the engine: an ordered
// list of archives and the roots searched inside each of them. Modules are
// resolved only from these archives, never from the host filesystem.
//
// The bundle is consulted first, then the runtime archives in the order
// they were given, so application code can shadow runtime modules.
type Loader struct {
	// sources are searched in order; the bundle, when present, is first.
	sources []source
}

// source is one archive together with where to look inside it.
type source struct {
	archive *Archive

	// roots are entry-name prefixes, "" meaning the archive root. Each is
	// tried with every candidate entry before moving to the next root.
	roots []string
}

// NewLoader builds a Loader over bundle and runtimes. The bundle may be nil.
//
// The bundle is searched at its root and then at the search_roots listed in
// its META-INF/launcher.yaml. Each runtime archive is searched at the roots
// its runtime.json declares, or at its root.
//
// The Loader takes ownership of every archive: Close closes them all.
func NewLoader(bundle *Archive, runtimes ...*Archive) (*Loader, error) {
	l := &Loader{}
	if bundle != nil {
		manifest, err := bundle.LauncherManifest()
		if err != nil {
			return nil, err
		}
		// The bundle root always comes first so META-INF/init is found.
		roots := append([]string{""}, manifest.SearchRoots...)
		l.sources = append(l.sources, source{archive: bundle, roots: dedupe(roots)})
	}
	for _, a := range runtimes {
		l.sources = append(l.sources, source{archive: a, roots: a.Roots()})
	}
	return l, nil
}

// Resolve finds the module called name.
//
// The name is mapped to candidate entries the way require does: dots become
// slashes and ".lua" is appended, falling back to "<name>/init.lua". A name
// already ending in ".lua" is used verbatim. The first archive and root that
// hold a candidate win. A module that exists nowhere yields (nil, nil).
func (l *Loader) Resolve(name string) (*model.Module, error) {
	candidates, err := candidateEntries(name)
	if err != nil {
		return nil, err
	}
	for _, src := range l.sources {
		for _, root := range src.roots {
			for _, candidate := range candidates {
				entry := path.Join(root, candidate)
				data, ok, err := src.archive.ReadFile(entry)
				if err != nil {
					// A present but unreadable entry stops the search
					// instead of falling through to a shadowed module.
					return nil, err
				}
				if !ok {
					continue
				}
				return &model.Module{
					Name:   name,
					Origin: src.archive.Origin(entry),
					Source: data,
				}, nil
			}
		}
	}
	return nil, nil
}

// Archives returns the archives in search order.
func (l *Loader) Archives() []*Archive {
	archives := make([]*Archive, 0, len(l.sources))
	for _, src := range l.sources {
		archives = append(archives, src.archive)
	}
	return archives
}

// Close closes every archive and returns the first error encountered.
func (l *Loader) Close() error {
	var first error
	for _, src := range l.sources {
		if err := src.archive.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// candidateEntries maps a module name to the entry names to try.
func candidateEntries(name string) ([]string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(name), "/")
	if trimmed == "" {
		return nil, errors.New("module name must not be empty")
	}
	if strings.HasSuffix(trimmed, ".lua") {
		return checkEntries(name, path.Clean(trimmed))
	}
	base := path.Clean(strings.ReplaceAll(trimmed, ".", "/"))
	return checkEntries(name, base+".lua", base+"/init.lua")
}

// checkEntries rejects entries that path.Clean left pointing above the
// archive root.
func checkEntries(name string, entries ...string) ([]string, error) {
	for _, entry := range entries {
		if entry == ".." || strings.HasPrefix(entry, "../") {
			return nil, errors.Errorf("module name %q escapes the archive", name)
		}
	}
	return entries, nil
}

// dedupe drops repeated values in place, keeping the first occurrence.
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
