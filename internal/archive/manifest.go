package archive

import (
	"bytes"
	"encoding/json"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/bundle-launcher/internal/model"
)

const (
	// RuntimeManifestName is the manifest entry at the root of a runtime archive.
	RuntimeManifestName = "runtime.json"

	// LauncherManifestName is the optional manifest entry inside the bundle.
	LauncherManifestName = "META-INF/launcher.yaml"
)

// RuntimeManifest describes a runtime archive. It is written as JSONC, so
// comments and trailing commas are allowed:
//
//	{
//	  // which engine adapter runs these modules
//	  "engine": "lua",
//	  "api": 1,
//	  "component": "core",
//	  "version": "5.2.4",
//	  "roots": ["lib"],
//	}
type RuntimeManifest struct {
	// Component is "core" or "stdlib". Optional.
	Component string `json:"component,omitempty"`

	// Version is informational; it usually matches the file name suffix.
	Version string `json:"version,omitempty"`

	// Engine names the registered engine adapter that runs this runtime.
	// Normally only the core archive declares it.
	Engine string `json:"engine,omitempty"`

	// API is the engine API version the archive was built against. Zero
	// means the archive makes no claim.
	API int `json:"api,omitempty"`

	// Roots lists in-archive directories searched for modules, in order.
	Roots []string `json:"roots,omitempty"`
}

// ParseRuntimeManifest decodes a JSONC runtime manifest and validates it.
func ParseRuntimeManifest(data []byte) (*RuntimeManifest, error) {
	// Strip comments and trailing commas; encoding/json rejects both.
	clean := jsonc.ToJSON(data)

	var manifest RuntimeManifest
	if err := json.Unmarshal(clean, &manifest); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", RuntimeManifestName)
	}
	if manifest.Component != "" {
		component, err := model.ParseRuntimeComponent(manifest.Component)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", RuntimeManifestName)
		}
		manifest.Component = component.String()
	}
	if manifest.API < 0 {
		return nil, errors.Errorf("%s: api must not be negative, got %d", RuntimeManifestName, manifest.API)
	}
	roots, err := cleanRoots(manifest.Roots)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", RuntimeManifestName)
	}
	manifest.Roots = roots
	return &manifest, nil
}

// LauncherManifest is the optional bundle configuration, written as YAML:
//
//	search_roots:
//	  - lib
//	  - vendor/lua
type LauncherManifest struct {
	// SearchRoots lists extra in-bundle directories searched for modules
	// after the bundle root.
	SearchRoots []string `yaml:"search_roots"`
}

// ParseLauncherManifest decodes a YAML launcher manifest. Unknown keys are
// rejected so that typos do not silently change module resolution.
func ParseLauncherManifest(data []byte) (*LauncherManifest, error) {
	var manifest LauncherManifest

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&manifest); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "parsing %s", LauncherManifestName)
	}

	roots, err := cleanRoots(manifest.SearchRoots)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", LauncherManifestName)
	}
	manifest.SearchRoots = roots
	return &manifest, nil
}

// cleanRoots normalizes in-archive directory names. Roots are relative to
// the archive root and may not climb out of it.
func cleanRoots(roots []string) ([]string, error) {
	if len(roots) == 0 {
		return nil, nil
	}
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		root = path.Clean(strings.TrimPrefix(strings.TrimSpace(root), "/"))
		if root == "." {
			root = ""
		}
		if root == ".." || strings.HasPrefix(root, "../") {
			return nil, errors.Errorf("root %q escapes the archive", root)
		}
		cleaned = append(cleaned, root)
	}
	return cleaned, nil
}
