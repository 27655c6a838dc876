package launcher

import (
	"github.com/pkg/errors"

	"github.com/shinji-kodama/bundle-launcher/internal/archive"
	"github.com/shinji-kodama/bundle-launcher/internal/engine"
)

// selectEngine picks the registered engine the runtime archives declare.
//
// Every manifest naming an engine must name the same one, and the engine
// must support each api version the manifests require.
func selectEngine(runtimes []*archive.Archive) (engine.Registration, error) {
	var (
		name       string
		declaredBy string
		apis       []int
	)
	for _, a := range runtimes {
		m := a.Manifest
		if m == nil {
			continue
		}
		if m.Engine != "" {
			switch {
			case name == "":
				name, declaredBy = m.Engine, a.Path
			case m.Engine != name:
				return engine.Registration{}, errors.Errorf("%s declares engine %q but %s declares %q",
					declaredBy, name, a.Path, m.Engine)
			}
		}
		if m.API != 0 {
			apis = append(apis, m.API)
		}
	}
	if name == "" {
		return engine.Registration{}, errors.Errorf("no runtime archive declares an engine (looked at %d)", len(runtimes))
	}

	reg, err := engine.Lookup(name, 0)
	if err != nil {
		return engine.Registration{}, err
	}
	for _, api := range apis {
		if _, err := engine.Lookup(name, api); err != nil {
			return engine.Registration{}, err
		}
	}
	return reg, nil
}
