// Package engine defines the narrow contract between the launcher and an
// embedded scripting engine, and the registry through which engines are
// found by name.
//
// Engines are linked into the binary and register themselves from an init
// function, the way database/sql drivers do. The runtime archives decide at
// run time which registered engine runs them: the core archive's manifest
// names the engine and the API version it was built for. All script code,
// including the runtime's own modules, is loaded dynamically from the
// archives through a Resolver.
package engine

import (
	"github.com/shinji-kodama/bundle-launcher/internal/model"
)

// Resolver locates script modules for the engine. It is the engine's only
// source of code: implementations decide which archives are visible.
type Resolver interface {
	// Resolve returns the module called name, or (nil, nil) if no
	// archive provides it.
	Resolve(name string) (*model.Module, error)
}

// Container is one instance of an embedded engine.
type Container interface {
	// SetArgv sets the argument vector visible to scripts. The slice is
	// exposed exactly as given.
	SetArgv(args []string)

	// SetResolver sets where required modules are loaded from.
	SetResolver(resolver Resolver)

	// RunScriptlet evaluates script and returns the integer it produces.
	RunScriptlet(script string) (int, error)

	// Close releases the engine.
	Close()
}

// Options configures a new Container.
type Options struct {
	// DiscoverModulePath lets the engine build its own module search path
	// from the host environment (for Lua: package.path seeded from
	// LUA_PATH). The launcher supplies modules exclusively through the
	// Resolver and therefore always leaves this false.
	DiscoverModulePath bool
}

// Factory creates a Container.
type Factory func(opts Options) (Container, error)
