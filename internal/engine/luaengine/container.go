// Package luaengine adapts the Shopify/go-lua virtual machine (Lua 5.2) to
// engine.Container and registers it under the name "lua".
//
// The container differs from a stock interpreter in these ways:
//
//   - package.path is emptied unless Options.DiscoverModulePath is set, so
//     LUA_PATH and the working directory never contribute modules.
//   - A searcher placed right after the preload searcher resolves require
//     through the engine.Resolver.
//   - os.exit does not terminate the process. It records the requested
//     status on the container and unwinds the script with an exit signal.
//     The recorded status is the scriptlet's result even when a pcall
//     caught the signal on the way out.
//   - RunScriptlet is the protected block: uncaught errors come back as a
//     *ScriptError carrying the Lua traceback.
//   - xpcall is reimplemented. go-lua records a message handler as a stack
//     slot, so user handlers are dispatched through the handler that
//     RunScriptlet installs at a fixed slot of the main thread.
//   - A "launcher" table exposes exit_status and traceback for runtime code
//     that installs its own handlers.
package luaengine

import (
	"fmt"

	"github.com/Shopify/go-lua"
	"github.com/pkg/errors"

	"github.com/shinji-kodama/bundle-launcher/internal/engine"
)

const (
	// Name is the engine name runtime manifests use for this adapter.
	Name = "lua"

	// APIVersion is the runtime API version this adapter implements.
	APIVersion = 1
)

// exitSignal is the error value os.exit raises. go-lua only carries string
// error values through State.Error, so the status itself lives on the
// Container.
const exitSignal = "<bundle-launcher: os.exit>"

// handlersKey names the registry table holding the message handlers of the
// active xpcalls, indexed by nesting depth.
const handlersKey = "bundle-launcher.handlers"

func init() {
	engine.Register(engine.Registration{
		Name:        Name,
		APIVersions: []int{APIVersion},
		New: func(opts engine.Options) (engine.Container, error) {
			return New(opts)
		},
	})
}

// ScriptError is an uncaught Lua error. Message is the Lua error message
// followed by the stack traceback at the point of the error.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	return e.Message
}

// Container is a single Lua state.
type Container struct {
	state    *lua.State
	resolver engine.Resolver

	// exited is set by os.exit; status is the code it asked for. Both are
	// reset at the start of every RunScriptlet.
	exited bool
	status int

	// handlerSlot is the absolute stack slot of the running scriptlet's
	// message handler, 0 between runs. depth counts the xpcalls active on
	// the main thread.
	handlerSlot int
	depth       int
}

// installSearcher moves the global __bundle_searcher into package.searchers
// right after the preload searcher. Lua 5.1 states call the list "loaders".
const installSearcher = `
local searchers = package.searchers or package.loaders
table.insert(searchers, 2, __bundle_searcher)
__bundle_searcher = nil
`

// New creates a Lua state with the standard libraries opened and the
// launcher hooks installed.
func New(opts engine.Options) (*Container, error) {
	c := &Container{state: lua.NewState()}
	state := c.state
	lua.OpenLibraries(state)

	if !opts.DiscoverModulePath {
		state.Global("package")
		state.PushString("")
		state.SetField(-2, "path")
		state.Pop(1)
	}

	state.Global("os")
	state.PushGoFunction(c.osExit)
	state.SetField(-2, "exit")
	state.Pop(1)

	state.NewTable()
	state.SetField(lua.RegistryIndex, handlersKey)
	state.PushGoFunction(c.xpcall)
	state.SetGlobal("xpcall")

	state.NewTable()
	lua.SetFunctions(state, []lua.RegistryFunction{
		{Name: "exit_status", Function: c.exitStatus},
		{Name: "traceback", Function: c.traceback},
	}, 0)
	state.SetGlobal("launcher")

	state.PushGoFunction(c.search)
	state.SetGlobal("__bundle_searcher")
	if err := lua.DoString(state, installSearcher); err != nil {
		return nil, errors.Wrap(err, "install module searcher")
	}

	c.SetArgv(nil)
	return c, nil
}

// SetArgv publishes args as the global table arg, indexed from 1.
func (c *Container) SetArgv(args []string) {
	state := c.state
	state.CreateTable(len(args), 0)
	for i, a := range args {
		state.PushString(a)
		state.RawSetInt(-2, i+1)
	}
	state.SetGlobal("arg")
}

// SetResolver sets where require looks for modules.
func (c *Container) SetResolver(resolver engine.Resolver) {
	c.resolver = resolver
}

// RunScriptlet runs script as a protected chunk.
//
// If the script called os.exit, the status it asked for is returned,
// whatever happened afterwards. Otherwise an uncaught error is returned as
// a *ScriptError, and a normal completion returns the chunk's first result:
// nil is 0, true is 0, false is 1, and a number is used as is.
func (c *Container) RunScriptlet(script string) (status int, err error) {
	state := c.state
	top := state.Top()
	defer state.SetTop(top)
	defer func() {
		if r := recover(); r != nil {
			status, err = 0, errors.Errorf("lua engine panic: %v", r)
		}
	}()

	c.exited, c.status, c.depth = false, 0, 0

	// The message handler sits below the chunk. Called from Go the state
	// runs in its base frame, where relative and absolute slots coincide.
	state.PushGoFunction(c.messageHandler)
	handler := state.Top()
	c.handlerSlot = handler
	defer func() { c.handlerSlot = 0 }()

	if err := lua.LoadBuffer(state, script, "=scriptlet", ""); err != nil {
		return 0, c.failure(err)
	}
	callErr := state.ProtectedCall(0, 1, handler)
	if c.exited {
		return c.status, nil
	}
	if callErr != nil {
		return 0, c.failure(callErr)
	}

	switch state.TypeOf(-1) {
	case lua.TypeNil, lua.TypeNone:
		return 0, nil
	case lua.TypeBoolean:
		if state.ToBoolean(-1) {
			return 0, nil
		}
		return 1, nil
	case lua.TypeNumber:
		n, _ := state.ToInteger(-1)
		return n, nil
	default:
		return 0, errors.Errorf("scriptlet returned a %s value", lua.TypeNameOf(state, -1))
	}
}

// failure builds the error for a failed load or call. The error value is
// on the stack top.
func (c *Container) failure(err error) error {
	if msg, ok := c.state.ToString(-1); ok {
		return errors.WithStack(&ScriptError{Message: msg})
	}
	return errors.WithStack(&ScriptError{Message: err.Error()})
}

// Close releases the state. go-lua states hold no OS resources, so this
// only drops the references.
func (c *Container) Close() {
	c.state = nil
	c.resolver = nil
}

// search is the package searcher. It returns a loader and the module's
// origin, or a message explaining the miss, as require expects.
func (c *Container) search(state *lua.State) int {
	name := lua.CheckString(state, 1)
	if c.resolver == nil {
		state.PushString(fmt.Sprintf("\n\tno resolver for module '%s'", name))
		return 1
	}

	mod, err := c.resolver.Resolve(name)
	if err != nil {
		lua.Errorf(state, "error loading module '%s': %s", name, err.Error())
		return 0
	}
	if mod == nil {
		state.PushString(fmt.Sprintf("\n\tno entry for module '%s' in the bundle or runtime archives", name))
		return 1
	}

	if err := lua.LoadBuffer(state, string(mod.Source), "@"+mod.Origin, ""); err != nil {
		// LoadBuffer left the syntax error message on the stack.
		state.Error()
		return 0
	}
	state.PushString(mod.Origin)
	return 2
}

// osExit replaces os.exit. Code nil or true means 0, false means 1, and an
// integer is used as is. The first call wins.
func (c *Container) osExit(state *lua.State) int {
	status := 0
	switch state.TypeOf(1) {
	case lua.TypeNone, lua.TypeNil:
	case lua.TypeBoolean:
		if !state.ToBoolean(1) {
			status = 1
		}
	default:
		status = lua.CheckInteger(state, 1)
	}
	if !c.exited {
		c.exited, c.status = true, status
	}
	state.PushString(exitSignal)
	state.Error()
	return 0
}

// exitStatus is launcher.exit_status(): the status requested by os.exit
// during the current run, or nil.
func (c *Container) exitStatus(state *lua.State) int {
	if c.exited {
		state.PushInteger(c.status)
		return 1
	}
	state.PushNil()
	return 1
}

// traceback is launcher.traceback(msg). The exit signal passes through
// untouched; any other error becomes a message with a stack traceback.
func (c *Container) traceback(state *lua.State) int {
	msg, ok := state.ToString(1)
	if c.exited && ok && msg == exitSignal {
		state.PushValue(1)
		return 1
	}
	if !ok {
		msg = fmt.Sprintf("(error object is a %s value)", lua.TypeNameOf(state, 1))
	}
	lua.Traceback(state, state, msg, 1)
	return 1
}

// messageHandler is the handler RunScriptlet installs. It runs at the point
// of the error. Inside an xpcall it calls that xpcall's handler, otherwise
// it adds the traceback.
func (c *Container) messageHandler(state *lua.State) int {
	msg, ok := state.ToString(1)
	if c.exited && ok && msg == exitSignal {
		state.PushValue(1)
		return 1
	}
	if c.depth == 0 {
		return c.traceback(state)
	}

	state.Field(lua.RegistryIndex, handlersKey)
	state.RawGetInt(-1, c.depth)
	state.Remove(-2)
	state.PushValue(1)
	// An error inside the handler becomes its result.
	_ = state.ProtectedCall(1, 1, 0)
	if _, ok := state.ToString(-1); !ok {
		// go-lua can only raise strings.
		state.PushString(fmt.Sprintf("(error object is a %s value)", lua.TypeNameOf(state, -1)))
	}
	return 1
}

// xpcall(f, msgh, ...) with the standard result convention: true followed
// by f's results, or false and the value returned by msgh.
func (c *Container) xpcall(state *lua.State) int {
	n := state.Top()
	lua.CheckAny(state, 2)

	if c.handlerSlot == 0 {
		return c.xpcallUnwound(state, n)
	}

	c.depth++
	depth := c.depth
	state.Field(lua.RegistryIndex, handlersKey)
	state.PushValue(2)
	state.RawSetInt(-2, depth)
	state.Pop(1)
	state.Remove(2)
	defer func() {
		state.Field(lua.RegistryIndex, handlersKey)
		state.PushNil()
		state.RawSetInt(-2, depth)
		state.Pop(1)
		c.depth = depth - 1
	}()

	// handlerSlot is absolute. go-lua keeps positive handler indexes as
	// they are and reads them as absolute slots when an error is raised.
	if err := state.ProtectedCall(n-2, lua.MultipleReturns, c.handlerSlot); err != nil {
		state.PushBoolean(false)
		state.Insert(-2)
		return 2
	}
	state.PushBoolean(true)
	state.Insert(1)
	return state.Top()
}

// xpcallUnwound serves xpcall when no scriptlet is running, so there is no
// handler slot to dispatch through. msgh runs after the stack has unwound,
// so a traceback it takes starts at the xpcall.
func (c *Container) xpcallUnwound(state *lua.State, n int) int {
	// f, msgh, args... becomes msgh, f, args...
	state.PushValue(2)
	state.Insert(1)
	state.Remove(3)

	if err := state.ProtectedCall(n-2, lua.MultipleReturns, 0); err != nil {
		// Stack: msgh, error value.
		msg, ok := state.ToString(-1)
		if !c.exited || !ok || msg != exitSignal {
			state.PushValue(1)
			state.Insert(-2)
			_ = state.ProtectedCall(1, 1, 0)
		}
		state.PushBoolean(false)
		state.Insert(-2)
		return 2
	}
	// Stack: msgh, results...
	state.PushBoolean(true)
	state.Insert(2)
	return state.Top() - 1
}
