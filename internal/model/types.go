package model

import (
	"fmt"
	"strings"
)

// State represents the lifecycle state of a Launcher.
// The state transitions are:
//
//	constructed → located → archives-discovered → engine-launched → exited
//	any state → failed (the process then exits with ExitFailure)
type State string

const (
	// StateConstructed is the initial state, before the bundle is located.
	StateConstructed State = "constructed"

	// StateLocated indicates the launcher knows the absolute path of its bundle.
	StateLocated State = "located"

	// StateArchivesDiscovered indicates sibling runtime archives were listed.
	StateArchivesDiscovered State = "archives-discovered"

	// StateEngineLaunched indicates the bootstrap scriptlet ran to completion
	// and produced an exit status.
	StateEngineLaunched State = "engine-launched"

	// StateExited is the terminal state after Start returned a status.
	StateExited State = "exited"

	// StateFailed is the terminal state after any step returned an error.
	StateFailed State = "failed"
)

// String returns the string representation of State.
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateExited || s == StateFailed
}

// RuntimeComponent names the two runtime archive flavours the launcher loads.
type RuntimeComponent string

const (
	// ComponentCore is the runtime archive carrying the engine declaration
	// and the core modules.
	ComponentCore RuntimeComponent = "core"

	// ComponentStdlib is the runtime archive carrying the standard library modules.
	ComponentStdlib RuntimeComponent = "stdlib"
)

// String returns the string representation of RuntimeComponent.
func (c RuntimeComponent) String() string {
	return string(c)
}

// IsValid checks whether the component is one of the known flavours.
func (c RuntimeComponent) IsValid() bool {
	switch c {
	case ComponentCore, ComponentStdlib:
		return true
	default:
		return false
	}
}

// ParseRuntimeComponent converts a string to a RuntimeComponent.
// Returns an error if the string does not match any known component.
func ParseRuntimeComponent(s string) (RuntimeComponent, error) {
	component := RuntimeComponent(strings.ToLower(s))
	if !component.IsValid() {
		return "", fmt.Errorf("invalid runtime component: %q (valid: core, stdlib)", s)
	}
	return component, nil
}

// Module is a script module resolved from one of the loaded archives.
type Module struct {
	// Name is the module name as passed to require.
	Name string

	// Origin identifies where the source came from, formatted as
	// "<archive path>!/<entry name>".
	Origin string

	// Source is the raw script text.
	Source []byte
}

// ExitCode defines the process exit codes produced by the launcher itself.
// A status reported by the embedded engine is forwarded as-is and may take
// any value.
type ExitCode int

const (
	// ExitSuccess indicates the bootstrap completed without an exit request.
	ExitSuccess ExitCode = 0

	// ExitFailure indicates a bootstrap failure of any kind.
	ExitFailure ExitCode = 1
)
