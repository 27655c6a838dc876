// Package model defines the domain types and value objects for the
// bundle launcher.
//
// This package contains pure data structures with no I/O. All entities
// (State, Module, RuntimeComponent) are transient representations built
// during a single launcher run. Nothing is persisted.
//
// The package also defines exit codes (ExitCode), the launcher error
// taxonomy (LaunchError with its ErrorKind) and the cause-chain walks
// (RootCause, TracedCause) used by the process entry point when reporting
// failures.
package model
