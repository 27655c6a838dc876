// Package launcher starts a bundled script application.
//
// A bundle is the launcher executable with a zip appended to it. The zip
// holds the application scripts, at minimum META-INF/init.lua and
// META-INF/main.lua. Runtime archives named runtime-core-<version>.zip and
// runtime-stdlib-<version>.zip sit in the same directory as the bundle and
// provide the scripting runtime's modules and, in runtime.json, the name
// of the engine that runs them.
//
// The lifecycle is linear and runs once per process:
//
//	New                      locate the bundle
//	DiscoverRuntimeArchives  list sibling runtime archives
//	LaunchEngine             load archives, start the engine, run the scripts
//
// Start performs the last two steps. Every failure is returned as a
// *model.LaunchError and is terminal.
package launcher
