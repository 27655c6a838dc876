package launcher

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/bundle-launcher/internal/archive"
	"github.com/shinji-kodama/bundle-launcher/internal/config"
	"github.com/shinji-kodama/bundle-launcher/internal/engine/luaengine"
	"github.com/shinji-kodama/bundle-launcher/internal/model"
	"github.com/shinji-kodama/bundle-launcher/internal/testutil"
)

// executablePrefix stands in for the launcher binary the zip is appended to.
var executablePrefix = []byte("#!/bin/sh\necho not really an executable\n")

// fixture is a directory holding a bundle and its runtime archives.
type fixture struct {
	dir    string
	bundle string
}

// newFixture writes a bundle whose main script is main, next to a core
// archive declaring the lua engine and a stdlib archive.
func newFixture(t *testing.T, main string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{dir: dir}

	f.bundle = testutil.WriteBundle(t, filepath.Join(dir, "app"), executablePrefix, testutil.Files(map[string]string{
		"META-INF/init.lua": "-- nothing to initialise",
		"META-INF/main.lua": main,
	})...)
	f.writeRuntime(t, "runtime-core-5.2.4.zip", map[string]string{
		archive.RuntimeManifestName: testutil.RuntimeManifest("core", luaengine.Name, luaengine.APIVersion),
		"answer.lua":                "return 42",
	})
	f.writeRuntime(t, "runtime-stdlib-5.2.4.zip", map[string]string{
		archive.RuntimeManifestName: `{"component": "stdlib", "roots": ["lib"]}`,
		"lib/strings/pad.lua":       "return function(s) return '[' .. s .. ']' end",
	})
	return f
}

func (f *fixture) writeRuntime(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	return testutil.WriteArchive(t, filepath.Join(f.dir, name), testutil.Files(files)...)
}

func (f *fixture) launcher(t *testing.T, args []string, stdout *bytes.Buffer) *Launcher {
	t.Helper()
	l, err := New(args, Options{Location: f.bundle, Stdout: stdout})
	require.NoError(t, err)
	return l
}

// unsetDebug removes the debug key for the duration of the test.
func unsetDebug(t *testing.T) {
	t.Helper()
	t.Setenv(config.DebugKey, "")
	require.NoError(t, os.Unsetenv(config.DebugKey))
}

func TestNew(t *testing.T) {
	unsetDebug(t)
	f := newFixture(t, "")

	l := f.launcher(t, nil, &bytes.Buffer{})
	assert.Equal(t, model.StateLocated, l.State())
	assert.False(t, l.Debug())

	want, err := filepath.EvalSymlinks(f.bundle)
	require.NoError(t, err)
	assert.Equal(t, want, l.ArchivePath())
}

func TestNew_FileURLWithEntryMarker(t *testing.T) {
	f := newFixture(t, "")

	l, err := New(nil, Options{Location: "file:" + f.bundle + "!/META-INF/init.lua"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(f.bundle), filepath.Base(l.ArchivePath()))
}

func TestNew_UsesExecutable(t *testing.T) {
	f := newFixture(t, "")

	l, err := New(nil, Options{Executable: func() (string, error) { return f.bundle, nil }})
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(f.bundle), filepath.Base(l.ArchivePath()))
}

func TestNew_LocationFailure(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{
			name: "missing file",
			opts: Options{Location: filepath.Join(t.TempDir(), "gone")},
		},
		{
			name: "executable unknown",
			opts: Options{Executable: func() (string, error) { return "", errors.New("no /proc") }},
		},
		{
			name: "non-file URL",
			opts: Options{Location: "http://example.com/app.zip"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(nil, tt.opts)
			require.Error(t, err)
			assert.Nil(t, l)
			assert.True(t, model.IsKind(err, model.KindLocationResolution), "got %v", err)
		})
	}
}

func TestDiscoverRuntimeArchives(t *testing.T) {
	f := newFixture(t, "")
	for _, name := range []string{"runtime-core-5.2.4.jar", "runtime-extra-1.zip", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.dir, name), nil, 0o644))
	}

	l := f.launcher(t, nil, &bytes.Buffer{})
	got, err := l.DiscoverRuntimeArchives()
	require.NoError(t, err)

	var names []string
	for _, p := range got {
		assert.True(t, filepath.IsAbs(p))
		names = append(names, filepath.Base(p))
	}
	assert.ElementsMatch(t, []string{"runtime-core-5.2.4.zip", "runtime-stdlib-5.2.4.zip"}, names)
	assert.Equal(t, model.StateArchivesDiscovered, l.State())
}

// TestStart_DiscoveryFailure removes the bundle's directory after the
// launcher located it. Discovery must fail and the engine must never run,
// so no debug line is written.
func TestStart_DiscoveryFailure(t *testing.T) {
	t.Setenv(config.DebugKey, "1")
	f := newFixture(t, "")

	var stdout bytes.Buffer
	l := f.launcher(t, nil, &stdout)
	require.NoError(t, os.RemoveAll(f.dir))

	status, err := l.Start()
	require.Error(t, err)
	assert.Equal(t, 0, status)
	assert.True(t, model.IsKind(err, model.KindArchiveDiscovery), "got %v", err)
	assert.Equal(t, model.StateFailed, l.State())
	assert.Empty(t, stdout.String())

	// The reported cause names the directory and where it failed.
	trace := fmt.Sprintf("%+v", model.TracedCause(err))
	assert.Contains(t, trace, f.dir)
	assert.Contains(t, trace, "archive.Discover")
}

func TestStart_Status(t *testing.T) {
	tests := []struct {
		name string
		main string
		want int
	}{
		{name: "no exit call", main: "local x = 1", want: 0},
		{name: "exit with status", main: "os.exit(5)", want: 5},
		{name: "exit true", main: "os.exit(true)", want: 0},
		{name: "exit false", main: "os.exit(false)", want: 1},
		{name: "runtime core module", main: "os.exit(require('answer'))", want: 42},
		{name: "runtime stdlib module under root", main: "os.exit(#require('strings.pad')('abc'))", want: 5},
		{name: "exit survives pcall", main: "pcall(os.exit, 3)\nerror('still running')", want: 3},
		{name: "exit after an error caught by xpcall", main: "xpcall(error, tostring, 'x')\nos.exit(6)", want: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.main)
			l := f.launcher(t, nil, &bytes.Buffer{})

			status, err := l.Start()
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, model.StateExited, l.State())
		})
	}
}

func TestStart_ForwardsArgsExactly(t *testing.T) {
	f := newFixture(t, `
if #arg ~= 4 then os.exit(100) end
if arg[1] ~= "--help" then os.exit(101) end
if arg[2] ~= "" then os.exit(102) end
if arg[3] ~= "two words" then os.exit(103) end
if arg[4] ~= "-v" then os.exit(104) end
`)
	l := f.launcher(t, []string{"--help", "", "two words", "-v"}, &bytes.Buffer{})

	status, err := l.Start()
	require.NoError(t, err)
	assert.Equal(t, 0, status)
}

func TestStart_DebugLine(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		t.Setenv(config.DebugKey, "")
		f := newFixture(t, "")
		var stdout bytes.Buffer
		l := f.launcher(t, []string{"a", "b c"}, &stdout)
		require.True(t, l.Debug())

		_, err := l.Start()
		require.NoError(t, err)

		out := stdout.String()
		assert.Equal(t, 1, strings.Count(out, "invoking "), out)
		assert.Contains(t, out, "invoking "+l.ArchivePath()+` with: ["a" "b c"]`)
		assert.Equal(t, 1, strings.Count(out, "\n"), "a single line")
	})

	t.Run("disabled", func(t *testing.T) {
		unsetDebug(t)
		f := newFixture(t, "")
		var stdout bytes.Buffer
		l := f.launcher(t, []string{"a"}, &stdout)

		_, err := l.Start()
		require.NoError(t, err)
		assert.Empty(t, stdout.String())
	})
}

func TestStart_ScriptFailure(t *testing.T) {
	f := newFixture(t, "error('main blew up')")
	l := f.launcher(t, nil, &bytes.Buffer{})

	status, err := l.Start()
	require.Error(t, err)
	assert.Equal(t, 0, status)
	assert.True(t, model.IsKind(err, model.KindEngineInvocation), "got %v", err)
	assert.Equal(t, model.StateFailed, l.State())

	var scriptErr *luaengine.ScriptError
	require.True(t, errors.As(model.RootCause(err), &scriptErr))
	assert.Contains(t, scriptErr.Message, "main blew up")
	assert.Contains(t, scriptErr.Message, "META-INF/main.lua")
}

func TestStart_MissingBootstrapScript(t *testing.T) {
	dir := t.TempDir()
	bundle := testutil.WriteBundle(t, filepath.Join(dir, "app"), executablePrefix,
		testutil.Entry{Name: "META-INF/init.lua", Body: ""},
	)
	testutil.WriteArchive(t, filepath.Join(dir, "runtime-core-1.zip"),
		testutil.Entry{Name: archive.RuntimeManifestName, Body: testutil.RuntimeManifest("core", luaengine.Name, 0)},
	)

	l, err := New(nil, Options{Location: bundle, Stdout: &bytes.Buffer{}})
	require.NoError(t, err)
	_, err = l.Start()
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindEngineInvocation))
	assert.Contains(t, err.Error(), MainScript)
}

func TestStart_ZstdBundle(t *testing.T) {
	dir := t.TempDir()
	bundle := testutil.WriteBundle(t, filepath.Join(dir, "app"), executablePrefix,
		testutil.Entry{Name: "META-INF/init.lua", Body: "", Zstd: true},
		testutil.Entry{Name: "META-INF/main.lua", Body: "os.exit(9)", Zstd: true},
	)
	testutil.WriteArchive(t, filepath.Join(dir, "runtime-core-1.zip"),
		testutil.Entry{Name: archive.RuntimeManifestName, Body: testutil.RuntimeManifest("core", luaengine.Name, 1)},
	)

	l, err := New(nil, Options{Location: bundle, Stdout: &bytes.Buffer{}})
	require.NoError(t, err)
	status, err := l.Start()
	require.NoError(t, err)
	assert.Equal(t, 9, status)
}

func TestStart_EngineNotFound(t *testing.T) {
	tests := []struct {
		name     string
		runtimes map[string]map[string]string
		wantMsg  string
	}{
		{
			name:     "no runtime archives",
			runtimes: nil,
			wantMsg:  "no runtime archive declares an engine",
		},
		{
			name: "runtime without manifest",
			runtimes: map[string]map[string]string{
				"runtime-core-1.zip": {"x.lua": ""},
			},
			wantMsg: "no runtime archive declares an engine",
		},
		{
			name: "unregistered engine",
			runtimes: map[string]map[string]string{
				"runtime-core-1.zip": {archive.RuntimeManifestName: `{"engine": "cobol"}`},
			},
			wantMsg: `"cobol"`,
		},
		{
			name: "unsupported api",
			runtimes: map[string]map[string]string{
				"runtime-core-1.zip": {archive.RuntimeManifestName: `{"engine": "lua", "api": 99}`},
			},
			wantMsg: "requires 99",
		},
		{
			name: "stdlib requires an unsupported api",
			runtimes: map[string]map[string]string{
				"runtime-core-1.zip":   {archive.RuntimeManifestName: `{"engine": "lua", "api": 1}`},
				"runtime-stdlib-1.zip": {archive.RuntimeManifestName: `{"api": 2}`},
			},
			wantMsg: "requires 2",
		},
		{
			name: "conflicting engines",
			runtimes: map[string]map[string]string{
				"runtime-core-1.zip":   {archive.RuntimeManifestName: `{"engine": "lua"}`},
				"runtime-stdlib-1.zip": {archive.RuntimeManifestName: `{"engine": "scheme"}`},
			},
			wantMsg: "declares",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unsetDebug(t)
			dir := t.TempDir()
			f := &fixture{dir: dir}
			f.bundle = testutil.WriteBundle(t, filepath.Join(dir, "app"), executablePrefix,
				testutil.Entry{Name: "META-INF/init.lua"},
				testutil.Entry{Name: "META-INF/main.lua"},
			)
			for name, files := range tt.runtimes {
				f.writeRuntime(t, name, files)
			}

			var stdout bytes.Buffer
			l := f.launcher(t, nil, &stdout)
			_, err := l.Start()
			require.Error(t, err)
			assert.True(t, model.IsKind(err, model.KindEngineNotFound), "got %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Empty(t, stdout.String())
		})
	}
}

func TestLaunchEngine_UnreadableArchive(t *testing.T) {
	f := newFixture(t, "")
	broken := filepath.Join(f.dir, "runtime-stdlib-broken.zip")
	require.NoError(t, os.WriteFile(broken, []byte("not a zip"), 0o644))

	l := f.launcher(t, nil, &bytes.Buffer{})
	archives, err := l.DiscoverRuntimeArchives()
	require.NoError(t, err)

	_, err = l.LaunchEngine(archives)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindEngineInvocation), "got %v", err)
}

func hookCount() int {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	return len(exitHooks)
}

func TestNew_RegistersExitHookOnce(t *testing.T) {
	f := newFixture(t, "")
	RunExitHooks()
	exitHookOnce = sync.Once{}
	t.Cleanup(func() { RunExitHooks() })

	for i := 0; i < 3; i++ {
		f.launcher(t, nil, &bytes.Buffer{})
	}
	assert.Equal(t, 1, hookCount())
}

func TestExitHooks(t *testing.T) {
	RunExitHooks() // drop hooks registered by other tests

	var calls []string
	RegisterExitHook(func() { calls = append(calls, "first") })
	RegisterExitHook(func() { calls = append(calls, "second") })

	RunExitHooks()
	assert.Equal(t, []string{"second", "first"}, calls)

	RunExitHooks()
	assert.Len(t, calls, 2, "hooks run once")
}
