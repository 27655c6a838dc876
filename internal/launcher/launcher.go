package launcher

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/shinji-kodama/bundle-launcher/internal/archive"
	"github.com/shinji-kodama/bundle-launcher/internal/config"
	"github.com/shinji-kodama/bundle-launcher/internal/engine"
	_ "github.com/shinji-kodama/bundle-launcher/internal/engine/luaengine" // registers the "lua" engine
	"github.com/shinji-kodama/bundle-launcher/internal/location"
	"github.com/shinji-kodama/bundle-launcher/internal/model"
)

const (
	// InitScript is the module required first by the bootstrap scriptlet.
	InitScript = "META-INF/init"

	// MainScript is the module required after InitScript.
	MainScript = "META-INF/main"
)

// BootstrapScript requires InitScript then MainScript. The container runs
// it as a protected block, so an os.exit from either script becomes the
// scriptlet's result, completing yields 0, and any other error comes back
// from RunScriptlet with its traceback.
const BootstrapScript = "require '" + InitScript + "'\n" +
	"require '" + MainScript + "'\n"

// exitHookOnce guards the registration New makes, so repeated launchers in
// one process add a single hook.
var exitHookOnce sync.Once

// Options configures a Launcher.
type Options struct {
	// Stdout receives the debug output. Defaults to os.Stdout.
	Stdout io.Writer

	// Location is an explicit bundle location (path or file: URL). When
	// empty the running executable is used.
	Location string

	// Executable overrides os.Executable when Location is empty.
	Executable location.ExecutableFunc
}

// Launcher runs one bundle. It is used once per process.
type Launcher struct {
	// args are handed to the scripts as the global arg table, verbatim.
	args []string

	// archivePath is the absolute path of the bundle. Runtime archives are
	// looked up in its directory.
	archivePath string

	// debug is the value of the debug variable when New ran.
	debug bool

	// logger writes the debug line to Options.Stdout. At info level it
	// prints nothing the launcher emits.
	logger *log.Logger

	state model.State
}

// New resolves the bundle location and prepares a Launcher that will
// forward args, unmodified, to the scripts.
//
// The debug flag is read from the environment here; the CLI reads it again
// independently when reporting a failure.
func New(args []string, opts Options) (*Launcher, error) {
	l := &Launcher{
		args:  args,
		debug: config.DebugEnabled(),
		state: model.StateConstructed,
	}

	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	l.logger = newLogger(out, l.debug)

	path, err := location.Resolve(opts.Location, opts.Executable)
	if err != nil {
		l.state = model.StateFailed
		return nil, model.WrapLaunchError(model.KindLocationResolution, "cannot locate bundle", err)
	}
	l.archivePath = path

	// The engine holds no process-wide resources yet. The hook marks where
	// engine teardown runs before os.Exit.
	exitHookOnce.Do(func() { RegisterExitHook(func() {}) })

	l.state = model.StateLocated
	return l, nil
}

// newLogger returns a logrus logger writing plain lines to out. Only debug
// mode enables the debug level.
func newLogger(out io.Writer, debug bool) *log.Logger {
	logger := log.New()
	logger.SetOutput(out)
	logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true, DisableQuote: true})
	if debug {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

// ArchivePath returns the absolute path of the bundle.
func (l *Launcher) ArchivePath() string {
	return l.archivePath
}

// State returns the current lifecycle state.
func (l *Launcher) State() model.State {
	return l.state
}

// Debug reports whether debug output was enabled when the Launcher was
// created.
func (l *Launcher) Debug() bool {
	return l.debug
}

// DiscoverRuntimeArchives lists the directory holding the bundle and
// returns the absolute paths of the runtime archives in it, in directory
// order.
func (l *Launcher) DiscoverRuntimeArchives() ([]string, error) {
	dir := filepath.Dir(l.archivePath)
	archives, err := archive.Discover(dir)
	if err != nil {
		return nil, l.fail(model.WrapLaunchError(model.KindArchiveDiscovery, "cannot list "+dir, err))
	}
	l.state = model.StateArchivesDiscovered
	return archives, nil
}

// LaunchEngine loads the bundle and the given runtime archives, starts the
// engine they declare and runs BootstrapScript. It returns the script's
// exit status.
func (l *Launcher) LaunchEngine(archives []string) (int, error) {
	// Bundle first: its entries shadow every runtime archive.
	bundle, runtimes, err := openArchives(l.archivePath, archives)
	if err != nil {
		return 0, l.fail(model.WrapLaunchError(model.KindEngineInvocation, "cannot load archives", err))
	}
	loader, err := archive.NewLoader(bundle, runtimes...)
	if err != nil {
		closeArchives(append(runtimes, bundle))
		return 0, l.fail(model.WrapLaunchError(model.KindEngineInvocation, "cannot load archives", err))
	}
	defer func() {
		if err := loader.Close(); err != nil {
			l.logger.WithError(err).Debug("closing archives")
		}
	}()

	// The bundle never declares an engine; only runtime manifests do.
	reg, err := selectEngine(runtimes)
	if err != nil {
		return 0, l.fail(model.WrapLaunchError(model.KindEngineNotFound, "no usable scripting engine", err))
	}

	// Module path discovery stays off so require only sees the archives.
	container, err := reg.New(engine.Options{DiscoverModulePath: false})
	if err != nil {
		return 0, l.fail(model.WrapLaunchError(model.KindEngineInvocation, "cannot create "+reg.Name+" engine", err))
	}
	defer container.Close()

	container.SetArgv(l.args)
	container.SetResolver(loader)

	l.logger.Debugf("invoking %s with: %q", l.archivePath, l.args)

	// A script's os.exit status is a result here, not an error.
	status, err := container.RunScriptlet(BootstrapScript)
	if err != nil {
		return 0, l.fail(model.WrapLaunchError(model.KindEngineInvocation, "bootstrap failed", err))
	}
	l.state = model.StateEngineLaunched
	return status, nil
}

// Start discovers the runtime archives and launches the engine.
func (l *Launcher) Start() (int, error) {
	archives, err := l.DiscoverRuntimeArchives()
	if err != nil {
		return 0, err
	}
	status, err := l.LaunchEngine(archives)
	if err != nil {
		return 0, err
	}
	l.state = model.StateExited
	return status, nil
}

// fail marks the launcher failed and returns err as a plain error.
func (l *Launcher) fail(err *model.LaunchError) error {
	l.state = model.StateFailed
	return err
}

// openArchives opens the bundle and every runtime archive. On error
// nothing is left open.
func openArchives(bundlePath string, runtimePaths []string) (*archive.Archive, []*archive.Archive, error) {
	bundle, err := archive.Open(bundlePath)
	if err != nil {
		return nil, nil, err
	}
	runtimes := make([]*archive.Archive, 0, len(runtimePaths))
	for _, p := range runtimePaths {
		a, err := archive.Open(p)
		if err != nil {
			closeArchives(append(runtimes, bundle))
			return nil, nil, err
		}
		runtimes = append(runtimes, a)
	}
	return bundle, runtimes, nil
}

func closeArchives(archives []*archive.Archive) {
	for _, a := range archives {
		_ = a.Close()
	}
}
