package launcher

import "sync"

var (
	hooksMu   sync.Mutex
	exitHooks []func()
)

// RegisterExitHook adds fn to the functions run by RunExitHooks.
func RegisterExitHook(fn func()) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	exitHooks = append(exitHooks, fn)
}

// RunExitHooks runs the registered hooks in reverse order of registration
// and forgets them, so a second call runs nothing. The CLI calls it right
// before the process exits.
func RunExitHooks() {
	hooksMu.Lock()
	hooks := exitHooks
	exitHooks = nil
	hooksMu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}
