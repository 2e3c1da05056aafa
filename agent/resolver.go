package agent

import (
	"os"
	"os/exec"
	"sync"
)

// ExecutableResolver resolves the filesystem path of a provider binary
// with a deterministic search order and caches the result per provider.
// Search order: explicit env override, common install locations probed
// for executability, PATH lookup, and finally the bare default name so
// the spawn error surfaces where it can be reported.
type ExecutableResolver struct {
	mu    sync.Mutex
	cache map[string]string

	// seams for tests
	getenv     func(string) string
	lookPath   func(string) (string, error)
	executable func(string) bool
}

// NewExecutableResolver creates a resolver backed by the real OS.
func NewExecutableResolver() *ExecutableResolver {
	return &ExecutableResolver{
		cache:      make(map[string]string),
		getenv:     os.Getenv,
		lookPath:   exec.LookPath,
		executable: isExecutable,
	}
}

// Resolve returns the binary path for a provider, computing it once.
func (r *ExecutableResolver) Resolve(p Provider) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if path, ok := r.cache[p.Name()]; ok {
		return path
	}

	path := r.resolve(p)
	r.cache[p.Name()] = path
	return path
}

func (r *ExecutableResolver) resolve(p Provider) string {
	if override := r.getenv(p.EnvOverride()); override != "" {
		return override
	}

	for _, candidate := range p.InstallCandidates() {
		if r.executable(candidate) {
			return candidate
		}
	}

	if path, err := r.lookPath(p.DefaultBinary()); err == nil {
		return path
	}

	return p.DefaultBinary()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
