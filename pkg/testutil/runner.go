package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
)

// Handler answers one fake command invocation.
type Handler func(opts execute.Options) (string, error)

type route struct {
	prefix  string
	handler Handler
}

// FakeRunner is an execute.Runner that records every command line and
// answers from handlers registered by command-line prefix. The most recently
// registered matching handler wins; unmatched commands succeed silently.
type FakeRunner struct {
	mu     sync.Mutex
	routes []route
	calls  []string
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On registers fn for command lines starting with prefix.
func (f *FakeRunner) On(prefix string, fn Handler) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, route{prefix: prefix, handler: fn})
	return f
}

// OnOutput makes commands starting with prefix print out and succeed.
func (f *FakeRunner) OnOutput(prefix, out string) *FakeRunner {
	return f.On(prefix, func(execute.Options) (string, error) { return out, nil })
}

// OnError makes commands starting with prefix fail with err.
func (f *FakeRunner) OnError(prefix string, err error) *FakeRunner {
	return f.On(prefix, func(execute.Options) (string, error) { return "", err })
}

// Run implements execute.Runner.
func (f *FakeRunner) Run(_ context.Context, opts execute.Options) (string, error) {
	line := CommandLine(opts)

	f.mu.Lock()
	f.calls = append(f.calls, line)
	var h Handler
	for i := len(f.routes) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.routes[i].prefix) {
			h = f.routes[i].handler
			break
		}
	}
	f.mu.Unlock()

	if h == nil {
		return "", nil
	}
	return h(opts)
}

// Commands returns every command line run so far.
func (f *FakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many command lines started with prefix.
func (f *FakeRunner) Count(prefix string) int {
	n := 0
	for _, c := range f.Commands() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Ran reports whether any command line started with prefix.
func (f *FakeRunner) Ran(prefix string) bool {
	return f.Count(prefix) > 0
}

// Reset forgets recorded commands but keeps handlers.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// CommandLine renders opts as a single space separated line.
func CommandLine(opts execute.Options) string {
	return strings.TrimSpace(opts.Command + " " + strings.Join(opts.Args, " "))
}
