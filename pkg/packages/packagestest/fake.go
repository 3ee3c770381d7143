// Package packagestest provides an in-memory packages.Source for tests.
package packagestest

import (
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/packages"
	cerr "github.com/cockroachdb/errors"
)

// FakeSource records installs in memory. Offered maps a package name to the
// versions the "mirror" offers, newest first; unlisted packages are offered
// at DefaultVersion.
type FakeSource struct {
	mu sync.Mutex

	Offered   map[string][]string
	Installed map[string]string
	Repos     map[string]packages.Repository
	Refreshes int
	Installs  [][]packages.Package

	// FailInstall makes Install fail for the named packages.
	FailInstall map[string]error
	// RefreshErr makes RefreshIndex fail.
	RefreshErr error
	Fresh      bool
}

// DefaultVersion is what unlisted packages install as.
const DefaultVersion = "1.0.0-1"

// NewFakeSource returns an empty FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		Offered:     make(map[string][]string),
		Installed:   make(map[string]string),
		Repos:       make(map[string]packages.Repository),
		FailInstall: make(map[string]error),
	}
}

func (f *FakeSource) RefreshIndex(*forge_io.RuntimeContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefreshErr != nil {
		return f.RefreshErr
	}
	f.Refreshes++
	f.Fresh = true
	return nil
}

func (f *FakeSource) IndexFresh(time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Fresh
}

func (f *FakeSource) Install(_ *forge_io.RuntimeContext, pkgs ...packages.Package) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pkgs {
		if err := f.FailInstall[p.Name]; err != nil {
			return cerr.Wrapf(err, "install %s", p.Name)
		}
	}
	f.Installs = append(f.Installs, pkgs)
	for _, p := range pkgs {
		v := p.Version
		if v == "" {
			v = f.newest(p.Name)
		}
		f.Installed[p.Name] = v
	}
	return nil
}

func (f *FakeSource) PinnedVersionAvailable(rc *forge_io.RuntimeContext, name, version string) (bool, error) {
	if version == "" || version == "latest" {
		return true, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := packages.MatchPin(f.candidates(name), version)
	return ok, nil
}

func (f *FakeSource) ResolveVersion(rc *forge_io.RuntimeContext, name, version string) (string, error) {
	if version == "" || version == "latest" {
		return "", nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := packages.MatchPin(f.candidates(name), version)
	if !ok {
		return "", &forge_err.InstallationFailedError{Tool: name, Version: version, Cause: cerr.New("not offered")}
	}
	return c.Version, nil
}

func (f *FakeSource) AddRepository(_ *forge_io.RuntimeContext, repo packages.Repository) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.Repos[repo.Name]; ok && existing.SourceLine("", "") == repo.SourceLine("", "") && existing.PPA == repo.PPA {
		return false, nil
	}
	f.Repos[repo.Name] = repo
	return true, nil
}

// IsInstalled reports whether name has been installed.
func (f *FakeSource) IsInstalled(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Installed[name]
	return ok
}

// Version returns the installed version of name.
func (f *FakeSource) Version(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Installed[name]
}

// InstallCount returns how many Install calls included name.
func (f *FakeSource) InstallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, batch := range f.Installs {
		for _, p := range batch {
			if p.Name == name {
				n++
			}
		}
	}
	return n
}

func (f *FakeSource) candidates(name string) []packages.Candidate {
	var out []packages.Candidate
	for _, v := range f.offered(name) {
		out = append(out, packages.Candidate{Package: name, Version: v})
	}
	return out
}

func (f *FakeSource) offered(name string) []string {
	if vs, ok := f.Offered[name]; ok {
		return vs
	}
	return []string{DefaultVersion}
}

func (f *FakeSource) newest(name string) string {
	vs := f.offered(name)
	if len(vs) == 0 {
		return DefaultVersion
	}
	return vs[0]
}
