// pkg/packages/source.go

package packages

import (
	"fmt"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
)

// Source is the package-manager capability the installers depend on.
type Source interface {
	RefreshIndex(rc *forge_io.RuntimeContext) error
	// IndexFresh reports whether the index was refreshed within maxAge.
	IndexFresh(maxAge time.Duration) bool
	Install(rc *forge_io.RuntimeContext, pkgs ...Package) error
	PinnedVersionAvailable(rc *forge_io.RuntimeContext, name, version string) (bool, error)
	// ResolveVersion maps a user pin to the exact version string the
	// package manager accepts. "latest" or "" resolve to "".
	ResolveVersion(rc *forge_io.RuntimeContext, name, version string) (string, error)
	// AddRepository configures an extra repository. It reports false when
	// the repository was already configured identically.
	AddRepository(rc *forge_io.RuntimeContext, repo Repository) (bool, error)
}

// Package is an installable package, optionally pinned to an exact version.
type Package struct {
	Name    string
	Version string
}

// Spec renders the package the way apt-get expects it ("name=version").
func (p Package) Spec() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + "=" + p.Version
}

// Repository is an extra apt source. Either PPA is set, or URI/Suite/
// Components with an optional signing key.
type Repository struct {
	Name       string
	KeyURL     string
	URI        string
	Suite      string
	Components []string
	PPA        string
}

// IsPPA reports whether the repository is a Launchpad PPA.
func (r Repository) IsPPA() bool {
	return r.PPA != ""
}

// SourceLine renders the one-line apt source entry.
func (r Repository) SourceLine(arch, keyring string) string {
	var opts []string
	if arch != "" {
		opts = append(opts, "arch="+arch)
	}
	if keyring != "" {
		opts = append(opts, "signed-by="+keyring)
	}
	line := "deb"
	if len(opts) > 0 {
		line += " [" + strings.Join(opts, " ") + "]"
	}
	return fmt.Sprintf("%s %s %s %s", line, r.URI, r.Suite, strings.Join(r.Components, " "))
}
