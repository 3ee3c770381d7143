// pkg/packages/apt.go

package packages

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/config"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/httpclient"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	KeyringDir     = "/etc/apt/keyrings"
	SourcesListDir = "/etc/apt/sources.list.d"
	ListsDir       = "/var/lib/apt/lists"
)

var aptEnv = []string{"DEBIAN_FRONTEND=noninteractive", "NEEDRESTART_MODE=a"}

// AptSource implements Source with apt-get, apt-cache and add-apt-repository.
type AptSource struct {
	Runner  execute.Runner
	HTTP    *httpclient.Client
	Arch    string
	Root    string // filesystem root, "/" on a real host
	Timeout time.Duration
}

// NewAptSource returns an AptSource for the live host.
func NewAptSource(runner execute.Runner, http *httpclient.Client, arch string, timeout time.Duration) *AptSource {
	return &AptSource{Runner: runner, HTTP: http, Arch: arch, Root: "/", Timeout: timeout}
}

func (a *AptSource) path(p string) string {
	if a.Root == "" {
		return p
	}
	return filepath.Join(a.Root, p)
}

func (a *AptSource) run(rc *forge_io.RuntimeContext, capture bool, cmd string, args ...string) (string, error) {
	return a.Runner.Run(rc.Ctx, execute.Options{
		Command: cmd,
		Args:    args,
		Env:     aptEnv,
		Timeout: a.Timeout,
		Capture: capture,
		Retries: 3,
		Delay:   5 * time.Second,
		RetryIf: forge_err.IsRetryable,
	})
}

// RefreshIndex runs apt-get update.
func (a *AptSource) RefreshIndex(rc *forge_io.RuntimeContext) error {
	logger := otelzap.Ctx(rc.Ctx)
	logger.Info("Refreshing package index")

	if _, err := a.run(rc, true, "apt-get", "update"); err != nil {
		return cerr.Wrap(err, "refresh package index")
	}
	return nil
}

// IndexFresh looks at the mtime of the apt lists directory.
func (a *AptSource) IndexFresh(maxAge time.Duration) bool {
	info, err := os.Stat(a.path(ListsDir))
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < maxAge
}

// Install installs pkgs in one transaction. Already installed packages at
// the requested version are a no-op for apt.
func (a *AptSource) Install(rc *forge_io.RuntimeContext, pkgs ...Package) error {
	logger := otelzap.Ctx(rc.Ctx)
	if len(pkgs) == 0 {
		return nil
	}

	args := []string{"install", "-y", "--allow-downgrades"}
	specs := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		specs = append(specs, p.Spec())
	}
	args = append(args, specs...)

	logger.Info("📦 Installing packages", zap.Strings("packages", specs))
	if _, err := a.run(rc, true, "apt-get", args...); err != nil {
		return cerr.Wrapf(err, "install %s", strings.Join(specs, " "))
	}
	return nil
}

// PinnedVersionAvailable reports whether any configured source offers a
// version of name that matches version.
func (a *AptSource) PinnedVersionAvailable(rc *forge_io.RuntimeContext, name, version string) (bool, error) {
	if isLatest(version) {
		return true, nil
	}
	candidates, err := a.candidates(rc, name)
	if err != nil {
		return false, err
	}
	_, ok := MatchPin(candidates, version)
	return ok, nil
}

// ResolveVersion maps a pin such as "27.3" to an apt version such as
// "5:27.3.1-1~ubuntu.24.04~noble".
func (a *AptSource) ResolveVersion(rc *forge_io.RuntimeContext, name, version string) (string, error) {
	if isLatest(version) {
		return "", nil
	}
	candidates, err := a.candidates(rc, name)
	if err != nil {
		return "", err
	}
	c, ok := MatchPin(candidates, version)
	if !ok {
		return "", &forge_err.InstallationFailedError{
			Tool:    name,
			Version: version,
			Cause:   cerr.Newf("version %s not offered by any configured source", version),
		}
	}
	return c.Version, nil
}

func (a *AptSource) candidates(rc *forge_io.RuntimeContext, name string) ([]Candidate, error) {
	out, err := a.run(rc, true, "apt-cache", "madison", name)
	if err != nil {
		return nil, cerr.Wrapf(err, "list versions of %s", name)
	}
	return ParseMadison(out), nil
}

// AddRepository writes the signing key and list file for repo, or adds a
// PPA. An identical existing list file means nothing to do.
func (a *AptSource) AddRepository(rc *forge_io.RuntimeContext, repo Repository) (bool, error) {
	logger := otelzap.Ctx(rc.Ctx)

	if repo.IsPPA() {
		return a.addPPA(rc, repo)
	}

	keyring := ""
	if repo.KeyURL != "" {
		keyring = filepath.Join(KeyringDir, repo.Name+".asc")
	}
	line := repo.SourceLine(a.Arch, keyring) + "\n"
	listPath := a.path(filepath.Join(SourcesListDir, repo.Name+".list"))

	if existing, err := os.ReadFile(listPath); err == nil && string(existing) == line {
		if keyring == "" {
			logger.Debug("Repository already configured", zap.String("repository", repo.Name))
			return false, nil
		}
		if _, err := os.Stat(a.path(keyring)); err == nil {
			logger.Debug("Repository already configured", zap.String("repository", repo.Name))
			return false, nil
		}
	}

	if keyring != "" {
		if err := a.HTTP.Download(rc.Ctx, repo.KeyURL, a.path(keyring), 0644); err != nil {
			return false, cerr.Wrapf(err, "fetch signing key for %s", repo.Name)
		}
	}
	if err := os.MkdirAll(filepath.Dir(listPath), 0755); err != nil {
		return false, cerr.Wrapf(err, "create %s", filepath.Dir(listPath))
	}
	if err := os.WriteFile(listPath, []byte(line), 0644); err != nil {
		return false, cerr.Wrapf(err, "write %s", listPath)
	}

	logger.Info("➕ Added package repository",
		zap.String("repository", repo.Name),
		zap.String("source", strings.TrimSpace(line)))
	return true, nil
}

func (a *AptSource) addPPA(rc *forge_io.RuntimeContext, repo Repository) (bool, error) {
	logger := otelzap.Ctx(rc.Ctx)

	if a.ppaConfigured(repo.PPA) {
		logger.Debug("PPA already configured", zap.String("ppa", repo.PPA))
		return false, nil
	}
	if _, err := a.run(rc, true, "add-apt-repository", "-y", repo.PPA); err != nil {
		return false, cerr.Wrapf(err, "add %s", repo.PPA)
	}
	logger.Info("➕ Added PPA", zap.String("ppa", repo.PPA))
	return true, nil
}

// ppaConfigured looks for "ppa.launchpadcontent.net/<owner>/<name>" in the
// source lists. add-apt-repository writes both .list and deb822 .sources.
func (a *AptSource) ppaConfigured(ppa string) bool {
	id := strings.TrimPrefix(ppa, "ppa:")
	entries, err := os.ReadDir(a.path(SourcesListDir))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(a.path(SourcesListDir), e.Name()))
		if err != nil {
			continue
		}
		if strings.Contains(string(data), "/"+id+"/") || strings.Contains(string(data), "/"+id+" ") {
			return true
		}
	}
	return false
}

func isLatest(v string) bool {
	return v == "" || strings.EqualFold(v, config.VersionLatest)
}
