// pkg/agent/github.go

package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/config"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// RunnerDirName is where the actions runner is unpacked under the
// operator's home.
const RunnerDirName = "actions-runner"

// GitHubRunner installs a self-hosted GitHub Actions runner bound to one
// repository and runs it as a service under the operator account.
type GitHubRunner struct {
	spec     config.GitHubAgent
	operator string
	dir      string
	deps     Deps
}

func newGitHubRunner(spec config.GitHubAgent, operator, home string, deps Deps) *GitHubRunner {
	return &GitHubRunner{
		spec:     spec,
		operator: operator,
		dir:      filepath.Join(home, RunnerDirName),
		deps:     deps,
	}
}

func (g *GitHubRunner) Platform() config.AgentPlatform { return config.PlatformGitHub }

// Dir is the runner installation directory.
func (g *GitHubRunner) Dir() string { return g.dir }

// runnerFile is the subset of the .runner file config.sh writes.
type runnerFile struct {
	AgentID   int64  `json:"agentId"`
	AgentName string `json:"agentName"`
	GitHubURL string `json:"gitHubUrl"`
}

// Installed requires a registration and a running service.
func (g *GitHubRunner) Installed(rc *forge_io.RuntimeContext) (bool, error) {
	registered, err := g.Registered(rc)
	if err != nil || !registered {
		return false, err
	}
	unit, ok := g.serviceUnit()
	return ok && g.deps.Services.IsActive(rc, unit), nil
}

// Registered reports whether config.sh has completed in the runner dir.
func (g *GitHubRunner) Registered(rc *forge_io.RuntimeContext) (bool, error) {
	_, ok, err := g.readRunnerFile()
	return ok, err
}

func (g *GitHubRunner) readRunnerFile() (runnerFile, bool, error) {
	data, err := os.ReadFile(filepath.Join(g.dir, ".runner"))
	if err != nil {
		if os.IsNotExist(err) {
			return runnerFile{}, false, nil
		}
		return runnerFile{}, false, cerr.Wrap(err, "read .runner")
	}
	// config.sh writes the file with a UTF-8 byte order mark.
	data = []byte(strings.TrimPrefix(string(data), "\ufeff"))
	var rf runnerFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return runnerFile{}, false, cerr.Wrap(err, "parse .runner")
	}
	return rf, true, nil
}

// serviceUnit reads the unit name svc.sh install records in .service.
func (g *GitHubRunner) serviceUnit() (string, bool) {
	data, err := os.ReadFile(filepath.Join(g.dir, ".service"))
	if err != nil {
		return "", false
	}
	unit := strings.TrimSpace(string(data))
	return unit, unit != ""
}

// Install downloads the runner, registers it once and installs the service.
func (g *GitHubRunner) Install(rc *forge_io.RuntimeContext) (Identity, error) {
	logger := otelzap.Ctx(rc.Ctx)

	acct, err := g.deps.Accounts.Lookup(g.operator)
	if err != nil {
		return Identity{}, err
	}
	if acct == nil {
		return Identity{}, cerr.Newf("operator account %s does not exist", g.operator)
	}

	if err := g.download(rc); err != nil {
		return Identity{}, err
	}

	registered, err := g.Registered(rc)
	if err != nil {
		return Identity{}, registrationFailed(config.PlatformGitHub, err)
	}
	if !registered {
		if _, err := g.Register(rc); err != nil {
			return Identity{}, err
		}
	} else {
		logger.Info("GitHub runner already registered", zap.String("dir", g.dir))
	}

	if err := g.installService(rc); err != nil {
		return Identity{}, err
	}
	return g.identity()
}

func (g *GitHubRunner) download(rc *forge_io.RuntimeContext) error {
	logger := otelzap.Ctx(rc.Ctx)

	if _, err := os.Stat(filepath.Join(g.dir, "config.sh")); err == nil {
		logger.Debug("Runner already unpacked", zap.String("dir", g.dir))
		return nil
	}

	version, err := g.resolveVersion(rc)
	if err != nil {
		return g.installFailed(err)
	}
	url := g.tarballURL(version)
	archive := filepath.Join(os.TempDir(), filepath.Base(url))
	defer func() { _ = os.Remove(archive) }()

	logger.Info("⬇️ Downloading GitHub Actions runner", zap.String("version", version), zap.String("url", url))
	if err := g.deps.HTTP.Download(rc.Ctx, url, archive, 0644); err != nil {
		return g.installFailed(err)
	}
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return g.installFailed(cerr.Wrapf(err, "create %s", g.dir))
	}
	if _, err := g.deps.Runner.Run(rc.Ctx, execute.Options{
		Command: "tar", Args: []string{"xzf", archive, "-C", g.dir}, Capture: true,
	}); err != nil {
		return g.installFailed(err)
	}
	if _, err := g.deps.Runner.Run(rc.Ctx, execute.Options{
		Command: "chown", Args: []string{"-R", g.operator + ":" + g.operator, g.dir}, Capture: true,
	}); err != nil {
		return g.installFailed(err)
	}
	// installdependencies.sh pulls the .NET runtime libraries the runner needs.
	if _, err := g.deps.Runner.Run(rc.Ctx, execute.Options{
		Command: "./bin/installdependencies.sh", Dir: g.dir, Capture: true,
	}); err != nil {
		logger.Warn("Runner dependency installation reported a problem", zap.Error(err))
	}
	return nil
}

func (g *GitHubRunner) resolveVersion(rc *forge_io.RuntimeContext) (string, error) {
	if g.spec.Version != "" && g.spec.Version != config.VersionLatest {
		return strings.TrimPrefix(g.spec.Version, "v"), nil
	}
	data, err := g.deps.HTTP.Get(rc.Ctx, g.deps.GitHubAPIURL+"/repos/actions/runner/releases/latest")
	if err != nil {
		return "", cerr.Wrap(err, "look up latest runner release")
	}
	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.Unmarshal(data, &release); err != nil {
		return "", cerr.Wrap(err, "parse latest runner release")
	}
	if release.TagName == "" {
		return "", cerr.New("latest runner release has no tag")
	}
	return strings.TrimPrefix(release.TagName, "v"), nil
}

func (g *GitHubRunner) tarballURL(version string) string {
	return fmt.Sprintf("%s/actions/runner/releases/download/v%s/actions-runner-linux-%s-%s.tar.gz",
		g.deps.GitHubURL, version, RunnerArch(g.deps.Arch), version)
}

// RunnerArch maps a dpkg architecture to the runner's release naming.
func RunnerArch(arch string) string {
	switch arch {
	case "amd64", "":
		return "x64"
	case "armhf":
		return "arm"
	default:
		return arch
	}
}

// Register exchanges the access token for a registration token and runs
// config.sh as the operator.
func (g *GitHubRunner) Register(rc *forge_io.RuntimeContext) (Identity, error) {
	logger := otelzap.Ctx(rc.Ctx)

	var reg struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/actions/runners/registration-token",
		g.deps.GitHubAPIURL, g.spec.Owner, g.spec.Repo)
	if err := g.deps.HTTP.PostJSON(rc.Ctx, endpoint, g.spec.Token, &reg); err != nil {
		return Identity{}, registrationFailed(config.PlatformGitHub, cerr.Wrap(err, "request registration token"))
	}
	if reg.Token == "" {
		return Identity{}, registrationFailed(config.PlatformGitHub, cerr.New("empty registration token"))
	}

	logger.Info("📝 Registering GitHub Actions runner",
		zap.String("repository", g.spec.Owner+"/"+g.spec.Repo),
		zap.String("name", g.spec.Name),
		zap.Strings("labels", g.spec.Labels))

	repoURL := g.deps.GitHubURL + "/" + g.spec.Owner + "/" + g.spec.Repo
	if _, err := g.deps.Runner.Run(rc.Ctx, execute.Options{
		Command: "sudo",
		Args: []string{"-u", g.operator, "--", "./config.sh",
			"--unattended",
			"--url", repoURL,
			"--token", reg.Token,
			"--name", g.spec.Name,
			"--labels", strings.Join(g.spec.Labels, ","),
			"--work", "_work",
			"--replace",
		},
		Dir:     g.dir,
		Capture: true,
		Secrets: []string{reg.Token, g.spec.Token},
	}); err != nil {
		return Identity{}, registrationFailed(config.PlatformGitHub, cerr.Wrap(err, "config.sh"))
	}

	id, err := g.identity()
	if err != nil {
		return Identity{}, registrationFailed(config.PlatformGitHub, err)
	}
	logger.Info("✅ GitHub Actions runner registered", zap.String("id", id.ID))
	return id, nil
}

func (g *GitHubRunner) installService(rc *forge_io.RuntimeContext) error {
	if _, ok := g.serviceUnit(); !ok {
		if _, err := g.deps.Runner.Run(rc.Ctx, execute.Options{
			Command: "./svc.sh", Args: []string{"install", g.operator}, Dir: g.dir, Capture: true,
		}); err != nil {
			return g.installFailed(cerr.Wrap(err, "svc.sh install"))
		}
	}
	unit, ok := g.serviceUnit()
	if ok && g.deps.Services.IsActive(rc, unit) {
		return nil
	}
	if _, err := g.deps.Runner.Run(rc.Ctx, execute.Options{
		Command: "./svc.sh", Args: []string{"start"}, Dir: g.dir, Capture: true,
	}); err != nil {
		return g.installFailed(cerr.Wrap(err, "svc.sh start"))
	}
	return nil
}

func (g *GitHubRunner) identity() (Identity, error) {
	rf, ok, err := g.readRunnerFile()
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, cerr.Newf("runner not configured in %s", g.dir)
	}
	return Identity{
		Platform: config.PlatformGitHub,
		Name:     rf.AgentName,
		ID:       strconv.FormatInt(rf.AgentID, 10),
		Target:   g.spec.Owner + "/" + g.spec.Repo,
	}, nil
}

func (g *GitHubRunner) installFailed(cause error) error {
	v := g.spec.Version
	if v == "" {
		v = config.VersionLatest
	}
	return &forge_err.InstallationFailedError{Tool: "actions-runner", Version: v, Cause: cause}
}
