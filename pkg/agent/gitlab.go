// pkg/agent/gitlab.go

package agent

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/config"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/tools"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// gitlabServiceAccount is the account the gitlab-runner package creates.
const gitlabServiceAccount = "gitlab-runner"

// DefaultDockerImage is used by runners with the docker executor.
const DefaultDockerImage = "alpine:latest"

// GitLabRunner installs gitlab-runner and registers it non-interactively.
type GitLabRunner struct {
	spec     config.GitLabAgent
	operator string
	deps     Deps
	tool     tools.ManagedTool
}

func newGitLabRunner(spec config.GitLabAgent, operator string, deps Deps) *GitLabRunner {
	return &GitLabRunner{
		spec:     spec,
		operator: operator,
		deps:     deps,
		tool:     tools.GitLabRunner(spec.Version, deps.Codename),
	}
}

func (g *GitLabRunner) Platform() config.AgentPlatform { return config.PlatformGitLab }

// runnerConfig is the part of config.toml forge reads.
type runnerConfig struct {
	Runners []struct {
		ID       int64  `toml:"id"`
		Name     string `toml:"name"`
		URL      string `toml:"url"`
		Executor string `toml:"executor"`
	} `toml:"runners"`
}

// Installed requires the package, a registration for the configured URL
// and name, and docker socket access for the service account.
func (g *GitLabRunner) Installed(rc *forge_io.RuntimeContext) (bool, error) {
	presence, err := g.deps.Tools.Probe(rc, g.tool)
	if err != nil || !presence.Satisfied(g.tool) {
		return false, err
	}
	registered, err := g.Registered(rc)
	if err != nil || !registered {
		return false, err
	}
	return g.deps.Accounts.InGroup(gitlabServiceAccount, "docker")
}

// Registered looks for this runner in config.toml.
func (g *GitLabRunner) Registered(rc *forge_io.RuntimeContext) (bool, error) {
	_, ok, err := g.lookup()
	return ok, err
}

func (g *GitLabRunner) lookup() (Identity, bool, error) {
	var cfg runnerConfig
	if _, err := toml.DecodeFile(g.deps.GitLabConfigPath, &cfg); err != nil {
		if os.IsNotExist(err) {
			return Identity{}, false, nil
		}
		return Identity{}, false, cerr.Wrapf(err, "parse %s", g.deps.GitLabConfigPath)
	}
	want := strings.TrimRight(g.spec.URL, "/")
	for _, r := range cfg.Runners {
		if strings.TrimRight(r.URL, "/") == want && r.Name == g.spec.Name {
			return Identity{
				Platform: config.PlatformGitLab,
				Name:     r.Name,
				ID:       strconv.FormatInt(r.ID, 10),
				Target:   r.URL,
			}, true, nil
		}
	}
	return Identity{}, false, nil
}

// Install installs the package, registers once and grants the service
// account access to the docker socket.
func (g *GitLabRunner) Install(rc *forge_io.RuntimeContext) (Identity, error) {
	logger := otelzap.Ctx(rc.Ctx)

	if _, err := g.deps.Tools.EnsureInstalled(rc, g.tool); err != nil {
		return Identity{}, err
	}

	id, registered, err := g.lookup()
	if err != nil {
		return Identity{}, registrationFailed(config.PlatformGitLab, err)
	}
	if !registered {
		if id, err = g.Register(rc); err != nil {
			return Identity{}, err
		}
	} else {
		logger.Info("GitLab runner already registered", zap.String("name", id.Name), zap.String("url", id.Target))
	}

	inGroup, err := g.deps.Accounts.InGroup(gitlabServiceAccount, "docker")
	if err != nil {
		return id, err
	}
	if !inGroup {
		if err := g.deps.Accounts.AddToGroup(rc, gitlabServiceAccount, "docker"); err != nil {
			return id, err
		}
		if err := g.deps.Services.Restart(rc, "gitlab-runner"); err != nil {
			return id, err
		}
	}
	return id, nil
}

// Register runs `gitlab-runner register` without prompts. Runner
// authentication tokens (glrt-) carry tags server side; legacy
// registration tokens pass them on the command line.
func (g *GitLabRunner) Register(rc *forge_io.RuntimeContext) (Identity, error) {
	logger := otelzap.Ctx(rc.Ctx)

	args := RegisterArgs(g.spec)
	logger.Info("📝 Registering GitLab runner",
		zap.String("url", g.spec.URL),
		zap.String("name", g.spec.Name),
		zap.String("executor", g.spec.Executor))

	_, err := g.deps.Runner.Run(rc.Ctx, execute.Options{
		Command: "gitlab-runner",
		Args:    args,
		Capture: true,
		Secrets: []string{g.spec.Token},
	})
	if err != nil {
		return Identity{}, registrationFailed(config.PlatformGitLab, cerr.Wrap(err, "gitlab-runner register"))
	}

	id, ok, err := g.lookup()
	if err != nil {
		return Identity{}, registrationFailed(config.PlatformGitLab, err)
	}
	if !ok {
		return Identity{}, registrationFailed(config.PlatformGitLab,
			cerr.Newf("runner %q not found in %s after registration", g.spec.Name, g.deps.GitLabConfigPath))
	}
	logger.Info("✅ GitLab runner registered", zap.String("id", id.ID))
	return id, nil
}

// RegisterArgs builds the non-interactive register command line.
func RegisterArgs(spec config.GitLabAgent) []string {
	args := []string{
		"register", "--non-interactive",
		"--url", spec.URL,
		"--name", spec.Name,
		"--executor", spec.Executor,
	}
	if strings.HasPrefix(spec.Token, "glrt-") {
		args = append(args, "--token", spec.Token)
	} else {
		args = append(args, "--registration-token", spec.Token)
		if len(spec.Tags) > 0 {
			args = append(args, "--tag-list", strings.Join(spec.Tags, ","))
		}
	}
	if spec.Executor == "docker" {
		args = append(args, "--docker-image", DefaultDockerImage)
	}
	return args
}
