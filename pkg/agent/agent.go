// pkg/agent/agent.go

package agent

import (
	"github.com/CodeMonkeyCybersecurity/forge/pkg/config"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/httpclient"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/systemd"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/tools"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/users"
)

// Identity is what the automation platform knows the host as.
type Identity struct {
	Platform config.AgentPlatform
	Name     string
	ID       string
	Target   string
}

// Installer installs and registers one execution agent. Exactly one
// Installer is selected per run, from the configured agent platform.
type Installer interface {
	Platform() config.AgentPlatform
	// Installed is the presence probe: agent installed, registered and running.
	Installed(rc *forge_io.RuntimeContext) (bool, error)
	Install(rc *forge_io.RuntimeContext) (Identity, error)
}

// Registrar is the agent-registration capability of a platform.
type Registrar interface {
	Registered(rc *forge_io.RuntimeContext) (bool, error)
	Register(rc *forge_io.RuntimeContext) (Identity, error)
}

// Deps are the host collaborators agent installers use.
type Deps struct {
	Runner   execute.Runner
	Tools    *tools.Installer
	Accounts users.AccountManager
	Services systemd.ServiceManager
	HTTP     *httpclient.Client
	Codename string
	Arch     string

	// Overridable endpoints and paths, defaulted by Select.
	GitLabConfigPath string
	GitHubAPIURL     string
	GitHubURL        string
}

const (
	DefaultGitLabConfigPath = "/etc/gitlab-runner/config.toml"
	DefaultGitHubAPIURL     = "https://api.github.com"
	DefaultGitHubURL        = "https://github.com"
)

// Select returns the installer for cfg.Agent. The variant set is closed.
func Select(cfg config.BootstrapConfig, deps Deps) Installer {
	if deps.GitLabConfigPath == "" {
		deps.GitLabConfigPath = DefaultGitLabConfigPath
	}
	if deps.GitHubAPIURL == "" {
		deps.GitHubAPIURL = DefaultGitHubAPIURL
	}
	if deps.GitHubURL == "" {
		deps.GitHubURL = DefaultGitHubURL
	}

	switch a := cfg.Agent.(type) {
	case config.GitLabAgent:
		return newGitLabRunner(a, cfg.User, deps)
	case config.GitHubAgent:
		return newGitHubRunner(a, cfg.User, cfg.Home, deps)
	default:
		return NoAgent{}
	}
}

// NoAgent installs nothing; its probe is always satisfied.
type NoAgent struct{}

func (NoAgent) Platform() config.AgentPlatform { return config.PlatformNone }

func (NoAgent) Installed(*forge_io.RuntimeContext) (bool, error) { return true, nil }

func (NoAgent) Install(*forge_io.RuntimeContext) (Identity, error) {
	return Identity{Platform: config.PlatformNone}, nil
}

func registrationFailed(p config.AgentPlatform, cause error) error {
	return &forge_err.RegistrationError{Platform: string(p), Cause: cause}
}
