// pkg/config/collect.go

package config

import (
	"strconv"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/interaction"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Collector is the parameter collector: it merges the configured sources,
// optionally asks the operator for anything still unset, and validates.
type Collector struct {
	Sources     Sources
	Prompter    *interaction.Prompter
	Interactive bool
}

// Collect produces a complete BootstrapConfig or fails with a
// MissingRequiredFieldError / InvalidFieldError. It does not mutate the host.
func (c *Collector) Collect(rc *forge_io.RuntimeContext) (BootstrapConfig, error) {
	logger := otelzap.Ctx(rc.Ctx)

	// ASSESS
	loaded, err := Load(c.Sources)
	if err != nil {
		return BootstrapConfig{}, err
	}
	if loaded.ConfigFileUsed != "" {
		logger.Info("Loaded configuration file", zap.String("path", loaded.ConfigFileUsed))
	}

	// INTERVENE
	p := loaded.Params
	if c.Interactive {
		if c.Prompter == nil {
			return BootstrapConfig{}, interaction.ErrNoTerminal
		}
		logger.Info("📝 Collecting bootstrap parameters interactively")
		if p, err = promptMissing(c.Prompter, p, loaded); err != nil {
			return BootstrapConfig{}, cerr.Wrap(err, "collect parameters")
		}
	}

	// EVALUATE
	cfg, err := p.Build()
	if err != nil {
		return BootstrapConfig{}, err
	}

	r := cfg.Redacted()
	logger.Info("Bootstrap parameters collected",
		zap.String("user", r.User),
		zap.Int("ssh_port", r.SSHPort),
		zap.String("allow_cidr", r.AllowCIDR),
		zap.String("agent_platform", r.AgentPlatform),
		zap.String("agent_target", r.AgentTarget),
	)
	if cfg.AllowsAllSSH() {
		logger.Warn("⚠️ No allow_cidr set: SSH will accept connections from any address")
	}
	return cfg, nil
}

func promptMissing(pr *interaction.Prompter, p Params, loaded Loaded) (Params, error) {
	var err error
	ask := func(key, label string, dst *string) {
		if err != nil || loaded.IsSet(key) {
			return
		}
		*dst, err = pr.PromptInput(label, *dst)
	}
	askSecret := func(key, label string, dst *string) {
		if err != nil || loaded.IsSet(key) || *dst != "" {
			return
		}
		*dst, err = pr.PromptSecret(label)
	}

	ask("user", "Operator account name", &p.User)

	if err == nil && !loaded.IsSet("ssh_port") {
		var port string
		port, err = pr.PromptInput("SSH port", strconv.Itoa(p.SSHPort))
		if err == nil {
			n, convErr := strconv.Atoi(port)
			if convErr != nil {
				return p, &forge_err.InvalidFieldError{Field: "ssh_port", Value: port, Reason: "must be a number"}
			}
			p.SSHPort = n
		}
	}

	ask("allow_cidr", "CIDR allowed to reach SSH (empty = any)", &p.AllowCIDR)

	if err == nil && !loaded.IsSet("agent_platform") {
		options := make([]string, len(Platforms))
		for i, pl := range Platforms {
			options[i] = string(pl)
		}
		p.AgentPlatform, err = pr.PromptSelect("Register this host as a CI agent for:", options, 0)
	}

	switch AgentPlatform(p.AgentPlatform) {
	case PlatformGitLab:
		ask("gitlab_url", "GitLab URL", &p.GitLabURL)
		askSecret("gitlab_token", "GitLab runner token", &p.GitLabToken)
	case PlatformGitHub:
		ask("github_owner", "GitHub owner", &p.GitHubOwner)
		ask("github_repo", "GitHub repository", &p.GitHubRepo)
		askSecret("github_token", "GitHub token", &p.GitHubToken)
	}
	return p, err
}
