// pkg/config/params.go

package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// DefaultNetworkTimeout bounds downloads and registration calls.
const DefaultNetworkTimeout = 5 * time.Minute

// Params is the flat, source-agnostic form of the operator's input. Every
// configuration source (file, env, flags, prompts) writes into Params; Build
// validates it and produces the immutable BootstrapConfig.
type Params struct {
	User             string `mapstructure:"user" validate:"required,unix_username"`
	Home             string `mapstructure:"home"`
	SSHPort          int    `mapstructure:"ssh_port" validate:"required,min=1,max=65535"`
	AllowCIDR        string `mapstructure:"allow_cidr" validate:"omitempty,cidr"`
	SSHAuthorizedKey string `mapstructure:"ssh_authorized_key" validate:"omitempty,authorized_key"`

	AgentPlatform string `mapstructure:"agent_platform" validate:"required,oneof=none gitlab github"`
	AgentName     string `mapstructure:"agent_name"`
	AgentLabels   string `mapstructure:"agent_labels"`

	GitLabURL      string `mapstructure:"gitlab_url" validate:"required_if=AgentPlatform gitlab"`
	GitLabToken    string `mapstructure:"gitlab_token" validate:"required_if=AgentPlatform gitlab"`
	GitLabExecutor string `mapstructure:"gitlab_executor" validate:"omitempty,oneof=shell docker"`

	GitHubOwner string `mapstructure:"github_owner" validate:"required_if=AgentPlatform github"`
	GitHubRepo  string `mapstructure:"github_repo" validate:"required_if=AgentPlatform github"`
	GitHubToken string `mapstructure:"github_token" validate:"required_if=AgentPlatform github"`

	DockerVersion       string `mapstructure:"docker_version" validate:"version_pin"`
	TerraformVersion    string `mapstructure:"terraform_version" validate:"version_pin"`
	AnsibleVersion      string `mapstructure:"ansible_version" validate:"version_pin"`
	GitLabRunnerVersion string `mapstructure:"gitlab_runner_version" validate:"version_pin"`
	GitHubRunnerVersion string `mapstructure:"github_runner_version" validate:"version_pin"`

	NetworkTimeout time.Duration `mapstructure:"network_timeout" validate:"min=0"`
}

// Keys lists every configuration key in the order prompts and flags use.
var Keys = []string{
	"user", "home", "ssh_port", "allow_cidr", "ssh_authorized_key",
	"agent_platform", "agent_name", "agent_labels",
	"gitlab_url", "gitlab_token", "gitlab_executor",
	"github_owner", "github_repo", "github_token",
	"docker_version", "terraform_version", "ansible_version",
	"gitlab_runner_version", "github_runner_version",
	"network_timeout",
}

// Defaults returns the values used when no source overrides them.
func Defaults() Params {
	return Params{
		User:                "ci",
		SSHPort:             22,
		AgentPlatform:       string(PlatformNone),
		GitLabExecutor:      "shell",
		DockerVersion:       VersionLatest,
		TerraformVersion:    VersionLatest,
		AnsibleVersion:      VersionLatest,
		GitLabRunnerVersion: VersionLatest,
		GitHubRunnerVersion: VersionLatest,
		NetworkTimeout:      DefaultNetworkTimeout,
	}
}

// Build validates p and returns the immutable config. Errors are
// *forge_err.MissingRequiredFieldError or *forge_err.InvalidFieldError.
func (p Params) Build() (BootstrapConfig, error) {
	p = p.normalized()
	if err := Validate(p); err != nil {
		return BootstrapConfig{}, err
	}

	cfg := BootstrapConfig{
		User:             p.User,
		Home:             p.Home,
		SSHPort:          p.SSHPort,
		AllowCIDR:        p.AllowCIDR,
		SSHAuthorizedKey: p.SSHAuthorizedKey,
		Versions: ToolVersions{
			Docker:    p.DockerVersion,
			Terraform: p.TerraformVersion,
			Ansible:   p.AnsibleVersion,
		},
		NetworkTimeout: p.NetworkTimeout,
	}

	switch AgentPlatform(p.AgentPlatform) {
	case PlatformGitLab:
		cfg.Agent = GitLabAgent{
			URL:      p.GitLabURL,
			Token:    p.GitLabToken,
			Executor: p.GitLabExecutor,
			Tags:     splitList(p.AgentLabels),
			Name:     p.AgentName,
			Version:  p.GitLabRunnerVersion,
		}
	case PlatformGitHub:
		cfg.Agent = GitHubAgent{
			Owner:   p.GitHubOwner,
			Repo:    p.GitHubRepo,
			Token:   p.GitHubToken,
			Labels:  splitList(p.AgentLabels),
			Name:    p.AgentName,
			Version: p.GitHubRunnerVersion,
		}
	default:
		cfg.Agent = NoAgent{}
	}
	return cfg, nil
}

// normalized fills derived defaults that depend on other fields.
func (p Params) normalized() Params {
	p.User = strings.TrimSpace(p.User)
	p.AgentPlatform = strings.ToLower(strings.TrimSpace(p.AgentPlatform))
	p.GitLabURL = strings.TrimRight(strings.TrimSpace(p.GitLabURL), "/")
	p.AllowCIDR = canonicalCIDR(p.AllowCIDR)
	if p.Home == "" && p.User != "" {
		p.Home = filepath.Join("/home", p.User)
	}
	if p.AgentName == "" {
		p.AgentName = hostname()
	}
	if p.AgentLabels == "" {
		p.AgentLabels = "forge,linux," + runtime.GOARCH
	}
	if p.GitLabExecutor == "" {
		p.GitLabExecutor = "shell"
	}
	for _, v := range []*string{&p.DockerVersion, &p.TerraformVersion, &p.AnsibleVersion,
		&p.GitLabRunnerVersion, &p.GitHubRunnerVersion} {
		if strings.TrimSpace(*v) == "" {
			*v = VersionLatest
		}
	}
	if p.NetworkTimeout == 0 {
		p.NetworkTimeout = DefaultNetworkTimeout
	}
	return p
}

// canonicalCIDR masks host bits off a prefix ("10.0.0.5/8" becomes
// "10.0.0.0/8"), the form firewalls store. Anything unparsable is returned
// trimmed and left for Validate to reject.
func canonicalCIDR(s string) string {
	s = strings.TrimSpace(s)
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return s
	}
	return prefix.Masked().String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "forge-node"
}
