// pkg/config/config.go
//
// BootstrapConfig is the immutable result of parameter collection. Agent
// platform settings form a closed tagged union: exactly one of NoAgent,
// GitLabAgent or GitHubAgent is carried, chosen once at collection time.

package config

import (
	"path/filepath"
	"time"
)

// AgentPlatform names the automation platform the host registers with.
type AgentPlatform string

const (
	PlatformNone   AgentPlatform = "none"
	PlatformGitLab AgentPlatform = "gitlab"
	PlatformGitHub AgentPlatform = "github"
)

// Platforms lists every supported value in prompt order.
var Platforms = []AgentPlatform{PlatformNone, PlatformGitLab, PlatformGitHub}

// VersionLatest installs whatever the package source currently offers.
const VersionLatest = "latest"

// AgentSpec is implemented only by the three agent variants in this package.
type AgentSpec interface {
	Platform() AgentPlatform
	sealed()
}

// NoAgent means no execution agent is installed.
type NoAgent struct{}

func (NoAgent) Platform() AgentPlatform { return PlatformNone }
func (NoAgent) sealed()                 {}

// GitLabAgent holds the non-interactive gitlab-runner registration settings.
type GitLabAgent struct {
	URL      string
	Token    string
	Executor string
	Tags     []string
	Name     string
	Version  string
}

func (GitLabAgent) Platform() AgentPlatform { return PlatformGitLab }
func (GitLabAgent) sealed()                 {}

// GitHubAgent holds the self-hosted actions runner settings.
type GitHubAgent struct {
	Owner   string
	Repo    string
	Token   string
	Labels  []string
	Name    string
	Version string
}

func (GitHubAgent) Platform() AgentPlatform { return PlatformGitHub }
func (GitHubAgent) sealed()                 {}

// RepositoryURL is the repository the runner serves.
func (g GitHubAgent) RepositoryURL() string {
	return "https://github.com/" + g.Owner + "/" + g.Repo
}

// ToolVersions pins the managed tools. "latest" means unpinned.
type ToolVersions struct {
	Docker    string
	Terraform string
	Ansible   string
}

// BootstrapConfig is complete and internally consistent once built; it is
// passed by value and never modified by the orchestrator.
type BootstrapConfig struct {
	User             string
	Home             string
	SSHPort          int
	AllowCIDR        string
	SSHAuthorizedKey string
	Agent            AgentSpec
	Versions         ToolVersions
	NetworkTimeout   time.Duration
}

// AgentPlatform returns the selected platform.
func (c BootstrapConfig) AgentPlatform() AgentPlatform {
	if c.Agent == nil {
		return PlatformNone
	}
	return c.Agent.Platform()
}

// WorkspaceDir is the root of the operator's CI working tree.
func (c BootstrapConfig) WorkspaceDir() string {
	return filepath.Join(c.Home, "ci")
}

// AllowsAllSSH reports the permissive default: no CIDR means SSH is open to
// every source address.
func (c BootstrapConfig) AllowsAllSSH() bool {
	return c.AllowCIDR == ""
}

// Redacted is the view of the config that may be logged or reported.
type Redacted struct {
	User          string `yaml:"user"`
	Home          string `yaml:"home"`
	SSHPort       int    `yaml:"ssh_port"`
	AllowCIDR     string `yaml:"allow_cidr"`
	AgentPlatform string `yaml:"agent_platform"`
	AgentTarget   string `yaml:"agent_target,omitempty"`
	AgentToken    string `yaml:"agent_token,omitempty"`
	Docker        string `yaml:"docker_version"`
	Terraform     string `yaml:"terraform_version"`
	Ansible       string `yaml:"ansible_version"`
}

const redactedMarker = "********"

// Redacted returns a copy with secrets masked.
func (c BootstrapConfig) Redacted() Redacted {
	r := Redacted{
		User:          c.User,
		Home:          c.Home,
		SSHPort:       c.SSHPort,
		AllowCIDR:     c.AllowCIDR,
		AgentPlatform: string(c.AgentPlatform()),
		Docker:        c.Versions.Docker,
		Terraform:     c.Versions.Terraform,
		Ansible:       c.Versions.Ansible,
	}
	if r.AllowCIDR == "" {
		r.AllowCIDR = "any"
	}
	switch a := c.Agent.(type) {
	case GitLabAgent:
		r.AgentTarget = a.URL
		r.AgentToken = redactedMarker
	case GitHubAgent:
		r.AgentTarget = a.RepositoryURL()
		r.AgentToken = redactedMarker
	}
	return r
}
