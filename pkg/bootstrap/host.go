// pkg/bootstrap/host.go

package bootstrap

import (
	"runtime"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/agent"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/configedit"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/docker"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/httpclient"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/packages"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/platform"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/privilege_check"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/runlog"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/security"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/systemd"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/tools"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/users"
)

// DefaultIndexMaxAge is how old the package index may be before the
// package-index step refreshes it.
const DefaultIndexMaxAge = time.Hour

// DefaultCodename is assumed when /etc/os-release does not name a release.
const DefaultCodename = "noble"

// Host bundles every collaborator that touches the machine. Tests build a
// Host from in-memory fakes; NewHost wires the real ones.
type Host struct {
	Runner    execute.Runner
	Privilege privilege_check.Checker
	Packages  packages.Source
	Accounts  users.AccountManager
	Firewall  security.Firewall
	IPS       security.IntrusionPrevention
	Services  systemd.ServiceManager
	Tools     *tools.Installer
	Docker    docker.Prober

	// Mutator is owned by the host so that backup-once state is shared by
	// every step of a run and never by two runs in the same process.
	Mutator *configedit.Mutator

	// Agent carries agent endpoints and paths; the orchestrator fills in
	// the collaborators above and the detected release.
	Agent agent.Deps

	// Recorder, when set, receives every step result. Otherwise a run log
	// is opened at RunLogPath once the pre-flight guard has passed.
	Recorder   *runlog.Recorder
	RunLogPath string

	OSReleasePath  string
	SSHDConfigPath string
	// SSHDIncludeRoot prefixes absolute Include patterns found in
	// SSHDConfigPath. Empty on a real host.
	SSHDIncludeRoot string
	IndexMaxAge     time.Duration
}

// NewHost wires the real host collaborators around runner.
func NewHost(runner execute.Runner, http *httpclient.Client, timeout time.Duration) *Host {
	services := systemd.NewManager(runner)
	source := packages.NewAptSource(runner, http, platform.DebianArch(runtime.GOARCH), timeout)
	return &Host{
		Runner:         runner,
		Privilege:      privilege_check.DefaultChecker(),
		Packages:       source,
		Accounts:       users.NewSystemAccounts(runner),
		Firewall:       security.NewUFW(runner),
		IPS:            security.NewFail2ban(services),
		Services:       services,
		Tools:          &tools.Installer{Runner: runner, Source: source, Services: services},
		Docker:         docker.APIProber{},
		Mutator:        configedit.NewMutator(),
		Agent:          agent.Deps{HTTP: http},
		RunLogPath:     runlog.DefaultPath,
		OSReleasePath:  platform.OSReleasePath,
		SSHDConfigPath: security.SSHDConfigPath,
		IndexMaxAge:    DefaultIndexMaxAge,
	}
}

func (h *Host) agentDeps(rel *platform.Release) agent.Deps {
	deps := h.Agent
	if deps.Runner == nil {
		deps.Runner = h.Runner
	}
	if deps.Tools == nil {
		deps.Tools = h.Tools
	}
	if deps.Accounts == nil {
		deps.Accounts = h.Accounts
	}
	if deps.Services == nil {
		deps.Services = h.Services
	}
	if deps.Codename == "" {
		deps.Codename = rel.Codename
	}
	if deps.Arch == "" {
		deps.Arch = rel.Arch
	}
	return deps
}
