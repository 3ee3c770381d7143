// pkg/bootstrap/steps.go

package bootstrap

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/agent"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/config"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/security"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/tools"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/users"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// OperatorGroups are the supplementary groups of the operator account.
var OperatorGroups = []string{"sudo"}

// DockerGroup grants access to the container runtime's control socket.
const DockerGroup = "docker"

func packageIndexStep(h *Host) Step {
	maxAge := h.IndexMaxAge
	if maxAge <= 0 {
		maxAge = DefaultIndexMaxAge
	}
	return Step{
		Name:        StepPackageIndex,
		Description: "Refresh the package index",
		Probe: func(*forge_io.RuntimeContext) (Probe, error) {
			return Probe{Satisfied: h.Packages.IndexFresh(maxAge)}, nil
		},
		Apply: func(rc *forge_io.RuntimeContext) error {
			return h.Packages.RefreshIndex(rc)
		},
	}
}

func accountStep(h *Host, cfg config.BootstrapConfig) Step {
	return Step{
		Name:        StepAccount,
		Description: fmt.Sprintf("Create operator account %s", cfg.User),
		Probe: func(*forge_io.RuntimeContext) (Probe, error) {
			acct, err := h.Accounts.Lookup(cfg.User)
			if err != nil {
				return Probe{}, err
			}
			if acct == nil {
				return Probe{}, cerr.Newf("account %s does not exist", cfg.User)
			}
			for _, g := range OperatorGroups {
				in, err := h.Accounts.InGroup(cfg.User, g)
				if err != nil {
					return Probe{}, err
				}
				if !in {
					return Probe{}, cerr.Newf("%s is not in group %s", cfg.User, g)
				}
			}
			if cfg.SSHAuthorizedKey != "" && !users.HasAuthorizedKey(acct.Home, cfg.SSHAuthorizedKey) {
				return Probe{}, cerr.Newf("authorized key not installed for %s", cfg.User)
			}
			return Probe{Satisfied: true, Detail: acct.Home}, nil
		},
		Apply: func(rc *forge_io.RuntimeContext) error {
			logger := otelzap.Ctx(rc.Ctx)

			acct, err := h.Accounts.Lookup(cfg.User)
			if err != nil {
				return err
			}
			if acct == nil {
				if err := h.Accounts.Create(rc, cfg.User, cfg.Home, OperatorGroups...); err != nil {
					return err
				}
				if acct, err = h.Accounts.Lookup(cfg.User); err != nil {
					return err
				}
				if acct == nil {
					return cerr.Newf("account %s missing after creation", cfg.User)
				}
			} else {
				logger.Info("Account exists, checking groups", zap.String("user", cfg.User))
				for _, g := range OperatorGroups {
					in, err := h.Accounts.InGroup(cfg.User, g)
					if err != nil {
						return err
					}
					if !in {
						if err := h.Accounts.AddToGroup(rc, cfg.User, g); err != nil {
							return err
						}
					}
				}
			}
			if cfg.SSHAuthorizedKey != "" {
				if _, err := users.EnsureAuthorizedKey(rc, *acct, cfg.SSHAuthorizedKey); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (h *Host) baseline(cfg config.BootstrapConfig) *security.Baseline {
	return &security.Baseline{
		Firewall:  h.Firewall,
		IPS:       h.IPS,
		Packages:  h.Packages,
		SSHPort:   cfg.SSHPort,
		AllowCIDR: cfg.AllowCIDR,
	}
}

func securityBaselineStep(h *Host, cfg config.BootstrapConfig) Step {
	b := h.baseline(cfg)
	return Step{
		Name:        StepSecurityBaseline,
		Description: "Firewall and SSH brute-force protection",
		Probe: func(rc *forge_io.RuntimeContext) (Probe, error) {
			if err := b.Missing(rc); err != nil {
				return Probe{}, err
			}
			return Probe{Satisfied: true, Detail: "ssh " + describeSSH(cfg)}, nil
		},
		Apply: b.Apply,
	}
}

func sshHardeningStep(h *Host, cfg config.BootstrapConfig) Step {
	edit := security.SSHHardeningEdit(h.SSHDConfigPath, cfg.SSHPort, cfg.User)
	hardener := &security.SSHHardener{Mutator: h.Mutator, Runner: h.Runner, Services: h.Services, Root: h.SSHDIncludeRoot}
	return Step{
		Name:        StepSSHHardening,
		Description: "Harden " + edit.Path,
		Probe: func(*forge_io.RuntimeContext) (Probe, error) {
			ok, err := hardener.Hardened(edit)
			if err != nil {
				return Probe{}, err
			}
			return Probe{Satisfied: ok, Detail: fmt.Sprintf("port %d, backup %s", cfg.SSHPort, edit.BackupPath())}, nil
		},
		Apply: func(rc *forge_io.RuntimeContext) error {
			return hardener.Harden(rc, edit)
		},
	}
}

func provisioningTool(cfg config.BootstrapConfig, codename string) tools.ManagedTool {
	return tools.Terraform(cfg.Versions.Terraform, codename)
}

func configurationTool(cfg config.BootstrapConfig) tools.ManagedTool {
	return tools.Ansible(cfg.Versions.Ansible)
}

func toolStep(h *Host, name string, tool tools.ManagedTool) Step {
	return Step{
		Name:        name,
		Description: fmt.Sprintf("Install %s (%s)", tool.Name, versionOrLatest(tool.Version)),
		Probe: func(rc *forge_io.RuntimeContext) (Probe, error) {
			p, err := h.Tools.Probe(rc, tool)
			if err != nil {
				return Probe{}, err
			}
			return Probe{Satisfied: p.Satisfied(tool), Detail: toolDetail(tool, p.Version)}, nil
		},
		Apply: func(rc *forge_io.RuntimeContext) error {
			_, err := h.Tools.EnsureInstalled(rc, tool)
			return err
		},
	}
}

// containerRuntimeStep installs docker, admits the operator to the docker
// group and requires the daemon to answer on its API socket.
func containerRuntimeStep(h *Host, cfg config.BootstrapConfig, codename string) Step {
	tool := tools.Docker(cfg.Versions.Docker, codename)
	base := toolStep(h, StepContainerRuntime, tool)

	probe := func(rc *forge_io.RuntimeContext) (Probe, error) {
		p, err := base.Probe(rc)
		if err != nil || !p.Satisfied {
			return p, err
		}
		in, err := h.Accounts.InGroup(cfg.User, DockerGroup)
		if err != nil {
			return Probe{}, err
		}
		if !in {
			return Probe{Detail: p.Detail}, cerr.Newf("%s is not in group %s", cfg.User, DockerGroup)
		}
		info, err := h.Docker.Probe(rc.Ctx)
		if err != nil {
			return Probe{Detail: p.Detail}, err
		}
		return Probe{Satisfied: true, Detail: fmt.Sprintf("%s (API %s)", p.Detail, info.APIVersion)}, nil
	}

	return Step{
		Name:        StepContainerRuntime,
		Description: base.Description,
		Probe:       probe,
		Apply: func(rc *forge_io.RuntimeContext) error {
			logger := otelzap.Ctx(rc.Ctx)

			if err := base.Apply(rc); err != nil {
				return err
			}
			in, err := h.Accounts.InGroup(cfg.User, DockerGroup)
			if err != nil {
				return err
			}
			if !in {
				if err := h.Accounts.AddToGroup(rc, cfg.User, DockerGroup); err != nil {
					return err
				}
			}
			info, err := h.Docker.Probe(rc.Ctx)
			if err != nil {
				return &forge_err.InstallationFailedError{
					Tool:    tool.Name,
					Version: versionOrLatest(tool.Version),
					Cause:   cerr.Wrap(err, "docker daemon not answering"),
				}
			}
			logger.Info("🐳 Docker daemon reachable",
				zap.String("version", info.Version),
				zap.String("api_version", info.APIVersion))
			return nil
		},
	}
}

func workspaceStep(h *Host, cfg config.BootstrapConfig) Step {
	root := cfg.WorkspaceDir()
	account := func() (users.Account, error) {
		acct, err := h.Accounts.Lookup(cfg.User)
		if err != nil {
			return users.Account{}, err
		}
		if acct == nil {
			return users.Account{}, cerr.Newf("account %s does not exist", cfg.User)
		}
		return *acct, nil
	}
	return Step{
		Name:        StepWorkspace,
		Description: "Create working directories under " + root,
		Probe: func(*forge_io.RuntimeContext) (Probe, error) {
			acct, err := account()
			if err != nil {
				return Probe{}, err
			}
			return Probe{Satisfied: users.WorkspaceReady(root, acct), Detail: root}, nil
		},
		Apply: func(rc *forge_io.RuntimeContext) error {
			acct, err := account()
			if err != nil {
				return err
			}
			return users.EnsureWorkspace(rc, root, acct)
		},
	}
}

// agentStep is optional: a host without a registered agent is still usable.
func agentStep(installer agent.Installer) Step {
	selected := installer.Platform()
	return Step{
		Name:        StepAgent,
		Description: fmt.Sprintf("Install %s agent", selected),
		Optional:    true,
		Probe: func(rc *forge_io.RuntimeContext) (Probe, error) {
			if selected == config.PlatformNone {
				return Probe{Satisfied: true, Detail: "no agent platform selected"}, nil
			}
			ok, err := installer.Installed(rc)
			if err != nil {
				return Probe{}, err
			}
			return Probe{Satisfied: ok, Detail: string(selected)}, nil
		},
		Apply: func(rc *forge_io.RuntimeContext) error {
			id, err := installer.Install(rc)
			if err != nil {
				return err
			}
			otelzap.Ctx(rc.Ctx).Info("🤖 Agent installed",
				zap.String("platform", string(id.Platform)),
				zap.String("name", id.Name),
				zap.String("id", id.ID),
				zap.String("target", id.Target))
			return nil
		},
	}
}

func toolDetail(tool tools.ManagedTool, version string) string {
	if version == "" {
		return tool.Name
	}
	return tool.Name + " " + version
}

func versionOrLatest(v string) string {
	if v == "" {
		return config.VersionLatest
	}
	return v
}
