// pkg/bootstrap/orchestrator.go
//
// The bootstrap orchestrator: pre-flight guard, then the fixed step
// sequence run through the idempotent executor.

package bootstrap

import (
	"fmt"
	"runtime"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/agent"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/config"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/platform"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/privilege_check"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/runlog"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Step names, in execution order.
const (
	StepPackageIndex      = "package-index"
	StepAccount           = "account"
	StepSecurityBaseline  = "security-baseline"
	StepSSHHardening      = "ssh-hardening"
	StepContainerRuntime  = "container-runtime"
	StepProvisioningTool  = "provisioning-tool"
	StepConfigurationTool = "configuration-tool"
	StepWorkspace         = "workspace"
	StepAgent             = "agent"
)

// Run is everything a bootstrap produced, for the summary reporter.
type Run struct {
	RunID   string
	Config  config.BootstrapConfig
	Release *platform.Release
	Results []StepResult
	// Err is the run's outcome; forge_err.ExitCode(Err) is the exit status.
	Err error
}

// Orchestrator drives one bootstrap of the host.
type Orchestrator struct {
	Host *Host
}

// New returns an orchestrator for host.
func New(host *Host) *Orchestrator {
	return &Orchestrator{Host: host}
}

// Bootstrap runs the pre-flight guard and then every step in order. The
// returned Run always lists each step attempted, even when err is set.
func (o *Orchestrator) Bootstrap(rc *forge_io.RuntimeContext, cfg config.BootstrapConfig) (*Run, error) {
	logger := otelzap.Ctx(rc.Ctx)
	run := &Run{Config: cfg}

	// ASSESS
	rel, err := o.preflight(rc)
	run.Release = rel
	if err != nil {
		run.Err = err
		return run, err
	}

	// INTERVENE
	rec := o.Host.Recorder
	if rec == nil && o.Host.RunLogPath != "" {
		if rec, err = runlog.Open(o.Host.RunLogPath, rc.Command); err != nil {
			logger.Warn("Run log unavailable, continuing without it", zap.Error(err))
		} else {
			defer func() { _ = rec.Finish(forge_err.ExitCode(run.Err)) }()
		}
	}
	if rec != nil {
		run.RunID = rec.RunID
	}

	logger.Info("🚀 Starting bootstrap",
		zap.String("user", cfg.User),
		zap.String("agent_platform", string(cfg.AgentPlatform())),
		zap.String("run_id", run.RunID))
	exec := &Executor{Recorder: rec}
	run.Results, run.Err = exec.Run(rc, o.Steps(cfg, rel))

	// EVALUATE
	if run.Err != nil {
		logger.Error("Bootstrap finished with failures", zap.Error(run.Err))
	} else {
		logger.Info("🎉 Bootstrap complete", zap.Int("steps", len(run.Results)))
	}
	return run, run.Err
}

// PlannedStep is the probe outcome of one step, without applying anything.
type PlannedStep struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Satisfied   bool   `json:"satisfied"`
	Detail      string `json:"detail,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Plan runs the guard and every presence probe. Nothing on the host changes.
func (o *Orchestrator) Plan(rc *forge_io.RuntimeContext, cfg config.BootstrapConfig) ([]PlannedStep, *platform.Release, error) {
	rel, err := o.preflight(rc)
	if err != nil {
		return nil, rel, err
	}
	steps := o.Steps(cfg, rel)
	plan := make([]PlannedStep, 0, len(steps))
	for _, s := range steps {
		p, err := s.Probe(rc)
		ps := PlannedStep{
			Name:        s.Name,
			Description: s.Description,
			Optional:    s.Optional,
			Satisfied:   err == nil && p.Satisfied,
			Detail:      p.Detail,
		}
		if err != nil {
			ps.Reason = err.Error()
		}
		plan = append(plan, ps)
	}
	return plan, rel, nil
}

// preflight fails on missing privilege before anything else happens. An
// unreadable or unsupported os-release is only a warning.
func (o *Orchestrator) preflight(rc *forge_io.RuntimeContext) (*platform.Release, error) {
	logger := otelzap.Ctx(rc.Ctx)

	if _, err := privilege_check.CheckPrivilege(rc, o.Host.Privilege); err != nil {
		return nil, err
	}

	rel, err := platform.DetectPlatform(rc, o.Host.OSReleasePath)
	if err != nil {
		logger.Warn("⚠️ Could not detect host platform, assuming Ubuntu",
			zap.String("codename", DefaultCodename),
			zap.Error(err))
		rel = &platform.Release{ID: platform.SupportedFamily}
	}
	if rel.Codename == "" {
		rel.Codename = DefaultCodename
	}
	if rel.Arch == "" {
		rel.Arch = platform.DebianArch(runtime.GOARCH)
	}
	return rel, nil
}

// Steps builds the fixed step sequence for cfg.
func (o *Orchestrator) Steps(cfg config.BootstrapConfig, rel *platform.Release) []Step {
	h := o.Host
	installer := agent.Select(cfg, h.agentDeps(rel))

	return []Step{
		packageIndexStep(h),
		accountStep(h, cfg),
		securityBaselineStep(h, cfg),
		sshHardeningStep(h, cfg),
		containerRuntimeStep(h, cfg, rel.Codename),
		toolStep(h, StepProvisioningTool, provisioningTool(cfg, rel.Codename)),
		toolStep(h, StepConfigurationTool, configurationTool(cfg)),
		workspaceStep(h, cfg),
		agentStep(installer),
	}
}

// LastRun loads the most recent run from the run log, for `forge check`.
func LastRun(path string) ([]runlog.Entry, error) {
	entries, err := runlog.Read(path)
	if err != nil {
		return nil, err
	}
	return runlog.LastRun(entries), nil
}

func describeSSH(cfg config.BootstrapConfig) string {
	from := cfg.AllowCIDR
	if from == "" {
		from = "anywhere"
	}
	return fmt.Sprintf("%d/tcp from %s", cfg.SSHPort, from)
}
