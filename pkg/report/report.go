// pkg/report/report.go
//
// Summary reporter: turns a bootstrap run into a terminal report, a YAML
// machine report and the process exit status.

package report

import (
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/bootstrap"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/config"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
)

// Verdicts.
const (
	VerdictSuccess          = "success"
	VerdictOptionalFailures = "completed with optional failures"
	VerdictFailed           = "failed"
	VerdictRefused          = "refused before any change"
)

// HostInfo describes the bootstrapped machine.
type HostInfo struct {
	OS        string `yaml:"os,omitempty"`
	Version   string `yaml:"version,omitempty"`
	Codename  string `yaml:"codename,omitempty"`
	Arch      string `yaml:"arch,omitempty"`
	Supported bool   `yaml:"supported"`
}

// Step is one line of the report.
type Step struct {
	Name     string  `yaml:"name"`
	Status   string  `yaml:"status"`
	Optional bool    `yaml:"optional,omitempty"`
	Detail   string  `yaml:"detail,omitempty"`
	Message  string  `yaml:"message,omitempty"`
	Seconds  float64 `yaml:"duration_seconds"`
}

// Report is the complete summary of one run. Secrets never appear in it.
type Report struct {
	RunID     string          `yaml:"run_id,omitempty"`
	Generated time.Time       `yaml:"generated"`
	Host      HostInfo        `yaml:"host"`
	Config    config.Redacted `yaml:"config"`
	Steps     []Step          `yaml:"steps"`
	Warnings  []string        `yaml:"warnings,omitempty"`
	Verdict   string          `yaml:"verdict"`
	ExitCode  int             `yaml:"exit_code"`
	Error     string          `yaml:"error,omitempty"`
}

// Build summarizes run.
func Build(run *bootstrap.Run) Report {
	r := Report{
		RunID:     run.RunID,
		Generated: time.Now().UTC(),
		Config:    run.Config.Redacted(),
		ExitCode:  ExitCode(run),
	}
	if run.Release != nil {
		r.Host = HostInfo{
			OS:        run.Release.ID,
			Version:   run.Release.VersionID,
			Codename:  run.Release.Codename,
			Arch:      run.Release.Arch,
			Supported: run.Release.Supported,
		}
	}
	for _, res := range run.Results {
		r.Steps = append(r.Steps, Step{
			Name:     res.Name,
			Status:   string(res.Status),
			Optional: res.Optional,
			Detail:   res.Detail,
			Message:  res.Message,
			Seconds:  res.Duration().Round(time.Millisecond).Seconds(),
		})
	}
	if run.Err != nil {
		r.Error = run.Err.Error()
	}
	r.Warnings = Warnings(run)
	r.Verdict = verdict(run, r.ExitCode)
	return r
}

// ExitCode is 0 when no required step failed. An aborted run, a failed
// pre-flight check and failed optional steps each map to their own range.
func ExitCode(run *bootstrap.Run) int {
	if run.Err != nil {
		return forge_err.ExitCode(run.Err)
	}
	optionalFailed := false
	for _, res := range run.Results {
		if !res.Failed() {
			continue
		}
		if !res.Optional {
			return forge_err.ExitFatalStep
		}
		optionalFailed = true
	}
	if optionalFailed {
		return forge_err.ExitOptionalStep
	}
	return forge_err.ExitOK
}

// Warnings lists notable defaults and conditions the operator should know about.
func Warnings(run *bootstrap.Run) []string {
	var w []string
	if run.Config.User != "" && run.Config.AllowsAllSSH() {
		w = append(w, fmt.Sprintf("SSH on port %d accepts connections from any address; set allow_cidr to restrict it", run.Config.SSHPort))
	}
	if run.Release != nil && !run.Release.Supported {
		w = append(w, fmt.Sprintf("host OS %q is not Ubuntu; some steps may not behave as intended", run.Release.ID))
	}
	return w
}

func verdict(run *bootstrap.Run, code int) string {
	switch code {
	case forge_err.ExitOK:
		return VerdictSuccess
	case forge_err.ExitOptionalStep:
		return VerdictOptionalFailures
	}
	if len(run.Results) == 0 {
		return VerdictRefused
	}
	last := run.Results[len(run.Results)-1]
	if last.Failed() {
		return fmt.Sprintf("%s at step %s", VerdictFailed, last.Name)
	}
	return VerdictFailed
}
