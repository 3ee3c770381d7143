// pkg/bootstrap/step.go

package bootstrap

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
)

// Status is the outcome of one step.
type Status string

const (
	StatusApplied Status = "applied"
	StatusSkipped Status = "skipped-already-present"
	StatusFailed  Status = "failed"
)

// Probe is what a presence probe observed.
type Probe struct {
	Satisfied bool
	// Detail is reported alongside the step, e.g. an installed tool version.
	Detail string
}

// Step is one idempotent bootstrap action. Probe must not mutate the host;
// Apply is only called when Probe reports the state is missing.
type Step struct {
	Name        string
	Description string
	Optional    bool
	Probe       func(rc *forge_io.RuntimeContext) (Probe, error)
	Apply       func(rc *forge_io.RuntimeContext) error
}

// StepResult is the finalized outcome of a step. It is never modified
// after the executor returns it.
type StepResult struct {
	Name     string    `yaml:"name"`
	Status   Status    `yaml:"status"`
	Optional bool      `yaml:"optional,omitempty"`
	Detail   string    `yaml:"detail,omitempty"`
	Message  string    `yaml:"message,omitempty"`
	Started  time.Time `yaml:"started"`
	Finished time.Time `yaml:"finished"`
}

// Duration is how long the step took.
func (r StepResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Failed reports whether the step ended in StatusFailed.
func (r StepResult) Failed() bool {
	return r.Status == StatusFailed
}
