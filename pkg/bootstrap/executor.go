// pkg/bootstrap/executor.go

package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/runlog"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Executor runs steps strictly in order: probe, skip if satisfied, else
// apply and re-probe. A failed required step stops the run; failed optional
// steps are collected and reported once every step has been attempted.
type Executor struct {
	Recorder *runlog.Recorder
	Now      func() time.Time
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Run executes steps and returns every result produced, including the one
// that stopped the run. The error is a *forge_err.StepFailedError: required
// when the run was aborted, optional when it completed with failures.
func (e *Executor) Run(rc *forge_io.RuntimeContext, steps []Step) ([]StepResult, error) {
	logger := otelzap.Ctx(rc.Ctx)

	results := make([]StepResult, 0, len(steps))
	var optionalErrs *multierror.Error
	var failedOptional []string

	for i, step := range steps {
		logger.Info("▶️ Step",
			zap.Int("step", i+1),
			zap.Int("of", len(steps)),
			zap.String("name", step.Name),
			zap.String("description", step.Description))

		res, err := e.runStep(rc, step)
		results = append(results, res)
		e.Recorder.Record(runlog.StepRecord{
			Step:     res.Name,
			Status:   string(res.Status),
			Optional: res.Optional,
			Message:  res.Message,
			Started:  res.Started,
			Finished: res.Finished,
		})

		if err == nil {
			continue
		}
		if !step.Optional {
			logger.Error("❌ Required step failed, aborting bootstrap",
				zap.String("step", step.Name),
				zap.Error(err))
			return results, &forge_err.StepFailedError{Step: step.Name, Cause: err}
		}
		logger.Warn("⚠️ Optional step failed, continuing",
			zap.String("step", step.Name),
			zap.Error(err))
		optionalErrs = multierror.Append(optionalErrs, err)
		failedOptional = append(failedOptional, step.Name)
	}

	if err := optionalErrs.ErrorOrNil(); err != nil {
		if len(optionalErrs.Errors) == 1 {
			err = optionalErrs.Errors[0]
		}
		return results, &forge_err.StepFailedError{
			Step:     strings.Join(failedOptional, ", "),
			Optional: true,
			Cause:    err,
		}
	}
	return results, nil
}

func (e *Executor) runStep(rc *forge_io.RuntimeContext, step Step) (res StepResult, err error) {
	ctx, span := telemetry.Start(rc.Ctx, "bootstrap.step."+step.Name,
		attribute.String("step", step.Name),
		attribute.Bool("optional", step.Optional))
	defer span.End()
	src := rc.WithContext(ctx)
	logger := otelzap.Ctx(ctx)

	res = StepResult{Name: step.Name, Optional: step.Optional, Started: e.now()}
	defer func() {
		res.Finished = e.now()
		span.SetAttributes(attribute.String("status", string(res.Status)))
		if err != nil {
			res.Status = StatusFailed
			res.Message = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = cerr.AssertionFailedf("panic in step %s: %v", step.Name, r)
		}
	}()

	// ASSESS
	before, perr := step.Probe(src)
	if perr != nil {
		// a probe that cannot run means the state is not there yet
		logger.Debug("Probe did not pass", zap.String("step", step.Name), zap.Error(perr))
	}
	if perr == nil && before.Satisfied {
		logger.Warn("⏭️ Already present, skipping", zap.String("step", step.Name), zap.String("detail", before.Detail))
		res.Status = StatusSkipped
		res.Detail = before.Detail
		return res, nil
	}

	// INTERVENE
	if err := step.Apply(src); err != nil {
		if cerr.Is(err, context.DeadlineExceeded) {
			return res, cerr.Wrapf(err, "%s timed out", step.Name)
		}
		return res, err
	}

	// EVALUATE
	after, perr := step.Probe(src)
	if perr != nil {
		return res, cerr.Wrapf(perr, "%s not in place after apply", step.Name)
	}
	if !after.Satisfied {
		return res, cerr.Newf("%s not in place after apply", step.Name)
	}
	logger.Info("✅ Step applied", zap.String("step", step.Name), zap.String("detail", after.Detail))
	res.Status = StatusApplied
	res.Detail = after.Detail
	return res, nil
}
