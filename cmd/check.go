/* cmd/check.go */

package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/bootstrap"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_cli"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/output"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/runlog"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var (
	checkSources sourceFlags
	checkOutput  string
)

// CheckCmd probes every step without changing the host.
var CheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Show which bootstrap steps are already in place",
	Long: `Runs the privilege guard and every presence probe of the bootstrap sequence
without applying anything, then prints what a bootstrap run would do. The most
recent run from the run log is shown below the plan.`,
	Example: `  sudo forge check --user ci
  sudo forge check --config /etc/forge/forge.yaml --non-interactive --output json`,
	Args: cobra.NoArgs,
	RunE: forge_cli.Wrap(runCheck),
}

func init() {
	checkSources.register(CheckCmd.Flags())
	CheckCmd.Flags().StringVarP(&checkOutput, "output", "o", "table", "output format: table or json")
}

// checkResult is the JSON shape of `forge check --output json`.
type checkResult struct {
	Platform string                  `json:"platform"`
	Steps    []bootstrap.PlannedStep `json:"steps"`
	LastRun  []runlog.Entry          `json:"last_run,omitempty"`
}

func runCheck(rc *forge_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	logger := otelzap.Ctx(rc.Ctx)

	if checkOutput != "table" && checkOutput != "json" {
		return forge_err.NewValidationError(
			fmt.Sprintf("unknown output format %q", checkOutput),
			"use --output table or --output json",
		)
	}

	cfg, err := checkSources.collect(rc, cmd)
	if err != nil {
		return err
	}

	host := checkSources.newHost(rc, cfg)
	plan, rel, err := bootstrap.New(host).Plan(rc, cfg)
	if err != nil {
		return err
	}

	last, err := bootstrap.LastRun(checkSources.runLog)
	if err != nil {
		logger.Debug("No previous run recorded", zap.String("path", checkSources.runLog), zap.Error(err))
	}

	res := checkResult{Platform: rel.PrettyName, Steps: plan, LastRun: last}
	if res.Platform == "" {
		res.Platform = rel.ID + " " + rel.Codename
	}

	if checkOutput == "json" {
		return output.JSONTo(os.Stdout, res)
	}
	return renderCheck(os.Stdout, res)
}

func renderCheck(w io.Writer, res checkResult) error {
	fmt.Fprintf(w, "Host: %s\n\n", res.Platform)

	pending := 0
	t := output.NewTableTo(w).WithHeaders("STEP", "STATE", "DETAIL")
	for _, s := range res.Steps {
		state := "present"
		detail := s.Detail
		if !s.Satisfied {
			state = "pending"
			pending++
			if s.Reason != "" {
				detail = s.Reason
			}
		}
		if s.Optional {
			state += " (optional)"
		}
		t.AddRow(s.Name, state, detail)
	}
	if err := t.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d of %d steps would be applied.\n", pending, len(res.Steps))

	if len(res.LastRun) == 0 {
		return nil
	}
	first := res.LastRun[0]
	fmt.Fprintf(w, "\nLast run %s (%s):\n", first.RunID, first.Time.Format("2006-01-02 15:04:05"))
	lt := output.NewTableTo(w).WithHeaders("STEP", "STATUS", "MESSAGE")
	for _, e := range res.LastRun {
		switch e.Event {
		case runlog.EventStep:
			lt.AddRow(e.Step, e.Status, e.Message)
		case runlog.EventRunFinished:
			lt.AddRow("(exit)", strconv.Itoa(e.ExitCode), "")
		}
	}
	return lt.Render()
}
