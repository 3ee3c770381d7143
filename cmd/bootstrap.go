/* cmd/bootstrap.go */

package cmd

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/bootstrap"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_cli"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/report"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var (
	bootstrapSources sourceFlags
	reportFile       string
)

// BootstrapCmd runs the full bootstrap sequence.
var BootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Bootstrap this host into a CI/CD control node",
	Long: `Runs, in order: package index refresh, operator account, firewall and fail2ban
baseline, SSH hardening, docker, terraform, ansible, working directories and the
optional GitLab or GitHub runner. Steps whose target state is already present are
skipped, so the command is safe to re-run.

Exit codes: 0 success, 10 not root, 20 missing or invalid parameter,
30 a required step failed, 40 only the agent step failed.`,
	Example: `  sudo forge bootstrap --user ci --allow-cidr 10.0.0.0/8
  sudo forge bootstrap --config /etc/forge/forge.yaml --non-interactive --report-file /root/forge-report.yaml
  sudo FORGE_GITLAB_TOKEN=glrt-... forge bootstrap --agent-platform gitlab --gitlab-url https://gitlab.example.com`,
	Args: cobra.NoArgs,
	RunE: forge_cli.Wrap(runBootstrap),
}

func init() {
	bootstrapSources.register(BootstrapCmd.Flags())
	BootstrapCmd.Flags().StringVar(&reportFile, "report-file", "", "also write a YAML report to this path")
}

func runBootstrap(rc *forge_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	logger := otelzap.Ctx(rc.Ctx)

	cfg, err := bootstrapSources.collect(rc, cmd)
	if err != nil {
		return err
	}

	host := bootstrapSources.newHost(rc, cfg)
	run, runErr := bootstrap.New(host).Bootstrap(rc, cfg)

	rep := report.Build(run)
	if err := rep.Render(os.Stdout); err != nil {
		logger.Warn("Failed to render report", zap.Error(err))
	}
	if reportFile != "" {
		if err := rep.WriteYAML(reportFile); err != nil {
			logger.Error("Failed to write report file", zap.String("path", reportFile), zap.Error(err))
		} else {
			logger.Info("Report written", zap.String("path", reportFile))
		}
	}
	return runErr
}
