/* cmd/root.go */

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_cli"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logLevel string
	logFile  string
)

// RootCmd is the base command for forge.
var RootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Bootstrap a fresh Ubuntu host into a CI/CD control node",
	Long: `forge installs the CI toolchain (docker, terraform, ansible), applies a firewall,
fail2ban and SSH hardening baseline, and optionally registers the host as a GitLab
or GitHub runner. Every step checks the host first, so re-running forge after an
interrupted or failed run only does the work that is still missing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := logger.DefaultConfig()
		if cmd.Flags().Changed("log-level") {
			cfg.Level = logLevel
		}
		if cmd.Flags().Changed("log-file") {
			cfg.File = logFile
		}
		if _, err := logger.Init(cfg); err != nil {
			zap.L().Warn("File logging disabled", zap.String("path", cfg.File), zap.Error(err))
		}
		return nil
	},
	RunE: forge_cli.Wrap(func(rc *forge_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}),
}

func init() {
	d := logger.DefaultConfig()
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", d.Level, "log level: debug, info, warn or error (env FORGE_LOG_LEVEL)")
	RootCmd.PersistentFlags().StringVar(&logFile, "log-file", d.File, "JSON log file; empty disables file logging")
}

// RegisterCommands adds all subcommands to the root command.
func RegisterCommands() {
	for _, sub := range []*cobra.Command{
		BootstrapCmd,
		CheckCmd,
		RestoreCmd,
		VersionCmd,
	} {
		if !hasCommand(RootCmd, sub.Name()) {
			RootCmd.AddCommand(sub)
		}
	}
}

func hasCommand(parent *cobra.Command, name string) bool {
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := telemetry.Init("forge"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Telemetry disabled: %v\n", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(ctx)
		_ = logger.Sync()
	}()

	RegisterCommands()

	// An interrupted run leaves a partially configured host; the next run resumes it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := RootCmd.ExecuteContext(ctx)
	code := forge_err.ExitCode(err)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		if hint := cerr.FlattenHints(err); hint != "" {
			fmt.Fprintf(os.Stderr, "   %s\n", hint)
		}
	}
	return code
}
