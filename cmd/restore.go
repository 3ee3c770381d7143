/* cmd/restore.go */

package cmd

import (
	"path/filepath"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/configedit"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_cli"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/privilege_check"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/security"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/systemd"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var restoreSuffix string

// RestoreCmd puts a pre-bootstrap config file back in place.
var RestoreCmd = &cobra.Command{
	Use:   "restore <path>",
	Short: "Restore a configuration file from the backup taken on first edit",
	Long: `Before forge edits a configuration file for the first time it saves the
original next to it (for example /etc/ssh/sshd_config.forge.bak). restore copies
that backup back over the file. The backup itself is kept. Restoring the sshd
configuration or one of its drop-ins also restarts ssh (and ssh.socket where
sshd is socket activated).`,
	Example: `  sudo forge restore /etc/ssh/sshd_config
  sudo forge restore /etc/ssh/sshd_config.d/50-cloud-init.conf`,
	Args: cobra.ExactArgs(1),
	RunE: forge_cli.Wrap(runRestore),
}

func init() {
	RestoreCmd.Flags().StringVar(&restoreSuffix, "suffix", configedit.DefaultBackupSuffix, "backup file suffix")
}

func runRestore(rc *forge_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	logger := otelzap.Ctx(rc.Ctx)

	if _, err := privilege_check.CheckPrivilege(rc, privilege_check.DefaultChecker()); err != nil {
		return err
	}

	path := filepath.Clean(args[0])
	if err := configedit.Restore(rc, path, restoreSuffix); err != nil {
		return err
	}

	if isSSHDConfig(path) {
		runner := execute.NewExecRunner(rc.Log)
		sshd := &security.SSHHardener{Runner: runner, Services: systemd.NewManager(runner)}
		if err := sshd.Restart(rc); err != nil {
			return err
		}
		logger.Info("🔄 ssh restarted with restored configuration")
	}

	logger.Info("✅ Restore complete", zap.String("path", path))
	return nil
}

// isSSHDConfig matches the main sshd config and its drop-ins.
func isSSHDConfig(path string) bool {
	return path == security.SSHDConfigPath || filepath.Dir(path) == security.SSHDConfigPath+".d"
}
