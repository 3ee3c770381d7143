/* cmd/sources.go */

package cmd

import (
	"github.com/CodeMonkeyCybersecurity/forge/pkg/bootstrap"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/config"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/httpclient"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/interaction"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/runlog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// sourceFlags are the parameter-source flags shared by bootstrap and check.
type sourceFlags struct {
	configFile     string
	envFile        string
	nonInteractive bool
	runLog         string
}

func (s *sourceFlags) register(fs *pflag.FlagSet) {
	config.RegisterFlags(fs)
	fs.StringVar(&s.configFile, "config", config.DefaultConfigFile, "YAML configuration file")
	fs.StringVar(&s.envFile, "env-file", "", "dotenv file with FORGE_* variables")
	fs.BoolVar(&s.nonInteractive, "non-interactive", false, "never prompt; fail on missing required values")
	fs.StringVar(&s.runLog, "run-log", runlog.DefaultPath, "JSON lines log of every step result")
}

// collect runs the parameter collector. Prompts are only offered on a
// terminal and never with --non-interactive.
func (s *sourceFlags) collect(rc *forge_io.RuntimeContext, cmd *cobra.Command) (config.BootstrapConfig, error) {
	prompter := interaction.NewPrompter(rc.Log)
	c := &config.Collector{
		Sources: config.Sources{
			ConfigFile:         s.configFile,
			ConfigFileRequired: cmd.Flags().Changed("config"),
			EnvFile:            s.envFile,
			Flags:              cmd.Flags(),
		},
		Prompter:    prompter,
		Interactive: !s.nonInteractive && prompter.Interactive(),
	}
	return c.Collect(rc)
}

// newHost wires the real machine for cfg.
func (s *sourceFlags) newHost(rc *forge_io.RuntimeContext, cfg config.BootstrapConfig) *bootstrap.Host {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.NetworkTimeout
	host := bootstrap.NewHost(execute.NewExecRunner(rc.Log), httpclient.New(httpCfg), cfg.NetworkTimeout)
	host.RunLogPath = s.runLog
	return host
}
