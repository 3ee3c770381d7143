// pkg/config/loader.go

package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultConfigFile is read when --config is not given. Its absence is not an error.
const DefaultConfigFile = "/etc/forge/forge.yaml"

// EnvPrefix namespaces the environment variables, e.g. FORGE_GITLAB_TOKEN.
const EnvPrefix = "FORGE"

// Sources says where parameters come from. Precedence, lowest first:
// defaults, config file, env file, environment, flags, prompts.
type Sources struct {
	ConfigFile         string
	ConfigFileRequired bool
	EnvFile            string
	Flags              *pflag.FlagSet
}

// Loaded is the merged, not yet validated result of all non-interactive sources.
type Loaded struct {
	Params         Params
	ConfigFileUsed string
	set            map[string]bool
}

// IsSet reports whether key was supplied by any source (defaults excluded).
func (l Loaded) IsSet(key string) bool {
	return l.set[key]
}

// FlagName converts a config key to its CLI flag, e.g. ssh_port -> ssh-port.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// RegisterFlags adds one flag per configuration key to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String(FlagName("user"), "", "operator account name (default \""+d.User+"\")")
	fs.String(FlagName("home"), "", "operator home directory (default /home/<user>)")
	fs.Int(FlagName("ssh_port"), 0, "SSH daemon port (default 22)")
	fs.String(FlagName("allow_cidr"), "", "CIDR allowed to reach SSH; empty allows every source")
	fs.String(FlagName("ssh_authorized_key"), "", "public key installed for the operator account")
	fs.String(FlagName("agent_platform"), "", "agent platform: none, gitlab or github (default \"none\")")
	fs.String(FlagName("agent_name"), "", "agent name (default hostname)")
	fs.String(FlagName("agent_labels"), "", "comma separated agent labels/tags")
	fs.String(FlagName("gitlab_url"), "", "GitLab instance URL")
	fs.String(FlagName("gitlab_token"), "", "GitLab runner authentication or registration token")
	fs.String(FlagName("gitlab_executor"), "", "gitlab-runner executor: shell or docker (default \"shell\")")
	fs.String(FlagName("github_owner"), "", "GitHub repository owner")
	fs.String(FlagName("github_repo"), "", "GitHub repository name")
	fs.String(FlagName("github_token"), "", "GitHub token allowed to create runner registration tokens")
	fs.String(FlagName("docker_version"), "", "docker version pin (default \"latest\")")
	fs.String(FlagName("terraform_version"), "", "terraform version pin (default \"latest\")")
	fs.String(FlagName("ansible_version"), "", "ansible version pin (default \"latest\")")
	fs.String(FlagName("gitlab_runner_version"), "", "gitlab-runner version pin (default \"latest\")")
	fs.String(FlagName("github_runner_version"), "", "actions runner version (default \"latest\")")
	fs.Duration(FlagName("network_timeout"), 0, "timeout for downloads and registration calls (default 5m)")
}

// Load merges every non-interactive source over Defaults(). It never touches host state.
func Load(src Sources) (Loaded, error) {
	if src.EnvFile != "" {
		// godotenv.Load never overrides variables already in the environment,
		// which keeps the real environment above the env file.
		if err := godotenv.Load(src.EnvFile); err != nil {
			return Loaded{}, cerr.Wrapf(err, "load env file %s", src.EnvFile)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for _, k := range Keys {
		if err := v.BindEnv(k); err != nil {
			return Loaded{}, cerr.Wrapf(err, "bind env for %s", k)
		}
	}

	loaded := Loaded{set: make(map[string]bool)}

	if src.ConfigFile != "" {
		v.SetConfigFile(src.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !isNotExist(err) || src.ConfigFileRequired {
				return Loaded{}, cerr.Wrapf(err, "read config file %s", src.ConfigFile)
			}
		} else {
			loaded.ConfigFileUsed = v.ConfigFileUsed()
		}
	}

	if src.Flags != nil {
		for _, k := range Keys {
			// Unchanged flags are not bound: their zero defaults would shadow Defaults().
			if f := src.Flags.Lookup(FlagName(k)); f != nil && f.Changed {
				if err := v.BindPFlag(k, f); err != nil {
					return Loaded{}, cerr.Wrapf(err, "bind flag %s", f.Name)
				}
			}
		}
	}

	p := Defaults()
	if err := v.Unmarshal(&p); err != nil {
		return Loaded{}, cerr.Wrap(err, "decode configuration")
	}
	loaded.Params = p

	for _, k := range Keys {
		if v.IsSet(k) {
			loaded.set[k] = true
		}
	}
	return loaded, nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	return errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)
}
