package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/interaction"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeFile(t, dir, "forge.yaml", `
user: deploy
ssh_port: 2200
allow_cidr: 10.0.0.0/8
agent_platform: gitlab
gitlab_url: https://gitlab.example.com
terraform_version: 1.9.5
network_timeout: 90s
`)
	t.Setenv("FORGE_SSH_PORT", "2222")
	t.Setenv("FORGE_GITLAB_TOKEN", "glrt-from-env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--user", "builder"}))

	loaded, err := Load(Sources{ConfigFile: cfgFile, Flags: fs})
	require.NoError(t, err)

	p := loaded.Params
	assert.Equal(t, "builder", p.User, "flag beats file")
	assert.Equal(t, 2222, p.SSHPort, "env beats file")
	assert.Equal(t, "10.0.0.0/8", p.AllowCIDR)
	assert.Equal(t, "glrt-from-env", p.GitLabToken)
	assert.Equal(t, "1.9.5", p.TerraformVersion)
	assert.Equal(t, VersionLatest, p.DockerVersion, "defaults survive")
	assert.Equal(t, 90*time.Second, p.NetworkTimeout)
	assert.Equal(t, cfgFile, loaded.ConfigFileUsed)

	assert.True(t, loaded.IsSet("user"))
	assert.True(t, loaded.IsSet("gitlab_token"))
	assert.False(t, loaded.IsSet("docker_version"))

	cfg, err := p.Build()
	require.NoError(t, err)
	assert.Equal(t, PlatformGitLab, cfg.AgentPlatform())
}

func TestLoadMissingDefaultFileIsFine(t *testing.T) {
	loaded, err := Load(Sources{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml")})
	require.NoError(t, err)
	assert.Equal(t, "ci", loaded.Params.User)
	assert.Empty(t, loaded.ConfigFileUsed)
}

func TestLoadMissingRequiredFileFails(t *testing.T) {
	_, err := Load(Sources{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml"), ConfigFileRequired: true})
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, "forge.env", "FORGE_AGENT_PLATFORM=github\nFORGE_GITHUB_OWNER=acme\nFORGE_GITHUB_REPO=infra\nFORGE_GITHUB_TOKEN=ghp_x\n")
	t.Cleanup(func() {
		for _, k := range []string{"FORGE_AGENT_PLATFORM", "FORGE_GITHUB_OWNER", "FORGE_GITHUB_REPO", "FORGE_GITHUB_TOKEN"} {
			os.Unsetenv(k)
		}
	})

	loaded, err := Load(Sources{EnvFile: envFile})
	require.NoError(t, err)

	cfg, err := loaded.Params.Build()
	require.NoError(t, err)
	gh, ok := cfg.Agent.(GitHubAgent)
	require.True(t, ok)
	assert.Equal(t, "acme", gh.Owner)
}

func TestCollectInteractive(t *testing.T) {
	t.Setenv("FORGE_USER", "ops")

	input := strings.Join([]string{
		"2222",                       // ssh port
		"192.168.0.0/16",             // allow cidr
		"2",                          // gitlab
		"https://gitlab.example.com", // url
		"glrt-typed",                 // token
	}, "\n") + "\n"

	c := &Collector{
		Sources:     Sources{},
		Prompter:    &interaction.Prompter{In: strings.NewReader(input), Out: &strings.Builder{}},
		Interactive: true,
	}

	cfg, err := c.Collect(forge_io.NewTestContext(nil))
	require.NoError(t, err)

	assert.Equal(t, "ops", cfg.User, "values from env are not prompted for")
	assert.Equal(t, 2222, cfg.SSHPort)
	assert.Equal(t, "192.168.0.0/16", cfg.AllowCIDR)
	gl, ok := cfg.Agent.(GitLabAgent)
	require.True(t, ok)
	assert.Equal(t, "glrt-typed", gl.Token)
}

func TestCollectNonInteractiveMissingToken(t *testing.T) {
	t.Setenv("FORGE_AGENT_PLATFORM", "gitlab")
	t.Setenv("FORGE_GITLAB_URL", "https://gitlab.example.com")

	c := &Collector{Sources: Sources{}}
	_, err := c.Collect(forge_io.NewTestContext(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"gitlab_token"`)
}

func TestCollectRejectsNonNumericPort(t *testing.T) {
	t.Setenv("FORGE_USER", "ops")

	c := &Collector{
		Prompter:    &interaction.Prompter{In: strings.NewReader("twenty-two\n"), Out: &strings.Builder{}},
		Interactive: true,
	}
	_, err := c.Collect(forge_io.NewTestContext(nil))
	require.Error(t, err)

	var invalid *forge_err.InvalidFieldError
	require.True(t, cerr.As(err, &invalid), "got %v", err)
	assert.Equal(t, "ssh_port", invalid.Field)
	assert.Equal(t, forge_err.ExitInvalidParameter, forge_err.ExitCode(err))
}
