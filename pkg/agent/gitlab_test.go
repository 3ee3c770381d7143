package agent

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/config"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/httpclient"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/packages/packagestest"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/systemd"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/testutil"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/tools"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/users/userstest"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	src      *packagestest.FakeSource
	runner   *testutil.FakeRunner
	accounts *userstest.FakeAccounts
	deps     Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	src := packagestest.NewFakeSource()
	runner := testutil.NewFakeRunner()
	accounts := userstest.NewFakeAccounts()
	services := systemd.NewManager(runner)
	return &testEnv{
		src:      src,
		runner:   runner,
		accounts: accounts,
		deps: Deps{
			Runner:           runner,
			Tools:            &tools.Installer{Runner: runner, Source: src, Services: services},
			Accounts:         accounts,
			Services:         services,
			HTTP:             httpclient.New(httpclient.Config{Timeout: 5 * time.Second, RetryDelay: time.Millisecond}),
			Codename:         "noble",
			Arch:             "amd64",
			GitLabConfigPath: filepath.Join(t.TempDir(), "config.toml"),
		},
	}
}

func gitlabSpec() config.GitLabAgent {
	return config.GitLabAgent{
		URL:      "https://gitlab.example.com/",
		Token:    "GR1348941legacy",
		Executor: "shell",
		Tags:     []string{"forge", "linux"},
		Name:     "ci-01",
		Version:  "latest",
	}
}

// gitlabHost makes gitlab-runner appear once its package is installed and
// writes config.toml on successful registration.
func (e *testEnv) gitlabHost(registerErr error) {
	e.runner.On("gitlab-runner --version", func(execute.Options) (string, error) {
		if !e.src.IsInstalled("gitlab-runner") {
			return "", exec.ErrNotFound
		}
		return "Version:      17.5.2\n", nil
	})
	e.runner.On("systemctl is-active gitlab-runner", func(execute.Options) (string, error) {
		if !e.src.IsInstalled("gitlab-runner") {
			return "inactive", errors.New("exit status 3")
		}
		return "active", nil
	})
	e.runner.On("gitlab-runner register", func(o execute.Options) (string, error) {
		if registerErr != nil {
			return "ERROR: Registering runner... failed", registerErr
		}
		toml := fmt.Sprintf("concurrent = 1\n\n[[runners]]\n  name = %q\n  url = %q\n  id = 42\n  token = \"glrt-issued\"\n  executor = \"shell\"\n",
			"ci-01", "https://gitlab.example.com")
		return "Runner registered successfully.", os.WriteFile(e.deps.GitLabConfigPath, []byte(toml), 0600)
	})
}

func TestRegisterArgs(t *testing.T) {
	spec := gitlabSpec()
	assert.Equal(t, []string{
		"register", "--non-interactive",
		"--url", "https://gitlab.example.com/",
		"--name", "ci-01",
		"--executor", "shell",
		"--registration-token", "GR1348941legacy",
		"--tag-list", "forge,linux",
	}, RegisterArgs(spec))

	spec.Token = "glrt-abc"
	spec.Executor = "docker"
	args := RegisterArgs(spec)
	assert.Contains(t, args, "glrt-abc")
	assert.NotContains(t, args, "--tag-list")
	assert.Equal(t, []string{"--docker-image", DefaultDockerImage}, args[len(args)-2:])
}

func TestGitLabInstallRegistersOnce(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	env := newTestEnv(t)
	env.gitlabHost(nil)
	inst := Select(config.BootstrapConfig{User: "ci", Agent: gitlabSpec()}, env.deps)
	require.Equal(t, config.PlatformGitLab, inst.Platform())

	ok, err := inst.Installed(rc)
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := inst.Install(rc)
	require.NoError(t, err)
	assert.Equal(t, "42", id.ID)
	assert.Equal(t, "ci-01", id.Name)

	inGroup, _ := env.accounts.InGroup("gitlab-runner", "docker")
	assert.True(t, inGroup)

	ok, err = inst.Installed(rc)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = inst.Install(rc)
	require.NoError(t, err)
	assert.Equal(t, 1, env.runner.Count("gitlab-runner register"))
	assert.Equal(t, 1, env.src.InstallCount("gitlab-runner"))
}

func TestGitLabRegistrationFailure(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	env := newTestEnv(t)
	env.gitlabHost(errors.New("exit status 1"))
	inst := Select(config.BootstrapConfig{User: "ci", Agent: gitlabSpec()}, env.deps)

	_, err := inst.Install(rc)
	require.Error(t, err)

	var re *forge_err.RegistrationError
	require.True(t, cerr.As(err, &re))
	assert.Equal(t, "gitlab", re.Platform)
	assert.Equal(t, forge_err.ExitOptionalStep,
		forge_err.ExitCode(&forge_err.StepFailedError{Step: "agent", Optional: true, Cause: err}))
}

func TestSelectIsExclusive(t *testing.T) {
	deps := Deps{}
	assert.IsType(t, NoAgent{}, Select(config.BootstrapConfig{Agent: config.NoAgent{}}, deps))
	assert.IsType(t, NoAgent{}, Select(config.BootstrapConfig{}, deps))
	assert.IsType(t, &GitLabRunner{}, Select(config.BootstrapConfig{Agent: gitlabSpec()}, deps))
	assert.IsType(t, &GitHubRunner{}, Select(config.BootstrapConfig{Agent: config.GitHubAgent{Owner: "o", Repo: "r"}}, deps))
}

func TestNoAgentIsAlwaysSatisfied(t *testing.T) {
	ok, err := NoAgent{}.Installed(forge_io.NewTestContext(nil))
	require.NoError(t, err)
	assert.True(t, ok)
}
