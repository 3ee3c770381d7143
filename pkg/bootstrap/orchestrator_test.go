package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/agent"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/config"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/configedit"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/docker"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/httpclient"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/packages/packagestest"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/platform"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/privilege_check"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/runlog"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/security"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/security/securitytest"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/systemd"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/testutil"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/tools"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/users/userstest"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stockSSHD = `Include /etc/ssh/sshd_config.d/*.conf
#Port 22
#PermitRootLogin prohibit-password
KbdInteractiveAuthentication no
UsePAM yes
X11Forwarding yes
Subsystem sftp /usr/lib/openssh/sftp-server
`

const nobleRelease = `PRETTY_NAME="Ubuntu 24.04.1 LTS"
NAME="Ubuntu"
VERSION_ID="24.04"
VERSION_CODENAME=noble
ID=ubuntu
ID_LIKE=debian
UBUNTU_CODENAME=noble
`

const operatorKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIGZvcmdldGVzdGtleQ ci@laptop"

// fakeDaemon answers API pings once docker-ce is installed.
type fakeDaemon struct {
	src *packagestest.FakeSource
}

func (d fakeDaemon) Probe(context.Context) (docker.DaemonInfo, error) {
	if !d.src.IsInstalled("docker-ce") {
		return docker.DaemonInfo{}, errors.New("Cannot connect to the Docker daemon at unix:///var/run/docker.sock")
	}
	return docker.DaemonInfo{Version: "27.3.1", APIVersion: "1.47", OS: "linux", Arch: "amd64"}, nil
}

// fakeHost is an in-memory machine: packages, accounts and firewall live in
// fakes, files live under a temp dir.
type fakeHost struct {
	dir      string
	src      *packagestest.FakeSource
	runner   *testutil.FakeRunner
	accounts *userstest.FakeAccounts
	fw       *securitytest.MemFirewall
	host     *Host
	runLog   string
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	dir := t.TempDir()
	src := packagestest.NewFakeSource()
	runner := testutil.NewFakeRunner()
	accounts := userstest.NewFakeAccounts()
	fw := securitytest.NewMemFirewall()
	services := systemd.NewManager(runner)

	installedTool := func(pkg, out string) testutil.Handler {
		return func(execute.Options) (string, error) {
			if !src.IsInstalled(pkg) {
				return "", exec.ErrNotFound
			}
			return out, nil
		}
	}
	runner.On("docker --version", installedTool("docker-ce", "Docker version 27.3.1, build ce12230\n"))
	runner.On("terraform version", installedTool("terraform", "Terraform v1.9.8\non linux_amd64\n"))
	runner.On("ansible --version", installedTool("ansible", "ansible [core 2.17.5]\n  python version = 3.12.3\n"))
	runner.On("gitlab-runner --version", installedTool("gitlab-runner", "Version:      17.5.2\n"))
	runner.On("dpkg-query", func(o execute.Options) (string, error) {
		name := o.Args[len(o.Args)-1]
		if !src.IsInstalled(name) {
			return "", errors.New("no packages found matching " + name)
		}
		return src.Version(name), nil
	})
	unitPackage := map[string]string{
		"docker":        "docker-ce",
		"containerd":    "containerd.io",
		"gitlab-runner": "gitlab-runner",
	}
	runner.On("systemctl is-active", func(o execute.Options) (string, error) {
		unit := o.Args[len(o.Args)-1]
		if pkg, ok := unitPackage[unit]; ok && src.IsInstalled(pkg) {
			return "active", nil
		}
		return "inactive", errors.New("exit status 3")
	})

	sshd := testutil.CreateTestFile(t, dir, "etc/ssh/sshd_config", stockSSHD, 0644)
	osRelease := testutil.CreateTestFile(t, dir, "etc/os-release", nobleRelease, 0644)

	h := &fakeHost{
		dir:      dir,
		src:      src,
		runner:   runner,
		accounts: accounts,
		fw:       fw,
		runLog:   filepath.Join(dir, "var/log/forge/runs.jsonl"),
	}
	h.host = &Host{
		Runner:    runner,
		Privilege: privilege_check.Checker{Geteuid: func() int { return 0 }},
		Packages:  src,
		Accounts:  accounts,
		Firewall:  fw,
		IPS:       &security.Fail2ban{Services: services, Dir: filepath.Join(dir, "etc/fail2ban/jail.d")},
		Services:  services,
		Tools:     &tools.Installer{Runner: runner, Source: src, Services: services},
		Docker:    fakeDaemon{src: src},
		Mutator:   configedit.NewMutator(),
		Agent: agent.Deps{
			HTTP:             httpclient.New(httpclient.Config{Timeout: 2 * time.Second, RetryDelay: time.Millisecond}),
			GitLabConfigPath: filepath.Join(dir, "etc/gitlab-runner/config.toml"),
		},
		OSReleasePath:   osRelease,
		SSHDConfigPath:  sshd,
		SSHDIncludeRoot: dir,
	}
	return h
}

// newProcess simulates a fresh forge invocation on the same machine.
func (h *fakeHost) newProcess(t *testing.T) *Orchestrator {
	t.Helper()
	rec, err := runlog.Open(h.runLog, "bootstrap")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rec.Finish(0) })
	host := *h.host
	host.Mutator = configedit.NewMutator()
	host.Recorder = rec
	return New(&host)
}

func (h *fakeHost) config() config.BootstrapConfig {
	return config.BootstrapConfig{
		User:             "ci",
		Home:             filepath.Join(h.dir, "home/ci"),
		SSHPort:          22,
		SSHAuthorizedKey: operatorKey,
		Agent:            config.NoAgent{},
		Versions: config.ToolVersions{
			Docker:    config.VersionLatest,
			Terraform: config.VersionLatest,
			Ansible:   config.VersionLatest,
		},
		NetworkTimeout: 5 * time.Minute,
	}
}

func statuses(results []StepResult) map[string]Status {
	out := make(map[string]Status, len(results))
	for _, r := range results {
		out[r.Name] = r.Status
	}
	return out
}

func backups(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "etc/ssh/sshd_config*"+configedit.DefaultBackupSuffix))
	require.NoError(t, err)
	return matches
}

func TestBootstrapTwiceIsIdempotent(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	h := newFakeHost(t)
	cfg := h.config()

	first, err := h.newProcess(t).Bootstrap(rc, cfg)
	require.NoError(t, err)
	assert.Equal(t, forge_err.ExitOK, forge_err.ExitCode(err))
	assert.Equal(t, map[string]Status{
		StepPackageIndex:      StatusApplied,
		StepAccount:           StatusApplied,
		StepSecurityBaseline:  StatusApplied,
		StepSSHHardening:      StatusApplied,
		StepContainerRuntime:  StatusApplied,
		StepProvisioningTool:  StatusApplied,
		StepConfigurationTool: StatusApplied,
		StepWorkspace:         StatusApplied,
		StepAgent:             StatusSkipped,
	}, statuses(first.Results))
	assert.Equal(t, "ubuntu", first.Release.ID)
	assert.Equal(t, "noble", first.Release.Codename)

	second, err := h.newProcess(t).Bootstrap(rc, cfg)
	require.NoError(t, err)
	require.Len(t, second.Results, 9)
	for _, r := range second.Results {
		assert.Equal(t, StatusSkipped, r.Status, r.Name)
	}
	assert.NotEqual(t, first.RunID, second.RunID)

	assert.Equal(t, 1, h.accounts.Creates)
	assert.Len(t, h.fw.Rules(), 1)
	assert.Equal(t, 1, h.src.InstallCount("docker-ce"))
	assert.Equal(t, 1, h.src.InstallCount("terraform"))
	assert.Equal(t, 1, h.src.InstallCount("ansible"))
	assert.Equal(t, 1, h.runner.Count("systemctl restart ssh"))

	bak := backups(t, h.dir)
	require.Len(t, bak, 1)
	testutil.AssertFileContent(t, bak[0], stockSSHD)

	inDocker, _ := h.accounts.InGroup("ci", DockerGroup)
	assert.True(t, inDocker)
	data, err := os.ReadFile(filepath.Join(cfg.Home, ".ssh", "authorized_keys"))
	require.NoError(t, err)
	assert.Equal(t, operatorKey+"\n", string(data))
	for _, d := range []string{"terraform", "ansible", "pipelines", "artifacts"} {
		assert.DirExists(t, filepath.Join(cfg.WorkspaceDir(), d))
	}
}

func TestBackupSurvivesLaterEdits(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	h := newFakeHost(t)
	cfg := h.config()

	_, err := h.newProcess(t).Bootstrap(rc, cfg)
	require.NoError(t, err)

	// a different port forces a second edit of sshd_config
	cfg.SSHPort = 2222
	run, err := h.newProcess(t).Bootstrap(rc, cfg)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, statuses(run.Results)[StepSSHHardening])

	bak := backups(t, h.dir)
	require.Len(t, bak, 1)
	testutil.AssertFileContent(t, bak[0], stockSSHD)
}

func TestContainerRuntimeFailureAborts(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	h := newFakeHost(t)
	h.src.FailInstall["docker-ce"] = errors.New("download.docker.com: connection timed out")

	run, err := h.newProcess(t).Bootstrap(rc, h.config())
	require.Error(t, err)
	assert.Equal(t, forge_err.ExitFatalStep, forge_err.ExitCode(err))

	var ife *forge_err.InstallationFailedError
	require.True(t, cerr.As(err, &ife))
	assert.Equal(t, "docker", ife.Tool)

	require.Len(t, run.Results, 5)
	last := run.Results[len(run.Results)-1]
	assert.Equal(t, StepContainerRuntime, last.Name)
	assert.Equal(t, StatusFailed, last.Status)
	_, reached := statuses(run.Results)[StepProvisioningTool]
	assert.False(t, reached)
	assert.False(t, h.src.IsInstalled("terraform"))
}

func gitlabConfig(h *fakeHost) config.BootstrapConfig {
	cfg := h.config()
	cfg.Agent = config.GitLabAgent{
		URL:      "https://gitlab.example.com",
		Token:    "glrt-secret-token",
		Executor: "shell",
		Tags:     []string{"forge"},
		Name:     "ci-01",
		Version:  config.VersionLatest,
	}
	return cfg
}

func TestAgentRegistrationFailureIsReported(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	h := newFakeHost(t)
	h.runner.OnError("gitlab-runner register", errors.New("403 Forbidden"))

	run, err := h.newProcess(t).Bootstrap(rc, gitlabConfig(h))
	require.Error(t, err)
	assert.Equal(t, forge_err.ExitOptionalStep, forge_err.ExitCode(err))
	var regErr *forge_err.RegistrationError
	require.True(t, cerr.As(err, &regErr))
	assert.Equal(t, "gitlab", regErr.Platform)

	require.Len(t, run.Results, 9)
	for _, r := range run.Results[:8] {
		assert.NotEqual(t, StatusFailed, r.Status, r.Name)
	}
	agentRes := run.Results[8]
	assert.Equal(t, StatusFailed, agentRes.Status)
	assert.True(t, agentRes.Optional)
	assert.NotContains(t, agentRes.Message, "glrt-secret-token")

	// only the selected installer ran
	assert.False(t, h.runner.Ran("sudo -u ci -- ./config.sh"))
	assert.False(t, h.runner.Ran("./svc.sh"))
}

func TestGitLabAgentInstalledOnce(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	h := newFakeHost(t)
	cfgPath := h.host.Agent.GitLabConfigPath
	h.runner.On("gitlab-runner register", func(execute.Options) (string, error) {
		require.NoError(t, os.MkdirAll(filepath.Dir(cfgPath), 0700))
		body := "[[runners]]\n  name = \"ci-01\"\n  url = \"https://gitlab.example.com\"\n  id = 7\n  executor = \"shell\"\n"
		return "Runner registered successfully.", os.WriteFile(cfgPath, []byte(body), 0600)
	})

	run, err := h.newProcess(t).Bootstrap(rc, gitlabConfig(h))
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, statuses(run.Results)[StepAgent])

	run, err = h.newProcess(t).Bootstrap(rc, gitlabConfig(h))
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, statuses(run.Results)[StepAgent])
	assert.Equal(t, 1, h.runner.Count("gitlab-runner register"))
}

func TestStepsSelectOneAgent(t *testing.T) {
	h := newFakeHost(t)
	rel := &platform.Release{ID: "ubuntu", Codename: "noble", Arch: "amd64", Supported: true}
	cases := map[config.AgentPlatform]config.AgentSpec{
		config.PlatformNone:   config.NoAgent{},
		config.PlatformGitLab: config.GitLabAgent{URL: "https://gitlab.example.com", Token: "t", Name: "n"},
		config.PlatformGitHub: config.GitHubAgent{Owner: "o", Repo: "r", Token: "t", Name: "n"},
	}
	for want, spec := range cases {
		cfg := h.config()
		cfg.Agent = spec
		steps := New(h.host).Steps(cfg, rel)

		var agents []Step
		for _, s := range steps {
			if s.Name == StepAgent {
				agents = append(agents, s)
			}
		}
		require.Len(t, agents, 1, want)
		assert.True(t, agents[0].Optional)
		assert.Equal(t, fmt.Sprintf("Install %s agent", want), agents[0].Description)
	}
}

func TestInsufficientPrivilegeStopsBeforeMutation(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	h := newFakeHost(t)
	h.host.Privilege = privilege_check.Checker{Geteuid: func() int { return 1000 }}

	run, err := h.newProcess(t).Bootstrap(rc, h.config())
	require.Error(t, err)
	assert.Equal(t, forge_err.ExitPrivilege, forge_err.ExitCode(err))
	assert.Empty(t, run.Results)
	assert.Empty(t, h.runner.Commands())
	assert.Empty(t, h.src.Installs)
}

func TestUnknownPlatformIsNotFatal(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	h := newFakeHost(t)
	h.host.OSReleasePath = testutil.CreateTestFile(t, h.dir, "etc/os-release", "ID=fedora\nVERSION_ID=40\n", 0644)

	run, err := h.newProcess(t).Bootstrap(rc, h.config())
	require.NoError(t, err)
	assert.False(t, run.Release.Supported)
	assert.Equal(t, DefaultCodename, run.Release.Codename)
	assert.Equal(t, "noble", h.src.Repos["docker"].Suite)
}

func TestPlanDoesNotMutate(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	h := newFakeHost(t)
	cfg := h.config()

	plan, _, err := New(h.host).Plan(rc, cfg)
	require.NoError(t, err)
	require.Len(t, plan, 9)
	for _, p := range plan {
		if p.Name == StepAgent {
			assert.True(t, p.Satisfied)
			continue
		}
		assert.False(t, p.Satisfied, p.Name)
	}
	assert.Empty(t, h.src.Installs)
	assert.Zero(t, h.accounts.Creates)
	assert.Empty(t, backups(t, h.dir))
	testutil.AssertFileContent(t, h.host.SSHDConfigPath, stockSSHD)

	_, err = h.newProcess(t).Bootstrap(rc, cfg)
	require.NoError(t, err)
	plan, _, err = New(h.host).Plan(rc, cfg)
	require.NoError(t, err)
	for _, p := range plan {
		assert.True(t, p.Satisfied, p.Name)
	}
}

func TestRunLogCapturesEveryStep(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	h := newFakeHost(t)
	orch := h.newProcess(t)

	run, err := orch.Bootstrap(rc, h.config())
	require.NoError(t, err)
	require.NoError(t, orch.Host.Recorder.Finish(0))

	entries, err := LastRun(h.runLog)
	require.NoError(t, err)
	var steps []string
	for _, e := range entries {
		if e.Event == runlog.EventStep {
			assert.Equal(t, run.RunID, e.RunID)
			steps = append(steps, e.Step)
		}
	}
	assert.Equal(t, []string{
		StepPackageIndex, StepAccount, StepSecurityBaseline, StepSSHHardening,
		StepContainerRuntime, StepProvisioningTool, StepConfigurationTool,
		StepWorkspace, StepAgent,
	}, steps)
}

func TestRunLogOpenedAfterGuard(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	h := newFakeHost(t)
	h.host.RunLogPath = h.runLog
	h.host.Privilege = privilege_check.Checker{Geteuid: func() int { return 1000 }}

	_, err := New(h.host).Bootstrap(rc, h.config())
	require.Error(t, err)
	assert.NoFileExists(t, h.runLog)

	h.host.Privilege = privilege_check.Checker{Geteuid: func() int { return 0 }}
	run, err := New(h.host).Bootstrap(rc, h.config())
	require.NoError(t, err)

	entries, err := LastRun(h.runLog)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, run.RunID, entries[0].RunID)
	assert.Equal(t, runlog.EventRunStarted, entries[0].Event)
	assert.Equal(t, runlog.EventRunFinished, entries[len(entries)-1].Event)
}
