package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/config"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runnerUnit = "actions.runner.acme-infra.ci-01.service"

type fakeGitHub struct {
	mu            sync.Mutex
	tokenRequests int
	downloads     int
	denyToken     bool
}

func (f *fakeGitHub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/actions/runner/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"tag_name": "v2.321.0"})
	})
	mux.HandleFunc("/actions/runner/releases/download/v2.321.0/actions-runner-linux-x64-2.321.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.downloads++
		f.mu.Unlock()
		_, _ = w.Write([]byte("tarball"))
	})
	mux.HandleFunc("/repos/acme/infra/actions/runners/registration-token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer ghp_pat", r.Header.Get("Authorization"))
		f.mu.Lock()
		f.tokenRequests++
		deny := f.denyToken
		f.mu.Unlock()
		if deny {
			http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "AREGTOKEN", "expires_at": "2030-01-01T00:00:00Z"})
	})
	return mux
}

func githubSpec() config.GitHubAgent {
	return config.GitHubAgent{
		Owner:   "acme",
		Repo:    "infra",
		Token:   "ghp_pat",
		Labels:  []string{"forge", "linux", "amd64"},
		Name:    "ci-01",
		Version: "latest",
	}
}

// githubHost simulates tar, config.sh and svc.sh inside the runner dir.
func (e *testEnv) githubHost(dir string) {
	var mu sync.Mutex
	started := false
	e.runner.On("tar xzf", func(execute.Options) (string, error) {
		return "", os.WriteFile(filepath.Join(dir, "config.sh"), []byte("#!/bin/bash\n"), 0755)
	})
	e.runner.On("sudo -u ci -- ./config.sh", func(o execute.Options) (string, error) {
		rf := "\ufeff" + `{"agentId": 7, "agentName": "ci-01", "gitHubUrl": "https://github.com/acme/infra"}`
		return "√ Runner successfully added", os.WriteFile(filepath.Join(o.Dir, ".runner"), []byte(rf), 0644)
	})
	e.runner.On("./svc.sh install", func(o execute.Options) (string, error) {
		return "", os.WriteFile(filepath.Join(o.Dir, ".service"), []byte(runnerUnit+"\n"), 0644)
	})
	e.runner.On("./svc.sh start", func(execute.Options) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		started = true
		return "", nil
	})
	e.runner.On("systemctl is-active "+runnerUnit, func(execute.Options) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if !started {
			return "inactive", cerr.New("exit status 3")
		}
		return "active", nil
	})
}

func newGitHubEnv(t *testing.T, gh *fakeGitHub) (*testEnv, config.BootstrapConfig) {
	t.Helper()
	srv := httptest.NewServer(gh.handler(t))
	t.Cleanup(srv.Close)

	env := newTestEnv(t)
	env.deps.GitHubAPIURL = srv.URL
	env.deps.GitHubURL = srv.URL
	home := t.TempDir()
	env.accounts.Add("ci", home)
	env.githubHost(filepath.Join(home, RunnerDirName))
	return env, config.BootstrapConfig{User: "ci", Home: home, Agent: githubSpec()}
}

func TestGitHubInstallRegistersOnce(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	gh := &fakeGitHub{}
	env, cfg := newGitHubEnv(t, gh)
	inst := Select(cfg, env.deps)

	ok, err := inst.Installed(rc)
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := inst.Install(rc)
	require.NoError(t, err)
	assert.Equal(t, Identity{Platform: config.PlatformGitHub, Name: "ci-01", ID: "7", Target: "acme/infra"}, id)

	ok, err = inst.Installed(rc)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = inst.Install(rc)
	require.NoError(t, err)
	assert.Equal(t, 1, gh.tokenRequests)
	assert.Equal(t, 1, gh.downloads)
	assert.Equal(t, 1, env.runner.Count("./svc.sh install ci"))

	for _, c := range env.runner.Commands() {
		if strings.HasPrefix(c, "sudo -u ci -- ./config.sh") {
			assert.Contains(t, c, "--url "+env.deps.GitHubURL+"/acme/infra")
			assert.Contains(t, c, "--labels forge,linux,amd64")
		}
	}
}

func TestGitHubBadCredentials(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	env, cfg := newGitHubEnv(t, &fakeGitHub{denyToken: true})

	_, err := Select(cfg, env.deps).Install(rc)
	require.Error(t, err)

	var re *forge_err.RegistrationError
	require.True(t, cerr.As(err, &re))
	assert.Equal(t, "github", re.Platform)
	assert.False(t, env.runner.Ran("sudo -u ci -- ./config.sh"))
	assert.NotContains(t, err.Error(), "ghp_pat")
}

func TestRunnerArch(t *testing.T) {
	assert.Equal(t, "x64", RunnerArch("amd64"))
	assert.Equal(t, "arm64", RunnerArch("arm64"))
	assert.Equal(t, "arm", RunnerArch("armhf"))
}
