package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/configedit"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/systemd"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stockSSHD = `Include /etc/ssh/sshd_config.d/*.conf
#Port 22
#PermitRootLogin prohibit-password
KbdInteractiveAuthentication no
UsePAM yes
X11Forwarding yes
`

func newHardener(t *testing.T, runner *testutil.FakeRunner) *SSHHardener {
	return &SSHHardener{
		Mutator:  configedit.NewMutator(),
		Runner:   runner,
		Services: systemd.NewManager(runner),
		Root:     t.TempDir(),
	}
}

func TestHardenAppliesOnceAndRestarts(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	path := testutil.CreateTestFile(t, t.TempDir(), "sshd_config", stockSSHD, 0644)
	runner := testutil.NewFakeRunner().OnError("systemctl is-active ssh.socket", errors.New("inactive"))
	h := newHardener(t, runner)
	edit := SSHHardeningEdit(path, 2222, "ci")

	ok, err := h.Hardened(edit)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.Harden(rc, edit))
	ok, err = h.Hardened(edit)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, runner.Count("sshd -t -f "+path))
	assert.Equal(t, 1, runner.Count("systemctl restart ssh"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Port 2222\n")
	assert.Contains(t, string(data), "AllowUsers ci\n")
	testutil.AssertFileContent(t, edit.BackupPath(), stockSSHD)

	// nothing to change, nothing restarted
	require.NoError(t, h.Harden(rc, edit))
	assert.Equal(t, 1, runner.Count("systemctl restart ssh"))
}

func TestHardenRestartsSocketWhenSocketActivated(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	path := testutil.CreateTestFile(t, t.TempDir(), "sshd_config", stockSSHD, 0644)
	runner := testutil.NewFakeRunner().OnOutput("systemctl is-active ssh.socket", "active")

	require.NoError(t, newHardener(t, runner).Harden(rc, SSHHardeningEdit(path, 22, "ci")))
	assert.True(t, runner.Ran("systemctl daemon-reload"))
	assert.True(t, runner.Ran("systemctl restart ssh.socket"))
}

func TestHardenRollsBackRejectedConfig(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	path := testutil.CreateTestFile(t, t.TempDir(), "sshd_config", stockSSHD, 0644)
	runner := testutil.NewFakeRunner().OnError("sshd -t", errors.New("Bad configuration option"))

	err := newHardener(t, runner).Harden(rc, SSHHardeningEdit(path, 22, "ci"))
	require.Error(t, err)
	testutil.AssertFileContent(t, path, stockSSHD)
	assert.False(t, runner.Ran("systemctl restart"))
}

func TestHardenMissingConfig(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	err := newHardener(t, testutil.NewFakeRunner()).Harden(rc, SSHHardeningEdit(filepath.Join(t.TempDir(), "absent"), 22, "ci"))
	assert.True(t, forge_err.IsFileNotFound(err))
}

func TestHardenCorrectsConflictingDropIn(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	root := t.TempDir()
	path := testutil.CreateTestFile(t, root, "etc/ssh/sshd_config", stockSSHD, 0644)
	cloudInit := "PasswordAuthentication yes\n"
	dropIn := testutil.CreateTestFile(t, root, "etc/ssh/sshd_config.d/50-cloud-init.conf", cloudInit, 0600)
	unrelated := testutil.CreateTestFile(t, root, "etc/ssh/sshd_config.d/60-keepalive.conf", "ClientAliveInterval 120\n", 0644)

	runner := testutil.NewFakeRunner().OnError("systemctl is-active ssh.socket", errors.New("inactive"))
	h := newHardener(t, runner)
	h.Root = root
	edit := SSHHardeningEdit(path, 22, "ci")

	// the main file alone would pass, the drop-in overrides it
	_, err := h.Mutator.ApplyKeyValueEdits(rc, edit)
	require.NoError(t, err)
	ok, err := h.Mutator.Check(edit)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = h.Hardened(edit)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.Harden(rc, edit))
	ok, err = h.Hardened(edit)
	require.NoError(t, err)
	assert.True(t, ok)

	testutil.AssertFileContent(t, dropIn, "PasswordAuthentication no\n")
	testutil.AssertFileContent(t, dropIn+configedit.DefaultBackupSuffix, cloudInit)
	testutil.AssertFileContent(t, unrelated, "ClientAliveInterval 120\n")
	assert.NoFileExists(t, unrelated+configedit.DefaultBackupSuffix)
	assert.Equal(t, 1, runner.Count("systemctl restart ssh"))
}

func TestHardenRollsBackDropInWhenRejected(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	root := t.TempDir()
	path := testutil.CreateTestFile(t, root, "etc/ssh/sshd_config", "Include sshd_config.d/*.conf\n", 0644)
	dropIn := testutil.CreateTestFile(t, root, "etc/ssh/sshd_config.d/50-cloud-init.conf", "PasswordAuthentication yes\n", 0600)
	runner := testutil.NewFakeRunner().OnError("sshd -t", errors.New("Bad configuration option"))

	err := newHardener(t, runner).Harden(rc, SSHHardeningEdit(path, 22, "ci"))
	require.Error(t, err)
	testutil.AssertFileContent(t, path, "Include sshd_config.d/*.conf\n")
	testutil.AssertFileContent(t, dropIn, "PasswordAuthentication yes\n")
	assert.False(t, runner.Ran("systemctl restart"))
}

func TestRestartSocketActivated(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	runner := testutil.NewFakeRunner().OnOutput("systemctl is-active ssh.socket", "active")

	require.NoError(t, newHardener(t, runner).Restart(rc))
	assert.Equal(t, []string{
		"systemctl is-active ssh.socket",
		"systemctl daemon-reload",
		"systemctl restart ssh.socket",
		"systemctl restart ssh",
	}, runner.Commands())
}
