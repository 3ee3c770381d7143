package systemd

import (
	"errors"
	"testing"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	runner := testutil.NewFakeRunner().
		OnOutput("systemctl is-active docker", "active\n").
		OnError("systemctl is-active fail2ban", errors.New("exit status 3")).
		OnOutput("systemctl is-enabled docker", "disabled\n")
	m := NewManager(runner)

	assert.True(t, m.IsActive(rc, "docker"))
	assert.False(t, m.IsActive(rc, "fail2ban"))
	assert.False(t, m.IsEnabled(rc, "docker"))

	require.NoError(t, m.EnableNow(rc, "docker"))
	require.NoError(t, m.Restart(rc, "ssh"))
	assert.True(t, runner.Ran("systemctl enable --now docker"))
	assert.True(t, runner.Ran("systemctl restart ssh"))
}

func TestManagerWrapsFailures(t *testing.T) {
	rc := forge_io.NewTestContext(nil)
	m := NewManager(testutil.NewFakeRunner().OnError("systemctl restart", errors.New("unit not found")))

	err := m.Restart(rc, "ssh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "systemctl restart ssh")
}
