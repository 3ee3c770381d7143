package privilege_check

import (
	"testing"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPrivilegeRoot(t *testing.T) {
	rc := forge_io.NewTestContext(nil)

	check, err := CheckPrivilege(rc, Checker{Geteuid: func() int { return 0 }})
	require.NoError(t, err)
	assert.True(t, check.IsRoot)
	assert.Equal(t, PrivilegeLevelRoot, check.Level)
}

func TestCheckPrivilegeRegularUser(t *testing.T) {
	rc := forge_io.NewTestContext(nil)

	check, err := CheckPrivilege(rc, Checker{Geteuid: func() int { return 1000 }})
	require.Error(t, err)
	assert.ErrorIs(t, err, forge_err.ErrInsufficientPrivilege)
	assert.Equal(t, forge_err.ExitPrivilege, forge_err.ExitCode(err))
	assert.False(t, check.IsRoot)
	assert.Equal(t, PrivilegeLevelRegular, check.Level)
}
