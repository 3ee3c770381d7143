package forge_cli

import (
	"errors"
	"testing"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPassesThroughErrors(t *testing.T) {
	want := errors.New("boom")
	run := Wrap(func(rc *forge_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		require.NotNil(t, rc.Ctx)
		assert.Equal(t, "probe", rc.Command)
		return want
	})

	err := run(&cobra.Command{Use: "probe"}, nil)
	assert.ErrorIs(t, err, want)
}

func TestWrapRecoversPanics(t *testing.T) {
	run := Wrap(func(rc *forge_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		panic("kaboom")
	})

	err := run(&cobra.Command{Use: "probe"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, forge_err.ExitInternal, forge_err.ExitCode(err))
}
