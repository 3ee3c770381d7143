package forge_err

import (
	"errors"
	"testing"

	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "privilege", err: cerr.Wrap(ErrInsufficientPrivilege, "pre-flight"), want: ExitPrivilege},
		{name: "missing field", err: &MissingRequiredFieldError{Field: "gitlab_token"}, want: ExitInvalidParameter},
		{name: "invalid field", err: &InvalidFieldError{Field: "ssh_port", Value: "0"}, want: ExitInvalidParameter},
		{name: "required step", err: &StepFailedError{Step: "container-runtime", Cause: errors.New("boom")}, want: ExitFatalStep},
		{name: "optional step", err: &StepFailedError{Step: "agent", Optional: true, Cause: errors.New("boom")}, want: ExitOptionalStep},
		{name: "wrapped step", err: cerr.Wrap(&StepFailedError{Step: "account", Cause: errors.New("x")}, "run"), want: ExitFatalStep},
		{name: "validation classified", err: NewValidationError("bad"), want: ExitInvalidParameter},
		{name: "internal", err: NewInternalError("oops", nil), want: ExitInternal},
		{name: "assertion", err: cerr.AssertionFailedf("panic: %v", "x"), want: ExitInternal},
		{name: "plain", err: errors.New("plain"), want: ExitGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestFileErrorKinds(t *testing.T) {
	notFound := cerr.Wrap(&FileError{Kind: FileNotFound, Path: "/etc/ssh/sshd_config"}, "ssh-hardening")
	denied := &FileError{Kind: FilePermission, Path: "/etc/ssh/sshd_config"}

	assert.True(t, IsFileNotFound(notFound))
	assert.False(t, IsFilePermission(notFound))
	assert.True(t, IsFilePermission(denied))
	assert.Contains(t, notFound.Error(), "file not found: /etc/ssh/sshd_config")
}

func TestInstallationFailedMessage(t *testing.T) {
	err := &InstallationFailedError{Tool: "terraform", Version: "1.9.5", Cause: errors.New("not offered")}
	assert.Equal(t, "installation of terraform (version 1.9.5) failed: not offered", err.Error())

	var target *InstallationFailedError
	assert.True(t, cerr.As(cerr.Wrap(err, "step"), &target))
	assert.Equal(t, "terraform", target.Tool)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("E: Could not get lock /var/lib/dpkg/lock-frontend")))
	assert.True(t, IsRetryable(errors.New("dial tcp: i/o timeout")))
	assert.False(t, IsRetryable(&RegistrationError{Platform: "gitlab", Cause: errors.New("timeout")}))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("permission denied")))
}

func TestClassifiedExitCodes(t *testing.T) {
	assert.Equal(t, ExitInvalidParameter, (&ClassifiedError{Category: CategoryValidation}).ExitCode())
	assert.Equal(t, ExitInternal, (&ClassifiedError{Category: CategoryInternal}).ExitCode())
	assert.Equal(t, ExitGeneral, (&ClassifiedError{Category: ErrorCategory(99)}).ExitCode())

	err := NewValidationError("unknown output format", "use --output table")
	assert.Contains(t, err.Error(), "How to fix:\n  1. use --output table")
}
