// pkg/forge_err/errors.go

package forge_err

import (
	"fmt"

	cerr "github.com/cockroachdb/errors"
)

// ErrInsufficientPrivilege is returned by the pre-flight guard when forge
// is not running with an effective uid of 0.
var ErrInsufficientPrivilege = cerr.WithHint(
	cerr.New("insufficient privilege: forge must run as root"),
	"re-run with sudo",
)

// MissingRequiredFieldError names the configuration field that was required
// but empty once every configuration source had been consulted.
type MissingRequiredFieldError struct {
	Field  string
	Reason string
}

func (e *MissingRequiredFieldError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("missing required field %q (%s)", e.Field, e.Reason)
	}
	return fmt.Sprintf("missing required field %q", e.Field)
}

// InvalidFieldError is a present but malformed configuration value.
type InvalidFieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid value %q for field %q: %s", e.Value, e.Field, e.Reason)
}

// FileErrorKind distinguishes the two fatal file conditions of the config mutator.
type FileErrorKind string

const (
	FileNotFound   FileErrorKind = "not-found"
	FilePermission FileErrorKind = "permission"
)

// FileError reports a configuration file that cannot be mutated.
type FileError struct {
	Kind  FileErrorKind
	Path  string
	Cause error
}

func (e *FileError) Error() string {
	switch e.Kind {
	case FileNotFound:
		return fmt.Sprintf("file not found: %s", e.Path)
	case FilePermission:
		return fmt.Sprintf("file not writable: %s", e.Path)
	}
	return fmt.Sprintf("file error on %s", e.Path)
}

func (e *FileError) Unwrap() error { return e.Cause }

// IsFileNotFound reports whether err carries a FileError of kind FileNotFound.
func IsFileNotFound(err error) bool {
	var fe *FileError
	return cerr.As(err, &fe) && fe.Kind == FileNotFound
}

// IsFilePermission reports whether err carries a FileError of kind FilePermission.
func IsFilePermission(err error) bool {
	var fe *FileError
	return cerr.As(err, &fe) && fe.Kind == FilePermission
}

// InstallationFailedError is returned when a managed tool is still absent
// after installation, or when its pinned version is not offered by the source.
type InstallationFailedError struct {
	Tool    string
	Version string
	Cause   error
}

func (e *InstallationFailedError) Error() string {
	msg := fmt.Sprintf("installation of %s (version %s) failed", e.Tool, e.Version)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *InstallationFailedError) Unwrap() error { return e.Cause }

// RegistrationError is returned when an agent platform refuses or cannot be
// reached for registration. The host stays usable without an agent.
type RegistrationError struct {
	Platform string
	Cause    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s agent registration failed: %v", e.Platform, e.Cause)
}

func (e *RegistrationError) Unwrap() error { return e.Cause }

// StepFailedError attributes a failure to a named bootstrap step.
type StepFailedError struct {
	Step     string
	Optional bool
	Cause    error
}

func (e *StepFailedError) Error() string {
	kind := "required"
	if e.Optional {
		kind = "optional"
	}
	return fmt.Sprintf("%s step %q failed: %v", kind, e.Step, e.Cause)
}

func (e *StepFailedError) Unwrap() error { return e.Cause }
