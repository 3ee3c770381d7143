// pkg/privilege_check/privileges.go
package privilege_check

import (
	"os/user"
	"strconv"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// PrivilegeLevel represents the effective privilege of the process.
type PrivilegeLevel string

const (
	PrivilegeLevelRoot    PrivilegeLevel = "root"
	PrivilegeLevelRegular PrivilegeLevel = "regular"
)

// PrivilegeCheck describes who the process is running as.
type PrivilegeCheck struct {
	UserID   int
	Username string
	Level    PrivilegeLevel
	IsRoot   bool
}

// Checker looks up the effective uid. Swappable so tests can pretend to be root.
type Checker struct {
	Geteuid func() int
}

// DefaultChecker reads the real effective uid.
func DefaultChecker() Checker {
	return Checker{Geteuid: unix.Geteuid}
}

// CheckPrivilege fails with forge_err.ErrInsufficientPrivilege unless the
// process runs with administrative rights. It must run before any mutation.
func CheckPrivilege(rc *forge_io.RuntimeContext, c Checker) (*PrivilegeCheck, error) {
	logger := otelzap.Ctx(rc.Ctx)

	if c.Geteuid == nil {
		c = DefaultChecker()
	}

	check := &PrivilegeCheck{UserID: c.Geteuid()}
	if u, err := user.LookupId(strconv.Itoa(check.UserID)); err == nil {
		check.Username = u.Username
	} else {
		check.Username = "uid-" + strconv.Itoa(check.UserID)
	}

	check.IsRoot = check.UserID == 0
	if check.IsRoot {
		check.Level = PrivilegeLevelRoot
	} else {
		check.Level = PrivilegeLevelRegular
	}

	logger.Info("Privilege check completed",
		zap.String("username", check.Username),
		zap.Int("euid", check.UserID),
		zap.String("level", string(check.Level)))

	if !check.IsRoot {
		logger.Error("❌ forge must run as root", zap.Int("euid", check.UserID))
		return check, forge_err.ErrInsufficientPrivilege
	}
	return check, nil
}
