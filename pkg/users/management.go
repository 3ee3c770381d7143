// pkg/users/management.go
//
// # Operator account management
//
// This package creates the operator account that owns the CI workspace,
// manages its group memberships and authorized SSH key, and lays out the
// working directories the pipelines use.
//
// Every operation is safe to repeat: creation is skipped for an existing
// account, keys are only appended when missing and directories are only
// created or re-owned when they differ from the wanted state.
package users

import (
	"os/user"
	"slices"
	"strconv"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Account is a resolved local account.
type Account struct {
	Name string
	Home string
	UID  int
	GID  int
}

// AccountManager creates and inspects local accounts.
type AccountManager interface {
	// Lookup returns nil and no error when the account does not exist.
	Lookup(name string) (*Account, error)
	Create(rc *forge_io.RuntimeContext, name, home string, groups ...string) error
	AddToGroup(rc *forge_io.RuntimeContext, name, group string) error
	InGroup(name, group string) (bool, error)
}

// SystemAccounts manages accounts with useradd/usermod and reads them back
// through os/user.
type SystemAccounts struct {
	Runner execute.Runner
}

// NewSystemAccounts returns an AccountManager for the live host.
func NewSystemAccounts(r execute.Runner) *SystemAccounts {
	return &SystemAccounts{Runner: r}
}

// Lookup resolves name to an Account.
func (s *SystemAccounts) Lookup(name string) (*Account, error) {
	u, err := user.Lookup(name)
	if err != nil {
		var unknown user.UnknownUserError
		if cerr.As(err, &unknown) {
			return nil, nil
		}
		return nil, cerr.Wrapf(err, "look up user %s", name)
	}
	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)
	return &Account{Name: u.Username, Home: u.HomeDir, UID: uid, GID: gid}, nil
}

// Create adds a login account with a home directory and bash shell.
func (s *SystemAccounts) Create(rc *forge_io.RuntimeContext, name, home string, groups ...string) error {
	logger := otelzap.Ctx(rc.Ctx)

	args := []string{"-m", "-d", home, "-s", "/bin/bash"}
	for _, g := range groups {
		args = append(args, "-G", g)
	}
	args = append(args, name)

	if _, err := s.Runner.Run(rc.Ctx, execute.Options{Command: "useradd", Args: args, Capture: true}); err != nil {
		return cerr.Wrapf(err, "create user %s", name)
	}
	logger.Info("👤 Created operator account",
		zap.String("user", name),
		zap.String("home", home),
		zap.Strings("groups", groups))
	return nil
}

// AddToGroup appends name to group.
func (s *SystemAccounts) AddToGroup(rc *forge_io.RuntimeContext, name, group string) error {
	logger := otelzap.Ctx(rc.Ctx)

	if _, err := s.Runner.Run(rc.Ctx, execute.Options{Command: "usermod", Args: []string{"-aG", group, name}, Capture: true}); err != nil {
		return cerr.Wrapf(err, "add %s to group %s", name, group)
	}
	logger.Info("Added user to group", zap.String("user", name), zap.String("group", group))
	return nil
}

// InGroup reports whether name is a member of group. A missing group or
// user counts as not a member.
func (s *SystemAccounts) InGroup(name, group string) (bool, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return false, nil
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		return false, nil
	}
	ids, err := u.GroupIds()
	if err != nil {
		return false, cerr.Wrapf(err, "list groups of %s", name)
	}
	return slices.Contains(ids, g.Gid), nil
}
