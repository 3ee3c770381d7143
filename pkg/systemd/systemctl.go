package systemd

import (
	"strings"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ServiceManager controls background services on the host.
type ServiceManager interface {
	EnableNow(rc *forge_io.RuntimeContext, unit string) error
	Restart(rc *forge_io.RuntimeContext, unit string) error
	IsActive(rc *forge_io.RuntimeContext, unit string) bool
	IsEnabled(rc *forge_io.RuntimeContext, unit string) bool
	DaemonReload(rc *forge_io.RuntimeContext) error
}

// Manager implements ServiceManager with systemctl.
type Manager struct {
	Runner execute.Runner
}

// NewManager returns a systemctl-backed manager.
func NewManager(r execute.Runner) *Manager {
	return &Manager{Runner: r}
}

// RunSystemctl executes one systemctl command and returns its output.
func (m *Manager) RunSystemctl(rc *forge_io.RuntimeContext, args ...string) (string, error) {
	logger := otelzap.Ctx(rc.Ctx)
	logger.Debug("Executing systemctl command", zap.Strings("args", args))

	out, err := m.Runner.Run(rc.Ctx, execute.Options{Command: "systemctl", Args: args, Capture: true})
	if err != nil {
		return out, cerr.Wrapf(err, "systemctl %s", strings.Join(args, " "))
	}
	return strings.TrimSpace(out), nil
}

// EnableNow enables unit at boot and starts it.
func (m *Manager) EnableNow(rc *forge_io.RuntimeContext, unit string) error {
	logger := otelzap.Ctx(rc.Ctx)

	if _, err := m.RunSystemctl(rc, "enable", "--now", unit); err != nil {
		return err
	}
	logger.Info("Service enabled", zap.String("unit", unit))
	return nil
}

// Restart restarts unit.
func (m *Manager) Restart(rc *forge_io.RuntimeContext, unit string) error {
	logger := otelzap.Ctx(rc.Ctx)

	if _, err := m.RunSystemctl(rc, "restart", unit); err != nil {
		return err
	}
	logger.Info("Service restarted", zap.String("unit", unit))
	return nil
}

// IsActive reports whether unit is running. systemctl exits non-zero otherwise.
func (m *Manager) IsActive(rc *forge_io.RuntimeContext, unit string) bool {
	out, err := m.RunSystemctl(rc, "is-active", unit)
	return err == nil && out == "active"
}

// IsEnabled reports whether unit starts at boot.
func (m *Manager) IsEnabled(rc *forge_io.RuntimeContext, unit string) bool {
	out, err := m.RunSystemctl(rc, "is-enabled", unit)
	return err == nil && out == "enabled"
}

// DaemonReload makes systemd re-read unit files and generators.
func (m *Manager) DaemonReload(rc *forge_io.RuntimeContext) error {
	_, err := m.RunSystemctl(rc, "daemon-reload")
	return err
}
