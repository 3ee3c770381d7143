// pkg/tools/installer.go

package tools

import (
	"strings"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/packages"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/systemd"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Presence is what the presence probe found.
type Presence struct {
	Installed bool
	// Version is parsed from the tool's own version output.
	Version string
	// PackageVersion is the installed version of the first pinned package.
	PackageVersion string
	// InactiveServices lists associated services that are not running.
	InactiveServices []string
}

// Satisfied reports whether tool needs no work: installed, at the pinned
// version if any, with its services running.
func (p Presence) Satisfied(tool ManagedTool) bool {
	if !p.Installed || len(p.InactiveServices) > 0 {
		return false
	}
	if !tool.Pinned() {
		return true
	}
	_, ok := packages.MatchPin([]packages.Candidate{{Version: p.PackageVersion}}, tool.Version)
	return ok
}

// Outcome of EnsureInstalled.
type Outcome struct {
	Changed bool
	Version string
}

// Installer installs ManagedTools through a package source.
type Installer struct {
	Runner   execute.Runner
	Source   packages.Source
	Services systemd.ServiceManager
}

// Probe runs the presence check for tool. It never mutates the host.
func (i *Installer) Probe(rc *forge_io.RuntimeContext, tool ManagedTool) (Presence, error) {
	var p Presence

	out, err := i.Runner.Run(rc.Ctx, execute.Options{
		Command: tool.Binary,
		Args:    tool.VersionArgs,
		Capture: true,
	})
	if err != nil {
		// missing binary or a tool too broken to print its version
		return p, nil
	}
	p.Installed = true
	p.Version = ParseToolVersion(out)

	if tool.Pinned() {
		pv, err := i.Runner.Run(rc.Ctx, execute.Options{
			Command: "dpkg-query",
			Args:    []string{"-W", "-f=${Version}", tool.PinPackages[0]},
			Capture: true,
		})
		if err == nil {
			p.PackageVersion = strings.TrimSpace(pv)
		}
	}

	for _, svc := range tool.Services {
		if !i.Services.IsActive(rc, svc) {
			p.InactiveServices = append(p.InactiveServices, svc)
		}
	}
	return p, nil
}

// EnsureInstalled probes for tool and installs it when absent. A pin the
// source cannot satisfy, or a tool still absent after installing, fails
// with *forge_err.InstallationFailedError.
func (i *Installer) EnsureInstalled(rc *forge_io.RuntimeContext, tool ManagedTool) (out Outcome, err error) {
	ctx, span := telemetry.Start(rc.Ctx, "tools.EnsureInstalled",
		attribute.String("tool", tool.Name),
		attribute.String("version", tool.Version))
	defer span.End()
	rc = rc.WithContext(ctx)
	logger := otelzap.Ctx(rc.Ctx)

	// ASSESS
	presence, err := i.Probe(rc, tool)
	if err != nil {
		return out, err
	}
	if presence.Satisfied(tool) {
		logger.Info("Tool already installed", zap.String("tool", tool.Name), zap.String("version", presence.Version))
		return Outcome{Version: presence.Version}, nil
	}

	// INTERVENE
	logger.Info("🔧 Installing tool",
		zap.String("tool", tool.Name),
		zap.String("version", tool.Version),
		zap.Bool("previously_installed", presence.Installed))

	if tool.Repository != nil {
		changed, err := i.Source.AddRepository(rc, *tool.Repository)
		if err != nil {
			return out, installFailed(tool, err)
		}
		if changed {
			if err := i.Source.RefreshIndex(rc); err != nil {
				return out, installFailed(tool, err)
			}
		}
	}

	pkgs, err := i.resolvePackages(rc, tool)
	if err != nil {
		return out, err
	}
	if err := i.Source.Install(rc, pkgs...); err != nil {
		return out, installFailed(tool, err)
	}
	for _, svc := range tool.Services {
		if err := i.Services.EnableNow(rc, svc); err != nil {
			return out, installFailed(tool, err)
		}
	}

	// EVALUATE
	after, err := i.Probe(rc, tool)
	if err != nil {
		return out, installFailed(tool, err)
	}
	if !after.Satisfied(tool) {
		return out, installFailed(tool, cerr.Newf("%s still absent after install (installed=%t, package version %q, inactive services %v)",
			tool.Binary, after.Installed, after.PackageVersion, after.InactiveServices))
	}

	logger.Info("✅ Tool installed", zap.String("tool", tool.Name), zap.String("version", after.Version))
	return Outcome{Changed: true, Version: after.Version}, nil
}

func (i *Installer) resolvePackages(rc *forge_io.RuntimeContext, tool ManagedTool) ([]packages.Package, error) {
	pkgs := make([]packages.Package, 0, len(tool.Packages))
	for _, name := range tool.Packages {
		p := packages.Package{Name: name}
		if tool.Pinned() && tool.isPinned(name) {
			ok, err := i.Source.PinnedVersionAvailable(rc, name, tool.Version)
			if err != nil {
				return nil, installFailed(tool, err)
			}
			if !ok {
				return nil, installFailed(tool, cerr.Newf("version %s of %s is not available from the package source", tool.Version, name))
			}
			v, err := i.Source.ResolveVersion(rc, name, tool.Version)
			if err != nil {
				return nil, installFailed(tool, err)
			}
			p.Version = v
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, nil
}

func installFailed(tool ManagedTool, cause error) error {
	var ife *forge_err.InstallationFailedError
	if cerr.As(cause, &ife) {
		cause = ife.Cause
	}
	version := tool.Version
	if version == "" {
		version = "latest"
	}
	return &forge_err.InstallationFailedError{Tool: tool.Name, Version: version, Cause: cause}
}
