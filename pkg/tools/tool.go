// pkg/tools/tool.go

package tools

import (
	"regexp"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/packages"
)

// Role is the slot a tool fills on the control node.
type Role string

const (
	RoleContainerRuntime  Role = "container-runtime"
	RoleProvisioningTool  Role = "provisioning-tool"
	RoleConfigurationTool Role = "configuration-tool"
	RoleAgent             Role = "agent"
)

// ManagedTool is an external tool forge installs and verifies.
type ManagedTool struct {
	Name string
	Role Role
	// Binary and VersionArgs form the presence-check command.
	Binary      string
	VersionArgs []string
	Packages    []string
	// PinPackages are the packages the Version pin applies to; the first
	// one is also used to read the installed version back.
	PinPackages []string
	Repository  *packages.Repository
	Services    []string
	Version     string
}

// Pinned reports whether the tool must be installed at a specific version.
func (t ManagedTool) Pinned() bool {
	return t.Version != "" && t.Version != "latest" && len(t.PinPackages) > 0
}

func (t ManagedTool) isPinned(name string) bool {
	for _, p := range t.PinPackages {
		if p == name {
			return true
		}
	}
	return false
}

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// ParseToolVersion picks the first dotted version number from a tool's
// --version output.
func ParseToolVersion(out string) string {
	return versionPattern.FindString(out)
}
