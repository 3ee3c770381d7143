// pkg/platform/detector.go

package platform

import (
	"bufio"
	"bytes"
	"os"
	"runtime"
	"strings"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// OSReleasePath is where the host describes itself.
const OSReleasePath = "/etc/os-release"

// SupportedFamily is the only OS family the bootstrap steps are written for.
const SupportedFamily = "ubuntu"

// Release is the detected host operating system.
type Release struct {
	ID         string // e.g. "ubuntu"
	IDLike     string // e.g. "debian"
	VersionID  string // e.g. "24.04"
	Codename   string // e.g. "noble"
	PrettyName string // e.g. "Ubuntu 24.04.2 LTS"
	Arch       string // dpkg architecture, e.g. "amd64"
	Supported  bool
}

// DetectPlatform parses the os-release file at path. An unsupported family
// is only a warning: later steps may still partly work on Debian derivatives.
func DetectPlatform(rc *forge_io.RuntimeContext, path string) (*Release, error) {
	logger := otelzap.Ctx(rc.Ctx)

	if path == "" {
		path = OSReleasePath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.Wrapf(err, "read %s", path)
	}

	rel := ParseOSRelease(data)
	logger.Info("Host platform detected",
		zap.String("id", rel.ID),
		zap.String("version", rel.VersionID),
		zap.String("codename", rel.Codename),
		zap.String("arch", rel.Arch),
		zap.String("pretty_name", rel.PrettyName))

	if !rel.Supported {
		logger.Warn("⚠️ Unsupported OS family, continuing anyway",
			zap.String("detected", rel.ID),
			zap.String("supported", SupportedFamily))
	}
	return rel, nil
}

// ParseOSRelease parses os-release content. Unknown keys are ignored.
func ParseOSRelease(data []byte) *Release {
	values := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}

	rel := &Release{
		ID:         strings.ToLower(values["ID"]),
		IDLike:     strings.ToLower(values["ID_LIKE"]),
		VersionID:  values["VERSION_ID"],
		Codename:   values["VERSION_CODENAME"],
		PrettyName: values["PRETTY_NAME"],
		Arch:       DebianArch(runtime.GOARCH),
	}
	if rel.Codename == "" {
		rel.Codename = values["UBUNTU_CODENAME"]
	}
	rel.Supported = rel.ID == SupportedFamily
	return rel
}

// DebianArch maps a Go architecture name to the dpkg one used in apt sources.
func DebianArch(goarch string) string {
	switch goarch {
	case "arm":
		return "armhf"
	case "386":
		return "i386"
	default:
		return goarch
	}
}
