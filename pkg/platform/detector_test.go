package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ubuntuNoble = `PRETTY_NAME="Ubuntu 24.04.2 LTS"
NAME="Ubuntu"
VERSION_ID="24.04"
VERSION="24.04.2 LTS (Noble Numbat)"
VERSION_CODENAME=noble
ID=ubuntu
ID_LIKE=debian
UBUNTU_CODENAME=noble
`

const debianBookworm = `PRETTY_NAME="Debian GNU/Linux 12 (bookworm)"
VERSION_ID="12"
VERSION_CODENAME=bookworm
ID=debian
`

func TestParseOSRelease(t *testing.T) {
	rel := ParseOSRelease([]byte(ubuntuNoble))
	assert.Equal(t, "ubuntu", rel.ID)
	assert.Equal(t, "24.04", rel.VersionID)
	assert.Equal(t, "noble", rel.Codename)
	assert.Equal(t, "Ubuntu 24.04.2 LTS", rel.PrettyName)
	assert.True(t, rel.Supported)
}

func TestParseOSReleaseCodenameFallback(t *testing.T) {
	rel := ParseOSRelease([]byte("ID=ubuntu\nUBUNTU_CODENAME=jammy\n# comment\nbroken line\n"))
	assert.Equal(t, "jammy", rel.Codename)
}

func TestDetectPlatformUnsupportedIsNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "os-release")
	require.NoError(t, os.WriteFile(path, []byte(debianBookworm), 0644))

	rel, err := DetectPlatform(forge_io.NewTestContext(nil), path)
	require.NoError(t, err)
	assert.False(t, rel.Supported)
	assert.Equal(t, "debian", rel.ID)
}

func TestDetectPlatformMissingFile(t *testing.T) {
	_, err := DetectPlatform(forge_io.NewTestContext(nil), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestDebianArch(t *testing.T) {
	assert.Equal(t, "amd64", DebianArch("amd64"))
	assert.Equal(t, "arm64", DebianArch("arm64"))
	assert.Equal(t, "armhf", DebianArch("arm"))
	assert.Equal(t, "i386", DebianArch("386"))
}
