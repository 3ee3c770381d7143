// pkg/users/files.go

package users

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// WorkspaceDirs are created under <home>/ci for pipeline use.
var WorkspaceDirs = []string{"terraform", "ansible", "pipelines", "artifacts"}

// WorkspaceMode is applied to every workspace directory.
const WorkspaceMode os.FileMode = 0750

// WorkspaceReady reports whether root and every subdirectory exist with the
// wanted owner and mode.
func WorkspaceReady(root string, acct Account) bool {
	for _, dir := range workspacePaths(root) {
		if !dirMatches(dir, acct, WorkspaceMode) {
			return false
		}
	}
	return true
}

// EnsureWorkspace creates the workspace tree and fixes owner and mode.
func EnsureWorkspace(rc *forge_io.RuntimeContext, root string, acct Account) error {
	logger := otelzap.Ctx(rc.Ctx)

	for _, dir := range workspacePaths(root) {
		if err := os.MkdirAll(dir, WorkspaceMode); err != nil {
			return cerr.Wrapf(err, "create %s", dir)
		}
		if err := os.Chmod(dir, WorkspaceMode); err != nil {
			return cerr.Wrapf(err, "chmod %s", dir)
		}
		if err := os.Chown(dir, acct.UID, acct.GID); err != nil {
			return cerr.Wrapf(err, "chown %s", dir)
		}
	}
	logger.Info("📁 Workspace ready", zap.String("root", root), zap.Strings("dirs", WorkspaceDirs))
	return nil
}

func workspacePaths(root string) []string {
	paths := []string{root}
	for _, d := range WorkspaceDirs {
		paths = append(paths, filepath.Join(root, d))
	}
	return paths
}

func dirMatches(path string, acct Account, mode os.FileMode) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return false
	}
	return int(st.Uid) == acct.UID && int(st.Gid) == acct.GID && os.FileMode(st.Mode&0777) == mode
}

// AuthorizedKeysPath is where sshd looks for acct's keys.
func AuthorizedKeysPath(home string) string {
	return filepath.Join(home, ".ssh", "authorized_keys")
}

// HasAuthorizedKey reports whether key is already authorized for the account.
func HasAuthorizedKey(home, key string) bool {
	data, err := os.ReadFile(AuthorizedKeysPath(home))
	if err != nil {
		return false
	}
	want := normalizeKey(key)
	for _, line := range strings.Split(string(data), "\n") {
		if normalizeKey(line) == want {
			return true
		}
	}
	return false
}

// EnsureAuthorizedKey appends key to authorized_keys unless present.
func EnsureAuthorizedKey(rc *forge_io.RuntimeContext, acct Account, key string) (bool, error) {
	logger := otelzap.Ctx(rc.Ctx)

	key = strings.TrimSpace(key)
	if key == "" || HasAuthorizedKey(acct.Home, key) {
		return false, nil
	}

	sshDir := filepath.Join(acct.Home, ".ssh")
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		return false, cerr.Wrapf(err, "create %s", sshDir)
	}
	path := AuthorizedKeysPath(acct.Home)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return false, cerr.Wrapf(err, "open %s", path)
	}
	if info, err := f.Stat(); err == nil && info.Size() > 0 && !endsWithNewline(path) {
		key = "\n" + key
	}
	if _, err := f.WriteString(key + "\n"); err != nil {
		_ = f.Close()
		return false, cerr.Wrapf(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return false, cerr.Wrapf(err, "close %s", path)
	}
	for _, p := range []string{sshDir, path} {
		if err := os.Chown(p, acct.UID, acct.GID); err != nil {
			return false, cerr.Wrapf(err, "chown %s", p)
		}
	}

	logger.Info("🔑 Authorized SSH key installed", zap.String("user", acct.Name), zap.String("path", path))
	return true, nil
}

// normalizeKey compares keys by type and material, ignoring the comment.
func normalizeKey(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return strings.TrimSpace(line)
	}
	return fields[0] + " " + fields[1]
}

func endsWithNewline(path string) bool {
	data, err := os.ReadFile(path)
	return err == nil && (len(data) == 0 || data[len(data)-1] == '\n')
}
