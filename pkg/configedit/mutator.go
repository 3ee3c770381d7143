// pkg/configedit/mutator.go

package configedit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_err"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Mutator applies ConfigFileEdits to real files. It remembers which paths it
// has already backed up, so one instance belongs to one orchestrator run.
type Mutator struct {
	mu       sync.Mutex
	backedUp map[string]bool
}

// NewMutator returns a Mutator with no backup history.
func NewMutator() *Mutator {
	return &Mutator{backedUp: make(map[string]bool)}
}

// Check reads the target and reports whether every edit is already in place.
func (m *Mutator) Check(edit ConfigFileEdit) (bool, error) {
	content, err := readTarget(edit.Path)
	if err != nil {
		return false, err
	}
	return edit.satisfied(string(content)), nil
}

// ApplyKeyValueEdits enforces edit.Edits on edit.Path. Before the first write
// the original is copied to the backup path unless a backup already exists,
// so the pristine file survives any number of runs. It returns whether the
// file content changed.
func (m *Mutator) ApplyKeyValueEdits(rc *forge_io.RuntimeContext, edit ConfigFileEdit) (bool, error) {
	logger := otelzap.Ctx(rc.Ctx)

	// ASSESS
	content, err := readTarget(edit.Path)
	if err != nil {
		return false, err
	}
	if err := unix.Access(edit.Path, unix.W_OK); err != nil {
		return false, &forge_err.FileError{Kind: forge_err.FilePermission, Path: edit.Path, Cause: err}
	}

	patched, changed := edit.patch(string(content))
	if !changed {
		logger.Debug("Config file already up to date", zap.String("path", edit.Path))
		return false, nil
	}

	// INTERVENE
	if err := m.backupOnce(rc, edit); err != nil {
		return false, err
	}
	if err := writeAtomic(edit.Path, []byte(patched)); err != nil {
		return false, err
	}

	// EVALUATE
	logger.Info("✅ Config file updated",
		zap.String("path", edit.Path),
		zap.Int("edits", len(edit.Edits)),
		zap.String("backup", edit.BackupPath()))
	return true, nil
}

func (m *Mutator) backupOnce(rc *forge_io.RuntimeContext, edit ConfigFileEdit) error {
	logger := otelzap.Ctx(rc.Ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backedUp == nil {
		m.backedUp = make(map[string]bool)
	}
	if m.backedUp[edit.Path] {
		return nil
	}

	backup := edit.BackupPath()
	if _, err := os.Stat(backup); err == nil {
		logger.Info("Keeping existing backup", zap.String("backup", backup))
		m.backedUp[edit.Path] = true
		return nil
	} else if !os.IsNotExist(err) {
		return cerr.Wrapf(err, "stat backup %s", backup)
	}

	original, err := os.ReadFile(edit.Path)
	if err != nil {
		return cerr.Wrapf(err, "read %s for backup", edit.Path)
	}
	info, err := os.Stat(edit.Path)
	if err != nil {
		return cerr.Wrapf(err, "stat %s", edit.Path)
	}
	// O_EXCL keeps a concurrently created backup intact.
	f, err := os.OpenFile(backup, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		if os.IsExist(err) {
			m.backedUp[edit.Path] = true
			return nil
		}
		return fileError(backup, err)
	}
	if _, err := f.Write(original); err != nil {
		_ = f.Close()
		return cerr.Wrapf(err, "write backup %s", backup)
	}
	if err := f.Close(); err != nil {
		return cerr.Wrapf(err, "close backup %s", backup)
	}

	logger.Info("💾 Backed up original config", zap.String("path", edit.Path), zap.String("backup", backup))
	m.backedUp[edit.Path] = true
	return nil
}

// Restore copies the backup of path back over it. The backup is kept.
func Restore(rc *forge_io.RuntimeContext, path, suffix string) error {
	logger := otelzap.Ctx(rc.Ctx)

	backup := BackupPath(path, suffix)
	data, err := readTarget(backup)
	if err != nil {
		return err
	}
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	logger.Info("♻️ Restored config from backup", zap.String("path", path), zap.String("backup", backup))
	return nil
}

func readTarget(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileError(path, err)
	}
	return data, nil
}

func fileError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return &forge_err.FileError{Kind: forge_err.FileNotFound, Path: path, Cause: err}
	case os.IsPermission(err):
		return &forge_err.FileError{Kind: forge_err.FilePermission, Path: path, Cause: err}
	default:
		return cerr.Wrapf(err, "access %s", path)
	}
}

// writeAtomic replaces path with data, keeping its mode and ownership.
func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0644)
	uid, gid := -1, -1
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err == nil {
		mode = os.FileMode(st.Mode & 0777)
		uid, gid = int(st.Uid), int(st.Gid)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fileError(path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return cerr.Wrapf(err, "write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return cerr.Wrapf(err, "sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return cerr.Wrapf(err, "close %s", tmpName)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return cerr.Wrapf(err, "chmod %s", tmpName)
	}
	if uid >= 0 {
		if err := os.Chown(tmpName, uid, gid); err != nil {
			return cerr.Wrapf(err, "chown %s", tmpName)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fileError(path, err)
	}
	return nil
}
