// pkg/security/sshd.go

package security

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/configedit"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/systemd"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// SSHDConfigPath is the OpenSSH daemon configuration.
const SSHDConfigPath = "/etc/ssh/sshd_config"

// SSHHardeningEdit is the set of sshd settings forge enforces.
func SSHHardeningEdit(path string, port int, user string) configedit.ConfigFileEdit {
	if path == "" {
		path = SSHDConfigPath
	}
	return configedit.ConfigFileEdit{
		Path:         path,
		BackupSuffix: configedit.DefaultBackupSuffix,
		Edits: []configedit.Edit{
			{Key: "Port", Value: strconv.Itoa(port)},
			{Key: "PermitRootLogin", Value: "no"},
			{Key: "PasswordAuthentication", Value: "no"},
			{Key: "PubkeyAuthentication", Value: "yes"},
			{Key: "MaxAuthTries", Value: "3"},
			{Key: "X11Forwarding", Value: "no"},
			{Key: "AllowUsers", Value: user},
		},
	}
}

// SSHHardener applies the hardening edit, validates the result with
// `sshd -t` and restarts the daemon.
type SSHHardener struct {
	Mutator  *configedit.Mutator
	Runner   execute.Runner
	Services systemd.ServiceManager
	// Root prefixes absolute Include patterns. Empty means the live filesystem.
	Root string
}

// DropIns returns a rewrite-only edit for every file the main config pulls
// in with Include. sshd keeps the first value it reads and Ubuntu includes
// sshd_config.d/*.conf at the top, so a drop-in setting a key differently
// would win over the main file.
func (h *SSHHardener) DropIns(edit configedit.ConfigFileEdit) []configedit.ConfigFileEdit {
	content, err := os.ReadFile(edit.Path)
	if err != nil {
		return nil
	}
	var out []configedit.ConfigFileEdit
	for _, path := range h.includedFiles(edit.Path, string(content)) {
		out = append(out, configedit.ConfigFileEdit{
			Path:         path,
			Edits:        edit.Edits,
			BackupSuffix: edit.BackupSuffix,
			RewriteOnly:  true,
		})
	}
	return out
}

func (h *SSHHardener) includedFiles(mainPath, content string) []string {
	seen := map[string]bool{mainPath: true}
	var files []string
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.EqualFold(fields[0], "Include") {
			continue
		}
		for _, pattern := range fields[1:] {
			switch {
			case !filepath.IsAbs(pattern):
				// relative patterns are resolved against the sshd config directory
				pattern = filepath.Join(filepath.Dir(mainPath), pattern)
			case h.Root != "":
				pattern = filepath.Join(h.Root, pattern)
			}
			matches, err := filepath.Glob(pattern)
			if err != nil {
				continue
			}
			for _, m := range matches {
				if info, err := os.Stat(m); err != nil || !info.Mode().IsRegular() || seen[m] {
					continue
				}
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files
}

// Hardened reports whether every setting is in place in the main file and
// no included drop-in contradicts it.
func (h *SSHHardener) Hardened(edit configedit.ConfigFileEdit) (bool, error) {
	ok, err := h.Mutator.Check(edit)
	if err != nil || !ok {
		return false, err
	}
	for _, d := range h.DropIns(edit) {
		ok, err := h.Mutator.Check(d)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

type snapshot struct {
	data []byte
	mode os.FileMode
}

// Harden enforces edit on the main file and corrects conflicting drop-ins.
// A configuration that sshd rejects is rolled back to what was there before
// this call and the daemon is left untouched.
func (h *SSHHardener) Harden(rc *forge_io.RuntimeContext, edit configedit.ConfigFileEdit) error {
	logger := otelzap.Ctx(rc.Ctx)

	targets := append([]configedit.ConfigFileEdit{edit}, h.DropIns(edit)...)
	previous := make(map[string]snapshot, len(targets))
	for _, t := range targets {
		data, err := os.ReadFile(t.Path)
		if err != nil {
			// ApplyKeyValueEdits classifies the error.
			_, applyErr := h.Mutator.ApplyKeyValueEdits(rc, t)
			return applyErr
		}
		mode := os.FileMode(0600)
		if info, err := os.Stat(t.Path); err == nil {
			mode = info.Mode().Perm()
		}
		previous[t.Path] = snapshot{data: data, mode: mode}
	}

	var changed []string
	rollback := func(cause error) error {
		for _, path := range changed {
			prev := previous[path]
			if werr := os.WriteFile(path, prev.data, prev.mode); werr != nil {
				cause = cerr.CombineErrors(cause, werr)
			}
		}
		return cause
	}

	for _, t := range targets {
		ok, err := h.Mutator.ApplyKeyValueEdits(rc, t)
		if err != nil {
			return rollback(err)
		}
		if ok {
			changed = append(changed, t.Path)
			if t.RewriteOnly {
				logger.Warn("⚠️ Drop-in contradicted SSH hardening, corrected", zap.String("path", t.Path))
			}
		}
	}
	if len(changed) == 0 {
		return nil
	}

	if out, err := h.Runner.Run(rc.Ctx, execute.Options{
		Command: "sshd",
		Args:    []string{"-t", "-f", edit.Path},
		Capture: true,
	}); err != nil {
		logger.Error("❌ sshd rejected the new configuration, rolling back",
			zap.String("path", edit.Path),
			zap.Strings("changed", changed),
			zap.String("output", execute.ExtractSummary(out, 3)))
		return rollback(cerr.Wrap(err, "validate sshd config"))
	}

	if err := h.Restart(rc); err != nil {
		return err
	}
	logger.Info("🔒 SSH daemon hardened", zap.String("path", edit.Path), zap.Strings("changed", changed))
	return nil
}

// Restart makes sshd pick up its configuration.
func (h *SSHHardener) Restart(rc *forge_io.RuntimeContext) error {
	// Ubuntu 22.10+ starts sshd through ssh.socket, which owns the listen port.
	if h.Services.IsActive(rc, "ssh.socket") {
		if err := h.Services.DaemonReload(rc); err != nil {
			return err
		}
		if err := h.Services.Restart(rc, "ssh.socket"); err != nil {
			return err
		}
	}
	return h.Services.Restart(rc, "ssh")
}
