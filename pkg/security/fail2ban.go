// pkg/security/fail2ban.go

package security

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/systemd"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// JailDir holds drop-in jail definitions.
const JailDir = "/etc/fail2ban/jail.d"

// JailRule bans clients that fail to authenticate against a service.
type JailRule struct {
	Service  string
	Port     int
	MaxRetry int
	FindTime time.Duration
	BanTime  time.Duration
	Backend  string
}

// SSHJail is the jail the security baseline installs for sshd.
func SSHJail(port int) JailRule {
	return JailRule{
		Service:  "sshd",
		Port:     port,
		MaxRetry: 3,
		FindTime: 10 * time.Minute,
		BanTime:  time.Hour,
		Backend:  "systemd",
	}
}

// IntrusionPrevention is the ban-on-abuse capability.
type IntrusionPrevention interface {
	// WriteJailRule installs the jail and reports whether the file changed.
	WriteJailRule(rc *forge_io.RuntimeContext, rule JailRule) (bool, error)
	EnableService(rc *forge_io.RuntimeContext) error
	JailConfigured(rule JailRule) bool
}

// Fail2ban implements IntrusionPrevention with drop-in jail files.
type Fail2ban struct {
	Services systemd.ServiceManager
	Dir      string
}

// NewFail2ban returns a Fail2ban writing to JailDir.
func NewFail2ban(services systemd.ServiceManager) *Fail2ban {
	return &Fail2ban{Services: services, Dir: JailDir}
}

var jailTemplate = template.Must(template.New("jail").Funcs(template.FuncMap{
	"seconds": func(d time.Duration) int { return int(d.Seconds()) },
}).Parse(`# Managed by forge. Local edits are overwritten.
[{{ .Service }}]
enabled  = true
port     = {{ .Port }}
maxretry = {{ .MaxRetry }}
findtime = {{ seconds .FindTime }}
bantime  = {{ seconds .BanTime }}
{{- if .Backend }}
backend  = {{ .Backend }}
{{- end }}
`))

// RenderJail returns the jail file content for rule.
func RenderJail(rule JailRule) (string, error) {
	var buf bytes.Buffer
	if err := jailTemplate.Execute(&buf, rule); err != nil {
		return "", cerr.Wrapf(err, "render jail for %s", rule.Service)
	}
	return buf.String(), nil
}

// JailPath is the drop-in file for service.
func (f *Fail2ban) JailPath(service string) string {
	return filepath.Join(f.Dir, fmt.Sprintf("forge-%s.local", service))
}

// JailConfigured reports whether the drop-in matches rule exactly.
func (f *Fail2ban) JailConfigured(rule JailRule) bool {
	want, err := RenderJail(rule)
	if err != nil {
		return false
	}
	got, err := os.ReadFile(f.JailPath(rule.Service))
	return err == nil && string(got) == want
}

// WriteJailRule writes the drop-in unless it already matches.
func (f *Fail2ban) WriteJailRule(rc *forge_io.RuntimeContext, rule JailRule) (bool, error) {
	logger := otelzap.Ctx(rc.Ctx)

	if f.JailConfigured(rule) {
		return false, nil
	}
	content, err := RenderJail(rule)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return false, cerr.Wrapf(err, "create %s", f.Dir)
	}
	path := f.JailPath(rule.Service)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return false, cerr.Wrapf(err, "write %s", path)
	}
	logger.Info("🛡️ Intrusion prevention jail written",
		zap.String("path", path),
		zap.Int("maxretry", rule.MaxRetry),
		zap.Duration("findtime", rule.FindTime),
		zap.Duration("bantime", rule.BanTime))
	return true, nil
}

// EnableService starts fail2ban and restarts it so new jails load.
func (f *Fail2ban) EnableService(rc *forge_io.RuntimeContext) error {
	if err := f.Services.EnableNow(rc, "fail2ban"); err != nil {
		return err
	}
	return f.Services.Restart(rc, "fail2ban")
}
