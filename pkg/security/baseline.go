// pkg/security/baseline.go

package security

import (
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/packages"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// BaselinePackages provide the firewall and intrusion prevention services.
var BaselinePackages = []packages.Package{{Name: "ufw"}, {Name: "fail2ban"}}

// Baseline is the host firewall plus SSH brute-force protection.
type Baseline struct {
	Firewall  Firewall
	IPS       IntrusionPrevention
	Packages  packages.Source
	SSHPort   int
	AllowCIDR string
}

// Missing returns nil when the baseline is fully in place, otherwise an
// error listing every missing piece.
func (b *Baseline) Missing(rc *forge_io.RuntimeContext) error {
	var result *multierror.Error

	st, err := b.Firewall.Status(rc)
	if err != nil {
		result = multierror.Append(result, cerr.Wrap(err, "firewall status unavailable"))
	} else {
		if !st.Active {
			result = multierror.Append(result, cerr.New("firewall inactive"))
		}
		if st.Defaults[Incoming] != Deny {
			result = multierror.Append(result, cerr.New("incoming traffic not denied by default"))
		}
		if !st.Allows(b.SSHPort, "tcp", b.AllowCIDR) {
			result = multierror.Append(result, cerr.Newf("no rule admitting ssh on %d/tcp from %s", b.SSHPort, sourceOrAnywhere(b.AllowCIDR)))
		}
	}
	if !b.IPS.JailConfigured(SSHJail(b.SSHPort)) {
		result = multierror.Append(result, cerr.New("sshd jail not configured"))
	}
	return result.ErrorOrNil()
}

// Apply installs and configures the baseline from scratch. Existing firewall
// rules are reset so repeated applies never stack duplicate rules.
func (b *Baseline) Apply(rc *forge_io.RuntimeContext) error {
	logger := otelzap.Ctx(rc.Ctx)

	if err := b.Packages.Install(rc, BaselinePackages...); err != nil {
		return err
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"reset", func() error { return b.Firewall.Reset(rc) }},
		{"default deny incoming", func() error { return b.Firewall.SetDefaultPolicy(rc, Incoming, Deny) }},
		{"default allow outgoing", func() error { return b.Firewall.SetDefaultPolicy(rc, Outgoing, Allow) }},
		{"allow ssh", func() error { return b.Firewall.AllowPort(rc, b.SSHPort, "tcp", b.AllowCIDR) }},
		{"enable", func() error { return b.Firewall.Enable(rc) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return cerr.Wrapf(err, "firewall %s", s.name)
		}
	}

	if _, err := b.IPS.WriteJailRule(rc, SSHJail(b.SSHPort)); err != nil {
		return err
	}
	if err := b.IPS.EnableService(rc); err != nil {
		return cerr.Wrap(err, "enable intrusion prevention")
	}

	if b.AllowCIDR == "" {
		logger.Warn("⚠️ SSH is reachable from any address; set allow_cidr to restrict it",
			zap.Int("ssh_port", b.SSHPort))
	}
	logger.Info("✅ Security baseline applied",
		zap.Int("ssh_port", b.SSHPort),
		zap.String("ssh_from", sourceOrAnywhere(b.AllowCIDR)))
	return nil
}
