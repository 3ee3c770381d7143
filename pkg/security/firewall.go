// pkg/security/firewall.go

package security

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Direction of traffic a default policy applies to.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// Action a firewall takes on matching traffic.
type Action string

const (
	Allow Action = "allow"
	Deny  Action = "deny"
)

// Firewall is the network-policy capability the security baseline uses.
type Firewall interface {
	Reset(rc *forge_io.RuntimeContext) error
	SetDefaultPolicy(rc *forge_io.RuntimeContext, dir Direction, action Action) error
	// AllowPort opens port/proto, optionally only from sourceCIDR.
	AllowPort(rc *forge_io.RuntimeContext, port int, proto, sourceCIDR string) error
	Enable(rc *forge_io.RuntimeContext) error
	Status(rc *forge_io.RuntimeContext) (FirewallStatus, error)
}

// FirewallRule is one row of the rule table.
type FirewallRule struct {
	To     string
	Action string
	From   string
}

// FirewallStatus is the parsed firewall state.
type FirewallStatus struct {
	Active   bool
	Defaults map[Direction]Action
	Rules    []FirewallRule
}

// Allows reports whether a rule admits port/proto from sourceCIDR, or from
// anywhere when sourceCIDR is empty. Sources are compared as prefixes
// because ufw lists a /32 host as a bare address and masks host bits.
func (s FirewallStatus) Allows(port int, proto, sourceCIDR string) bool {
	to := strconv.Itoa(port) + "/" + proto
	for _, r := range s.Rules {
		if trimV6(r.To) == to && strings.HasPrefix(r.Action, "ALLOW") && sameSource(r.From, sourceCIDR) {
			return true
		}
	}
	return false
}

const v6Suffix = " (v6)"

func trimV6(col string) string {
	return strings.TrimSuffix(col, v6Suffix)
}

// sameSource compares a rule's From column with a configured CIDR.
func sameSource(from, cidr string) bool {
	from = trimV6(from)
	if cidr == "" {
		return from == "Anywhere"
	}
	want, ok := parseSource(cidr)
	if !ok {
		return from == cidr
	}
	got, ok := parseSource(from)
	return ok && got == want
}

// parseSource accepts a prefix or a bare address, which stands for a single host.
func parseSource(s string) (netip.Prefix, bool) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Masked(), true
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return netip.PrefixFrom(addr, addr.BitLen()), true
	}
	return netip.Prefix{}, false
}

// UFW drives the Uncomplicated Firewall.
type UFW struct {
	Runner execute.Runner
}

// NewUFW returns a Firewall backed by ufw.
func NewUFW(r execute.Runner) *UFW {
	return &UFW{Runner: r}
}

func (u *UFW) ufw(rc *forge_io.RuntimeContext, args ...string) (string, error) {
	out, err := u.Runner.Run(rc.Ctx, execute.Options{Command: "ufw", Args: args, Capture: true})
	if err != nil {
		return out, cerr.Wrapf(err, "ufw %s", strings.Join(args, " "))
	}
	return out, nil
}

// Reset drops every rule and disables the firewall.
func (u *UFW) Reset(rc *forge_io.RuntimeContext) error {
	otelzap.Ctx(rc.Ctx).Info("Resetting firewall rules")
	_, err := u.ufw(rc, "--force", "reset")
	return err
}

// SetDefaultPolicy sets the policy for traffic matching no rule.
func (u *UFW) SetDefaultPolicy(rc *forge_io.RuntimeContext, dir Direction, action Action) error {
	otelzap.Ctx(rc.Ctx).Info("Setting default firewall policy",
		zap.String("direction", string(dir)),
		zap.String("action", string(action)))
	_, err := u.ufw(rc, "default", string(action), string(dir))
	return err
}

// AllowPort opens a port, restricted to sourceCIDR when given.
func (u *UFW) AllowPort(rc *forge_io.RuntimeContext, port int, proto, sourceCIDR string) error {
	logger := otelzap.Ctx(rc.Ctx)

	var args []string
	if sourceCIDR == "" {
		args = []string{"allow", strconv.Itoa(port) + "/" + proto}
	} else {
		args = []string{"allow", "proto", proto, "from", sourceCIDR, "to", "any", "port", strconv.Itoa(port)}
	}
	if _, err := u.ufw(rc, args...); err != nil {
		return err
	}
	logger.Info("Firewall rule added",
		zap.Int("port", port),
		zap.String("proto", proto),
		zap.String("from", sourceOrAnywhere(sourceCIDR)))
	return nil
}

// Enable activates the firewall without the interactive confirmation.
func (u *UFW) Enable(rc *forge_io.RuntimeContext) error {
	otelzap.Ctx(rc.Ctx).Info("Enabling firewall")
	_, err := u.ufw(rc, "--force", "enable")
	return err
}

// Status reads `ufw status verbose`.
func (u *UFW) Status(rc *forge_io.RuntimeContext) (FirewallStatus, error) {
	out, err := u.ufw(rc, "status", "verbose")
	if err != nil {
		return FirewallStatus{}, err
	}
	return ParseUFWStatus(out), nil
}

var (
	columnSep     = regexp.MustCompile(`\s{2,}`)
	defaultPolicy = regexp.MustCompile(`(\w+) \((incoming|outgoing|routed)\)`)
)

// ParseUFWStatus parses the output of `ufw status verbose`.
func ParseUFWStatus(out string) FirewallStatus {
	st := FirewallStatus{Defaults: make(map[Direction]Action)}
	inTable := false
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Status:"):
			st.Active = strings.TrimSpace(strings.TrimPrefix(trimmed, "Status:")) == "active"
		case strings.HasPrefix(trimmed, "Default:"):
			for _, m := range defaultPolicy.FindAllStringSubmatch(trimmed, -1) {
				st.Defaults[Direction(m[2])] = Action(m[1])
			}
		case strings.HasPrefix(trimmed, "--"):
			inTable = true
		case inTable && trimmed != "":
			cols := columnSep.Split(trimmed, -1)
			if len(cols) < 3 {
				continue
			}
			st.Rules = append(st.Rules, FirewallRule{To: cols[0], Action: cols[1], From: cols[2]})
		}
	}
	return st
}

func sourceOrAnywhere(cidr string) string {
	if cidr == "" {
		return "anywhere"
	}
	return cidr
}
