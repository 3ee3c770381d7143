// Package securitytest provides an in-memory security.Firewall for tests.
package securitytest

import (
	"strconv"
	"sync"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/security"
)

// MemFirewall keeps rules in memory the way ufw would.
type MemFirewall struct {
	mu     sync.Mutex
	status security.FirewallStatus
	Resets int
}

func NewMemFirewall() *MemFirewall {
	return &MemFirewall{status: security.FirewallStatus{Defaults: map[security.Direction]security.Action{}}}
}

func (m *MemFirewall) Reset(*forge_io.RuntimeContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resets++
	m.status = security.FirewallStatus{Defaults: map[security.Direction]security.Action{}}
	return nil
}

func (m *MemFirewall) SetDefaultPolicy(_ *forge_io.RuntimeContext, dir security.Direction, action security.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Defaults[dir] = action
	return nil
}

func (m *MemFirewall) AllowPort(_ *forge_io.RuntimeContext, port int, proto, cidr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := "Anywhere"
	if cidr != "" {
		from = cidr
	}
	m.status.Rules = append(m.status.Rules, security.FirewallRule{
		To:     strconv.Itoa(port) + "/" + proto,
		Action: "ALLOW IN",
		From:   from,
	})
	return nil
}

func (m *MemFirewall) Enable(*forge_io.RuntimeContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Active = true
	return nil
}

func (m *MemFirewall) Status(*forge_io.RuntimeContext) (security.FirewallStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

// Rules returns the current rule set.
func (m *MemFirewall) Rules() []security.FirewallRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]security.FirewallRule(nil), m.status.Rules...)
}
