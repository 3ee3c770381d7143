// Package userstest provides an in-memory users.AccountManager.
package userstest

import (
	"os"
	"sync"

	"github.com/CodeMonkeyCybersecurity/forge/pkg/forge_io"
	"github.com/CodeMonkeyCybersecurity/forge/pkg/users"
)

// FakeAccounts keeps accounts and group memberships in memory. Created
// accounts get the test process uid/gid so that files chowned to them stay
// accessible.
type FakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]users.Account
	groups   map[string]map[string]bool
	Creates  int
	// CreateErr makes Create fail.
	CreateErr error
}

// NewFakeAccounts returns an empty FakeAccounts.
func NewFakeAccounts() *FakeAccounts {
	return &FakeAccounts{
		accounts: make(map[string]users.Account),
		groups:   make(map[string]map[string]bool),
	}
}

// Add registers an existing account.
func (f *FakeAccounts) Add(name, home string, groups ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[name] = users.Account{Name: name, Home: home, UID: os.Getuid(), GID: os.Getgid()}
	for _, g := range groups {
		f.join(name, g)
	}
}

func (f *FakeAccounts) Lookup(name string) (*users.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[name]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (f *FakeAccounts) Create(_ *forge_io.RuntimeContext, name, home string, groups ...string) error {
	if f.CreateErr != nil {
		return f.CreateErr
	}
	f.mu.Lock()
	f.Creates++
	f.mu.Unlock()
	f.Add(name, home, groups...)
	return os.MkdirAll(home, 0750)
}

func (f *FakeAccounts) AddToGroup(_ *forge_io.RuntimeContext, name, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.join(name, group)
	return nil
}

func (f *FakeAccounts) InGroup(name, group string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[group][name], nil
}

func (f *FakeAccounts) join(name, group string) {
	if f.groups[group] == nil {
		f.groups[group] = make(map[string]bool)
	}
	f.groups[group][name] = true
}
