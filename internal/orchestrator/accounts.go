package orchestrator

import (
	"sort"
	"sync"

	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
)

// Accounts is the registry of phone accounts calls can be placed on.
type Accounts struct {
	mu             sync.RWMutex
	accounts       map[call.AccountHandle]call.Account
	defaultAccount call.AccountHandle
}

func NewAccounts(accounts ...call.Account) *Accounts {
	a := &Accounts{accounts: make(map[call.AccountHandle]call.Account)}
	for _, acct := range accounts {
		_ = a.Register(acct)
	}
	return a
}

func (a *Accounts) Register(acct call.Account) error {
	if acct.Handle.Provider == "" || acct.Handle.ID == "" {
		return errors.New(errors.ErrInvalidArgument, "account needs a provider and an id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accounts[acct.Handle] = acct

	logger.WithFields(map[string]interface{}{
		"account":      acct.Handle.String(),
		"self_managed": acct.SelfManaged,
		"emergency":    acct.EmergencyCapable,
	}).Debug("Registered account")
	return nil
}

func (a *Accounts) Unregister(h call.AccountHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.accounts, h)
	if a.defaultAccount == h {
		a.defaultAccount = call.AccountHandle{}
	}
}

// Get returns an enabled account.
func (a *Accounts) Get(h call.AccountHandle) (call.Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acct, ok := a.accounts[h]
	if !ok || acct.Disabled {
		return call.Account{}, errors.New(errors.ErrAccountNotFound, "account not found").
			WithContext("account", h.String())
	}
	return acct, nil
}

func (a *Accounts) SetDefault(h call.AccountHandle) error {
	if !h.IsZero() {
		if _, err := a.Get(h); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.defaultAccount = h
	a.mu.Unlock()
	return nil
}

func (a *Accounts) Default() call.AccountHandle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.defaultAccount
}

// List returns every account, highest priority first, then by handle.
func (a *Accounts) List() []call.Account {
	a.mu.RLock()
	out := make([]call.Account, 0, len(a.accounts))
	for _, acct := range a.accounts {
		out = append(out, acct)
	}
	a.mu.RUnlock()

	sortByPriority(out)
	return out
}

// EmergencyCandidates lists the enabled emergency-capable accounts an
// emergency call may be tried on, in order. The preferred account, when it
// is emergency capable, comes first; the rest follow by priority.
func (a *Accounts) EmergencyCandidates(preferred call.AccountHandle) []call.AccountHandle {
	var capable []call.Account
	for _, acct := range a.List() {
		if acct.EmergencyCapable && !acct.Disabled {
			capable = append(capable, acct)
		}
	}

	out := make([]call.AccountHandle, 0, len(capable))
	for _, acct := range capable {
		if acct.Handle == preferred {
			out = append(out, acct.Handle)
		}
	}
	for _, acct := range capable {
		if acct.Handle != preferred {
			out = append(out, acct.Handle)
		}
	}
	return out
}

func sortByPriority(accounts []call.Account) {
	sort.SliceStable(accounts, func(i, j int) bool {
		if accounts[i].Priority != accounts[j].Priority {
			return accounts[i].Priority > accounts[j].Priority
		}
		if accounts[i].Handle.Provider != accounts[j].Handle.Provider {
			return accounts[i].Handle.Provider < accounts[j].Handle.Provider
		}
		return accounts[i].Handle.ID < accounts[j].Handle.ID
	})
}
