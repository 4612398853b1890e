package state

import (
	"context"
	"errors"
	"sort"
	"sync"

	"messenger-sync/internal/protocol"
)

var (
	ErrAccountNotFound = errors.New("account not registered")
	ErrAccountExists   = errors.New("account already registered")
)

type accountEntry struct {
	store  *AccountStore
	client protocol.Client
	cancel context.CancelFunc
}

// Registry is the process-wide set of logged-in accounts. One entry per
// account: reactive store, protocol client, and the cancel function stopping
// that account's streams. Created on login, torn down on logout; injected
// into its consumers rather than reached as an ambient singleton.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*accountEntry
	current  string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]*accountEntry)}
}

// AddAccount registers an account and returns its store. Registering an
// existing account returns the existing store untouched with added false;
// the caller still owns the client it brought and must dispose of it.
func (r *Registry) AddAccount(account string, client protocol.Client, cancel context.CancelFunc) (store *AccountStore, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.accounts[account]; ok {
		return entry.store, false
	}
	entry := &accountEntry{store: NewAccountStore(account), client: client, cancel: cancel}
	r.accounts[account] = entry
	if r.current == "" {
		r.current = account
	}
	return entry.store, true
}

// RemoveAccount tears an account down: cancels its streams, closes its
// protocol client, and drops its store.
func (r *Registry) RemoveAccount(account string) error {
	r.mu.Lock()
	entry, ok := r.accounts[account]
	if ok {
		delete(r.accounts, account)
		if r.current == account {
			r.current = ""
			for addr := range r.accounts {
				r.current = addr
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return ErrAccountNotFound
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	if entry.client != nil {
		return entry.client.Close()
	}
	return nil
}

// Store returns the reactive store for an account.
func (r *Registry) Store(account string) (*AccountStore, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.accounts[account]
	if !ok {
		return nil, false
	}
	return entry.store, true
}

// Client returns the protocol client for an account.
func (r *Registry) Client(account string) (protocol.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.accounts[account]
	if !ok || entry.client == nil {
		return nil, false
	}
	return entry.client, true
}

// Accounts lists registered account addresses, sorted.
func (r *Registry) Accounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	accounts := make([]string, 0, len(r.accounts))
	for account := range r.accounts {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	return accounts
}

// SetCurrent selects the account backing account-agnostic UI surfaces.
func (r *Registry) SetCurrent(account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account]; !ok {
		return ErrAccountNotFound
	}
	r.current = account
	return nil
}

// Current returns the selected account address ("" when none).
func (r *Registry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}
