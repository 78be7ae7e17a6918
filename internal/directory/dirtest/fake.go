// Package dirtest provides an in-memory identity directory for tests.
package dirtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pinetree-kr/identity-service/internal/directory"
)

// Fake is an in-memory directory.Directory that mirrors the semantics
// the real backends provide: case-insensitive unique emails, unique
// provider identities, merge-style metadata patches.
type Fake struct {
	mu        sync.Mutex
	seq       int
	accounts  map[string]*directory.Account
	passwords map[string]string

	// Drift injects providers into the directory's own identity view
	// without touching the stored linked set, to simulate the two
	// sources disagreeing.
	Drift map[string][]string

	// CreateUserErr, when set, is returned by the next CreateUser call
	// and then cleared. Used to simulate a lost creation race.
	CreateUserErr error

	// OnCreateUser, when set, runs once at the start of the next
	// CreateUser call, before any checks. Tests use it to interleave a
	// concurrent winner between decide and create.
	OnCreateUser func()

	// FailWith, when set, makes every operation fail.
	FailWith error
}

func New() *Fake {
	return &Fake{
		accounts:  make(map[string]*directory.Account),
		passwords: make(map[string]string),
		Drift:     make(map[string][]string),
	}
}

// Seed installs an account directly, bypassing uniqueness checks.
func (f *Fake) Seed(acct directory.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[acct.ID] = copyAccount(&acct)
}

// Snapshot returns a deep copy of an account's stored state, for
// asserting that failed operations changed nothing.
func (f *Fake) Snapshot(accountID string) *directory.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[accountID]
	if !ok {
		return nil
	}
	return copyAccount(acct)
}

func (f *Fake) FindByEmail(_ context.Context, email string) (*directory.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	for _, acct := range f.accounts {
		if strings.EqualFold(acct.Email, email) {
			return copyAccount(acct), nil
		}
	}
	return nil, nil
}

func (f *Fake) FindByID(_ context.Context, accountID string) (*directory.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	acct, ok := f.accounts[accountID]
	if !ok {
		return nil, nil
	}
	return copyAccount(acct), nil
}

func (f *Fake) FindByProviderID(_ context.Context, provider, providerUserID string) (*directory.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	for _, acct := range f.accounts {
		if acct.Metadata.ProviderKeys[provider] == providerUserID {
			return copyAccount(acct), nil
		}
	}
	return nil, nil
}

func (f *Fake) CreateUser(_ context.Context, email, credential string, md directory.Metadata) (string, error) {
	if f.OnCreateUser != nil {
		hook := f.OnCreateUser
		f.OnCreateUser = nil
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return "", f.FailWith
	}
	if f.CreateUserErr != nil {
		err := f.CreateUserErr
		f.CreateUserErr = nil
		return "", err
	}
	for _, acct := range f.accounts {
		if strings.EqualFold(acct.Email, email) {
			return "", directory.ErrEmailTaken
		}
	}

	f.seq++
	id := fmt.Sprintf("acct-%d", f.seq)
	acct := &directory.Account{ID: id, Email: email, Metadata: md}
	f.accounts[id] = copyAccount(acct)
	f.passwords[id] = credential
	return id, nil
}

func (f *Fake) UpdateMetadata(_ context.Context, accountID string, patch directory.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	acct, ok := f.accounts[accountID]
	if !ok {
		return fmt.Errorf("dirtest: account %s not found", accountID)
	}

	for provider, providerUserID := range patch.ProviderKeys {
		for otherID, other := range f.accounts {
			if otherID != accountID && other.Metadata.ProviderKeys[provider] == providerUserID {
				return directory.ErrIdentityTaken
			}
		}
		if acct.Metadata.ProviderKeys == nil {
			acct.Metadata.ProviderKeys = make(map[string]string)
		}
		acct.Metadata.ProviderKeys[provider] = providerUserID
	}

	add := append([]string{}, patch.AddProviders...)
	for provider := range patch.ProviderKeys {
		add = append(add, provider)
	}
	for _, provider := range add {
		if !acct.Metadata.HasProvider(provider) {
			acct.Metadata.LinkedProviders = append(acct.Metadata.LinkedProviders, provider)
		}
	}

	for _, provider := range patch.RemoveProviders {
		kept := acct.Metadata.LinkedProviders[:0]
		for _, p := range acct.Metadata.LinkedProviders {
			if p != provider {
				kept = append(kept, p)
			}
		}
		acct.Metadata.LinkedProviders = kept
		delete(acct.Metadata.ProviderKeys, provider)
	}

	for k, v := range patch.Extras {
		if acct.Metadata.Extras == nil {
			acct.Metadata.Extras = make(map[string]string)
		}
		acct.Metadata.Extras[k] = v
	}

	if patch.LastLogin != nil {
		acct.Metadata.LastLogin = *patch.LastLogin
	}
	return nil
}

func (f *Fake) SetPassword(_ context.Context, accountID, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	if _, ok := f.accounts[accountID]; !ok {
		return fmt.Errorf("dirtest: account %s not found", accountID)
	}
	f.passwords[accountID] = credential
	return nil
}

func (f *Fake) VerifyEmailCredential(ctx context.Context, email, credential string) (string, error) {
	acct, err := f.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct == nil || f.passwords[acct.ID] != credential {
		return "", directory.ErrInvalidCredentials
	}
	return acct.ID, nil
}

func (f *Fake) GenerateSessionAssertion(_ context.Context, accountID, email, redirectTarget string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return "", f.FailWith
	}
	if _, ok := f.accounts[accountID]; !ok {
		return "", fmt.Errorf("dirtest: account %s not found", accountID)
	}
	return fmt.Sprintf("%s?token=tok-%s", redirectTarget, accountID), nil
}

func (f *Fake) ProviderIdentities(_ context.Context, accountID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	acct, ok := f.accounts[accountID]
	if !ok {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var providers []string
	for provider := range acct.Metadata.ProviderKeys {
		if _, dup := seen[provider]; !dup {
			seen[provider] = struct{}{}
			providers = append(providers, provider)
		}
	}
	for _, provider := range f.Drift[accountID] {
		if _, dup := seen[provider]; !dup {
			seen[provider] = struct{}{}
			providers = append(providers, provider)
		}
	}
	return providers, nil
}

func copyAccount(acct *directory.Account) *directory.Account {
	out := &directory.Account{
		ID:    acct.ID,
		Email: acct.Email,
		Metadata: directory.Metadata{
			SignupProvider:  acct.Metadata.SignupProvider,
			LinkedProviders: append([]string{}, acct.Metadata.LinkedProviders...),
			ProviderKeys:    make(map[string]string, len(acct.Metadata.ProviderKeys)),
			LastLogin:       acct.Metadata.LastLogin,
			Extras:          make(map[string]string, len(acct.Metadata.Extras)),
		},
	}
	for k, v := range acct.Metadata.ProviderKeys {
		out.Metadata.ProviderKeys[k] = v
	}
	for k, v := range acct.Metadata.Extras {
		out.Metadata.Extras[k] = v
	}
	return out
}

var _ directory.Directory = (*Fake)(nil)
