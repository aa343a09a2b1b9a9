package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/identity/app"
)

// MemoryStore keeps every table in process memory behind one mutex. Each
// transition checks all of its conditions before mutating anything, which
// gives the same all-or-nothing behaviour as the database drivers. Used for
// local development and service tests.
type MemoryStore struct {
	mu               sync.RWMutex
	accounts         map[string]app.AccountRecord
	usernames        map[string]string
	devices          map[string]app.DeviceRecord
	phoneCredentials map[string]app.PhoneCredentialRecord
	zkpCredentials   map[string]app.ZKPCredentialRecord
	attempts         map[string]app.AttemptRecord
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:         make(map[string]app.AccountRecord),
		usernames:        make(map[string]string),
		devices:          make(map[string]app.DeviceRecord),
		phoneCredentials: make(map[string]app.PhoneCredentialRecord),
		zkpCredentials:   make(map[string]app.ZKPCredentialRecord),
		attempts:         make(map[string]app.AttemptRecord),
	}
}

// --- DeviceStore ---

func (m *MemoryStore) GetDevice(_ context.Context, didWrite string) (*app.DeviceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[didWrite]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

func (m *MemoryStore) EndSession(_ context.Context, didWrite string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[didWrite]
	if !ok {
		return domain.ErrNotFound
	}
	d.SessionExpiry = at
	d.UpdatedAt = at
	m.devices[didWrite] = d
	return nil
}

// --- CredentialStore ---

func (m *MemoryStore) GetPhoneCredential(_ context.Context, phoneHash string) (*app.PhoneCredentialRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.phoneCredentials[phoneHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) GetZKPCredential(_ context.Context, nullifier string) (*app.ZKPCredentialRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.zkpCredentials[nullifier]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

// --- AttemptStore ---

func (m *MemoryStore) GetAttempt(_ context.Context, didWrite string) (*app.AttemptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[didWrite]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (m *MemoryStore) CreateAttempt(_ context.Context, record app.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[record.DIDWrite]; ok {
		return fmt.Errorf("attempt for %s: %w", record.DIDWrite, domain.ErrConflict)
	}
	m.attempts[record.DIDWrite] = record
	return nil
}

func (m *MemoryStore) ReissueCode(_ context.Context, record app.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.attempts[record.DIDWrite]
	if !ok {
		return domain.ErrNotFound
	}
	record.CreatedAt = existing.CreatedAt
	m.attempts[record.DIDWrite] = record
	return nil
}

func (m *MemoryStore) RecordWrongGuess(_ context.Context, didWrite string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[didWrite]
	if !ok {
		return 0, domain.ErrNotFound
	}
	a.GuessAttempts++
	a.UpdatedAt = at
	m.attempts[didWrite] = a
	return a.GuessAttempts, nil
}

func (m *MemoryStore) ExpireCode(_ context.Context, didWrite string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expireCodeLocked(didWrite, at)
}

func (m *MemoryStore) expireCodeLocked(didWrite string, at time.Time) error {
	a, ok := m.attempts[didWrite]
	if !ok {
		return domain.ErrNotFound
	}
	a.CodeExpiry = at
	a.UpdatedAt = at
	m.attempts[didWrite] = a
	return nil
}

func (m *MemoryStore) ListAttemptsByPhoneHash(_ context.Context, phoneHash string) ([]app.AttemptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []app.AttemptRecord
	for _, a := range m.attempts {
		if a.PhoneHash == phoneHash {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- AuthTransactor ---

func (m *MemoryStore) RegisterWithPhone(_ context.Context, p app.PhoneRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkNewAccountLocked(p.Account, p.Device); err != nil {
		return err
	}
	if _, ok := m.phoneCredentials[p.Credential.PhoneHash]; ok {
		return fmt.Errorf("phone credential: %w", domain.ErrConflict)
	}
	if err := m.checkClaimLocked(p.Device.DIDWrite, p.Code, p.Now); err != nil {
		return err
	}

	m.insertAccountLocked(p.Account, p.Device)
	m.phoneCredentials[p.Credential.PhoneHash] = p.Credential
	return m.expireCodeLocked(p.Device.DIDWrite, p.Now)
}

func (m *MemoryStore) RegisterWithZKP(_ context.Context, p app.ZKPRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkNewAccountLocked(p.Account, p.Device); err != nil {
		return err
	}
	if _, ok := m.zkpCredentials[p.Credential.Nullifier]; ok {
		return fmt.Errorf("zkp credential: %w", domain.ErrConflict)
	}

	m.insertAccountLocked(p.Account, p.Device)
	m.zkpCredentials[p.Credential.Nullifier] = p.Credential
	return nil
}

func (m *MemoryStore) LoginKnownDevice(_ context.Context, p app.KnownDeviceLogin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[p.DIDWrite]
	if !ok {
		return fmt.Errorf("device missing: %w", domain.ErrConflict)
	}
	if p.RetireCode != nil {
		if err := m.checkClaimLocked(p.DIDWrite, *p.RetireCode, p.Now); err != nil {
			return err
		}
	}

	d.SessionExpiry = p.SessionExpiry
	d.UpdatedAt = p.Now
	m.devices[p.DIDWrite] = d
	if p.RetireCode != nil {
		return m.expireCodeLocked(p.DIDWrite, p.Now)
	}
	return nil
}

func (m *MemoryStore) LoginNewDevice(_ context.Context, p app.NewDeviceLogin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[p.Device.DIDWrite]; ok {
		return fmt.Errorf("device: %w", domain.ErrConflict)
	}
	if p.RetireCode != nil {
		if err := m.checkClaimLocked(p.Device.DIDWrite, *p.RetireCode, p.Now); err != nil {
			return err
		}
	}

	m.devices[p.Device.DIDWrite] = p.Device
	if p.RetireCode != nil {
		return m.expireCodeLocked(p.Device.DIDWrite, p.Now)
	}
	return nil
}

// checkClaimLocked reports whether the device's attempt still holds the
// claimed, unexpired code within its guess budget.
func (m *MemoryStore) checkClaimLocked(didWrite string, claim app.CodeClaim, now time.Time) error {
	a, ok := m.attempts[didWrite]
	if !ok {
		return fmt.Errorf("attempt missing: %w", domain.ErrConflict)
	}
	if a.CodeMAC != claim.CodeMAC || !a.CodeExpiry.After(now) || a.GuessAttempts >= claim.MaxGuessAttempts {
		return fmt.Errorf("attempt of %s: %w", didWrite, domain.ErrCodeNotLive)
	}
	return nil
}

func (m *MemoryStore) checkNewAccountLocked(account app.AccountRecord, device app.DeviceRecord) error {
	if _, ok := m.accounts[account.AccountID]; ok {
		return fmt.Errorf("account: %w", domain.ErrConflict)
	}
	if _, ok := m.usernames[account.Username]; ok {
		return fmt.Errorf("username: %w", domain.ErrConflict)
	}
	if _, ok := m.devices[device.DIDWrite]; ok {
		return fmt.Errorf("device: %w", domain.ErrConflict)
	}
	return nil
}

func (m *MemoryStore) insertAccountLocked(account app.AccountRecord, device app.DeviceRecord) {
	m.accounts[account.AccountID] = account
	m.usernames[account.Username] = account.AccountID
	m.devices[device.DIDWrite] = device
}

// --- username.Checker ---

func (m *MemoryStore) UsernameTaken(_ context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.usernames[username]
	return ok, nil
}

var (
	_ app.DeviceStore     = (*MemoryStore)(nil)
	_ app.CredentialStore = (*MemoryStore)(nil)
	_ app.AttemptStore    = (*MemoryStore)(nil)
	_ app.AuthTransactor  = (*MemoryStore)(nil)
)
