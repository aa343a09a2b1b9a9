package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/deliberation-platform/identity/internal/domain"
)

// credentialOwner is the result of looking up which account, if any, owns a
// credential with a given hashed identifier.
type credentialOwner struct {
	accountID string
	found     bool
}

// identifierKind adapts the association and account resolution to one
// credential type. pendingAccount is nil for identifiers that have no
// unconfirmed state (ZKP nullifiers are committed on proof acceptance).
type identifierKind struct {
	method         domain.AuthMethod
	owner          func(ctx context.Context, identifier string) (credentialOwner, error)
	pendingAccount func(ctx context.Context, identifier string) (string, bool, error)
}

func (s *AuthService) phoneIdentifier() identifierKind {
	return identifierKind{
		method: domain.AuthMethodPhone,
		owner: func(ctx context.Context, phoneHash string) (credentialOwner, error) {
			cred, err := s.credentials.GetPhoneCredential(ctx, phoneHash)
			if errors.Is(err, domain.ErrNotFound) {
				return credentialOwner{}, nil
			}
			if err != nil {
				return credentialOwner{}, fmt.Errorf("get phone credential: %w", err)
			}
			return credentialOwner{accountID: cred.AccountID, found: true}, nil
		},
		pendingAccount: s.pendingPhoneAccount,
	}
}

func (s *AuthService) zkpIdentifier() identifierKind {
	return identifierKind{
		method: domain.AuthMethodZKP,
		owner: func(ctx context.Context, nullifier string) (credentialOwner, error) {
			cred, err := s.credentials.GetZKPCredential(ctx, nullifier)
			if errors.Is(err, domain.ErrNotFound) {
				return credentialOwner{}, nil
			}
			if err != nil {
				return credentialOwner{}, fmt.Errorf("get zkp credential: %w", err)
			}
			return credentialOwner{accountID: cred.AccountID, found: true}, nil
		},
	}
}

// pendingPhoneAccount returns the account id reserved by the oldest
// unconfirmed attempt for this phone hash, so that repeated attempts from
// several devices converge on the same id before registration completes.
func (s *AuthService) pendingPhoneAccount(ctx context.Context, phoneHash string) (string, bool, error) {
	attempts, err := s.attempts.ListAttemptsByPhoneHash(ctx, phoneHash)
	if err != nil {
		return "", false, fmt.Errorf("list attempts by phone hash: %w", err)
	}
	if len(attempts) == 0 {
		return "", false, nil
	}
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].CreatedAt.Before(attempts[j].CreatedAt)
	})
	return attempts[0].AccountID, true, nil
}

// resolveAssociation tells whether the device's account owns the identifier.
// The result never reveals which account owns it when it is someone else's.
func (s *AuthService) resolveAssociation(ctx context.Context, didWrite string, owner credentialOwner) (domain.Association, error) {
	device, err := s.devices.GetDevice(ctx, didWrite)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.AssociationDoesNotExist, nil
	}
	if err != nil {
		return "", fmt.Errorf("get device: %w", err)
	}
	if owner.found && owner.accountID == device.AccountID {
		return domain.AssociationAssociated, nil
	}
	return domain.AssociationNotAssociated, nil
}

// resolveOrCreateAccountID returns the owner of the credential, else the
// account of a pending attempt, else a fresh id.
func (s *AuthService) resolveOrCreateAccountID(ctx context.Context, identifier string, owner credentialOwner, kind identifierKind) (string, error) {
	if owner.found {
		return owner.accountID, nil
	}
	if kind.pendingAccount != nil {
		accountID, ok, err := kind.pendingAccount(ctx, identifier)
		if err != nil {
			return "", err
		}
		if ok && accountID != "" {
			return accountID, nil
		}
	}
	return domain.GenerateAccountID().String(), nil
}
