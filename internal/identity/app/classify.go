package app

import (
	"context"

	"github.com/deliberation-platform/identity/internal/domain"
)

// Classification is the authentication type of a device identity for one
// hashed identifier, and the account the outcome applies to.
type Classification struct {
	Type      domain.AuthType
	AccountID string
}

// classify combines identifier availability with the device association:
//
//	available   + does_not_exist -> register
//	unavailable + does_not_exist -> login_new_device
//	any         + associated     -> login_known_device
//	any         + not_associated -> associated_with_another_user
func (s *AuthService) classify(ctx context.Context, didWrite, identifier string, kind identifierKind) (Classification, error) {
	owner, err := kind.owner(ctx, identifier)
	if err != nil {
		return Classification{}, err
	}

	association, err := s.resolveAssociation(ctx, didWrite, owner)
	if err != nil {
		return Classification{}, err
	}

	accountID, err := s.resolveOrCreateAccountID(ctx, identifier, owner, kind)
	if err != nil {
		return Classification{}, err
	}

	var authType domain.AuthType
	switch association {
	case domain.AssociationAssociated:
		authType = domain.AuthTypeLoginKnownDevice
	case domain.AssociationNotAssociated:
		authType = domain.AuthTypeAssociatedWithAnotherUser
	default:
		if owner.found {
			authType = domain.AuthTypeLoginNewDevice
		} else {
			authType = domain.AuthTypeRegister
		}
	}

	return Classification{Type: authType, AccountID: accountID}, nil
}
