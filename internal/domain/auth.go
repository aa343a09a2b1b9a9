package domain

// AuthType is the result of classifying a device identity against a hashed
// identifier (phone hash or ZKP nullifier).
type AuthType string

const (
	AuthTypeRegister                  AuthType = "register"
	AuthTypeLoginKnownDevice          AuthType = "login_known_device"
	AuthTypeLoginNewDevice            AuthType = "login_new_device"
	AuthTypeAssociatedWithAnotherUser AuthType = "associated_with_another_user"
)

// IsValid reports whether t is one of the four classification results.
func (t AuthType) IsValid() bool {
	switch t {
	case AuthTypeRegister, AuthTypeLoginKnownDevice, AuthTypeLoginNewDevice, AuthTypeAssociatedWithAnotherUser:
		return true
	}
	return false
}

// Association describes how a device identity relates to a hashed identifier.
type Association string

const (
	// AssociationDoesNotExist means the device identity is not bound to any account.
	AssociationDoesNotExist Association = "does_not_exist"
	// AssociationAssociated means the device's account owns the identifier.
	AssociationAssociated Association = "associated"
	// AssociationNotAssociated means the device belongs to an account that does
	// not own the identifier.
	AssociationNotAssociated Association = "not_associated"
)

// FailureReason enumerates the expected, non-fault outcomes of authentication
// operations. Callers branch on these; they are never returned as errors.
type FailureReason string

const (
	ReasonAlreadyLoggedIn           FailureReason = "already_logged_in"
	ReasonAssociatedWithAnotherUser FailureReason = "associated_with_another_user"
	ReasonExpiredCode               FailureReason = "expired_code"
	ReasonWrongGuess                FailureReason = "wrong_guess"
	ReasonTooManyWrongGuess         FailureReason = "too_many_wrong_guess"
	ReasonThrottled                 FailureReason = "throttled"
)

// AuthMethod identifies the credential kind that backs an account.
type AuthMethod string

const (
	AuthMethodPhone AuthMethod = "phone"
	AuthMethodZKP   AuthMethod = "zkp"
)
