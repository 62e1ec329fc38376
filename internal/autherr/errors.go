// Package autherr defines the error taxonomy of the authentication core.
//
// Validation level errors are expected user facing outcomes and are collapsed
// to a single generic message at the transport boundary so a caller cannot
// probe which precondition failed. Transaction level errors indicate storage
// malfunction and are logged with full context.
package autherr

import "errors"

var (
	ErrInvalidEmail         = errors.New("invalid email")
	ErrEmailAlreadyAssigned = errors.New("email already assigned")
	ErrUserNotFound         = errors.New("user not found")

	ErrNoSession          = errors.New("no session")
	ErrQueryEmailMismatch = errors.New("query email mismatch")
	ErrTokenExpired       = errors.New("token expired")
	ErrValidationFailed   = errors.New("token validation failed")

	ErrUnknownTokenType       = errors.New("unknown token type")
	ErrCapabilityNotSupported = errors.New("capability not supported")
	ErrSharedSecretGeneration = errors.New("shared secret generation failed")
	ErrSharedSecretValidation = errors.New("shared secret validation failed")

	ErrAuthorizationFailed = errors.New("authorization failed")
	ErrSessionInit         = errors.New("session initialization failed")
	ErrDestroySession      = errors.New("destroy session failed")

	ErrTwoFactorAlreadyEnabled  = errors.New("second factor already enabled")
	ErrTwoFactorAlreadyDisabled = errors.New("second factor already disabled")
	ErrSecondFactorNotReady     = errors.New("second factor not ready")
	ErrTwoFactorHasToBeDisabled = errors.New("second factor has to be disabled")
)

// IsValidation reports whether err belongs to the validation layer of the
// taxonomy, i.e. an expected outcome of user input rather than a malfunction.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidEmail,
		ErrEmailAlreadyAssigned,
		ErrUserNotFound,
		ErrNoSession,
		ErrQueryEmailMismatch,
		ErrTokenExpired,
		ErrValidationFailed,
		ErrUnknownTokenType,
		ErrCapabilityNotSupported,
		ErrSharedSecretGeneration,
		ErrSharedSecretValidation,
		ErrTwoFactorAlreadyEnabled,
		ErrTwoFactorAlreadyDisabled,
		ErrSecondFactorNotReady,
		ErrTwoFactorHasToBeDisabled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
