package shared

import "errors"

// Error kinds shared by every store. Package level sentinels wrap one of
// these so the HTTP layer can translate them without importing the domain.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a uniqueness violation.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidReference indicates a dangling foreign reference supplied by the caller.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrConflict indicates the change would break a structural invariant.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the subject lacks the required permission.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated indicates no authenticated subject is attached to the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// IsDomainError reports whether err wraps one of the shared error kinds.
func IsDomainError(err error) bool {
	for _, kind := range []error{
		ErrNotFound, ErrDuplicate, ErrValidation, ErrInvalidReference,
		ErrConflict, ErrForbidden, ErrUnauthenticated, ErrInvalidCredentials,
		ErrCSRFTokenMissing, ErrCSRFTokenMismatch,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// UserSafeMessage hides internal failures behind a generic message.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsDomainError(err):
		return err.Error()
	default:
		return "internal error"
	}
}
