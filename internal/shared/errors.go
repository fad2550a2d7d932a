package shared

import "errors"

// Error kinds surfaced to callers. Domain packages wrap one of these so that
// transports can map them without knowing every domain error.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied indicates the caller cannot act on the tenant.
	ErrAccessDenied = errors.New("access denied")
	// ErrPreconditionFailed indicates a business gate rejected the request.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrRoleNotAuthorized indicates the caller role cannot perform the action.
	ErrRoleNotAuthorized = errors.New("role not authorized")
	// ErrConflict indicates a concurrent write won the race; retrying is safe.
	ErrConflict = errors.New("conflict")
)
