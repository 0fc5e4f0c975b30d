package fleet

import "errors"

// Ошибки домена. Обработчики сопоставляют их с HTTP-статусами через errors.Is.
var (
	ErrMissingCredential  = errors.New("missing credential")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrPreconditionNotMet = errors.New("precondition not met")
	ErrInvalidDeviceType  = errors.New("invalid device type")
	ErrDeviceNotApproved  = errors.New("device not approved")
	ErrNoPendingConfig    = errors.New("no pending config")
	ErrPersistence        = errors.New("persistence failure")
	ErrInvalidArgument    = errors.New("invalid argument")
)
