// Package errs enumerates the error kinds spec.md §7 requires every
// component to classify its failures into. Each kind is a sentinel
// error; call sites wrap it with fmt.Errorf("%w: ...", errs.ErrX, ...)
// and callers discriminate with errors.Is, following the teacher's
// plain fmt.Errorf style rather than a bespoke error-code type.
package errs

import "errors"

var (
	ErrInvalidConfiguration    = errors.New("invalid_configuration")
	ErrInvalidAddressFormat    = errors.New("invalid_address_format")
	ErrDuplicateKey            = errors.New("duplicate_key")
	ErrOutOfRange              = errors.New("out_of_range")
	ErrPeerUnreachable         = errors.New("peer_unreachable")
	ErrTimeout                 = errors.New("timeout")
	ErrPlatformAgent           = errors.New("platform_agent_error")
	ErrSchemaMismatch          = errors.New("schema_mismatch")
	ErrMemoryLimitExceeded     = errors.New("memory_limit_exceeded")
	ErrInvariantViolation      = errors.New("internal_invariant_violation")
)
