package service

import "errors"

// Stable error kinds surfaced to callers. Transports and audits classify
// outcomes by comparing with errors.Is, never by matching message text.
var (
	// ErrValidation marks malformed input, rejected before any policy or
	// cryptographic work. Never audited as a security event.
	ErrValidation = errors.New("invalid request")
	// ErrDenied marks a policy denial. Always audited. The HTTP layer maps
	// it to not-found so callers cannot probe for document existence.
	ErrDenied = errors.New("access denied")
	// ErrNotFound marks a missing or inactive document.
	ErrNotFound = errors.New("document not found")
	// ErrIntegrity marks an authentication-tag failure during unseal.
	// Terminal, never retried, audited distinctly from a denial.
	ErrIntegrity = errors.New("payload integrity failure")
	// ErrAuditUnavailable marks an audit sink failure under the fail-closed
	// policy.
	ErrAuditUnavailable = errors.New("audit unavailable")
	// ErrStoreUnavailable marks a byte store failure after retries.
	ErrStoreUnavailable = errors.New("store unavailable")
)
