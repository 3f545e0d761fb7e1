package session

import "errors"

// Gateway operations fail with one of these sentinels, usually wrapped
// with call context. Callers match with errors.Is.
var (
	// ErrConstruction marks a failed session build. The registry slot is
	// released, so the tenant may retry immediately.
	ErrConstruction = errors.New("session construction failed")

	// ErrAuthTimeout marks a pairing that never completed inside the
	// configured window.
	ErrAuthTimeout = errors.New("authentication timed out")

	// ErrAuthRejected marks an upstream refusal: bad pairing, remote
	// logout, account ban.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrNotReady marks an operation against a session that is not (or
	// no longer) authenticated.
	ErrNotReady = errors.New("session not ready")

	// ErrNotEntitled marks a tenant whose plan does not allow the
	// operation. Distinct from session failures on purpose.
	ErrNotEntitled = errors.New("tenant not entitled")

	// ErrUpstream marks a delegated call that failed inside the
	// messaging service.
	ErrUpstream = errors.New("upstream call failed")

	// ErrNotAGroup rejects group-only operations aimed at direct chats.
	ErrNotAGroup = errors.New("chat is not a group")
)

// Upstream tags a driver failure so it matches ErrUpstream while the
// original cause stays reachable through Unwrap.
func Upstream(op string, cause error) error {
	return &upstreamError{op: op, cause: cause}
}

type upstreamError struct {
	op    string
	cause error
}

func (e *upstreamError) Error() string {
	return "upstream call failed: " + e.op + ": " + e.cause.Error()
}

func (e *upstreamError) Unwrap() error { return e.cause }

func (e *upstreamError) Is(target error) bool { return target == ErrUpstream }

