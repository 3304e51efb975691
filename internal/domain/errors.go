package domain

import "errors"

// Rejection taxonomy returned by the market, registry and spawn state machines.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAlreadyResolved   = errors.New("market already resolved")
	ErrExpired           = errors.New("market expired")
	ErrInvalidOutcome    = errors.New("invalid outcome")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrUnauthorized      = errors.New("unauthorized")
)

// Infrastructure errors.
var (
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")
	ErrBadSignature = errors.New("bad signature")
	// ErrVersionConflict means another writer committed the instance first.
	// The step was not applied and may be retried.
	ErrVersionConflict = errors.New("version conflict")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{ErrAlreadyResolved, "already_resolved"},
	{ErrExpired, "expired"},
	{ErrInvalidOutcome, "invalid_outcome"},
	{ErrInvalidParameters, "invalid_parameters"},
	{ErrUnauthorized, "unauthorized"},
	{ErrRateLimited, "rate_limited"},
	{ErrLockHeld, "lock_held"},
	{ErrBadSignature, "bad_signature"},
	{ErrVersionConflict, "version_conflict"},
}

// Kind returns the taxonomy label for err, "internal" for unknown errors and
// "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// IsRejection reports whether err is one of the state machine rejections as
// opposed to an infrastructure failure.
func IsRejection(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrInvalidOutcome),
		errors.Is(err, ErrInvalidParameters),
		errors.Is(err, ErrUnauthorized):
		return true
	}
	return false
}
