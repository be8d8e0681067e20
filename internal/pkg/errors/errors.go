package errors

import "errors"

// Sentinels for the failure taxonomy. Components wrap these with
// fmt.Errorf("...: %w", ...) so callers can branch with errors.Is.
var (
	// ErrValidation marks malformed identifiers or input rejected before
	// any external call is made.
	ErrValidation = errors.New("validation failed")
	// ErrBudgetExceeded is soft: the affected item degrades to the
	// deterministic fallback instead of aborting the run.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrGatewayTimeout covers a single call exceeding its deadline. It is
	// counted by the circuit breaker like any other failure.
	ErrGatewayTimeout = errors.New("gateway timeout")
	// ErrGatewayFailure covers non-timeout call failures.
	ErrGatewayFailure = errors.New("gateway failure")
	// ErrCircuitOpen is returned when the breaker short-circuits a call.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrDedupRace means the promotion lock could not be acquired; the
	// candidate is skipped within the run, not retried.
	ErrDedupRace = errors.New("dedup lock contention")
	// ErrQualityRejected marks a candidate dropped by the quality gate.
	ErrQualityRejected = errors.New("quality rejected")
	// ErrRunTimeout and ErrStepLimit are fatal for the run.
	ErrRunTimeout = errors.New("run timeout exceeded")
	ErrStepLimit  = errors.New("run step limit exceeded")
)
