package service

import "agent-settlement-engine/pkg/apperror"

// maxConflictAttempts bounds optimistic-concurrency retries. Each attempt
// re-loads the aggregate, so a retry always operates on fresh state.
const maxConflictAttempts = 3

// withConflictRetry runs a load-execute-append cycle, retrying on version
// conflicts. Any other error, and the conflict from the final attempt,
// surface to the caller.
func withConflictRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictAttempts; attempt++ {
		err = fn()
		if err == nil || !apperror.IsConcurrencyConflict(err) {
			return err
		}
	}
	return err
}
