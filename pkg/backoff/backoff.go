package backoff

import "time"

// Step returns the reschedule delay for an item given its recorded failure
// count: the base interval for the first retry, escalating by a flat amount
// from the second retry on.
func Step(base, escalation time.Duration, failures int) time.Duration {
	if failures <= 1 {
		return base
	}
	return base + escalation
}
