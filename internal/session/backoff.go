package session

import "time"

const (
	backoffBase   = 500 * time.Millisecond
	backoffFactor = 1.6
	backoffCap    = 8 * time.Second
)

// backoffDelay returns the reconnect delay after the given number of
// consecutive failures: capped exponential growth from the base. The
// caller resets the failure count on a successful open.
func backoffDelay(failures int) time.Duration {
	d := float64(backoffBase)
	for i := 0; i < failures; i++ {
		d *= backoffFactor
		if d >= float64(backoffCap) {
			return backoffCap
		}
	}
	return time.Duration(d)
}
