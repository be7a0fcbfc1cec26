// Package clock provides an injectable time source, replacing the bare
// global now() the source relies on (see design note in SPEC_FULL.md §9).
// Production code uses the real wall clock; tests substitute a Mock so
// merge and signature timestamps are deterministic and controllable.
package clock

import "github.com/benbjohnson/clock"

// Clock is the capability every timestamp in this module goes through.
type Clock = clock.Clock

// Mock is a controllable Clock for tests.
type Mock = clock.Mock

// New returns a Clock backed by the real wall clock.
func New() Clock {
	return clock.New()
}

// NewMock returns a Mock clock. Its initial time is the zero Unix epoch;
// tests that care about monotonic ordering should call Set or Add first.
func NewMock() *Mock {
	return clock.NewMock()
}

// NextUnix returns the unix-seconds timestamp to use for a fresh signature,
// given the prior timestamp from the same signer. It is monotone: if the
// clock hasn't advanced past prior, it is nudged forward by one second so
// that last-writer-wins ordering never stalls on fast successive updates
// from the same key (spec.md §4.2).
func NextUnix(c Clock, prior int64) int64 {
	now := c.Now().Unix()
	if now <= prior {
		return prior + 1
	}
	return now
}
