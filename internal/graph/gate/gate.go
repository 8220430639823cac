// Package gate implements the time policy deciding whether a record may
// advance to a new snapshot. It is a pure predicate over two timestamps and
// holds no state.
package gate

import (
	"fmt"

	dErrors "vicinity/pkg/domain-errors"
)

// MinUpdateInterval is the minimum time, in milliseconds, that must elapse
// between two successful updates of the same record. The boundary is
// inclusive: an update exactly MinUpdateInterval after the last one succeeds.
const MinUpdateInterval uint64 = 10_000

// Check returns nil when an update at time now is allowed given the record's
// last update at time last.
//
// A clock reading smaller than the last recorded timestamp is rejected as a
// clock regression rather than fed into an unsigned subtraction, which would
// wrap and incorrectly satisfy the interval.
func Check(now, last uint64) error {
	if now < last {
		return dErrors.New(dErrors.CodeClockRegression,
			fmt.Sprintf("clock moved backwards: now=%d is before last update at %d", now, last))
	}
	if now-last < MinUpdateInterval {
		return dErrors.New(dErrors.CodeUpdateTooSoon,
			fmt.Sprintf("only %dms since last update, need %dms", now-last, MinUpdateInterval))
	}
	return nil
}
