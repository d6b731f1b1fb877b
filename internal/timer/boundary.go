package timer

import (
	"errors"
	"fmt"
	"time"

	"github.com/coral-mesh/pulse/internal/safe"
)

const (
	// Interval is the spacing between two boundaries.
	Interval = 10 * time.Second

	// IntervalSeconds is Interval expressed in whole seconds.
	IntervalSeconds uint64 = 10
)

// ErrClock is returned when the system clock reports a time before the Unix epoch.
var ErrClock = errors.New("system time is before unix epoch")

// TimeRange describes the 10-second bucket a timestamp falls into.
type TimeRange struct {
	// From is the boundary at or before Current.
	From uint64
	// Until is the next boundary after From.
	Until uint64
	// Current is the timestamp the range was computed for.
	Current uint64
	// Rem is the number of whole seconds left until Until (1..10).
	Rem uint64
}

// GetTimeRange buckets a Unix timestamp (seconds) into its 10-second range.
func GetTimeRange(ts uint64) TimeRange {
	from := ts / IntervalSeconds * IntervalSeconds
	return TimeRange{
		From:    from,
		Until:   from + IntervalSeconds,
		Current: ts,
		Rem:     IntervalSeconds - ts%IntervalSeconds,
	}
}

// RemainingToNextBoundary returns the whole seconds left until the next boundary
// after now+offset. When now+offset sits exactly on a boundary the result is 10, not 0.
func RemainingToNextBoundary(c Clock, offset time.Duration) (uint64, error) {
	tr, err := rangeAt(c, offset)
	if err != nil {
		return 0, err
	}
	return tr.Rem, nil
}

// CurrentBoundary returns the most recently crossed (or current) boundary of now+offset
// in Unix seconds.
func CurrentBoundary(c Clock, offset time.Duration) (uint64, error) {
	tr, err := rangeAt(c, offset)
	if err != nil {
		return 0, err
	}
	return tr.From, nil
}

// UntilNextBoundary returns the exact wait until the next boundary, with
// sub-second precision. A clock sitting exactly on a boundary waits a full Interval.
func UntilNextBoundary(c Clock) (time.Duration, error) {
	now := c.Now()
	if now.Before(time.Unix(0, 0)) {
		return 0, fmt.Errorf("failed to compute next boundary: %w", ErrClock)
	}
	elapsed := time.Duration(now.UnixNano() % int64(Interval))
	return Interval - elapsed, nil
}

func rangeAt(c Clock, offset time.Duration) (TimeRange, error) {
	secs, clamped := safe.Int64ToUint64(c.Now().Add(offset).Unix())
	if clamped {
		return TimeRange{}, fmt.Errorf("failed to read time range: %w", ErrClock)
	}
	return GetTimeRange(secs), nil
}
