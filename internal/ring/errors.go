package ring

import "errors"

// ErrFull is returned by Push when the ring has no free slot for the
// next head index. It is a normal control value, not a failure: the
// caller should back off and retry, not propagate it.
var ErrFull = errors.New("ring: full")

// ErrEmpty is returned by Fetch when the ring has nothing published at
// the current tail index. Like ErrFull, this is a normal control
// value.
var ErrEmpty = errors.New("ring: empty")
