package settlement

import "errors"

// ErrNotExpired is returned when a trigger fires before the trade's persisted deadline.
var ErrNotExpired = errors.New("trade has not expired yet")
