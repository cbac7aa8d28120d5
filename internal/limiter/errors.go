package limiter

import "errors"

// ErrInvalidArgument is returned for an empty client key, a requested token
// count that is not a positive finite number, or a malformed bucket config.
// A check that fails with it leaves every bucket, counter and log untouched.
var ErrInvalidArgument = errors.New("invalid argument")
