package gateway

import (
	"errors"
)

// ErrInvalidInput reports an externally supplied identifier or value that
// was rejected before any network call was made.
var ErrInvalidInput = errors.New("invalid input")
