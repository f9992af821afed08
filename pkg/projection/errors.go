package projection

import "errors"

// ErrUnsupportedOperation is returned when a projection rule is not known.
var ErrUnsupportedOperation = errors.New("unsupported projection type")
