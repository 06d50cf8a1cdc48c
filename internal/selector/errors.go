package selector

import (
	"errors"
	"fmt"
)

var errEmptyPath = errors.New("context_match clause has an empty path")

// UnknownOpError reports an operator outside the supported set
type UnknownOpError struct {
	Op string
}

func (e *UnknownOpError) Error() string {
	return fmt.Sprintf("unknown context_match operator %q (supported: eq, ne, contains, gt, lt, gte, lte, exists)", e.Op)
}
