package district

import (
	"fmt"
	"strings"
)

// UnknownBoundarySetTypeError is returned when a named type has no
// boundaries loaded and is not configured.
type UnknownBoundarySetTypeError struct {
	Type      string
	Available []string
}

func (e *UnknownBoundarySetTypeError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("district: unknown boundary type %q (no boundaries loaded)", e.Type)
	}
	return fmt.Sprintf("district: unknown boundary type %q (available: %s)", e.Type, strings.Join(e.Available, ", "))
}
