package alloc

import (
	"errors"
	"fmt"
)

// Resource names a scarce resource the allocator hands out.
type Resource string

const (
	ResourceCPU   Resource = "cpu"
	ResourceMemif Resource = "memif"
)

// ExhaustionError reports that enabled modules need more of a resource
// than the host provides.
type ExhaustionError struct {
	Resource  Resource
	Module    string
	Requested int
	Available int
}

// Error implements the error interface.
func (e *ExhaustionError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("%s exhausted: module %s cannot be satisfied (requested %d, available %d)",
			e.Resource, e.Module, e.Requested, e.Available)
	}
	return fmt.Sprintf("%s exhausted: requested %d, available %d", e.Resource, e.Requested, e.Available)
}

// IsExhaustion reports whether err is an *ExhaustionError.
func IsExhaustion(err error) bool {
	var e *ExhaustionError
	return errors.As(err, &e)
}
