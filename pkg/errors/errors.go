// Package errors defines the sentinel errors shared by the linkage engine.
//
// Only conditions the caller must act on are errors. A property that matches no
// sale, or a queue entry another agent already claimed, is reported as a value
// (an outcome or a notice) and never through this package.
//
// Usage:
//
//	import slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
//
//	return nil, fmt.Errorf("property %d: %w", id, slerrors.ErrNotFound)
//
//	if slerrors.IsNotFound(err) {
//	    // 404
//	}
package errors

import "errors"

var (
	// ErrNotFound indicates the referenced property, sale or queue entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input, such as an unknown enum value or an empty agent.
	ErrValidation = errors.New("validation error")

	// ErrConflict indicates a uniqueness violation in the store.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized indicates a missing or wrong API token.
	ErrUnauthorized = errors.New("unauthorized")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUnauthorized reports whether any error in err's chain is ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
