package store

import "errors"

// Business outcomes. HTTP callers see them as 4xx responses; queue workers log
// them and commit the message, since retrying cannot change a business result.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict with current state")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
)

// IsBusiness reports whether err is a business outcome rather than an
// infrastructure failure.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrValidation)
}
