package credit

import "errors"

var (
	ErrNotFound         = errors.New("credit not found")
	ErrUnauthenticated  = errors.New("authentication required")
	ErrNotOwner         = errors.New("credit belongs to another user")
	ErrConflict         = errors.New("credit state changed concurrently")
	ErrTokenMismatch    = errors.New("reservation token mismatch")
	ErrInvalidAmount    = errors.New("amount must be a positive number")
	ErrInvalidStatus    = errors.New("unknown credit status")
	ErrMissingSource    = errors.New("source_type is required")
	ErrMissingToken     = errors.New("reservation token is required")
	ErrMissingBookingID = errors.New("used_booking_id is required")
	ErrNotPrivileged    = errors.New("privileged access required")
	ErrStorage          = errors.New("storage failure")
)
