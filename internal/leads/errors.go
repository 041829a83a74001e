package leads

import "errors"

var (
	// ErrInvalidName is returned when a web lead has no name
	ErrInvalidName = errors.New("leads: name is required")

	// ErrMissingContact is returned when both email and phone are missing
	ErrMissingContact = errors.New("leads: either email or phone is required")

	// ErrInvalidSource is returned for an unknown intake channel
	ErrInvalidSource = errors.New("leads: invalid source")

	// ErrInvalidType is returned for an unknown lead type
	ErrInvalidType = errors.New("leads: invalid type")

	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("leads: lead not found")

	// ErrStatusConflict is returned when a lead's stored status no longer
	// matches the status a writer expected.
	ErrStatusConflict = errors.New("leads: status changed concurrently")

	// ErrDuplicatePhone is returned when another lead already holds the
	// phone number.
	ErrDuplicatePhone = errors.New("leads: phone already registered")
)
