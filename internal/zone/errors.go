package zone

import "errors"

var (
	// ErrZoneNotFound is returned when a zone name does not exist.
	ErrZoneNotFound = errors.New("zone not found")

	// ErrZoneExists is returned when creating a zone whose name or slug is taken.
	ErrZoneExists = errors.New("zone already exists")

	// ErrInvalidName is returned for empty or oversized zone names.
	ErrInvalidName = errors.New("invalid zone name")
)
