package beacon

import "errors"

// Domain errors for the beacon package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, beacon.ErrNotFound) {
//	    // handle unknown region id
//	}
var (
	// ErrNotFound is returned when a region id is not registered.
	ErrNotFound = errors.New("beacon: not found")

	// ErrInvalidDefinition is returned when a definition fails validation.
	ErrInvalidDefinition = errors.New("beacon: invalid definition")

	// ErrPermissionDenied is returned when the scanner lacks Bluetooth authorisation.
	ErrPermissionDenied = errors.New("beacon: missing bluetooth permission")

	// ErrServiceUnavailable is returned when the scanner cannot be reached.
	ErrServiceUnavailable = errors.New("beacon: scanner unavailable")

	// ErrStorageCorrupt is returned when a persisted record cannot be decoded.
	ErrStorageCorrupt = errors.New("beacon: storage record corrupt")
)
