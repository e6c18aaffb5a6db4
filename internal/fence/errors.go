package fence

import (
	"errors"

	"github.com/nerrad567/beacon-fence-core/internal/beacon"
)

var (
	// ErrInvalidSettings is returned when scanner settings carry negative periods.
	ErrInvalidSettings = errors.New("fence: invalid scanner settings")

	// ErrInvalidHandle is returned when Initialize is given a zero dispatcher handle.
	ErrInvalidHandle = errors.New("fence: invalid callback dispatcher handle")
)

// Code is the machine-readable part of an API error.
type Code string

const (
	CodeBeaconNotFound     Code = "beacon_not_found"
	CodeMissingPermission  Code = "missing_bluetooth_permission"
	CodeInvalidBeacon      Code = "invalid_beacon"
	CodeInvalidArgument    Code = "invalid_argument"
	CodeServiceUnavailable Code = "service_unavailable"
	CodeStorageCorrupt     Code = "storage_corrupt"
	CodePluginInternal     Code = "plugin_internal"
)

// Error is the structured {code, message} payload returned to callers.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// AsError maps any error onto the structured form. It returns nil for a nil error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	code := CodePluginInternal
	switch {
	case errors.Is(err, beacon.ErrNotFound):
		code = CodeBeaconNotFound
	case errors.Is(err, beacon.ErrPermissionDenied):
		code = CodeMissingPermission
	case errors.Is(err, beacon.ErrInvalidDefinition):
		code = CodeInvalidBeacon
	case errors.Is(err, ErrInvalidSettings), errors.Is(err, ErrInvalidHandle):
		code = CodeInvalidArgument
	case errors.Is(err, beacon.ErrServiceUnavailable):
		code = CodeServiceUnavailable
	case errors.Is(err, beacon.ErrStorageCorrupt):
		code = CodeStorageCorrupt
	}
	return &Error{Code: code, Message: err.Error()}
}
