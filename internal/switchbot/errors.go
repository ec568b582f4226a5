package switchbot

import (
	"errors"
	"fmt"
)

// ResolutionError reports that a device name could not be mapped to a device id,
// either because the list call was rejected or the name was not returned.
type ResolutionError struct {
	Name       string // empty when the list call itself failed
	StatusCode int    // vendor envelope code; 0 when the name was simply absent
	Raw        []byte // raw response for diagnostics
}

func (e *ResolutionError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("switchbot: unable to fetch device ids: status %d: %s", e.StatusCode, string(e.Raw))
	}
	return fmt.Sprintf("switchbot: device %q not found", e.Name)
}

// OperationError reports a non-success envelope from a status or command call.
// The executor treats it as a sign that the cached device id may be stale.
type OperationError struct {
	DeviceID   string
	StatusCode int
	Raw        []byte
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("switchbot: operation on device %s failed: status %d: %s", e.DeviceID, e.StatusCode, string(e.Raw))
}

// APIError is a transport-level failure: non-2xx HTTP status or an
// undecodable response body.
type APIError struct {
	Method     string
	Path       string
	HTTPStatus int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("switchbot API %s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("switchbot API %s %s returned %d: %s", e.Method, e.Path, e.HTTPStatus, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsResolution reports whether err is (or wraps) a *ResolutionError.
func IsResolution(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// IsOperation reports whether err is (or wraps) an *OperationError.
func IsOperation(err error) bool {
	var oe *OperationError
	return errors.As(err, &oe)
}
