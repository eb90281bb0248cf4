package capture

import "errors"

var (
	ErrValidation          = errors.New("capture: label is empty")
	ErrBusy                = errors.New("capture: an attempt is already in progress")
	ErrSignedOut           = errors.New("capture: no owner signed in")
	ErrUnresolvedLocation  = errors.New("capture: location could not be determined")
	ErrPersistence         = errors.New("capture: anchor could not be saved")
	ErrOverrideUnavailable = errors.New("capture: save without location is not available")
	ErrIllegalTransition   = errors.New("capture: illegal state transition")
)

// Messages shown to the user for each error state.
const (
	MessageValidation = "Enter the trailing digits from your camera file name."
	MessageUnresolved = "Could not get your location. Try again or tap \"Save without GPS\" to keep the frame."
	MessagePersist    = "Could not save this anchor. Please try again."
)
