package calibration

import "errors"

// Sentinel kinds for calibration errors.
var (
	ErrInvalidParams = errors.New("invalid calibration params")
	ErrInvalidInput  = errors.New("invalid calibration input")
)
