package vision

import "errors"

// ErrMalformedDetection is returned when raw model output cannot be normalized.
var ErrMalformedDetection = errors.New("malformed detection")

// ErrDetectorUnavailable is returned when the external model cannot be reached.
var ErrDetectorUnavailable = errors.New("detector unavailable")

// ErrImageRejected is returned when the model refuses the submitted image.
var ErrImageRejected = errors.New("image rejected by detector")
