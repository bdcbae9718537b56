package candecoder

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Definition and session errors are fatal to the call that returns them.
// Frame errors (ErrMalformedFrame, ErrBitRange) are recoverable: a decoding
// run skips the frame and records a *FrameError in its Report.
var (
	ErrDefinitionFormat        = errors.New("definition format error")
	ErrInvalidSignalDefinition = errors.New("invalid signal definition")
	ErrOverlappingSignal       = errors.New("overlapping signal")
	ErrIO                      = errors.New("io error")
	ErrMalformedFrame          = errors.New("malformed frame")
	ErrBitRange                = errors.New("bit range error")
	ErrDeserialization         = errors.New("deserialization error")

	ErrSessionOpen = errors.New("session is already open")
)

// FrameError locates a per-frame failure in the input.
type FrameError struct {
	Line int
	Raw  string
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Reason is a short label for metrics and summaries.
func (e *FrameError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrBitRange):
		return "bit_range"
	case errors.Is(e.Err, ErrMalformedFrame):
		return "malformed"
	default:
		return "other"
	}
}

// ioError keeps the os level cause matchable next to ErrIO.
func ioError(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrIO)
}

// IsFrameError reports whether err only affects a single frame.
func IsFrameError(err error) bool {
	return errors.Is(err, ErrMalformedFrame) || errors.Is(err, ErrBitRange)
}
