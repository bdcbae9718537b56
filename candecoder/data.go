package candecoder

import (
	"fmt"
	"time"

	"go.einride.tech/can"
)

// CANData is one decoded log line.
type CANData struct {
	Timestamp time.Time
	CANID     uint32
	// Signals maps signal names to physical values. It is empty, not nil,
	// for ids without definitions.
	Signals map[string]float64
	// Frame keeps the raw payload for diagnostics.
	Frame can.Frame
	Line  int
}

// Payload returns the raw bytes of the frame.
func (d CANData) Payload() []byte {
	return d.Frame.Data[:d.Frame.Length]
}

// Report summarizes a decoding run.
type Report struct {
	Lines     int
	Decoded   int
	Undefined int
	Skipped   int
	// Errors holds the first Config.MaxFrameErrors per-frame errors.
	Errors []*FrameError
	// Fatal is set when the run stopped before the end of the input.
	Fatal error
}

func (r Report) Summary() string {
	s := fmt.Sprintf("lines=%d decoded=%d undefined=%d skipped=%d", r.Lines, r.Decoded, r.Undefined, r.Skipped)
	if r.Fatal != nil {
		s += fmt.Sprintf(" fatal=%q", r.Fatal.Error())
	}
	return s
}
