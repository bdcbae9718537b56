package candecoder

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can"
)

func TestParseEpoch(t *testing.T) {
	cases := []struct {
		in   string
		unit string
		want int64
	}{
		{"1600000000.249713", "s", 1600000000249713000},
		{"1600000000123", "ms", 1600000000123000000},
		{"12.5", "us", 12500},
		{"1600000000123456789", "ns", 1600000000123456789},
		{"-1.5", "s", -1500000000},
	}
	for _, tc := range cases {
		got, err := parseEpoch(tc.in, tc.unit)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.in, tc.unit, err)
		}
		if got.UnixNano() != tc.want {
			t.Fatalf("%s %s: got %d want %d", tc.in, tc.unit, got.UnixNano(), tc.want)
		}
	}
	if _, err := parseEpoch("1.0", "h"); err == nil {
		t.Fatalf("expected unknown unit error")
	}
	for _, tc := range []struct{ in, unit string }{
		{"9223372036854775807", "ms"},
		{"9223372036", "s"},
		{"-9223372036854775", "ms"},
	} {
		if _, err := parseEpoch(tc.in, tc.unit); err == nil {
			t.Fatalf("%s %s: expected an overflow error", tc.in, tc.unit)
		}
	}
	if _, err := parseEpoch("9223372035.5", "s"); err != nil {
		t.Fatalf("largest whole second rejected: %v", err)
	}
}

func TestParseLineTimestampOverflow(t *testing.T) {
	f := CompactLogFormat()
	f.TimestampUnit = "ms"
	if _, _, err := ParseLine("9223372036854775807,100,1,00", f); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestCompactLineRoundTrip(t *testing.T) {
	ts := time.Unix(0, 1600000000000000042)
	frame := can.Frame{ID: 0x1ABCDEF, IsExtended: true, Length: 4, Data: can.Data{0xDE, 0xAD, 0xBE, 0xEF}}
	line := FormatCompactLine(ts, frame)
	if line != "1600000000000000042,1ABCDEF,4,DEADBEEF" {
		t.Fatalf("unexpected line %q", line)
	}
	gotTS, got, err := ParseLine(line, CompactLogFormat())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !gotTS.Equal(ts) || got != frame {
		t.Fatalf("round trip gave %v %v", gotTS, got)
	}
}

func TestParseCandumpLine(t *testing.T) {
	ts, frame, err := ParseLine("(1436509052.249713) vcan0 5D1#0102", CandumpLogFormat())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ts.UnixNano() != 1436509052249713000 || frame.ID != 0x5D1 || frame.Length != 2 || frame.Data[1] != 0x02 {
		t.Fatalf("unexpected frame %v at %v", frame, ts)
	}
	for _, line := range []string{"(1.0) vcan0", "(x) vcan0 5D1#01", "(1.0) vcan0 5D1#0"} {
		if _, _, err := ParseLine(line, CandumpLogFormat()); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("%q: expected ErrMalformedFrame, got %v", line, err)
		}
	}
}

func TestParseLineWhitespaceDelimiter(t *testing.T) {
	f := CompactLogFormat()
	f.Delimiter = " "
	f.PayloadEncoding = PayloadDecimal
	f.PayloadColumns = 8
	_, frame, err := ParseLine("1000  100 2 3 232", f)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.Length != 2 || frame.Data[0] != 3 || frame.Data[1] != 232 {
		t.Fatalf("unexpected frame %v", frame)
	}
}
