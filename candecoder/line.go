package candecoder

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can"
)

func malformed(format string, args ...any) error {
	return errors.Wrapf(ErrMalformedFrame, format, args...)
}

func timestampScale(unit string) (int64, error) {
	switch unit {
	case "s":
		return int64(time.Second), nil
	case "ms":
		return int64(time.Millisecond), nil
	case "us":
		return int64(time.Microsecond), nil
	case "ns":
		return 1, nil
	}
	return 0, errors.Newf("unknown timestamp unit %q", unit)
}

// parseEpoch reads a decimal epoch value without going through float64, so
// nanosecond digits survive.
func parseEpoch(s, unit string) (time.Time, error) {
	scale, err := timestampScale(unit)
	if err != nil {
		return time.Time{}, err
	}
	whole, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	neg := strings.HasPrefix(whole, "-")
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	// keep room for the fractional part
	limit := int64(math.MaxInt64) / scale
	if scale > 1 {
		limit--
	}
	if sec > limit || sec < -limit {
		return time.Time{}, errors.Newf("%s%s does not fit in int64 nanoseconds", whole, unit)
	}
	ns := sec * scale
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		digits, err := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		part := digits * scale / int64(time.Second)
		if neg {
			part = -part
		}
		ns += part
	}
	return time.Unix(0, ns), nil
}

func parseLogID(s, encoding string) (uint32, error) {
	ss := strings.ToLower(strings.TrimSpace(s))
	base := 10
	if encoding == IDHex || strings.HasPrefix(ss, "0x") {
		base = 16
		ss = strings.TrimPrefix(ss, "0x")
	}
	u, err := strconv.ParseUint(ss, base, 32)
	if err != nil {
		return 0, err
	}
	return uint32(u), nil
}

func parseByte(s, encoding string) (byte, error) {
	base := 10
	if encoding == PayloadHex {
		base = 16
	}
	u, err := strconv.ParseUint(strings.TrimSpace(s), base, 8)
	return byte(u), err
}

func parsePayloadCell(s, encoding string) ([]byte, error) {
	if encoding == PayloadHex {
		clean := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(strings.TrimSpace(s))
		return hex.DecodeString(clean)
	}
	var out []byte
	for _, tok := range strings.Fields(s) {
		b, err := parseByte(tok, encoding)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func splitFields(line, delimiter string) []string {
	if strings.TrimSpace(delimiter) == "" {
		return strings.Fields(line)
	}
	fields := strings.Split(line, delimiter)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

// ParseLine splits one log line into its timestamp and frame without
// decoding any signal.
func ParseLine(line string, f LogFormat) (time.Time, can.Frame, error) {
	return parseLine(line, f)
}

// FormatCompactLine renders a frame in the CompactLogFormat layout.
func FormatCompactLine(ts time.Time, frame can.Frame) string {
	return strconv.FormatInt(ts.UnixNano(), 10) + "," +
		strings.ToUpper(strconv.FormatUint(uint64(frame.ID), 16)) + "," +
		strconv.Itoa(int(frame.Length)) + "," +
		strings.ToUpper(hex.EncodeToString(frame.Data[:frame.Length]))
}

func parseLine(line string, f LogFormat) (time.Time, can.Frame, error) {
	if f.Kind == FormatCandump {
		return parseCandump(line)
	}

	fields := splitFields(line, f.Delimiter)
	need := max(f.TimestampColumn, f.IDColumn, f.PayloadColumn, f.LengthColumn)
	if need >= len(fields) {
		return time.Time{}, can.Frame{}, malformed("expected at least %d fields, got %d", need+1, len(fields))
	}

	ts, err := parseEpoch(fields[f.TimestampColumn], f.TimestampUnit)
	if err != nil {
		return time.Time{}, can.Frame{}, malformed("timestamp %q: %v", fields[f.TimestampColumn], err)
	}
	id, err := parseLogID(fields[f.IDColumn], f.IDEncoding)
	if err != nil {
		return time.Time{}, can.Frame{}, malformed("can id %q: %v", fields[f.IDColumn], err)
	}

	var payload []byte
	if f.PayloadColumns > 0 {
		for i := 0; i < f.PayloadColumns; i++ {
			col := f.PayloadColumn + i
			if col >= len(fields) || fields[col] == "" {
				break
			}
			b, err := parseByte(fields[col], f.PayloadEncoding)
			if err != nil {
				return time.Time{}, can.Frame{}, malformed("payload byte %d %q: %v", i, fields[col], err)
			}
			payload = append(payload, b)
		}
	} else if payload, err = parsePayloadCell(fields[f.PayloadColumn], f.PayloadEncoding); err != nil {
		return time.Time{}, can.Frame{}, malformed("payload %q: %v", fields[f.PayloadColumn], err)
	}

	if f.LengthColumn != NoColumn {
		dlc, err := strconv.Atoi(fields[f.LengthColumn])
		if err != nil {
			return time.Time{}, can.Frame{}, malformed("dlc %q: %v", fields[f.LengthColumn], err)
		}
		if dlc < 0 || dlc > len(payload) {
			return time.Time{}, can.Frame{}, malformed("dlc %d with %d payload bytes", dlc, len(payload))
		}
		payload = payload[:dlc]
	}

	frame, err := newFrame(id, payload)
	return ts, frame, err
}

func newFrame(id uint32, payload []byte) (can.Frame, error) {
	if len(payload) > len(can.Data{}) {
		return can.Frame{}, malformed("payload of %d bytes exceeds %d", len(payload), len(can.Data{}))
	}
	frame := can.Frame{
		ID:         id,
		Length:     uint8(len(payload)),
		IsExtended: id > 0x7FF,
	}
	copy(frame.Data[:], payload)
	if err := frame.Validate(); err != nil {
		return can.Frame{}, malformed("%v", err)
	}
	return frame, nil
}

// parseCandump reads "(1436509052.249713) vcan0 5D1#0102".
func parseCandump(line string) (time.Time, can.Frame, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return time.Time{}, can.Frame{}, malformed("expected '(time) iface frame', got %q", line)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(fields[0], "("), ")")
	ts, err := parseEpoch(stamp, "s")
	if err != nil {
		return time.Time{}, can.Frame{}, malformed("timestamp %q: %v", fields[0], err)
	}
	var frame can.Frame
	if err := frame.UnmarshalString(fields[2]); err != nil {
		return time.Time{}, can.Frame{}, malformed("frame %q: %v", fields[2], err)
	}
	return ts, frame, nil
}
