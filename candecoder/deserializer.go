package candecoder

import (
	"bufio"
	"encoding/hex"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
)

var recordJSON = jsoniter.Config{UseNumber: true}.Froze()

// Serialize turns a record into its compact map form:
// {"t": unix ns, "id": can id, "len": dlc, "raw": hex payload, "signals": {...}}.
func Serialize(rec CANData) map[string]any {
	signals := make(map[string]any, len(rec.Signals))
	for k, v := range rec.Signals {
		signals[k] = v
	}
	return map[string]any{
		"t":       rec.Timestamp.UnixNano(),
		"id":      rec.CANID,
		"len":     int(rec.Frame.Length),
		"raw":     hex.EncodeToString(rec.Payload()),
		"signals": signals,
	}
}

// MarshalRecord is Serialize followed by JSON encoding.
func MarshalRecord(rec CANData) ([]byte, error) {
	return recordJSON.Marshal(Serialize(rec))
}

// Deserializer rebuilds records from their serialized form. A non-empty
// Signals list keeps only those signals.
type Deserializer struct {
	Signals []string
}

func NewDeserializer(signals ...string) *Deserializer {
	return &Deserializer{Signals: signals}
}

func (ds *Deserializer) wants(name string) bool {
	if len(ds.Signals) == 0 {
		return true
	}
	for _, s := range ds.Signals {
		if s == name {
			return true
		}
	}
	return false
}

func deserializationError(format string, args ...any) error {
	return errors.Wrapf(ErrDeserialization, format, args...)
}

// Deserialize is the inverse of Serialize. "t", "id" and "signals" are
// required; "raw" and "len" are optional.
func (ds *Deserializer) Deserialize(record map[string]any) (CANData, error) {
	var rec CANData

	tv, ok := record["t"]
	if !ok {
		return CANData{}, deserializationError("missing field %q", "t")
	}
	ns, err := toInt64(tv)
	if err != nil {
		return CANData{}, deserializationError("field t: %v", err)
	}
	rec.Timestamp = time.Unix(0, ns)

	iv, ok := record["id"]
	if !ok {
		return CANData{}, deserializationError("missing field %q", "id")
	}
	id, err := toCANID(iv)
	if err != nil {
		return CANData{}, deserializationError("field id: %v", err)
	}
	rec.CANID = id

	sv, ok := record["signals"]
	if !ok {
		return CANData{}, deserializationError("missing field %q", "signals")
	}
	signals, ok := sv.(map[string]any)
	if !ok {
		return CANData{}, deserializationError("field signals: expected object, got %T", sv)
	}
	rec.Signals = make(map[string]float64, len(signals))
	for name, v := range signals {
		if !ds.wants(name) {
			continue
		}
		f, err := toFloat64(v)
		if err != nil {
			return CANData{}, deserializationError("signal %s: %v", name, err)
		}
		rec.Signals[name] = f
	}

	var payload []byte
	if rv, ok := record["raw"]; ok {
		s, ok := rv.(string)
		if !ok {
			return CANData{}, deserializationError("field raw: expected string, got %T", rv)
		}
		if payload, err = hex.DecodeString(s); err != nil {
			return CANData{}, deserializationError("field raw: %v", err)
		}
	}
	if lv, ok := record["len"]; ok {
		n, err := toInt64(lv)
		if err != nil {
			return CANData{}, deserializationError("field len: %v", err)
		}
		if n < 0 || int(n) > len(payload) {
			return CANData{}, deserializationError("field len: %d with %d raw bytes", n, len(payload))
		}
		payload = payload[:n]
	}
	frame, err := newFrame(id, payload)
	if err != nil {
		return CANData{}, deserializationError("frame: %v", err)
	}
	rec.Frame = frame
	return rec, nil
}

// DeserializeJSON decodes one JSON encoded record.
func (ds *Deserializer) DeserializeJSON(data []byte) (CANData, error) {
	var record map[string]any
	if err := recordJSON.Unmarshal(data, &record); err != nil {
		return CANData{}, deserializationError("json: %v", err)
	}
	return ds.Deserialize(record)
}

// ReadJSONLines reads records written by a JSONLinesWriter.
func (ds *Deserializer) ReadJSONLines(r io.Reader) ([]CANData, error) {
	var out []CANData
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		rec, err := ds.DeserializeJSON([]byte(text))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		rec.Line = line
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, ioError(err, "read json lines")
	}
	return out, nil
}

type numberLike interface {
	Float64() (float64, error)
	Int64() (int64, error)
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case numberLike:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, errors.Newf("cannot convert %T to float64", v)
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case uint32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, errors.Newf("%v is not an integer", x)
		}
		return int64(x), nil
	case numberLike:
		return x.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	}
	return 0, errors.Newf("cannot convert %T to int64", v)
}

func toCANID(v any) (uint32, error) {
	if s, ok := v.(string); ok {
		return parseCANID(s, IDAuto)
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 0x1FFFFFFF {
		return 0, errors.Newf("can id %d out of range", n)
	}
	return uint32(n), nil
}
