package candecoder

import (
	"math"

	"github.com/cockroachdb/errors"

	"can-log-decoder/utils"
)

func checkRange(payload []byte, ba BitAssign) (first, n int, err error) {
	if ba.BitLength <= 0 || ba.BitLength > MaxPayloadBits || ba.StartBit < 0 {
		return 0, 0, errors.Wrapf(ErrBitRange, "signal %s: invalid bit range [%d,%d)",
			ba.Name, ba.StartBit, ba.StartBit+ba.BitLength)
	}
	first, n = ba.Span()
	if first+n > len(payload) || n > 8 {
		return 0, 0, errors.Wrapf(ErrBitRange, "signal %s: needs bytes %d..%d, payload has %d",
			ba.Name, first, first+n-1, len(payload))
	}
	return first, n, nil
}

// ExtractRaw returns the raw integer of the signal, sign extended when the
// signal is signed.
func ExtractRaw(payload []byte, ba BitAssign) (int64, error) {
	first, n, err := checkRange(payload, ba)
	if err != nil {
		return 0, err
	}
	span := utils.ReadSpan(payload, first, n, ba.ByteOrder == BigEndian)
	u := utils.GetBits(span, ba.StartBit%8, ba.BitLength)
	return utils.UnsignedToRawInt64(u, ba.BitLength, ba.IsSigned), nil
}

// UnpackData decodes the physical value of one signal:
// raw * scale + offset.
func UnpackData(payload []byte, ba BitAssign) (float64, error) {
	raw, err := ExtractRaw(payload, ba)
	if err != nil {
		return 0, err
	}
	if !ba.IsSigned && raw < 0 {
		// 64 bit unsigned fields above MaxInt64
		return float64(uint64(raw))*ba.Scale + ba.Offset, nil
	}
	return float64(raw)*ba.Scale + ba.Offset, nil
}

// PackData writes physical into payload in place. The raw value is rounded
// to the nearest step and clamped to what the field can hold.
func PackData(payload []byte, ba BitAssign, physical float64) error {
	first, n, err := checkRange(payload, ba)
	if err != nil {
		return err
	}
	if ba.Scale == 0 {
		return errors.Wrapf(ErrInvalidSignalDefinition, "signal %s: zero scale", ba.Name)
	}
	raw := int64(math.Round((physical - ba.Offset) / ba.Scale))
	raw = utils.ClampRaw(raw, ba.BitLength, ba.IsSigned)

	bigEndian := ba.ByteOrder == BigEndian
	span := utils.ReadSpan(payload, first, n, bigEndian)
	span = utils.SetBits(span, ba.StartBit%8, ba.BitLength, utils.RawToUnsigned(raw, ba.BitLength))
	utils.WriteSpan(payload, first, n, bigEndian, span)
	return nil
}
