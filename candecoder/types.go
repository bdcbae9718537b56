package candecoder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// MaxPayloadBits is the classic CAN payload width.
const MaxPayloadBits = 64

type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

func (o ByteOrder) String() string {
	if o == LittleEndian {
		return "little"
	}
	return "big"
}

// ParseByteOrder resolves the byte order tokens accepted in definition tables.
// DBC numbering (0 = Motorola, 1 = Intel) is accepted as well.
func ParseByteOrder(token string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "big", "big-endian", "big_endian", "bigendian", "be", "motorola", "msb", "0":
		return BigEndian, nil
	case "little", "little-endian", "little_endian", "littleendian", "le", "intel", "lsb", "1":
		return LittleEndian, nil
	}
	return BigEndian, errors.Wrapf(ErrInvalidSignalDefinition, "unknown byte order %q", token)
}

func parseSigned(token string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "1", "true", "yes", "y", "signed", "s":
		return true, nil
	case "", "0", "false", "no", "n", "unsigned", "u", "+", "-":
		return false, nil
	}
	return false, errors.Wrapf(ErrInvalidSignalDefinition, "unknown signedness %q", token)
}

// MuxKind marks multiplexed signals: a Selector picks which Variant signals
// of the same frame are valid.
type MuxKind int

const (
	MuxNone MuxKind = iota
	MuxSelector
	MuxVariant
)

func parseMux(token string) (MuxKind, uint64, error) {
	t := strings.TrimSpace(token)
	switch {
	case t == "":
		return MuxNone, 0, nil
	case t == "M":
		return MuxSelector, 0, nil
	case strings.HasPrefix(t, "m"):
		v, err := strconv.ParseUint(t[1:], 10, 64)
		if err != nil {
			return MuxNone, 0, errors.Wrapf(ErrInvalidSignalDefinition, "bad multiplexer token %q", token)
		}
		return MuxVariant, v, nil
	}
	return MuxNone, 0, errors.Wrapf(ErrInvalidSignalDefinition, "bad multiplexer token %q", token)
}

// BitAssign is the validated extraction rule of one signal.
//
// The signal occupies bytes StartBit/8 .. (StartBit+BitLength-1)/8 of the
// payload. Those bytes are joined into one unsigned integer in ByteOrder and
// the field starts StartBit%8 bits above its least significant bit.
type BitAssign struct {
	Name        string
	Description string
	CANID       uint32
	StartBit    int
	BitLength   int
	ByteOrder   ByteOrder
	IsSigned    bool
	Scale       float64
	Offset      float64
	Unit        string
	Mux         MuxKind
	MuxValue    uint64
}

// Span returns the first payload byte and the number of bytes covered.
func (b BitAssign) Span() (first, n int) {
	first = b.StartBit / 8
	last := (b.StartBit + b.BitLength - 1) / 8
	return first, last - first + 1
}

// Occupancy returns a mask of the payload bits used by the signal, with bit
// i standing for bit i%8 of byte i/8.
func (b BitAssign) Occupancy() uint64 {
	first, n := b.Span()
	shift := b.StartBit % 8
	var mask uint64
	for k := 0; k < b.BitLength; k++ {
		p := shift + k
		j := p / 8
		abs := first + j
		if b.ByteOrder == BigEndian {
			abs = first + (n - 1 - j)
		}
		mask |= uint64(1) << (abs*8 + p%8)
	}
	return mask
}

// Overlaps reports bit ranges that collide. Variants of different selector
// values never collide.
func (b BitAssign) Overlaps(o BitAssign) bool {
	if b.Mux == MuxVariant && o.Mux == MuxVariant && b.MuxValue != o.MuxValue {
		return false
	}
	return b.Occupancy()&o.Occupancy() != 0
}

func (b BitAssign) String() string {
	return fmt.Sprintf("%s@0x%X[%d:%d %s]", b.Name, b.CANID, b.StartBit, b.BitLength, b.ByteOrder)
}

// RawBitAssign is one definition row as read from the source.
type RawBitAssign struct {
	CANID       string
	Name        string
	Description string
	StartBit    string
	BitLength   string
	ByteOrder   string
	Signed      string
	Scale       string
	Offset      string
	Unit        string
	Multiplexer string
}

// ReformatOptions carries table wide defaults into Reformat.
type ReformatOptions struct {
	DefaultByteOrder ByteOrder
	IDEncoding       string
	// Positions is PositionAuto, PositionBit or PositionByteBit.
	Positions string
}

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

func numeric(s string) string {
	return nonNumeric.ReplaceAllString(s, "")
}

// Reformat normalizes the row into a validated BitAssign. Numeric cells keep
// only digits, dots and minus signs so annotations like "0.01 km/h" still
// parse. An empty or "-" scale means 1, an empty or "-" offset means 0.
// A start bit written as "B.b" is the legacy notation: the field ends b bits
// before the end of byte B, counting bits from the first byte's MSB. With
// PositionByteBit every start bit uses it and a whole number B means B.0.
func (r RawBitAssign) Reformat(opts ReformatOptions) (BitAssign, error) {
	var (
		b   BitAssign
		err error
	)

	b.Name = strings.ReplaceAll(strings.TrimSpace(r.Name), " ", "")
	if b.Name == "" {
		return BitAssign{}, errors.Wrap(ErrDefinitionFormat, "empty signal name")
	}
	b.Description = strings.TrimSpace(r.Description)
	b.Unit = strings.TrimSpace(r.Unit)

	if b.CANID, err = parseCANID(r.CANID, opts.IDEncoding); err != nil {
		return BitAssign{}, errors.Wrapf(ErrDefinitionFormat, "signal %s: can id %q", b.Name, r.CANID)
	}

	b.ByteOrder = opts.DefaultByteOrder
	if strings.TrimSpace(r.ByteOrder) != "" {
		if b.ByteOrder, err = ParseByteOrder(r.ByteOrder); err != nil {
			return BitAssign{}, errors.Wrapf(err, "signal %s", b.Name)
		}
	}
	if b.IsSigned, err = parseSigned(r.Signed); err != nil {
		return BitAssign{}, errors.Wrapf(err, "signal %s", b.Name)
	}
	if b.Mux, b.MuxValue, err = parseMux(r.Multiplexer); err != nil {
		return BitAssign{}, errors.Wrapf(err, "signal %s", b.Name)
	}

	length := numeric(r.BitLength)
	if b.BitLength, err = strconv.Atoi(length); err != nil {
		return BitAssign{}, errors.Wrapf(ErrDefinitionFormat, "signal %s: bit length %q", b.Name, r.BitLength)
	}
	if b.BitLength <= 0 || b.BitLength > MaxPayloadBits {
		return BitAssign{}, errors.Wrapf(ErrInvalidSignalDefinition, "signal %s: bit length %d", b.Name, b.BitLength)
	}

	start := numeric(r.StartBit)
	legacy := strings.Contains(start, ".")
	switch opts.Positions {
	case PositionByteBit:
		if !legacy {
			start += ".0"
		}
		legacy = true
	case PositionBit:
		if legacy {
			return BitAssign{}, errors.Wrapf(ErrDefinitionFormat, "signal %s: start bit %q is not a bit number", b.Name, r.StartBit)
		}
	}
	if legacy {
		if b.StartBit, err = legacyStartBit(start, b.BitLength); err != nil {
			return BitAssign{}, errors.Wrapf(err, "signal %s", b.Name)
		}
		if strings.TrimSpace(r.ByteOrder) == "" {
			b.ByteOrder = BigEndian
		}
		if b.ByteOrder != BigEndian {
			return BitAssign{}, errors.Wrapf(ErrInvalidSignalDefinition,
				"signal %s: byte.bit position %q requires big endian order", b.Name, r.StartBit)
		}
	} else if b.StartBit, err = strconv.Atoi(start); err != nil {
		return BitAssign{}, errors.Wrapf(ErrDefinitionFormat, "signal %s: start bit %q", b.Name, r.StartBit)
	}
	if b.StartBit < 0 || b.StartBit+b.BitLength > MaxPayloadBits {
		return BitAssign{}, errors.Wrapf(ErrInvalidSignalDefinition,
			"signal %s: bits [%d,%d) exceed %d bit payload", b.Name, b.StartBit, b.StartBit+b.BitLength, MaxPayloadBits)
	}

	if b.Scale, err = parseDefaultFloat(r.Scale, 1.0); err != nil {
		return BitAssign{}, errors.Wrapf(ErrDefinitionFormat, "signal %s: scale %q", b.Name, r.Scale)
	}
	if b.Offset, err = parseDefaultFloat(r.Offset, 0); err != nil {
		return BitAssign{}, errors.Wrapf(ErrDefinitionFormat, "signal %s: offset %q", b.Name, r.Offset)
	}
	return b, nil
}

func parseDefaultFloat(s string, def float64) (float64, error) {
	v := numeric(s)
	if v == "" || v == "-" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}

// legacyStartBit converts "B.b" into the span based numbering of BitAssign.
func legacyStartBit(pos string, bitLen int) (int, error) {
	parts := strings.SplitN(pos, ".", 2)
	byteIdx, err1 := strconv.Atoi(parts[0])
	bitIdx, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, errors.Wrapf(ErrDefinitionFormat, "position %q", pos)
	}
	end := byteIdx*8 - bitIdx
	begin := end - bitLen
	if bitIdx < 0 || bitIdx > 7 || begin < 0 || end > MaxPayloadBits {
		return 0, errors.Wrapf(ErrInvalidSignalDefinition, "position %q with length %d", pos, bitLen)
	}
	lastByte := (end - 1) / 8
	return 8*(begin/8) + (8*(lastByte+1) - end), nil
}

func parseCANID(s, encoding string) (uint32, error) {
	ss := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	base := 10
	switch {
	case strings.HasPrefix(ss, "0x"):
		base = 16
		ss = ss[2:]
	case encoding == IDHex:
		base = 16
	}
	u, err := strconv.ParseUint(ss, base, 32)
	if err != nil {
		return 0, err
	}
	if u > 0x1FFFFFFF {
		return 0, errors.Newf("can id 0x%X out of range", u)
	}
	return uint32(u), nil
}
