package candecoder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can/pkg/dbc"
)

// LoadFromDBC converts the messages of a DBC file into a BitAssignInfo.
// Motorola start bits (MSB position, sawtooth numbering) are translated into
// the span numbering used by BitAssign.
func LoadFromDBC(path string) (*BitAssignInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioError(err, "read dbc file %s", path)
	}
	p := dbc.NewParser(filepath.Base(path), data)
	if err := p.Parse(); err != nil {
		return nil, errors.Wrapf(ErrDefinitionFormat, "parse dbc %s: %v", path, err)
	}

	b := newInfoBuilder(path)
	for _, def := range p.File().Defs {
		m, ok := def.(*dbc.MessageDef)
		if !ok {
			continue
		}
		id := uint32(m.MessageID)
		// The MSB flags an extended id.
		if id&0x80000000 != 0 {
			id &= 0x1FFFFFFF
		}
		for _, s := range m.Signals {
			ba, err := dbcSignal(id, s)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: message %s", path, m.Name)
			}
			if err := b.add(ba, fmt.Sprintf("message %s", m.Name)); err != nil {
				return nil, errors.Wrap(err, path)
			}
		}
	}
	return b.build()
}

func dbcSignal(id uint32, s dbc.SignalDef) (BitAssign, error) {
	ba := BitAssign{
		Name:      string(s.Name),
		CANID:     id,
		BitLength: int(s.Size),
		IsSigned:  s.IsSigned,
		Scale:     s.Factor,
		Offset:    s.Offset,
		Unit:      s.Unit,
		ByteOrder: LittleEndian,
		StartBit:  int(s.StartBit),
	}
	switch {
	case s.IsMultiplexerSwitch:
		ba.Mux = MuxSelector
	case s.IsMultiplexed:
		ba.Mux = MuxVariant
		ba.MuxValue = s.MultiplexerSwitch
	}
	if ba.BitLength <= 0 || ba.BitLength > MaxPayloadBits {
		return BitAssign{}, errors.Wrapf(ErrInvalidSignalDefinition, "signal %s: bit length %d", ba.Name, ba.BitLength)
	}
	if s.IsBigEndian {
		ba.ByteOrder = BigEndian
		msbFirst := (ba.StartBit/8)*8 + (7 - ba.StartBit%8)
		end := msbFirst + ba.BitLength
		if end > MaxPayloadBits {
			return BitAssign{}, errors.Wrapf(ErrInvalidSignalDefinition,
				"signal %s: motorola start %d length %d exceeds payload", ba.Name, s.StartBit, ba.BitLength)
		}
		lastByte := (end - 1) / 8
		ba.StartBit = 8*(msbFirst/8) + (8*(lastByte+1) - end)
	}
	if ba.StartBit+ba.BitLength > MaxPayloadBits {
		return BitAssign{}, errors.Wrapf(ErrInvalidSignalDefinition,
			"signal %s: bits [%d,%d) exceed payload", ba.Name, ba.StartBit, ba.StartBit+ba.BitLength)
	}
	if ba.Scale == 0 {
		ba.Scale = 1
	}
	return ba, nil
}
