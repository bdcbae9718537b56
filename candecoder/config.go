package candecoder

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
)

const (
	IDAuto    = "auto"
	IDHex     = "hex"
	IDDecimal = "decimal"

	PayloadHex     = "hex"
	PayloadDecimal = "decimal"

	PositionAuto    = "auto"
	PositionBit     = "bit"
	PositionByteBit = "byte_bit"

	FormatColumns = "columns"
	FormatCandump = "candump"

	NoColumn = -1
)

// AssignColumns names the definition table columns. An empty ByteOrder,
// Unit, Description or Multiplexer name means the table has no such column.
type AssignColumns struct {
	CANID       string `toml:"can_id"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
	StartBit    string `toml:"start_bit"`
	BitLength   string `toml:"bit_length"`
	ByteOrder   string `toml:"byte_order"`
	Signed      string `toml:"signed"`
	Scale       string `toml:"scale"`
	Offset      string `toml:"offset"`
	Unit        string `toml:"unit"`
	Multiplexer string `toml:"multiplexer"`

	// IDEncoding applies to ids without a 0x prefix.
	IDEncoding       string `toml:"id_encoding"`
	DefaultByteOrder string `toml:"default_byte_order"`
	// PositionNotation says how start_bit cells are written. Auto treats
	// "B.b" cells as byte.bit and whole numbers as bit numbers.
	PositionNotation string `toml:"position_notation"`
	// Sheet selects the worksheet of xlsx tables; empty means the first one.
	Sheet string `toml:"sheet"`
}

func (c AssignColumns) required() []string {
	req := []string{c.CANID, c.Name, c.StartBit, c.BitLength, c.Signed, c.Scale, c.Offset}
	if c.ByteOrder != "" {
		req = append(req, c.ByteOrder)
	}
	return req
}

func (c AssignColumns) reformatOptions() (ReformatOptions, error) {
	opts := ReformatOptions{IDEncoding: c.IDEncoding, Positions: c.PositionNotation}
	switch c.PositionNotation {
	case "", PositionAuto, PositionBit, PositionByteBit:
	default:
		return opts, errors.Newf("unknown position_notation %q", c.PositionNotation)
	}
	if c.DefaultByteOrder != "" {
		order, err := ParseByteOrder(c.DefaultByteOrder)
		if err != nil {
			return opts, err
		}
		opts.DefaultByteOrder = order
	}
	return opts, nil
}

// LogFormat describes how a log line splits into timestamp, id and payload.
// Column indexes are zero based; NoColumn disables the optional DLC column.
type LogFormat struct {
	Kind          string `toml:"kind"`
	Delimiter     string `toml:"delimiter"`
	HeaderLines   int    `toml:"header_lines"`
	CommentPrefix string `toml:"comment_prefix"`

	TimestampColumn int    `toml:"timestamp_column"`
	TimestampUnit   string `toml:"timestamp_unit"`

	IDColumn   int    `toml:"id_column"`
	IDEncoding string `toml:"id_encoding"`

	LengthColumn int `toml:"length_column"`

	PayloadColumn   int    `toml:"payload_column"`
	PayloadEncoding string `toml:"payload_encoding"`
	// PayloadColumns > 0 reads one byte per column starting at PayloadColumn.
	PayloadColumns int `toml:"payload_columns"`
}

// Config is handed to a Decoder when the session is created.
type Config struct {
	Columns AssignColumns `toml:"columns"`
	Log     LogFormat     `toml:"log"`

	// Strict turns the first per-frame error into a fatal one.
	Strict bool `toml:"strict"`
	// DropUndefined suppresses frames whose id has no definitions.
	DropUndefined bool `toml:"drop_undefined"`
	// MaxFrameErrors bounds the errors kept in a Report; counting continues.
	MaxFrameErrors int `toml:"max_frame_errors"`
	ProgressEvery  int `toml:"progress_every"`
}

func DefaultAssignColumns() AssignColumns {
	return AssignColumns{
		CANID:            "can_id",
		Name:             "signal_name",
		Description:      "description",
		StartBit:         "start_bit",
		BitLength:        "bit_length",
		ByteOrder:        "byte_order",
		Signed:           "signed",
		Scale:            "scale",
		Offset:           "offset",
		Unit:             "unit",
		Multiplexer:      "multiplexer",
		IDEncoding:       IDAuto,
		PositionNotation: PositionAuto,
	}
}

// CompactLogFormat reads "timestamp_ns,can_id_hex,dlc,payload_hex" lines.
func CompactLogFormat() LogFormat {
	return LogFormat{
		Kind:            FormatColumns,
		Delimiter:       ",",
		HeaderLines:     1,
		CommentPrefix:   "#",
		TimestampColumn: 0,
		TimestampUnit:   "ns",
		IDColumn:        1,
		IDEncoding:      IDHex,
		LengthColumn:    2,
		PayloadColumn:   3,
		PayloadEncoding: PayloadHex,
	}
}

// RecorderLogFormat reads the logger export layout: nanosecond timestamp in
// column 2, decimal id in column 5, DLC in column 6 and eight decimal byte
// columns from column 7.
func RecorderLogFormat() LogFormat {
	return LogFormat{
		Kind:            FormatColumns,
		Delimiter:       ",",
		HeaderLines:     1,
		TimestampColumn: 2,
		TimestampUnit:   "ns",
		IDColumn:        5,
		IDEncoding:      IDDecimal,
		LengthColumn:    6,
		PayloadColumn:   7,
		PayloadEncoding: PayloadDecimal,
		PayloadColumns:  8,
	}
}

// CandumpLogFormat reads `candump -l` output.
func CandumpLogFormat() LogFormat {
	return LogFormat{
		Kind:          FormatCandump,
		CommentPrefix: "#",
		TimestampUnit: "s",
		LengthColumn:  NoColumn,
	}
}

func DefaultConfig() Config {
	return Config{
		Columns:        DefaultAssignColumns(),
		Log:            CompactLogFormat(),
		MaxFrameErrors: 1000,
		ProgressEvery:  500000,
	}
}

// LoadConfig overlays the keys present in a TOML file on DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load decoder config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, errors.Newf("decoder config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "decoder config %s", path)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for _, name := range c.Columns.required() {
		if strings.TrimSpace(name) == "" {
			return errors.New("columns: required column name is empty")
		}
	}
	switch c.Columns.IDEncoding {
	case "", IDAuto, IDHex, IDDecimal:
	default:
		return errors.Newf("columns: unknown id_encoding %q", c.Columns.IDEncoding)
	}
	if _, err := c.Columns.reformatOptions(); err != nil {
		return errors.Wrap(err, "columns")
	}
	if c.MaxFrameErrors < 0 {
		return errors.Newf("max_frame_errors must be >= 0, got %d", c.MaxFrameErrors)
	}
	if c.ProgressEvery < 0 {
		return errors.Newf("progress_every must be >= 0, got %d", c.ProgressEvery)
	}
	return c.Log.Validate()
}

func (f LogFormat) Validate() error {
	if _, err := timestampScale(f.TimestampUnit); err != nil {
		return errors.Wrap(err, "log")
	}
	if f.HeaderLines < 0 {
		return errors.Newf("log: header_lines must be >= 0, got %d", f.HeaderLines)
	}
	switch f.Kind {
	case FormatCandump:
		return nil
	case FormatColumns:
	default:
		return errors.Newf("log: unknown kind %q", f.Kind)
	}
	if f.Delimiter == "" {
		return errors.New("log: delimiter is empty")
	}
	if f.TimestampColumn < 0 || f.IDColumn < 0 || f.PayloadColumn < 0 {
		return errors.New("log: timestamp, id and payload columns must be >= 0")
	}
	if f.LengthColumn < NoColumn {
		return errors.Newf("log: invalid length_column %d", f.LengthColumn)
	}
	if f.PayloadColumns < 0 || f.PayloadColumns > MaxPayloadBits/8 {
		return errors.Newf("log: payload_columns must be within 0..%d", MaxPayloadBits/8)
	}
	switch f.IDEncoding {
	case IDHex, IDDecimal:
	default:
		return errors.Newf("log: unknown id_encoding %q", f.IDEncoding)
	}
	switch f.PayloadEncoding {
	case PayloadHex, PayloadDecimal:
	default:
		return errors.Newf("log: unknown payload_encoding %q", f.PayloadEncoding)
	}
	return nil
}
