package candecoder

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// BitAssignInfo indexes signal definitions by CAN id. It is never modified
// after loading and may be shared by any number of decoders.
type BitAssignInfo struct {
	source string
	byID   map[uint32][]BitAssign
	count  int
}

// BitAssignsFromCANID returns the signals defined for id in definition
// order. Undefined ids yield an empty slice.
func (info *BitAssignInfo) BitAssignsFromCANID(id uint32) []BitAssign {
	if info == nil {
		return nil
	}
	return info.byID[id]
}

// IDs lists the defined CAN ids in ascending order.
func (info *BitAssignInfo) IDs() []uint32 {
	out := make([]uint32, 0, len(info.byID))
	for id := range info.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len is the number of signals in the table.
func (info *BitAssignInfo) Len() int { return info.count }

// Source is the path the table was loaded from, if any.
func (info *BitAssignInfo) Source() string { return info.source }

type infoBuilder struct {
	info *BitAssignInfo
}

func newInfoBuilder(source string) *infoBuilder {
	return &infoBuilder{info: &BitAssignInfo{source: source, byID: map[uint32][]BitAssign{}}}
}

func (b *infoBuilder) add(ba BitAssign, where string) error {
	for _, other := range b.info.byID[ba.CANID] {
		if other.Name == ba.Name {
			return errors.Wrapf(ErrDefinitionFormat, "%s: duplicate signal %s for id 0x%X", where, ba.Name, ba.CANID)
		}
		if ba.Mux == MuxSelector && other.Mux == MuxSelector {
			return errors.Wrapf(ErrDefinitionFormat, "%s: %s is a second multiplexer for id 0x%X after %s", where, ba.Name, ba.CANID, other.Name)
		}
		if ba.Overlaps(other) {
			return errors.Wrapf(ErrOverlappingSignal, "%s: %s overlaps %s", where, ba, other)
		}
	}
	b.info.byID[ba.CANID] = append(b.info.byID[ba.CANID], ba)
	b.info.count++
	return nil
}

func (b *infoBuilder) build() (*BitAssignInfo, error) {
	if b.info.count == 0 {
		return nil, errors.Wrapf(ErrDefinitionFormat, "no signal definitions in %q", b.info.source)
	}
	return b.info, nil
}

// LoadBitAssignInfo picks the loader from the file extension.
func LoadBitAssignInfo(path string, cols AssignColumns) (*BitAssignInfo, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return LoadFromXLSX(path, cols)
	case ".dbc":
		return LoadFromDBC(path)
	default:
		return LoadFromCSV(path, cols)
	}
}

func LoadFromCSV(path string, cols AssignColumns) (*BitAssignInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioError(err, "open bit assign list %s", path)
	}
	defer f.Close()
	return readCSV(f, path, cols)
}

// ReadCSV loads a definition table from r. The first record is the header.
func ReadCSV(r io.Reader, cols AssignColumns) (*BitAssignInfo, error) {
	return readCSV(r, "", cols)
}

func readCSV(r io.Reader, source string, cols AssignColumns) (*BitAssignInfo, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrDefinitionFormat, "read %s: %v", displaySource(source), err)
		}
		rows = append(rows, rec)
	}
	return fromRows(rows, source, cols)
}

func displaySource(source string) string {
	if source == "" {
		return "bit assign list"
	}
	return source
}

// fromRows builds a table from a header row followed by definition rows.
func fromRows(rows [][]string, source string, cols AssignColumns) (*BitAssignInfo, error) {
	if len(rows) == 0 {
		return nil, errors.Wrapf(ErrDefinitionFormat, "%s: missing header", displaySource(source))
	}
	opts, err := cols.reformatOptions()
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, k := range cols.required() {
		if _, ok := idx[k]; !ok {
			return nil, errors.Wrapf(ErrDefinitionFormat, "%s: missing required column %q", displaySource(source), k)
		}
	}

	b := newInfoBuilder(source)
	for n, rec := range rows[1:] {
		if blankRow(rec) {
			continue
		}
		cell := func(name string) string {
			i, ok := idx[name]
			if name == "" || !ok || i >= len(rec) {
				return ""
			}
			return rec[i]
		}
		raw := RawBitAssign{
			CANID:       cell(cols.CANID),
			Name:        cell(cols.Name),
			Description: cell(cols.Description),
			StartBit:    cell(cols.StartBit),
			BitLength:   cell(cols.BitLength),
			ByteOrder:   cell(cols.ByteOrder),
			Signed:      cell(cols.Signed),
			Scale:       cell(cols.Scale),
			Offset:      cell(cols.Offset),
			Unit:        cell(cols.Unit),
			Multiplexer: cell(cols.Multiplexer),
		}
		where := fmt.Sprintf("row %d", n+2)
		ba, err := raw.Reformat(opts)
		if err != nil {
			return nil, errors.Wrap(err, where)
		}
		if err := b.add(ba, where); err != nil {
			return nil, err
		}
	}
	return b.build()
}

func blankRow(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
