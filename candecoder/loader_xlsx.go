package candecoder

import (
	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"
)

// LoadFromXLSX reads a definition table laid out like the CSV one from a
// worksheet. cols.Sheet selects the sheet, the first sheet is the default.
func LoadFromXLSX(path string, cols AssignColumns) (*BitAssignInfo, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, ioError(err, "open bit assign workbook %s", path)
	}
	defer f.Close()

	sheet := cols.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.Wrapf(ErrDefinitionFormat, "%s: workbook has no sheets", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(ErrDefinitionFormat, "%s: sheet %q: %v", path, sheet, err)
	}
	return fromRows(rows, path, cols)
}
