package sheet

import (
	"bytes"

	"github.com/xuri/excelize/v2"
)

func decodeXLSX(fileName string, data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{File: fileName, Reason: "cannot open workbook", Err: err}
	}
	defer func() { _ = f.Close() }()

	wb := &Workbook{FileName: fileName}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, &ParseError{File: fileName, Reason: "cannot read sheet " + name, Err: err}
		}
		wb.add(build(name, rows))
	}
	return wb, nil
}
