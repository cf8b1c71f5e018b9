package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"CommissionEngine/internal/logsink"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// ProposalColumn is the header of the registry column holding the migrated proposal numbers.
const ProposalColumn = "numero_contrato"

// MigrationRegistry is the set of proposals whose first parcel was already settled by a
// migration. It is loaded once per run from the spreadsheet kept by the operations team.
type MigrationRegistry struct {
	proposals map[string]struct{}
}

// LoadMigrations reads the registry at path. A missing file is not an error: the run continues
// with an empty registry and a warning in the run log.
func LoadMigrations(path string, sink *logsink.Sink) (*MigrationRegistry, error) {
	reg := &MigrationRegistry{proposals: make(map[string]struct{})}
	if strings.TrimSpace(path) == "" {
		return reg, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sink.Printf("[WARN] migrations registry not found: %s", path)
			return reg, nil
		}
		return nil, fmt.Errorf("stat migrations registry: %w", err)
	}

	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xls":
		rows, err = readXLS(path)
	default:
		rows, err = readXLSX(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations registry %s: %w", filepath.Base(path), err)
	}
	if len(rows) == 0 {
		return reg, nil
	}

	col := -1
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(h), ProposalColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("migrations registry %s: column %q not found", filepath.Base(path), ProposalColumn)
	}
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		if p := strings.TrimSpace(row[col]); p != "" {
			reg.proposals[p] = struct{}{}
		}
	}
	sink.Printf("| - migrated proposals: %d", len(reg.proposals))
	return reg, nil
}

func (r *MigrationRegistry) Contains(proposal string) bool {
	if r == nil {
		return false
	}
	_, ok := r.proposals[strings.TrimSpace(proposal)]
	return ok
}

func (r *MigrationRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.proposals)
}

func readXLSX(path string) ([][]string, error) {
	xl, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer xl.Close()

	return xl.GetRows(xl.GetSheetName(0))
}

func readXLS(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	book, err := xls.OpenReader(f, "utf-8")
	if err != nil {
		return nil, err
	}
	if book == nil || book.NumSheets() == 0 {
		return nil, errors.New("no sheets found")
	}
	sheet := book.GetSheet(0)
	if sheet == nil {
		return nil, errors.New("no sheets found")
	}

	var rows [][]string
	width := 0
	for i := 0; i <= int(sheet.MaxRow); i++ {
		r := xlsRow(sheet, i)
		if r == nil {
			if i == 0 {
				return nil, nil
			}
			rows = append(rows, nil)
			continue
		}
		row := make([]string, max(r.LastCol(), width))
		for j := range row {
			row[j] = r.Col(j)
		}
		if i == 0 {
			width = len(row)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// xlsRow returns row i of sheet, or nil when the sheet holds no cell on it. WorkSheet.Row
// dereferences a nil row for such indexes.
func xlsRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}
