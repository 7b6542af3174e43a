package report

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/openmrs/openmrs-core-sub027/internal/changelog"
)

// Sheet names of the run report.
const (
	ChangesetsSheet = "Changesets"
	CountersSheet   = "Counters"
)

// StatusPending marks changesets not yet in the ledger.
const StatusPending = "PENDING"

// ChangesetsHeader 变更集表头
var ChangesetsHeader = []string{
	"Order",
	"Changeset",
	"Author",
	"Status",
	"Date Executed",
	"MD5",
	"Description",
}

// CountersHeader 规则计数表头
var CountersHeader = []string{"Counter", "Rows"}

// ChangesetRow is one line of the Changesets sheet.
type ChangesetRow struct {
	Order        int
	ID           string
	Author       string
	Status       string
	DateExecuted string
	MD5Sum       string
	Description  string
}

// Summary is what an operator gets after apply-upgrade or verify-upgrade.
type Summary struct {
	Changesets []ChangesetRow
	Counters   map[string]int64
}

// NewSummary lists the ledger entries in execution order followed by the
// pending changesets. counters may be nil.
func NewSummary(executed []changelog.Entry, pending []changelog.Changeset, counters map[string]int64) Summary {
	s := Summary{Counters: counters}
	for _, e := range executed {
		s.Changesets = append(s.Changesets, ChangesetRow{
			Order:        e.OrderExecuted,
			ID:           e.ID,
			Author:       e.Author,
			Status:       e.ExecType,
			DateExecuted: e.DateExecuted,
			MD5Sum:       e.MD5Sum,
			Description:  e.Description,
		})
	}
	for _, cs := range pending {
		s.Changesets = append(s.Changesets, ChangesetRow{
			ID:          cs.ID,
			Author:      cs.Author,
			Status:      StatusPending,
			Description: cs.Comment,
		})
	}
	return s
}

// WriteXLSX writes the summary workbook to path.
func WriteXLSX(path string, s Summary) error {
	data, err := Generate(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

// Generate 生成升级报告 Excel 文件
func Generate(s Summary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ChangesetsSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(CountersSheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 1. 变更集
	if err := writeHeader(f, ChangesetsSheet, ChangesetsHeader, headerStyle); err != nil {
		return nil, err
	}
	for i, row := range s.Changesets {
		values := []interface{}{nil, row.ID, row.Author, row.Status, row.DateExecuted, row.MD5Sum, row.Description}
		if row.Order > 0 {
			values[0] = row.Order
		}
		if err := writeRow(f, ChangesetsSheet, i+2, values); err != nil {
			return nil, err
		}
	}
	if err := setWidths(f, ChangesetsSheet, []float64{8, 55, 12, 10, 20, 34, 60}); err != nil {
		return nil, err
	}

	// 2. 规则计数（按名称排序）
	if err := writeHeader(f, CountersSheet, CountersHeader, headerStyle); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.Counters))
	for name := range s.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if err := writeRow(f, CountersSheet, i+2, []interface{}{name, s.Counters[name]}); err != nil {
			return nil, err
		}
	}
	if err := setWidths(f, CountersSheet, []float64{35, 12}); err != nil {
		return nil, err
	}

	// 冻结表头
	for _, sheet := range []string{ChangesetsSheet, CountersSheet} {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return nil, fmt.Errorf("failed to freeze panes: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}
	return nil
}

// writeRow skips nil and empty values so blank cells stay blank.
func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for i, v := range values {
		if v == nil || v == "" {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to set cell %s on %s: %w", cell, sheet, err)
		}
	}
	return nil
}

func setWidths(f *excelize.File, sheet string, widths []float64) error {
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	return nil
}
