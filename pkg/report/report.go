// Package report renders audit records and evaluation results as
// spreadsheets.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
)

// maxSheetName is the longest sheet name Excel accepts
const maxSheetName = 31

// Column headers of the projection report. The first, unnamed column holds
// the 0-based row index.
var projectionHeader = []any{"", "Timepoint", "Numb projected z", "Type of proj", "Start z", "Stop z"}

// Column headers of the ARI report.
var ariHeader = []any{"Sample_name", "ARI_value"}

// WriteProjectionReport writes one sheet per acquisition, in the order
// given, to the workbook at path.
func WriteProjectionReport(path string, records []models.AuditRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("no audit records to write")
	}

	f := excelize.NewFile()
	defer f.Close()

	names := newSheetNamer()
	for i, rec := range records {
		sheet := names.name(rec.Acquisition)
		if err := addSheet(f, i, sheet); err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, "A1", &projectionHeader); err != nil {
			return fmt.Errorf("failed to write header of %s: %w", sheet, err)
		}
		for j, e := range rec.Entries {
			cell, err := excelize.CoordinatesToCellName(1, j+2)
			if err != nil {
				return err
			}
			row := []any{j, e.Timepoint, e.NumProjZ, e.ProjType, e.StartZ, e.StopZ}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return fmt.Errorf("failed to write row %d of %s: %w", j, sheet, err)
			}
		}
	}

	return save(f, path)
}

// WriteARIReport writes all results to a single sheet.
func WriteARIReport(path string, results []models.ARIResult) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	if err := f.SetSheetRow(sheet, "A1", &ariHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, r := range results {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{r.SampleName, r.ARI}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	return save(f, path)
}

// addSheet renames the default sheet for the first acquisition and appends
// new sheets for the others
func addSheet(f *excelize.File, index int, sheet string) error {
	if index == 0 {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("failed to name sheet %s: %w", sheet, err)
		}
		return nil
	}
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}
	return nil
}

// save writes the workbook, creating its directory when needed
func save(f *excelize.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// sheetNamer turns acquisition names into unique, valid sheet names
type sheetNamer struct {
	used map[string]bool
}

func newSheetNamer() *sheetNamer {
	return &sheetNamer{used: make(map[string]bool)}
}

func (n *sheetNamer) name(acquisition string) string {
	base := SanitizeSheetName(acquisition)
	name := base
	for i := 2; n.used[strings.ToLower(name)]; i++ {
		suffix := fmt.Sprintf("_%d", i)
		name = truncate(base, maxSheetName-len(suffix)) + suffix
	}
	n.used[strings.ToLower(name)] = true
	return name
}

// SanitizeSheetName replaces characters Excel forbids in sheet names and
// shortens the result to 31 characters.
func SanitizeSheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, "'")
	if name == "" {
		name = "Sheet"
	}
	return truncate(name, maxSheetName)
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
