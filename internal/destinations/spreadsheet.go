package destinations

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/docflow-systems/docflow-stack/common/models"
)

var ledgerHeader = []interface{}{"Document ID", "Filename", "Type", "Confidence", "Sender", "Recorded At"}

// Spreadsheet appends classified documents as rows to an xlsx ledger.
// Writes are serialized: excelize files are not safe for concurrent
// mutation, and the ledger is append-only anyway.
type Spreadsheet struct {
	path  string
	sheet string

	mu sync.Mutex
}

// NewSpreadsheet creates the ledger destination. The workbook and sheet
// are created on first delivery if they do not exist.
func NewSpreadsheet(path, sheet string) (*Spreadsheet, error) {
	if path == "" {
		return nil, fmt.Errorf("spreadsheet: path is required")
	}
	if sheet == "" {
		sheet = "Documents"
	}
	return &Spreadsheet{path: path, sheet: sheet}, nil
}

func (s *Spreadsheet) Name() string {
	return "spreadsheet"
}

func (s *Spreadsheet) Deliver(ctx context.Context, doc *models.ClassifyEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, created, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := f.GetRows(s.sheet)
	if err != nil {
		return fmt.Errorf("spreadsheet: read sheet %s: %w", s.sheet, err)
	}

	next := len(rows) + 1
	if next == 1 {
		cell, _ := excelize.CoordinatesToCellName(1, 1)
		if err := f.SetSheetRow(s.sheet, cell, &ledgerHeader); err != nil {
			return fmt.Errorf("spreadsheet: write header: %w", err)
		}
		next = 2
	}

	cell, err := excelize.CoordinatesToCellName(1, next)
	if err != nil {
		return fmt.Errorf("spreadsheet: cell name: %w", err)
	}

	row := []interface{}{
		doc.DocumentID,
		doc.Filename,
		doc.DocType,
		doc.Confidence,
		doc.Sender,
		time.Now().UTC().Format(time.RFC3339),
	}
	if err := f.SetSheetRow(s.sheet, cell, &row); err != nil {
		return fmt.Errorf("spreadsheet: append row: %w", err)
	}

	if created {
		if err := f.SaveAs(s.path); err != nil {
			return fmt.Errorf("spreadsheet: save %s: %w", s.path, err)
		}
		return nil
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("spreadsheet: save %s: %w", s.path, err)
	}
	return nil
}

// open returns the workbook, creating it with the ledger sheet when the
// file does not exist yet. The second return reports creation.
func (s *Spreadsheet) open() (*excelize.File, bool, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		f := excelize.NewFile()
		idx, err := f.NewSheet(s.sheet)
		if err != nil {
			f.Close()
			return nil, false, fmt.Errorf("spreadsheet: create sheet %s: %w", s.sheet, err)
		}
		f.SetActiveSheet(idx)
		if s.sheet != "Sheet1" {
			f.DeleteSheet("Sheet1")
		}
		return f, true, nil
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, false, fmt.Errorf("spreadsheet: open %s: %w", s.path, err)
	}
	if _, err := f.NewSheet(s.sheet); err != nil {
		f.Close()
		return nil, false, fmt.Errorf("spreadsheet: ensure sheet %s: %w", s.sheet, err)
	}
	return f, false, nil
}
