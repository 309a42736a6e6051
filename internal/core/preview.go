package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/shelter/internal/logging"
)

// AnalyzeImport performs read-only analysis of a CSV import.
// It validates all rows, classifies them as create or update, and returns a
// preview of what applying them would do. The store is never written.
func AnalyzeImport(ctx context.Context, store Store, fileData []byte) (*PreviewResponse, error) {
	startTime := time.Now()

	headerIdx, dataRows, err := parseCSV(fileData)
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}

	if !headerIdx.Has(ColName) {
		logging.FromContext(ctx).Warn("import file has no name column", "columns", len(headerIdx))
	}

	validator := NewRowValidator(store, headerIdx)

	// First pass: every row on its own
	rows := make([]CandidateRow, 0, len(dataRows))
	for _, dr := range dataRows {
		row, err := validator.ValidateRow(ctx, dr.line, dr.cells)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	// Second pass: references between rows
	ValidateBatch(rows)

	resp := &PreviewResponse{
		Rows:  rows,
		Total: len(rows),
	}
	for _, r := range rows {
		switch {
		case r.HasErrors():
			resp.Summary.Errors++
		case r.Operation == OpUpdate:
			resp.Summary.Updates++
		default:
			resp.Summary.Creates++
		}
	}

	resp.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	logging.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "import preview analyzed",
		slog.Int("rows", resp.Total),
		slog.Int("creates", resp.Summary.Creates),
		slog.Int("updates", resp.Summary.Updates),
		slog.Int("errors", resp.Summary.Errors),
	)

	return resp, nil
}
