package core

// reconcile.go applies confirmed rows to a Store in three passes:
//
//  1. Base writes. Every error-free row is created or updated with
//     bonded_pair_id cleared. Rows with errors are skipped.
//  2. Bonded pairs. Declared pairs whose partner was written in pass 1 are
//     linked on both records; every other declaration is cleared.
//  3. Sweep. Every active record that pass 1 did not write is soft-deleted,
//     because an import describes the complete living dataset.
//
// Pass 2 needs the ids assigned by pass 1 creates and pass 3 needs the full
// written set, so the passes never interleave. Nothing is rolled back: a store
// error stops the import where it is and completed writes remain. Running the
// same convergent file again finishes the job.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/shelter/internal/logging"
)

var (
	// ErrNoRowsConfirmed is returned when apply is called with nothing to do.
	ErrNoRowsConfirmed = errors.New("no rows confirmed for import")

	// ErrRecordNotFound is returned when the store reports an update target
	// as unknown or deleted in the middle of an import.
	ErrRecordNotFound = errors.New("record not found")
)

// bondDeclaration is a cat's requested partner, keyed by final ids.
type bondDeclaration struct {
	catID     int64
	partnerID int64
	rowNumber int
}

// pairKey identifies an unordered pair of cats.
type pairKey struct {
	lo, hi int64
}

func newPairKey(a, b int64) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// writeSet is what pass 1 hands to passes 2 and 3.
type writeSet struct {
	// fields holds each written record's current field values by id.
	fields   map[int64]AnimalFields
	declared []bondDeclaration
}

func (ws *writeSet) written(id int64) bool {
	_, ok := ws.fields[id]
	return ok
}

// Reconcile applies rows to store and returns the counts of completed work.
// On error the returned result still describes what was done before it.
func Reconcile(ctx context.Context, store Store, rows []CandidateRow) (ApplyResult, error) {
	var result ApplyResult

	if len(rows) == 0 {
		return result, ErrNoRowsConfirmed
	}

	ws, err := writeBase(ctx, store, rows, &result)
	if err != nil {
		return result, fmt.Errorf("base writes: %w", err)
	}

	if err := linkBondedPairs(ctx, store, ws); err != nil {
		return result, fmt.Errorf("bonded pairs: %w", err)
	}

	if err := sweepAbsent(ctx, store, ws, &result); err != nil {
		return result, fmt.Errorf("sweep: %w", err)
	}

	return result, nil
}

// writeBase is pass 1.
func writeBase(ctx context.Context, store Store, rows []CandidateRow, result *ApplyResult) (*writeSet, error) {
	logger := logging.FromContext(ctx)
	ws := &writeSet{fields: make(map[int64]AnimalFields, len(rows))}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return ws, err
		}

		if row.HasErrors() || row.Operation == OpSkip {
			result.Skipped++
			continue
		}

		fields := row.Fields
		declared := fields.BondedPairID
		fields.BondedPairID = nil

		var finalID int64
		switch row.Operation {
		case OpCreate:
			rec, err := store.Create(ctx, fields)
			if err != nil {
				return ws, fmt.Errorf("row %d: create %q: %w", row.RowNumber, fields.Name, err)
			}
			finalID = rec.ID
			result.Created++

		case OpUpdate:
			if row.ID == nil {
				logger.Warn("update row without id skipped", "row", row.RowNumber)
				result.Skipped++
				continue
			}
			rec, err := store.Update(ctx, *row.ID, fields)
			if err != nil {
				return ws, fmt.Errorf("row %d: update animal %d: %w", row.RowNumber, *row.ID, err)
			}
			// Preview resolved this id, so the record was deleted outside the
			// import. The confirmed rows are stale: stop and require a new preview.
			if rec == nil {
				return ws, fmt.Errorf("row %d: update animal %d: %w", row.RowNumber, *row.ID, ErrRecordNotFound)
			}
			finalID = rec.ID
			result.Updated++

		default:
			logger.Warn("row with unknown operation skipped", "row", row.RowNumber, "operation", row.Operation)
			result.Skipped++
			continue
		}

		ws.fields[finalID] = fields
		if declared != nil {
			ws.declared = append(ws.declared, bondDeclaration{
				catID:     finalID,
				partnerID: *declared,
				rowNumber: row.RowNumber,
			})
		}
	}

	return ws, nil
}

// linkBondedPairs is pass 2. Each unordered pair is resolved once, and a cat
// is never linked to two partners.
func linkBondedPairs(ctx context.Context, store Store, ws *writeSet) error {
	logger := logging.FromContext(ctx)
	resolved := make(map[pairKey]struct{}, len(ws.declared))
	partnerOf := make(map[int64]int64, len(ws.declared))

	for _, d := range ws.declared {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := newPairKey(d.catID, d.partnerID)
		if _, done := resolved[key]; done {
			continue
		}
		resolved[key] = struct{}{}

		attrs := []slog.Attr{
			slog.Int64("cat_id", d.catID),
			slog.Int64("bonded_pair_id", d.partnerID),
			slog.Int("row", d.rowNumber),
		}

		if current, linked := partnerOf[d.catID]; linked {
			logger.LogAttrs(ctx, slog.LevelWarn, "bonded pair dropped: cat already paired",
				append(attrs, slog.Int64("paired_with", current))...)
			continue
		}

		if d.partnerID == d.catID || !ws.written(d.partnerID) {
			logger.LogAttrs(ctx, slog.LevelWarn, "bonded pair cleared: partner not written in this import", attrs...)
			if err := setBondedPair(ctx, store, ws, d.catID, nil); err != nil {
				return err
			}
			continue
		}

		if current, linked := partnerOf[d.partnerID]; linked {
			logger.LogAttrs(ctx, slog.LevelWarn, "bonded pair cleared: partner already paired",
				append(attrs, slog.Int64("paired_with", current))...)
			if err := setBondedPair(ctx, store, ws, d.catID, nil); err != nil {
				return err
			}
			continue
		}

		cat, partner := d.catID, d.partnerID
		if err := setBondedPair(ctx, store, ws, cat, &partner); err != nil {
			return err
		}
		if err := setBondedPair(ctx, store, ws, partner, &cat); err != nil {
			return err
		}
		partnerOf[cat] = partner
		partnerOf[partner] = cat
	}

	return nil
}

// setBondedPair rewrites one record from pass 1 with a new bonded_pair_id.
func setBondedPair(ctx context.Context, store Store, ws *writeSet, id int64, partner *int64) error {
	fields := ws.fields[id]
	fields.BondedPairID = partner

	rec, err := store.Update(ctx, id, fields)
	if err != nil {
		return fmt.Errorf("update animal %d: %w", id, err)
	}
	if rec == nil {
		return fmt.Errorf("update animal %d: %w", id, ErrRecordNotFound)
	}

	ws.fields[id] = fields
	return nil
}

// sweepAbsent is pass 3. A swept record that still names a partner has the
// reference cleared first so no record is left pointing outside the import.
func sweepAbsent(ctx context.Context, store Store, ws *writeSet, result *ApplyResult) error {
	logger := logging.FromContext(ctx)

	active, err := store.FindAll(ctx, FindAllFilter{IncludeDeleted: false})
	if err != nil {
		return fmt.Errorf("list active animals: %w", err)
	}

	for _, rec := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ws.written(rec.ID) {
			continue
		}

		if rec.BondedPairID != nil {
			fields := rec.AnimalFields
			fields.BondedPairID = nil
			if _, err := store.Update(ctx, rec.ID, fields); err != nil {
				return fmt.Errorf("clear bonded pair on animal %d: %w", rec.ID, err)
			}
		}

		if err := store.SoftDelete(ctx, rec.ID); err != nil {
			return fmt.Errorf("soft delete animal %d: %w", rec.ID, err)
		}
		result.Deleted++

		logger.Debug("animal soft-deleted by import sweep", "id", rec.ID, "name", rec.Name)
	}

	return nil
}
