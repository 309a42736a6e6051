package core

// validation.go builds CandidateRows from CSV records.
//
// Validation happens at two levels:
//  1. Row validation: each row is coerced into AnimalFields and every problem
//     is recorded, so a preview reports all errors at once
//  2. Batch validation: bonded pair references are checked against the other
//     rows of the same file, which needs the whole batch parsed first

import (
	"context"
	"fmt"
)

// RowValidator builds and validates rows for one file.
type RowValidator struct {
	store     Store
	headerIdx HeaderIndex
}

// NewRowValidator creates a validator for the given header index.
// The store is only read.
func NewRowValidator(store Store, headerIdx HeaderIndex) *RowValidator {
	return &RowValidator{
		store:     store,
		headerIdx: headerIdx,
	}
}

// ValidateRow parses one data row. Store lookup failures are returned as
// errors; data problems end up in CandidateRow.Errors.
func (v *RowValidator) ValidateRow(ctx context.Context, line int, row []string) (CandidateRow, error) {
	cell := func(col string) string { return v.headerIdx.Cell(row, col) }

	out := CandidateRow{
		RowNumber: line,
		Operation: OpCreate,
		Errors:    []string{},
	}

	var existing *AnimalRecord
	if raw := cell(ColID); raw != "" {
		out.Operation = OpUpdate
		id, ok := parsePositiveID(raw)
		if ok {
			out.ID = &id
			rec, err := v.store.FindByID(ctx, id)
			if err != nil {
				return CandidateRow{}, fmt.Errorf("row %d: find animal %d: %w", line, id, err)
			}
			if rec != nil && !rec.Deleted() {
				existing = rec
			}
		}
		if existing == nil {
			out.Errors = append(out.Errors, fmt.Sprintf("No existing record with id %s", raw))
		}
	}

	f := &out.Fields

	f.Name = cell(ColName)
	if f.Name == "" {
		out.Errors = append(out.Errors, "Name is required")
	}

	if raw := cell(ColAgeYears); raw != "" {
		if age, ok := parseAge(raw); ok {
			f.AgeYears = &age
		} else {
			out.Errors = append(out.Errors, fmt.Sprintf("Invalid age_years %q", raw))
		}
	}

	if raw := cell(ColBondedPairID); raw != "" {
		if pair, ok := parsePositiveID(raw); ok {
			f.BondedPairID = &pair
		} else {
			out.Errors = append(out.Errors, fmt.Sprintf("Invalid bonded_pair_id %q", raw))
		}
	}

	f.Sex = optionalText(cell(ColSex))
	f.Breed = optionalText(cell(ColBreed))
	f.Temperament = optionalText(cell(ColTemperament))
	f.MedicalNotes = optionalText(cell(ColMedicalNotes))
	f.MainImageURL = optionalText(cell(ColMainImageURL))
	f.AdoptURL = optionalText(cell(ColAdoptURL))

	f.GoodWithKids = parseFlag(cell(ColGoodWithKids))
	f.GoodWithCats = parseFlag(cell(ColGoodWithCats))
	f.GoodWithDogs = parseFlag(cell(ColGoodWithDogs))
	f.IsSpecialNeeds = parseFlag(cell(ColIsSpecialNeeds))
	f.IsDeceased = parseFlag(cell(ColIsDeceased))
	f.Featured = parseFlag(cell(ColFeatured))

	f.IsSenior = parseFlag(cell(ColIsSenior))
	if !f.IsSenior && f.AgeYears != nil && *f.AgeYears >= SeniorAgeYears {
		f.IsSenior = true
	}

	f.Status = cell(ColStatus)
	if f.Status == "" {
		if existing != nil && existing.Status != "" {
			f.Status = existing.Status
		} else {
			f.Status = StatusAvailable
		}
	}

	return out, nil
}

// ValidateBatch runs the checks that need every row of the file: duplicate
// ids first, then bonded pair references.
func ValidateBatch(rows []CandidateRow) {
	validateDuplicateIDs(rows)
	validateBondedPairs(rows)
}

// validateDuplicateIDs flags every row after the first that names the same id.
func validateDuplicateIDs(rows []CandidateRow) {
	first := make(map[int64]int, len(rows)) // id -> row number
	for i := range rows {
		id := rows[i].ID
		if id == nil {
			continue
		}
		if line, seen := first[*id]; seen {
			rows[i].Errors = append(rows[i].Errors, fmt.Sprintf("Duplicate id %d (first on row %d)", *id, line))
			continue
		}
		first[*id] = rows[i].RowNumber
	}
}

// validateBondedPairs is the cross-row pass. A declared partner must be
// another error-free row of the batch that carries that id. Rows without an
// id have no identity until they are created, so they can never be a partner.
// A row flagged here stops being a valid partner, so the pass repeats until
// no row changes.
func validateBondedPairs(rows []CandidateRow) {
	valid := make(map[int64]int, len(rows)) // id -> row index
	for i, r := range rows {
		if r.ID != nil && !r.HasErrors() {
			valid[*r.ID] = i
		}
	}

	flagged := make([]bool, len(rows))
	for changed := true; changed; {
		changed = false
		for i := range rows {
			pair := rows[i].Fields.BondedPairID
			if pair == nil || flagged[i] {
				continue
			}
			if j, ok := valid[*pair]; ok && j != i {
				continue
			}

			rows[i].Errors = append(rows[i].Errors, fmt.Sprintf("Bonded pair cat %d not found in this import", *pair))
			flagged[i] = true
			if id := rows[i].ID; id != nil {
				if j, ok := valid[*id]; ok && j == i {
					delete(valid, *id)
					changed = true
				}
			}
		}
	}
}
