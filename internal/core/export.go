package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// ExportCSV writes every active record in the import column layout, ordered
// by id. The output is convergent input: importing it unchanged updates every
// record in place and deletes nothing.
func ExportCSV(ctx context.Context, store Store, w io.Writer) (int, error) {
	records, err := store.FindAll(ctx, FindAllFilter{IncludeDeleted: false})
	if err != nil {
		return 0, fmt.Errorf("list active animals: %w", err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	for _, rec := range records {
		if err := cw.Write(exportRow(rec)); err != nil {
			return 0, fmt.Errorf("write animal %d: %w", rec.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}

	return len(records), nil
}

// exportRow renders rec in Columns order. Keep the two lists aligned.
func exportRow(rec AnimalRecord) []string {
	f := rec.AnimalFields
	return []string{
		strconv.FormatInt(rec.ID, 10),
		f.Name,
		formatAge(f.AgeYears),
		formatOptional(f.Sex),
		formatOptional(f.Breed),
		formatOptional(f.Temperament),
		formatFlag(f.GoodWithKids),
		formatFlag(f.GoodWithCats),
		formatFlag(f.GoodWithDogs),
		formatOptional(f.MedicalNotes),
		formatFlag(f.IsSpecialNeeds),
		f.Status,
		formatOptional(f.MainImageURL),
		formatFlag(f.Featured),
		formatID(f.BondedPairID),
		formatOptional(f.AdoptURL),
		formatFlag(f.IsSenior),
		formatFlag(f.IsDeceased),
	}
}
