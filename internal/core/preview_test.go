package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/JonMunkholm/shelter/internal/core"
	"github.com/JonMunkholm/shelter/internal/store/memory"
)

func ptr[T any](v T) *T { return &v }

func seededStore() *memory.Store {
	s := memory.New()
	s.Seed(
		core.AnimalRecord{ID: 5, AnimalFields: core.AnimalFields{Name: "Pumpkin", Status: core.StatusHold}},
		core.AnimalRecord{ID: 6, AnimalFields: core.AnimalFields{Name: "Ziggy", Status: core.StatusAvailable}},
		core.AnimalRecord{ID: 7, AnimalFields: core.AnimalFields{Name: "Clover", Status: core.StatusPending}},
	)
	return s
}

func analyze(t *testing.T, store core.Store, csv string) *core.PreviewResponse {
	t.Helper()
	resp, err := core.AnalyzeImport(context.Background(), store, []byte(csv))
	if err != nil {
		t.Fatalf("AnalyzeImport: %v", err)
	}
	return resp
}

func TestAnalyzeImport_CreatesAndUpdates(t *testing.T) {
	csv := "id,name,age_years,sex,good_with_kids,featured,status\n" +
		",Whiskers,2,F,1,true,\n" +
		"5,Pumpkin,11,M,yes,0,\n"

	resp := analyze(t, seededStore(), csv)

	want := []core.CandidateRow{
		{
			RowNumber: 2,
			Operation: core.OpCreate,
			Errors:    []string{},
			Fields: core.AnimalFields{
				Name:         "Whiskers",
				AgeYears:     ptr(2.0),
				Sex:          ptr("F"),
				GoodWithKids: true,
				Featured:     true,
				Status:       core.StatusAvailable,
			},
		},
		{
			RowNumber: 3,
			ID:        ptr(int64(5)),
			Operation: core.OpUpdate,
			Errors:    []string{},
			Fields: core.AnimalFields{
				Name:     "Pumpkin",
				AgeYears: ptr(11.0),
				Sex:      ptr("M"),
				IsSenior: true,
				// blank status keeps the stored one
				Status: core.StatusHold,
			},
		},
	}

	if diff := cmp.Diff(want, resp.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if resp.Total != 2 {
		t.Errorf("Total = %d, want 2", resp.Total)
	}
	if diff := cmp.Diff(core.PreviewSummary{Creates: 1, Updates: 1}, resp.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeImport_RowErrors(t *testing.T) {
	tests := []struct {
		name      string
		csv       string
		wantOp    core.Operation
		wantError []string
	}{
		{
			name:      "invalid age",
			csv:       "name,age_years\nMochi,abc\n",
			wantOp:    core.OpCreate,
			wantError: []string{`Invalid age_years "abc"`},
		},
		{
			name:      "negative age",
			csv:       "name,age_years\nMochi,-1\n",
			wantOp:    core.OpCreate,
			wantError: []string{`Invalid age_years "-1"`},
		},
		{
			name:      "missing name",
			csv:       "name,breed\n,Tabby\n",
			wantOp:    core.OpCreate,
			wantError: []string{"Name is required"},
		},
		{
			name:      "unknown id",
			csv:       "id,name\n404,Ghost\n",
			wantOp:    core.OpUpdate,
			wantError: []string{"No existing record with id 404"},
		},
		{
			name:      "non numeric id",
			csv:       "id,name\nabc,Ghost\n",
			wantOp:    core.OpUpdate,
			wantError: []string{"No existing record with id abc"},
		},
		{
			name:      "invalid bonded pair",
			csv:       "id,name,bonded_pair_id\n5,Pumpkin,0\n",
			wantOp:    core.OpUpdate,
			wantError: []string{`Invalid bonded_pair_id "0"`},
		},
		{
			name:      "every problem reported",
			csv:       "id,name,age_years\n404,,old\n",
			wantOp:    core.OpUpdate,
			wantError: []string{"No existing record with id 404", "Name is required", `Invalid age_years "old"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := analyze(t, seededStore(), tt.csv)
			if len(resp.Rows) != 1 {
				t.Fatalf("got %d rows, want 1", len(resp.Rows))
			}
			row := resp.Rows[0]
			if row.Operation != tt.wantOp {
				t.Errorf("Operation = %q, want %q", row.Operation, tt.wantOp)
			}
			if diff := cmp.Diff(tt.wantError, row.Errors); diff != "" {
				t.Errorf("errors mismatch (-want +got):\n%s", diff)
			}
			if resp.Summary.Errors != 1 {
				t.Errorf("Summary.Errors = %d, want 1", resp.Summary.Errors)
			}
		})
	}
}

// Scenario E: a bad age sinks the row no matter what else is valid.
func TestAnalyzeImport_InvalidAgeLeavesAgeNil(t *testing.T) {
	resp := analyze(t, seededStore(), "name,age_years,breed\nMochi,abc,Tabby\n")

	row := resp.Rows[0]
	if row.Fields.AgeYears != nil {
		t.Errorf("AgeYears = %v, want nil", *row.Fields.AgeYears)
	}
	if !row.HasErrors() {
		t.Error("row should carry an error")
	}
}

func TestAnalyzeImport_SoftDeletedIDIsUnresolved(t *testing.T) {
	store := seededStore()
	if err := store.SoftDelete(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	resp := analyze(t, store, "id,name\n7,Clover\n")
	if diff := cmp.Diff([]string{"No existing record with id 7"}, resp.Rows[0].Errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
}

// Scenario C: a partner that is nowhere in the batch.
func TestAnalyzeImport_BondedPairNotInBatch(t *testing.T) {
	resp := analyze(t, seededStore(), "id,name,bonded_pair_id\n5,Pumpkin,999\n6,Ziggy,\n")

	want := []string{"Bonded pair cat 999 not found in this import"}
	if diff := cmp.Diff(want, resp.Rows[0].Errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
	if resp.Rows[1].HasErrors() {
		t.Errorf("unrelated row got errors: %v", resp.Rows[1].Errors)
	}
}

func TestAnalyzeImport_BondedPairResolution(t *testing.T) {
	tests := []struct {
		name       string
		csv        string
		wantErrors [][]string
	}{
		{
			name:       "existing ids pair each other",
			csv:        "id,name,bonded_pair_id\n5,Pumpkin,6\n6,Ziggy,5\n",
			wantErrors: [][]string{{}, {}},
		},
		{
			name:       "one sided declaration is accepted",
			csv:        "id,name,bonded_pair_id\n5,Pumpkin,6\n6,Ziggy,\n",
			wantErrors: [][]string{{}, {}},
		},
		{
			name: "partner row has errors",
			csv:  "id,name,age_years,bonded_pair_id\n5,Pumpkin,1,6\n6,Ziggy,abc,\n",
			wantErrors: [][]string{
				{"Bonded pair cat 6 not found in this import"},
				{`Invalid age_years "abc"`},
			},
		},
		{
			name: "partner fails its own pair check",
			csv:  "id,name,bonded_pair_id\n5,Pumpkin,6\n6,Ziggy,999\n7,Clover,\n",
			wantErrors: [][]string{
				{"Bonded pair cat 6 not found in this import"},
				{"Bonded pair cat 999 not found in this import"},
				{},
			},
		},
		{
			// Row order must not matter for chained failures
			name: "chain declared before its broken end",
			csv:  "id,name,bonded_pair_id\n5,Pumpkin,6\n6,Ziggy,7\n7,Clover,999\n",
			wantErrors: [][]string{
				{"Bonded pair cat 6 not found in this import"},
				{"Bonded pair cat 7 not found in this import"},
				{"Bonded pair cat 999 not found in this import"},
			},
		},
		{
			name:       "self reference",
			csv:        "id,name,bonded_pair_id\n5,Pumpkin,5\n",
			wantErrors: [][]string{{"Bonded pair cat 5 not found in this import"}},
		},
		{
			// New rows have no id until created, so nothing can name them
			name: "two new rows cannot pair",
			csv:  "name,bonded_pair_id\nWhiskers,2\nMittens,1\n",
			wantErrors: [][]string{
				{"Bonded pair cat 2 not found in this import"},
				{"Bonded pair cat 1 not found in this import"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := analyze(t, seededStore(), tt.csv)
			got := make([][]string, len(resp.Rows))
			for i, r := range resp.Rows {
				got[i] = r.Errors
			}
			if diff := cmp.Diff(tt.wantErrors, got); diff != "" {
				t.Errorf("errors mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnalyzeImport_DuplicateIDs(t *testing.T) {
	resp := analyze(t, seededStore(), "id,name\n5,Pumpkin\n6,Ziggy\n5,Pumpkin again\n")

	if resp.Rows[0].HasErrors() {
		t.Errorf("first occurrence should be clean, got %v", resp.Rows[0].Errors)
	}
	want := []string{"Duplicate id 5 (first on row 2)"}
	if diff := cmp.Diff(want, resp.Rows[2].Errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeImport_Flags(t *testing.T) {
	csv := "name,good_with_kids,good_with_cats,good_with_dogs,is_special_needs,featured,is_senior\n" +
		"A,1,true,TRUE,yes,Y,0\n" +
		"B,,,,,,true\n"

	resp := analyze(t, seededStore(), csv)

	a := resp.Rows[0].Fields
	if !a.GoodWithKids || !a.GoodWithCats {
		t.Error(`"1" and "true" should be truthy`)
	}
	if a.GoodWithDogs || a.IsSpecialNeeds || a.Featured || a.IsSenior {
		t.Error(`only "1" and "true" are truthy`)
	}
	if !resp.Rows[1].Fields.IsSenior {
		t.Error("explicit is_senior should be honored without an age")
	}
}

func TestAnalyzeImport_HeaderHandling(t *testing.T) {
	// BOM, unknown columns, short rows and blank lines
	csv := "\ufeffname,nickname,breed,sex\n" +
		"Whiskers,Whisk\n" +
		"\n" +
		"  Mittens  ,,=\"Tuxedo\",F\n"

	resp := analyze(t, seededStore(), csv)

	if resp.Total != 2 {
		t.Fatalf("Total = %d, want 2", resp.Total)
	}
	first, second := resp.Rows[0], resp.Rows[1]
	if first.Fields.Name != "Whiskers" || first.Fields.Breed != nil {
		t.Errorf("first row = %+v", first.Fields)
	}
	if second.RowNumber != 4 {
		t.Errorf("RowNumber = %d, want 4 (file line)", second.RowNumber)
	}
	if second.Fields.Name != "Mittens" {
		t.Errorf("Name = %q, want trimmed", second.Fields.Name)
	}
	if second.Fields.Breed == nil || *second.Fields.Breed != "Tuxedo" {
		t.Errorf("Breed = %v, want Tuxedo", second.Fields.Breed)
	}
}

func TestAnalyzeImport_HeaderIsCaseSensitive(t *testing.T) {
	resp := analyze(t, seededStore(), "Name\nWhiskers\n")

	if diff := cmp.Diff([]string{"Name is required"}, resp.Rows[0].Errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeImport_FatalErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want error
	}{
		{"empty", "", core.ErrEmptyFile},
		{"whitespace", "  \n\n", core.ErrEmptyFile},
		{"header only", "id,name\n", core.ErrNoDataRows},
		{"header and blank rows", "id,name\n,\n\n", core.ErrNoDataRows},
		{"empty header", ",,\nWhiskers\n", core.ErrInvalidCSV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := core.AnalyzeImport(context.Background(), seededStore(), []byte(tt.csv))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAnalyzeImport_DoesNotWrite(t *testing.T) {
	store := seededStore()
	csv := "id,name,bonded_pair_id\n5,Pumpkin,6\n6,Ziggy,5\n,New cat,\n"

	first := analyze(t, store, csv)
	second := analyze(t, store, csv)

	if diff := cmp.Diff(first.Rows, second.Rows); diff != "" {
		t.Errorf("preview not repeatable (-first +second):\n%s", diff)
	}

	all, err := store.FindAll(context.Background(), core.FindAllFilter{IncludeDeleted: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("store has %d records after preview, want 3", len(all))
	}
	for _, rec := range all {
		if rec.Deleted() || rec.BondedPairID != nil {
			t.Errorf("preview mutated record %d", rec.ID)
		}
	}
}

func TestAnalyzeImport_StoreFailure(t *testing.T) {
	store := &failingStore{Store: seededStore(), failOn: "FindByID"}

	_, err := core.AnalyzeImport(context.Background(), store, []byte("id,name\n5,Pumpkin\n"))
	if err == nil || !strings.Contains(err.Error(), "find animal 5") {
		t.Errorf("err = %v, want store failure", err)
	}
}
