package core

import (
	"math"
	"strconv"
	"strings"
)

// CSV column names. Matching is case-sensitive.
const (
	ColID             = "id"
	ColName           = "name"
	ColAgeYears       = "age_years"
	ColSex            = "sex"
	ColBreed          = "breed"
	ColTemperament    = "temperament"
	ColGoodWithKids   = "good_with_kids"
	ColGoodWithCats   = "good_with_cats"
	ColGoodWithDogs   = "good_with_dogs"
	ColMedicalNotes   = "medical_notes"
	ColIsSpecialNeeds = "is_special_needs"
	ColStatus         = "status"
	ColMainImageURL   = "main_image_url"
	ColFeatured       = "featured"
	ColBondedPairID   = "bonded_pair_id"
	ColAdoptURL       = "adoptapet_url"
	ColIsSenior       = "is_senior"
	ColIsDeceased     = "is_deceased"
)

// Columns is the export column order. Imports accept any order and ignore
// columns not listed here.
var Columns = []string{
	ColID, ColName, ColAgeYears, ColSex, ColBreed, ColTemperament,
	ColGoodWithKids, ColGoodWithCats, ColGoodWithDogs, ColMedicalNotes,
	ColIsSpecialNeeds, ColStatus, ColMainImageURL, ColFeatured,
	ColBondedPairID, ColAdoptURL, ColIsSenior, ColIsDeceased,
}

// parseFlag implements the import's truthy contract: only the literal
// strings "1" and "true" are true.
func parseFlag(s string) bool {
	return s == "1" || s == "true"
}

// optionalText returns nil for blank cells.
func optionalText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// parseAge parses a finite, non-negative number of years.
func parseAge(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

// parsePositiveID parses a strictly positive base-10 integer. Zero,
// negatives, decimals and anything unparsable fail alike.
func parsePositiveID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// formatFlag is the export form of a boolean.
func formatFlag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func formatOptional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatAge(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
