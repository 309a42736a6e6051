// Package core provides the business logic for shelter CSV imports.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"context"
	"time"
)

// Status values understood by the public site. The column is validated
// loosely: any non-empty value is accepted and stored as given.
const (
	StatusAvailable = "available"
	StatusPending   = "pending"
	StatusHold      = "hold"
	StatusAlumni    = "alumni"
)

// SeniorAgeYears is the age at which a cat is flagged senior when the
// is_senior column does not say so explicitly.
const SeniorAgeYears = 10

// AnimalFields is the writable attribute set of an animal record.
// Nil pointers are intentionally absent optional values.
type AnimalFields struct {
	Name           string   `json:"name"`
	AgeYears       *float64 `json:"ageYears"`
	Sex            *string  `json:"sex"`
	Breed          *string  `json:"breed"`
	Temperament    *string  `json:"temperament"`
	MedicalNotes   *string  `json:"medicalNotes"`
	MainImageURL   *string  `json:"mainImageUrl"`
	AdoptURL       *string  `json:"adoptUrl"`
	GoodWithKids   bool     `json:"goodWithKids"`
	GoodWithCats   bool     `json:"goodWithCats"`
	GoodWithDogs   bool     `json:"goodWithDogs"`
	IsSpecialNeeds bool     `json:"isSpecialNeeds"`
	IsSenior       bool     `json:"isSenior"`
	IsDeceased     bool     `json:"isDeceased"`
	Featured       bool     `json:"featured"`
	Status         string   `json:"status"`
	BondedPairID   *int64   `json:"bondedPairId"`
}

// AnimalRecord is a persisted animal as returned by a Store.
type AnimalRecord struct {
	ID int64 `json:"id"`
	AnimalFields
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt"`
}

// Deleted reports whether the record has been soft-deleted.
func (r AnimalRecord) Deleted() bool {
	return r.DeletedAt != nil
}

// FindAllFilter narrows Store.FindAll.
type FindAllFilter struct {
	IncludeDeleted bool
}

// Store is the persistence contract the importer runs against.
// Implementations must offer read-after-write consistency within one import.
type Store interface {
	// FindByID returns nil, nil when no record has the id. Soft-deleted
	// records are still returned.
	FindByID(ctx context.Context, id int64) (*AnimalRecord, error)
	FindAll(ctx context.Context, filter FindAllFilter) ([]AnimalRecord, error)
	// Create assigns the id.
	Create(ctx context.Context, fields AnimalFields) (*AnimalRecord, error)
	// Update returns nil, nil when the id is unknown or already deleted.
	Update(ctx context.Context, id int64, fields AnimalFields) (*AnimalRecord, error)
	// SoftDelete stamps deleted_at; the row stays addressable by id.
	SoftDelete(ctx context.Context, id int64) error
}

// Operation is what applying a row will do.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpSkip   Operation = "skip"
)

// CandidateRow is one parsed CSV line.
type CandidateRow struct {
	// RowNumber is the line in the source file; the header is line 1.
	RowNumber int `json:"rowNumber" validate:"gte=0"`
	// ID is set for update rows whose id parsed.
	ID        *int64       `json:"id"`
	Operation Operation    `json:"operation" validate:"oneof=create update skip"`
	Errors    []string     `json:"errors"`
	Fields    AnimalFields `json:"fields"`
}

// HasErrors reports whether the row must not be applied.
func (r CandidateRow) HasErrors() bool {
	return len(r.Errors) > 0
}

// PreviewSummary contains the summary counts for an import preview.
type PreviewSummary struct {
	Creates int `json:"creates"`
	Updates int `json:"updates"`
	Errors  int `json:"errors"`
}

// PreviewResponse is the complete response from preview analysis.
type PreviewResponse struct {
	Rows             []CandidateRow `json:"rows"`
	Total            int            `json:"total"`
	Summary          PreviewSummary `json:"summary"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
}

// ApplyResult is the aggregate outcome of an apply. Counts cover only work
// that actually completed.
type ApplyResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
}
