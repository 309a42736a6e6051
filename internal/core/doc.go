// Package core provides the business logic for shelter CSV imports.
//
// The shelter's adoptable cats are maintained in a spreadsheet. An import
// makes the database match that spreadsheet exactly, in two steps that a
// person approves in between.
//
// # Preview
//
// [AnalyzeImport] (or [Service.Preview]) parses the upload and classifies each
// data row as a create (no id) or update (id of an existing record). Every
// problem on a row is collected into [CandidateRow.Errors] rather than failing
// the file. A second pass checks bonded pair references across the whole
// batch. Preview never writes.
//
// # Apply
//
// [Reconcile] (or [Service.Apply]) takes the rows the user confirmed and runs
// three passes:
//
//  1. Create or update every error-free row, with bonded pairs cleared
//  2. Link each declared bonded pair on both cats, if both were written
//  3. Soft-delete every active record the import did not write
//
// The file is the complete dataset: a cat missing from it is archived.
// There is no rollback. A failure stops the import and the completed writes
// stay; the returned [ApplyResult] counts only completed work.
//
// Only one apply runs at a time; [ImportLimiter] is the lock.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with support codes by
// [MapError] (FILE, VAL, IMP, DB and RATE codes).
package core
