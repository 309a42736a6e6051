package core

// error_messages.go maps technical errors to messages an adoption
// coordinator can act on. Each message carries a code to quote to support.
//
// Codes by category:
//
//	FILE001  file too large            FILE002  invalid CSV
//	FILE003  empty file                FILE004  no data rows
//	FILE005  no file provided
//	VAL001   no rows confirmed         VAL002   invalid request body
//	IMP001   another import running    IMP002   record vanished mid-import
//	IMP003   request cancelled         IMP004   request timed out
//	DB001    duplicate key             DB002    connection refused
//	DB003    connection reset          DB004    deadlock
//	RATE001  rate limited
//	ERR000   anything else; check the logs for the technical error
//
// Sentinel errors are matched with errors.Is first. Driver errors that only
// surface as text fall back to case-insensitive substring patterns, first
// match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// ErrNoFile is returned by transports when a request carries no CSV.
var ErrNoFile = errors.New("no file provided")

// ErrInvalidRequest is returned by transports for malformed apply bodies.
var ErrInvalidRequest = errors.New("invalid request body")

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrFileTooLarge, UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Remove unused columns or split the export",
		Code:    "FILE001",
	}},
	{ErrInvalidCSV, UserMessage{
		Message: "File is not a valid CSV",
		Action:  "Export the sheet again as comma-separated values",
		Code:    "FILE002",
	}},
	{ErrEmptyFile, UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Upload a CSV with a header row and at least one cat",
		Code:    "FILE003",
	}},
	{ErrNoDataRows, UserMessage{
		Message: "The file has a header but no cats",
		Action:  "Add at least one data row below the header",
		Code:    "FILE004",
	}},
	{ErrNoFile, UserMessage{
		Message: "No file was selected",
		Action:  "Choose a CSV file to preview",
		Code:    "FILE005",
	}},
	{ErrNoRowsConfirmed, UserMessage{
		Message: "No rows were confirmed for import",
		Action:  "Preview the file again and confirm at least one row",
		Code:    "VAL001",
	}},
	{ErrInvalidRequest, UserMessage{
		Message: "The import request was malformed",
		Action:  "Preview the file again and resubmit",
		Code:    "VAL002",
	}},
	{ErrImportBusy, UserMessage{
		Message: "Another import is already running",
		Action:  "Wait for it to finish, then preview your file again",
		Code:    "IMP001",
	}},
	{ErrRecordNotFound, UserMessage{
		Message: "A cat changed while the import was running",
		Action:  "Preview the file again; completed changes were kept",
		Code:    "IMP002",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "IMP003",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Run the same file again; it picks up where it stopped",
		Code:    "IMP004",
	}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{
		Message: "A record with this id already exists",
		Action:  "Check the id column for duplicates",
		Code:    "DB001",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB002",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Run the same file again; completed changes were kept",
		Code:    "DB003",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB004",
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns the zero UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
