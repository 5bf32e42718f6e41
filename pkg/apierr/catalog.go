package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a failure class surfaced to API callers.
type Kind string

const (
	// Client input
	MissingFile          Kind = "MissingFile"
	EmptyFilename        Kind = "EmptyFilename"
	MissingQuestion      Kind = "MissingQuestion"
	UnsupportedExtension Kind = "UnsupportedExtension"
	FileTooLarge         Kind = "FileTooLarge"

	// Content
	EmptySheet     Kind = "EmptySheet"
	SheetReadError Kind = "SheetReadError"

	// Routing
	NotFound         Kind = "NotFound"
	MethodNotAllowed Kind = "MethodNotAllowed"

	// Service
	UpstreamError Kind = "UpstreamError"
	Busy          Kind = "Busy"
	Internal      Kind = "Internal"
)

// Entry documents a kind's HTTP status, default message, and caller tip.
type Entry struct {
	Kind    Kind
	Status  int
	Message string
	Tip     string
}

var catalog = map[Kind]Entry{
	MissingFile:          {Kind: MissingFile, Status: http.StatusBadRequest, Message: "no Excel file uploaded", Tip: "Upload an .xlsx, .xls or .xlsm file in the excel_file field"},
	EmptyFilename:        {Kind: EmptyFilename, Status: http.StatusBadRequest, Message: "no file selected"},
	MissingQuestion:      {Kind: MissingQuestion, Status: http.StatusBadRequest, Message: "please write your question", Tip: "Ask something like 'Which stocks have a positive WT signal?'"},
	UnsupportedExtension: {Kind: UnsupportedExtension, Status: http.StatusBadRequest, Message: "invalid file extension"},
	FileTooLarge:         {Kind: FileTooLarge, Status: http.StatusBadRequest, Message: "file too large"},

	EmptySheet:     {Kind: EmptySheet, Status: http.StatusBadRequest, Message: "Excel file is empty", Tip: "Check that the file contains data"},
	SheetReadError: {Kind: SheetReadError, Status: http.StatusBadRequest, Message: "Excel read error", Tip: "Open the file in Excel, re-save it as .xlsx and retry"},

	NotFound:         {Kind: NotFound, Status: http.StatusNotFound, Message: "endpoint not found", Tip: "See GET / for the endpoint directory"},
	MethodNotAllowed: {Kind: MethodNotAllowed, Status: http.StatusMethodNotAllowed, Message: "method not allowed"},

	UpstreamError: {Kind: UpstreamError, Status: http.StatusInternalServerError, Message: "completion service error"},
	Busy:          {Kind: Busy, Status: http.StatusServiceUnavailable, Message: "concurrent request limit reached", Tip: "Retry after a short delay"},
	Internal:      {Kind: Internal, Status: http.StatusInternalServerError, Message: "server error"},
}

// Lookup returns the catalog entry for k. Unknown kinds map to Internal.
func Lookup(k Kind) Entry {
	if e, ok := catalog[k]; ok {
		return e
	}
	return catalog[Internal]
}

// Error is a classified failure. Allowed and MaxSize are populated only for
// the kinds that report them.
type Error struct {
	Kind    Kind
	Message string
	Tip     string
	Allowed []string
	MaxSize string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status for the error's kind.
func (e *Error) Status() int { return Lookup(e.Kind).Status }

// New returns an error of kind k. An empty message uses the catalog default.
func New(k Kind, message string) *Error {
	entry := Lookup(k)
	if message == "" {
		message = entry.Message
	}
	return &Error{Kind: k, Message: message, Tip: entry.Tip}
}

// Newf formats the message and returns an error of kind k.
func Newf(k Kind, format string, args ...any) *Error {
	return New(k, fmt.Sprintf(format, args...))
}

// Wrap classifies cause as kind k. The message is the catalog default
// followed by the stringified cause, matching what callers are shown.
func Wrap(k Kind, cause error) *Error {
	e := New(k, "")
	if cause != nil {
		e.Message = fmt.Sprintf("%s: %v", e.Message, cause)
	}
	e.Cause = cause
	return e
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns err's kind, or Internal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// IsClientFault reports whether the kind is safe to show verbatim to the caller.
func IsClientFault(k Kind) bool {
	return Lookup(k).Status < http.StatusInternalServerError
}
