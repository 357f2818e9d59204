package session

import (
	"errors"
	"fmt"

	"github.com/local/pagepicker/internal/document"
	"github.com/local/pagepicker/internal/pagespec"
)

// Problem is a user-facing failure of one operation. Kind is stable and
// machine readable; Message is shown to the user.
type Problem struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const (
	KindLoadFailed       = "load_failed"
	KindExtractionFailed = "extraction_failed"
	KindNoDocument       = "no_document"
	KindNoSelection      = "no_selection"
)

// ProblemFor maps an operation error to its Problem. Nil for nil.
func ProblemFor(err error) *Problem {
	if err == nil {
		return nil
	}
	var pe *pagespec.ParseError
	if errors.As(err, &pe) {
		return &Problem{Kind: pe.Kind.String(), Message: specMessage(pe)}
	}
	switch {
	case errors.Is(err, ErrNoDocument):
		return &Problem{Kind: KindNoDocument, Message: "Please upload a PDF to get started."}
	case errors.Is(err, ErrNoSelection):
		return &Problem{Kind: KindNoSelection, Message: "Enter the page numbers you want to extract."}
	case errors.Is(err, document.ErrLoad):
		return &Problem{Kind: KindLoadFailed, Message: "This file could not be read as a PDF. Please upload a different file."}
	case errors.Is(err, document.ErrExtraction):
		return &Problem{Kind: KindExtractionFailed, Message: "Generating the PDF failed. Your page selection is unchanged, please try again."}
	}
	return &Problem{Kind: "internal", Message: "Something went wrong."}
}

func specMessage(pe *pagespec.ParseError) string {
	switch pe.Kind {
	case pagespec.KindTooManyPages:
		return fmt.Sprintf("You selected %d pages but this PDF only has %d.", pe.Requested, pe.Total)
	case pagespec.KindNonPositivePage:
		return "Page numbers start at 1."
	case pagespec.KindOutOfRange:
		return fmt.Sprintf("Page %d does not exist. This PDF has %d pages.", pe.Page, pe.Total)
	}
	return "No valid page numbers found. Enter numbers separated by commas, e.g. 1,5,7."
}
