package pagespec

import (
	"errors"
	"fmt"
)

// Kind classifies why a page spec was rejected.
type Kind int

const (
	KindNoValidPages Kind = iota + 1
	KindTooManyPages
	KindNonPositivePage
	KindOutOfRange
)

// Sentinel errors, one per Kind. A *ParseError unwraps to the matching one.
var (
	ErrNoValidPages    = errors.New("no valid page numbers")
	ErrTooManyPages    = errors.New("more pages requested than the document has")
	ErrNonPositivePage = errors.New("page numbers must be positive")
	ErrOutOfRange      = errors.New("page number out of range")
)

func (k Kind) String() string {
	switch k {
	case KindNoValidPages:
		return "no_valid_pages"
	case KindTooManyPages:
		return "too_many_pages"
	case KindNonPositivePage:
		return "non_positive_page"
	case KindOutOfRange:
		return "out_of_range"
	}
	return "unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindNoValidPages:
		return ErrNoValidPages
	case KindTooManyPages:
		return ErrTooManyPages
	case KindNonPositivePage:
		return ErrNonPositivePage
	case KindOutOfRange:
		return ErrOutOfRange
	}
	return nil
}

// ParseError reports a rejected page spec.
// Page is the offending page for NonPositivePage/OutOfRange, Requested the
// number of distinct pages asked for and Total the document page count.
type ParseError struct {
	Kind      Kind
	Page      int
	Requested int
	Total     int
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case KindTooManyPages:
		return fmt.Sprintf("%v: requested %d, document has %d", ErrTooManyPages, e.Requested, e.Total)
	case KindNonPositivePage:
		return fmt.Sprintf("%v: got %d", ErrNonPositivePage, e.Page)
	case KindOutOfRange:
		return fmt.Sprintf("%v: page %d exceeds total pages (%d)", ErrOutOfRange, e.Page, e.Total)
	}
	return ErrNoValidPages.Error()
}

func (e *ParseError) Unwrap() error { return e.Kind.sentinel() }

// KindOf returns the Kind carried by err, or 0 if err is not a page spec error.
func KindOf(err error) Kind {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
