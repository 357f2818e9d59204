// Package pagespec turns free-text page lists typed by a user into validated
// page selections, and reorders selections for booklet printing.
package pagespec

import (
	"strconv"
	"strings"
)

// Selection is an ordered list of distinct 1-based page numbers in the order
// the user first typed them.
type Selection struct {
	Pages []int
}

// Count is the number of selected pages.
func (s Selection) Count() int { return len(s.Pages) }

// Cleared reports whether the selection is the "field cleared" state.
func (s Selection) Cleared() bool { return len(s.Pages) == 0 }

// String renders the canonical form accepted back by Parse.
func (s Selection) String() string { return Format(s.Pages) }

// Parse validates spec against a document of totalPages pages.
//
// Anything other than ASCII digits and commas is dropped first, tokens that
// do not parse as integers are skipped, and duplicates collapse to their first
// occurrence. Empty or whitespace-only input yields an empty Selection and a
// nil error. Rejections are *ParseError values.
func Parse(spec string, totalPages int) (Selection, error) {
	if strings.TrimSpace(spec) == "" {
		return Selection{}, nil
	}

	pages := dedupe(tokenize(sanitize(spec)))
	if len(pages) == 0 {
		return Selection{}, &ParseError{Kind: KindNoValidPages, Total: totalPages}
	}
	if len(pages) > totalPages {
		return Selection{}, &ParseError{Kind: KindTooManyPages, Requested: len(pages), Total: totalPages}
	}
	for _, p := range pages {
		if p <= 0 {
			return Selection{}, &ParseError{Kind: KindNonPositivePage, Page: p, Requested: len(pages), Total: totalPages}
		}
	}
	for _, p := range pages {
		if p > totalPages {
			return Selection{}, &ParseError{Kind: KindOutOfRange, Page: p, Requested: len(pages), Total: totalPages}
		}
	}
	return Selection{Pages: pages}, nil
}

// Format joins pages with commas, e.g. "2,5,8".
func Format(pages []int) string {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(p))
	}
	return b.String()
}

func sanitize(spec string) string {
	var b strings.Builder
	b.Grow(len(spec))
	for i := 0; i < len(spec); i++ {
		c := spec[i]
		if c == ',' || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func tokenize(s string) []int {
	var out []int
	for _, tok := range strings.Split(s, ",") {
		n, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func dedupe(nums []int) []int {
	seen := make(map[int]struct{}, len(nums))
	out := make([]int, 0, len(nums))
	for _, n := range nums {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
