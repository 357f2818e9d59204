package document

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

// Snippets returns the first line of text of each page, trimmed to maxLen
// runes, for at most maxPages pages. Pages without extractable text yield "".
// Text is a hint for choosing pages, so failures are logged and swallowed.
func Snippets(data []byte, maxPages, maxLen int) []string {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		log.Debug().Err(err).Msg("snippets: open failed")
		return nil
	}
	n := r.NumPage()
	if maxPages > 0 && n > maxPages {
		n = maxPages
	}
	out := make([]string, n)
	for i := 1; i <= n; i++ {
		out[i-1] = pageSnippet(r, i, maxLen)
	}
	return out
}

func pageSnippet(r *pdf.Reader, i, maxLen int) (s string) {
	defer func() {
		// ledongthuc/pdf panics on some malformed content streams
		if rec := recover(); rec != nil {
			log.Debug().Int("page", i).Interface("panic", rec).Msg("snippets: page skipped")
			s = ""
		}
	}()
	p := r.Page(i)
	if p.V.IsNull() {
		return ""
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if rs := []rune(line); maxLen > 0 && len(rs) > maxLen {
			line = string(rs[:maxLen])
		}
		return line
	}
	return ""
}
