package main

import (
	"fmt"
	"io"

	flag "github.com/spf13/pflag"
)

// pickFlags holds the command line of pagepick.
type pickFlags struct {
	pages   string
	output  string
	booklet bool
	info    bool
	quiet   bool
}

func parseFlags(args []string, stderr io.Writer) (*pickFlags, []string, error) {
	fs := flag.NewFlagSet("pagepick", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := &pickFlags{}

	fs.StringVarP(&f.pages, "pages", "p", "", "pages to extract, e.g. 2,5,8")
	fs.StringVarP(&f.output, "output", "o", "extracted_pages.pdf", "output file")
	fs.BoolVarP(&f.booklet, "booklet", "b", false, "order pages for booklet printing")
	fs.BoolVarP(&f.info, "info", "i", false, "print page count and first line of each page, then exit")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "only show errors")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: pagepick -p PAGES [-b] [-o out.pdf] input.pdf")
		fmt.Fprintln(stderr, "       pagepick -i input.pdf")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}
