package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/local/pagepicker/internal/document"
	"github.com/local/pagepicker/internal/pagespec"
	"github.com/local/pagepicker/internal/session"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// usageError marks failures caused by the command line or page list.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func main() {
	os.Exit(exitCode(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr), os.Stderr))
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	fmt.Fprintln(stderr, "pagepick:", err)
	var ue *usageError
	if errors.As(err, &ue) {
		return exitUsage
	}
	return exitError
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags, rest, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return &usageError{msg: "expected exactly one input file"}
	}
	data, err := os.ReadFile(rest[0])
	if err != nil {
		return err
	}

	svc := document.New()
	doc, err := svc.Open(ctx, data)
	if err != nil {
		return fmt.Errorf("%s: %w", rest[0], err)
	}

	if flags.info {
		fmt.Fprintf(stdout, "%s: %d pages\n", rest[0], doc.PageCount())
		for i, s := range document.Snippets(data, doc.PageCount(), 60) {
			fmt.Fprintf(stdout, "%4d  %s\n", i+1, s)
		}
		return nil
	}

	if strings.TrimSpace(flags.pages) == "" {
		return &usageError{msg: "no pages given (use -p, e.g. -p 2,5,8)"}
	}
	sel, err := pagespec.Parse(flags.pages, doc.PageCount())
	if err != nil {
		return &usageError{msg: session.ProblemFor(err).Message}
	}
	pages := sel.Pages
	if flags.booklet {
		pages = pagespec.ArrangeForBooklet(pages, doc.PageCount())
	}

	out, err := svc.Extract(ctx, doc, pages)
	if err != nil {
		return err
	}
	if err := os.WriteFile(flags.output, out, 0o644); err != nil {
		return err
	}
	if !flags.quiet {
		fmt.Fprintf(stdout, "wrote %s (pages %s)\n", flags.output, pagespec.Format(pages))
	}
	return nil
}
