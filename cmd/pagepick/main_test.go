package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	flag "github.com/spf13/pflag"

	"github.com/local/pagepicker/internal/document"
	"github.com/local/pagepicker/internal/pdftest"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()
	in, err := pdftest.WriteFile(dir, 8)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		args      []string
		wantCode  int
		wantPages []string
		wantErr   string
	}{
		{name: "plain", args: []string{"-p", "2,5,8"}, wantPages: []string{"Page 2", "Page 5", "Page 8"}},
		{name: "duplicates dropped", args: []string{"--pages=5, 5 ,1"}, wantPages: []string{"Page 5", "Page 1"}},
		{name: "booklet", args: []string{"-b", "-p", "3,8,1"}, wantPages: []string{"Page 8", "Page 1", "Page 3"}},
		{name: "out of range", args: []string{"-p", "2,9"}, wantCode: exitUsage, wantErr: "Page 9 does not exist"},
		{name: "too many", args: []string{"-p", "1,2,3,4,5,6,7,8,9"}, wantCode: exitUsage, wantErr: "only has 8"},
		{name: "no pages", args: []string{}, wantCode: exitUsage, wantErr: "no pages given"},
		{name: "unknown flag", args: []string{"--nope"}, wantCode: exitError},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(dir, "out", tt.name+".pdf")
			_ = os.MkdirAll(filepath.Dir(out), 0o755)
			args := append(append([]string{}, tt.args...), "-o", out, "-q", in)
			var stdout, stderr bytes.Buffer
			code := exitCode(run(context.Background(), args, &stdout, &stderr), &stderr)
			if code != tt.wantCode {
				t.Fatalf("case %d: exit = %d, want %d (stderr %q)", i, code, tt.wantCode, stderr.String())
			}
			if tt.wantErr != "" && !strings.Contains(stderr.String(), tt.wantErr) {
				t.Fatalf("stderr = %q, want %q", stderr.String(), tt.wantErr)
			}
			if tt.wantPages == nil {
				return
			}
			data, err := os.ReadFile(out)
			if err != nil {
				t.Fatalf("read output: %v", err)
			}
			got := document.Snippets(data, 10, 20)
			if len(got) != len(tt.wantPages) {
				t.Fatalf("snippets = %q, want %d pages", got, len(tt.wantPages))
			}
			for j, want := range tt.wantPages {
				if !strings.Contains(got[j], want) {
					t.Errorf("page %d = %q, want %q", j+1, got[j], want)
				}
			}
		})
	}
}

func TestRunInfo(t *testing.T) {
	in, err := pdftest.WriteFile(t.TempDir(), 3)
	if err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"-i", in}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), ": 3 pages") || !strings.Contains(stdout.String(), "Page 3") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	notPDF := filepath.Join(dir, "notes.txt")
	_ = os.WriteFile(notPDF, []byte("hello"), 0o644)

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"-p", "1", notPDF}, &stdout, &stderr); !errors.Is(err, document.ErrLoad) {
		t.Errorf("not a pdf: err = %v", err)
	}
	var ue *usageError
	if err := run(context.Background(), []string{"-p", "1"}, &stdout, &stderr); !errors.As(err, &ue) {
		t.Errorf("missing input: err = %v", err)
	}
	if err := run(context.Background(), []string{"-p", "1", filepath.Join(dir, "missing.pdf")}, &stdout, &stderr); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v", err)
	}
	if err := run(context.Background(), []string{"--help"}, &stdout, &stderr); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("help: err = %v", err)
	}
}
