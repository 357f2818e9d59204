package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"
)

//go:embed templates/*.html
var templates embed.FS

// Options are the values the page needs at render time.
type Options struct {
	Booklet     bool
	MaxUploadMB int
}

type Web struct {
	tpl  *template.Template
	opts Options
}

func New(opts Options) *Web {
	tpl := template.Must(template.ParseFS(templates, "templates/*.html"))
	return &Web{tpl: tpl, opts: opts}
}

func (w *Web) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", w.handleIndex)
}

func (w *Web) handleIndex(wr http.ResponseWriter, r *http.Request) {
	w.render(wr, "index.html", map[string]any{
		"Booklet":     w.opts.Booklet,
		"MaxUploadMB": w.opts.MaxUploadMB,
	})
}

func (w *Web) render(wr http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := w.tpl.ExecuteTemplate(&buf, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("render failed")
		http.Error(wr, "render failed", http.StatusInternalServerError)
		return
	}
	wr.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(wr)
}
