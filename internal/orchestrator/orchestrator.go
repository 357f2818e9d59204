package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pagepicker/internal/document"
	"github.com/local/pagepicker/internal/limiter"
	"github.com/local/pagepicker/internal/pagespec"
	"github.com/local/pagepicker/internal/preview"
	"github.com/local/pagepicker/internal/session"
)

// Sessions is the session host the API drives.
type Sessions interface {
	Create(ctx context.Context) (session.View, error)
	Get(ctx context.Context, id string) (session.View, error)
	Upload(ctx context.Context, id, name string, data []byte) (session.View, error)
	UploadRef(ctx context.Context, id, ref string) (session.View, error)
	SubmitSpec(ctx context.Context, id string, seq uint64, spec string) (session.View, error)
	Extract(ctx context.Context, id string, booklet bool) (session.View, error)
	Artifact(ctx context.Context, id string) ([]byte, session.ArtifactInfo, error)
	Source(ctx context.Context, id string) ([]byte, int, error)
	Delete(ctx context.Context, id string) error
}

type Dependencies struct {
	Sessions       Sessions
	MaxUploadBytes int64
	Preview        preview.Options
	Limiter        session.Limiter
}

type Orchestrator struct {
	deps Dependencies
}

func New(deps Dependencies) *Orchestrator {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 64 << 20
	}
	return &Orchestrator{deps: deps}
}

// ArtifactName is the download file name of an extracted document.
const ArtifactName = "extracted_pages.pdf"

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /api/sessions", o.handleCreate)
	mux.HandleFunc("GET /api/sessions/{id}", o.handleGet)
	mux.HandleFunc("DELETE /api/sessions/{id}", o.handleDelete)
	mux.HandleFunc("POST /api/sessions/{id}/document", o.handleDocument)
	mux.HandleFunc("PUT /api/sessions/{id}/pages", o.handlePages)
	mux.HandleFunc("POST /api/sessions/{id}/extract", o.handleExtract)
	mux.HandleFunc("GET /api/sessions/{id}/download", o.handleDownload)
	mux.HandleFunc("GET /api/sessions/{id}/preview", o.handlePreview)
}

type sessionResp struct {
	Session *session.View `json:"session,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type documentRefReq struct {
	FileURL string `json:"file_url"`
}

type pagesReq struct {
	Spec string `json:"spec"`
	Seq  uint64 `json:"seq"`
}

type extractReq struct {
	Booklet bool `json:"booklet"`
}

func (o *Orchestrator) handleCreate(w http.ResponseWriter, r *http.Request) {
	v, err := o.deps.Sessions.Create(r.Context())
	if err != nil {
		o.fail(w, r, "", v, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResp{Session: &v})
}

func (o *Orchestrator) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, err := o.deps.Sessions.Get(r.Context(), id)
	o.respond(w, r, id, v, err)
}

func (o *Orchestrator) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := o.deps.Sessions.Delete(r.Context(), id); err != nil {
		o.fail(w, r, id, session.View{}, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDocument accepts either a multipart upload (field "file") or a JSON
// reference to a remote document.
func (o *Orchestrator) handleDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, o.deps.MaxUploadBytes)
	defer r.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, uploadStatus(err), "invalid multipart form")
			return
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, uploadStatus(err), "read failed")
			return
		}
		name := hdr.Filename
		if name == "" {
			name = "upload.pdf"
		}
		v, err := o.deps.Sessions.Upload(r.Context(), id, name, data)
		o.respond(w, r, id, v, err)
	case "application/json":
		var req documentRefReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileURL == "" {
			writeError(w, http.StatusBadRequest, "missing file_url")
			return
		}
		v, err := o.deps.Sessions.UploadRef(r.Context(), id, req.FileURL)
		o.respond(w, r, id, v, err)
	default:
		writeError(w, http.StatusUnsupportedMediaType, "expected multipart/form-data or application/json")
	}
}

func (o *Orchestrator) handlePages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	defer r.Body.Close()
	var req pagesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	v, err := o.deps.Sessions.SubmitSpec(r.Context(), id, req.Seq, req.Spec)
	o.respond(w, r, id, v, err)
}

func (o *Orchestrator) handleExtract(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	defer r.Body.Close()
	var req extractReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	v, err := o.deps.Sessions.Extract(r.Context(), id, req.Booklet)
	o.respond(w, r, id, v, err)
}

func (o *Orchestrator) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, info, err := o.deps.Sessions.Artifact(r.Context(), id)
	if err != nil {
		o.fail(w, r, id, session.View{}, err)
		return
	}
	w.Header().Set("Content-Type", document.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ArtifactName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Pages", pagespec.Format(info.Pages))
	if info.Superseded {
		w.Header().Set("X-Artifact-Superseded", "true")
	}
	_, _ = w.Write(data)
}

// handlePreview renders one page as JPEG: of the extracted document by
// default, of the loaded source with of=source.
func (o *Orchestrator) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	opts := o.deps.Preview
	if d := q.Get("dpi"); d != "" {
		dpi, err := strconv.Atoi(d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid dpi")
			return
		}
		opts.DPI = dpi
	}
	var data []byte
	if q.Get("of") == "source" {
		data, _, err = o.deps.Sessions.Source(r.Context(), id)
	} else {
		data, _, err = o.deps.Sessions.Artifact(r.Context(), id)
	}
	if err != nil {
		o.fail(w, r, id, session.View{}, err)
		return
	}
	if o.deps.Limiter != nil {
		release, err := o.deps.Limiter.Acquire(r.Context(), "preview")
		if err != nil {
			o.fail(w, r, id, session.View{}, err)
			return
		}
		defer release()
	}
	start := time.Now()
	img, width, height, err := preview.Render(data, page, opts)
	if err != nil {
		o.fail(w, r, id, session.View{}, err)
		return
	}
	log.Debug().Str("session_id", id).Int("page", page).Int("width", width).Int("height", height).Dur("took", time.Since(start)).Msg("preview rendered")
	w.Header().Set("Content-Type", preview.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}

// respond writes the view, with the status derived from err. Views are
// returned on failure too so the client can render the session's problems.
func (o *Orchestrator) respond(w http.ResponseWriter, r *http.Request, id string, v session.View, err error) {
	if err != nil {
		o.fail(w, r, id, v, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResp{Session: &v})
}

func (o *Orchestrator) fail(w http.ResponseWriter, r *http.Request, id string, v session.View, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("session_id", id).Str("path", r.URL.Path).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("session_id", id).Str("path", r.URL.Path).Int("status", code).Msg("request rejected")
	}
	resp := sessionResp{Error: err.Error()}
	if v.ID != "" {
		resp.Session = &v
	}
	writeJSON(w, code, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrNoArtifact):
		return http.StatusNotFound
	case errors.Is(err, session.ErrStale):
		return http.StatusConflict
	case errors.Is(err, session.ErrBookletDisabled):
		return http.StatusForbidden
	case errors.Is(err, session.ErrFetchDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, limiter.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNoDocument),
		errors.Is(err, session.ErrNoSelection),
		errors.Is(err, pagespec.ErrNoValidPages),
		errors.Is(err, pagespec.ErrTooManyPages),
		errors.Is(err, pagespec.ErrNonPositivePage),
		errors.Is(err, pagespec.ErrOutOfRange),
		errors.Is(err, preview.ErrPageRange):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrLoad), errors.Is(err, document.ErrExtraction):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func uploadStatus(err error) int {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, sessionResp{Error: msg})
}
