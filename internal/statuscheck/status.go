package statuscheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Pinger models the minimal capability we need for status checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Workers reports how busy the document worker slots are.
type Workers interface {
	InUse(key string) int
	Max() int
}

// Checker aggregates health checks for the service's dependencies.
type Checker struct {
	records     Pinger
	storage     Pinger
	storageName string
	renderer    func() error
	workers     Workers
	workerKeys  []string
}

// Options configures the Checker. A nil Records means records are kept in
// memory; a nil Renderer disables the MuPDF check. Workers is reported per
// key in WorkerKeys.
type Options struct {
	Records     Pinger
	Storage     Pinger
	StorageName string
	Renderer    func() error
	Workers     Workers
	WorkerKeys  []string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Load is the slot usage of one kind of document work.
type Load struct {
	InUse int `json:"in_use"`
	Max   int `json:"max"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Records Status          `json:"records"`
	Storage Status          `json:"storage"`
	MuPDF   Status          `json:"mupdf"`
	Workers map[string]Load `json:"workers,omitempty"`
}

// Healthy reports whether the service can load and extract documents.
// The preview renderer is optional.
func (s Summary) Healthy() bool { return s.Records.OK && s.Storage.OK }

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	return &Checker{
		records:     opts.Records,
		storage:     opts.Storage,
		storageName: opts.StorageName,
		renderer:    opts.Renderer,
		workers:     opts.Workers,
		workerKeys:  opts.WorkerKeys,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Records: c.checkRecords(ctx),
		Storage: c.checkStorage(ctx),
		MuPDF:   c.checkMuPDF(),
		Workers: c.workerLoad(),
	}
}

// Handler serves the summary as JSON; 503 when a required dependency is down.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sum := c.Summary(r.Context())
		code := http.StatusOK
		if !sum.Healthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(sum)
	})
}

func (c *Checker) checkRecords(ctx context.Context) Status {
	if c.records == nil {
		return Status{OK: true, Message: "In memory"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.records.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkStorage(ctx context.Context) Status {
	if c.storage == nil {
		return Status{OK: false, Message: "Not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.storage.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	msg := "Available"
	if c.storageName != "" {
		msg = c.storageName + " available"
	}
	return Status{OK: true, Message: msg}
}

func (c *Checker) checkMuPDF() Status {
	if c.renderer == nil {
		return Status{OK: false, Message: "Disabled"}
	}
	if err := c.renderer(); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Available"}
}

func (c *Checker) workerLoad() map[string]Load {
	if c.workers == nil || len(c.workerKeys) == 0 {
		return nil
	}
	out := make(map[string]Load, len(c.workerKeys))
	for _, k := range c.workerKeys {
		out[k] = Load{InUse: c.workers.InUse(k), Max: c.workers.Max()}
	}
	return out
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
