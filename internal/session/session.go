// Package session is the host side of page extraction. Each session owns a
// single document slot and the user's current page spec, and discards
// results of loads or extractions that were superseded while in flight.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/local/pagepicker/internal/pagespec"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrNoDocument      = errors.New("no document loaded")
	ErrNoSelection     = errors.New("no pages selected")
	ErrNoArtifact      = errors.New("no extracted document")
	ErrStale           = errors.New("superseded by a newer request")
	ErrBookletDisabled = errors.New("booklet ordering is disabled")
	ErrFetchDisabled   = errors.New("loading documents by reference is disabled")
)

// Document is a decoded source document.
type Document interface {
	PageCount() int
}

// snippeter is implemented by documents that can describe their pages.
type snippeter interface {
	Snippets() []string
}

type artifact struct {
	extract    uint64
	generation uint64
	data       []byte
	pages   []int
	booklet bool
	created time.Time
}

// Session state. generation counts uploads, specSeq counts accepted spec
// edits, extracts counts started extractions; all only grow.
type Session struct {
	mu      sync.Mutex
	id      string
	now     func() time.Time
	touched time.Time
	deleted bool

	// wmu orders writes of this session's blobs and record. It is held across
	// storage calls and never while holding mu.
	wmu sync.Mutex

	generation uint64
	doc        Document
	source     []byte
	fileName   string
	snippets   []string

	spec      string
	specSeq   uint64
	selection pagespec.Selection
	specErr   error

	loadErr    error
	extractErr error
	extracts   uint64
	artifact   *artifact
}

func newSession(id string, now func() time.Time) *Session {
	return &Session{id: id, now: now, touched: now()}
}

type loadTicket struct {
	generation uint64
}

type extractTicket struct {
	extract    uint64
	generation uint64
	specSeq    uint64
	doc        Document
	pages      []int
	booklet    bool
}

// beginLoad claims the document slot for a new upload.
func (s *Session) beginLoad() loadTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.touched = s.now()
	return loadTicket{generation: s.generation}
}

// completeLoad applies a load result unless a newer upload started.
// A failed load clears the document (page count 0) and keeps everything else;
// a kept artifact is then reported as superseded.
func (s *Session) completeLoad(t loadTicket, name string, data []byte, doc Document, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.generation != s.generation {
		return false
	}
	s.touched = s.now()
	s.fileName = name
	if err != nil {
		s.doc = nil
		s.source = nil
		s.snippets = nil
		s.loadErr = err
		s.revalidate()
		return true
	}
	s.doc = doc
	s.source = data
	s.snippets = nil
	if sn, ok := doc.(snippeter); ok {
		s.snippets = sn.Snippets()
	}
	s.loadErr = nil
	s.extractErr = nil
	s.artifact = nil
	s.revalidate()
	return true
}

// setSpec records a spec edit. seq 0 means "the next one"; an explicit seq
// not newer than the last accepted one is rejected as stale.
func (s *Session) setSpec(seq uint64, spec string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq == 0 {
		seq = s.specSeq + 1
	}
	if seq <= s.specSeq {
		return false
	}
	s.specSeq = seq
	s.spec = spec
	s.touched = s.now()
	s.revalidate()
	return true
}

// revalidate recomputes the selection. Without a document the page spec is kept
// but not validated. Caller holds s.mu.
func (s *Session) revalidate() {
	if s.doc == nil {
		s.selection, s.specErr = pagespec.Selection{}, nil
		return
	}
	s.selection, s.specErr = pagespec.Parse(s.spec, s.doc.PageCount())
}

// beginExtract snapshots what an extraction needs.
func (s *Session) beginExtract(booklet bool) (extractTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = s.now()
	if s.doc == nil {
		return extractTicket{}, ErrNoDocument
	}
	if s.specErr != nil {
		return extractTicket{}, s.specErr
	}
	if s.selection.Cleared() {
		return extractTicket{}, ErrNoSelection
	}
	pages := append([]int(nil), s.selection.Pages...)
	if booklet {
		pages = pagespec.ArrangeForBooklet(pages, s.doc.PageCount())
	}
	s.extracts++
	return extractTicket{
		extract:    s.extracts,
		generation: s.generation,
		specSeq:    s.specSeq,
		doc:        s.doc,
		pages:      pages,
		booklet:    booklet,
	}, nil
}

// completeExtract applies an extraction result unless the document or the
// spec changed meanwhile. Failure leaves the selection and any previous
// artifact in place.
func (s *Session) completeExtract(t extractTicket, data []byte, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.generation != s.generation || t.specSeq != s.specSeq {
		return false
	}
	s.touched = s.now()
	if err != nil {
		s.extractErr = err
		return true
	}
	s.extractErr = nil
	s.artifact = &artifact{
		extract:    t.extract,
		generation: t.generation,
		data:       data,
		pages:      t.pages,
		booklet:    t.booklet,
		created:    s.now(),
	}
	return true
}

// loadCurrent reports whether t is still the latest upload of a live session.
func (s *Session) loadCurrent(t loadTicket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.deleted && t.generation == s.generation
}

// artifactCurrent reports whether the artifact of t is the one the session
// holds now.
func (s *Session) artifactCurrent(t extractTicket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.deleted && s.artifact != nil && s.artifact.extract == t.extract
}

func (s *Session) markDeleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = true
}

func (s *Session) isDeleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

func (s *Session) sourceBytes() ([]byte, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, 0, false
	}
	return s.source, s.doc.PageCount(), true
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}
