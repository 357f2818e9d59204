package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pagepicker/internal/document"
	"github.com/local/pagepicker/internal/metrics"
	"github.com/local/pagepicker/internal/pagespec"
	"github.com/local/pagepicker/internal/storage"
	"github.com/local/pagepicker/internal/store"
)

// Records persists session records.
type Records interface {
	Save(ctx context.Context, r store.Record) error
	Load(ctx context.Context, id string) (store.Record, bool, error)
	Delete(ctx context.Context, id string) error
}

// Fetcher loads a document by reference (URL or s3:// ref).
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, string, error)
}

// Limiter bounds concurrent backend work per operation.
type Limiter interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Dependencies of a Manager. Fetcher and Limiter are optional.
type Dependencies struct {
	Backend Backend
	Blobs   storage.Blobs
	Records Records
	Fetcher Fetcher
	Limiter Limiter
}

// Options toggles optional behaviour.
type Options struct {
	Booklet bool
}

// Manager owns all live sessions.
type Manager struct {
	deps Dependencies
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Dependencies, opts Options) *Manager {
	return &Manager{deps: deps, opts: opts, now: time.Now, sessions: map[string]*Session{}}
}

// BookletEnabled reports whether booklet extraction is allowed.
func (m *Manager) BookletEnabled() bool { return m.opts.Booklet }

// Create starts an empty session.
func (m *Manager) Create(ctx context.Context) (View, error) {
	s := newSession(uuid.NewString(), m.now)
	if err := m.persist(ctx, s); err != nil {
		return View{}, err
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SetActiveSessions(n)
	log.Info().Str("session_id", s.id).Msg("session created")
	return s.View(), nil
}

// Get returns the current view of a session.
func (m *Manager) Get(ctx context.Context, id string) (View, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.View(), nil
}

// Upload loads data as the session's document, replacing any previous one.
// A load error is returned wrapped in document.ErrLoad together with the
// resulting view.
func (m *Manager) Upload(ctx context.Context, id, name string, data []byte) (View, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	return m.load(ctx, s, "upload", func() ([]byte, string, error) { return data, name, nil })
}

// UploadRef loads the document behind ref through the configured Fetcher.
func (m *Manager) UploadRef(ctx context.Context, id, ref string) (View, error) {
	if m.deps.Fetcher == nil {
		return View{}, ErrFetchDisabled
	}
	s, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	return m.load(ctx, s, "ref", func() ([]byte, string, error) {
		data, name, err := m.deps.Fetcher.Fetch(ctx, ref)
		if name == "" {
			name = ref
		}
		return data, name, err
	})
}

func (m *Manager) load(ctx context.Context, s *Session, source string, fetch func() ([]byte, string, error)) (View, error) {
	t := s.beginLoad()
	var doc Document
	data, name, err := fetch()
	if err == nil {
		release, lerr := m.acquire(ctx, "load")
		if lerr != nil {
			return s.View(), lerr
		}
		doc, err = m.deps.Backend.Load(ctx, data)
		release()
	}
	if err != nil && !errors.Is(err, document.ErrLoad) {
		err = fmt.Errorf("%w: %v", document.ErrLoad, err)
	}
	if !s.completeLoad(t, name, data, doc, err) {
		metrics.IncStale("load")
		log.Info().Str("session_id", s.id).Uint64("generation", t.generation).Msg("discarding superseded load")
		return s.View(), ErrStale
	}
	if err != nil {
		metrics.IncUpload(source, "error")
		log.Warn().Err(err).Str("session_id", s.id).Str("file", name).Msg("document load failed")
		if perr := m.persist(ctx, s); perr != nil {
			log.Warn().Err(perr).Str("session_id", s.id).Msg("persist session failed")
		}
		return s.View(), err
	}
	metrics.IncUpload(source, "success")
	m.observeSpec(s)
	s.wmu.Lock()
	if s.loadCurrent(t) {
		if perr := m.deps.Blobs.Put(ctx, storage.SourceKey(s.id), data, document.MIMEType); perr != nil {
			log.Warn().Err(perr).Str("session_id", s.id).Msg("store source document failed")
		}
		if derr := m.deps.Blobs.Delete(ctx, storage.ArtifactKey(s.id)); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
			log.Warn().Err(derr).Str("session_id", s.id).Msg("remove previous artifact failed")
		}
		if perr := m.saveRecord(ctx, s); perr != nil {
			log.Warn().Err(perr).Str("session_id", s.id).Msg("persist session failed")
		}
	} else {
		metrics.IncStale("store")
		log.Info().Str("session_id", s.id).Uint64("generation", t.generation).Msg("skipping store of superseded load")
	}
	s.wmu.Unlock()
	v := s.View()
	log.Info().Str("session_id", s.id).Str("file", name).Int("pages", v.PageCount).Msg("document loaded")
	return v, nil
}

// SubmitSpec records a page spec edit. An invalid spec is not an error:
// it is reported in View.SpecError. seq orders concurrent edits; 0 means
// "after the last accepted edit".
func (m *Manager) SubmitSpec(ctx context.Context, id string, seq uint64, spec string) (View, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !s.setSpec(seq, spec) {
		metrics.IncStale("spec")
		return s.View(), ErrStale
	}
	m.observeSpec(s)
	if perr := m.persist(ctx, s); perr != nil {
		log.Warn().Err(perr).Str("session_id", s.id).Msg("persist session failed")
	}
	return s.View(), nil
}

func (m *Manager) observeSpec(s *Session) {
	s.mu.Lock()
	outcome := "ok"
	switch {
	case s.doc == nil:
		outcome = "unvalidated"
	case s.specErr != nil:
		outcome = pagespec.KindOf(s.specErr).String()
	case s.selection.Cleared():
		outcome = "cleared"
	}
	s.mu.Unlock()
	metrics.IncSpecParse(outcome)
}

// Extract builds a new document from the current selection, in booklet
// order when booklet is set.
func (m *Manager) Extract(ctx context.Context, id string, booklet bool) (View, error) {
	if booklet && !m.opts.Booklet {
		return View{}, ErrBookletDisabled
	}
	s, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	t, err := s.beginExtract(booklet)
	if err != nil {
		return s.View(), err
	}
	release, err := m.acquire(ctx, "extract")
	if err != nil {
		return s.View(), err
	}
	start := time.Now()
	data, err := m.deps.Backend.Extract(ctx, t.doc, t.pages)
	release()
	if err != nil && !errors.Is(err, document.ErrExtraction) {
		err = fmt.Errorf("%w: %v", document.ErrExtraction, err)
	}
	if !s.completeExtract(t, data, err) {
		metrics.IncStale("extract")
		log.Info().Str("session_id", s.id).Msg("discarding superseded extraction")
		return s.View(), ErrStale
	}
	if err != nil {
		metrics.ObserveExtraction(booklet, "error", len(t.pages), time.Since(start))
		log.Error().Err(err).Str("session_id", s.id).Ints("pages", t.pages).Msg("extraction failed")
		return s.View(), err
	}
	metrics.ObserveExtraction(booklet, "success", len(t.pages), time.Since(start))
	s.wmu.Lock()
	if s.artifactCurrent(t) {
		if perr := m.deps.Blobs.Put(ctx, storage.ArtifactKey(s.id), data, document.MIMEType); perr != nil {
			log.Warn().Err(perr).Str("session_id", s.id).Msg("store artifact failed")
		}
		if perr := m.saveRecord(ctx, s); perr != nil {
			log.Warn().Err(perr).Str("session_id", s.id).Msg("persist session failed")
		}
	} else {
		metrics.IncStale("store")
		log.Info().Str("session_id", s.id).Msg("skipping store of superseded extraction")
	}
	s.wmu.Unlock()
	log.Info().Str("session_id", s.id).Ints("pages", t.pages).Bool("booklet", booklet).Int("size", len(data)).Dur("took", time.Since(start)).Msg("pages extracted")
	return s.View(), nil
}

// Artifact returns the most recent extracted document.
func (m *Manager) Artifact(ctx context.Context, id string) ([]byte, ArtifactInfo, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return nil, ArtifactInfo{}, err
	}
	data, info, ok := s.artifactCopy()
	if !ok {
		return nil, ArtifactInfo{}, ErrNoArtifact
	}
	return data, info, nil
}

// Source returns the loaded document bytes and page count.
func (m *Manager) Source(ctx context.Context, id string) ([]byte, int, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	data, pages, ok := s.sourceBytes()
	if !ok {
		return nil, 0, ErrNoDocument
	}
	return data, pages, nil
}

// Delete drops a session with its blobs and record. Writes still in flight
// for the session finish first; later ones are skipped.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, live := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SetActiveSessions(n)

	if live {
		s.markDeleted()
		s.wmu.Lock()
		defer s.wmu.Unlock()
	} else {
		if _, ok, err := m.deps.Records.Load(ctx, id); err != nil {
			return err
		} else if !ok {
			return ErrNotFound
		}
	}
	for _, key := range []string{storage.SourceKey(id), storage.ArtifactKey(id)} {
		if err := m.deps.Blobs.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("session_id", id).Str("key", key).Msg("delete blob failed")
		}
	}
	if err := m.deps.Records.Delete(ctx, id); err != nil {
		return err
	}
	log.Info().Str("session_id", id).Msg("session deleted")
	return nil
}

// Sweep deletes sessions idle for longer than maxIdle and returns how many
// were removed.
func (m *Manager) Sweep(ctx context.Context, maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)
	m.mu.Lock()
	var idle []string
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	removed := 0
	for _, id := range idle {
		if err := m.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("sweep: delete session failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("idle sessions swept")
	}
	return removed
}

func (m *Manager) acquire(ctx context.Context, key string) (func(), error) {
	if m.deps.Limiter == nil {
		return func() {}, nil
	}
	return m.deps.Limiter.Acquire(ctx, key)
}

func (m *Manager) persist(ctx context.Context, s *Session) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return m.saveRecord(ctx, s)
}

// saveRecord snapshots s and saves it. Caller holds s.wmu, so saves land in
// the order their snapshots were taken.
func (m *Manager) saveRecord(ctx context.Context, s *Session) error {
	if s.isDeleted() {
		return nil
	}
	return m.deps.Records.Save(ctx, s.record(storage.SourceKey(s.id), storage.ArtifactKey(s.id)))
}

// lookup returns the live session, restoring it from its record if needed.
func (m *Manager) lookup(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}
	s, err := m.restore(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if cur, ok := m.sessions[id]; ok {
		s = cur
	} else {
		m.sessions[id] = s
	}
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SetActiveSessions(n)
	return s, nil
}

func (m *Manager) restore(ctx context.Context, id string) (*Session, error) {
	rec, ok, err := m.deps.Records.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	s := newSession(id, m.now)
	s.generation = rec.Generation
	s.fileName = rec.FileName
	s.spec = rec.Spec
	s.specSeq = rec.SpecSeq
	if rec.SourceKey != "" {
		data, err := m.deps.Blobs.Get(ctx, rec.SourceKey)
		if err == nil {
			var doc Document
			if doc, err = m.deps.Backend.Load(ctx, data); err == nil {
				s.doc, s.source = doc, data
				if sn, ok := doc.(snippeter); ok {
					s.snippets = sn.Snippets()
				}
			}
		}
		if err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("restore: source document unavailable")
			s.loadErr = fmt.Errorf("%w: %v", document.ErrLoad, err)
		}
	}
	s.revalidate()
	if rec.ArtifactKey != "" && s.doc != nil {
		data, err := m.deps.Blobs.Get(ctx, rec.ArtifactKey)
		if err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("restore: artifact unavailable")
		} else {
			s.artifact = &artifact{
				generation: s.generation,
				data:       data,
				pages:      rec.ArtifactPages,
				booklet:    rec.Booklet,
				created:    rec.UpdatedAt,
			}
		}
	}
	log.Info().Str("session_id", id).Uint64("generation", s.generation).Msg("session restored")
	return s, nil
}
