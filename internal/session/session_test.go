package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/local/pagepicker/internal/document"
	"github.com/local/pagepicker/internal/limiter"
	"github.com/local/pagepicker/internal/pagespec"
	"github.com/local/pagepicker/internal/pdftest"
	"github.com/local/pagepicker/internal/storage"
	"github.com/local/pagepicker/internal/store"
)

type fakeDoc struct{ pages int }

func (d fakeDoc) PageCount() int { return d.pages }

// fakeBackend decodes "pages:N" payloads. Payloads prefixed "slow" block in
// Load until hold is closed.
type fakeBackend struct {
	mu          sync.Mutex
	failExtract bool
	extracted   [][]int
	entered     chan struct{}
	hold        chan struct{}
}

func (b *fakeBackend) Load(ctx context.Context, data []byte) (Document, error) {
	s := string(data)
	if strings.HasPrefix(s, "slow") {
		b.entered <- struct{}{}
		<-b.hold
		s = strings.TrimPrefix(s, "slow")
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "pages:"))
	if err != nil || !strings.HasPrefix(s, "pages:") {
		return nil, fmt.Errorf("%w: bad payload", document.ErrLoad)
	}
	return fakeDoc{pages: n}, nil
}

func (b *fakeBackend) Extract(ctx context.Context, doc Document, pages []int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failExtract {
		return nil, errors.New("writer exploded")
	}
	b.extracted = append(b.extracted, append([]int(nil), pages...))
	return []byte(pagespec.Format(pages)), nil
}

func (b *fakeBackend) lastExtracted() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.extracted) == 0 {
		return nil
	}
	return b.extracted[len(b.extracted)-1]
}

func newTestManager(t *testing.T, booklet bool) (*Manager, *fakeBackend) {
	t.Helper()
	blobs, err := storage.NewLocalStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	b := &fakeBackend{}
	m := NewManager(Dependencies{Backend: b, Blobs: blobs, Records: store.NewMemory()}, Options{Booklet: booklet})
	return m, b
}

func mustCreate(t *testing.T, m *Manager) string {
	t.Helper()
	v, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return v.ID
}

func mustUpload(t *testing.T, m *Manager, id string, pages int) View {
	t.Helper()
	v, err := m.Upload(context.Background(), id, "doc.pdf", []byte(fmt.Sprintf("pages:%d", pages)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return v
}

func mustSpec(t *testing.T, m *Manager, id, spec string) View {
	t.Helper()
	v, err := m.SubmitSpec(context.Background(), id, 0, spec)
	if err != nil {
		t.Fatalf("submit spec %q: %v", spec, err)
	}
	return v
}

func TestSpecWithoutDocumentIsNotValidated(t *testing.T) {
	m, _ := newTestManager(t, false)
	id := mustCreate(t, m)

	v := mustSpec(t, m, id, "1,2,99")
	if v.SpecError != nil || len(v.Pages) != 0 || v.PageCount != 0 {
		t.Fatalf("unexpected view before load: %+v", v)
	}

	v = mustUpload(t, m, id, 10)
	if v.SpecError == nil || v.SpecError.Kind != "out_of_range" {
		t.Fatalf("spec error after load = %+v, want out_of_range", v.SpecError)
	}
	if v.Spec != "1,2,99" {
		t.Fatalf("spec = %q, want it kept", v.Spec)
	}
}

func TestSpecProblems(t *testing.T) {
	m, _ := newTestManager(t, false)
	id := mustCreate(t, m)
	mustUpload(t, m, id, 10)

	tests := []struct {
		spec     string
		kind     string
		pages    []int
		contains string
	}{
		{spec: "2,5,8", pages: []int{2, 5, 8}},
		{spec: "   ", pages: []int{}},
		{spec: "abc", kind: "no_valid_pages", pages: []int{}},
		{spec: "1,2,3,4,5,6,7,8,9,10,11", kind: "too_many_pages", pages: []int{}, contains: "11"},
		{spec: "0,1", kind: "non_positive_page", pages: []int{}},
		{spec: "2,5,5,11", kind: "out_of_range", pages: []int{}, contains: "Page 11"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			v := mustSpec(t, m, id, tt.spec)
			if !reflect.DeepEqual(v.Pages, tt.pages) {
				t.Errorf("pages = %v, want %v", v.Pages, tt.pages)
			}
			if tt.kind == "" {
				if v.SpecError != nil {
					t.Errorf("unexpected spec error %+v", v.SpecError)
				}
				return
			}
			if v.SpecError == nil || v.SpecError.Kind != tt.kind {
				t.Fatalf("spec error = %+v, want kind %s", v.SpecError, tt.kind)
			}
			if !strings.Contains(v.SpecError.Message, tt.contains) {
				t.Errorf("message %q does not mention %q", v.SpecError.Message, tt.contains)
			}
		})
	}
}

func TestSubmitSpecSequence(t *testing.T) {
	m, _ := newTestManager(t, false)
	ctx := context.Background()
	id := mustCreate(t, m)
	mustUpload(t, m, id, 10)

	if _, err := m.SubmitSpec(ctx, id, 5, "1,2"); err != nil {
		t.Fatalf("seq 5: %v", err)
	}
	v, err := m.SubmitSpec(ctx, id, 3, "9")
	if !errors.Is(err, ErrStale) {
		t.Fatalf("seq 3 err = %v, want ErrStale", err)
	}
	if v.Spec != "1,2" || v.SpecSeq != 5 {
		t.Fatalf("stale edit applied: %+v", v)
	}
	v, err = m.SubmitSpec(ctx, id, 0, "3")
	if err != nil || v.SpecSeq != 6 || !reflect.DeepEqual(v.Pages, []int{3}) {
		t.Fatalf("seq 0 = %+v, %v", v, err)
	}
}

func TestStaleLoadDiscarded(t *testing.T) {
	s := newSession("s", time.Now)
	first := s.beginLoad()
	second := s.beginLoad()

	if !s.completeLoad(second, "b.pdf", nil, fakeDoc{pages: 4}, nil) {
		t.Fatal("latest load rejected")
	}
	if s.completeLoad(first, "a.pdf", nil, fakeDoc{pages: 10}, nil) {
		t.Fatal("superseded load applied")
	}
	v := s.View()
	if v.PageCount != 4 || v.FileName != "b.pdf" {
		t.Fatalf("view = %+v, want b.pdf with 4 pages", v)
	}
}

func TestStaleExtractDiscarded(t *testing.T) {
	s := newSession("s", time.Now)
	s.completeLoad(s.beginLoad(), "a.pdf", nil, fakeDoc{pages: 10}, nil)
	s.setSpec(0, "1,2")

	tk, err := s.beginExtract(false)
	if err != nil {
		t.Fatalf("begin extract: %v", err)
	}
	s.setSpec(0, "3")
	if s.completeExtract(tk, []byte("pdf"), nil) {
		t.Fatal("extraction for an old spec applied")
	}

	tk, _ = s.beginExtract(false)
	s.completeLoad(s.beginLoad(), "b.pdf", nil, fakeDoc{pages: 10}, nil)
	if s.completeExtract(tk, []byte("pdf"), nil) {
		t.Fatal("extraction for an old document applied")
	}
	if s.View().Artifact != nil {
		t.Fatal("artifact set by stale extraction")
	}
}

func TestConcurrentUploadsLatestWins(t *testing.T) {
	m, b := newTestManager(t, false)
	b.entered = make(chan struct{})
	b.hold = make(chan struct{})
	ctx := context.Background()
	id := mustCreate(t, m)

	type result struct {
		v   View
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := m.Upload(ctx, id, "slow.pdf", []byte("slowpages:10"))
		done <- result{v, err}
	}()
	<-b.entered

	v := mustUpload(t, m, id, 3)
	if v.PageCount != 3 {
		t.Fatalf("page count = %d, want 3", v.PageCount)
	}
	close(b.hold)

	r := <-done
	if !errors.Is(r.err, ErrStale) {
		t.Fatalf("slow upload err = %v, want ErrStale", r.err)
	}
	got, _ := m.Get(ctx, id)
	if got.PageCount != 3 || got.FileName != "doc.pdf" {
		t.Fatalf("final view = %+v", got)
	}
}

func TestLoadFailure(t *testing.T) {
	m, _ := newTestManager(t, false)
	ctx := context.Background()
	id := mustCreate(t, m)
	mustUpload(t, m, id, 10)
	mustSpec(t, m, id, "1,2")

	v, err := m.Upload(ctx, id, "broken.pdf", []byte("garbage"))
	if !errors.Is(err, document.ErrLoad) {
		t.Fatalf("err = %v, want ErrLoad", err)
	}
	if v.PageCount != 0 || v.LoadError == nil || v.LoadError.Kind != KindLoadFailed {
		t.Fatalf("view after failed load = %+v", v)
	}
	if v.Spec != "1,2" || len(v.Pages) != 0 {
		t.Fatalf("spec = %q pages = %v, want spec kept and no selection", v.Spec, v.Pages)
	}
	if _, err := m.Extract(ctx, id, false); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("extract err = %v, want ErrNoDocument", err)
	}

	v = mustUpload(t, m, id, 10)
	if v.LoadError != nil || !reflect.DeepEqual(v.Pages, []int{1, 2}) {
		t.Fatalf("view after recovery = %+v", v)
	}
}

func TestExtractPreconditions(t *testing.T) {
	m, _ := newTestManager(t, false)
	ctx := context.Background()
	id := mustCreate(t, m)

	if _, err := m.Extract(ctx, id, false); !errors.Is(err, ErrNoDocument) {
		t.Errorf("no document: err = %v", err)
	}
	mustUpload(t, m, id, 10)
	if _, err := m.Extract(ctx, id, false); !errors.Is(err, ErrNoSelection) {
		t.Errorf("cleared spec: err = %v", err)
	}
	mustSpec(t, m, id, "4,12")
	if _, err := m.Extract(ctx, id, false); !errors.Is(err, pagespec.ErrOutOfRange) {
		t.Errorf("invalid spec: err = %v", err)
	}
	mustSpec(t, m, id, "4")
	if _, err := m.Extract(ctx, id, true); !errors.Is(err, ErrBookletDisabled) {
		t.Errorf("booklet: err = %v", err)
	}
	if _, err := m.Extract(ctx, "missing", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session: err = %v", err)
	}
}

func TestExtractFailureKeepsState(t *testing.T) {
	m, b := newTestManager(t, false)
	ctx := context.Background()
	id := mustCreate(t, m)
	mustUpload(t, m, id, 10)
	mustSpec(t, m, id, "2,5,8")
	if _, err := m.Extract(ctx, id, false); err != nil {
		t.Fatalf("extract: %v", err)
	}

	b.failExtract = true
	v, err := m.Extract(ctx, id, false)
	if !errors.Is(err, document.ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
	if v.ExtractError == nil || v.ExtractError.Kind != KindExtractionFailed {
		t.Fatalf("extract error = %+v", v.ExtractError)
	}
	if !reflect.DeepEqual(v.Pages, []int{2, 5, 8}) || v.Artifact == nil {
		t.Fatalf("state lost after failure: %+v", v)
	}

	b.failExtract = false
	v, err = m.Extract(ctx, id, false)
	if err != nil || v.ExtractError != nil {
		t.Fatalf("retry = %+v, %v", v.ExtractError, err)
	}
}

func TestBookletExtraction(t *testing.T) {
	m, b := newTestManager(t, true)
	ctx := context.Background()
	id := mustCreate(t, m)
	mustUpload(t, m, id, 8)
	mustSpec(t, m, id, "3,8,1")

	v, err := m.Extract(ctx, id, true)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got, want := b.lastExtracted(), []int{8, 1, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("extracted %v, want %v", got, want)
	}
	if !v.Artifact.Booklet || !reflect.DeepEqual(v.Artifact.Pages, []int{8, 1, 3}) {
		t.Fatalf("artifact = %+v", v.Artifact)
	}

	if _, err := m.Extract(ctx, id, false); err != nil {
		t.Fatalf("plain extract: %v", err)
	}
	if got, want := b.lastExtracted(), []int{3, 8, 1}; !reflect.DeepEqual(got, want) {
		t.Fatalf("plain extracted %v, want %v", got, want)
	}
}

func TestNewLoadClearsArtifact(t *testing.T) {
	m, _ := newTestManager(t, false)
	ctx := context.Background()
	id := mustCreate(t, m)
	mustUpload(t, m, id, 10)
	mustSpec(t, m, id, "1")
	if _, err := m.Extract(ctx, id, false); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, _, err := m.Artifact(ctx, id); err != nil {
		t.Fatalf("artifact: %v", err)
	}

	mustUpload(t, m, id, 5)
	if _, _, err := m.Artifact(ctx, id); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("artifact after reload err = %v, want ErrNoArtifact", err)
	}
}

func TestRestoreFromRecords(t *testing.T) {
	blobs, err := storage.NewLocalStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	recs := store.NewMemory()
	deps := Dependencies{Backend: &fakeBackend{}, Blobs: blobs, Records: recs}
	ctx := context.Background()

	m1 := NewManager(deps, Options{})
	id := mustCreate(t, m1)
	mustUpload(t, m1, id, 10)
	mustSpec(t, m1, id, "4,2")
	if _, err := m1.Extract(ctx, id, false); err != nil {
		t.Fatalf("extract: %v", err)
	}

	m2 := NewManager(deps, Options{})
	v, err := m2.Get(ctx, id)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if v.PageCount != 10 || !reflect.DeepEqual(v.Pages, []int{4, 2}) || v.Artifact == nil {
		t.Fatalf("restored view = %+v", v)
	}
	data, info, err := m2.Artifact(ctx, id)
	if err != nil || string(data) != "4,2" || !reflect.DeepEqual(info.Pages, []int{4, 2}) {
		t.Fatalf("restored artifact = %q %+v %v", data, info, err)
	}
}

func TestDeleteAndSweep(t *testing.T) {
	m, _ := newTestManager(t, false)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if err := m.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete unknown err = %v", err)
	}

	old := mustCreate(t, m)
	mustUpload(t, m, old, 3)
	now = now.Add(time.Hour)
	fresh := mustCreate(t, m)

	if n := m.Sweep(ctx, 30*time.Minute); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, err := m.Get(ctx, old); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old session err = %v, want ErrNotFound", err)
	}
	if _, err := m.Get(ctx, fresh); err != nil {
		t.Fatalf("fresh session: %v", err)
	}
	if err := m.Delete(ctx, fresh); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, fresh); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted session err = %v", err)
	}
}

type fakeFetcher map[string]string

func (f fakeFetcher) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	body, ok := f[ref]
	if !ok {
		return nil, "", storage.ErrNotFound
	}
	return []byte(body), "remote.pdf", nil
}

func TestUploadRef(t *testing.T) {
	m, _ := newTestManager(t, false)
	ctx := context.Background()
	id := mustCreate(t, m)
	if _, err := m.UploadRef(ctx, id, "s3://bucket/doc.pdf"); !errors.Is(err, ErrFetchDisabled) {
		t.Fatalf("err = %v, want ErrFetchDisabled", err)
	}

	m.deps.Fetcher = fakeFetcher{"s3://bucket/doc.pdf": "pages:6"}
	v, err := m.UploadRef(ctx, id, "s3://bucket/doc.pdf")
	if err != nil || v.PageCount != 6 || v.FileName != "remote.pdf" {
		t.Fatalf("upload ref = %+v, %v", v, err)
	}
	v, err = m.UploadRef(ctx, id, "s3://bucket/missing.pdf")
	if !errors.Is(err, document.ErrLoad) || v.LoadError == nil {
		t.Fatalf("missing ref = %+v, %v", v, err)
	}
}

func TestPDFEndToEnd(t *testing.T) {
	svc := document.New()
	blobs, err := storage.NewLocalStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(Dependencies{
		Backend: NewPDFBackend(svc, 3, 40),
		Blobs:   blobs,
		Records: store.NewMemory(),
	}, Options{})
	ctx := context.Background()
	id := mustCreate(t, m)

	v, err := m.Upload(ctx, id, "ten.pdf", pdftest.Build(10))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if v.PageCount != 10 {
		t.Fatalf("page count = %d", v.PageCount)
	}

	v = mustSpec(t, m, id, "2,5,5,11")
	if v.SpecError == nil || v.SpecError.Kind != "out_of_range" || !strings.Contains(v.SpecError.Message, "11") {
		t.Fatalf("spec error = %+v", v.SpecError)
	}

	v = mustSpec(t, m, id, "2,5,8")
	if v.SpecError != nil || !reflect.DeepEqual(v.Pages, []int{2, 5, 8}) {
		t.Fatalf("view = %+v", v)
	}
	if _, err := m.Extract(ctx, id, false); err != nil {
		t.Fatalf("extract: %v", err)
	}
	data, info, err := m.Artifact(ctx, id)
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) || info.Count != 3 {
		t.Fatalf("artifact info = %+v", info)
	}
	n, err := svc.PageCount(ctx, data)
	if err != nil || n != 3 {
		t.Fatalf("artifact pages = %d, %v", n, err)
	}
	got := document.Snippets(data, 3, 40)
	for i, want := range []string{"Page 2", "Page 5", "Page 8"} {
		if i >= len(got) || !strings.Contains(got[i], want) {
			t.Fatalf("snippets = %q, want %q at %d", got, want, i)
		}
	}
}

func TestExtractWaitsForLimiter(t *testing.T) {
	m, b := newTestManager(t, false)
	lim := limiter.New(1)
	m.deps.Limiter = lim
	bg := context.Background()
	id := mustCreate(t, m)
	mustUpload(t, m, id, 10)
	mustSpec(t, m, id, "1")

	release, err := lim.Acquire(bg, "extract")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(bg, 10*time.Millisecond)
	defer cancel()
	v, err := m.Extract(ctx, id, false)
	if !errors.Is(err, limiter.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if v.ExtractError != nil || v.Artifact != nil || b.lastExtracted() != nil {
		t.Fatalf("busy extraction changed state: %+v", v)
	}

	release()
	if _, err := m.Extract(bg, id, false); err != nil {
		t.Fatalf("extract after release: %v", err)
	}
	if lim.InUse("extract") != 0 {
		t.Fatal("slot leaked")
	}
}

// gatedBlobs parks Put of the payload gate until release is closed and
// remembers every payload it stored.
type gatedBlobs struct {
	storage.Blobs
	gate    string
	entered chan struct{}
	release chan struct{}

	mu   sync.Mutex
	puts []string
}

func (g *gatedBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if g.gate != "" && string(data) == g.gate {
		g.entered <- struct{}{}
		<-g.release
	}
	g.mu.Lock()
	g.puts = append(g.puts, string(data))
	g.mu.Unlock()
	return g.Blobs.Put(ctx, key, data, contentType)
}

func (g *gatedBlobs) stored() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.puts...)
}

func newGatedManager(t *testing.T, gate string) (*Manager, *gatedBlobs, Dependencies) {
	t.Helper()
	local, err := storage.NewLocalStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	g := &gatedBlobs{Blobs: local, gate: gate, entered: make(chan struct{}), release: make(chan struct{})}
	deps := Dependencies{Backend: &fakeBackend{}, Blobs: g, Records: store.NewMemory()}
	return NewManager(deps, Options{}), g, Dependencies{Backend: &fakeBackend{}, Blobs: local, Records: deps.Records}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSlowStoreDoesNotOverwriteNewerUpload(t *testing.T) {
	m, g, restartDeps := newGatedManager(t, "pages:3")
	ctx := context.Background()
	id := mustCreate(t, m)

	first := make(chan error, 1)
	go func() {
		_, err := m.Upload(ctx, id, "a.pdf", []byte("pages:3"))
		first <- err
	}()
	<-g.entered

	second := make(chan error, 1)
	go func() {
		_, err := m.Upload(ctx, id, "b.pdf", []byte("pages:7"))
		second <- err
	}()
	waitFor(t, func() bool {
		v, _ := m.Get(ctx, id)
		return v.PageCount == 7
	})
	close(g.release)
	if err := <-first; err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second upload: %v", err)
	}

	v, err := NewManager(restartDeps, Options{}).Get(ctx, id)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if v.PageCount != 7 || v.FileName != "b.pdf" || v.Generation != 2 {
		t.Fatalf("restored view = %+v, want b.pdf with 7 pages at generation 2", v)
	}
}

func TestSupersededLoadSkipsStore(t *testing.T) {
	m, g, restartDeps := newGatedManager(t, "")
	ctx := context.Background()
	id := mustCreate(t, m)
	s, err := m.lookup(ctx, id)
	if err != nil {
		t.Fatal(err)
	}

	// Both uploads finish loading while stores are held back; the older one
	// finds itself superseded once it gets to write.
	s.wmu.Lock()
	first := make(chan error, 1)
	go func() {
		_, err := m.Upload(ctx, id, "a.pdf", []byte("pages:3"))
		first <- err
	}()
	waitFor(t, func() bool { return s.View().PageCount == 3 })
	second := make(chan error, 1)
	go func() {
		_, err := m.Upload(ctx, id, "b.pdf", []byte("pages:7"))
		second <- err
	}()
	waitFor(t, func() bool { return s.View().PageCount == 7 })
	s.wmu.Unlock()

	if err := <-first; err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second upload: %v", err)
	}
	for _, p := range g.stored() {
		if p == "pages:3" {
			t.Fatal("superseded source was written")
		}
	}
	v, err := NewManager(restartDeps, Options{}).Get(ctx, id)
	if err != nil || v.PageCount != 7 {
		t.Fatalf("restored = %+v, %v; want the 7 page document", v, err)
	}
}

func TestDeleteWaitsForInFlightStore(t *testing.T) {
	m, g, restartDeps := newGatedManager(t, "pages:3")
	ctx := context.Background()
	id := mustCreate(t, m)
	s, err := m.lookup(ctx, id)
	if err != nil {
		t.Fatal(err)
	}

	uploaded := make(chan error, 1)
	go func() {
		_, err := m.Upload(ctx, id, "a.pdf", []byte("pages:3"))
		uploaded <- err
	}()
	<-g.entered

	deleted := make(chan error, 1)
	go func() { deleted <- m.Delete(ctx, id) }()
	waitFor(t, s.isDeleted)
	close(g.release)
	if err := <-uploaded; err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := <-deleted; err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := restartDeps.Blobs.Get(ctx, storage.SourceKey(id)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("source blob after delete err = %v, want ErrNotFound", err)
	}
	if _, ok, _ := restartDeps.Records.Load(ctx, id); ok {
		t.Fatal("record recreated after delete")
	}
	if _, err := m.SubmitSpec(ctx, id, 0, "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("spec on deleted session err = %v, want ErrNotFound", err)
	}
}

func TestFailedLoadMarksArtifactSuperseded(t *testing.T) {
	m, _ := newTestManager(t, false)
	ctx := context.Background()
	id := mustCreate(t, m)
	mustUpload(t, m, id, 10)
	mustSpec(t, m, id, "2")
	v, err := m.Extract(ctx, id, false)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if v.Artifact.Superseded || v.Artifact.Generation != v.Generation {
		t.Fatalf("fresh artifact = %+v at generation %d", v.Artifact, v.Generation)
	}

	v, _ = m.Upload(ctx, id, "broken.pdf", []byte("garbage"))
	if v.Artifact == nil || !v.Artifact.Superseded {
		t.Fatalf("artifact after failed load = %+v, want superseded", v.Artifact)
	}
	_, info, err := m.Artifact(ctx, id)
	if err != nil || !info.Superseded {
		t.Fatalf("artifact info = %+v, %v", info, err)
	}
}
