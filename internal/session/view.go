package session

import (
	"time"

	"github.com/local/pagepicker/internal/store"
)

// ArtifactInfo describes the most recent extracted document. Superseded is
// set when it was extracted from a document that has since been replaced.
type ArtifactInfo struct {
	Pages      []int     `json:"pages"`
	Count      int       `json:"count"`
	Size       int       `json:"size"`
	Booklet    bool      `json:"booklet"`
	Generation uint64    `json:"generation"`
	Superseded bool      `json:"superseded,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// View is a point-in-time snapshot of a session, shaped for the UI.
type View struct {
	ID           string        `json:"id"`
	Generation   uint64        `json:"generation"`
	FileName     string        `json:"file_name,omitempty"`
	PageCount    int           `json:"page_count"`
	Snippets     []string      `json:"snippets,omitempty"`
	Spec         string        `json:"spec"`
	SpecSeq      uint64        `json:"spec_seq"`
	Pages        []int         `json:"pages"`
	Selected     int           `json:"selected"`
	SpecError    *Problem      `json:"spec_error,omitempty"`
	LoadError    *Problem      `json:"load_error,omitempty"`
	ExtractError *Problem      `json:"extract_error,omitempty"`
	Artifact     *ArtifactInfo `json:"artifact,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// View returns a snapshot of s.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:           s.id,
		Generation:   s.generation,
		FileName:     s.fileName,
		Snippets:     append([]string(nil), s.snippets...),
		Spec:         s.spec,
		SpecSeq:      s.specSeq,
		Pages:        append([]int{}, s.selection.Pages...),
		Selected:     s.selection.Count(),
		SpecError:    ProblemFor(s.specErr),
		LoadError:    ProblemFor(s.loadErr),
		ExtractError: ProblemFor(s.extractErr),
		UpdatedAt:    s.touched,
	}
	if s.doc != nil {
		v.PageCount = s.doc.PageCount()
	}
	if a := s.artifact; a != nil {
		info := a.info(s.generation)
		v.Artifact = &info
	}
	return v
}

func (a *artifact) info(current uint64) ArtifactInfo {
	return ArtifactInfo{
		Pages:      append([]int(nil), a.pages...),
		Count:      len(a.pages),
		Size:       len(a.data),
		Booklet:    a.booklet,
		Generation: a.generation,
		Superseded: a.generation != current,
		CreatedAt:  a.created,
	}
}

// record captures what is needed to restore s. Keys are filled in only for
// blobs the session currently owns.
func (s *Session) record(sourceKey, artifactKey string) store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := store.Record{
		ID:         s.id,
		FileName:   s.fileName,
		Generation: s.generation,
		Spec:       s.spec,
		SpecSeq:    s.specSeq,
		UpdatedAt:  s.touched,
	}
	if s.doc != nil {
		r.PageCount = s.doc.PageCount()
		r.SourceKey = sourceKey
	}
	if s.artifact != nil {
		r.ArtifactKey = artifactKey
		r.ArtifactPages = append([]int(nil), s.artifact.pages...)
		r.Booklet = s.artifact.booklet
	}
	return r
}

func (s *Session) artifactCopy() ([]byte, ArtifactInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact == nil {
		return nil, ArtifactInfo{}, false
	}
	return s.artifact.data, s.artifact.info(s.generation), true
}
