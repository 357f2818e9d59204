// Package store persists session records so a session can be restored after
// a restart. Document bytes live in blob storage; records only hold keys.
package store

import (
	"context"
	"sync"
	"time"
)

// Record is the persisted summary of a session.
type Record struct {
	ID            string
	FileName      string
	PageCount     int
	Generation    uint64
	Spec          string
	SpecSeq       uint64
	SourceKey     string
	ArtifactKey   string
	ArtifactPages []int
	Booklet       bool
	UpdatedAt     time.Time
}

// Memory keeps records in process. Used when no Redis URL is configured.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewMemory() *Memory { return &Memory{recs: map[string]Record{}} }

func (m *Memory) Save(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ArtifactPages = append([]int(nil), r.ArtifactPages...)
	m.recs[r.ID] = r
	return nil
}

func (m *Memory) Load(ctx context.Context, id string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recs[id]
	return r, ok, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
