// Package memory provides an in-memory Repository for development and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/zonedesk/ingest/internal/pipeline"
)

type stored struct {
	id     string
	kind   string
	record pipeline.Record
}

// Repository keeps records keyed by (kind, naturalKey) behind a RWMutex.
// Upserts are idempotent: re-upserting a natural key keeps its id.
type Repository struct {
	mu    sync.RWMutex
	byKey map[string]*stored
	byID  map[string]*stored
}

// New constructs a Repository.
func New() *Repository {
	return &Repository{
		byKey: make(map[string]*stored),
		byID:  make(map[string]*stored),
	}
}

// Upsert inserts or replaces the record for (kind, naturalKey) and returns
// its stable id.
func (r *Repository) Upsert(_ context.Context, kind, naturalKey string, record pipeline.Record) (string, error) {
	if kind == "" || naturalKey == "" {
		return "", &pipeline.StoreError{Kind: kind, Key: naturalKey, Err: fmt.Errorf("kind and natural key are required")}
	}
	key := kind + "\x00" + naturalKey

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byKey[key]; ok {
		existing.record = maps.Clone(record)
		return existing.id, nil
	}
	s := &stored{
		id:     uuid.NewString(),
		kind:   kind,
		record: maps.Clone(record),
	}
	r.byKey[key] = s
	r.byID[s.id] = s
	return s.id, nil
}

// GetByID returns the record stored under id.
func (r *Repository) GetByID(_ context.Context, id string) (pipeline.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, &pipeline.StoreError{Key: id, Err: fmt.Errorf("record not found")}
	}
	return maps.Clone(s.record), nil
}

// GetAll returns records matching filter. The reserved "kind" filter key
// selects a resource family; remaining keys must equal scalar record fields.
func (r *Repository) GetAll(_ context.Context, filter map[string]string) ([]pipeline.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []pipeline.Record
	for _, s := range r.byKey {
		if matches(s, filter) {
			out = append(out, maps.Clone(s.record))
		}
	}
	return out, nil
}

func matches(s *stored, filter map[string]string) bool {
	for key, want := range filter {
		if key == "kind" {
			if s.kind != want {
				return false
			}
			continue
		}
		got, ok := s.record[key].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}
