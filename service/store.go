package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/AnTengye/contractrisk/config"
	"github.com/AnTengye/contractrisk/model"
)

// DefaultListLimit is how many analyses List returns when no limit is given
const DefaultListLimit = 100

// AnalysisStore persists finished analyses keyed by their id. Each call is a
// single-record operation; records are never updated in place.
type AnalysisStore interface {
	Put(ctx context.Context, a *model.DocumentAnalysis) error
	// List returns the most recent analyses first, at most limit of them.
	List(ctx context.Context, limit int) ([]*model.DocumentAnalysis, error)
	Get(ctx context.Context, id string) (*model.DocumentAnalysis, error)
	Delete(ctx context.Context, id string) error
}

// NewStore opens the backend selected in cfg
func NewStore(ctx context.Context, cfg *config.Config) (AnalysisStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory, "":
		return NewMemoryStore(cfg.Store.MaxRecords), nil
	case config.BackendSQLite:
		return OpenSQLiteStore(ctx, cfg.Store.SQLitePath)
	case config.BackendMinio:
		store, err := NewMinioStore(&cfg.Minio)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// MemoryStore is an in-memory store for analyses
// In production, this should be replaced with the sqlite or minio backend
type MemoryStore struct {
	analyses   map[string]*model.DocumentAnalysis
	mu         sync.RWMutex
	maxRecords int // Maximum analyses to keep, 0 = unlimited
}

func NewMemoryStore(maxRecords int) *MemoryStore {
	if maxRecords < 0 {
		maxRecords = 0
	}
	slog.Info("analysis store initialized", "backend", "memory", "max_records", maxRecords)
	return &MemoryStore{
		analyses:   make(map[string]*model.DocumentAnalysis),
		maxRecords: maxRecords,
	}
}

func (s *MemoryStore) Put(ctx context.Context, a *model.DocumentAnalysis) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.analyses[a.ID]; exists {
		return fmt.Errorf("%w: analysis %s already exists", ErrStorage, a.ID)
	}
	stored := *a
	s.analyses[a.ID] = &stored

	// Cleanup if exceeds max
	s.cleanupIfNeeded()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.DocumentAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.analyses[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*model.DocumentAnalysis, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	result := make([]*model.DocumentAnalysis, 0, len(s.analyses))
	for _, a := range s.analyses {
		out := *a
		result = append(result, &out)
	}
	s.mu.RUnlock()

	sortNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.analyses[id]; !ok {
		return ErrNotFound
	}
	delete(s.analyses, id)
	return nil
}

// Count returns the number of analyses in the store
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.analyses)
}

// cleanupIfNeeded removes oldest analyses if store exceeds maxRecords
// Must be called with lock held
func (s *MemoryStore) cleanupIfNeeded() {
	if s.maxRecords <= 0 {
		return // Unlimited
	}

	if len(s.analyses) <= s.maxRecords {
		return
	}

	analyses := make([]*model.DocumentAnalysis, 0, len(s.analyses))
	for _, a := range s.analyses {
		analyses = append(analyses, a)
	}
	sort.Slice(analyses, func(i, j int) bool {
		return analyses[i].CreatedAt.Before(analyses[j].CreatedAt)
	})

	// Remove oldest analyses
	removeCount := len(analyses) - s.maxRecords
	for i := 0; i < removeCount; i++ {
		slog.Info("auto-cleaning old analysis",
			"analysis_id", analyses[i].ID,
			"created_at", analyses[i].CreatedAt,
		)
		delete(s.analyses, analyses[i].ID)
	}
}

// sortNewestFirst orders by created_at descending, ties broken by id
func sortNewestFirst(analyses []*model.DocumentAnalysis) {
	sort.Slice(analyses, func(i, j int) bool {
		if analyses[i].CreatedAt.Equal(analyses[j].CreatedAt) {
			return analyses[i].ID > analyses[j].ID
		}
		return analyses[i].CreatedAt.After(analyses[j].CreatedAt)
	})
}
