// Package store keeps the in-memory specification registry keyed by
// (appId, version) and delegates durability to a narrow persistence
// interface.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/l0p7/confctrl/internal/metrics"
	"github.com/l0p7/confctrl/internal/spec"
)

// ErrNotFound reports a lookup miss for an (appId, version) pair.
var ErrNotFound = errors.New("store: specification not found")

// ErrAlreadyExists reports a create against an occupied (appId, version)
// identity.
var ErrAlreadyExists = errors.New("store: specification already exists")

// Persistence is the durability contract the store consumes. LoadAll hydrates
// the registry at startup; Save and Delete keep disk in step with mutations.
type Persistence interface {
	LoadAll(ctx context.Context) ([]spec.Specification, error)
	Save(ctx context.Context, s spec.Specification) error
	Delete(ctx context.Context, appID, version string) error
}

// Store is the concurrent registry. Reads vastly outnumber writes, so a
// reader-writer lock guards the map; persistence runs outside the lock.
type Store struct {
	logger      *slog.Logger
	persistence Persistence
	metrics     *metrics.Recorder

	mu    sync.RWMutex
	specs map[string]spec.Specification
}

// New builds an empty store. Persistence may be nil for purely in-memory
// deployments (tests, ephemeral environments).
func New(logger *slog.Logger, persistence Persistence, recorder *metrics.Recorder) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:      logger.With(slog.String("agent", "spec_store")),
		persistence: persistence,
		metrics:     recorder,
		specs:       make(map[string]spec.Specification),
	}
}

// Init hydrates the registry from persistence. Missing persistence is not an
// error.
func (s *Store) Init(ctx context.Context) error {
	if s.persistence == nil {
		return nil
	}
	specs, err := s.persistence.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("store: init: %w", err)
	}
	s.ReplaceAll(specs)
	s.logger.Info("specifications loaded", slog.Int("count", len(specs)))
	return nil
}

// Get returns the specification for (appId, version). The returned value must
// be treated as read-only; the pipeline clones anything it materializes.
func (s *Store) Get(appID, version string) (spec.Specification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.specs[appID+"@"+version]
	if !ok {
		return spec.Specification{}, fmt.Errorf("%w: %s@%s", ErrNotFound, appID, version)
	}
	return stored, nil
}

// List returns every stored specification ordered by (appId, version).
func (s *Store) List() []spec.Specification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]spec.Specification, 0, len(s.specs))
	for _, stored := range s.specs {
		out = append(out, stored)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppID != out[j].AppID {
			return out[i].AppID < out[j].AppID
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// Save upserts the specification, stamping UpdatedAt (and CreatedAt on first
// insert). Persistence runs before the registry is touched, so a failed write
// never leaves the in-memory view ahead of disk.
func (s *Store) Save(ctx context.Context, sp spec.Specification) error {
	if err := sp.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if sp.CreatedAt.IsZero() {
		sp.CreatedAt = now
	}
	sp.UpdatedAt = now

	if s.persistence != nil {
		if err := s.persistence.Save(ctx, sp); err != nil {
			return fmt.Errorf("store: persist %s: %w", sp.Key(), err)
		}
	}

	s.mu.Lock()
	s.specs[sp.Key()] = sp
	count := len(s.specs)
	s.mu.Unlock()
	s.metrics.SetSpecifications(count)
	return nil
}

// Create inserts the specification only when the (appId, version) identity is
// free. The identity is claimed under the write lock before persisting, so
// two concurrent creates for the same pair cannot both succeed; a failed
// persist releases the claim.
func (s *Store) Create(ctx context.Context, sp spec.Specification) error {
	if err := sp.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if sp.CreatedAt.IsZero() {
		sp.CreatedAt = now
	}
	sp.UpdatedAt = now

	key := sp.Key()
	s.mu.Lock()
	if _, ok := s.specs[key]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}
	s.specs[key] = sp
	count := len(s.specs)
	s.mu.Unlock()
	s.metrics.SetSpecifications(count)

	if s.persistence != nil {
		if err := s.persistence.Save(ctx, sp); err != nil {
			s.mu.Lock()
			delete(s.specs, key)
			count = len(s.specs)
			s.mu.Unlock()
			s.metrics.SetSpecifications(count)
			return fmt.Errorf("store: persist %s: %w", key, err)
		}
	}
	return nil
}

// Delete removes the specification and its persisted form. The persisted
// document goes first so a failed disk delete leaves the registry serving the
// still-durable specification.
func (s *Store) Delete(ctx context.Context, appID, version string) error {
	key := appID + "@" + version
	s.mu.RLock()
	_, ok := s.specs[key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s@%s", ErrNotFound, appID, version)
	}

	if s.persistence != nil {
		if err := s.persistence.Delete(ctx, appID, version); err != nil {
			return fmt.Errorf("store: delete %s: %w", key, err)
		}
	}

	s.mu.Lock()
	delete(s.specs, key)
	count := len(s.specs)
	s.mu.Unlock()
	s.metrics.SetSpecifications(count)
	return nil
}

// ReplaceAll swaps the registry contents wholesale. The watcher uses this on
// filesystem reloads.
func (s *Store) ReplaceAll(specs []spec.Specification) {
	next := make(map[string]spec.Specification, len(specs))
	for _, sp := range specs {
		next[sp.Key()] = sp
	}
	s.mu.Lock()
	s.specs = next
	count := len(s.specs)
	s.mu.Unlock()
	s.metrics.SetSpecifications(count)
}

// Count reports the number of stored specifications.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.specs)
}
