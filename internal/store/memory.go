package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/backstage/services/shortage/internal/clock"
	"example.com/backstage/services/shortage/internal/models"
)

// MemoryStore keeps the case collection in process. It backs tests and the report command
// when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	cases   map[string]models.ShortageCase
	version uint64
	clock   clock.Clock
	bc      *Broadcaster
}

// Verify interface compliance
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store seeded with the given cases
func NewMemoryStore(c clock.Clock, seed ...models.ShortageCase) *MemoryStore {
	if c == nil {
		c = clock.System{}
	}
	s := &MemoryStore{
		cases: make(map[string]models.ShortageCase, len(seed)),
		clock: c,
		bc:    NewBroadcaster(),
	}
	for _, sc := range seed {
		if sc.ID == "" {
			sc.ID = uuid.NewString()
		}
		s.cases[sc.ID] = *sc.Clone()
	}
	return s
}

// Subscribe delivers the current snapshot now and after every write
func (s *MemoryStore) Subscribe(ctx context.Context, fn SnapshotFunc) (func(), error) {
	if fn == nil {
		return nil, errors.New("nil snapshot callback")
	}
	s.mu.RLock()
	current := s.snapshotLocked()
	s.mu.RUnlock()
	return s.bc.Subscribe(ctx, current, fn), nil
}

// Snapshot returns a copy of every case
func (s *MemoryStore) Snapshot(ctx context.Context) (models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

// Get returns a copy of one case
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.ShortageCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return c.Clone(), nil
}

// Create assigns an id, status created and the creation stamps, then stores the case. A case
// whose id is taken is rejected with ErrExists.
func (s *MemoryStore) Create(ctx context.Context, c models.ShortageCase) (*models.ShortageCase, error) {
	StampNew(&c, s.clock.Now())

	s.mu.Lock()
	if _, ok := s.cases[c.ID]; ok {
		s.mu.Unlock()
		return nil, errors.Wrapf(ErrExists, "id %s", c.ID)
	}
	s.cases[c.ID] = *c.Clone()
	version, snap := s.commitLocked()
	s.mu.Unlock()

	s.bc.Publish(version, snap)
	return c.Clone(), nil
}

// Update applies patch to one case atomically
func (s *MemoryStore) Update(ctx context.Context, id string, patch models.Patch) (*models.ShortageCase, error) {
	s.mu.Lock()
	c, ok := s.cases[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	if err := patch.Apply(&c); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.cases[id] = c
	version, snap := s.commitLocked()
	s.mu.Unlock()

	s.bc.Publish(version, snap)
	return c.Clone(), nil
}

func (s *MemoryStore) commitLocked() (uint64, models.Snapshot) {
	s.version++
	return s.version, s.snapshotLocked()
}

func (s *MemoryStore) snapshotLocked() models.Snapshot {
	return models.Snapshot(s.cases).Clone()
}

// StampNew sets the store-owned fields of a new case
func StampNew(c *models.ShortageCase, now time.Time) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	stamp := models.FormatInstant(now)
	c.Status = models.StatusCreated
	c.CreatedAt = stamp
	c.LastUpdated = stamp
	c.ResolvedAt = ""
}
