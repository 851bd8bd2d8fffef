package store

import (
	"context"

	"github.com/pkg/errors"

	"example.com/backstage/services/shortage/internal/models"
)

// ErrNotFound is returned when no case has the requested id
var ErrNotFound = errors.New("case not found")

// ErrExists is returned by Create when a case with the same id is already stored
var ErrExists = errors.New("case already exists")

// SnapshotFunc receives a complete, private copy of the case collection
type SnapshotFunc func(models.Snapshot)

// Store is the case collection the dashboard is computed from.
//
// Subscribe delivers the current snapshot immediately and again after every successful write,
// until the returned cancel func is called or ctx is done. Writes are applied in full or not at
// all; a failed write is never reflected in a later snapshot.
type Store interface {
	Subscribe(ctx context.Context, fn SnapshotFunc) (cancel func(), err error)
	Snapshot(ctx context.Context) (models.Snapshot, error)
	Get(ctx context.Context, id string) (*models.ShortageCase, error)
	Create(ctx context.Context, c models.ShortageCase) (*models.ShortageCase, error)
	Update(ctx context.Context, id string, patch models.Patch) (*models.ShortageCase, error)
}
