package repositories

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/shortage/internal/clock"
	"example.com/backstage/services/shortage/internal/models"
	"example.com/backstage/services/shortage/internal/store"
)

// CaseRepository is the postgres-backed case store
type CaseRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
	clock      clock.Clock
	version    uint64
	bc         *store.Broadcaster
}

// Verify interface compliance
var _ store.Store = (*CaseRepository)(nil)

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *gorm.DB, readOnlyDB *gorm.DB, c clock.Clock) *CaseRepository {
	if readOnlyDB == nil {
		readOnlyDB = db
	}
	if c == nil {
		c = clock.System{}
	}
	return &CaseRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
		clock:      c,
		bc:         store.NewBroadcaster(),
	}
}

// Subscribe delivers the current snapshot now and after every write made through this
// repository or announced with Refresh
func (r *CaseRepository) Subscribe(ctx context.Context, fn store.SnapshotFunc) (func(), error) {
	if fn == nil {
		return nil, errors.New("nil snapshot callback")
	}
	snap, err := r.load(ctx, r.readOnlyDB)
	if err != nil {
		return nil, err
	}
	return r.bc.Subscribe(ctx, snap, fn), nil
}

// Snapshot loads every case
func (r *CaseRepository) Snapshot(ctx context.Context) (models.Snapshot, error) {
	return r.load(ctx, r.readOnlyDB)
}

// Get loads one case
func (r *CaseRepository) Get(ctx context.Context, id string) (*models.ShortageCase, error) {
	var c models.ShortageCase
	err := r.readOnlyDB.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(store.ErrNotFound, "id %s", id)
		}
		return nil, errors.Wrap(err, "failed to get case by ID")
	}
	return &c, nil
}

// Create inserts a new case with the store-owned fields set. An id that is already taken
// leaves the stored case alone and returns store.ErrExists.
func (r *CaseRepository) Create(ctx context.Context, c models.ShortageCase) (*models.ShortageCase, error) {
	store.StampNew(&c, r.clock.Now())

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&c)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to create case")
	}
	if result.RowsAffected == 0 {
		return nil, errors.Wrapf(store.ErrExists, "id %s", c.ID)
	}
	log.Info().Str("case_id", c.ID).Str("part_code", c.PartCode).Msg("Case created")

	r.publish(ctx)
	return &c, nil
}

// Update locks the row, applies patch and saves it in one transaction
func (r *CaseRepository) Update(ctx context.Context, id string, patch models.Patch) (*models.ShortageCase, error) {
	var updated models.ShortageCase

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.ShortageCase
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&c).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(store.ErrNotFound, "id %s", id)
			}
			return errors.Wrap(err, "failed to lock case")
		}
		if err := patch.Apply(&c); err != nil {
			return err
		}
		if err := tx.Save(&c).Error; err != nil {
			return errors.Wrap(err, "failed to save case")
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("case_id", id).Strs("paths", patch.Paths()).Msg("Case updated")

	r.publish(ctx)
	return &updated, nil
}

// Refresh reloads the collection and pushes it to subscribers. It is used when another
// process announces a write.
func (r *CaseRepository) Refresh(ctx context.Context) error {
	version := atomic.AddUint64(&r.version, 1)
	snap, err := r.load(ctx, r.db)
	if err != nil {
		return err
	}
	r.bc.Publish(version, snap)
	return nil
}

// publish reads from the write database so the snapshot cannot lag behind the commit
func (r *CaseRepository) publish(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to publish snapshot after write")
	}
}

func (r *CaseRepository) load(ctx context.Context, db *gorm.DB) (models.Snapshot, error) {
	var cases []models.ShortageCase
	if err := db.WithContext(ctx).Find(&cases).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load cases")
	}
	snap := make(models.Snapshot, len(cases))
	for _, c := range cases {
		snap[c.ID] = c
	}
	return snap, nil
}
