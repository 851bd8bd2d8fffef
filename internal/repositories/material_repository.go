package repositories

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/shortage/internal/models"
)

// MaterialRepository provides access to the part catalog
type MaterialRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewMaterialRepository creates a new repository
func NewMaterialRepository(db *gorm.DB, readOnlyDB *gorm.DB) *MaterialRepository {
	if readOnlyDB == nil {
		readOnlyDB = db
	}
	return &MaterialRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Search matches term case-insensitively against part code, description and summary
func (r *MaterialRepository) Search(ctx context.Context, term string, limit int) ([]models.Material, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(term)) + "%"

	var materials []models.Material
	err := r.readOnlyDB.WithContext(ctx).
		Where("part_code ILIKE ? OR description ILIKE ? OR material_summary ILIKE ?", pattern, pattern, pattern).
		Order("part_code").
		Limit(limit).
		Find(&materials).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to search materials")
	}
	return materials, nil
}

// GetByPartCode gets one catalog entry
func (r *MaterialRepository) GetByPartCode(ctx context.Context, partCode string) (*models.Material, error) {
	var m models.Material
	err := r.readOnlyDB.WithContext(ctx).Where("part_code = ?", partCode).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(models.ErrMaterialNotFound, "part code %s", partCode)
		}
		return nil, errors.Wrap(err, "failed to get material by part code")
	}
	return &m, nil
}

// BySource lists the catalog entries managed through source, for example kanban
func (r *MaterialRepository) BySource(ctx context.Context, source string) ([]models.Material, error) {
	var materials []models.Material
	err := r.readOnlyDB.WithContext(ctx).
		Where("source = ?", source).
		Order("part_code").
		Find(&materials).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s materials", source)
	}
	return materials, nil
}

// All streams the whole catalog in batches
func (r *MaterialRepository) All(ctx context.Context, batchSize int, fn func([]models.Material) error) error {
	var batch []models.Material
	result := r.readOnlyDB.WithContext(ctx).
		Order("part_code").
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			return fn(batch)
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to list materials")
	}
	return nil
}

// Upsert inserts or replaces catalog entries by part code
func (r *MaterialRepository) Upsert(ctx context.Context, materials []models.Material) error {
	if len(materials) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "part_code"}},
			UpdateAll: true,
		}).
		Create(&materials).Error
	if err != nil {
		return errors.Wrap(err, "failed to upsert materials")
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
