package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"invoice-reconciliation-engine/internal/models"
)

type MappingRepository struct {
	db *gorm.DB
}

func NewMappingRepository(db *gorm.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// List returns every mapping, oldest first.
func (r *MappingRepository) List(ctx context.Context) ([]models.PayerMapping, error) {
	var mappings []models.PayerMapping
	err := r.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&mappings).Error
	return mappings, errors.Wrap(err, "list payer mappings")
}

func (r *MappingRepository) Search(ctx context.Context, keyword string) ([]models.PayerMapping, error) {
	if strings.TrimSpace(keyword) == "" {
		return r.List(ctx)
	}
	var mappings []models.PayerMapping
	like := "%" + strings.ToLower(strings.TrimSpace(keyword)) + "%"
	err := r.db.WithContext(ctx).
		Where("LOWER(person_name) LIKE ? OR LOWER(company_name) LIKE ?", like, like).
		Order("created_at ASC").Order("id ASC").
		Find(&mappings).Error
	return mappings, errors.Wrap(err, "search payer mappings")
}

func (r *MappingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PayerMapping, error) {
	var m models.PayerMapping
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MappingRepository) Create(ctx context.Context, m *models.PayerMapping) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(m).Error, "create payer mapping")
}

func (r *MappingRepository) Save(ctx context.Context, m *models.PayerMapping) error {
	return errors.Wrap(r.db.WithContext(ctx).Save(m).Error, "save payer mapping")
}

func (r *MappingRepository) Delete(ctx context.Context, ids ...uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.PayerMapping{})
	return res.RowsAffected, errors.Wrap(res.Error, "delete payer mappings")
}
