package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fleet_server/internal/domain"
)

type GormClientRepository struct {
	db *gorm.DB
}

func NewGormClientRepository(db *gorm.DB) (*GormClientRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &GormClientRepository{db: db}, nil
}

func (r *GormClientRepository) GetClient(ctx context.Context, identity string) (domain.ClientRecord, error) {
	var model ClientModel
	err := r.db.WithContext(ctx).
		Where("name = ?", identity).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ClientRecord{}, domain.ErrClientNotFound
		}
		return domain.ClientRecord{}, err
	}

	return model.toDomain(), nil
}

func (r *GormClientRepository) CreateClient(ctx context.Context, record domain.ClientRecord) (bool, error) {
	model := toClientModel(record)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).
		Create(&model)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *GormClientRepository) SaveClient(ctx context.Context, record domain.ClientRecord) error {
	model := toClientModel(record)

	result := r.db.WithContext(ctx).
		Model(&ClientModel{}).
		Where("name = ?", model.Name).
		Select("*").
		Omit("name", "created_at").
		Updates(&model)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return domain.ErrClientNotFound
	}

	return nil
}

func (r *GormClientRepository) ListClients(ctx context.Context) ([]domain.ClientRecord, error) {
	var models []ClientModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]domain.ClientRecord, len(models))
	for i, model := range models {
		records[i] = model.toDomain()
	}

	return records, nil
}

func (r *GormClientRepository) MarkAllDisconnected(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&ClientModel{}).
		Where("connection_status <> ? OR socket_id IS NOT NULL", domain.ConnectionDisconnected).
		Updates(map[string]interface{}{
			"connection_status": string(domain.ConnectionDisconnected),
			"socket_id":         gorm.Expr("NULL"),
			"updated_at":        gorm.Expr("CURRENT_TIMESTAMP"),
		})

	return result.RowsAffected, result.Error
}
