package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/models"
)

// GroupRepository defines data operations for groups.
type GroupRepository interface {
	GetByID(ctx context.Context, id uint) (models.Group, error)
}

type groupRepository struct {
	db *gorm.DB
}

// NewGroupRepository instantiates the repository.
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) GetByID(ctx context.Context, id uint) (models.Group, error) {
	var group models.Group
	if err := r.db.WithContext(ctx).First(&group, id).Error; err != nil {
		return models.Group{}, err
	}

	return group, nil
}
