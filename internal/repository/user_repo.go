package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/models"
)

// UserRepository defines data operations for user accounts.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (models.User, error)
	// VisibleStudentByUserName resolves a non-hidden student by exact
	// username.
	VisibleStudentByUserName(ctx context.Context, userName string) (models.User, error)
	// ExistingTaIDs filters the given ids down to those that identify TA
	// accounts.
	ExistingTaIDs(ctx context.Context, ids []uint) ([]uint, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository instantiates the repository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Preload("Section").First(&user, id).Error; err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (r *userRepository) VisibleStudentByUserName(ctx context.Context, userName string) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Preload("Section").
		Where("user_name = ?", userName).
		Where("role = ?", models.RoleStudent).
		Where("hidden = ?", false).
		First(&user).Error; err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (r *userRepository) ExistingTaIDs(ctx context.Context, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var existing []uint
	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id IN ?", ids).
		Where("role = ?", models.RoleTA).
		Pluck("id", &existing).Error; err != nil {
		return nil, err
	}

	return existing, nil
}
