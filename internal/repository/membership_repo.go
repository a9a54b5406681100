package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/models"
)

// TaPair identifies one (grouping, ta) assignment.
type TaPair struct {
	GroupingID uint
	TaID       uint
}

// MembershipRepository defines data operations for student and TA
// memberships and their grace-period deductions.
type MembershipRepository interface {
	Create(ctx context.Context, membership *models.Membership) error
	Save(ctx context.Context, membership *models.Membership) error
	Delete(ctx context.Context, id uint) error
	GetByID(ctx context.Context, id uint) (models.Membership, error)

	// StudentMemberships returns the grouping's student memberships,
	// oldest first, with users preloaded.
	StudentMemberships(ctx context.Context, groupingID uint) ([]models.Membership, error)
	// MembershipOf returns the student membership a user holds in the
	// grouping, if any.
	MembershipOf(ctx context.Context, groupingID, userID uint) (models.Membership, error)
	// HasAcceptedMembershipFor reports whether the user holds an
	// accepted or inviter membership in any grouping of the assignment.
	HasAcceptedMembershipFor(ctx context.Context, userID, assignmentID uint) (bool, error)

	// ExistingTaPairs returns the (grouping, ta) pairs already assigned
	// among the given candidates.
	ExistingTaPairs(ctx context.Context, groupingIDs, taIDs []uint) ([]TaPair, error)
	// BulkCreateTaMemberships inserts TA membership rows for the given
	// pairs in one write.
	BulkCreateTaMemberships(ctx context.Context, pairs []TaPair) error
	// DeleteTaMemberships removes TA memberships by id.
	DeleteTaMemberships(ctx context.Context, ids []uint) error

	// DeductionsForAssignment returns the user's grace-period deductions
	// attached to memberships of the given assignment.
	DeductionsForAssignment(ctx context.Context, userID, assignmentID uint) ([]models.GracePeriodDeduction, error)
	CreateDeduction(ctx context.Context, deduction *models.GracePeriodDeduction) error
	DeleteDeduction(ctx context.Context, id uint) error
	// FirstDeductionForGrouping returns the uniform per-member deduction
	// currently applied to the grouping's non-rejected members, or 0.
	FirstDeductionForGrouping(ctx context.Context, groupingID uint) (int, error)
}

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository instantiates the repository.
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) Create(ctx context.Context, membership *models.Membership) error {
	return r.db.WithContext(ctx).Create(membership).Error
}

func (r *membershipRepository) Save(ctx context.Context, membership *models.Membership) error {
	return r.db.WithContext(ctx).Save(membership).Error
}

func (r *membershipRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Membership{}, id).Error
}

func (r *membershipRepository) GetByID(ctx context.Context, id uint) (models.Membership, error) {
	var membership models.Membership
	if err := r.db.WithContext(ctx).Preload("User").First(&membership, id).Error; err != nil {
		return models.Membership{}, err
	}

	return membership, nil
}

func (r *membershipRepository) StudentMemberships(ctx context.Context, groupingID uint) ([]models.Membership, error) {
	var memberships []models.Membership
	if err := r.db.WithContext(ctx).
		Preload("User").
		Preload("User.Section").
		Where("grouping_id = ?", groupingID).
		Where("role = ?", models.MembershipRoleStudent).
		Order("id").
		Find(&memberships).Error; err != nil {
		return nil, err
	}

	return memberships, nil
}

func (r *membershipRepository) MembershipOf(ctx context.Context, groupingID, userID uint) (models.Membership, error) {
	var membership models.Membership
	if err := r.db.WithContext(ctx).
		Where("grouping_id = ?", groupingID).
		Where("user_id = ?", userID).
		Where("role = ?", models.MembershipRoleStudent).
		First(&membership).Error; err != nil {
		return models.Membership{}, err
	}

	return membership, nil
}

func (r *membershipRepository) HasAcceptedMembershipFor(ctx context.Context, userID, assignmentID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Joins("JOIN groupings ON groupings.id = memberships.grouping_id").
		Where("memberships.user_id = ?", userID).
		Where("memberships.role = ?", models.MembershipRoleStudent).
		Where("memberships.status IN ?", []string{models.MembershipStatusAccepted, models.MembershipStatusInviter}).
		Where("groupings.assignment_id = ?", assignmentID).
		Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *membershipRepository) ExistingTaPairs(ctx context.Context, groupingIDs, taIDs []uint) ([]TaPair, error) {
	if len(groupingIDs) == 0 || len(taIDs) == 0 {
		return nil, nil
	}

	type pairRow struct {
		GroupingID uint `gorm:"column:grouping_id"`
		UserID     uint `gorm:"column:user_id"`
	}

	var rows []pairRow
	if err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Select("grouping_id, user_id").
		Where("grouping_id IN ?", groupingIDs).
		Where("user_id IN ?", taIDs).
		Where("role = ?", models.MembershipRoleTA).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	pairs := make([]TaPair, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, TaPair{GroupingID: row.GroupingID, TaID: row.UserID})
	}

	return pairs, nil
}

func (r *membershipRepository) BulkCreateTaMemberships(ctx context.Context, pairs []TaPair) error {
	if len(pairs) == 0 {
		return nil
	}

	memberships := make([]models.Membership, 0, len(pairs))
	for _, pair := range pairs {
		memberships = append(memberships, models.Membership{
			GroupingID: pair.GroupingID,
			UserID:     pair.TaID,
			Status:     models.MembershipStatusAccepted,
			Role:       models.MembershipRoleTA,
		})
	}

	return r.db.WithContext(ctx).Create(&memberships).Error
}

func (r *membershipRepository) DeleteTaMemberships(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("role = ?", models.MembershipRoleTA).
		Delete(&models.Membership{}).Error
}

func (r *membershipRepository) DeductionsForAssignment(ctx context.Context, userID, assignmentID uint) ([]models.GracePeriodDeduction, error) {
	var deductions []models.GracePeriodDeduction
	if err := r.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.id = grace_period_deductions.membership_id").
		Joins("JOIN groupings ON groupings.id = memberships.grouping_id").
		Where("memberships.user_id = ?", userID).
		Where("groupings.assignment_id = ?", assignmentID).
		Find(&deductions).Error; err != nil {
		return nil, err
	}

	return deductions, nil
}

func (r *membershipRepository) CreateDeduction(ctx context.Context, deduction *models.GracePeriodDeduction) error {
	return r.db.WithContext(ctx).Create(deduction).Error
}

func (r *membershipRepository) DeleteDeduction(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.GracePeriodDeduction{}, id).Error
}

func (r *membershipRepository) FirstDeductionForGrouping(ctx context.Context, groupingID uint) (int, error) {
	var deduction models.GracePeriodDeduction
	err := r.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.id = grace_period_deductions.membership_id").
		Where("memberships.grouping_id = ?", groupingID).
		Where("memberships.status <> ?", models.MembershipStatusRejected).
		Order("grace_period_deductions.id").
		First(&deduction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}

	return deduction.Deduction, nil
}
