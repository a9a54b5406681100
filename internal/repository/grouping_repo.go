package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/courseforge/courseforge-api/internal/models"
)

// GroupingRepository defines data operations for groupings.
type GroupingRepository interface {
	GetByID(ctx context.Context, id uint) (models.Grouping, error)
	GetByAssignmentAndGroup(ctx context.Context, assignmentID, groupID uint) (models.Grouping, error)
	Create(ctx context.Context, grouping *models.Grouping) error
	Save(ctx context.Context, grouping *models.Grouping) error
	Delete(ctx context.Context, id uint) error
	// ExistingIDs filters the given ids down to those that identify
	// groupings of the given assignment.
	ExistingIDs(ctx context.Context, ids []uint, assignmentID uint) ([]uint, error)
	// UpdateTestTokens sets the token count inside a row-locked
	// transaction and reports the count actually persisted.
	UpdateTestTokens(ctx context.Context, id uint, update func(current int) int) (int, error)
	// UpdateCriteriaCoverageCounts recomputes the coverage count of every
	// given grouping from the currently assigned TAs. Full upsert,
	// idempotent given the final membership state.
	UpdateCriteriaCoverageCounts(ctx context.Context, assignmentID uint, groupingIDs []uint) error
	SetStarterCodeRevision(ctx context.Context, id uint, revisionIdentifier string) error
}

type groupingRepository struct {
	db *gorm.DB
}

// NewGroupingRepository instantiates the repository.
func NewGroupingRepository(db *gorm.DB) GroupingRepository {
	return &groupingRepository{db: db}
}

func (r *groupingRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Grouping{}).
		Preload("Assignment").
		Preload("Assignment.SectionDueDates").
		Preload("Group").
		Preload("Extension")
}

func (r *groupingRepository) GetByID(ctx context.Context, id uint) (models.Grouping, error) {
	var grouping models.Grouping
	if err := r.baseQuery(ctx).First(&grouping, id).Error; err != nil {
		return models.Grouping{}, err
	}

	return grouping, nil
}

func (r *groupingRepository) GetByAssignmentAndGroup(ctx context.Context, assignmentID, groupID uint) (models.Grouping, error) {
	var grouping models.Grouping
	if err := r.baseQuery(ctx).
		Where("assignment_id = ?", assignmentID).
		Where("group_id = ?", groupID).
		First(&grouping).Error; err != nil {
		return models.Grouping{}, err
	}

	return grouping, nil
}

func (r *groupingRepository) Create(ctx context.Context, grouping *models.Grouping) error {
	return r.db.WithContext(ctx).Create(grouping).Error
}

func (r *groupingRepository) Save(ctx context.Context, grouping *models.Grouping) error {
	return r.db.WithContext(ctx).Save(grouping).Error
}

func (r *groupingRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Select(clause.Associations).Delete(&models.Grouping{ID: id}).Error
}

func (r *groupingRepository) ExistingIDs(ctx context.Context, ids []uint, assignmentID uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var existing []uint
	if err := r.db.WithContext(ctx).
		Model(&models.Grouping{}).
		Where("id IN ?", ids).
		Where("assignment_id = ?", assignmentID).
		Pluck("id", &existing).Error; err != nil {
		return nil, err
	}

	return existing, nil
}

func (r *groupingRepository) UpdateTestTokens(ctx context.Context, id uint, update func(current int) int) (int, error) {
	var persisted int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		// sqlite rejects FOR UPDATE and serializes writers itself.
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var grouping models.Grouping
		if err := query.First(&grouping, id).Error; err != nil {
			return err
		}

		next := update(grouping.TestTokens)
		if next < 0 {
			next = 0
		}

		if next != grouping.TestTokens {
			if err := tx.Model(&models.Grouping{}).Where("id = ?", id).
				Update("test_tokens", next).Error; err != nil {
				return err
			}
		}

		persisted = next
		return nil
	})

	return persisted, err
}

func (r *groupingRepository) UpdateCriteriaCoverageCounts(ctx context.Context, assignmentID uint, groupingIDs []uint) error {
	if len(groupingIDs) == 0 {
		return nil
	}

	type coverageRow struct {
		GroupingID    uint   `gorm:"column:grouping_id"`
		CriterionID   uint   `gorm:"column:criterion_id"`
		CriterionType string `gorm:"column:criterion_type"`
	}

	var rows []coverageRow
	err := r.db.WithContext(ctx).
		Table("criterion_ta_associations").
		Select("DISTINCT memberships.grouping_id AS grouping_id, criterion_ta_associations.criterion_id AS criterion_id, criterion_ta_associations.criterion_type AS criterion_type").
		Joins("JOIN memberships ON memberships.user_id = criterion_ta_associations.ta_id AND memberships.role = ?", models.MembershipRoleTA).
		Where("criterion_ta_associations.assignment_id = ?", assignmentID).
		Where("memberships.grouping_id IN ?", groupingIDs).
		Scan(&rows).Error
	if err != nil {
		return err
	}

	counts := make(map[uint]int, len(groupingIDs))
	for _, row := range rows {
		counts[row.GroupingID]++
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range groupingIDs {
			if err := tx.Model(&models.Grouping{}).Where("id = ?", id).
				Update("criteria_coverage_count", counts[id]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *groupingRepository) SetStarterCodeRevision(ctx context.Context, id uint, revisionIdentifier string) error {
	return r.db.WithContext(ctx).Model(&models.Grouping{}).Where("id = ?", id).
		Update("starter_code_revision_identifier", revisionIdentifier).Error
}
