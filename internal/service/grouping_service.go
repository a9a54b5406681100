package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-api/internal/models"
	"github.com/courseforge/courseforge-api/internal/observability"
	"github.com/courseforge/courseforge-api/internal/repository"
	"github.com/courseforge/courseforge-api/pkg/vcs"
)

// ErrGroupingNotFound indicates the requested grouping does not exist.
var ErrGroupingNotFound = errors.New("grouping not found")

// ErrMembershipNotFound indicates the requested membership does not
// exist in the grouping.
var ErrMembershipNotFound = errors.New("membership not found")

// GroupingService orchestrates the grouping lifecycle: invitations,
// membership changes, validity, deletion, and due-date computation.
type GroupingService interface {
	Get(ctx context.Context, id uint) (models.Grouping, error)
	// Invite resolves each member name to a visible student and adds
	// them. Failures are collected per member; the batch never aborts.
	Invite(ctx context.Context, grouping models.Grouping, memberNames []string, status string, invokedByAdmin bool) []string
	// AddMember creates a membership and installs the grouping's
	// uniform grace-period deduction for the new member. Hidden
	// students and students already grouped elsewhere are skipped
	// silently.
	AddMember(ctx context.Context, grouping models.Grouping, user models.User, status string) (*models.Membership, error)
	// IsValid reports whether the grouping is admin-approved or has
	// enough non-rejected members.
	IsValid(ctx context.Context, grouping models.Grouping) (bool, error)
	Validate(ctx context.Context, grouping models.Grouping) error
	Invalidate(ctx context.Context, grouping models.Grouping) error
	// DeletableBy reports whether the user may delete the grouping.
	DeletableBy(ctx context.Context, grouping models.Grouping, user models.User) (bool, error)
	// DueDate computes the effective due date: the section due date
	// when applicable, plus any extension.
	DueDate(ctx context.Context, grouping models.Grouping) (time.Time, error)
	// PastDueDate reports whether a repository commit touching the
	// assignment folder landed strictly after the due date.
	PastDueDate(ctx context.Context, grouping models.Grouping) (bool, error)
	// PastCollectionDate reports whether the effective due date has
	// passed.
	PastCollectionDate(ctx context.Context, grouping models.Grouping) (bool, error)
	// DeleteGrouping destroys student memberships inside a deferred
	// permission scope, then the grouping itself.
	DeleteGrouping(ctx context.Context, grouping models.Grouping) error
	// RemoveMember deletes a student membership, promoting the oldest
	// accepted member to inviter when the inviter leaves.
	RemoveMember(ctx context.Context, grouping models.Grouping, membershipID uint) error
	// AcceptInvitation marks the user's pending membership accepted and
	// grants repository access.
	AcceptInvitation(ctx context.Context, grouping models.Grouping, user models.User) error
	// DeclineInvitation marks the user's pending membership rejected.
	DeclineInvitation(ctx context.Context, grouping models.Grouping, user models.User) error
	// RemoveRejected deletes a membership only when it was rejected.
	RemoveRejected(ctx context.Context, grouping models.Grouping, membershipID uint) error
	// MembershipStatus returns the user's membership status, or the
	// empty string when the user is not a member.
	MembershipStatus(ctx context.Context, grouping models.Grouping, user models.User) (string, error)
	// Inviter returns the inviter membership, if the grouping has one.
	Inviter(ctx context.Context, grouping models.Grouping) (*models.Membership, error)
	// StudentMemberships lists the grouping's student memberships.
	StudentMemberships(ctx context.Context, grouping models.Grouping) ([]models.Membership, error)
	// HasSubmission reports whether a collected submission exists.
	HasSubmission(ctx context.Context, grouping models.Grouping) (bool, error)
	// AvailableGraceCredits returns the smallest remaining grace-credit
	// balance across accepted members.
	AvailableGraceCredits(ctx context.Context, grouping models.Grouping) (int, error)
	// CreateRepositoryFolder commits the assignment folder into the
	// group repository when missing and records the resulting revision.
	CreateRepositoryFolder(ctx context.Context, grouping models.Grouping) error
}

type groupingService struct {
	groupings   repository.GroupingRepository
	memberships repository.MembershipRepository
	users       repository.UserRepository
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	repos       vcs.Provider
	logger      zerolog.Logger
	now         func() time.Time
}

// NewGroupingService constructs a GroupingService instance.
func NewGroupingService(groupings repository.GroupingRepository, memberships repository.MembershipRepository, users repository.UserRepository, assignments repository.AssignmentRepository, submissions repository.SubmissionRepository, repos vcs.Provider, logger zerolog.Logger) GroupingService {
	return &groupingService{
		groupings:   groupings,
		memberships: memberships,
		users:       users,
		assignments: assignments,
		submissions: submissions,
		repos:       repos,
		logger:      logger.With().Str("component", "grouping_service").Logger(),
		now:         time.Now,
	}
}

func (s *groupingService) Get(ctx context.Context, id uint) (models.Grouping, error) {
	grouping, err := s.groupings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Grouping{}, ErrGroupingNotFound
		}
		return models.Grouping{}, err
	}

	return grouping, nil
}

func (s *groupingService) Invite(ctx context.Context, grouping models.Grouping, memberNames []string, status string, invokedByAdmin bool) []string {
	var allErrors []string

	for _, name := range memberNames {
		name = strings.TrimSpace(name)

		user, err := s.users.VisibleStudentByUserName(ctx, name)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				allErrors = append(allErrors, fmt.Sprintf("no student found with username %q", name))
			} else {
				allErrors = append(allErrors, fmt.Sprintf("failed to look up %q: %v", name, err))
			}
			continue
		}

		if !invokedByAdmin {
			if err := s.canInvite(ctx, grouping, user); err != nil {
				allErrors = append(allErrors, err.Error())
				continue
			}
		}

		if _, err := s.AddMember(ctx, grouping, user, status); err != nil {
			allErrors = append(allErrors, fmt.Sprintf("failed to add %q: %v", name, err))
		}
	}

	return allErrors
}

// canInvite reports the first reason the user cannot be invited, in a
// fixed precedence order. Admin-invoked invitations skip these checks.
func (s *groupingService) canInvite(ctx context.Context, grouping models.Grouping, user models.User) error {
	inviter, err := s.Inviter(ctx, grouping)
	if err != nil {
		return err
	}

	if inviter != nil && inviter.UserID == user.ID {
		return errors.New("you cannot invite yourself to your own group")
	}

	if grouping.Extension != nil {
		return errors.New("group membership cannot change while an extension is in effect")
	}

	memberships, err := s.memberships.StudentMemberships(ctx, grouping.ID)
	if err != nil {
		return err
	}

	memberCount := 0
	for _, membership := range memberships {
		if membership.IsAccepted() || membership.Status == models.MembershipStatusPending {
			memberCount++
		}
	}
	if memberCount >= grouping.Assignment.GroupMax {
		return fmt.Errorf("the group has reached its maximum size of %d", grouping.Assignment.GroupMax)
	}

	if grouping.Assignment.SectionGroupsOnly && inviter != nil {
		if !sameSection(inviter.User, user) {
			return fmt.Errorf("%s is not in the same section as the group", user.UserName)
		}
	}

	accepted, err := s.memberships.HasAcceptedMembershipFor(ctx, user.ID, grouping.AssignmentID)
	if err != nil {
		return err
	}
	if accepted {
		return fmt.Errorf("%s already belongs to a group for this assignment", user.UserName)
	}

	status, err := s.MembershipStatus(ctx, grouping, user)
	if err != nil {
		return err
	}
	if status == models.MembershipStatusPending {
		return fmt.Errorf("%s already has a pending invitation to this group", user.UserName)
	}

	return nil
}

func sameSection(a, b models.User) bool {
	if a.SectionID == nil || b.SectionID == nil {
		return a.SectionID == nil && b.SectionID == nil
	}
	return *a.SectionID == *b.SectionID
}

func (s *groupingService) AddMember(ctx context.Context, grouping models.Grouping, user models.User, status string) (*models.Membership, error) {
	accepted, err := s.memberships.HasAcceptedMembershipFor(ctx, user.ID, grouping.AssignmentID)
	if err != nil {
		return nil, err
	}
	if accepted || user.Hidden {
		return nil, nil
	}

	// The uniform deduction is read before the new membership exists so
	// the new member inherits exactly what everyone else pays.
	deduction, err := s.memberships.FirstDeductionForGrouping(ctx, grouping.ID)
	if err != nil {
		return nil, err
	}

	membership := models.Membership{
		GroupingID: grouping.ID,
		UserID:     user.ID,
		Status:     status,
		Role:       models.MembershipRoleStudent,
	}
	if err := s.memberships.Create(ctx, &membership); err != nil {
		return nil, err
	}

	if err := s.removeGraceDeductions(ctx, user.ID, grouping.AssignmentID, membership.ID); err != nil {
		return nil, err
	}

	if err := s.memberships.CreateDeduction(ctx, &models.GracePeriodDeduction{
		MembershipID: membership.ID,
		Deduction:    deduction,
	}); err != nil {
		return nil, err
	}

	s.logger.Info().
		Uint("grouping_id", grouping.ID).
		Uint("user_id", user.ID).
		Str("status", status).
		Msg("member added")

	return &membership, nil
}

// removeGraceDeductions clears the user's stale deductions for this
// assignment, keeping the one just installed on the given membership.
func (s *groupingService) removeGraceDeductions(ctx context.Context, userID, assignmentID, keepMembershipID uint) error {
	deductions, err := s.memberships.DeductionsForAssignment(ctx, userID, assignmentID)
	if err != nil {
		return err
	}

	for _, deduction := range deductions {
		if deduction.MembershipID == keepMembershipID {
			continue
		}
		if err := s.memberships.DeleteDeduction(ctx, deduction.ID); err != nil {
			return err
		}
	}

	return nil
}

func (s *groupingService) IsValid(ctx context.Context, grouping models.Grouping) (bool, error) {
	if grouping.AdminApproved {
		return true, nil
	}

	memberships, err := s.memberships.StudentMemberships(ctx, grouping.ID)
	if err != nil {
		return false, err
	}

	nonRejected := 0
	for _, membership := range memberships {
		if membership.Status != models.MembershipStatusRejected {
			nonRejected++
		}
	}

	return nonRejected >= grouping.Assignment.GroupMin, nil
}

func (s *groupingService) Validate(ctx context.Context, grouping models.Grouping) error {
	grouping.AdminApproved = true
	return s.groupings.Save(ctx, &grouping)
}

func (s *groupingService) Invalidate(ctx context.Context, grouping models.Grouping) error {
	grouping.AdminApproved = false
	return s.groupings.Save(ctx, &grouping)
}

func (s *groupingService) DeletableBy(ctx context.Context, grouping models.Grouping, user models.User) (bool, error) {
	inviter, err := s.Inviter(ctx, grouping)
	if err != nil {
		return false, err
	}
	if inviter == nil || inviter.UserID != user.ID {
		return false, nil
	}

	valid, err := s.IsValid(ctx, grouping)
	if err != nil {
		return false, err
	}
	if !valid {
		return true, nil
	}

	memberships, err := s.memberships.StudentMemberships(ctx, grouping.ID)
	if err != nil {
		return false, err
	}

	acceptedCount := 0
	for _, membership := range memberships {
		if membership.IsAccepted() {
			acceptedCount++
		}
	}

	if acceptedCount != 1 || !grouping.Assignment.IsGroupAssignment() {
		return false, nil
	}

	pastCollection, err := s.PastCollectionDate(ctx, grouping)
	if err != nil {
		return false, err
	}

	return !pastCollection, nil
}

func (s *groupingService) DueDate(ctx context.Context, grouping models.Grouping) (time.Time, error) {
	dueDate := grouping.Assignment.DueDate

	if s.useSectionDueDate(ctx, grouping) {
		inviter, err := s.Inviter(ctx, grouping)
		if err != nil {
			return time.Time{}, err
		}
		if inviter != nil && inviter.User.SectionID != nil {
			sectionDueDate, err := s.assignments.SectionDueDate(ctx, grouping.AssignmentID, *inviter.User.SectionID)
			if err == nil {
				dueDate = sectionDueDate.DueDate
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return time.Time{}, err
			}
		}
	}

	if grouping.Extension != nil {
		dueDate = dueDate.Add(grouping.Extension.TimeDelta)
	}

	return dueDate, nil
}

func (s *groupingService) useSectionDueDate(ctx context.Context, grouping models.Grouping) bool {
	return grouping.Assignment.SectionDueDatesType && len(grouping.Assignment.SectionDueDates) > 0
}

func (s *groupingService) PastDueDate(ctx context.Context, grouping models.Grouping) (bool, error) {
	dueDate, err := s.DueDate(ctx, grouping)
	if err != nil {
		return false, err
	}

	var revision vcs.Revision
	err = s.repos.Open(grouping.Group.RepoName, func(repo vcs.Repo) error {
		revision, err = repo.RevisionByTimestamp(s.now(), grouping.Assignment.RepositoryFolder, dueDate)
		return err
	})
	if err != nil {
		return false, err
	}

	// Some backends cannot narrow by the due date bound, so the
	// timestamp check is always necessary.
	if revision == nil || !revision.ServerTimestamp().After(dueDate) {
		return false, nil
	}

	return true, nil
}

func (s *groupingService) PastCollectionDate(ctx context.Context, grouping models.Grouping) (bool, error) {
	dueDate, err := s.DueDate(ctx, grouping)
	if err != nil {
		return false, err
	}

	return dueDate.Before(s.now()), nil
}

func (s *groupingService) DeleteGrouping(ctx context.Context, grouping models.Grouping) error {
	err := s.repos.UpdatePermissionsAfter(func() error {
		memberships, err := s.memberships.StudentMemberships(ctx, grouping.ID)
		if err != nil {
			return err
		}

		for _, membership := range memberships {
			if err := s.memberships.Delete(ctx, membership.ID); err != nil {
				return err
			}
			// Pending and rejected members never had repository access.
			if membership.IsAccepted() {
				s.repos.RequestPermissionUpdate()
			}
		}

		return nil
	}, true)
	if err != nil {
		return err
	}

	if err := s.groupings.Delete(ctx, grouping.ID); err != nil {
		return err
	}

	observability.GroupingsDeleted().Inc()
	s.logger.Info().Uint("grouping_id", grouping.ID).Msg("grouping deleted")

	return nil
}

func (s *groupingService) RemoveMember(ctx context.Context, grouping models.Grouping, membershipID uint) error {
	membership, err := s.memberships.GetByID(ctx, membershipID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMembershipNotFound
		}
		return err
	}
	if membership.GroupingID != grouping.ID {
		return ErrMembershipNotFound
	}

	err = s.repos.UpdatePermissionsAfter(func() error {
		if err := s.memberships.Delete(ctx, membership.ID); err != nil {
			return err
		}
		if membership.IsAccepted() {
			s.repos.RequestPermissionUpdate()
		}
		return nil
	}, true)
	if err != nil {
		return err
	}

	if membership.Status != models.MembershipStatusInviter {
		return nil
	}

	// The inviter left: promote the oldest remaining accepted member.
	memberships, err := s.memberships.StudentMemberships(ctx, grouping.ID)
	if err != nil {
		return err
	}

	for _, candidate := range memberships {
		if candidate.Status == models.MembershipStatusAccepted {
			candidate.Status = models.MembershipStatusInviter
			return s.memberships.Save(ctx, &candidate)
		}
	}

	return nil
}

func (s *groupingService) AcceptInvitation(ctx context.Context, grouping models.Grouping, user models.User) error {
	membership, err := s.memberships.MembershipOf(ctx, grouping.ID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMembershipNotFound
		}
		return err
	}
	if membership.Status != models.MembershipStatusPending {
		return ErrMembershipNotFound
	}

	membership.Status = models.MembershipStatusAccepted
	if err := s.memberships.Save(ctx, &membership); err != nil {
		return err
	}

	s.repos.RequestPermissionUpdate()
	return nil
}

func (s *groupingService) DeclineInvitation(ctx context.Context, grouping models.Grouping, user models.User) error {
	membership, err := s.memberships.MembershipOf(ctx, grouping.ID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMembershipNotFound
		}
		return err
	}

	membership.Status = models.MembershipStatusRejected
	return s.memberships.Save(ctx, &membership)
}

func (s *groupingService) RemoveRejected(ctx context.Context, grouping models.Grouping, membershipID uint) error {
	membership, err := s.memberships.GetByID(ctx, membershipID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMembershipNotFound
		}
		return err
	}

	if membership.GroupingID != grouping.ID || membership.Status != models.MembershipStatusRejected {
		return ErrMembershipNotFound
	}

	return s.memberships.Delete(ctx, membership.ID)
}

func (s *groupingService) MembershipStatus(ctx context.Context, grouping models.Grouping, user models.User) (string, error) {
	membership, err := s.memberships.MembershipOf(ctx, grouping.ID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}

	return membership.Status, nil
}

func (s *groupingService) Inviter(ctx context.Context, grouping models.Grouping) (*models.Membership, error) {
	memberships, err := s.memberships.StudentMemberships(ctx, grouping.ID)
	if err != nil {
		return nil, err
	}

	for _, membership := range memberships {
		if membership.Status == models.MembershipStatusInviter {
			inviter := membership
			return &inviter, nil
		}
	}

	return nil, nil
}

func (s *groupingService) StudentMemberships(ctx context.Context, grouping models.Grouping) ([]models.Membership, error) {
	return s.memberships.StudentMemberships(ctx, grouping.ID)
}

func (s *groupingService) HasSubmission(ctx context.Context, grouping models.Grouping) (bool, error) {
	_, err := s.submissions.CurrentByGrouping(ctx, grouping.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (s *groupingService) AvailableGraceCredits(ctx context.Context, grouping models.Grouping) (int, error) {
	memberships, err := s.memberships.StudentMemberships(ctx, grouping.ID)
	if err != nil {
		return 0, err
	}

	minimum := 0
	first := true
	for _, membership := range memberships {
		if !membership.IsAccepted() {
			continue
		}

		deductions, err := s.memberships.DeductionsForAssignment(ctx, membership.UserID, grouping.AssignmentID)
		if err != nil {
			return 0, err
		}

		total := 0
		for _, deduction := range deductions {
			total += deduction.Deduction
		}

		remaining := membership.User.GraceCredits - total
		if first || remaining < minimum {
			minimum = remaining
			first = false
		}
	}

	return minimum, nil
}

func (s *groupingService) CreateRepositoryFolder(ctx context.Context, grouping models.Grouping) error {
	folder := grouping.Assignment.RepositoryFolder

	return s.repos.Open(grouping.Group.RepoName, func(repo vcs.Repo) error {
		revision, err := repo.LatestRevision()
		if err != nil {
			return err
		}

		if revision.PathExists(folder) {
			return nil
		}

		txn := repo.NewTransaction("courseforge", fmt.Sprintf("create assignment folder %s", folder))
		txn.AddPath(folder)
		committed, err := repo.Commit(txn)
		if err != nil {
			return err
		}

		if committed != nil {
			return s.groupings.SetStarterCodeRevision(ctx, grouping.ID, committed.Identifier())
		}

		return nil
	})
}
