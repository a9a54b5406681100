package service

import (
	"context"
	"time"

	"github.com/courseforge/courseforge-api/internal/models"
)

// PolicyService answers authorization questions about groupings. It
// composes the grouping and token services rather than re-deriving
// their state.
type PolicyService interface {
	// CanRunTests reports whether the user may start a test run against
	// the grouping right now.
	CanRunTests(ctx context.Context, grouping models.Grouping, user models.User) (bool, error)
	// CanInviteMember reports whether membership changes through
	// invitation are open for the grouping.
	CanInviteMember(ctx context.Context, grouping models.Grouping) (bool, error)
	// CanDestroy reports whether the user may delete the grouping.
	CanDestroy(ctx context.Context, grouping models.Grouping, user models.User) (bool, error)
}

type policyService struct {
	groupings GroupingService
	tokens    TokenService
	now       func() time.Time
}

// NewPolicyService constructs a PolicyService instance.
func NewPolicyService(groupings GroupingService, tokens TokenService) PolicyService {
	return &policyService{
		groupings: groupings,
		tokens:    tokens,
		now:       time.Now,
	}
}

func (s *policyService) CanRunTests(ctx context.Context, grouping models.Grouping, user models.User) (bool, error) {
	if !user.IsStudent() {
		return true, nil
	}

	status, err := s.groupings.MembershipStatus(ctx, grouping, user)
	if err != nil {
		return false, err
	}
	if status != models.MembershipStatusAccepted && status != models.MembershipStatusInviter {
		return false, nil
	}

	inProgress, err := s.tokens.StudentRunInProgress(ctx, grouping)
	if err != nil {
		return false, err
	}
	if inProgress {
		return false, nil
	}

	if !grouping.Assignment.UnlimitedTokens {
		remaining, err := s.tokens.Refresh(ctx, grouping)
		if err != nil {
			return false, err
		}
		if remaining <= 0 {
			return false, nil
		}
	}

	dueDate, err := s.groupings.DueDate(ctx, grouping)
	if err != nil {
		return false, err
	}

	return s.now().Before(dueDate), nil
}

func (s *policyService) CanInviteMember(ctx context.Context, grouping models.Grouping) (bool, error) {
	if !grouping.Assignment.StudentsFormGroups() {
		return false, nil
	}

	if grouping.Extension != nil {
		return false, nil
	}

	pastCollection, err := s.groupings.PastCollectionDate(ctx, grouping)
	if err != nil {
		return false, err
	}

	return !pastCollection, nil
}

func (s *policyService) CanDestroy(ctx context.Context, grouping models.Grouping, user models.User) (bool, error) {
	deletable, err := s.groupings.DeletableBy(ctx, grouping, user)
	if err != nil {
		return false, err
	}
	if !deletable {
		return false, nil
	}

	hasSubmission, err := s.groupings.HasSubmission(ctx, grouping)
	if err != nil {
		return false, err
	}

	return !hasSubmission, nil
}
