package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/courseforge/courseforge-api/internal/models"
	"github.com/courseforge/courseforge-api/internal/observability"
	"github.com/courseforge/courseforge-api/internal/repository"
)

// TokenService manages each grouping's time-windowed budget of test
// tokens. Refresh and Consume serialize through a row-locked
// read-then-write so concurrent runs cannot drive the count negative.
type TokenService interface {
	// Refresh recomputes the grouping's token count for the current
	// regeneration window and persists it.
	Refresh(ctx context.Context, grouping models.Grouping) (int, error)
	// Consume spends one token if any is left. Unlimited-token
	// assignments and empty budgets are no-ops.
	Consume(ctx context.Context, grouping models.Grouping) (int, error)
	// StudentRunInProgress reports whether a student-initiated run is
	// still being processed. The check self-heals after the configured
	// buffer time so a crashed worker cannot lock the grouping out
	// permanently.
	StudentRunInProgress(ctx context.Context, grouping models.Grouping) (bool, error)
}

type tokenService struct {
	groupings   repository.GroupingRepository
	memberships repository.MembershipRepository
	testRuns    repository.TestRunRepository
	bufferTime  time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(groupings repository.GroupingRepository, memberships repository.MembershipRepository, testRuns repository.TestRunRepository, bufferTime time.Duration, logger zerolog.Logger) TokenService {
	return &tokenService{
		groupings:   groupings,
		memberships: memberships,
		testRuns:    testRuns,
		bufferTime:  bufferTime,
		logger:      logger.With().Str("component", "token_service").Logger(),
		now:         time.Now,
	}
}

func (s *tokenService) Refresh(ctx context.Context, grouping models.Grouping) (int, error) {
	assignment := grouping.Assignment
	now := s.now()

	if assignment.UnlimitedTokens || now.Before(assignment.TokenStartDate) {
		// Token gating is inactive or has not started yet.
		return s.groupings.UpdateTestTokens(ctx, grouping.ID, func(int) int { return 0 })
	}

	lastRun, err := s.lastStudentRun(ctx, grouping.ID)
	if err != nil {
		return 0, err
	}

	if lastRun == nil {
		// First use grants a full allotment.
		return s.groupings.UpdateTestTokens(ctx, grouping.ID, func(int) int {
			return assignment.TokensPerPeriod
		})
	}

	windowStart := assignment.CurrentTokenWindowStart(now)
	if lastRun.CreatedAt.Before(windowStart) {
		return s.groupings.UpdateTestTokens(ctx, grouping.ID, func(int) int {
			return assignment.TokensPerPeriod
		})
	}

	// A run already inside the current window: no top-up, keep whatever
	// is left.
	return s.groupings.UpdateTestTokens(ctx, grouping.ID, func(current int) int { return current })
}

func (s *tokenService) Consume(ctx context.Context, grouping models.Grouping) (int, error) {
	if grouping.Assignment.UnlimitedTokens {
		return grouping.TestTokens, nil
	}

	remaining, err := s.groupings.UpdateTestTokens(ctx, grouping.ID, func(current int) int {
		if current > 0 {
			return current - 1
		}
		return current
	})
	if err != nil {
		return 0, err
	}

	observability.TestTokensConsumed().Inc()
	s.logger.Debug().Uint("grouping_id", grouping.ID).Int("remaining", remaining).Msg("test token consumed")

	return remaining, nil
}

func (s *tokenService) StudentRunInProgress(ctx context.Context, grouping models.Grouping) (bool, error) {
	lastRun, err := s.lastStudentRun(ctx, grouping.ID)
	if err != nil {
		return false, err
	}

	if lastRun == nil {
		return false, nil
	}

	if !s.now().Before(lastRun.CreatedAt.Add(s.bufferTime)) {
		// Buffer time expired: assume the worker failed and let the
		// students run again.
		return false, nil
	}

	hasResults, err := s.testRuns.HasResults(ctx, lastRun.ID)
	if err != nil {
		return false, err
	}

	return !hasResults, nil
}

func (s *tokenService) lastStudentRun(ctx context.Context, groupingID uint) (*models.TestRun, error) {
	memberships, err := s.memberships.StudentMemberships(ctx, groupingID)
	if err != nil {
		return nil, err
	}

	studentIDs := make([]uint, 0, len(memberships))
	for _, membership := range memberships {
		if membership.IsAccepted() {
			studentIDs = append(studentIDs, membership.UserID)
		}
	}

	runs, err := s.testRuns.StudentRuns(ctx, groupingID, studentIDs)
	if err != nil {
		return nil, err
	}

	if len(runs) == 0 {
		return nil, nil
	}

	return &runs[0], nil
}
