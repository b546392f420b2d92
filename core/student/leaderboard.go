package student

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
)

var ErrInvalidLimit = core.NewValidationError(nil, core.FieldError{
	Field: "limit",
	Error: fmt.Sprintf("limit must be between 1 and %d", MaxLeaderboardLimit),
})

// LeaderboardQuery selects the cohorts and groups to rank. Limit 0 ranks everyone.
type LeaderboardQuery struct {
	Years   []int  `query:"year"`
	Branch  string `query:"branch"`
	Section string `query:"section"`
	Limit   int    `query:"limit"`
}

func (q LeaderboardQuery) cacheKey() string {
	years := append([]int(nil), q.Years...)
	sort.Ints(years)
	parts := make([]string, 0, len(years))
	for _, y := range years {
		parts = append(parts, strconv.Itoa(y))
	}
	return fmt.Sprintf("y=%s|b=%s|s=%s|l=%d",
		strings.Join(parts, ","), strings.ToLower(q.Branch), strings.ToLower(q.Section), q.Limit)
}

// TestRanking ranks the counted attempts of a test within a cohort.
func (svc *Service) TestRanking(ctx context.Context, year int, testID string) (TestRanking, error) {
	test, err := svc.tests.GetTest(ctx, testID)
	if err != nil {
		return TestRanking{}, err
	}
	store, err := svc.cohorts.Cohort(ctx, year)
	if err != nil {
		return TestRanking{}, err
	}
	entries, err := store.CountedAttempts(ctx, testID)
	if err != nil {
		return TestRanking{}, errors.Wrap(err, "loading attempts")
	}
	return TestRanking{
		TestID:        test.ID,
		TestName:      test.Name,
		Year:          year,
		QuestionCount: test.QuestionCount(),
		Entries:       RankEntries(entries, test.QuestionCount()),
	}, nil
}

// RankForTest returns a student's rank for a test among their cohort.
func (svc *Service) RankForTest(ctx context.Context, year int, testID, studentID string) (StudentRank, error) {
	ranking, err := svc.TestRanking(ctx, year, testID)
	if err != nil {
		return StudentRank{}, err
	}
	for _, e := range ranking.Entries {
		if e.StudentID == studentID {
			return StudentRank{
				TestID:       testID,
				Rank:         e.Rank,
				Participants: len(ranking.Entries),
				Score:        e.Score,
				Percentage:   e.Percentage,
			}, nil
		}
	}
	return StudentRank{}, ErrNotRanked
}

// Leaderboard ranks students across cohorts by total score.
func (svc *Service) Leaderboard(ctx context.Context, q LeaderboardQuery) (Leaderboard, error) {
	if q.Limit < 0 || q.Limit > MaxLeaderboardLimit {
		return Leaderboard{}, ErrInvalidLimit
	}
	q.Branch = core.CleanString(q.Branch)
	q.Section = core.CleanString(q.Section)

	var (
		key        = q.cacheKey()
		generation int64
		cacheable  bool
	)
	if svc.cache != nil {
		lb, gen, ok, err := svc.cache.GetLeaderboard(ctx, key)
		switch {
		case err != nil:
			svc.logger.Warn(fmt.Sprintf("reading cached leaderboard: %v", err), err)
		case ok:
			return lb, nil
		default:
			generation, cacheable = gen, true
		}
	}

	stores, err := svc.stores(ctx, q.Years)
	if err != nil {
		return Leaderboard{}, err
	}
	filter := &QueryFilter{Branch: q.Branch, Section: q.Section}
	candidates := make([]LeaderboardEntry, 0)
	for _, store := range stores {
		found, err := store.LeaderboardCandidates(ctx, filter)
		if err != nil {
			return Leaderboard{}, errors.Wrapf(err, "loading cohort %d", store.Year())
		}
		candidates = append(candidates, found...)
	}

	lb := Leaderboard{
		Entries:     RankLeaderboard(candidates, q.Limit),
		GeneratedAt: svc.now(),
	}
	if cacheable {
		if err = svc.cache.SetLeaderboard(ctx, key, generation, lb); err != nil {
			svc.logger.Warn(fmt.Sprintf("caching leaderboard: %v", err), err)
		}
	}
	return lb, nil
}

func (svc *Service) invalidateLeaderboards(ctx context.Context) {
	if svc.cache == nil {
		return
	}
	if err := svc.cache.InvalidateLeaderboards(ctx); err != nil {
		svc.logger.Warn(fmt.Sprintf("invalidating leaderboards: %v", err), err)
	}
}

// ValidateTotals lists students whose stored total differs from the sum of their counted attempts.
func (svc *Service) ValidateTotals(ctx context.Context, years []int) ([]TotalMismatch, error) {
	stores, err := svc.stores(ctx, years)
	if err != nil {
		return nil, err
	}
	mismatches := make([]TotalMismatch, 0)
	for _, store := range stores {
		found, err := store.TotalMismatches(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "checking cohort %d", store.Year())
		}
		mismatches = append(mismatches, found...)
	}
	return mismatches, nil
}

// ReconcileTotals recomputes the totals of the cohorts holding mismatches and returns what it fixed.
func (svc *Service) ReconcileTotals(ctx context.Context, years []int) ([]TotalMismatch, error) {
	mismatches, err := svc.ValidateTotals(ctx, years)
	if err != nil {
		return nil, err
	}
	if len(mismatches) == 0 {
		return mismatches, nil
	}

	dirty := make(map[int]bool)
	for _, m := range mismatches {
		dirty[m.Year] = true
	}
	now := svc.now()
	for year := range dirty {
		store, err := svc.cohorts.Cohort(ctx, year)
		if err != nil {
			return nil, err
		}
		if err = store.RecomputeTotals(ctx, now); err != nil {
			return nil, errors.Wrapf(err, "recomputing cohort %d", year)
		}
		svc.logger.Info(fmt.Sprintf("recomputed totals of cohort %d", year))
	}
	svc.invalidateLeaderboards(ctx)
	return mismatches, nil
}
