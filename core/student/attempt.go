package student

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

func (svc *Service) liveTest(ctx context.Context, testID string) (exam.Test, error) {
	test, err := svc.tests.GetTest(ctx, testID)
	if err != nil {
		return exam.Test{}, err
	}
	if !test.IsLive() {
		return exam.Test{}, exam.ErrNotLive
	}
	return test, nil
}

// Assign gives a live test to a student as a pending attempt.
func (svc *Service) Assign(ctx context.Context, year int, studentID, testID string) (AssignedTest, error) {
	if _, err := svc.liveTest(ctx, testID); err != nil {
		return AssignedTest{}, err
	}
	store, err := svc.cohorts.Cohort(ctx, year)
	if err != nil {
		return AssignedTest{}, err
	}

	ok, err := store.AssignTest(ctx, studentID, testID, svc.now())
	if err != nil {
		return AssignedTest{}, errors.Wrap(err, "assigning test")
	}
	if !ok {
		if _, err = store.GetStudent(ctx, GetFilter{ID: studentID}); err != nil {
			return AssignedTest{}, err
		}
		return AssignedTest{}, ErrAlreadyAssigned
	}
	return store.GetAttempt(ctx, studentID, testID, false)
}

// AssignMany assigns a live test to several students of a cohort in one transaction.
// Students already holding the test, or unknown, are skipped. It returns how many were assigned.
func (svc *Service) AssignMany(ctx context.Context, year int, testID string, studentIDs []string) (int, error) {
	if _, err := svc.liveTest(ctx, testID); err != nil {
		return 0, err
	}
	store, err := svc.cohorts.Cohort(ctx, year)
	if err != nil {
		return 0, err
	}

	var assigned int
	now := svc.now()
	err = core.InTx(ctx, svc.db, func(tx core.DBTransactor) error {
		for _, id := range studentIDs {
			ok, err := store.AssignTest(ctx, id, testID, now, tx)
			if err != nil {
				return errors.Wrapf(err, "assigning test to %s", id)
			}
			if ok {
				assigned++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return assigned, nil
}

// Start moves a pending attempt of a live test to in-progress.
func (svc *Service) Start(ctx context.Context, year int, studentID, testID string) (AssignedTest, error) {
	if _, err := svc.liveTest(ctx, testID); err != nil {
		return AssignedTest{}, err
	}
	store, err := svc.cohorts.Cohort(ctx, year)
	if err != nil {
		return AssignedTest{}, err
	}

	now := svc.now()
	ok, err := store.StartAttempt(ctx, studentID, testID, now)
	if err != nil {
		return AssignedTest{}, errors.Wrap(err, "starting attempt")
	}
	if !ok {
		// not pending: either never assigned or already past pending
		if _, err = store.GetAttempt(ctx, studentID, testID, false); err != nil {
			return AssignedTest{}, err
		}
		return AssignedTest{}, ErrAlreadyStarted
	}

	attempt, err := store.GetAttempt(ctx, studentID, testID, false)
	if err != nil {
		// the attempt is started regardless
		svc.logger.Warn(fmt.Sprintf("reading started attempt of %s on test %s: %v", studentID, testID, err))
		return AssignedTest{StudentID: studentID, TestID: testID, Status: StatusInProgress, StartedAt: &now}, nil
	}
	return attempt, nil
}

// SubmitMarks records category marks given by an administrator. Completed attempts,
// absent ones included, are overwritten.
func (svc *Service) SubmitMarks(ctx context.Context, year int, studentID, testID string, marks map[string]float64) (AssignedTest, error) {
	out, err := OutcomeFromMarks(marks)
	if err != nil {
		return AssignedTest{}, err
	}
	return svc.submit(ctx, year, studentID, testID, out, true)
}

// SubmitAnswers grades a student's answers against the test's answer key.
// A completed attempt cannot be resubmitted.
func (svc *Service) SubmitAnswers(ctx context.Context, year int, studentID, testID string, answers map[string]string) (AssignedTest, error) {
	test, err := svc.tests.GetTest(ctx, testID)
	if err != nil {
		return AssignedTest{}, err
	}
	return svc.submit(ctx, year, studentID, testID, GradeAnswers(test, answers), false)
}

// submit completes the attempt and moves the student's total by the score difference.
// The attempt row stays locked until both writes commit.
func (svc *Service) submit(ctx context.Context, year int, studentID, testID string, out Outcome, overwrite bool) (AssignedTest, error) {
	store, err := svc.cohorts.Cohort(ctx, year)
	if err != nil {
		return AssignedTest{}, err
	}

	var attempt AssignedTest
	now := svc.now()
	err = core.InTx(ctx, svc.db, func(tx core.DBTransactor) error {
		var err error
		attempt, err = store.GetAttempt(ctx, studentID, testID, true, tx)
		if err != nil {
			return err
		}
		if attempt.Status == StatusCompleted && !overwrite {
			return ErrAlreadyCompleted
		}

		delta := out.Score() - attempt.Score
		if err = store.CompleteAttempt(ctx, attempt.ID, out, now, tx); err != nil {
			return errors.Wrap(err, "completing attempt")
		}
		if err = store.AddToTotal(ctx, studentID, delta, now, tx); err != nil {
			return errors.Wrap(err, "updating total score")
		}
		return nil
	})
	if err != nil {
		return AssignedTest{}, err
	}

	svc.invalidateLeaderboards(ctx)
	return store.GetAttempt(ctx, studentID, testID, false)
}

// ExpirePending marks every still-pending attempt of the test absent, in every cohort.
// A failing cohort is logged and skipped; the returned error then reports how many failed.
func (svc *Service) ExpirePending(ctx context.Context, testID string) (int, error) {
	years, err := svc.cohorts.Years(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "listing cohorts")
	}

	var (
		expired []ExpiredAttempt
		failed  int
	)
	now := svc.now()
	for _, year := range years {
		store, err := svc.cohorts.Cohort(ctx, year)
		if err != nil {
			failed++
			svc.logger.Error(fmt.Sprintf("opening cohort %d: %v", year, err), err)
			continue
		}
		ids, err := store.ExpirePending(ctx, testID, now)
		if err != nil {
			failed++
			svc.logger.Error(fmt.Sprintf("marking absentees of cohort %d: %v", year, err), err)
			continue
		}
		if len(ids) > 0 {
			svc.logger.Info(fmt.Sprintf("marked %d student(s) of cohort %d absent for test %s", len(ids), year, testID))
		}
		for _, id := range ids {
			expired = append(expired, svc.expiredAttempt(ctx, store, id))
		}
	}

	if len(expired) > 0 {
		svc.invalidateLeaderboards(ctx)
		if svc.notifyAbsent {
			svc.sendAbsentNotices(ctx, testID, expired)
		}
	}
	if failed > 0 {
		return len(expired), errors.Errorf("marking absentees failed for %d cohort(s)", failed)
	}
	return len(expired), nil
}

func (svc *Service) expiredAttempt(ctx context.Context, store Store, studentID string) ExpiredAttempt {
	ea := ExpiredAttempt{StudentID: studentID, Year: store.Year()}
	if s, err := store.GetStudent(ctx, GetFilter{ID: studentID}); err == nil {
		ea.RollNo, ea.Name, ea.Email = s.RollNo, s.Name, s.Email
	}
	return ea
}

type absentNotice struct {
	AppName  string
	Name     string
	TestName string
}

func (svc *Service) sendAbsentNotices(ctx context.Context, testID string, expired []ExpiredAttempt) {
	testName := testID
	if test, err := svc.tests.GetTest(ctx, testID); err == nil {
		testName = test.Name
	}

	msgs := make([]*core.EmailMessage, 0, len(expired))
	for _, ea := range expired {
		if ea.Email == "" {
			continue
		}
		msgs = append(msgs, &core.EmailMessage{
			To:           []mail.Address{{Name: ea.Name, Address: ea.Email}},
			Subject:      "Marked absent: " + testName,
			TemplateName: "absent_notice",
			TemplateData: absentNotice{AppName: svc.appName, Name: ea.Name, TestName: testName},
		})
	}
	if len(msgs) > 0 {
		svc.mailSvc.SendMessages(msgs...)
	}
}
