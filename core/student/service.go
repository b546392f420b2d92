package student

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

var (
	// errors
	ErrNotFound           = core.NewError(core.KindNotFound, "student not found")
	ErrStudentExists      = core.NewError(core.KindConflict, "a student with this roll number already exists")
	ErrEmailExists        = core.NewError(core.KindConflict, "a student with this email already exists")
	ErrInvalidCredentials = core.NewError(core.KindUnauthorized, "invalid credentials")
	ErrAlreadyAssigned    = core.NewError(core.KindConflict, "test already assigned to this student")
	ErrNotAssigned        = core.NewError(core.KindNotFound, "test not assigned to this student")
	ErrAlreadyStarted     = core.NewError(core.KindInvalidState, "test already started")
	ErrAlreadyCompleted   = core.NewError(core.KindInvalidState, "test already completed")
	ErrNotRanked          = core.NewError(core.KindNotFound, "no completed attempt for this test")
)

type (
	// Store holds the students and attempts of one cohort.
	Store interface {
		Year() int

		CreateStudent(ctx context.Context, s Student, exec ...core.DBExecutor) (Student, error)
		GetStudent(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Student, error)
		QueryStudents(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Student, error)
		SetPassword(ctx context.Context, studentID string, hash []byte, exec ...core.DBExecutor) error

		// AssignTest creates a pending attempt and reports false when the student is missing or already assigned.
		AssignTest(ctx context.Context, studentID, testID string, at time.Time, exec ...core.DBExecutor) (bool, error)
		GetAttempt(ctx context.Context, studentID, testID string, forUpdate bool, exec ...core.DBExecutor) (AssignedTest, error)
		// StartAttempt moves a pending attempt to in-progress and reports false when it was not pending.
		StartAttempt(ctx context.Context, studentID, testID string, at time.Time, exec ...core.DBExecutor) (bool, error)
		CompleteAttempt(ctx context.Context, attemptID string, out Outcome, at time.Time, exec ...core.DBExecutor) error
		AddToTotal(ctx context.Context, studentID string, delta float64, at time.Time, exec ...core.DBExecutor) error
		// ExpirePending marks every pending attempt of the test absent and returns the affected student IDs.
		ExpirePending(ctx context.Context, testID string, at time.Time, exec ...core.DBExecutor) ([]string, error)

		CountedAttempts(ctx context.Context, testID string, exec ...core.DBExecutor) ([]RankEntry, error)
		LeaderboardCandidates(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]LeaderboardEntry, error)
		TotalMismatches(ctx context.Context, exec ...core.DBExecutor) ([]TotalMismatch, error)
		RecomputeTotals(ctx context.Context, at time.Time, exec ...core.DBExecutor) error
	}

	// Cohorts hands out the Store of each cohort.
	Cohorts interface {
		// StoreFor returns the cohort's Store, creating the cohort when needed.
		StoreFor(ctx context.Context, year int) (Store, error)
		// Cohort returns an existing cohort's Store, or ErrNotFound.
		Cohort(ctx context.Context, year int) (Store, error)
		Years(ctx context.Context) ([]int, error)
	}

	TestLookup interface {
		GetTest(ctx context.Context, id string) (exam.Test, error)
	}

	// LeaderboardCache keeps computed leaderboards until the next score change.
	// LeaderboardCache stores leaderboards by generation. GetLeaderboard returns the generation
	// it looked in; a leaderboard computed after a miss is stored under that generation, so a
	// result that raced with an invalidation is never served.
	LeaderboardCache interface {
		GetLeaderboard(ctx context.Context, key string) (lb Leaderboard, generation int64, ok bool, err error)
		SetLeaderboard(ctx context.Context, key string, generation int64, lb Leaderboard) error
		InvalidateLeaderboards(ctx context.Context) error
	}

	Service struct {
		db           core.DB
		cohorts      Cohorts
		tests        TestLookup
		mailSvc      core.EmailService
		cache        LeaderboardCache
		validate     *validator.Validate
		logger       core.Logger
		appName      string
		notifyAbsent bool
		now          func() time.Time
	}
)

func NewService(
	db core.DB,
	cohorts Cohorts,
	tests TestLookup,
	mailSvc core.EmailService,
	cache LeaderboardCache,
	validate *validator.Validate,
	logger core.Logger,
	conf *core.Config,
) *Service {
	return &Service{
		db:           db,
		cohorts:      cohorts,
		tests:        tests,
		mailSvc:      mailSvc,
		cache:        cache,
		validate:     validate,
		logger:       logger,
		appName:      conf.AppName,
		notifyAbsent: conf.Exam.NotifyAbsent,
		now:          core.Now,
	}
}

func (svc *Service) checkUniqueness(ctx context.Context, store Store, rollNo, email string) error {
	_, err := store.GetStudent(ctx, GetFilter{RollNo: rollNo})
	if err == nil {
		return ErrStudentExists
	} else if errors.Cause(err) != ErrNotFound {
		return errors.Wrap(err, "checking roll number")
	}
	if email == "" {
		return nil
	}
	_, err = store.GetStudent(ctx, GetFilter{Email: email})
	if err == nil {
		return ErrEmailExists
	} else if errors.Cause(err) != ErrNotFound {
		return errors.Wrap(err, "checking email")
	}
	return nil
}

// Register creates a student in their cohort, creating the cohort on first use.
func (svc *Service) Register(ctx context.Context, ns NewStudent) (Student, error) {
	if err := ns.Validate(svc.validate); err != nil {
		return Student{}, err
	}
	store, err := svc.cohorts.StoreFor(ctx, ns.Year)
	if err != nil {
		return Student{}, errors.Wrap(err, "opening cohort")
	}
	if err = svc.checkUniqueness(ctx, store, ns.RollNo, ns.Email); err != nil {
		return Student{}, err
	}

	now := svc.now()
	s := Student{
		RollNo:    ns.RollNo,
		Email:     ns.Email,
		Name:      ns.Name,
		Branch:    ns.Branch,
		Section:   ns.Section,
		Semester:  ns.Semester,
		Year:      ns.Year,
		Tests:     []AssignedTest{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err = s.SetPassword(ns.Password); err != nil {
		return Student{}, errors.Wrap(err, "hashing password")
	}
	return store.CreateStudent(ctx, s)
}

func (svc *Service) Authenticate(ctx context.Context, year int, rollNo, pwd string) (Student, error) {
	store, err := svc.cohorts.Cohort(ctx, year)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Student{}, ErrInvalidCredentials
		}
		return Student{}, err
	}
	s, err := store.GetStudent(ctx, GetFilter{RollNo: core.CleanString(rollNo, true /* lower */)})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Student{}, ErrInvalidCredentials
		}
		return Student{}, errors.Wrap(err, "finding student")
	}
	if err = s.CheckPassword(pwd); err != nil {
		return Student{}, ErrInvalidCredentials
	}
	return s, nil
}

func (svc *Service) GetByID(ctx context.Context, year int, id string) (Student, error) {
	store, err := svc.cohorts.Cohort(ctx, year)
	if err != nil {
		return Student{}, err
	}
	return store.GetStudent(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByRollNo(ctx context.Context, year int, rollNo string) (Student, error) {
	store, err := svc.cohorts.Cohort(ctx, year)
	if err != nil {
		return Student{}, err
	}
	return store.GetStudent(ctx, GetFilter{RollNo: core.CleanString(rollNo, true /* lower */)})
}

func (svc *Service) stores(ctx context.Context, years []int) ([]Store, error) {
	if len(years) == 0 {
		var err error
		if years, err = svc.cohorts.Years(ctx); err != nil {
			return nil, errors.Wrap(err, "listing cohorts")
		}
	}
	stores := make([]Store, 0, len(years))
	for _, y := range years {
		store, err := svc.cohorts.Cohort(ctx, y)
		if errors.Cause(err) == ErrNotFound {
			continue
		} else if err != nil {
			return nil, err
		}
		stores = append(stores, store)
	}
	return stores, nil
}

// Query lists students across the filtered cohorts, oldest cohort first.
func (svc *Service) Query(ctx context.Context, filter *QueryFilter) ([]Student, error) {
	var years []int
	if filter != nil {
		filter.Clean()
		years = filter.Years
	}
	stores, err := svc.stores(ctx, years)
	if err != nil {
		return nil, err
	}
	students := make([]Student, 0)
	for _, store := range stores {
		found, err := store.QueryStudents(ctx, filter)
		if err != nil {
			return nil, errors.Wrapf(err, "querying cohort %d", store.Year())
		}
		students = append(students, found...)
	}
	return students, nil
}

func (svc *Service) ResetPassword(ctx context.Context, year int, rollNo, pwd string) error {
	s, err := svc.GetByRollNo(ctx, year, rollNo)
	if err != nil {
		return err
	}
	if err = validatePasswordValue(svc.validate, pwd, s.RollNo, s.Name, s.Email); err != nil {
		return err
	}
	if err = s.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	store, err := svc.cohorts.Cohort(ctx, year)
	if err != nil {
		return err
	}
	return store.SetPassword(ctx, s.ID, s.PasswordHash)
}
