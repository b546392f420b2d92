package exam

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
)

var (
	// errors
	ErrNotFound         = core.NewError(core.KindNotFound, "test not found")
	ErrCategoryNotFound = core.NewError(core.KindNotFound, "category not found")
	ErrQuestionNotFound = core.NewError(core.KindNotFound, "question not found")
	ErrNoQuestions      = core.NewError(core.KindNotFound, "category has no questions")
	ErrTestExists       = core.NewError(core.KindConflict, "a test with this name already exists")
	ErrCategoryExists   = core.NewError(core.KindConflict, "this category already exists in the test")
	ErrNotLive          = core.NewError(core.KindInvalidState, "test is not live")
	ErrInvalidStatus    = core.NewValidationError(nil, core.FieldError{Field: "status", Error: "must be one of: offline, live"})
)

type (
	Repository interface {
		CreateTest(ctx context.Context, test Test, exec ...core.DBExecutor) (Test, error)
		GetTest(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Test, error)
		QueryTests(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Test, error)
		UpdateTest(ctx context.Context, test Test, exec ...core.DBExecutor) (Test, error)
		SetTestStatus(ctx context.Context, id string, status Status, liveAt *time.Time, exec ...core.DBExecutor) error
		// ExpireLiveTest takes the test offline only if it is still live since liveAt (or live
		// without a timestamp), and reports whether it did.
		ExpireLiveTest(ctx context.Context, id string, liveAt time.Time, exec ...core.DBExecutor) (bool, error)
		DeleteTest(ctx context.Context, id string, exec ...core.DBExecutor) error

		CreateCategory(ctx context.Context, testID string, cat Category, exec ...core.DBExecutor) (Category, error)
		// UpdateCategory renames the category; its questions are replaced when replaceQuestions is set.
		UpdateCategory(ctx context.Context, testID string, cat Category, replaceQuestions bool, exec ...core.DBExecutor) error
		DeleteCategory(ctx context.Context, testID, categoryID string, exec ...core.DBExecutor) error

		CreateQuestion(ctx context.Context, categoryID string, q Question, exec ...core.DBExecutor) (Question, error)
		UpdateQuestion(ctx context.Context, categoryID string, q Question, exec ...core.DBExecutor) error
		DeleteQuestion(ctx context.Context, categoryID, questionID string, exec ...core.DBExecutor) error
	}

	// Scheduler takes live tests offline once their window elapses.
	Scheduler interface {
		ScheduleOffline(testID, testName string, liveAt time.Time)
		CancelSchedule(testID string) bool
	}

	Service struct {
		db          core.DB
		repo        Repository
		scheduler   Scheduler
		validate    *validator.Validate
		logger      core.Logger
		randomCount int
	}
)

func NewService(
	db core.DB,
	repo Repository,
	scheduler Scheduler,
	validate *validator.Validate,
	logger core.Logger,
	conf *core.Config,
) *Service {
	count := conf.Exam.RandomQuestionCount
	if count <= 0 {
		count = 20
	}
	return &Service{
		db:          db,
		repo:        repo,
		scheduler:   scheduler,
		validate:    validate,
		logger:      logger,
		randomCount: count,
	}
}

func newCategory(nc NewCategory) Category {
	cat := Category{Name: nc.Name, Questions: make([]Question, 0, len(nc.Questions))}
	for _, nq := range nc.Questions {
		cat.Questions = append(cat.Questions, newQuestion(nq))
	}
	return cat
}

func newQuestion(nq NewQuestion) Question {
	return Question{
		Text:          nq.Text,
		Options:       nq.Options,
		CorrectAnswer: nq.CorrectAnswer,
	}
}

func (svc *Service) checkNameUniqueness(ctx context.Context, name string, excludeID string) error {
	existing, err := svc.repo.GetTest(ctx, GetFilter{Name: name})
	switch {
	case errors.Cause(err) == ErrNotFound:
		return nil
	case err != nil:
		return errors.Wrap(err, "checking test name")
	case existing.ID != excludeID:
		return ErrTestExists
	}
	return nil
}

// Create stores a new offline test with its categories and questions.
func (svc *Service) Create(ctx context.Context, nt NewTest) (Test, error) {
	if err := nt.Validate(svc.validate); err != nil {
		return Test{}, err
	}
	if err := svc.checkNameUniqueness(ctx, nt.Name, ""); err != nil {
		return Test{}, err
	}

	now := core.Now()
	test := Test{
		Name:       nt.Name,
		Status:     StatusOffline,
		Categories: make([]Category, 0, len(nt.Categories)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, nc := range nt.Categories {
		test.Categories = append(test.Categories, newCategory(nc))
	}

	err := core.InTx(ctx, svc.db, func(tx core.DBTransactor) error {
		var err error
		test, err = svc.repo.CreateTest(ctx, test, tx)
		return err
	})
	if err != nil {
		return Test{}, errors.Wrap(err, "creating test")
	}
	return test, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Test, error) {
	return svc.repo.GetTest(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByName(ctx context.Context, name string) (Test, error) {
	return svc.repo.GetTest(ctx, GetFilter{Name: core.CleanString(name)})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter) ([]Test, error) {
	if filter != nil && filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	return svc.repo.QueryTests(ctx, filter)
}

func (svc *Service) Update(ctx context.Context, id string, ut UpdateTest) (Test, error) {
	if err := ut.Validate(svc.validate); err != nil {
		return Test{}, err
	}
	test, err := svc.GetByID(ctx, id)
	if err != nil {
		return Test{}, err
	}
	if err = svc.checkNameUniqueness(ctx, ut.Name, id); err != nil {
		return Test{}, err
	}
	test.Name = ut.Name
	test.UpdatedAt = core.Now()
	return svc.repo.UpdateTest(ctx, test)
}

// Delete removes the test with its categories and questions. Attempts keep their weak reference.
func (svc *Service) Delete(ctx context.Context, id string) error {
	if _, err := svc.GetByID(ctx, id); err != nil {
		return err
	}
	if err := svc.repo.DeleteTest(ctx, id); err != nil {
		return errors.Wrap(err, "deleting test")
	}
	svc.scheduler.CancelSchedule(id)
	return nil
}

// SetStatus toggles the test between offline and live. Going live stamps LiveAt and arms
// the offline timer; going offline clears LiveAt and disarms it.
func (svc *Service) SetStatus(ctx context.Context, id string, status Status) (Test, error) {
	if !status.Valid() {
		return Test{}, ErrInvalidStatus
	}
	test, err := svc.GetByID(ctx, id)
	if err != nil {
		return Test{}, err
	}

	var liveAt *time.Time
	if status == StatusLive {
		now := core.Now()
		liveAt = &now
	}
	if err = svc.repo.SetTestStatus(ctx, id, status, liveAt); err != nil {
		return Test{}, errors.Wrap(err, "setting test status")
	}
	test.Status = status
	test.LiveAt = liveAt

	if liveAt != nil {
		svc.scheduler.ScheduleOffline(test.ID, test.Name, *liveAt)
		svc.logger.Info("test is live: " + test.Name)
	} else if svc.scheduler.CancelSchedule(test.ID) {
		svc.logger.Info("test taken offline: " + test.Name)
	}
	return test, nil
}

func (svc *Service) AddCategory(ctx context.Context, testID string, nc NewCategory) (Category, error) {
	if err := nc.Validate(svc.validate); err != nil {
		return Category{}, err
	}
	test, err := svc.GetByID(ctx, testID)
	if err != nil {
		return Category{}, err
	}
	if _, exists := test.Category(nc.Name); exists {
		return Category{}, ErrCategoryExists
	}

	cat := newCategory(nc)
	err = core.InTx(ctx, svc.db, func(tx core.DBTransactor) error {
		var err error
		cat, err = svc.repo.CreateCategory(ctx, testID, cat, tx)
		return err
	})
	if err != nil {
		return Category{}, errors.Wrap(err, "creating category")
	}
	return cat, nil
}

func findCategoryByID(test Test, id string) (Category, bool) {
	for _, c := range test.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

func (svc *Service) UpdateCategory(ctx context.Context, testID, categoryID string, uc UpdateCategory) (Category, error) {
	if err := uc.Validate(svc.validate); err != nil {
		return Category{}, err
	}
	test, err := svc.GetByID(ctx, testID)
	if err != nil {
		return Category{}, err
	}
	cat, ok := findCategoryByID(test, categoryID)
	if !ok {
		return Category{}, ErrCategoryNotFound
	}
	if uc.Name != "" && uc.Name != cat.Name {
		if _, exists := test.Category(uc.Name); exists {
			return Category{}, ErrCategoryExists
		}
		cat.Name = uc.Name
	}
	replace := uc.Questions != nil
	if replace {
		cat.Questions = newCategory(NewCategory{Questions: uc.Questions}).Questions
	}

	err = core.InTx(ctx, svc.db, func(tx core.DBTransactor) error {
		return svc.repo.UpdateCategory(ctx, testID, cat, replace, tx)
	})
	if err != nil {
		return Category{}, errors.Wrap(err, "updating category")
	}
	return svc.getCategory(ctx, testID, categoryID)
}

func (svc *Service) getCategory(ctx context.Context, testID, categoryID string) (Category, error) {
	test, err := svc.GetByID(ctx, testID)
	if err != nil {
		return Category{}, err
	}
	cat, ok := findCategoryByID(test, categoryID)
	if !ok {
		return Category{}, ErrCategoryNotFound
	}
	return cat, nil
}

func (svc *Service) DeleteCategory(ctx context.Context, testID, categoryID string) error {
	return svc.repo.DeleteCategory(ctx, testID, categoryID)
}

func (svc *Service) AddQuestion(ctx context.Context, testID, categoryID string, nq NewQuestion) (Question, error) {
	if err := nq.Validate(svc.validate); err != nil {
		return Question{}, err
	}
	if _, err := svc.getCategory(ctx, testID, categoryID); err != nil {
		return Question{}, err
	}
	return svc.repo.CreateQuestion(ctx, categoryID, newQuestion(nq))
}

func (svc *Service) UpdateQuestion(ctx context.Context, testID, categoryID, questionID string, nq NewQuestion) (Question, error) {
	if err := nq.Validate(svc.validate); err != nil {
		return Question{}, err
	}
	if _, err := svc.getCategory(ctx, testID, categoryID); err != nil {
		return Question{}, err
	}
	q := newQuestion(nq)
	q.ID = questionID
	if err := svc.repo.UpdateQuestion(ctx, categoryID, q); err != nil {
		return Question{}, err
	}
	return q, nil
}

func (svc *Service) DeleteQuestion(ctx context.Context, testID, categoryID, questionID string) error {
	if _, err := svc.getCategory(ctx, testID, categoryID); err != nil {
		return err
	}
	return svc.repo.DeleteQuestion(ctx, categoryID, questionID)
}

// RandomQuestions draws up to n shuffled questions of a live test category, without their answers.
// n <= 0 draws the configured default.
func (svc *Service) RandomQuestions(ctx context.Context, testName, category string, n int) ([]Question, error) {
	test, err := svc.GetByName(ctx, testName)
	if err != nil {
		return nil, err
	}
	if !test.IsLive() {
		return nil, ErrNotLive
	}
	cat, ok := test.Category(category)
	if !ok {
		return nil, ErrCategoryNotFound
	}
	if len(cat.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	if n <= 0 {
		n = svc.randomCount
	}

	pool := append([]Question(nil), cat.Questions...)
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if n < len(pool) {
		pool = pool[:n]
	}
	return stripAnswers(pool), nil
}

// Liveness gives the scheduler and the attempt state machine access to test liveness
// without depending on the Service, which itself depends on the scheduler.
type Liveness struct {
	repo Repository
}

func NewLiveness(repo Repository) *Liveness {
	return &Liveness{repo: repo}
}

func (l *Liveness) GetTest(ctx context.Context, id string) (Test, error) {
	return l.repo.GetTest(ctx, GetFilter{ID: id})
}

func (l *Liveness) LiveTests(ctx context.Context) ([]Test, error) {
	return l.repo.QueryTests(ctx, &QueryFilter{Status: StatusLive})
}

// MarkOffline ends the live window that started at liveAt. It is a no-op, returning false,
// when the test has since gone offline or live again.
func (l *Liveness) MarkOffline(ctx context.Context, id string, liveAt time.Time) (bool, error) {
	return l.repo.ExpireLiveTest(ctx, id, liveAt)
}
