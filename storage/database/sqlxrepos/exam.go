package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/storage/database"
)

type (
	testRow struct {
		ID        string     `db:"id"`
		Name      string     `db:"name"`
		Status    string     `db:"status"`
		LiveAt    null.Int64 `db:"live_at"`
		CreatedAt int64      `db:"created_at"`
		UpdatedAt int64      `db:"updated_at"`
	}

	categoryRow struct {
		ID     string `db:"id"`
		TestID string `db:"test_id"`
		Name   string `db:"name"`
	}

	questionRow struct {
		ID            string `db:"id"`
		CategoryID    string `db:"category_id"`
		Text          string `db:"text"`
		OptionsJSON   string `db:"options_json"`
		CorrectAnswer string `db:"correct_answer"`
	}
)

const testColumns = "id, name, status, live_at, created_at, updated_at"

func (r testRow) toTest() exam.Test {
	return exam.Test{
		ID:         r.ID,
		Name:       r.Name,
		Status:     exam.Status(r.Status),
		LiveAt:     timePtr(r.LiveAt),
		Categories: []exam.Category{},
		CreatedAt:  fromMillis(r.CreatedAt),
		UpdatedAt:  fromMillis(r.UpdatedAt),
	}
}

func (r questionRow) toQuestion() (exam.Question, error) {
	q := exam.Question{ID: r.ID, Text: r.Text, CorrectAnswer: r.CorrectAnswer}
	if err := json.Unmarshal([]byte(r.OptionsJSON), &q.Options); err != nil {
		return exam.Question{}, errors.Wrapf(err, "decoding options of question %s", r.ID)
	}
	return q, nil
}

type examRepository struct {
	exec   core.DBExecutor
	flavor flavor
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(exec core.DBExecutor, dialect database.Dialect) *examRepository {
	return &examRepository{exec: exec, flavor: newFlavor(dialect)}
}

func (repo examRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	return getExec(repo.exec, svcExec)
}

func (repo examRepository) CreateTest(ctx context.Context, test exam.Test, exec ...core.DBExecutor) (exam.Test, error) {
	ex := repo.getExec(exec)
	test.ID = uuid.New().String()

	q := repo.flavor.rebind("INSERT INTO tests (" + testColumns + ") VALUES (?, ?, ?, ?, ?, ?)")
	_, err := ex.ExecContext(ctx, q,
		test.ID, test.Name, string(test.Status), nullMillis(test.LiveAt), toMillis(test.CreatedAt), toMillis(test.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return exam.Test{}, exam.ErrTestExists
		}
		return exam.Test{}, errors.Wrap(err, "inserting test")
	}

	for i, cat := range test.Categories {
		if test.Categories[i], err = repo.insertCategory(ctx, ex, test.ID, cat); err != nil {
			return exam.Test{}, err
		}
	}
	if test.Categories == nil {
		test.Categories = []exam.Category{}
	}
	return test, nil
}

func (repo examRepository) insertCategory(ctx context.Context, ex core.DBExecutor, testID string, cat exam.Category) (exam.Category, error) {
	cat.ID = uuid.New().String()
	q := repo.flavor.rebind(`INSERT INTO categories (id, test_id, name, position)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM categories WHERE test_id = ?))`)
	if _, err := ex.ExecContext(ctx, q, cat.ID, testID, cat.Name, testID); err != nil {
		if isUniqueViolation(err) {
			return exam.Category{}, exam.ErrCategoryExists
		}
		return exam.Category{}, errors.Wrap(err, "inserting category")
	}
	questions, err := repo.insertQuestions(ctx, ex, cat.ID, cat.Questions)
	if err != nil {
		return exam.Category{}, err
	}
	cat.Questions = questions
	return cat, nil
}

func (repo examRepository) insertQuestions(ctx context.Context, ex core.DBExecutor, categoryID string, questions []exam.Question) ([]exam.Question, error) {
	inserted := make([]exam.Question, 0, len(questions))
	for _, question := range questions {
		q, err := repo.insertQuestion(ctx, ex, categoryID, question)
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, q)
	}
	return inserted, nil
}

func (repo examRepository) insertQuestion(ctx context.Context, ex core.DBExecutor, categoryID string, question exam.Question) (exam.Question, error) {
	options, err := json.Marshal(question.Options)
	if err != nil {
		return exam.Question{}, errors.Wrap(err, "encoding options")
	}
	question.ID = uuid.New().String()
	q := repo.flavor.rebind(`INSERT INTO questions (id, category_id, text, options_json, correct_answer, position)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM questions WHERE category_id = ?))`)
	_, err = ex.ExecContext(ctx, q, question.ID, categoryID, question.Text, string(options), question.CorrectAnswer, categoryID)
	if err != nil {
		return exam.Question{}, errors.Wrap(err, "inserting question")
	}
	return question, nil
}

func (repo examRepository) GetTest(ctx context.Context, filter exam.GetFilter, exec ...core.DBExecutor) (exam.Test, error) {
	ex := repo.getExec(exec)

	query := "SELECT " + testColumns + " FROM tests WHERE "
	var arg string
	switch {
	case filter.ID != "":
		query += "id = ?"
		arg = filter.ID
	case filter.Name != "":
		query += "name = ?"
		arg = filter.Name
	default:
		return exam.Test{}, exam.ErrNotFound
	}

	var rows []testRow
	if err := selectAll(ctx, ex, &rows, repo.flavor.rebind(query), arg); err != nil {
		return exam.Test{}, errors.Wrap(err, "selecting test")
	}
	if len(rows) == 0 {
		return exam.Test{}, exam.ErrNotFound
	}
	tests, err := repo.withContent(ctx, ex, rows)
	if err != nil {
		return exam.Test{}, err
	}
	return tests[0], nil
}

func (repo examRepository) QueryTests(ctx context.Context, filter *exam.QueryFilter, exec ...core.DBExecutor) ([]exam.Test, error) {
	ex := repo.getExec(exec)

	query := "SELECT " + testColumns + " FROM tests"
	var args []interface{}
	if filter != nil && filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC, name"

	var rows []testRow
	if err := selectAll(ctx, ex, &rows, repo.flavor.rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "selecting tests")
	}
	return repo.withContent(ctx, ex, rows)
}

// withContent converts the rows and loads their categories and questions in two queries.
func (repo examRepository) withContent(ctx context.Context, ex core.DBExecutor, rows []testRow) ([]exam.Test, error) {
	tests := make([]exam.Test, 0, len(rows))
	if len(rows) == 0 {
		return tests, nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
		tests = append(tests, r.toTest())
	}

	q, args, err := repo.flavor.in("SELECT id, test_id, name FROM categories WHERE test_id IN (?) ORDER BY position", ids)
	if err != nil {
		return nil, errors.Wrap(err, "building categories query")
	}
	var catRows []categoryRow
	if err = selectAll(ctx, ex, &catRows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting categories")
	}
	if len(catRows) == 0 {
		return tests, nil
	}

	catIDs := make([]string, 0, len(catRows))
	for _, c := range catRows {
		catIDs = append(catIDs, c.ID)
	}
	q, args, err = repo.flavor.in(
		"SELECT id, category_id, text, options_json, correct_answer FROM questions WHERE category_id IN (?) ORDER BY position", catIDs)
	if err != nil {
		return nil, errors.Wrap(err, "building questions query")
	}
	var qRows []questionRow
	if err = selectAll(ctx, ex, &qRows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting questions")
	}

	questions := make(map[string][]exam.Question, len(catRows)) // {categoryID: questions}
	for _, r := range qRows {
		question, err := r.toQuestion()
		if err != nil {
			return nil, err
		}
		questions[r.CategoryID] = append(questions[r.CategoryID], question)
	}

	index := make(map[string]int, len(tests)) // {testID: position in tests}
	for i, t := range tests {
		index[t.ID] = i
	}
	for _, c := range catRows {
		cat := exam.Category{ID: c.ID, Name: c.Name, Questions: questions[c.ID]}
		if cat.Questions == nil {
			cat.Questions = []exam.Question{}
		}
		i := index[c.TestID]
		tests[i].Categories = append(tests[i].Categories, cat)
	}
	return tests, nil
}

func (repo examRepository) UpdateTest(ctx context.Context, test exam.Test, exec ...core.DBExecutor) (exam.Test, error) {
	ex := repo.getExec(exec)
	q := repo.flavor.rebind("UPDATE tests SET name = ?, updated_at = ? WHERE id = ?")
	res, err := ex.ExecContext(ctx, q, test.Name, toMillis(test.UpdatedAt), test.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return exam.Test{}, exam.ErrTestExists
		}
		return exam.Test{}, errors.Wrap(err, "updating test")
	}
	if n, err := rowsAffected(res); err != nil {
		return exam.Test{}, err
	} else if n == 0 {
		return exam.Test{}, exam.ErrNotFound
	}
	return repo.GetTest(ctx, exam.GetFilter{ID: test.ID}, ex)
}

func (repo examRepository) SetTestStatus(ctx context.Context, id string, status exam.Status, liveAt *time.Time, exec ...core.DBExecutor) error {
	q := repo.flavor.rebind("UPDATE tests SET status = ?, live_at = ?, updated_at = ? WHERE id = ?")
	res, err := repo.getExec(exec).ExecContext(ctx, q, string(status), nullMillis(liveAt), toMillis(core.Now()), id)
	return repo.expectOne(res, err, exam.ErrNotFound, "updating test status")
}

func (repo examRepository) ExpireLiveTest(ctx context.Context, id string, liveAt time.Time, exec ...core.DBExecutor) (bool, error) {
	q := repo.flavor.rebind(`UPDATE tests SET status = ?, live_at = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND (live_at IS NULL OR live_at = ?)`)
	res, err := repo.getExec(exec).ExecContext(ctx, q,
		string(exam.StatusOffline), toMillis(core.Now()), id, string(exam.StatusLive), toMillis(liveAt))
	if err != nil {
		return false, errors.Wrap(err, "expiring live test")
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (repo examRepository) DeleteTest(ctx context.Context, id string, exec ...core.DBExecutor) error {
	res, err := repo.getExec(exec).ExecContext(ctx, repo.flavor.rebind("DELETE FROM tests WHERE id = ?"), id)
	return repo.expectOne(res, err, exam.ErrNotFound, "deleting test")
}

func (repo examRepository) CreateCategory(ctx context.Context, testID string, cat exam.Category, exec ...core.DBExecutor) (exam.Category, error) {
	return repo.insertCategory(ctx, repo.getExec(exec), testID, cat)
}

func (repo examRepository) UpdateCategory(ctx context.Context, testID string, cat exam.Category, replaceQuestions bool, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	q := repo.flavor.rebind("UPDATE categories SET name = ? WHERE id = ? AND test_id = ?")
	res, err := ex.ExecContext(ctx, q, cat.Name, cat.ID, testID)
	if err != nil && isUniqueViolation(err) {
		return exam.ErrCategoryExists
	}
	if err = repo.expectOne(res, err, exam.ErrCategoryNotFound, "updating category"); err != nil {
		return err
	}
	if !replaceQuestions {
		return nil
	}

	if _, err = ex.ExecContext(ctx, repo.flavor.rebind("DELETE FROM questions WHERE category_id = ?"), cat.ID); err != nil {
		return errors.Wrap(err, "deleting questions")
	}
	_, err = repo.insertQuestions(ctx, ex, cat.ID, cat.Questions)
	return err
}

func (repo examRepository) DeleteCategory(ctx context.Context, testID, categoryID string, exec ...core.DBExecutor) error {
	q := repo.flavor.rebind("DELETE FROM categories WHERE id = ? AND test_id = ?")
	res, err := repo.getExec(exec).ExecContext(ctx, q, categoryID, testID)
	return repo.expectOne(res, err, exam.ErrCategoryNotFound, "deleting category")
}

func (repo examRepository) CreateQuestion(ctx context.Context, categoryID string, question exam.Question, exec ...core.DBExecutor) (exam.Question, error) {
	return repo.insertQuestion(ctx, repo.getExec(exec), categoryID, question)
}

func (repo examRepository) UpdateQuestion(ctx context.Context, categoryID string, question exam.Question, exec ...core.DBExecutor) error {
	options, err := json.Marshal(question.Options)
	if err != nil {
		return errors.Wrap(err, "encoding options")
	}
	q := repo.flavor.rebind("UPDATE questions SET text = ?, options_json = ?, correct_answer = ? WHERE id = ? AND category_id = ?")
	res, err := repo.getExec(exec).ExecContext(ctx, q, question.Text, string(options), question.CorrectAnswer, question.ID, categoryID)
	return repo.expectOne(res, err, exam.ErrQuestionNotFound, "updating question")
}

func (repo examRepository) DeleteQuestion(ctx context.Context, categoryID, questionID string, exec ...core.DBExecutor) error {
	q := repo.flavor.rebind("DELETE FROM questions WHERE id = ? AND category_id = ?")
	res, err := repo.getExec(exec).ExecContext(ctx, q, questionID, categoryID)
	return repo.expectOne(res, err, exam.ErrQuestionNotFound, "deleting question")
}

// expectOne maps a statement that touched no row to notFound.
func (repo examRepository) expectOne(res sql.Result, err error, notFound error, msg string) error {
	if err != nil {
		return errors.Wrap(err, msg)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
