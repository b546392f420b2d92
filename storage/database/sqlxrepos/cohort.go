package sqlxrepos

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/student"
	"github.com/trezcool/mtihani/storage/database"
)

// totals closer than this are considered equal
const scoreEpsilon = 1e-6

var cohortSchema = []string{
	`CREATE TABLE IF NOT EXISTS students_%[1]d (
		id            TEXT PRIMARY KEY,
		roll_no       TEXT             NOT NULL UNIQUE,
		email         TEXT             NOT NULL DEFAULT '',
		name          TEXT             NOT NULL,
		branch        TEXT             NOT NULL,
		section       TEXT             NOT NULL,
		semester      INTEGER          NOT NULL,
		total_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
		password_hash TEXT             NOT NULL,
		created_at    BIGINT           NOT NULL,
		updated_at    BIGINT           NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS student_tests_%[1]d (
		id           TEXT PRIMARY KEY,
		student_id   TEXT             NOT NULL REFERENCES students_%[1]d (id) ON DELETE CASCADE,
		test_id      TEXT             NOT NULL,
		status       TEXT             NOT NULL,
		marks_json   TEXT,
		score        DOUBLE PRECISION NOT NULL DEFAULT 0,
		absent       BOOLEAN          NOT NULL DEFAULT FALSE,
		assigned_at  BIGINT           NOT NULL,
		started_at   BIGINT,
		submitted_at BIGINT,
		UNIQUE (student_id, test_id)
	)`,
	`CREATE INDEX IF NOT EXISTS student_tests_%[1]d_test_idx ON student_tests_%[1]d (test_id)`,
}

// cohortRegistry hands out one store per cohort and creates cohort tables on demand.
type cohortRegistry struct {
	db     core.DB
	flavor flavor

	mu     sync.Mutex
	stores map[int]*cohortStore // {year: store}
}

var _ student.Cohorts = (*cohortRegistry)(nil) // interface compliance check

func NewCohortRegistry(db core.DB, dialect database.Dialect) *cohortRegistry {
	return &cohortRegistry{db: db, flavor: newFlavor(dialect), stores: make(map[int]*cohortStore)}
}

func validYear(year int) bool {
	return year >= student.MinCohortYear && year <= student.MaxCohortYear
}

func (reg *cohortRegistry) StoreFor(ctx context.Context, year int) (student.Store, error) {
	if !validYear(year) {
		return nil, errors.Errorf("invalid cohort year %d", year)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if s, ok := reg.stores[year]; ok {
		return s, nil
	}

	err := core.InTx(ctx, reg.db, func(tx core.DBTransactor) error {
		for _, stmt := range cohortSchema {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(stmt, year)); err != nil {
				return errors.Wrapf(err, "creating tables of cohort %d", year)
			}
		}
		q := reg.flavor.rebind("INSERT INTO cohorts (year, created_at) VALUES (?, ?) ON CONFLICT (year) DO NOTHING")
		_, err := tx.ExecContext(ctx, q, year, toMillis(core.Now()))
		return errors.Wrap(err, "registering cohort")
	})
	if err != nil {
		return nil, err
	}

	s := newCohortStore(reg.db, reg.flavor, year)
	reg.stores[year] = s
	return s, nil
}

func (reg *cohortRegistry) Cohort(ctx context.Context, year int) (student.Store, error) {
	if !validYear(year) {
		return nil, student.ErrNotFound
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if s, ok := reg.stores[year]; ok {
		return s, nil
	}

	var rows []struct {
		Year int `db:"year"`
	}
	if err := selectAll(ctx, reg.db, &rows, reg.flavor.rebind("SELECT year FROM cohorts WHERE year = ?"), year); err != nil {
		return nil, errors.Wrap(err, "selecting cohort")
	}
	if len(rows) == 0 {
		return nil, student.ErrNotFound
	}
	s := newCohortStore(reg.db, reg.flavor, year)
	reg.stores[year] = s
	return s, nil
}

func (reg *cohortRegistry) Years(ctx context.Context) ([]int, error) {
	var rows []struct {
		Year int `db:"year"`
	}
	if err := selectAll(ctx, reg.db, &rows, "SELECT year FROM cohorts ORDER BY year"); err != nil {
		return nil, errors.Wrap(err, "selecting cohorts")
	}
	years := make([]int, 0, len(rows))
	for _, r := range rows {
		years = append(years, r.Year)
	}
	return years, nil
}

type (
	studentRow struct {
		ID           string  `db:"id"`
		RollNo       string  `db:"roll_no"`
		Email        string  `db:"email"`
		Name         string  `db:"name"`
		Branch       string  `db:"branch"`
		Section      string  `db:"section"`
		Semester     int     `db:"semester"`
		TotalScore   float64 `db:"total_score"`
		PasswordHash string  `db:"password_hash"`
		CreatedAt    int64   `db:"created_at"`
		UpdatedAt    int64   `db:"updated_at"`
	}

	attemptRow struct {
		ID          string      `db:"id"`
		StudentID   string      `db:"student_id"`
		TestID      string      `db:"test_id"`
		Status      string      `db:"status"`
		MarksJSON   null.String `db:"marks_json"`
		Score       float64     `db:"score"`
		Absent      bool        `db:"absent"`
		AssignedAt  int64       `db:"assigned_at"`
		StartedAt   null.Int64  `db:"started_at"`
		SubmittedAt null.Int64  `db:"submitted_at"`
	}
)

const (
	studentColumns = "id, roll_no, email, name, branch, section, semester, total_score, password_hash, created_at, updated_at"
	attemptColumns = "id, student_id, test_id, status, marks_json, score, absent, assigned_at, started_at, submitted_at"
)

func (r studentRow) toStudent(year int) student.Student {
	return student.Student{
		ID:           r.ID,
		RollNo:       r.RollNo,
		Email:        r.Email,
		Name:         r.Name,
		Branch:       r.Branch,
		Section:      r.Section,
		Semester:     r.Semester,
		Year:         year,
		TotalScore:   r.TotalScore,
		Tests:        []student.AssignedTest{},
		PasswordHash: []byte(r.PasswordHash),
		CreatedAt:    fromMillis(r.CreatedAt),
		UpdatedAt:    fromMillis(r.UpdatedAt),
	}
}

func decodeMarks(raw null.String) (map[string]float64, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var marks map[string]float64
	if err := json.Unmarshal([]byte(raw.String), &marks); err != nil {
		return nil, errors.Wrap(err, "decoding marks")
	}
	return marks, nil
}

func (r attemptRow) toAttempt() (student.AssignedTest, error) {
	marks, err := decodeMarks(r.MarksJSON)
	if err != nil {
		return student.AssignedTest{}, err
	}
	return student.AssignedTest{
		ID:          r.ID,
		StudentID:   r.StudentID,
		TestID:      r.TestID,
		Status:      student.Status(r.Status),
		Marks:       marks,
		Score:       r.Score,
		Absent:      r.Absent,
		AssignedAt:  fromMillis(r.AssignedAt),
		StartedAt:   timePtr(r.StartedAt),
		SubmittedAt: timePtr(r.SubmittedAt),
	}, nil
}

// cohortStore reads and writes the tables of a single cohort.
type cohortStore struct {
	exec     core.DBExecutor
	flavor   flavor
	year     int
	students string
	attempts string
}

var _ student.Store = (*cohortStore)(nil) // interface compliance check

func newCohortStore(exec core.DBExecutor, f flavor, year int) *cohortStore {
	return &cohortStore{
		exec:     exec,
		flavor:   f,
		year:     year,
		students: fmt.Sprintf("students_%d", year),
		attempts: fmt.Sprintf("student_tests_%d", year),
	}
}

func (s *cohortStore) Year() int {
	return s.year
}

func (s *cohortStore) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	return getExec(s.exec, svcExec)
}

// q replaces {students} and {attempts} with the cohort's tables and rebinds the query.
func (s *cohortStore) q(query string) string {
	r := strings.NewReplacer("{students}", s.students, "{attempts}", s.attempts)
	return s.flavor.rebind(r.Replace(query))
}

func (s *cohortStore) CreateStudent(ctx context.Context, st student.Student, exec ...core.DBExecutor) (student.Student, error) {
	st.ID = uuid.New().String()
	st.Year = s.year
	if st.Tests == nil {
		st.Tests = []student.AssignedTest{}
	}

	q := s.q("INSERT INTO {students} (" + studentColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	_, err := s.getExec(exec).ExecContext(ctx, q,
		st.ID, st.RollNo, st.Email, st.Name, st.Branch, st.Section, st.Semester, st.TotalScore,
		string(st.PasswordHash), toMillis(st.CreatedAt), toMillis(st.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return student.Student{}, student.ErrStudentExists
		}
		return student.Student{}, errors.Wrap(err, "inserting student")
	}
	return st, nil
}

func (s *cohortStore) GetStudent(ctx context.Context, filter student.GetFilter, exec ...core.DBExecutor) (student.Student, error) {
	ex := s.getExec(exec)

	query := "SELECT " + studentColumns + " FROM {students} WHERE "
	var arg string
	switch {
	case filter.ID != "":
		query += "id = ?"
		arg = filter.ID
	case filter.RollNo != "":
		query += "roll_no = ?"
		arg = filter.RollNo
	case filter.Email != "":
		query += "email = ?"
		arg = filter.Email
	default:
		return student.Student{}, student.ErrNotFound
	}

	var rows []studentRow
	if err := selectAll(ctx, ex, &rows, s.q(query), arg); err != nil {
		return student.Student{}, errors.Wrap(err, "selecting student")
	}
	if len(rows) == 0 {
		return student.Student{}, student.ErrNotFound
	}
	students, err := s.withAttempts(ctx, ex, rows)
	if err != nil {
		return student.Student{}, err
	}
	return students[0], nil
}

func (s *cohortStore) QueryStudents(ctx context.Context, filter *student.QueryFilter, exec ...core.DBExecutor) ([]student.Student, error) {
	ex := s.getExec(exec)

	where, args := s.groupFilter(filter)
	query := "SELECT " + studentColumns + " FROM {students}" + where + " ORDER BY roll_no"

	var rows []studentRow
	if err := selectAll(ctx, ex, &rows, s.q(query), args...); err != nil {
		return nil, errors.Wrap(err, "selecting students")
	}
	return s.withAttempts(ctx, ex, rows)
}

// groupFilter matches branch and section case-insensitively.
func (s *cohortStore) groupFilter(filter *student.QueryFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}
	var (
		conds []string
		args  []interface{}
	)
	if filter.Branch != "" {
		conds = append(conds, "LOWER(branch) = LOWER(?)")
		args = append(args, filter.Branch)
	}
	if filter.Section != "" {
		conds = append(conds, "LOWER(section) = LOWER(?)")
		args = append(args, filter.Section)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *cohortStore) withAttempts(ctx context.Context, ex core.DBExecutor, rows []studentRow) ([]student.Student, error) {
	students := make([]student.Student, 0, len(rows))
	if len(rows) == 0 {
		return students, nil
	}
	ids := make([]string, 0, len(rows))
	index := make(map[string]int, len(rows)) // {studentID: position in students}
	for i, r := range rows {
		ids = append(ids, r.ID)
		index[r.ID] = i
		students = append(students, r.toStudent(s.year))
	}

	query, args, err := s.flavor.in(
		strings.Replace("SELECT "+attemptColumns+" FROM {attempts} WHERE student_id IN (?) ORDER BY assigned_at, id", "{attempts}", s.attempts, 1),
		ids)
	if err != nil {
		return nil, errors.Wrap(err, "building attempts query")
	}
	var aRows []attemptRow
	if err = selectAll(ctx, ex, &aRows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting attempts")
	}
	for _, r := range aRows {
		a, err := r.toAttempt()
		if err != nil {
			return nil, err
		}
		i := index[r.StudentID]
		students[i].Tests = append(students[i].Tests, a)
	}
	return students, nil
}

func (s *cohortStore) SetPassword(ctx context.Context, studentID string, hash []byte, exec ...core.DBExecutor) error {
	q := s.q("UPDATE {students} SET password_hash = ?, updated_at = ? WHERE id = ?")
	res, err := s.getExec(exec).ExecContext(ctx, q, string(hash), toMillis(core.Now()), studentID)
	if err != nil {
		return errors.Wrap(err, "updating password")
	}
	if n, err := rowsAffected(res); err != nil {
		return err
	} else if n == 0 {
		return student.ErrNotFound
	}
	return nil
}

func (s *cohortStore) AssignTest(ctx context.Context, studentID, testID string, at time.Time, exec ...core.DBExecutor) (bool, error) {
	q := s.q(`INSERT INTO {attempts} (id, student_id, test_id, status, score, absent, assigned_at)
		SELECT ?, st.id, ?, ?, 0, FALSE, CAST(? AS BIGINT) FROM {students} st WHERE st.id = ?
		ON CONFLICT (student_id, test_id) DO NOTHING`)
	res, err := s.getExec(exec).ExecContext(ctx, q,
		uuid.New().String(), testID, string(student.StatusPending), toMillis(at), studentID)
	if err != nil {
		return false, errors.Wrap(err, "inserting attempt")
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

func (s *cohortStore) GetAttempt(ctx context.Context, studentID, testID string, forUpdate bool, exec ...core.DBExecutor) (student.AssignedTest, error) {
	query := "SELECT " + attemptColumns + " FROM {attempts} WHERE student_id = ? AND test_id = ?"
	if forUpdate {
		query += s.flavor.forUpdate
	}
	var rows []attemptRow
	if err := selectAll(ctx, s.getExec(exec), &rows, s.q(query), studentID, testID); err != nil {
		return student.AssignedTest{}, errors.Wrap(err, "selecting attempt")
	}
	if len(rows) == 0 {
		return student.AssignedTest{}, student.ErrNotAssigned
	}
	return rows[0].toAttempt()
}

func (s *cohortStore) StartAttempt(ctx context.Context, studentID, testID string, at time.Time, exec ...core.DBExecutor) (bool, error) {
	q := s.q("UPDATE {attempts} SET status = ?, started_at = ? WHERE student_id = ? AND test_id = ? AND status = ?")
	res, err := s.getExec(exec).ExecContext(ctx, q,
		string(student.StatusInProgress), toMillis(at), studentID, testID, string(student.StatusPending))
	if err != nil {
		return false, errors.Wrap(err, "updating attempt")
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

func (s *cohortStore) CompleteAttempt(ctx context.Context, attemptID string, out student.Outcome, at time.Time, exec ...core.DBExecutor) error {
	marks, err := json.Marshal(out.Marks())
	if err != nil {
		return errors.Wrap(err, "encoding marks")
	}
	q := s.q("UPDATE {attempts} SET status = ?, marks_json = ?, score = ?, absent = ?, submitted_at = ? WHERE id = ?")
	res, err := s.getExec(exec).ExecContext(ctx, q,
		string(student.StatusCompleted), string(marks), out.Score(), out.Absent, toMillis(at), attemptID)
	if err != nil {
		return errors.Wrap(err, "updating attempt")
	}
	if n, err := rowsAffected(res); err != nil {
		return err
	} else if n == 0 {
		return student.ErrNotAssigned
	}
	return nil
}

func (s *cohortStore) AddToTotal(ctx context.Context, studentID string, delta float64, at time.Time, exec ...core.DBExecutor) error {
	q := s.q("UPDATE {students} SET total_score = total_score + ?, updated_at = ? WHERE id = ?")
	res, err := s.getExec(exec).ExecContext(ctx, q, delta, toMillis(at), studentID)
	if err != nil {
		return errors.Wrap(err, "updating total score")
	}
	if n, err := rowsAffected(res); err != nil {
		return err
	} else if n == 0 {
		return student.ErrNotFound
	}
	return nil
}

func (s *cohortStore) ExpirePending(ctx context.Context, testID string, at time.Time, exec ...core.DBExecutor) ([]string, error) {
	marks, err := json.Marshal(student.AbsentOutcome().Marks())
	if err != nil {
		return nil, errors.Wrap(err, "encoding marks")
	}
	q := s.q(`UPDATE {attempts} SET status = ?, marks_json = ?, score = 0, absent = TRUE, submitted_at = ?
		WHERE test_id = ? AND status = ? RETURNING student_id`)

	var rows []struct {
		StudentID string `db:"student_id"`
	}
	err = selectAll(ctx, s.getExec(exec), &rows, q,
		string(student.StatusCompleted), string(marks), toMillis(at), testID, string(student.StatusPending))
	if err != nil {
		return nil, errors.Wrap(err, "expiring attempts")
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.StudentID)
	}
	return ids, nil
}

func (s *cohortStore) CountedAttempts(ctx context.Context, testID string, exec ...core.DBExecutor) ([]student.RankEntry, error) {
	q := s.q(`SELECT a.student_id, st.roll_no, st.name, a.score, a.marks_json, a.submitted_at
		FROM {attempts} a JOIN {students} st ON st.id = a.student_id
		WHERE a.test_id = ? AND a.status = ? AND NOT a.absent
		ORDER BY a.submitted_at, st.roll_no`)

	var rows []struct {
		StudentID   string      `db:"student_id"`
		RollNo      string      `db:"roll_no"`
		Name        string      `db:"name"`
		Score       float64     `db:"score"`
		MarksJSON   null.String `db:"marks_json"`
		SubmittedAt null.Int64  `db:"submitted_at"`
	}
	if err := selectAll(ctx, s.getExec(exec), &rows, q, testID, string(student.StatusCompleted)); err != nil {
		return nil, errors.Wrap(err, "selecting attempts")
	}
	entries := make([]student.RankEntry, 0, len(rows))
	for _, r := range rows {
		marks, err := decodeMarks(r.MarksJSON)
		if err != nil {
			return nil, err
		}
		entries = append(entries, student.RankEntry{
			StudentID:   r.StudentID,
			RollNo:      r.RollNo,
			Name:        r.Name,
			Score:       r.Score,
			Marks:       marks,
			SubmittedAt: timePtr(r.SubmittedAt),
		})
	}
	return entries, nil
}

// countedSum is the sum of a student's counted attempt scores, correlated on st.id.
const countedSum = `COALESCE((SELECT SUM(a.score) FROM {attempts} a
	WHERE a.student_id = st.id AND a.status = 'completed' AND NOT a.absent), 0)`

func (s *cohortStore) LeaderboardCandidates(ctx context.Context, filter *student.QueryFilter, exec ...core.DBExecutor) ([]student.LeaderboardEntry, error) {
	where, args := s.groupFilter(filter)
	q := s.q(`SELECT st.id, st.roll_no, st.name, st.branch, st.section, st.total_score,
		(SELECT COUNT(*) FROM {attempts} a WHERE a.student_id = st.id AND a.status = 'completed' AND NOT a.absent) AS tests_completed
		FROM {students} st` + where + ` ORDER BY st.roll_no`)

	var rows []struct {
		ID             string  `db:"id"`
		RollNo         string  `db:"roll_no"`
		Name           string  `db:"name"`
		Branch         string  `db:"branch"`
		Section        string  `db:"section"`
		TotalScore     float64 `db:"total_score"`
		TestsCompleted int     `db:"tests_completed"`
	}
	if err := selectAll(ctx, s.getExec(exec), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting leaderboard candidates")
	}
	entries := make([]student.LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, student.LeaderboardEntry{
			StudentID:      r.ID,
			RollNo:         r.RollNo,
			Name:           r.Name,
			Branch:         r.Branch,
			Section:        r.Section,
			Year:           s.year,
			TotalScore:     r.TotalScore,
			TestsCompleted: r.TestsCompleted,
		})
	}
	return entries, nil
}

func (s *cohortStore) TotalMismatches(ctx context.Context, exec ...core.DBExecutor) ([]student.TotalMismatch, error) {
	q := s.q("SELECT st.id, st.roll_no, st.total_score, " + countedSum + " AS expected FROM {students} st ORDER BY st.roll_no")

	var rows []struct {
		ID         string  `db:"id"`
		RollNo     string  `db:"roll_no"`
		TotalScore float64 `db:"total_score"`
		Expected   float64 `db:"expected"`
	}
	if err := selectAll(ctx, s.getExec(exec), &rows, q); err != nil {
		return nil, errors.Wrap(err, "selecting totals")
	}
	mismatches := make([]student.TotalMismatch, 0)
	for _, r := range rows {
		if math.Abs(r.TotalScore-r.Expected) > scoreEpsilon {
			mismatches = append(mismatches, student.TotalMismatch{
				StudentID: r.ID,
				RollNo:    r.RollNo,
				Year:      s.year,
				Stored:    r.TotalScore,
				Expected:  r.Expected,
			})
		}
	}
	return mismatches, nil
}

func (s *cohortStore) RecomputeTotals(ctx context.Context, at time.Time, exec ...core.DBExecutor) error {
	// the UPDATE target cannot be aliased on sqlite, so the correlation names the table
	sum := strings.Replace(countedSum, "st.id", s.students+".id", 1)
	q := s.q("UPDATE {students} SET total_score = " + sum + ", updated_at = ?")
	_, err := s.getExec(exec).ExecContext(ctx, q, toMillis(at))
	return errors.Wrap(err, "recomputing totals")
}
