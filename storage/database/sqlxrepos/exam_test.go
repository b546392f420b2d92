package sqlxrepos

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/storage/database"
	"github.com/trezcool/mtihani/tests"
)

func newExamRepo(t *testing.T) *examRepository {
	return NewExamRepository(testutil.PrepareDB(t), database.SQLite)
}

func TestExamRepository_CreateTest(t *testing.T) {
	ctx := context.Background()
	repo := newExamRepo(t)

	created := testutil.CreateTest(t, repo, "Mock 1", testutil.NewCategory("Coding", 3), testutil.NewCategory("Verbal", 2))
	require.NotEmpty(t, created.ID)
	require.Len(t, created.Categories, 2)
	for _, c := range created.Categories {
		assert.NotEmpty(t, c.ID)
		for _, q := range c.Questions {
			assert.NotEmpty(t, q.ID)
		}
	}

	got, err := repo.GetTest(ctx, exam.GetFilter{ID: created.ID})
	require.NoError(t, err)
	assert.Equal(t, created, got)

	byName, err := repo.GetTest(ctx, exam.GetFilter{Name: "Mock 1"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)
	assert.Equal(t, 5, byName.QuestionCount())
	assert.Equal(t, "Coding", byName.Categories[0].Name, "categories keep their insertion order")
	assert.Equal(t, "Coding question 1?", byName.Categories[0].Questions[0].Text)

	_, err = repo.CreateTest(ctx, exam.Test{Name: "Mock 1", Status: exam.StatusOffline})
	assert.Equal(t, exam.ErrTestExists, errors.Cause(err))

	_, err = repo.GetTest(ctx, exam.GetFilter{ID: "unknown"})
	assert.Equal(t, exam.ErrNotFound, errors.Cause(err))
	_, err = repo.GetTest(ctx, exam.GetFilter{})
	assert.Equal(t, exam.ErrNotFound, errors.Cause(err))
}

func TestExamRepository_QueryTests(t *testing.T) {
	ctx := context.Background()
	repo := newExamRepo(t)

	empty, err := repo.QueryTests(ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	t1 := testutil.CreateTest(t, repo, "Mock 1", testutil.NewCategory("Coding", 1))
	t2 := testutil.CreateTest(t, repo, "Mock 2")
	liveAt := core.Now()
	testutil.MakeLive(t, repo, t2, liveAt)

	all, err := repo.QueryTests(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	live, err := repo.QueryTests(ctx, &exam.QueryFilter{Status: exam.StatusLive})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, t2.ID, live[0].ID)
	require.NotNil(t, live[0].LiveAt)
	assert.True(t, liveAt.Equal(*live[0].LiveAt))
	assert.NotNil(t, live[0].Categories)

	offline, err := repo.QueryTests(ctx, &exam.QueryFilter{Status: exam.StatusOffline})
	require.NoError(t, err)
	require.Len(t, offline, 1)
	assert.Equal(t, t1.ID, offline[0].ID)
	assert.Nil(t, offline[0].LiveAt)
}

func TestExamRepository_UpdateAndStatus(t *testing.T) {
	ctx := context.Background()
	repo := newExamRepo(t)
	t1 := testutil.CreateTest(t, repo, "Mock 1")
	testutil.CreateTest(t, repo, "Mock 2")

	t1.Name = "Final"
	t1.UpdatedAt = core.Now().Add(time.Minute)
	updated, err := repo.UpdateTest(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, "Final", updated.Name)

	t1.Name = "Mock 2"
	_, err = repo.UpdateTest(ctx, t1)
	assert.Equal(t, exam.ErrTestExists, errors.Cause(err))

	_, err = repo.UpdateTest(ctx, exam.Test{ID: "unknown", Name: "x"})
	assert.Equal(t, exam.ErrNotFound, errors.Cause(err))

	require.NoError(t, repo.SetTestStatus(ctx, t1.ID, exam.StatusOffline, nil))
	got, err := repo.GetTest(ctx, exam.GetFilter{ID: t1.ID})
	require.NoError(t, err)
	assert.Equal(t, exam.StatusOffline, got.Status)
	assert.Nil(t, got.LiveAt)

	assert.Equal(t, exam.ErrNotFound, errors.Cause(repo.SetTestStatus(ctx, "unknown", exam.StatusLive, nil)))
}

func TestExamRepository_ExpireLiveTest(t *testing.T) {
	ctx := context.Background()
	repo := newExamRepo(t)
	liveAt := core.Now()
	stamped := testutil.MakeLive(t, repo, testutil.CreateTest(t, repo, "Mock 1"), liveAt)
	unstamped := testutil.CreateTest(t, repo, "Mock 2")
	require.NoError(t, repo.SetTestStatus(ctx, unstamped.ID, exam.StatusLive, nil))
	offline := testutil.CreateTest(t, repo, "Mock 3")

	tests := []struct {
		name   string
		id     string
		liveAt time.Time
		want   bool
	}{
		{name: "stale window", id: stamped.ID, liveAt: liveAt.Add(-time.Hour), want: false},
		{name: "already offline", id: offline.ID, liveAt: liveAt, want: false},
		{name: "unknown test", id: "unknown", liveAt: liveAt, want: false},
		{name: "current window", id: stamped.ID, liveAt: liveAt, want: true},
		{name: "live without timestamp", id: unstamped.ID, liveAt: liveAt, want: true},
		{name: "twice", id: stamped.ID, liveAt: liveAt, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ExpireLiveTest(ctx, tt.id, tt.liveAt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := repo.GetTest(ctx, exam.GetFilter{ID: stamped.ID})
	require.NoError(t, err)
	assert.Equal(t, exam.StatusOffline, got.Status)
	assert.Nil(t, got.LiveAt)
}

func TestExamRepository_categoriesAndQuestions(t *testing.T) {
	ctx := context.Background()
	repo := newExamRepo(t)
	test := testutil.CreateTest(t, repo, "Mock 1", testutil.NewCategory("Coding", 2))

	cat, err := repo.CreateCategory(ctx, test.ID, testutil.NewCategory("Aptitude", 1))
	require.NoError(t, err)
	_, err = repo.CreateCategory(ctx, test.ID, exam.Category{Name: "Aptitude"})
	assert.Equal(t, exam.ErrCategoryExists, errors.Cause(err))

	q, err := repo.CreateQuestion(ctx, cat.ID, exam.Question{
		Text: "2 + 2?", Options: []string{"3", "4", "5", "6"}, CorrectAnswer: "4",
	})
	require.NoError(t, err)

	q.Text = "2 + 3?"
	q.CorrectAnswer = "5"
	require.NoError(t, repo.UpdateQuestion(ctx, cat.ID, q))
	assert.Equal(t, exam.ErrQuestionNotFound, errors.Cause(repo.UpdateQuestion(ctx, "unknown", q)))

	got, err := repo.GetTest(ctx, exam.GetFilter{ID: test.ID})
	require.NoError(t, err)
	apt, ok := got.Category("aptitude")
	require.True(t, ok)
	require.Len(t, apt.Questions, 2)
	assert.Equal(t, q, apt.Questions[1])

	// rename and replace questions
	cat.Name = "Reasoning"
	cat.Questions = testutil.NewCategory("Reasoning", 3).Questions
	require.NoError(t, repo.UpdateCategory(ctx, test.ID, cat, true))
	got, err = repo.GetTest(ctx, exam.GetFilter{ID: test.ID})
	require.NoError(t, err)
	_, ok = got.Category("Aptitude")
	assert.False(t, ok)
	rsn, ok := got.Category("Reasoning")
	require.True(t, ok)
	assert.Len(t, rsn.Questions, 3)

	cat.Name = "Coding"
	assert.Equal(t, exam.ErrCategoryExists, errors.Cause(repo.UpdateCategory(ctx, test.ID, cat, false)))

	require.NoError(t, repo.DeleteQuestion(ctx, rsn.ID, rsn.Questions[0].ID))
	assert.Equal(t, exam.ErrQuestionNotFound, errors.Cause(repo.DeleteQuestion(ctx, rsn.ID, rsn.Questions[0].ID)))

	require.NoError(t, repo.DeleteCategory(ctx, test.ID, rsn.ID))
	assert.Equal(t, exam.ErrCategoryNotFound, errors.Cause(repo.DeleteCategory(ctx, test.ID, rsn.ID)))

	got, err = repo.GetTest(ctx, exam.GetFilter{ID: test.ID})
	require.NoError(t, err)
	assert.Len(t, got.Categories, 1)
}

func TestExamRepository_DeleteTest(t *testing.T) {
	ctx := context.Background()
	db := testutil.PrepareDB(t)
	repo := NewExamRepository(db, database.SQLite)
	test := testutil.CreateTest(t, repo, "Mock 1", testutil.NewCategory("Coding", 2))

	require.NoError(t, repo.DeleteTest(ctx, test.ID))
	assert.Equal(t, exam.ErrNotFound, errors.Cause(repo.DeleteTest(ctx, test.ID)))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM questions").Scan(&n))
	assert.Zero(t, n, "questions are deleted with their test")
}
