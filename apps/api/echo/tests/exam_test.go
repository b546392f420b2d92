package tests

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/admin"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/scheduler"
	"github.com/trezcool/mtihani/core/student"
	testutil "github.com/trezcool/mtihani/tests"
)

func newTestBody(t *testing.T, name string) []byte {
	return marchallObj(t, exam.NewTest{
		Name: name,
		Categories: []exam.NewCategory{
			{
				Name: "coding",
				Questions: []exam.NewQuestion{
					{Text: "1 + 1?", Options: []string{"1", "2", "3", "4"}, CorrectAnswer: "2"},
					{Text: "2 * 3?", Options: []string{"5", "6", "7", "8"}, CorrectAnswer: "6"},
				},
			},
			{
				Name:          "Verbal",
				QuestionsText: "Opposite of hot?\n(cold)\n(warm)\n(dry)\n(wet)\n[cold]",
			},
		},
	})
}

func Test_testApi_create(t *testing.T) {
	env := setup(t)
	admTok := adminToken(t, env.conf, testutil.CreateAdmin(t, env.adminRepo, "principal", admin.RolePrincipal))
	studTok := studentToken(t, env.conf, testutil.CreateStudent(t, env.cohorts, 2024, "cs01", "Amani", ""))

	tests := []httpTest{
		{name: "anonymous", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "student", token: studTok, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/v1/tests", tt.token, newTestBody(t, "Mock1"))
			checkCodeAndData(t, tt, rec)
		})
	}

	rec := env.do(http.MethodPost, "/v1/tests", admTok, newTestBody(t, "Mock1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var test exam.Test
	unmarchall(t, rec, &test)
	assert.Equal(t, exam.StatusOffline, test.Status)
	require.Len(t, test.Categories, 2)
	assert.Equal(t, "Coding", test.Categories[0].Name)
	assert.Equal(t, 3, test.QuestionCount())

	rec = env.do(http.MethodPost, "/v1/tests", admTok, newTestBody(t, "Mock1"))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusConflict,
		wantData: marchallObj(t, echoapi.ErrorResponse{Error: exam.ErrTestExists.Msg, Kind: "conflict"}),
	}, rec)

	rec = env.do(http.MethodPost, "/v1/tests", admTok, marchallObj(t, exam.NewTest{Name: " "}))
	checkKind(t, rec, http.StatusBadRequest, core.KindValidation)

	rec = env.do(http.MethodGet, "/v1/tests/"+test.ID, admTok)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, test)}, rec)

	rec = env.do(http.MethodGet, "/v1/tests/unknown", admTok)
	checkKind(t, rec, http.StatusNotFound, core.KindNotFound)
}

func Test_testApi_manage(t *testing.T) {
	env := setup(t)
	admTok := adminToken(t, env.conf, testutil.CreateAdmin(t, env.adminRepo, "principal", admin.RolePrincipal))
	test := testutil.CreateTest(t, env.examRepo, "Mock1", testutil.NewCategory("Coding", 1))
	catID := test.Categories[0].ID
	base := "/v1/tests/" + test.ID

	rec := env.do(http.MethodPut, base, admTok, marchallObj(t, exam.UpdateTest{Name: "Final"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, base+"/categories", admTok, marchallObj(t, exam.NewCategory{Name: "Aptitude"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(http.MethodPost, base+"/categories", admTok, marchallObj(t, exam.NewCategory{Name: "Art"}))
	checkKind(t, rec, http.StatusBadRequest, core.KindValidation)
	rec = env.do(http.MethodPost, base+"/categories", admTok, marchallObj(t, exam.NewCategory{Name: "aptitude"}))
	checkKind(t, rec, http.StatusConflict, core.KindConflict)

	nq := exam.NewQuestion{Text: "3 - 1?", Options: []string{"1", "2", "3", "4"}, CorrectAnswer: "2"}
	rec = env.do(http.MethodPost, base+"/categories/"+catID+"/questions", admTok, marchallObj(t, nq))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var q exam.Question
	unmarchall(t, rec, &q)

	nq.CorrectAnswer = "5"
	rec = env.do(http.MethodPut, base+"/categories/"+catID+"/questions/"+q.ID, admTok, marchallObj(t, nq))
	checkKind(t, rec, http.StatusBadRequest, core.KindValidation)

	rec = env.do(http.MethodDelete, base+"/categories/"+catID+"/questions/"+q.ID, admTok)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(http.MethodDelete, base+"/categories/"+catID, admTok)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(http.MethodDelete, base+"/categories/"+catID, admTok)
	checkKind(t, rec, http.StatusNotFound, core.KindNotFound)

	rec = env.do(http.MethodGet, "/v1/tests?status=offline", admTok)
	require.Equal(t, http.StatusOK, rec.Code)
	var tests []exam.Test
	unmarchall(t, rec, &tests)
	require.Len(t, tests, 1)
	assert.Equal(t, "Final", tests[0].Name)
	require.Len(t, tests[0].Categories, 1)
	assert.Equal(t, "Aptitude", tests[0].Categories[0].Name)

	rec = env.do(http.MethodGet, "/v1/tests?status=archived", admTok)
	checkKind(t, rec, http.StatusBadRequest, core.KindValidation)

	rec = env.do(http.MethodDelete, base, admTok)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(http.MethodDelete, base, admTok)
	checkKind(t, rec, http.StatusNotFound, core.KindNotFound)
}

// Test_examLifecycle walks a test from creation to ranking.
func Test_examLifecycle(t *testing.T) {
	env := setup(t)
	admTok := adminToken(t, env.conf, testutil.CreateAdmin(t, env.adminRepo, "principal", admin.RolePrincipal))
	amani := testutil.CreateStudent(t, env.cohorts, 2024, "cs01", "Amani", "amani@test.ac")
	baraka := testutil.CreateStudent(t, env.cohorts, 2024, "cs02", "Baraka", "")
	amaniTok := studentToken(t, env.conf, amani)

	rec := env.do(http.MethodPost, "/v1/tests", admTok, newTestBody(t, "Mock1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var test exam.Test
	unmarchall(t, rec, &test)
	base := "/v1/tests/" + test.ID

	// offline tests cannot be assigned
	assign := marchallObj(t, echoapi.AssignRequest{Year: 2024, StudentID: amani.ID})
	rec = env.do(http.MethodPost, base+"/assign", admTok, assign)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, echoapi.ErrorResponse{Error: exam.ErrNotLive.Msg, Kind: "invalid_state"}),
	}, rec)

	rec = env.do(http.MethodPut, base+"/status", admTok, marchallObj(t, echoapi.StatusRequest{Status: exam.StatusLive}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarchall(t, rec, &test)
	require.NotNil(t, test.LiveAt)

	rec = env.do(http.MethodGet, "/v1/scheduler/timers", admTok)
	require.Equal(t, http.StatusOK, rec.Code)
	var timers []scheduler.Timer
	unmarchall(t, rec, &timers)
	require.Len(t, timers, 1)
	assert.Equal(t, test.ID, timers[0].TestID)
	assert.Equal(t, test.LiveAt.Add(env.conf.Exam.LiveWindow).Unix(), timers[0].Deadline.Unix())

	rec = env.do(http.MethodPost, base+"/assign", admTok, assign)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(http.MethodPost, base+"/assign", admTok, assign)
	checkKind(t, rec, http.StatusConflict, core.KindConflict)
	rec = env.do(http.MethodPost, base+"/assign", admTok,
		marchallObj(t, echoapi.AssignRequest{Year: 2024, StudentIDs: []string{amani.ID, baraka.ID}}))
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.AssignResponse{Assigned: 1})}, rec)
	rec = env.do(http.MethodPost, base+"/assign", admTok, marchallObj(t, echoapi.AssignRequest{Year: 2024}))
	checkKind(t, rec, http.StatusBadRequest, core.KindValidation)

	// students never see the answer key
	rec = env.do(http.MethodGet, "/v1/tests/live", amaniTok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "correct_answer")
	var live []exam.Test
	unmarchall(t, rec, &live)
	require.Len(t, live, 1)

	rec = env.do(http.MethodGet, "/v1/tests/random/Mock1/CODING", amaniTok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "correct_answer")
	var questions []exam.Question
	unmarchall(t, rec, &questions)
	assert.Len(t, questions, 2)

	rec = env.do(http.MethodGet, "/v1/tests/random/Mock1/Reasoning", amaniTok)
	checkKind(t, rec, http.StatusNotFound, core.KindNotFound)

	// answering
	rec = env.do(http.MethodPost, base+"/start", amaniTok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var attempt student.AssignedTest
	unmarchall(t, rec, &attempt)
	assert.Equal(t, student.StatusInProgress, attempt.Status)

	rec = env.do(http.MethodPost, base+"/start", amaniTok)
	checkKind(t, rec, http.StatusBadRequest, core.KindInvalidState)

	coding, verbal := test.Categories[0].Questions, test.Categories[1].Questions
	answers := echoapi.AnswersRequest{Answers: map[string]string{
		coding[0].ID: "2",
		coding[1].ID: "7",
		verbal[0].ID: "cold",
	}}
	rec = env.do(http.MethodPost, base+"/answers", amaniTok, marchallObj(t, answers))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarchall(t, rec, &attempt)
	assert.Equal(t, student.StatusCompleted, attempt.Status)
	assert.Equal(t, 2.0, attempt.Score)

	rec = env.do(http.MethodPost, base+"/answers", amaniTok, marchallObj(t, answers))
	checkKind(t, rec, http.StatusBadRequest, core.KindInvalidState)

	// admin marks
	rec = env.do(http.MethodPost, base+"/submit", admTok, marchallObj(t, echoapi.MarksRequest{
		Year: 2024, StudentID: baraka.ID, Marks: map[string]float64{"Coding": 1},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(http.MethodPost, base+"/submit", admTok, marchallObj(t, echoapi.MarksRequest{
		Year: 2024, StudentID: baraka.ID, Marks: map[string]float64{"Coding": -1},
	}))
	checkKind(t, rec, http.StatusBadRequest, core.KindValidation)

	// rankings
	rec = env.do(http.MethodGet, fmt.Sprintf("%s/ranking?year=%d", base, 2024), admTok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ranking student.TestRanking
	unmarchall(t, rec, &ranking)
	require.Len(t, ranking.Entries, 2)
	assert.Equal(t, amani.ID, ranking.Entries[0].StudentID)
	assert.Equal(t, 66.67, ranking.Entries[0].Percentage)

	rec = env.do(http.MethodGet, base+"/ranking", admTok)
	checkKind(t, rec, http.StatusBadRequest, core.KindValidation)

	rec = env.do(http.MethodGet, "/v1/me/rank/"+test.ID, amaniTok)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusOK,
		wantData: marchallObj(t, student.StudentRank{TestID: test.ID, Rank: 1, Participants: 2, Score: 2, Percentage: 66.67}),
	}, rec)

	rec = env.do(http.MethodGet, "/v1/me", amaniTok)
	require.Equal(t, http.StatusOK, rec.Code)
	var me student.Student
	unmarchall(t, rec, &me)
	assert.Equal(t, 2.0, me.TotalScore)
	require.Len(t, me.Tests, 1)

	rec = env.do(http.MethodGet, "/v1/me", admTok)
	checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)

	// taking the test offline disarms its timer
	rec = env.do(http.MethodPut, base+"/status", admTok, marchallObj(t, echoapi.StatusRequest{Status: exam.StatusOffline}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.sched.ActiveTimers())
}
