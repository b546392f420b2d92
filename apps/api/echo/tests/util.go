package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	echoapi "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/admin"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/scheduler"
	"github.com/trezcool/mtihani/core/student"
	emailsvc "github.com/trezcool/mtihani/services/email"
	"github.com/trezcool/mtihani/storage/database"
	"github.com/trezcool/mtihani/storage/database/sqlxrepos"
	testutil "github.com/trezcool/mtihani/tests"
)

var (
	errMissingToken = echoapi.ErrorResponse{Error: "not authenticated", Kind: "unauthorized"}
	errForbidden    = echoapi.ErrorResponse{Error: "permission denied", Kind: "forbidden"}
)

type apiEnv struct {
	app       echoapi.Server
	conf      *core.Config
	examRepo  exam.Repository
	cohorts   student.Cohorts
	adminRepo admin.Repository
	sched     *scheduler.Scheduler
	mail      *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T) apiEnv {
	// set up DB & repos
	db := testutil.PrepareDB(t)
	env := apiEnv{
		conf:      testutil.NewConfig(),
		examRepo:  sqlxrepos.NewExamRepository(db, database.SQLite),
		cohorts:   sqlxrepos.NewCohortRegistry(db, database.SQLite),
		adminRepo: sqlxrepos.NewAdminRepository(db, database.SQLite),
	}

	// set up services
	logger := testutil.NewLogger()
	validate, translator := testutil.NewValidator()
	env.mail = emailsvc.NewConsoleServiceMock(logger, env.conf)
	liveness := exam.NewLiveness(env.examRepo)
	studentSvc := student.NewService(db, env.cohorts, liveness, env.mail, nil, validate, logger, env.conf)
	env.sched = scheduler.New(liveness, studentSvc, logger, scheduler.WithWindow(env.conf.Exam.LiveWindow))
	t.Cleanup(env.sched.Stop)

	// set up server
	env.app = echoapi.NewServer(
		"",  /* addr */
		nil, /* shutdown */
		&echoapi.Deps{
			ExamSvc:    exam.NewService(db, env.examRepo, env.sched, validate, logger, env.conf),
			StudentSvc: studentSvc,
			AdminSvc:   admin.NewService(env.adminRepo, validate, logger),
			Scheduler:  env.sched,
			Validate:   validate,
			Translator: translator,
			Logger:     logger,
			Conf:       env.conf,
		},
	)
	return env
}

func (env apiEnv) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	env.app.ServeHTTP(rec, req)
	return rec
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func studentToken(t *testing.T, conf *core.Config, s student.Student) string {
	token, err := echoapi.GenerateStudentToken(conf, s)
	if err != nil {
		t.Fatalf("studentToken(): %v", err)
	}
	return token
}

func adminToken(t *testing.T, conf *core.Config, adm admin.Admin) string {
	token, err := echoapi.GenerateAdminToken(conf, adm)
	if err != nil {
		t.Fatalf("adminToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func unmarchall(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarchall(%s): %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// checkKind asserts the status code and error kind of an error reply.
func checkKind(t *testing.T, rec *httptest.ResponseRecorder, wantCode int, wantKind core.Kind) {
	t.Helper()
	if rec.Code != wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, wantCode, rec.Body.String())
	}
	var resp echoapi.ErrorResponse
	unmarchall(t, rec, &resp)
	if resp.Kind != wantKind.String() {
		t.Errorf("failed! kind = %v; wantKind %v", resp.Kind, wantKind)
	}
}
