package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/admin"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/student"
	emailsvc "github.com/trezcool/mtihani/services/email"
	"github.com/trezcool/mtihani/storage/database"
	"github.com/trezcool/mtihani/storage/database/sqlxrepos"
	testutil "github.com/trezcool/mtihani/tests"
)

type cliEnv struct {
	cli       *commandLine
	out       *bytes.Buffer
	adminRepo admin.Repository
	examRepo  exam.Repository
	cohorts   student.Cohorts
}

func setup(t *testing.T) cliEnv {
	db := testutil.PrepareDB(t)
	conf := testutil.NewConfig()
	logger := testutil.NewLogger()
	validate, _ := testutil.NewValidator()

	e := cliEnv{
		out:       new(bytes.Buffer),
		adminRepo: sqlxrepos.NewAdminRepository(db, database.SQLite),
		examRepo:  sqlxrepos.NewExamRepository(db, database.SQLite),
		cohorts:   sqlxrepos.NewCohortRegistry(db, database.SQLite),
	}
	mail := emailsvc.NewConsoleServiceMock(logger, conf)
	e.cli = &commandLine{
		db:         db,
		dialect:    database.SQLite,
		adminSvc:   admin.NewService(e.adminRepo, validate, logger),
		studentSvc: student.NewService(db, e.cohorts, exam.NewLiveness(e.examRepo), mail, nil, validate, logger, conf),
		out:        e.out,
	}
	return e
}

// withPassword makes the password prompt answer pwd.
func withPassword(t *testing.T, pwd string) {
	orig := readPasswordFunc
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	e := setup(t)

	orig := gooseRunFunc
	t.Cleanup(func() { gooseRunFunc = orig })
	gooseRunFunc = func(db *sql.DB, dialect database.Dialect, command string, args ...string) error {
		if dialect != database.SQLite {
			return fmt.Errorf("unexpected dialect %v", dialect)
		}
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "attempts_index", "sql"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, e.cli.run(append([]string{"admin"}, tt.args...)))
		})
	}
}

func Test_commandLine_migrateStatus(t *testing.T) {
	e := setup(t)
	assert.NoError(t, e.cli.run([]string{"admin", "migrate", "status"}), "runs against the real migrations")
}

func Test_commandLine_addUser(t *testing.T) {
	e := setup(t)
	testutil.CreateAdmin(t, e.adminRepo, "principal", admin.RolePrincipal)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no username", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "hod_cse"}, wantErr: errHelp},
		{name: "duplicate", args: []string{"adduser", "-username", "principal"}, extra: extra{pwd: testutil.DefaultPassword}, wantErr: admin.ErrAdminExists},
		{name: "short password", args: []string{"adduser", "-username", "hod_cse", "-role", "hod"}, extra: extra{pwd: "short"}, wantErrStr: "password"},
		{name: "hod", args: []string{"adduser", "-username", "hod_cse", "-role", "hod"}, extra: extra{pwd: testutil.DefaultPassword}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pwd := ""
			if x, ok := tt.extra.(extra); ok {
				pwd = x.pwd
			}
			withPassword(t, pwd)
			err := e.cli.run(append([]string{"admin"}, tt.args...))
			if tt.wantErrStr != "" {
				var verrs validator.ValidationErrors
				if assert.True(t, errors.As(err, &verrs), "got %v", err) {
					assert.Equal(t, tt.wantErrStr, verrs[0].Field())
				}
				return
			}
			tt.check(t, err)
		})
	}

	adm, err := e.adminRepo.GetAdmin(context.Background(), admin.GetFilter{Username: "hod_cse"})
	require.NoError(t, err)
	assert.Equal(t, admin.RoleHOD, adm.Role)
	assert.NoError(t, adm.CheckPassword(testutil.DefaultPassword))
	assert.Contains(t, e.out.String(), `created hod "hod_cse"`)
}

func Test_commandLine_resetPassword(t *testing.T) {
	e := setup(t)
	adm := testutil.CreateAdmin(t, e.adminRepo, "principal", admin.RolePrincipal)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "admin not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "n3w-passw0rd"}, wantErr: admin.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "-username", adm.Username}, extra: extra{pwd: "n3w-passw0rd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pwd := ""
			if x, ok := tt.extra.(extra); ok {
				pwd = x.pwd
			}
			withPassword(t, pwd)
			tt.check(t, e.cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	refreshed, err := e.adminRepo.GetAdmin(context.Background(), admin.GetFilter{ID: adm.ID})
	require.NoError(t, err)
	assert.NoError(t, refreshed.CheckPassword("n3w-passw0rd"))
}

// scored creates a student of year with marks on a live test.
func (e cliEnv) scored(t *testing.T, test exam.Test, year int, rollNo string, marks float64) student.Student {
	t.Helper()
	ctx := context.Background()
	s := testutil.CreateStudent(t, e.cohorts, year, rollNo, "Student "+rollNo, "")
	_, err := e.cli.studentSvc.Assign(ctx, year, s.ID, test.ID)
	require.NoError(t, err)
	_, err = e.cli.studentSvc.SubmitMarks(ctx, year, s.ID, test.ID, map[string]float64{"Coding": marks})
	require.NoError(t, err)
	return s
}

func Test_commandLine_reconcile(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	live := testutil.MakeLive(t, e.examRepo, testutil.CreateTest(t, e.examRepo, "Mock 1"), core.Now())
	s := e.scored(t, live, 2024, "cs01", 6)

	require.NoError(t, e.cli.run([]string{"admin", "reconcile"}))
	assert.Contains(t, e.out.String(), "all totals are consistent")

	store, err := e.cohorts.Cohort(ctx, 2024)
	require.NoError(t, err)
	require.NoError(t, store.AddToTotal(ctx, s.ID, 4, core.Now()))

	e.out.Reset()
	require.NoError(t, e.cli.run([]string{"admin", "reconcile", "-year", "2024", "-dry"}))
	assert.Contains(t, e.out.String(), "cs01")
	assert.Contains(t, e.out.String(), "1 total(s) out of sync")

	got, err := e.cli.studentSvc.GetByID(ctx, 2024, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.TotalScore, "dry run leaves totals alone")

	e.out.Reset()
	require.NoError(t, e.cli.run([]string{"admin", "reconcile"}))
	assert.Contains(t, e.out.String(), "1 total(s) fixed")

	got, err = e.cli.studentSvc.GetByID(ctx, 2024, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 6.0, got.TotalScore)
}

func Test_commandLine_leaderboard(t *testing.T) {
	e := setup(t)

	require.NoError(t, e.cli.run([]string{"admin", "leaderboard"}))
	assert.Contains(t, e.out.String(), "no ranked students yet")

	live := testutil.MakeLive(t, e.examRepo, testutil.CreateTest(t, e.examRepo, "Mock 1"), core.Now())
	e.scored(t, live, 2023, "a23", 9)
	e.scored(t, live, 2024, "b24", 12)

	e.out.Reset()
	require.NoError(t, e.cli.run([]string{"admin", "leaderboard"}))
	out := e.out.String()
	assert.Contains(t, out, "b24")
	assert.Contains(t, out, "a23")
	assert.Less(t, bytes.Index(e.out.Bytes(), []byte("b24")), bytes.Index(e.out.Bytes(), []byte("a23")))

	e.out.Reset()
	require.NoError(t, e.cli.run([]string{"admin", "leaderboard", "-year", "2023"}))
	assert.Contains(t, e.out.String(), "a23")
	assert.NotContains(t, e.out.String(), "b24")

	err := e.cli.run([]string{"admin", "leaderboard", "-limit", "101"})
	assert.Equal(t, student.ErrInvalidLimit, errors.Cause(err))
}
