// Package testutil holds the helpers shared by the test suites: a throwaway sqlite database,
// a quiet logger, validators and fixtures.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/admin"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/student"
	logsvc "github.com/trezcool/mtihani/services/logger"
	"github.com/trezcool/mtihani/storage/database"
)

// DefaultPassword is the password of every fixture account.
const DefaultPassword = "Tr1cky-Pa55"

// NewConfig returns the configuration used by tests.
func NewConfig() *core.Config {
	conf := &core.Config{
		Env:       "TEST",
		TestMode:  true,
		AppName:   "mtihani",
		SecretKey: "test-secret",
	}
	conf.DefaultFromEmail.Address = "noreply@mtihani.test"
	conf.Server.SessionTTL = 8 * time.Hour
	conf.Database.Engine = "sqlite"
	conf.Exam.LiveWindow = 3*time.Hour + 30*time.Minute
	conf.Exam.RandomQuestionCount = 20
	conf.Exam.NotifyAbsent = true
	conf.Exam.ExpiryTimeout = time.Minute
	return conf
}

// NewLogger returns a disabled rollbar logger writing to io.Discard.
func NewLogger() core.Logger {
	l := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), NewConfig())
	l.Enable(false)
	return l
}

// NewValidator registers every validator of the app.
func NewValidator() (*validator.Validate, ut.Translator) {
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	exam.InitValidators(validate, translator)
	student.InitValidators(validate, translator)
	return validate, translator
}

// PrepareDB opens a migrated sqlite database that is closed when the test ends.
func PrepareDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "mtihani.db"))
	if err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = database.Migrate(db, database.SQLite); err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	return db
}

// NewCategory returns a category of n questions whose correct answer is always the first option.
func NewCategory(name string, n int) exam.Category {
	cat := exam.Category{Name: name, Questions: make([]exam.Question, 0, n)}
	for i := 1; i <= n; i++ {
		cat.Questions = append(cat.Questions, exam.Question{
			Text:          fmt.Sprintf("%s question %d?", name, i),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: "a",
		})
	}
	return cat
}

func CreateTest(t *testing.T, repo exam.Repository, name string, cats ...exam.Category) exam.Test {
	t.Helper()
	now := core.Now()
	test, err := repo.CreateTest(context.Background(), exam.Test{
		Name:       name,
		Status:     exam.StatusOffline,
		Categories: cats,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("CreateTest() failed: %v", err)
	}
	return test
}

// MakeLive flips the test live at liveAt without arming any timer.
func MakeLive(t *testing.T, repo exam.Repository, test exam.Test, liveAt time.Time) exam.Test {
	t.Helper()
	if err := repo.SetTestStatus(context.Background(), test.ID, exam.StatusLive, &liveAt); err != nil {
		t.Fatalf("MakeLive() failed: %v", err)
	}
	test.Status = exam.StatusLive
	test.LiveAt = &liveAt
	return test
}

func CreateStudent(t *testing.T, cohorts student.Cohorts, year int, rollNo, name, email string) student.Student {
	t.Helper()
	ctx := context.Background()
	store, err := cohorts.StoreFor(ctx, year)
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	now := core.Now()
	s, err := store.CreateStudent(ctx, student.Student{
		RollNo:       rollNo,
		Email:        email,
		Name:         name,
		Branch:       "CSE",
		Section:      "A",
		Semester:     1,
		Year:         year,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return s
}

func CreateAdmin(t *testing.T, repo admin.Repository, username string, role admin.Role) admin.Admin {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("CreateAdmin() failed: %v", err)
	}
	now := core.Now()
	adm, err := repo.CreateAdmin(context.Background(), admin.Admin{
		Username:     username,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("CreateAdmin() failed: %v", err)
	}
	return adm
}
