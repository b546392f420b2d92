package student

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/mtihani/core"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// AbsentKey is the marks key of the sentinel recorded for students who never started a test.
const AbsentKey = "absent"

// AssignedTest is a student's attempt at a test. TestID is a weak reference: the test may be gone.
type AssignedTest struct {
	ID          string             `json:"id"`
	StudentID   string             `json:"student_id"`
	TestID      string             `json:"test_id"`
	Status      Status             `json:"status"`
	Marks       map[string]float64 `json:"marks,omitempty"`
	Score       float64            `json:"score"`
	Absent      bool               `json:"absent"`
	AssignedAt  time.Time          `json:"assigned_at"`  // UTC
	StartedAt   *time.Time         `json:"started_at"`   // UTC
	SubmittedAt *time.Time         `json:"submitted_at"` // UTC
}

// Counted reports whether the attempt contributes to its student's total.
func (a AssignedTest) Counted() bool {
	return a.Status == StatusCompleted && !a.Absent
}

type Student struct {
	ID           string         `json:"id"`
	RollNo       string         `json:"roll_no"`
	Email        string         `json:"email"`
	Name         string         `json:"name"`
	Branch       string         `json:"branch"`
	Section      string         `json:"section"`
	Semester     int            `json:"semester"`
	Year         int            `json:"year"`
	TotalScore   float64        `json:"total_score"`
	Tests        []AssignedTest `json:"tests"`
	PasswordHash []byte         `json:"-"`
	CreatedAt    time.Time      `json:"created_at"` // UTC
	UpdatedAt    time.Time      `json:"updated_at"` // UTC
}

func (s *Student) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.PasswordHash = hash
	return nil
}

func (s *Student) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(s.PasswordHash, []byte(pwd))
}

func (s Student) Attempt(testID string) (AssignedTest, bool) {
	for _, a := range s.Tests {
		if a.TestID == testID {
			return a, true
		}
	}
	return AssignedTest{}, false
}

// NewStudent contains information needed to register a Student.
type NewStudent struct {
	RollNo          string `json:"roll_no" validate:"notblank,max=32,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	Name            string `json:"name" validate:"notblank"`
	Branch          string `json:"branch" validate:"notblank"`
	Section         string `json:"section" validate:"notblank"`
	Semester        int    `json:"semester" validate:"min=1,max=12"`
	Year            int    `json:"year" validate:"cohort"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.RollNo = core.CleanString(ns.RollNo, true /* lower */)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	ns.Name = core.CleanString(ns.Name)
	ns.Branch = core.CleanString(ns.Branch)
	ns.Section = core.CleanString(ns.Section)
	return validate.Struct(ns)
}

type GetFilter struct {
	ID     string
	RollNo string
	Email  string
}

// QueryFilter narrows student listings. An empty Years means every cohort.
type QueryFilter struct {
	Years   []int  `query:"year"`
	Branch  string `query:"branch"`
	Section string `query:"section"`
}

func (qf *QueryFilter) Clean() {
	qf.Branch = core.CleanString(qf.Branch)
	qf.Section = core.CleanString(qf.Section)
}

// ExpiredAttempt identifies a student whose pending attempt was marked absent.
type ExpiredAttempt struct {
	StudentID string
	RollNo    string
	Name      string
	Email     string
	Year      int
}

// TotalMismatch is a student whose stored total differs from the sum of their counted attempts.
type TotalMismatch struct {
	StudentID string  `json:"student_id"`
	RollNo    string  `json:"roll_no"`
	Year      int     `json:"year"`
	Stored    float64 `json:"stored"`
	Expected  float64 `json:"expected"`
}
