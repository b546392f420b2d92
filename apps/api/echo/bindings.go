package echoapi

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

type StudentLoginRequest struct {
	Year     int    `json:"year" validate:"cohort"`
	RollNo   string `json:"roll_no" validate:"notblank"`
	Password string `json:"password" validate:"required"`
}

func (lr *StudentLoginRequest) Validate(validate *validator.Validate) error {
	lr.RollNo = core.CleanString(lr.RollNo, true /* lower */)
	return validate.Struct(lr)
}

type AdminLoginRequest struct {
	Username string `json:"username" validate:"notblank"`
	Password string `json:"password" validate:"required"`
}

func (lr *AdminLoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}

type TokenResponse struct {
	Token string `json:"token"`
}

type StatusRequest struct {
	Status exam.Status `json:"status" validate:"oneof=offline live"`
}

// AssignRequest assigns a test to one student, or to many at once.
type AssignRequest struct {
	Year       int      `json:"year" validate:"cohort"`
	StudentID  string   `json:"student_id" validate:"required_without=StudentIDs"`
	StudentIDs []string `json:"student_ids" validate:"required_without=StudentID,dive,notblank"`
}

func (ar *AssignRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(ar)
}

type AssignResponse struct {
	Assigned int `json:"assigned"`
}

// MarksRequest carries category marks given by an administrator.
type MarksRequest struct {
	Year      int                `json:"year" validate:"cohort"`
	StudentID string             `json:"student_id" validate:"notblank"`
	Marks     map[string]float64 `json:"marks" validate:"required,min=1"`
}

func (mr *MarksRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(mr)
}

// AnswersRequest maps question IDs to the chosen option.
type AnswersRequest struct {
	Answers map[string]string `json:"answers" validate:"required"`
}

type YearQuery struct {
	Year int `json:"year" query:"year" validate:"cohort"`
}

type SessionResponse struct {
	Valid  bool   `json:"valid"`
	Claims Claims `json:"claims"`
}
