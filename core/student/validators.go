package student

import (
	"fmt"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/mtihani/core"
)

const (
	MinCohortYear = 2000
	MaxCohortYear = 2100
)

var (
	cohortTag  = "cohort"
	cohortText = fmt.Sprintf("year must be between %d and %d", MinCohortYear, MaxCohortYear)

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to the roll number, name or email"
)

// InitValidators registers the student validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(cohortTag, cohortValidation)
	core.RegisterCustomTranslation(validate, translator, cohortTag, cohortText)

	validate.RegisterStructValidation(studentStructValidation, NewStudent{}, passwordCheck{})
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
}

func cohortValidation(fl validator.FieldLevel) bool {
	y := fl.Field().Int()
	return y >= MinCohortYear && y <= MaxCohortYear
}

type passwordCheck struct {
	Password string `json:"password" validate:"required"`

	rollNo, name, email string
}

func validatePasswordValue(validate *validator.Validate, pwd, rollNo, name, email string) error {
	return validate.Struct(passwordCheck{Password: pwd, rollNo: rollNo, name: name, email: email})
}

func studentStructValidation(sl validator.StructLevel) {
	switch s := sl.Current().Interface().(type) {
	case NewStudent:
		if s.Password != "" {
			validatePassword(s.Password, s.RollNo, s.Name, s.Email, sl)
		}
	case passwordCheck:
		if s.Password != "" {
			validatePassword(s.Password, s.rollNo, s.name, s.email, sl)
		}
	}
}

// validatePassword applies the password policy:
// - minLen: 8
// - no whitespace
// - not all numeric
// - not similar to the roll number, name or email
func validatePassword(pwd, rollNo, name, email string, sl validator.StructLevel) {
	reportErr := func(tag string) {
		sl.ReportError(pwd, "password", "Password", tag, "")
	}

	runes := []rune(pwd)
	if len(runes) < pwdMinLen {
		reportErr(pwdMinLenTag)
		return
	}
	var digitCount int
	for _, char := range runes {
		if unicode.IsSpace(char) {
			reportErr(pwdNoSpaceTag)
			return
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
	}
	if digitCount == len(runes) {
		reportErr(pwdNotAllNumTag)
		return
	}

	lpwd := strings.ToLower(pwd)
	getRatio := func(attr string) float64 {
		if attr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(lpwd, ""), strings.Split(strings.ToLower(attr), "")).QuickRatio()
	}
	if getRatio(rollNo) >= pwdMaxSim || getRatio(name) >= pwdMaxSim || getRatio(email) >= pwdMaxSim {
		reportErr(pwdAttrSimTag)
	}
}
