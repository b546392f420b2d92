package exam

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mtihani/core"
)

var (
	categoryTag  = "category"
	categoryText = "must be one of: " + strings.Join(Categories, ", ")

	answerInOptionsTag  = "answerinoptions"
	answerInOptionsText = "correct answer must be one of the options"
)

// InitValidators registers the question bank validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(categoryTag, categoryValidation)
	core.RegisterCustomTranslation(validate, translator, categoryTag, categoryText)

	validate.RegisterStructValidation(questionStructValidation, NewQuestion{})
	core.RegisterCustomTranslation(validate, translator, answerInOptionsTag, answerInOptionsText)
}

func categoryValidation(fl validator.FieldLevel) bool {
	_, ok := CanonicalCategory(fl.Field().String())
	return ok
}

// questionStructValidation checks that the correct answer is one of the options.
func questionStructValidation(sl validator.StructLevel) {
	q, ok := sl.Current().Interface().(NewQuestion)
	if !ok || q.CorrectAnswer == "" {
		return
	}
	for _, opt := range q.Options {
		if opt == q.CorrectAnswer {
			return
		}
	}
	sl.ReportError(q.CorrectAnswer, "correct_answer", "CorrectAnswer", answerInOptionsTag, "")
}
