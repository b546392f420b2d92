package exam

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mtihani/core"
)

type Status string

const (
	StatusOffline Status = "offline"
	StatusLive    Status = "live"
)

func (s Status) Valid() bool {
	return s == StatusOffline || s == StatusLive
}

// Categories is the fixed set of category names a test may hold, in display order.
var Categories = []string{"Coding", "Aptitude", "Reasoning", "Verbal"}

// CanonicalCategory matches name against Categories case-insensitively.
func CanonicalCategory(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, c := range Categories {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

const OptionCount = 4

type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer,omitempty"`
}

type Category struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

type Test struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	LiveAt     *time.Time `json:"live_at"` // UTC
	Categories []Category `json:"categories"`
	CreatedAt  time.Time  `json:"created_at"` // UTC
	UpdatedAt  time.Time  `json:"updated_at"` // UTC
}

func (t Test) IsLive() bool {
	return t.Status == StatusLive
}

func (t Test) QuestionCount() int {
	var n int
	for _, c := range t.Categories {
		n += len(c.Questions)
	}
	return n
}

func (t Test) Category(name string) (Category, bool) {
	for _, c := range t.Categories {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Category{}, false
}

// Question looks a question up by ID and returns it with the name of its category.
func (t Test) Question(id string) (Question, string, bool) {
	for _, c := range t.Categories {
		for _, q := range c.Questions {
			if q.ID == id {
				return q, c.Name, true
			}
		}
	}
	return Question{}, "", false
}

// Public returns a copy of the test safe to show students: correct answers are stripped.
func (t Test) Public() Test {
	pub := t
	pub.Categories = make([]Category, 0, len(t.Categories))
	for _, c := range t.Categories {
		pc := Category{ID: c.ID, Name: c.Name, Questions: stripAnswers(c.Questions)}
		pub.Categories = append(pub.Categories, pc)
	}
	return pub
}

func stripAnswers(questions []Question) []Question {
	out := make([]Question, 0, len(questions))
	for _, q := range questions {
		q.CorrectAnswer = ""
		q.Options = append([]string(nil), q.Options...)
		out = append(out, q)
	}
	return out
}

// NewQuestion contains information needed to create a new Question.
type NewQuestion struct {
	Text          string   `json:"question" validate:"notblank"`
	Options       []string `json:"options" validate:"len=4,dive,notblank"`
	CorrectAnswer string   `json:"correct_answer" validate:"notblank"`
}

func (nq *NewQuestion) clean() {
	nq.Text = core.CleanString(nq.Text)
	nq.CorrectAnswer = core.CleanString(nq.CorrectAnswer)
	for i := range nq.Options {
		nq.Options[i] = core.CleanString(nq.Options[i])
	}
}

func (nq *NewQuestion) Validate(validate *validator.Validate) error {
	nq.clean()
	return validate.Struct(nq)
}

// NewCategory holds structured questions and/or a raw question source text.
type NewCategory struct {
	Name          string        `json:"name" validate:"category"`
	Questions     []NewQuestion `json:"questions" validate:"dive"`
	QuestionsText string        `json:"questions_text"`
}

// Validate parses QuestionsText into Questions before validating the category.
func (nc *NewCategory) Validate(validate *validator.Validate) error {
	if name, ok := CanonicalCategory(nc.Name); ok {
		nc.Name = name
	}
	if strings.TrimSpace(nc.QuestionsText) != "" {
		parsed, err := ParseQuestions(nc.QuestionsText)
		if err != nil {
			return err
		}
		nc.Questions = append(nc.Questions, parsed...)
		nc.QuestionsText = ""
	}
	for i := range nc.Questions {
		nc.Questions[i].clean()
	}
	return validate.Struct(nc)
}

// NewTest contains information needed to create a new Test.
// Categories are validated one by one by Validate, after they have been cleaned.
type NewTest struct {
	Name       string        `json:"name" validate:"notblank,max=120"`
	Categories []NewCategory `json:"categories"`
}

func (nt *NewTest) Validate(validate *validator.Validate) error {
	nt.Name = core.CleanString(nt.Name)
	if err := validate.Struct(nt); err != nil {
		return err
	}
	seen := make(map[string]bool, len(nt.Categories))
	for i := range nt.Categories {
		if err := nt.Categories[i].Validate(validate); err != nil {
			return err
		}
		name := nt.Categories[i].Name
		if seen[name] {
			return ErrCategoryExists
		}
		seen[name] = true
	}
	return nil
}

type UpdateTest struct {
	Name string `json:"name" validate:"notblank,max=120"`
}

func (ut *UpdateTest) Validate(validate *validator.Validate) error {
	ut.Name = core.CleanString(ut.Name)
	return validate.Struct(ut)
}

// UpdateCategory renames a category and/or replaces its questions when Questions is non-nil.
type UpdateCategory struct {
	Name          string        `json:"name" validate:"omitempty,category"`
	Questions     []NewQuestion `json:"questions" validate:"omitempty,dive"`
	QuestionsText string        `json:"questions_text"`
}

func (uc *UpdateCategory) Validate(validate *validator.Validate) error {
	if name, ok := CanonicalCategory(uc.Name); ok {
		uc.Name = name
	}
	if strings.TrimSpace(uc.QuestionsText) != "" {
		parsed, err := ParseQuestions(uc.QuestionsText)
		if err != nil {
			return err
		}
		uc.Questions = append(uc.Questions, parsed...)
	}
	for i := range uc.Questions {
		uc.Questions[i].clean()
	}
	return validate.Struct(uc)
}

type GetFilter struct {
	ID   string
	Name string
}

type QueryFilter struct {
	Status Status `query:"status"`
}
