package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/student"
)

type testApi struct {
	svc        *exam.Service
	studentSvc *student.Service
	validate   *validator.Validate
}

func registerTestAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := testApi{
		svc:        deps.ExamSvc,
		studentSvc: deps.StudentSvc,
		validate:   deps.Validate,
	}
	admin, stud := adminMiddleware(), studentMiddleware()

	tg := g.Group("/tests", jwt)

	// any session
	tg.GET("/live", api.queryLive)

	// student endpoints
	tg.GET("/random/:testName/:category", api.randomQuestions, stud)
	tg.POST("/:id/start", api.start, stud)
	tg.POST("/:id/answers", api.submitAnswers, stud)

	// admin endpoints
	tg.POST("", api.create, admin)
	tg.GET("", api.query, admin)
	tg.GET("/:id", api.retrieve, admin)
	tg.PUT("/:id", api.update, admin)
	tg.DELETE("/:id", api.destroy, admin)
	tg.PUT("/:id/status", api.setStatus, admin)
	tg.POST("/:id/assign", api.assign, admin)
	tg.POST("/:id/submit", api.submitMarks, admin)
	tg.GET("/:id/ranking", api.ranking, admin)

	cg := tg.Group("/:id/categories", admin)
	cg.POST("", api.addCategory)
	cg.PUT("/:categoryID", api.updateCategory)
	cg.DELETE("/:categoryID", api.deleteCategory)
	cg.POST("/:categoryID/questions", api.addQuestion)
	cg.PUT("/:categoryID/questions/:questionID", api.updateQuestion)
	cg.DELETE("/:categoryID/questions/:questionID", api.deleteQuestion)
}

// Handlers

func (api *testApi) create(ctx echo.Context) error {
	var data exam.NewTest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTest")
	}
	test, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating test")
	}
	return ctx.JSON(http.StatusCreated, test)
}

func (api *testApi) query(ctx echo.Context) error {
	filter := new(exam.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	tests, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying tests")
	}
	return ctx.JSON(http.StatusOK, tests)
}

// queryLive lists live tests. Students do not see the answer key.
func (api *testApi) queryLive(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	tests, err := api.svc.Query(ctx.Request().Context(), &exam.QueryFilter{Status: exam.StatusLive})
	if err != nil {
		return errors.Wrap(err, "querying live tests")
	}
	if !claims.IsAdmin() {
		for i := range tests {
			tests[i] = tests[i].Public()
		}
	}
	return ctx.JSON(http.StatusOK, tests)
}

func (api *testApi) retrieve(ctx echo.Context) error {
	test, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding test")
	}
	return ctx.JSON(http.StatusOK, test)
}

func (api *testApi) update(ctx echo.Context) error {
	var data exam.UpdateTest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTest")
	}
	test, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating test")
	}
	return ctx.JSON(http.StatusOK, test)
}

func (api *testApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting test")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *testApi) setStatus(ctx echo.Context) error {
	var data StatusRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusRequest")
	}
	test, err := api.svc.SetStatus(ctx.Request().Context(), ctx.Param("id"), data.Status)
	if err != nil {
		return errors.Wrap(err, "setting test status")
	}
	return ctx.JSON(http.StatusOK, test)
}

func (api *testApi) addCategory(ctx echo.Context) error {
	var data exam.NewCategory
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCategory")
	}
	cat, err := api.svc.AddCategory(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding category")
	}
	return ctx.JSON(http.StatusCreated, cat)
}

func (api *testApi) updateCategory(ctx echo.Context) error {
	var data exam.UpdateCategory
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCategory")
	}
	cat, err := api.svc.UpdateCategory(ctx.Request().Context(), ctx.Param("id"), ctx.Param("categoryID"), data)
	if err != nil {
		return errors.Wrap(err, "updating category")
	}
	return ctx.JSON(http.StatusOK, cat)
}

func (api *testApi) deleteCategory(ctx echo.Context) error {
	if err := api.svc.DeleteCategory(ctx.Request().Context(), ctx.Param("id"), ctx.Param("categoryID")); err != nil {
		return errors.Wrap(err, "deleting category")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *testApi) addQuestion(ctx echo.Context) error {
	var data exam.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	q, err := api.svc.AddQuestion(ctx.Request().Context(), ctx.Param("id"), ctx.Param("categoryID"), data)
	if err != nil {
		return errors.Wrap(err, "adding question")
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *testApi) updateQuestion(ctx echo.Context) error {
	var data exam.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	q, err := api.svc.UpdateQuestion(ctx.Request().Context(), ctx.Param("id"), ctx.Param("categoryID"), ctx.Param("questionID"), data)
	if err != nil {
		return errors.Wrap(err, "updating question")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *testApi) deleteQuestion(ctx echo.Context) error {
	err := api.svc.DeleteQuestion(ctx.Request().Context(), ctx.Param("id"), ctx.Param("categoryID"), ctx.Param("questionID"))
	if err != nil {
		return errors.Wrap(err, "deleting question")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *testApi) assign(ctx echo.Context) error {
	var data AssignRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AssignRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rctx, testID := ctx.Request().Context(), ctx.Param("id")
	if data.StudentID != "" {
		attempt, err := api.studentSvc.Assign(rctx, data.Year, data.StudentID, testID)
		if err != nil {
			return errors.Wrap(err, "assigning test")
		}
		return ctx.JSON(http.StatusCreated, attempt)
	}
	n, err := api.studentSvc.AssignMany(rctx, data.Year, testID, data.StudentIDs)
	if err != nil {
		return errors.Wrap(err, "assigning test")
	}
	return ctx.JSON(http.StatusOK, AssignResponse{Assigned: n})
}

func (api *testApi) submitMarks(ctx echo.Context) error {
	var data MarksRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarksRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	attempt, err := api.studentSvc.SubmitMarks(ctx.Request().Context(), data.Year, data.StudentID, ctx.Param("id"), data.Marks)
	if err != nil {
		return errors.Wrap(err, "submitting marks")
	}
	return ctx.JSON(http.StatusOK, attempt)
}

func (api *testApi) ranking(ctx echo.Context) error {
	var q YearQuery
	if err := ctx.Bind(&q); err != nil {
		return errors.Wrap(err, "binding to YearQuery")
	}
	if err := api.validate.Struct(q); err != nil {
		return err
	}
	ranking, err := api.studentSvc.TestRanking(ctx.Request().Context(), q.Year, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "ranking test")
	}
	return ctx.JSON(http.StatusOK, ranking)
}

func (api *testApi) randomQuestions(ctx echo.Context) error {
	questions, err := api.svc.RandomQuestions(ctx.Request().Context(), ctx.Param("testName"), ctx.Param("category"), 0)
	if err != nil {
		return errors.Wrap(err, "drawing questions")
	}
	return ctx.JSON(http.StatusOK, questions)
}

func (api *testApi) start(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	attempt, err := api.studentSvc.Start(ctx.Request().Context(), claims.Year, claims.Subject, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "starting test")
	}
	return ctx.JSON(http.StatusOK, attempt)
}

func (api *testApi) submitAnswers(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data AnswersRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AnswersRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	attempt, err := api.studentSvc.SubmitAnswers(ctx.Request().Context(), claims.Year, claims.Subject, ctx.Param("id"), data.Answers)
	if err != nil {
		return errors.Wrap(err, "submitting answers")
	}
	return ctx.JSON(http.StatusOK, attempt)
}
