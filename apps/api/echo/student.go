package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/student"
)

var errInvalidYear = core.NewValidationError(nil, core.FieldError{Field: "year", Error: "year must be a number"})

type studentApi struct {
	svc *student.Service
}

func registerStudentAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := studentApi{svc: deps.StudentSvc}

	sg := g.Group("/students", jwt, adminMiddleware())
	sg.GET("", api.query)
	sg.GET("/:year/:id", api.retrieve)

	g.GET("/leaderboard", api.leaderboard, jwt, adminMiddleware())

	mg := g.Group("/me", jwt, studentMiddleware())
	mg.GET("", api.profile)
	mg.GET("/rank/:testID", api.rank)
}

// Handlers

func (api *studentApi) query(ctx echo.Context) error {
	filter := new(student.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	students, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *studentApi) retrieve(ctx echo.Context) error {
	year, err := strconv.Atoi(ctx.Param("year"))
	if err != nil {
		return errInvalidYear
	}
	s, err := api.svc.GetByID(ctx.Request().Context(), year, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding student")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *studentApi) leaderboard(ctx echo.Context) error {
	var q student.LeaderboardQuery
	if err := ctx.Bind(&q); err != nil {
		return errors.Wrap(err, "binding to LeaderboardQuery")
	}
	lb, err := api.svc.Leaderboard(ctx.Request().Context(), q)
	if err != nil {
		return errors.Wrap(err, "computing leaderboard")
	}
	return ctx.JSON(http.StatusOK, lb)
}

func (api *studentApi) profile(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	s, err := api.svc.GetByID(ctx.Request().Context(), claims.Year, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "finding student")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *studentApi) rank(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	rank, err := api.svc.RankForTest(ctx.Request().Context(), claims.Year, ctx.Param("testID"), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "ranking student")
	}
	return ctx.JSON(http.StatusOK, rank)
}
