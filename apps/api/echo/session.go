package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/admin"
	"github.com/trezcool/mtihani/core/scheduler"
	"github.com/trezcool/mtihani/core/student"
)

type sessionApi struct {
	studentSvc *student.Service
	adminSvc   *admin.Service
	scheduler  *scheduler.Scheduler
	tokens     tokenIssuer
	validate   *validator.Validate
}

func newSessionApi(tokens tokenIssuer, deps *Deps) *sessionApi {
	return &sessionApi{
		studentSvc: deps.StudentSvc,
		adminSvc:   deps.AdminSvc,
		scheduler:  deps.Scheduler,
		tokens:     tokens,
		validate:   deps.Validate,
	}
}

func registerAuthAPI(g *echo.Group, jwt echo.MiddlewareFunc, tokens tokenIssuer, deps *Deps) {
	api := newSessionApi(tokens, deps)

	ag := g.Group("/auth")
	ag.POST("/register", api.register)
	ag.POST("/login", api.studentLogin)
	ag.GET("/validate", api.validateSession, jwt)
}

func registerAdminAPI(g *echo.Group, jwt echo.MiddlewareFunc, tokens tokenIssuer, deps *Deps) {
	api := newSessionApi(tokens, deps)

	ag := g.Group("/admin")
	ag.POST("/login", api.adminLogin)
	ag.GET("/profile", api.adminProfile, jwt, adminMiddleware())

	g.GET("/scheduler/timers", api.activeTimers, jwt, adminMiddleware())
}

// Handlers

func (api *sessionApi) register(ctx echo.Context) error {
	var data student.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	s, err := api.studentSvc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering student")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *sessionApi) studentLogin(ctx echo.Context) error {
	var data StudentLoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentLoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	s, err := api.studentSvc.Authenticate(ctx.Request().Context(), data.Year, data.RollNo, data.Password)
	if err != nil {
		return errors.Wrap(err, "authenticating student")
	}
	token, err := api.tokens.Generate(api.tokens.StudentClaims(s))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *sessionApi) adminLogin(ctx echo.Context) error {
	var data AdminLoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AdminLoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	adm, err := api.adminSvc.Authenticate(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		return errors.Wrap(err, "authenticating administrator")
	}
	token, err := api.tokens.Generate(api.tokens.AdminClaims(adm))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *sessionApi) validateSession(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, SessionResponse{Valid: true, Claims: claims})
}

func (api *sessionApi) adminProfile(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	adm, err := api.adminSvc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "finding administrator")
	}
	return ctx.JSON(http.StatusOK, adm)
}

func (api *sessionApi) activeTimers(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.scheduler.ActiveTimers())
}
