package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")

	kindStatus = map[core.Kind]int{
		core.KindNotFound:     http.StatusNotFound,
		core.KindInvalidState: http.StatusBadRequest,
		core.KindValidation:   http.StatusBadRequest,
		core.KindConflict:     http.StatusConflict,
		core.KindUnauthorized: http.StatusUnauthorized,
		core.KindForbidden:    http.StatusForbidden,
		core.KindInternal:     http.StatusInternalServerError,
	}
	statusKind = map[int]core.Kind{
		http.StatusBadRequest:   core.KindValidation,
		http.StatusUnauthorized: core.KindUnauthorized,
		http.StatusForbidden:    core.KindForbidden,
		http.StatusNotFound:     core.KindNotFound,
		http.StatusConflict:     core.KindConflict,
	}
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

func kindOfStatus(code int) core.Kind {
	if kind, ok := statusKind[code]; ok {
		return kind
	}
	if code >= http.StatusInternalServerError {
		return core.KindInternal
	}
	return core.KindInvalidState
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var (
			code int
			resp ErrorResponse
		)

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				origErr = errUnauthorized
			}
			if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
				origErr = herr
			}
			code = origErr.Code
			resp.Kind = kindOfStatus(code).String()
			if msg, ok := origErr.Message.(string); ok {
				resp.Error = msg
			} else {
				resp.Error = http.StatusText(code)
			}
		case validator.ValidationErrors:
			code = http.StatusBadRequest
			resp.Kind = core.KindValidation.String()
			resp.Error = "validation failed"
			resp.Fields = make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				resp.Fields[vErr.Field()] = vErr.Translate(translator)
			}
		case *core.ValidationError:
			code = http.StatusBadRequest
			resp.Kind = core.KindValidation.String()
			resp.Error = origErr.Error()
			if len(origErr.Fields) > 0 {
				resp.Error = "validation failed"
				resp.Fields = make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					resp.Fields[fErr.Field] = fErr.Error
				}
			}
		case *core.Error:
			code = kindStatus[origErr.Kind]
			resp.Kind = origErr.Kind.String()
			resp.Error = origErr.Msg
		default: // any other error is a server error
			code = http.StatusInternalServerError
			resp.Kind = core.KindInternal.String()
			resp.Error = http.StatusText(code)

			claims, cErr := getContextClaims(ctx)
			if cErr == nil {
				logger.Error(resp.Error, errors.Wrap(err, resp.Error), claims.person())
			} else {
				logger.Error(resp.Error, errors.Wrap(err, resp.Error))
			}
			if ctx.Echo().Debug || (cErr == nil && claims.IsAdmin()) {
				resp.Error = err.Error()
			}

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, resp)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
