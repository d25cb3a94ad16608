package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "github.com/jwalitptl/wa-connector/pkg/errors"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
	pkgvalidator "github.com/jwalitptl/wa-connector/pkg/validator"
)

// ErrorHandler renders the last error a handler attached with c.Error. The
// client only sees the AppError message; the wrapped cause goes to the log.
func ErrorHandler(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := apperrors.As(err)
		if !ok {
			if fields, isBinding := pkgvalidator.Fields(err); isBinding {
				appErr = apperrors.NewValidation(fields)
			} else {
				appErr = apperrors.NewInternal(err)
			}
		}

		status := appErr.StatusCode()
		event := logger.Warn()
		if status >= 500 {
			event = logger.Error()
		}
		event.
			Err(err).
			Int("status", status).
			Str("request_id", c.GetString(ContextRequestID)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("request error")

		httputil.AbortWithError(c, appErr)
	}
}
