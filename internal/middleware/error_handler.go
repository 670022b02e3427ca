package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apiError "collab-revisions/internal/errors"
)

func ErrorHandler(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next() // Execute the handler first

		// detect any errors
		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err

			var apiErr *apiError.APIError

			// if it's our custom APIError
			if !errors.As(err, &apiErr) {
				// If it's a raw error we didn't wrap, treat as Internal
				apiErr = apiError.Internal(err)
			}

			event := logger.Info()
			if apiErr.Status >= 500 {
				event = logger.Error()
			}
			event.Err(apiErr.Internal).
				Int("status", apiErr.Status).
				Str("code", apiErr.Code).
				Str("method", c.Request.Method).
				Str("path", c.FullPath()).
				Msg(apiErr.Message)

			// Respond with JSON
			c.AbortWithStatusJSON(apiErr.Status, apiErr)
		}
	}
}
