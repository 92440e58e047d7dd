package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/danieleschmidt/request-sentinel/internal/errors"
)

// respondError writes the structured error body with the status code the
// error carries. Unrecognized errors map to 500.
func respondError(c *gin.Context, err error) {
	c.JSON(errors.GetStatusCode(err), errors.FromError(err).ToResponse())
}
