package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/assignment-review-api/internal/middleware"
	"github.com/noah-isme/assignment-review-api/internal/models"
	appErrors "github.com/noah-isme/assignment-review-api/pkg/errors"
	"github.com/noah-isme/assignment-review-api/pkg/response"
)

// actorFromContext returns the authenticated caller or writes 401.
func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims := middleware.ClaimsFrom(c)
	if claims == nil || claims.UserID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return claims.Actor(), true
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return false
	}
	return true
}
