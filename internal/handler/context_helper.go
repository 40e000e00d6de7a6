package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/smorting-auth/internal/middleware"
	"github.com/noah-isme/smorting-auth/internal/models"
	appErrors "github.com/noah-isme/smorting-auth/pkg/errors"
	"github.com/noah-isme/smorting-auth/pkg/response"
)

func identityOrAbort(c *gin.Context) (*models.Identity, bool) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return identity, true
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
