package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/research-docs-api/internal/middleware"
	"github.com/noah-isme/research-docs-api/internal/models"
	"github.com/noah-isme/research-docs-api/internal/service"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
	"github.com/noah-isme/research-docs-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext resolves the caller. It writes a 401 and returns false
// when the request carries no claims.
func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return models.Actor{ID: claims.UserID, Role: claims.Role, Email: claims.Email}, true
}

func formatQuery(c *gin.Context) models.ReportFormat {
	return models.ReportFormat(strings.ToLower(strings.TrimSpace(c.Query("format"))))
}

func sendExportFile(c *gin.Context, file *service.ExportFile) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

func withCacheMeta(c *gin.Context, hit bool) map[string]interface{} {
	middleware.SetCacheHit(c, hit)
	return middleware.ExtractMeta(c)
}
