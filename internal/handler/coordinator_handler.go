package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/research-docs-api/internal/models"
	"github.com/noah-isme/research-docs-api/internal/service"
	"github.com/noah-isme/research-docs-api/pkg/response"
)

type rosterService interface {
	Roster(ctx context.Context, actor models.Actor) (*models.Roster, bool, error)
	ExportRoster(ctx context.Context, actor models.Actor, format models.ReportFormat) (*service.ExportFile, error)
	StudentDetail(ctx context.Context, actor models.Actor, studentID string) (*models.StudentDetail, error)
	QuickView(ctx context.Context, actor models.Actor, studentID string) (*models.StudentDetail, error)
	ApproveAccount(ctx context.Context, actor models.Actor, studentID string) error
	RejectAccount(ctx context.Context, actor models.Actor, studentID string) error
}

// CoordinatorHandler serves the coordinator roster and account approvals.
type CoordinatorHandler struct {
	service rosterService
}

// NewCoordinatorHandler constructs the handler.
func NewCoordinatorHandler(svc rosterService) *CoordinatorHandler {
	return &CoordinatorHandler{service: svc}
}

// Roster godoc
// @Summary Student roster
// @Description Pending accounts, active students with document progress and dashboard stats
// @Tags Coordinator
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /coordinator/students [get]
func (h *CoordinatorHandler) Roster(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	roster, hit, err := h.service.Roster(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil, withCacheMeta(c, hit))
}

// Export godoc
// @Summary Export the roster
// @Tags Coordinator
// @Produce octet-stream
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Router /coordinator/students/export [get]
func (h *CoordinatorHandler) Export(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	file, err := h.service.ExportRoster(c.Request.Context(), actor, formatQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	sendExportFile(c, file)
}

// Detail godoc
// @Summary Student detail
// @Tags Coordinator
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /coordinator/students/{id} [get]
func (h *CoordinatorHandler) Detail(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	detail, err := h.service.StudentDetail(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// QuickView godoc
// @Summary Student quick view
// @Tags Coordinator
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /coordinator/students/{id}/quick-view [get]
func (h *CoordinatorHandler) QuickView(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	detail, err := h.service.QuickView(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Approve godoc
// @Summary Approve a pending student account
// @Tags Coordinator
// @Param id path string true "Student ID"
// @Success 204
// @Router /coordinator/students/{id}/approve [post]
func (h *CoordinatorHandler) Approve(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.ApproveAccount(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Reject godoc
// @Summary Reject a pending student account
// @Tags Coordinator
// @Param id path string true "Student ID"
// @Success 204
// @Router /coordinator/students/{id}/reject [post]
func (h *CoordinatorHandler) Reject(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.RejectAccount(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
