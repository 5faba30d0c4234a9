package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/research-docs-api/internal/models"
	"github.com/noah-isme/research-docs-api/internal/service"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
	"github.com/noah-isme/research-docs-api/pkg/response"
)

type dashboardProvider interface {
	Dashboard(ctx context.Context, actor models.Actor) (*models.StudentDashboard, error)
}

type historyService interface {
	History(ctx context.Context, actor models.Actor, query models.HistoryQuery) ([]models.DocumentHistoryEntry, error)
	ExportHistory(ctx context.Context, actor models.Actor, query models.HistoryQuery) (*service.ExportFile, error)
}

type researchService interface {
	Get(ctx context.Context, actor models.Actor) (*models.ResearchDetail, error)
	Upsert(ctx context.Context, actor models.Actor, req models.UpsertResearchRequest) (*models.ResearchDetail, error)
}

// StudentHandler serves the student dashboard, upload history and research details.
type StudentHandler struct {
	dashboard dashboardProvider
	history   historyService
	research  researchService
}

// NewStudentHandler constructs the handler.
func NewStudentHandler(dashboard dashboardProvider, history historyService, research researchService) *StudentHandler {
	return &StudentHandler{dashboard: dashboard, history: history, research: research}
}

// Dashboard godoc
// @Summary Student dashboard
// @Description Profile, account status and announcements. Checklist, summary and research are included once the account is approved.
// @Tags Student
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /student/dashboard [get]
func (h *StudentHandler) Dashboard(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	dashboard, err := h.dashboard.Dashboard(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dashboard, nil)
}

// History godoc
// @Summary Upload history
// @Tags Student
// @Produce json
// @Param status query string false "Document status"
// @Success 200 {object} response.Envelope
// @Router /student/history [get]
func (h *StudentHandler) History(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query models.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	entries, err := h.history.History(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// ExportHistory godoc
// @Summary Export upload history
// @Tags Student
// @Produce octet-stream
// @Param format query string false "csv or pdf"
// @Param status query string false "Document status"
// @Success 200 {file} binary
// @Router /student/history/export [get]
func (h *StudentHandler) ExportHistory(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	query := models.HistoryQuery{
		Status: models.DocumentStatus(c.Query("status")),
		Format: formatQuery(c),
	}
	file, err := h.history.ExportHistory(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	sendExportFile(c, file)
}

// Research godoc
// @Summary Research details
// @Tags Student
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /student/research [get]
func (h *StudentHandler) Research(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	detail, err := h.research.Get(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// UpsertResearch godoc
// @Summary Save research details
// @Tags Student
// @Accept json
// @Produce json
// @Param payload body models.UpsertResearchRequest true "Research payload"
// @Success 200 {object} response.Envelope
// @Router /student/research [put]
func (h *StudentHandler) UpsertResearch(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.UpsertResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.research.Upsert(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}
