package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-docs-api/internal/models"
	"github.com/noah-isme/research-docs-api/internal/service"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
)

type studentServicesMock struct {
	dashboardErr error
	historyQuery models.HistoryQuery
	exportQuery  models.HistoryQuery
	upserted     *models.UpsertResearchRequest
}

func (m *studentServicesMock) Dashboard(_ context.Context, actor models.Actor) (*models.StudentDashboard, error) {
	if m.dashboardErr != nil {
		return nil, m.dashboardErr
	}
	return &models.StudentDashboard{Profile: models.User{ID: actor.ID}, AccountStatus: models.AccountStatusApproved}, nil
}

func (m *studentServicesMock) History(_ context.Context, _ models.Actor, query models.HistoryQuery) ([]models.DocumentHistoryEntry, error) {
	m.historyQuery = query
	return []models.DocumentHistoryEntry{}, nil
}

func (m *studentServicesMock) ExportHistory(_ context.Context, _ models.Actor, query models.HistoryQuery) (*service.ExportFile, error) {
	m.exportQuery = query
	return &service.ExportFile{Filename: "history.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}, nil
}

func (m *studentServicesMock) Get(_ context.Context, actor models.Actor) (*models.ResearchDetail, error) {
	return &models.ResearchDetail{StudentID: actor.ID, Title: "Graph sparsification"}, nil
}

func (m *studentServicesMock) Upsert(_ context.Context, actor models.Actor, req models.UpsertResearchRequest) (*models.ResearchDetail, error) {
	m.upserted = &req
	return &models.ResearchDetail{StudentID: actor.ID, Title: req.Title}, nil
}

func newStudentHandler(m *studentServicesMock) *StudentHandler {
	return NewStudentHandler(m, m, m)
}

func TestStudentHandlerDashboard(t *testing.T) {
	handler := newStudentHandler(&studentServicesMock{})

	c, w := newGinContext(http.MethodGet, "/student/dashboard", nil)
	asUser(c, "s-1", models.RoleStudent)
	handler.Dashboard(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decodeEnvelope(t, w).Data), `"account_status":"approved"`)
}

func TestStudentHandlerDashboardForbiddenForReviewers(t *testing.T) {
	handler := newStudentHandler(&studentServicesMock{dashboardErr: appErrors.Clone(appErrors.ErrForbidden, "students only")})

	c, w := newGinContext(http.MethodGet, "/student/dashboard", nil)
	asUser(c, "c-1", models.RoleCoordinator)
	handler.Dashboard(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStudentHandlerHistoryBindsStatus(t *testing.T) {
	svc := &studentServicesMock{}
	handler := newStudentHandler(svc)

	c, w := newGinContext(http.MethodGet, "/student/history?status=rejected", nil)
	asUser(c, "s-1", models.RoleStudent)
	handler.History(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusRejected, svc.historyQuery.Status)
}

func TestStudentHandlerExportHistory(t *testing.T) {
	svc := &studentServicesMock{}
	handler := newStudentHandler(svc)

	c, w := newGinContext(http.MethodGet, "/student/history/export?format=PDF&status=approved", nil)
	asUser(c, "s-1", models.RoleStudent)
	handler.ExportHistory(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ReportFormatPDF, svc.exportQuery.Format)
	assert.Equal(t, models.StatusApproved, svc.exportQuery.Status)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
}

func TestStudentHandlerUpsertResearch(t *testing.T) {
	svc := &studentServicesMock{}
	handler := newStudentHandler(svc)

	c, w := newGinContext(http.MethodPut, "/student/research", []byte(`{"title":"Sparse graphs","keywords":"graphs, sparsity"}`))
	asUser(c, "s-1", models.RoleStudent)
	handler.UpsertResearch(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.upserted)
	assert.Equal(t, "graphs, sparsity", svc.upserted.Keywords)
}

func TestStudentHandlerRequiresClaims(t *testing.T) {
	handler := newStudentHandler(&studentServicesMock{})

	c, w := newGinContext(http.MethodGet, "/student/research", nil)
	handler.Research(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
