package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-docs-api/internal/middleware"
	"github.com/noah-isme/research-docs-api/internal/models"
	"github.com/noah-isme/research-docs-api/internal/service"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
)

type reportServiceMock struct {
	overview    *models.ReportResult
	overviewHit bool
	lastFilter  models.ReportFilter
	createResp  *models.ReportJobResponse
	createErr   error
	lastActor   models.Actor
	statusResp  *models.ReportStatusResponse
	statusErr   error
	download    *service.ReportDownload
	downloadErr error
}

func (m *reportServiceMock) Overview(_ context.Context, filter models.ReportFilter) (*models.ReportResult, bool, error) {
	m.lastFilter = filter
	return m.overview, m.overviewHit, nil
}

func (m *reportServiceMock) CreateJob(_ context.Context, actor models.Actor, _ models.ReportRequest) (*models.ReportJobResponse, error) {
	m.lastActor = actor
	return m.createResp, m.createErr
}

func (m *reportServiceMock) GetStatus(context.Context, models.Actor, string) (*models.ReportStatusResponse, error) {
	return m.statusResp, m.statusErr
}

func (m *reportServiceMock) ResolveDownload(context.Context, string) (*service.ReportDownload, error) {
	return m.download, m.downloadErr
}

func TestReportHandlerOverviewCarriesCacheMeta(t *testing.T) {
	mockSvc := &reportServiceMock{overview: &models.ReportResult{}, overviewHit: true}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/overview?status=COMPLETE&programId=p-1", nil)
	middleware.WithResponseMeta()(c)
	handler.Overview(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.CoarseComplete, mockSvc.lastFilter.Status)
	assert.Equal(t, "p-1", mockSvc.lastFilter.ProgramID)
	env := decodeEnvelope(t, w)
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Contains(t, env.Meta, "processing_time_ms")
}

func TestReportHandlerGenerateReport(t *testing.T) {
	mockSvc := &reportServiceMock{
		createResp: &models.ReportJobResponse{ID: "job-1", Status: models.ReportStatusQueued},
	}
	handler := NewReportHandler(mockSvc)

	payload, _ := json.Marshal(models.ReportRequest{Type: models.ReportTypeStudents, Format: models.ReportFormatCSV})
	c, w := newGinContext(http.MethodPost, "/reports", payload)
	asUser(c, "coord-1", models.RoleCoordinator)

	handler.GenerateReport(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "coord-1", mockSvc.lastActor.ID)
	assert.Equal(t, models.RoleCoordinator, mockSvc.lastActor.Role)
}

func TestReportHandlerGenerateReportRequiresClaims(t *testing.T) {
	handler := NewReportHandler(&reportServiceMock{})
	c, w := newGinContext(http.MethodPost, "/reports", []byte(`{}`))

	handler.GenerateReport(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReportHandlerGenerateReportRejectsMalformedJSON(t *testing.T) {
	handler := NewReportHandler(&reportServiceMock{})
	c, w := newGinContext(http.MethodPost, "/reports", []byte(`{"type":`))
	asUser(c, "coord-1", models.RoleCoordinator)

	handler.GenerateReport(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportHandlerReportStatus(t *testing.T) {
	mockSvc := &reportServiceMock{
		statusResp: &models.ReportStatusResponse{ID: "job-1", Status: models.ReportStatusFinished, Progress: 100},
	}
	handler := NewReportHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/reports/job-1", nil)
	c.AddParam("id", "job-1")
	asUser(c, "coord-1", models.RoleCoordinator)

	handler.ReportStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReportHandlerReportStatusNotFound(t *testing.T) {
	handler := NewReportHandler(&reportServiceMock{statusErr: appErrors.Clone(appErrors.ErrNotFound, "report job not found")})

	c, w := newGinContext(http.MethodGet, "/reports/missing", nil)
	c.AddParam("id", "missing")
	asUser(c, "coord-1", models.RoleCoordinator)

	handler.ReportStatus(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportHandlerDownloadReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.3"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	handler := NewReportHandler(&reportServiceMock{download: &service.ReportDownload{
		File:      file,
		Filename:  "students.pdf",
		Format:    models.ReportFormatPDF,
		ExpiresAt: expires,
	}})

	c, w := newGinContext(http.MethodGet, "/export/token", nil)
	c.AddParam("token", "token")
	handler.DownloadReport(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=\"students.pdf\"", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "1767323045", w.Header().Get("X-Link-Expires"))
	assert.Equal(t, "%PDF-1.3", w.Body.String())
}

func TestReportHandlerDownloadReportExpiredToken(t *testing.T) {
	handler := NewReportHandler(&reportServiceMock{downloadErr: appErrors.Clone(appErrors.ErrForbidden, "link expired")})

	c, w := newGinContext(http.MethodGet, "/export/stale", nil)
	c.AddParam("token", "stale")
	handler.DownloadReport(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
