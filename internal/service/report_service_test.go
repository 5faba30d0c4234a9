package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/research-docs-api/internal/models"
	"github.com/noah-isme/research-docs-api/internal/repository"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
	"github.com/noah-isme/research-docs-api/pkg/jobs"
)

type reportRepoStub struct {
	jobs map[string]*models.ReportJob
}

func newReportRepoStub() *reportRepoStub {
	return &reportRepoStub{jobs: map[string]*models.ReportJob{}}
}

func (r *reportRepoStub) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *reportRepoStub) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return job, nil
}

func (r *reportRepoStub) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *reportRepoStub) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	var queued []models.ReportJob
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (r *reportRepoStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range r.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type reportFixture struct {
	svc     *ReportService
	repo    *reportRepoStub
	queue   *queueStub
	exports *ExportService
	reports *reportSourceStub
	cache   *memCacheRepo
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	repo := newReportRepoStub()
	queue := &queueStub{}
	exportSvc, _, reports := newExportServiceForTest(t)
	cacheRepo := newMemCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewReportService(repo, queue, exportSvc, reports, cache, NewMetricsService(), nil, zap.NewNop(), ReportServiceConfig{
		ResultTTL:       time.Hour,
		CleanupInterval: time.Hour,
		MaxRetries:      3,
	})
	return &reportFixture{svc: svc, repo: repo, queue: queue, exports: exportSvc, reports: reports, cache: cacheRepo}
}

var reportCoordinator = models.Actor{ID: "coord-1", Role: models.RoleCoordinator}

func TestReportServiceCreateJob(t *testing.T) {
	f := newReportFixture(t)
	resp, err := f.svc.CreateJob(context.Background(), reportCoordinator, models.ReportRequest{
		Type:   models.ReportTypeStudents,
		Format: "PDF",
		Status: models.CoarseInProgress,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.ID)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)

	stored := f.repo.jobs[resp.ID]
	require.NotNil(t, stored)
	assert.Equal(t, models.ReportFormatPDF, stored.Params.Format)
	assert.Equal(t, models.CoarseInProgress, stored.Params.Status)
	assert.Equal(t, "coord-1", stored.CreatedBy)
}

func TestReportServiceCreateJobValidation(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateJob(ctx, models.Actor{ID: "s1", Role: models.RoleStudent}, models.ReportRequest{Type: models.ReportTypeStudents, Format: models.ReportFormatCSV})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	cases := []models.ReportRequest{
		{Type: "grades", Format: models.ReportFormatCSV},
		{Type: models.ReportTypeStudents, Format: "xlsx"},
		{Type: models.ReportTypeStudents, Format: models.ReportFormatCSV, ProgramID: "not-a-uuid"},
		{Type: models.ReportTypeStudents, Format: models.ReportFormatCSV, Status: "DONE"},
	}
	for _, req := range cases {
		_, err := f.svc.CreateJob(ctx, reportCoordinator, req)
		assert.True(t, errors.Is(err, appErrors.ErrValidation), "%+v", req)
	}
	assert.Empty(t, f.repo.jobs)
	assert.Empty(t, f.queue.jobs)
}

func TestReportServiceCreateJobEnqueueFailure(t *testing.T) {
	f := newReportFixture(t)
	f.queue.err = errors.New("queue stopped")
	_, err := f.svc.CreateJob(context.Background(), reportCoordinator, models.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatCSV})
	require.Error(t, err)
	require.Len(t, f.repo.jobs, 1)
	for _, job := range f.repo.jobs {
		assert.Equal(t, models.ReportStatusFailed, job.Status)
		assert.NotNil(t, job.FinishedAt)
	}
}

func TestReportServiceGetStatusOwnership(t *testing.T) {
	f := newReportFixture(t)
	url := "/api/v1/export/tok"
	f.repo.jobs["job-1"] = &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeStudents,
		Status:    models.ReportStatusFinished,
		Progress:  100,
		ResultURL: &url,
		CreatedBy: "coord-1",
	}

	resp, err := f.svc.GetStatus(context.Background(), reportCoordinator, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFinished, resp.Status)
	assert.Equal(t, &url, resp.ResultURL)

	_, err = f.svc.GetStatus(context.Background(), models.Actor{ID: "coord-2", Role: models.RoleCoordinator}, "job-1")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.GetStatus(context.Background(), models.Actor{ID: "admin-1", Role: models.RoleAdmin}, "job-1")
	require.NoError(t, err)

	_, err = f.svc.GetStatus(context.Background(), reportCoordinator, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestReportServiceResolveDownload(t *testing.T) {
	f := newReportFixture(t)
	job := &models.ReportJob{
		ID:        "job-download",
		Type:      models.ReportTypeStudents,
		Params:    models.ReportJobParams{Format: models.ReportFormatCSV},
		Status:    models.ReportStatusFinished,
		Progress:  100,
		CreatedBy: "coord-1",
	}
	f.repo.jobs[job.ID] = job
	result, err := f.exports.Generate(context.Background(), job)
	require.NoError(t, err)
	job.ResultURL = &result.URL

	download, err := f.svc.ResolveDownload(context.Background(), result.Token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, filepath.Base(result.RelativePath), download.Filename)
	assert.Equal(t, models.ReportFormatCSV, download.Format)

	_, err = f.svc.ResolveDownload(context.Background(), "garbage")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	job.Status = models.ReportStatusProcessing
	_, err = f.svc.ResolveDownload(context.Background(), result.Token)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestReportServiceOverviewIsCached(t *testing.T) {
	f := newReportFixture(t)
	filter := models.ReportFilter{ProgramID: "prog-ms"}

	first, hit, err := f.svc.Overview(context.Background(), filter)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 3, first.Stats.TotalStudents)
	assert.Contains(t, f.cache.store, "reports:overview:prog-ms:all")

	second, hit, err := f.svc.Overview(context.Background(), filter)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.Stats, second.Stats)
	assert.Len(t, f.reports.filters, 1, "second call served from cache")

	_, _, err = f.svc.Overview(context.Background(), models.ReportFilter{Status: "DONE"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestReportServiceOverviewBuildFailure(t *testing.T) {
	f := newReportFixture(t)
	f.reports.err = errors.New("db down")
	_, _, err := f.svc.Overview(context.Background(), models.ReportFilter{})
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestReportServiceRecoverPendingJobs(t *testing.T) {
	f := newReportFixture(t)
	f.repo.jobs["q1"] = &models.ReportJob{ID: "q1", Type: models.ReportTypeRoster, Status: models.ReportStatusQueued}
	f.repo.jobs["done"] = &models.ReportJob{ID: "done", Type: models.ReportTypeRoster, Status: models.ReportStatusFinished}

	f.svc.RecoverPendingJobs(context.Background())
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, "q1", f.queue.jobs[0].ID)
}

func TestReportServiceCleanupExpiredRemovesFiles(t *testing.T) {
	f := newReportFixture(t)
	job := &models.ReportJob{ID: "old", Type: models.ReportTypeRoster, Params: models.ReportJobParams{Format: models.ReportFormatCSV}}
	result, err := f.exports.Generate(context.Background(), job)
	require.NoError(t, err)
	finished := time.Now().Add(-2 * time.Hour)
	job.ResultURL = &result.URL
	job.FinishedAt = &finished
	job.Status = models.ReportStatusFinished
	f.repo.jobs[job.ID] = job

	f.svc.cleanupExpired(context.Background())

	_, err = f.exports.Open(result.RelativePath)
	assert.Error(t, err)
}

func TestBuildReportFromStores(t *testing.T) {
	input := reportInputFixture()
	builder := NewReportBuilder(
		userListerStub{users: input.Students},
		programCatalogStub{programs: input.Programs, items: input.Items},
		submissionListerStub{subs: input.Submissions},
		nil,
	)
	builder.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }

	result, err := builder.Build(context.Background(), models.ReportFilter{})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 5)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), result.GeneratedAt)

	failing := NewReportBuilder(userListerStub{err: errors.New("boom")}, programCatalogStub{}, submissionListerStub{}, nil)
	_, err = failing.Build(context.Background(), models.ReportFilter{})
	require.ErrorContains(t, err, "list students")
}

type userListerStub struct {
	users []models.User
	err   error
}

func (u userListerStub) List(ctx context.Context, filter models.UserFilter) ([]models.User, error) {
	return u.users, u.err
}

type programCatalogStub struct {
	programs []models.Program
	items    []models.ChecklistItem
}

func (p programCatalogStub) ListPrograms(ctx context.Context) ([]models.Program, error) {
	return p.programs, nil
}

func (p programCatalogStub) ListAllChecklistItems(ctx context.Context) ([]models.ChecklistItem, error) {
	return p.items, nil
}

type submissionListerStub struct {
	subs []models.Submission
}

func (s submissionListerStub) ListAll(ctx context.Context) ([]models.Submission, error) {
	return s.subs, nil
}

type exportStub struct {
	result *ExportResult
	err    error
}

func (e exportStub) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func queuedJobRepo() *reportRepoStub {
	return &reportRepoStub{
		jobs: map[string]*models.ReportJob{
			"job-1": {
				ID:        "job-1",
				Type:      models.ReportTypeStudents,
				Params:    models.ReportJobParams{Format: models.ReportFormatCSV},
				Status:    models.ReportStatusQueued,
				CreatedBy: "coord-1",
			},
		},
	}
}

func TestReportWorkerHandleSuccess(t *testing.T) {
	repo := queuedJobRepo()
	exporter := exportStub{result: &ExportResult{URL: "/api/v1/export/token"}}
	worker := NewReportWorker(repo, exporter, NewMetricsService(), 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1"})
	require.NoError(t, err)
	job := repo.jobs["job-1"]
	assert.Equal(t, models.ReportStatusFinished, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.ResultURL)
	assert.Equal(t, "/api/v1/export/token", *job.ResultURL)
}

func TestReportWorkerHandleFailureRequeuesThenFails(t *testing.T) {
	repo := queuedJobRepo()
	worker := NewReportWorker(repo, exportStub{err: errors.New("boom")}, nil, 2, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 0})
	require.Error(t, err)
	assert.Equal(t, models.ReportStatusQueued, repo.jobs["job-1"].Status)
	assert.Equal(t, 0, repo.jobs["job-1"].Progress)

	err = worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)
	assert.Equal(t, models.ReportStatusFailed, repo.jobs["job-1"].Status)
	require.NotNil(t, repo.jobs["job-1"].ErrorMessage)
	assert.Equal(t, "boom", *repo.jobs["job-1"].ErrorMessage)
}

func TestReportWorkerExhaustedMarksFailed(t *testing.T) {
	repo := queuedJobRepo()
	worker := NewReportWorker(repo, exportStub{}, nil, 1, zap.NewNop())

	worker.Exhausted(jobs.Job{ID: "job-1"}, errors.New("disk full"))
	assert.Equal(t, models.ReportStatusFailed, repo.jobs["job-1"].Status)
	assert.Equal(t, "disk full", *repo.jobs["job-1"].ErrorMessage)

	finishedRepo := queuedJobRepo()
	finishedRepo.jobs["job-1"].Status = models.ReportStatusFinished
	NewReportWorker(finishedRepo, exportStub{}, nil, 1, zap.NewNop()).Exhausted(jobs.Job{ID: "job-1"}, errors.New("late"))
	assert.Equal(t, models.ReportStatusFinished, finishedRepo.jobs["job-1"].Status)
}

func TestExtractToken(t *testing.T) {
	assert.Equal(t, "abc", extractToken("/api/v1/export/abc"))
	assert.Equal(t, "", extractToken(""))
}
