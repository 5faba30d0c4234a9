package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/research-docs-api/internal/models"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
	"github.com/noah-isme/research-docs-api/pkg/storage"
	"github.com/noah-isme/research-docs-api/pkg/thumbnail"
)

type stubResearch struct {
	details map[string]*models.ResearchDetail
	saved   []*models.ResearchDetail
}

func (s *stubResearch) FindByStudent(ctx context.Context, studentID string) (*models.ResearchDetail, error) {
	if d, ok := s.details[studentID]; ok {
		return d, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubResearch) Upsert(ctx context.Context, detail *models.ResearchDetail) error {
	if s.details == nil {
		s.details = map[string]*models.ResearchDetail{}
	}
	s.saved = append(s.saved, detail)
	s.details[detail.StudentID] = detail
	return nil
}

type stubRosterRenderer struct {
	roster *models.Roster
	format models.ReportFormat
}

func (r *stubRosterRenderer) RenderRoster(roster *models.Roster, format models.ReportFormat) (*ExportFile, error) {
	r.roster = roster
	r.format = format
	return &ExportFile{Filename: "roster." + string(format), Data: []byte("ok")}, nil
}

type rosterFixtureSet struct {
	svc      *RosterService
	users    *stubProfiles
	bucket   *storage.Bucket
	audit    *auditSink
	renderer *stubRosterRenderer
	cache    *memCacheRepo
}

var rosterReviewer = models.Actor{ID: "coord-1", Role: models.RoleCoordinator}

func rosterStudent(id, name string, status models.AccountStatus, created time.Time) *models.User {
	program, programName, batch := fixtureProgramID, "MS Computer Science", "Fall 2025"
	return &models.User{
		ID: id, FullName: name, Email: id + "@uni.edu", Role: models.RoleStudent, Status: status,
		ProgramID: &program, ProgramName: &programName, BatchName: &batch, CreatedAt: created,
	}
}

func newRosterFixture(t *testing.T) *rosterFixtureSet {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	users := newStubProfiles(
		rosterStudent("s-ali", "Ali", models.AccountStatusApproved, base),
		rosterStudent("s-bilal", "Bilal", models.AccountStatusApproved, base),
		rosterStudent("s-chen", "Chen", models.AccountStatusApproved, base),
		rosterStudent("s-dana", "Dana", models.AccountStatusPending, base.Add(48*time.Hour)),
		rosterStudent("s-eve", "Eve", models.AccountStatusPending, base.Add(24*time.Hour)),
		rosterStudent("s-faisal", "Faisal", models.AccountStatusRejected, base),
		&models.User{ID: "coord-1", FullName: "Coordinator", Role: models.RoleCoordinator, Status: models.AccountStatusApproved},
	)
	checklist := &stubChecklist{items: []models.ChecklistItem{
		{ID: "item-photo", ProgramID: fixtureProgramID, Title: "Profile Photo", OrderIndex: 0},
		{ID: "item-1", ProgramID: fixtureProgramID, Title: "Transcript", OrderIndex: 1},
		{ID: "item-2", ProgramID: fixtureProgramID, Title: "Synopsis", OrderIndex: 2},
	}}
	docs := newMemDocStore(
		models.Submission{ID: "a1", StudentID: "s-ali", ChecklistItemID: "item-photo", Status: models.StatusApproved, FileURL: "s-ali/item-photo/1.png"},
		models.Submission{ID: "a2", StudentID: "s-ali", ChecklistItemID: "item-1", Status: models.StatusApproved, FileURL: "s-ali/item-1/1.pdf"},
		models.Submission{ID: "a3", StudentID: "s-ali", ChecklistItemID: "item-2", Status: models.StatusApproved, FileURL: "s-ali/item-2/1.pdf"},
		models.Submission{ID: "b1", StudentID: "s-bilal", ChecklistItemID: "item-photo", Status: models.StatusRejected, FileURL: "s-bilal/item-photo/1.png"},
		models.Submission{ID: "b2", StudentID: "s-bilal", ChecklistItemID: "item-1", Status: models.StatusUnderReview, FileURL: "s-bilal/item-1/1.pdf"},
		models.Submission{ID: "b3", StudentID: "s-bilal", ChecklistItemID: "item-2", Status: models.StatusApproved, FileURL: "s-bilal/item-2/1.pdf"},
		models.Submission{ID: "c1", StudentID: "s-chen", ChecklistItemID: "item-1", Status: models.StatusRejected, FileURL: "s-chen/item-1/1.pdf"},
	)
	docs.logs = []models.StatusLogEntry{{ID: "log-1", DocumentID: "c1", OldStatus: models.StatusPending, NewStatus: models.StatusRejected}}

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	bucket := storage.NewBucket(store, storage.NewSignedURLSigner("secret", time.Hour), "/api/v1/files/download", "/api/v1/files/public")

	research := &stubResearch{details: map[string]*models.ResearchDetail{"s-ali": {StudentID: "s-ali", Title: "Graph Neural Networks"}}}
	audit := &auditSink{}
	renderer := &stubRosterRenderer{}
	cacheRepo := newMemCacheRepo()
	svc := NewRosterService(users, checklist, docs, research, bucket, audit, renderer, NewCacheService(cacheRepo, nil, time.Minute, nil, true), zap.NewNop(), RosterServiceConfig{SignConcurrency: 2})
	return &rosterFixtureSet{svc: svc, users: users, bucket: bucket, audit: audit, renderer: renderer, cache: cacheRepo}
}

func TestRosterSplitsPendingAndActive(t *testing.T) {
	f := newRosterFixture(t)
	roster, hit, err := f.svc.Roster(context.Background(), rosterReviewer)
	require.NoError(t, err)
	assert.False(t, hit)

	require.Len(t, roster.Pending, 2)
	assert.Equal(t, "s-dana", roster.Pending[0].ID, "newest registration first")
	assert.Equal(t, "s-eve", roster.Pending[1].ID)
	assert.Equal(t, "N/A", roster.Pending[0].RegistrationNumber)

	require.Len(t, roster.Active, 3)
	byID := map[string]models.RosterRow{}
	for _, row := range roster.Active {
		byID[row.ID] = row
	}
	assert.Equal(t, models.LabelComplete, byID["s-ali"].Status)
	assert.Equal(t, 0, byID["s-ali"].MissingDocs)
	assert.Equal(t, models.LabelPending, byID["s-bilal"].Status)
	assert.Equal(t, models.LabelIncomplete, byID["s-chen"].Status)
	assert.Equal(t, 2, byID["s-chen"].MissingDocs)
	assert.Equal(t, "Fall 2025", byID["s-chen"].Batch)
	assert.Equal(t, "N/A", byID["s-chen"].Department)

	assert.Equal(t, models.RosterStats{TotalStudents: 3, PendingReviews: 1, Incomplete: 1, Complete: 1}, roster.Stats)

	require.NotNil(t, byID["s-ali"].AvatarURL)
	assert.Contains(t, *byID["s-ali"].AvatarURL, "/api/v1/files/download?token=")
	assert.Nil(t, byID["s-bilal"].AvatarURL, "rejected photo is not shown")
	assert.Contains(t, f.cache.store, "roster:all")
}

func TestRosterRequiresReviewer(t *testing.T) {
	f := newRosterFixture(t)
	_, _, err := f.svc.Roster(context.Background(), models.Actor{ID: "s-ali", Role: models.RoleStudent})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	_, err = f.svc.QuickView(context.Background(), models.Actor{ID: "s-ali", Role: models.RoleStudent}, "s-ali")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestRosterAvatarPrefersThumbnail(t *testing.T) {
	f := newRosterFixture(t)
	thumbKey := thumbnail.PathFor("s-ali/item-photo/1.png")
	_, err := f.bucket.Upload(thumbKey, bytes.NewReader([]byte("jpeg")))
	require.NoError(t, err)

	detail, err := f.svc.QuickView(context.Background(), rosterReviewer, "s-ali")
	require.NoError(t, err)
	require.NotNil(t, detail.AvatarURL)

	parsed, err := url.Parse(*detail.AvatarURL)
	require.NoError(t, err)
	key, err := f.bucket.Resolve(parsed.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, thumbKey, key)
}

func TestStudentDetailAndQuickView(t *testing.T) {
	f := newRosterFixture(t)

	detail, err := f.svc.StudentDetail(context.Background(), rosterReviewer, "s-chen")
	require.NoError(t, err)
	require.Len(t, detail.Checklist, 3)
	assert.Equal(t, "item-photo", detail.Checklist[0].Item.ID)
	assert.Equal(t, models.StudentSummary{Total: 3, Rejected: 1, Missing: 2, Completion: 0, Label: models.LabelIncomplete}, detail.Summary)
	require.Len(t, detail.Logs, 1)
	assert.Nil(t, detail.Research)

	ali, err := f.svc.StudentDetail(context.Background(), rosterReviewer, "s-ali")
	require.NoError(t, err)
	require.NotNil(t, ali.Research)
	assert.Equal(t, "Graph Neural Networks", ali.Research.Title)
	assert.Equal(t, 100, ali.Summary.Completion)

	quick, err := f.svc.QuickView(context.Background(), rosterReviewer, "s-ali")
	require.NoError(t, err)
	assert.Nil(t, quick.Research)
	assert.Nil(t, quick.Logs)
	assert.Equal(t, models.LabelComplete, quick.Summary.Label)

	_, err = f.svc.QuickView(context.Background(), rosterReviewer, "coord-1")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, err = f.svc.StudentDetail(context.Background(), rosterReviewer, "nobody")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestApproveAndRejectAccount(t *testing.T) {
	f := newRosterFixture(t)
	ctx := context.Background()
	f.cache.store["roster:all"] = []byte(`{}`)

	require.NoError(t, f.svc.ApproveAccount(ctx, rosterReviewer, "s-dana"))
	assert.Equal(t, models.AccountStatusApproved, f.users.users["s-dana"].Status)
	assert.NotContains(t, f.cache.store, "roster:all")

	require.NoError(t, f.svc.RejectAccount(ctx, rosterReviewer, "s-eve"))
	assert.Equal(t, models.AccountStatusRejected, f.users.users["s-eve"].Status)

	require.Len(t, f.audit.entries, 2)
	assert.Equal(t, models.AuditActionAccountApprove, f.audit.entries[0].Action)
	assert.JSONEq(t, `{"status":"pending"}`, string(f.audit.entries[0].OldValues))
	assert.JSONEq(t, `{"status":"approved"}`, string(f.audit.entries[0].NewValues))
	assert.JSONEq(t, `{"status":"pending"}`, string(f.audit.entries[1].OldValues))
	assert.JSONEq(t, `{"status":"rejected"}`, string(f.audit.entries[1].NewValues))

	err := f.svc.ApproveAccount(ctx, rosterReviewer, "nobody")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	err = f.svc.ApproveAccount(ctx, models.Actor{ID: "s-ali", Role: models.RoleStudent}, "s-dana")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestExportRosterDefaultsToCSV(t *testing.T) {
	f := newRosterFixture(t)
	file, err := f.svc.ExportRoster(context.Background(), rosterReviewer, "")
	require.NoError(t, err)
	assert.Equal(t, "roster.csv", file.Filename)
	assert.Equal(t, models.ReportFormatCSV, f.renderer.format)
	require.NotNil(t, f.renderer.roster)
	assert.Len(t, f.renderer.roster.Active, 3)
	for _, row := range f.renderer.roster.Active {
		assert.Nil(t, row.AvatarURL)
	}
}
