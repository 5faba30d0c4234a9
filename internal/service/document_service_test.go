package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"io/fs"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/research-docs-api/internal/models"
	"github.com/noah-isme/research-docs-api/internal/repository"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
	"github.com/noah-isme/research-docs-api/pkg/storage"
	"github.com/noah-isme/research-docs-api/pkg/thumbnail"
)

type memDocStore struct {
	subs      map[string]*models.Submission
	logs      []models.StatusLogEntry
	calls     int
	nextID    int
	createErr error
	applyErr  error
}

func newMemDocStore(subs ...models.Submission) *memDocStore {
	m := &memDocStore{subs: map[string]*models.Submission{}}
	for i := range subs {
		sub := subs[i]
		m.subs[sub.ID] = &sub
	}
	return m
}

func (m *memDocStore) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	m.calls++
	sub, ok := m.subs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *sub
	return &clone, nil
}

func (m *memDocStore) FindByStudentAndItem(ctx context.Context, studentID, itemID string) (*models.Submission, error) {
	m.calls++
	for _, sub := range m.subs {
		if sub.StudentID == studentID && sub.ChecklistItemID == itemID {
			clone := *sub
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memDocStore) ListByStudent(ctx context.Context, studentID string) ([]models.Submission, error) {
	m.calls++
	var out []models.Submission
	for _, sub := range m.subs {
		if sub.StudentID == studentID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (m *memDocStore) ListByStudents(ctx context.Context, studentIDs []string) ([]models.Submission, error) {
	m.calls++
	want := map[string]bool{}
	for _, id := range studentIDs {
		want[id] = true
	}
	var out []models.Submission
	for _, sub := range m.subs {
		if want[sub.StudentID] {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (m *memDocStore) Create(ctx context.Context, sub *models.Submission) error {
	m.calls++
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	sub.ID = fmt.Sprintf("doc-new-%d", m.nextID)
	clone := *sub
	m.subs[sub.ID] = &clone
	return nil
}

func (m *memDocStore) Resubmit(ctx context.Context, sub *models.Submission, from models.DocumentStatus) error {
	m.calls++
	stored, ok := m.subs[sub.ID]
	if !ok || stored.Status != from {
		return repository.ErrStaleState
	}
	stored.FileURL = sub.FileURL
	stored.Title = sub.Title
	stored.Status = models.StatusPending
	stored.Remarks = nil
	stored.Version++
	*sub = *stored
	return nil
}

func (m *memDocStore) ApplyTransition(ctx context.Context, tr models.StatusTransition) (*models.StatusLogEntry, error) {
	m.calls++
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	stored, ok := m.subs[tr.DocumentID]
	if !ok || stored.Status != tr.From {
		return nil, repository.ErrStaleState
	}
	stored.Status = tr.To
	stored.Remarks = tr.Remarks
	entry := models.StatusLogEntry{
		ID:         fmt.Sprintf("log-%d", len(m.logs)+1),
		DocumentID: tr.DocumentID,
		OldStatus:  tr.From,
		NewStatus:  tr.To,
		ChangedBy:  tr.ChangedBy,
		Remarks:    tr.LogRemarks,
		CreatedAt:  time.Now().UTC(),
	}
	m.logs = append(m.logs, entry)
	return &entry, nil
}

func (m *memDocStore) ListLogs(ctx context.Context, documentID string) ([]models.StatusLogEntry, error) {
	m.calls++
	var out []models.StatusLogEntry
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].DocumentID == documentID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func (m *memDocStore) ListLogsByDocuments(ctx context.Context, ids []string) ([]models.StatusLogEntry, error) {
	m.calls++
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []models.StatusLogEntry
	for i := len(m.logs) - 1; i >= 0; i-- {
		if want[m.logs[i].DocumentID] {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

type stubChecklist struct {
	items []models.ChecklistItem
}

func (s *stubChecklist) FindChecklistItem(ctx context.Context, id string) (*models.ChecklistItem, error) {
	for _, item := range s.items {
		if item.ID == id {
			it := item
			return &it, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *stubChecklist) ListAllChecklistItems(ctx context.Context) ([]models.ChecklistItem, error) {
	return s.items, nil
}

func (s *stubChecklist) ListChecklist(ctx context.Context, programID string) ([]models.ChecklistItem, error) {
	var out []models.ChecklistItem
	for _, item := range s.items {
		if item.ProgramID == programID {
			out = append(out, item)
		}
	}
	return out, nil
}

type auditSink struct {
	entries []*models.AuditLog
}

func (a *auditSink) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

type stubHistoryRenderer struct {
	entries []models.DocumentHistoryEntry
	format  models.ReportFormat
}

func (r *stubHistoryRenderer) RenderHistory(entries []models.DocumentHistoryEntry, format models.ReportFormat) (*ExportFile, error) {
	r.entries = entries
	r.format = format
	return &ExportFile{Filename: "history." + string(format), ContentType: "text/csv", Data: []byte("ok")}, nil
}

type documentFixture struct {
	svc      *DocumentService
	docs     *memDocStore
	bucket   *storage.Bucket
	audit    *auditSink
	renderer *stubHistoryRenderer
	profiles *stubProfiles
	baseDir  string
}

const (
	fixtureStudentID = "student-1"
	fixtureProgramID = "prog-ms"
)

func newDocumentFixture(t *testing.T, subs ...models.Submission) *documentFixture {
	t.Helper()
	baseDir := t.TempDir()
	store, err := storage.NewLocalStorage(baseDir)
	require.NoError(t, err)
	bucket := storage.NewBucket(store, storage.NewSignedURLSigner("secret", time.Hour), "/api/v1/files/download", "/api/v1/files/public")

	program := fixtureProgramID
	profiles := newStubProfiles(&models.User{ID: fixtureStudentID, Role: models.RoleStudent, Status: models.AccountStatusApproved, ProgramID: &program, FullName: "Ayesha"})
	checklist := &stubChecklist{items: []models.ChecklistItem{
		{ID: "item-1", ProgramID: fixtureProgramID, Title: "Transcript", OrderIndex: 1},
		{ID: "item-photo", ProgramID: fixtureProgramID, Title: "Profile Photo", OrderIndex: 0},
		{ID: "item-phd", ProgramID: "prog-phd", Title: "Proposal", OrderIndex: 1},
	}}
	docs := newMemDocStore(subs...)
	audit := &auditSink{}
	renderer := &stubHistoryRenderer{}
	svc := NewDocumentService(docs, checklist, profiles, audit, bucket, thumbnail.NewGenerator(32), renderer, nil, NewMetricsService(), nil, zap.NewNop(), DocumentServiceConfig{MaxFileSize: 1024 * 1024})
	return &documentFixture{svc: svc, docs: docs, bucket: bucket, audit: audit, renderer: renderer, profiles: profiles, baseDir: baseDir}
}

var (
	docStudent  = models.Actor{ID: fixtureStudentID, Role: models.RoleStudent}
	docReviewer = models.Actor{ID: "coord-1", Role: models.RoleCoordinator}
	pdfBytes    = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
)

func pdfUpload() models.Upload {
	return models.Upload{Filename: "transcript.pdf", ContentType: "application/pdf", Size: int64(len(pdfBytes)), Content: pdfBytes}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 80, 60))
	for x := 0; x < 80; x++ {
		for y := 0; y < 60; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDocumentUploadCreatesPendingSubmission(t *testing.T) {
	f := newDocumentFixture(t)

	sub, err := f.svc.Upload(context.Background(), docStudent, "item-1", pdfUpload())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, sub.Status)
	assert.Equal(t, 1, sub.Version)
	assert.Regexp(t, `^student-1/item-1/\d+\.pdf$`, sub.FileURL)
	assert.True(t, f.bucket.Exists(sub.FileURL))
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.AuditActionDocumentUpload, f.audit.entries[0].Action)
}

func TestDocumentReuploadAfterRejection(t *testing.T) {
	remarks := "blurry scan"
	f := newDocumentFixture(t, models.Submission{
		ID: "doc-1", StudentID: fixtureStudentID, ChecklistItemID: "item-1", FileURL: "student-1/item-1/1.pdf",
		Status: models.StatusRejected, Version: 2, Remarks: &remarks,
	})

	sub, err := f.svc.Upload(context.Background(), docStudent, "item-1", pdfUpload())
	require.NoError(t, err)
	assert.Equal(t, "doc-1", sub.ID, "re-upload updates the same row")
	assert.Equal(t, models.StatusPending, sub.Status)
	assert.Nil(t, sub.Remarks)
	assert.Equal(t, 3, sub.Version)
	assert.Empty(t, f.docs.logs, "re-upload writes no status log")
}

func TestDocumentUploadWhilePendingIsIllegal(t *testing.T) {
	f := newDocumentFixture(t, models.Submission{ID: "doc-1", StudentID: fixtureStudentID, ChecklistItemID: "item-1", Status: models.StatusPending, Version: 1})

	_, err := f.svc.Upload(context.Background(), docStudent, "item-1", pdfUpload())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrIllegalTransition))
	assert.Equal(t, 409, appErrors.FromError(err).Status)
}

func TestDocumentUploadAcceptsImageJPGDeclaredType(t *testing.T) {
	f := newDocumentFixture(t)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16)), nil))
	data := buf.Bytes()

	sub, err := f.svc.Upload(context.Background(), docStudent, "item-1", models.Upload{Filename: "scan.JPEG", ContentType: "image/jpg", Content: data, Size: int64(len(data))})
	require.NoError(t, err)
	assert.Regexp(t, `^student-1/item-1/\d+\.jpg$`, sub.FileURL)
}

func TestDeclaredMediaType(t *testing.T) {
	assert.Equal(t, "image/jpeg", declaredMediaType("image/jpg"))
	assert.Equal(t, "image/jpeg", declaredMediaType("Image/PJPEG; q=1"))
	assert.Equal(t, "application/pdf", declaredMediaType("application/pdf; charset=binary"))
	assert.Equal(t, "", declaredMediaType(""))
}

func TestDocumentUploadValidation(t *testing.T) {
	f := newDocumentFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, docStudent, "item-1", models.Upload{Filename: "run.exe", Content: []byte("MZ")})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Upload(ctx, docStudent, "item-1", models.Upload{Filename: "fake.pdf", ContentType: "application/pdf", Content: []byte("just text")})
	assert.True(t, errors.Is(err, appErrors.ErrValidation), "sniffed content must match")

	_, err = f.svc.Upload(ctx, docStudent, "item-1", models.Upload{Filename: "doc.pdf", ContentType: "image/png", Content: pdfBytes})
	assert.True(t, errors.Is(err, appErrors.ErrValidation), "declared type must match")

	big := append(append([]byte{}, pdfBytes...), make([]byte, 2*1024*1024)...)
	_, err = f.svc.Upload(ctx, docStudent, "item-1", models.Upload{Filename: "big.pdf", Content: big, Size: int64(len(big))})
	assert.True(t, errors.Is(err, appErrors.ErrPayloadTooLarge))

	_, err = f.svc.Upload(ctx, docReviewer, "item-1", pdfUpload())
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Upload(ctx, docStudent, "item-phd", pdfUpload())
	assert.True(t, errors.Is(err, appErrors.ErrForbidden), "item from another program")

	assert.Empty(t, f.docs.subs)
}

func TestDocumentUploadRequiresApprovedAccount(t *testing.T) {
	f := newDocumentFixture(t)
	f.profiles.users[fixtureStudentID].Status = models.AccountStatusPending

	_, err := f.svc.Upload(context.Background(), docStudent, "item-1", pdfUpload())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAccountPending))
}

func TestDocumentUploadRemovesObjectWhenDatabaseFails(t *testing.T) {
	f := newDocumentFixture(t)
	f.docs.createErr = errors.New("connection reset")

	_, err := f.svc.Upload(context.Background(), docStudent, "item-1", pdfUpload())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInternal))

	assert.Zero(t, countFiles(t, f.baseDir))
}

func TestDocumentUploadStoresAvatarThumbnail(t *testing.T) {
	f := newDocumentFixture(t)
	data := pngBytes(t)

	sub, err := f.svc.Upload(context.Background(), docStudent, "item-photo", models.Upload{Filename: "me.png", ContentType: "image/png", Content: data, Size: int64(len(data))})
	require.NoError(t, err)
	assert.True(t, f.bucket.Exists(thumbnail.PathFor(sub.FileURL)))
}

func TestDocumentRejectBlankRemarksTouchesNoStore(t *testing.T) {
	f := newDocumentFixture(t, models.Submission{ID: "doc-1", StudentID: fixtureStudentID, ChecklistItemID: "item-1", Status: models.StatusPending, Version: 1})

	for _, remarks := range []string{"", "   \t"} {
		_, err := f.svc.Reject(context.Background(), docReviewer, "doc-1", models.RejectRequest{Remarks: remarks})
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrValidation))
	}
	assert.Zero(t, f.docs.calls)
}

func TestDocumentRejectAppendsLog(t *testing.T) {
	earlier := "Approved by coordinator"
	f := newDocumentFixture(t, models.Submission{ID: "doc-1", StudentID: fixtureStudentID, ChecklistItemID: "item-1", Status: models.StatusPending, Version: 2})
	f.docs.logs = []models.StatusLogEntry{{ID: "log-0", DocumentID: "doc-1", OldStatus: models.StatusPending, NewStatus: models.StatusApproved, Remarks: &earlier}}

	entry, err := f.svc.Reject(context.Background(), docReviewer, "doc-1", models.RejectRequest{Remarks: "  blurry scan "})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, entry.OldStatus)
	assert.Equal(t, models.StatusRejected, entry.NewStatus)
	require.NotNil(t, entry.Remarks)
	assert.Equal(t, "blurry scan", *entry.Remarks)

	stored := f.docs.subs["doc-1"]
	assert.Equal(t, models.StatusRejected, stored.Status)
	require.NotNil(t, stored.Remarks)
	assert.Equal(t, "blurry scan", *stored.Remarks)

	require.Len(t, f.docs.logs, 2)
	assert.Equal(t, "log-0", f.docs.logs[0].ID)
	assert.Equal(t, earlier, *f.docs.logs[0].Remarks)
}

func TestDocumentApproveTransitions(t *testing.T) {
	f := newDocumentFixture(t,
		models.Submission{ID: "legacy", StudentID: fixtureStudentID, ChecklistItemID: "item-1", Status: models.StatusUnderReview},
		models.Submission{ID: "rejected", StudentID: fixtureStudentID, ChecklistItemID: "item-photo", Status: models.StatusRejected},
	)
	ctx := context.Background()

	entry, err := f.svc.Approve(ctx, docReviewer, "legacy")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, entry.OldStatus, "log keeps the actual prior status")
	assert.Equal(t, models.StatusApproved, entry.NewStatus)

	again, err := f.svc.Approve(ctx, docReviewer, "legacy")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, again.OldStatus)

	_, err = f.svc.Approve(ctx, docReviewer, "rejected")
	assert.True(t, errors.Is(err, appErrors.ErrIllegalTransition))

	_, err = f.svc.Approve(ctx, docStudent, "legacy")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Approve(ctx, docReviewer, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestDocumentApproveLostRaceIsConflict(t *testing.T) {
	f := newDocumentFixture(t, models.Submission{ID: "doc-1", StudentID: fixtureStudentID, Status: models.StatusPending})
	f.docs.applyErr = repository.ErrStaleState

	_, err := f.svc.Approve(context.Background(), docReviewer, "doc-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestDocumentSignedURLAndDownload(t *testing.T) {
	f := newDocumentFixture(t)
	ctx := context.Background()
	sub, err := f.svc.Upload(ctx, docStudent, "item-1", pdfUpload())
	require.NoError(t, err)

	_, err = f.svc.SignedURL(ctx, models.Actor{ID: "student-2", Role: models.RoleStudent}, sub.ID)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	signed, err := f.svc.SignedURL(ctx, docReviewer, sub.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), signed.ExpiresAt, time.Minute)

	parsed, err := url.Parse(signed.URL)
	require.NoError(t, err)
	file, err := f.svc.Download(ctx, parsed.Query().Get("token"))
	require.NoError(t, err)
	defer file.File.Close()
	body, err := io.ReadAll(file.File)
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, body)
	assert.Equal(t, "application/pdf", file.ContentType)

	_, err = f.svc.Download(ctx, "garbage")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestDocumentHistoryAndExport(t *testing.T) {
	now := time.Now().UTC()
	f := newDocumentFixture(t,
		models.Submission{ID: "old", StudentID: fixtureStudentID, ChecklistItemID: "item-1", Status: models.StatusApproved, SubmissionDate: now.Add(-time.Hour)},
		models.Submission{ID: "new", StudentID: fixtureStudentID, ChecklistItemID: "item-photo", Status: models.StatusUnderReview, SubmissionDate: now},
		models.Submission{ID: "other", StudentID: "student-2", ChecklistItemID: "item-1", Status: models.StatusPending},
	)
	f.docs.logs = []models.StatusLogEntry{{ID: "l1", DocumentID: "old", NewStatus: models.StatusApproved}}
	ctx := context.Background()

	entries, err := f.svc.History(ctx, docStudent, models.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "new", entries[0].ID)
	assert.Equal(t, models.StatusPending, entries[0].Status)
	assert.Equal(t, "Profile Photo", entries[0].ItemTitle)
	assert.Len(t, entries[1].Logs, 1)

	filtered, err := f.svc.History(ctx, docStudent, models.HistoryQuery{Status: models.StatusApproved})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "old", filtered[0].ID)

	_, err = f.svc.History(ctx, docStudent, models.HistoryQuery{Status: "archived"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	file, err := f.svc.ExportHistory(ctx, docStudent, models.HistoryQuery{Format: "PDF"})
	require.NoError(t, err)
	assert.Equal(t, "history.pdf", file.Filename)
	assert.Equal(t, models.ReportFormatPDF, f.renderer.format)
	assert.Len(t, f.renderer.entries, 2)
}

func TestDocumentLogsAccess(t *testing.T) {
	f := newDocumentFixture(t, models.Submission{ID: "doc-1", StudentID: fixtureStudentID, Status: models.StatusApproved})
	f.docs.logs = []models.StatusLogEntry{{ID: "l1", DocumentID: "doc-1"}, {ID: "l2", DocumentID: "doc-1"}}

	logs, err := f.svc.Logs(context.Background(), docStudent, "doc-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "l2", logs[0].ID)

	_, err = f.svc.Logs(context.Background(), models.Actor{ID: "student-2", Role: models.RoleStudent}, "doc-1")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

// countFiles counts stored objects below dir.
func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}
