package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/research-docs-api/internal/models"
	"github.com/noah-isme/research-docs-api/internal/repository"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
	"github.com/noah-isme/research-docs-api/pkg/thumbnail"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// allowedExtensions maps accepted file extensions to their canonical type.
var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".txt":  "text/plain",
	".docx": docxMIME,
}

type documentStore interface {
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	FindByStudentAndItem(ctx context.Context, studentID, itemID string) (*models.Submission, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Submission, error)
	Create(ctx context.Context, sub *models.Submission) error
	Resubmit(ctx context.Context, sub *models.Submission, from models.DocumentStatus) error
	ApplyTransition(ctx context.Context, tr models.StatusTransition) (*models.StatusLogEntry, error)
	ListLogs(ctx context.Context, documentID string) ([]models.StatusLogEntry, error)
	ListLogsByDocuments(ctx context.Context, documentIDs []string) ([]models.StatusLogEntry, error)
}

type checklistReader interface {
	FindChecklistItem(ctx context.Context, id string) (*models.ChecklistItem, error)
	ListAllChecklistItems(ctx context.Context) ([]models.ChecklistItem, error)
}

type profileReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// objectStore is the document bucket.
type objectStore interface {
	Upload(path string, r io.Reader) (int64, error)
	SignedURL(subjectID, path string) (string, time.Time, error)
	Resolve(token string) (string, error)
	Open(path string) (*os.File, error)
	Delete(path string) error
}

type thumbnailer interface {
	Generate(src io.Reader) ([]byte, error)
}

type historyRenderer interface {
	RenderHistory(entries []models.DocumentHistoryEntry, format models.ReportFormat) (*ExportFile, error)
}

// DocumentServiceConfig tunes upload validation.
type DocumentServiceConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
}

// DocumentFile is an opened stored document ready to stream.
type DocumentFile struct {
	Name        string
	ContentType string
	Size        int64
	File        *os.File
}

// DocumentService implements the document lifecycle: upload, review and retrieval.
type DocumentService struct {
	docs      documentStore
	checklist checklistReader
	profiles  profileReader
	audit     auditRecorder
	bucket    objectStore
	thumbs    thumbnailer
	renderer  historyRenderer
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       DocumentServiceConfig
	allowed   map[string]struct{}
	now       func() time.Time
}

// NewDocumentService wires the document lifecycle.
func NewDocumentService(
	docs documentStore,
	checklist checklistReader,
	profiles profileReader,
	audit auditRecorder,
	bucket objectStore,
	thumbs thumbnailer,
	renderer historyRenderer,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg DocumentServiceConfig,
) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, m := range cfg.AllowedMIMEs {
		allowed[strings.ToLower(m)] = struct{}{}
	}
	if len(allowed) == 0 {
		for _, m := range allowedExtensions {
			allowed[m] = struct{}{}
		}
	}
	return &DocumentService{
		docs:      docs,
		checklist: checklist,
		profiles:  profiles,
		audit:     audit,
		bucket:    bucket,
		thumbs:    thumbs,
		renderer:  renderer,
		cache:     cache,
		metrics:   metrics,
		validator: ensureValidator(validate),
		logger:    logger,
		cfg:       cfg,
		allowed:   allowed,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Upload stores a file against a checklist item for the calling student. A
// first upload creates the submission; an upload after rejection replaces the
// file and bumps the version.
func (s *DocumentService) Upload(ctx context.Context, actor models.Actor, checklistItemID string, file models.Upload) (*models.Submission, error) {
	if !actor.IsStudent() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students upload documents")
	}
	if strings.TrimSpace(checklistItemID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "checklistItemId is required")
	}
	ext, sniffed, err := s.validateFile(file)
	if err != nil {
		return nil, err
	}

	profile, err := s.profiles.FindByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "profile not found")
		}
		return nil, appErrors.Internal(err, "failed to load profile")
	}
	if err := requireApproved(profile); err != nil {
		return nil, err
	}

	item, err := s.checklist.FindChecklistItem(ctx, checklistItemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "checklist item not found")
		}
		return nil, appErrors.Internal(err, "failed to load checklist item")
	}
	if profile.ProgramID == nil || *profile.ProgramID != item.ProgramID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "checklist item does not belong to your program")
	}

	existing, err := s.docs.FindByStudentAndItem(ctx, actor.ID, item.ID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Internal(err, "failed to load submission")
		}
		existing = nil
	}
	if _, err := models.Submit(models.StateOf(existing)); err != nil {
		return nil, transitionError(err)
	}

	now := s.now()
	key := fmt.Sprintf("%s/%s/%d%s", actor.ID, item.ID, now.UnixMilli(), ext)
	if _, err := s.bucket.Upload(key, bytes.NewReader(file.Content)); err != nil {
		s.metrics.RecordDocumentUpload("storage_failed")
		return nil, appErrors.Internal(err, "failed to store document")
	}
	stored := []string{key}
	if thumbKey, ok := s.storeThumbnail(item, key, sniffed, file.Content); ok {
		stored = append(stored, thumbKey)
	}

	title := strings.TrimSpace(filepath.Base(file.Filename))
	if title == "" || title == "." {
		title = item.Title
	}

	var sub *models.Submission
	if existing == nil {
		sub = &models.Submission{
			StudentID:       actor.ID,
			ChecklistItemID: item.ID,
			Title:           title,
			FileURL:         key,
			Status:          models.StatusPending,
			Version:         1,
			SubmissionDate:  now,
		}
		err = s.docs.Create(ctx, sub)
	} else {
		sub = existing
		prior := existing.Status
		sub.FileURL = key
		sub.Title = title
		err = s.docs.Resubmit(ctx, sub, prior)
	}
	if err != nil {
		s.discard(stored)
		s.metrics.RecordDocumentUpload("db_failed")
		if errors.Is(err, repository.ErrStaleState) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "document changed concurrently, reload and retry")
		}
		return nil, appErrors.Internal(err, "failed to record submission")
	}

	s.metrics.RecordDocumentUpload("stored")
	s.cache.InvalidateProgress(ctx)
	s.record(ctx, actor, models.AuditActionDocumentUpload, sub.ID, map[string]interface{}{
		"checklist_item_id": item.ID,
		"version":           sub.Version,
	})
	return sub, nil
}

// Approve accepts a pending document and appends a status log entry.
func (s *DocumentService) Approve(ctx context.Context, actor models.Actor, documentID string) (*models.StatusLogEntry, error) {
	if !actor.IsReviewer() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only coordinators review documents")
	}
	sub, err := s.loadSubmission(ctx, documentID)
	if err != nil {
		return nil, err
	}
	next, err := models.Approve(models.StateOf(sub))
	if err != nil {
		return nil, transitionError(err)
	}
	logRemarks := "Approved by coordinator"
	return s.transition(ctx, actor, models.AuditActionDocumentApprove, models.StatusTransition{
		DocumentID: sub.ID,
		From:       sub.Status,
		To:         next.Status(),
		ChangedBy:  actor.ID,
		LogRemarks: &logRemarks,
	})
}

// Reject returns a pending document to the student. Remarks are validated
// before anything is read from the store.
func (s *DocumentService) Reject(ctx context.Context, actor models.Actor, documentID string, req models.RejectRequest) (*models.StatusLogEntry, error) {
	if !actor.IsReviewer() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only coordinators review documents")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "rejection remarks are required")
	}
	sub, err := s.loadSubmission(ctx, documentID)
	if err != nil {
		return nil, err
	}
	next, err := models.Reject(models.StateOf(sub), req.Remarks)
	if err != nil {
		return nil, transitionError(err)
	}
	remarks := next.(models.StateRejected).Remarks
	return s.transition(ctx, actor, models.AuditActionDocumentReject, models.StatusTransition{
		DocumentID: sub.ID,
		From:       sub.Status,
		To:         next.Status(),
		ChangedBy:  actor.ID,
		Remarks:    &remarks,
		LogRemarks: &remarks,
	})
}

// SignedURL returns a one hour download link for the document file.
func (s *DocumentService) SignedURL(ctx context.Context, actor models.Actor, documentID string) (*models.SignedDocumentURL, error) {
	sub, err := s.loadSubmission(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, sub); err != nil {
		return nil, err
	}
	url, expiresAt, err := s.bucket.SignedURL(sub.ID, sub.FileURL)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign document url")
	}
	return &models.SignedDocumentURL{URL: url, ExpiresAt: expiresAt}, nil
}

// Download opens the object referenced by a signed token. The caller closes the file.
func (s *DocumentService) Download(ctx context.Context, token string) (*DocumentFile, error) {
	if strings.TrimSpace(token) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "token is required")
	}
	key, err := s.bucket.Resolve(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "download link is invalid or expired")
	}
	f, err := s.bucket.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Internal(err, "failed to open file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, appErrors.Internal(err, "failed to stat file")
	}
	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &DocumentFile{Name: filepath.Base(key), ContentType: contentType, Size: info.Size(), File: f}, nil
}

// History lists the calling student's submissions with their status logs.
func (s *DocumentService) History(ctx context.Context, actor models.Actor, query models.HistoryQuery) ([]models.DocumentHistoryEntry, error) {
	if !actor.IsStudent() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students have an upload history")
	}
	if err := s.validator.Struct(query); err != nil {
		return nil, validationError(err, "invalid history query")
	}
	subs, err := s.docs.ListByStudent(ctx, actor.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load submissions")
	}
	if query.Status != "" {
		want := query.Status.Normalize()
		filtered := subs[:0]
		for _, sub := range subs {
			if sub.Status.Normalize() == want {
				filtered = append(filtered, sub)
			}
		}
		subs = filtered
	}
	if len(subs) == 0 {
		return []models.DocumentHistoryEntry{}, nil
	}

	ids := make([]string, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
	}
	logs, err := s.docs.ListLogsByDocuments(ctx, ids)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load status logs")
	}
	logsByDoc := make(map[string][]models.StatusLogEntry, len(subs))
	for _, entry := range logs {
		logsByDoc[entry.DocumentID] = append(logsByDoc[entry.DocumentID], entry)
	}

	titles := make(map[string]string)
	items, err := s.checklist.ListAllChecklistItems(ctx)
	if err != nil {
		s.logger.Warn("failed to load checklist titles for history", zap.Error(err))
	}
	for _, item := range items {
		titles[item.ID] = item.Title
	}

	entries := make([]models.DocumentHistoryEntry, 0, len(subs))
	for _, sub := range subs {
		entryLogs := logsByDoc[sub.ID]
		if entryLogs == nil {
			entryLogs = []models.StatusLogEntry{}
		}
		title := titles[sub.ChecklistItemID]
		if title == "" {
			title = sub.Title
		}
		sub.Status = sub.Status.Normalize()
		entries = append(entries, models.DocumentHistoryEntry{Submission: sub, ItemTitle: title, Logs: entryLogs})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].SubmissionDate.After(entries[j].SubmissionDate)
	})
	return entries, nil
}

// ExportHistory renders the calling student's history as CSV or PDF.
func (s *DocumentService) ExportHistory(ctx context.Context, actor models.Actor, query models.HistoryQuery) (*ExportFile, error) {
	if query.Format == "" {
		query.Format = models.ReportFormatCSV
	}
	query.Format = models.ReportFormat(strings.ToLower(string(query.Format)))
	entries, err := s.History(ctx, actor, query)
	if err != nil {
		return nil, err
	}
	file, err := s.renderer.RenderHistory(entries, query.Format)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render history export")
	}
	return file, nil
}

// Logs returns the status log of one document, newest first.
func (s *DocumentService) Logs(ctx context.Context, actor models.Actor, documentID string) ([]models.StatusLogEntry, error) {
	sub, err := s.loadSubmission(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, sub); err != nil {
		return nil, err
	}
	logs, err := s.docs.ListLogs(ctx, sub.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load status logs")
	}
	if logs == nil {
		logs = []models.StatusLogEntry{}
	}
	return logs, nil
}

func (s *DocumentService) transition(ctx context.Context, actor models.Actor, action string, tr models.StatusTransition) (*models.StatusLogEntry, error) {
	entry, err := s.docs.ApplyTransition(ctx, tr)
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "document status changed concurrently, reload and retry")
		}
		return nil, appErrors.Internal(err, "failed to update document status")
	}
	s.metrics.RecordTransition(tr.From.Normalize(), tr.To)
	s.cache.InvalidateProgress(ctx)
	s.record(ctx, actor, action, tr.DocumentID, map[string]interface{}{
		"old_status": tr.From,
		"new_status": tr.To,
		"remarks":    tr.Remarks,
	})
	return entry, nil
}

func (s *DocumentService) loadSubmission(ctx context.Context, documentID string) (*models.Submission, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "document id is required")
	}
	sub, err := s.docs.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Internal(err, "failed to load document")
	}
	return sub, nil
}

// validateFile checks size, extension, declared and sniffed type. It returns
// the normalised extension and the sniffed media type.
func (s *DocumentService) validateFile(file models.Upload) (string, string, error) {
	size := file.Size
	if size <= 0 {
		size = int64(len(file.Content))
	}
	if size == 0 || len(file.Content) == 0 {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	if size > s.cfg.MaxFileSize || int64(len(file.Content)) > s.cfg.MaxFileSize {
		return "", "", appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds the %d MB limit", s.cfg.MaxFileSize/(1024*1024)))
	}

	ext, expected, sniffed, err := checkFileType(file.Filename, file.ContentType, file.Content)
	if err != nil {
		return "", "", err
	}
	if _, ok := s.allowed[expected]; !ok {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "file type not allowed")
	}
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	return ext, sniffed, nil
}

func (s *DocumentService) storeThumbnail(item *models.ChecklistItem, key, contentType string, content []byte) (string, bool) {
	if s.thumbs == nil || !thumbnail.Supported(contentType) {
		return "", false
	}
	if FindAvatarSlot([]models.ChecklistItem{*item}) == nil {
		return "", false
	}
	data, err := s.thumbs.Generate(bytes.NewReader(content))
	if err != nil {
		s.logger.Warn("thumbnail generation failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	thumbKey := thumbnail.PathFor(key)
	if _, err := s.bucket.Upload(thumbKey, bytes.NewReader(data)); err != nil {
		s.logger.Warn("thumbnail upload failed", zap.String("key", thumbKey), zap.Error(err))
		return "", false
	}
	return thumbKey, true
}

func (s *DocumentService) discard(keys []string) {
	for _, key := range keys {
		if err := s.bucket.Delete(key); err != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *DocumentService) record(ctx context.Context, actor models.Actor, action, documentID string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	userID := actor.ID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "document",
		ResourceID: &documentID,
		NewValues:  auditValues(values),
	}); err != nil {
		s.logger.Warn("failed to record document audit log", zap.String("action", action), zap.Error(err))
	}
}

// checkFileType matches the extension, the declared type and the sniffed
// content against allowedExtensions. It returns the lower-cased extension,
// the canonical type and the sniffed type.
func checkFileType(filename, declaredType string, content []byte) (string, string, string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	expected, ok := allowedExtensions[ext]
	if !ok {
		return "", "", "", appErrors.Clone(appErrors.ErrValidation, "file type not allowed; upload PDF, JPEG, PNG, TXT or DOCX")
	}
	if declared := declaredMediaType(declaredType); declared != "" && declared != "application/octet-stream" {
		if declared != expected {
			return "", "", "", appErrors.Clone(appErrors.ErrValidation, "declared content type does not match file extension")
		}
	}
	sniffed := baseMediaType(http.DetectContentType(content))
	if !sniffMatches(expected, sniffed) {
		return "", "", "", appErrors.Clone(appErrors.ErrValidation, "file content does not match its type")
	}
	return ext, expected, sniffed, nil
}

// declaredMediaType normalises client supplied types. Some browsers send the
// non-standard image/jpg.
func declaredMediaType(contentType string) string {
	switch mt := baseMediaType(contentType); mt {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	default:
		return mt
	}
}

func baseMediaType(contentType string) string {
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return contentType
}

// sniffMatches compares a canonical type with the sniffed one. DOCX files
// sniff as zip archives.
func sniffMatches(expected, sniffed string) bool {
	switch expected {
	case docxMIME:
		return sniffed == "application/zip"
	default:
		return expected == sniffed
	}
}

func canView(actor models.Actor, sub *models.Submission) error {
	if actor.IsReviewer() || (actor.IsStudent() && sub.StudentID == actor.ID) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "you cannot access this document")
}

func requireApproved(profile *models.User) error {
	switch profile.Status {
	case models.AccountStatusApproved:
		return nil
	case models.AccountStatusRejected:
		return appErrors.Clone(appErrors.ErrAccountRejected, "")
	default:
		return appErrors.Clone(appErrors.ErrAccountPending, "")
	}
}

func transitionError(err error) error {
	switch {
	case errors.Is(err, models.ErrRemarksRequired):
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "rejection remarks are required")
	case errors.Is(err, models.ErrIllegalTransition):
		return appErrors.Wrap(err, appErrors.ErrIllegalTransition.Code, appErrors.ErrIllegalTransition.Status, err.Error())
	default:
		return appErrors.Internal(err, "document transition failed")
	}
}
