package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/research-docs-api/internal/models"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
)

const defaultAnnouncementLimit = 50

type announcementRepository interface {
	List(ctx context.Context, limit int) ([]models.Announcement, error)
	Create(ctx context.Context, announcement *models.Announcement) error
	Delete(ctx context.Context, id string) error
}

// AnnouncementService handles announcement workflows.
type AnnouncementService struct {
	repo      announcementRepository
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAnnouncementService constructs the service.
func NewAnnouncementService(repo announcementRepository, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *AnnouncementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnnouncementService{repo: repo, audit: audit, validator: ensureValidator(validate), logger: logger}
}

// List returns announcements, pinned first and then newest first.
func (s *AnnouncementService) List(ctx context.Context, limit int) ([]models.Announcement, error) {
	if limit <= 0 {
		limit = defaultAnnouncementLimit
	}
	rows, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list announcements")
	}
	if rows == nil {
		rows = []models.Announcement{}
	}
	return rows, nil
}

// Feed loads announcements as a dashboard section. A failed read is
// reported in the section instead of failing the page.
func (s *AnnouncementService) Feed(ctx context.Context, limit int) models.ReadResult[models.Announcement] {
	rows, err := s.List(ctx, limit)
	if err != nil {
		s.logger.Warn("announcement feed unavailable", zap.Error(err))
	}
	return models.NewReadResult(rows, err)
}

// Create posts a new announcement.
func (s *AnnouncementService) Create(ctx context.Context, actor models.Actor, req models.CreateAnnouncementRequest) (*models.Announcement, error) {
	if !actor.IsReviewer() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only coordinators can post announcements")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payload")
	}
	announcement := &models.Announcement{
		Title:     strings.TrimSpace(req.Title),
		Content:   strings.TrimSpace(req.Content),
		CreatedBy: actor.ID,
		IsPinned:  req.IsPinned,
	}
	if err := s.repo.Create(ctx, announcement); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create announcement")
	}
	s.record(ctx, actor, models.AuditActionAnnouncementPost, announcement.ID, auditValues(announcement))
	return announcement, nil
}

// Delete removes an announcement by id.
func (s *AnnouncementService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if !actor.IsReviewer() {
		return appErrors.Clone(appErrors.ErrForbidden, "only coordinators can delete announcements")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete announcement")
	}
	s.record(ctx, actor, models.AuditActionAnnouncementDrop, id, nil)
	return nil
}

func (s *AnnouncementService) record(ctx context.Context, actor models.Actor, action, id string, values []byte) {
	if s.audit == nil {
		return
	}
	userID := actor.ID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "announcement",
		ResourceID: &id,
		NewValues:  values,
	}); err != nil {
		s.logger.Warn("failed to record announcement audit log", zap.String("action", action), zap.Error(err))
	}
}
