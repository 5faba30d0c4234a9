package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/research-docs-api/internal/models"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
)

const dashboardAnnouncementLimit = 5

type profileRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, user *models.User) error
}

type accountLookup interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
}

type announcementFeed interface {
	Feed(ctx context.Context, limit int) models.ReadResult[models.Announcement]
}

type checklistLister interface {
	ListChecklist(ctx context.Context, programID string) ([]models.ChecklistItem, error)
}

type submissionReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Submission, error)
}

// ProfileService serves the caller's own profile and the student dashboard.
type ProfileService struct {
	profiles      profileRepository
	accounts      accountLookup
	checklist     checklistLister
	docs          submissionReader
	research      researchReader
	announcements announcementFeed
	avatars       avatarSigner
	cache         *CacheService
	validator     *validator.Validate
	logger        *zap.Logger
	now           func() time.Time
}

// NewProfileService constructs a ProfileService.
func NewProfileService(profiles profileRepository, accounts accountLookup, checklist checklistLister, docs submissionReader, research researchReader, announcements announcementFeed, avatars avatarSigner, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{
		profiles:      profiles,
		accounts:      accounts,
		checklist:     checklist,
		docs:          docs,
		research:      research,
		announcements: announcements,
		avatars:       avatars,
		cache:         cache,
		validator:     ensureValidator(validate),
		logger:        logger,
		now:           time.Now,
	}
}

// Get returns the caller's profile. A missing row is provisioned from the
// account metadata and read back.
func (s *ProfileService) Get(ctx context.Context, actor models.Actor) (*models.User, error) {
	profile, err := s.profiles.FindByID(ctx, actor.ID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to load profile")
	}

	account, err := s.accounts.FindByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Internal(err, "failed to load account")
	}
	provisioned := account.ProvisionProfile(s.now().UTC())
	if err := s.profiles.Create(ctx, provisioned); err != nil {
		return nil, appErrors.Internal(err, "failed to provision profile")
	}
	s.logger.Info("profile provisioned from account metadata", zap.String("user_id", actor.ID))

	profile, err = s.profiles.FindByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return provisioned, nil
		}
		return nil, appErrors.Internal(err, "failed to load profile")
	}
	return profile, nil
}

// Update edits the caller's name, registration number and department.
func (s *ProfileService) Update(ctx context.Context, actor models.Actor, req models.UpdateProfileRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid profile")
	}
	profile, err := s.Get(ctx, actor)
	if err != nil {
		return nil, err
	}
	profile.FullName = strings.TrimSpace(req.FullName)
	profile.RegistrationNumber = trimmedOrNil(req.RegistrationNumber)
	profile.Department = trimmedOrNil(req.Department)
	if err := s.profiles.UpdateProfile(ctx, profile); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "profile not found")
		}
		return nil, appErrors.Internal(err, "failed to update profile")
	}
	s.cache.InvalidateProgress(ctx)
	return profile, nil
}

// Dashboard assembles the student landing page. Accounts that are not yet
// approved get their status and the announcements only.
func (s *ProfileService) Dashboard(ctx context.Context, actor models.Actor) (*models.StudentDashboard, error) {
	if !actor.IsStudent() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "the dashboard is for students")
	}
	profile, err := s.Get(ctx, actor)
	if err != nil {
		return nil, err
	}
	dashboard := &models.StudentDashboard{
		Profile:       *profile,
		AccountStatus: profile.Status,
		Announcements: models.NewReadResult[models.Announcement](nil, nil),
	}
	if s.announcements != nil {
		dashboard.Announcements = s.announcements.Feed(ctx, dashboardAnnouncementLimit)
	}
	if profile.Status != models.AccountStatusApproved {
		return dashboard, nil
	}

	var items []models.ChecklistItem
	if programID := models.ValueOr(profile.ProgramID, ""); programID != "" {
		items, err = s.checklist.ListChecklist(ctx, programID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load checklist")
		}
	}
	subs, err := s.docs.ListByStudent(ctx, actor.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load submissions")
	}
	rows := ResolveChecklist(items, subs)
	summary := Summarize(rows)
	dashboard.Checklist = rows
	dashboard.Summary = &summary

	if s.research != nil {
		research, err := s.research.FindByStudent(ctx, actor.ID)
		switch {
		case err == nil:
			dashboard.Research = research
		case !errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Internal(err, "failed to load research details")
		}
	}
	if ref, ok := AvatarFileRef(items, subs); ok {
		if url, ok := signAvatarRef(s.avatars, s.logger, actor.ID, ref); ok {
			dashboard.AvatarURL = &url
		}
	}
	return dashboard, nil
}
