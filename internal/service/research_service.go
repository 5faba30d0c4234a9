package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/research-docs-api/internal/models"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
)

type researchStore interface {
	FindByStudent(ctx context.Context, studentID string) (*models.ResearchDetail, error)
	Upsert(ctx context.Context, detail *models.ResearchDetail) error
}

// ResearchService manages a student's thesis details.
type ResearchService struct {
	repo      researchStore
	profiles  profileReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewResearchService constructs a ResearchService.
func NewResearchService(repo researchStore, profiles profileReader, validate *validator.Validate, logger *zap.Logger) *ResearchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResearchService{repo: repo, profiles: profiles, validator: ensureValidator(validate), logger: logger}
}

// Get returns the caller's research details, or nil when none were saved.
func (s *ResearchService) Get(ctx context.Context, actor models.Actor) (*models.ResearchDetail, error) {
	if !actor.IsStudent() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "research details belong to students")
	}
	detail, err := s.repo.FindByStudent(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to load research details")
	}
	return detail, nil
}

// Upsert saves the caller's research details, keyed on the student.
func (s *ResearchService) Upsert(ctx context.Context, actor models.Actor, req models.UpsertResearchRequest) (*models.ResearchDetail, error) {
	if !actor.IsStudent() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "research details belong to students")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid research details")
	}
	profile, err := s.profiles.FindByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrAccountPending, "")
		}
		return nil, appErrors.Internal(err, "failed to load profile")
	}
	if err := requireApproved(profile); err != nil {
		return nil, err
	}

	detail := &models.ResearchDetail{
		StudentID:    actor.ID,
		Title:        strings.TrimSpace(req.Title),
		Abstract:     trimmedOrNil(req.Abstract),
		Supervisor:   trimmedOrNil(req.Supervisor),
		CoSupervisor: trimmedOrNil(req.CoSupervisor),
		Keywords:     ParseKeywords(req.Keywords),
	}
	if err := s.repo.Upsert(ctx, detail); err != nil {
		return nil, appErrors.Internal(err, "failed to save research details")
	}
	return detail, nil
}

// ParseKeywords splits a comma separated list, trimming entries and dropping
// blanks and case-insensitive duplicates. First spelling wins.
func ParseKeywords(raw string) pq.StringArray {
	keywords := pq.StringArray{}
	seen := map[string]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		kw := strings.TrimSpace(part)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keywords = append(keywords, kw)
	}
	return keywords
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
