package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/research-docs-api/internal/models"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
	"github.com/noah-isme/research-docs-api/pkg/thumbnail"
)

const defaultSignConcurrency = 8

type studentStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, error)
	UpdateStatus(ctx context.Context, id string, status models.AccountStatus) error
}

type programChecklist interface {
	ListChecklist(ctx context.Context, programID string) ([]models.ChecklistItem, error)
	ListAllChecklistItems(ctx context.Context) ([]models.ChecklistItem, error)
}

type studentDocuments interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Submission, error)
	ListByStudents(ctx context.Context, studentIDs []string) ([]models.Submission, error)
	ListLogsByDocuments(ctx context.Context, documentIDs []string) ([]models.StatusLogEntry, error)
}

type researchReader interface {
	FindByStudent(ctx context.Context, studentID string) (*models.ResearchDetail, error)
}

type avatarSigner interface {
	SignedURL(subjectID, path string) (string, time.Time, error)
	Exists(path string) bool
}

type rosterRenderer interface {
	RenderRoster(roster *models.Roster, format models.ReportFormat) (*ExportFile, error)
}

// RosterServiceConfig tunes avatar signing.
type RosterServiceConfig struct {
	SignConcurrency int
	CacheTTL        time.Duration
}

// RosterService backs the coordinator views: the roster with pending
// accounts, per-student detail, quick view and account approvals.
type RosterService struct {
	users    studentStore
	programs programChecklist
	docs     studentDocuments
	research researchReader
	avatars  avatarSigner
	audit    auditRecorder
	renderer rosterRenderer
	cache    *CacheService
	logger   *zap.Logger
	cfg      RosterServiceConfig
}

// NewRosterService constructs a RosterService.
func NewRosterService(users studentStore, programs programChecklist, docs studentDocuments, research researchReader, avatars avatarSigner, audit auditRecorder, renderer rosterRenderer, cache *CacheService, logger *zap.Logger, cfg RosterServiceConfig) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SignConcurrency <= 0 {
		cfg.SignConcurrency = defaultSignConcurrency
	}
	return &RosterService{
		users:    users,
		programs: programs,
		docs:     docs,
		research: research,
		avatars:  avatars,
		audit:    audit,
		renderer: renderer,
		cache:    cache,
		logger:   logger,
		cfg:      cfg,
	}
}

// rosterData is the roster plus the avatar object keys of active students.
type rosterData struct {
	roster  *models.Roster
	avatars map[string]string
}

// Load builds the roster without avatar links.
func (s *RosterService) Load(ctx context.Context) (*models.Roster, error) {
	data, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return data.roster, nil
}

// Roster returns pending accounts, the active roster with signed avatar
// links and dashboard stats. The flag reports a cache hit.
func (s *RosterService) Roster(ctx context.Context, actor models.Actor) (*models.Roster, bool, error) {
	if !actor.IsReviewer() {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "only coordinators can view the roster")
	}
	var cached models.Roster
	if hit, _ := s.cache.Get(ctx, rosterCacheKey(), &cached); hit {
		return &cached, true, nil
	}
	data, err := s.load(ctx)
	if err != nil {
		return nil, false, err
	}
	s.signAvatars(ctx, data)
	_ = s.cache.Set(ctx, rosterCacheKey(), data.roster, s.cfg.CacheTTL)
	return data.roster, false, nil
}

// ExportRoster renders the active roster as CSV or PDF.
func (s *RosterService) ExportRoster(ctx context.Context, actor models.Actor, format models.ReportFormat) (*ExportFile, error) {
	if !actor.IsReviewer() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only coordinators can export the roster")
	}
	if format == "" {
		format = models.ReportFormatCSV
	}
	roster, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return s.renderer.RenderRoster(roster, format)
}

func (s *RosterService) load(ctx context.Context) (*rosterData, error) {
	role := models.RoleStudent
	students, err := s.users.List(ctx, models.UserFilter{Role: &role})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load students")
	}
	items, err := s.programs.ListAllChecklistItems(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load checklist")
	}

	itemsByProgram := make(map[string][]models.ChecklistItem)
	for _, item := range items {
		itemsByProgram[item.ProgramID] = append(itemsByProgram[item.ProgramID], item)
	}

	roster := &models.Roster{Pending: []models.PendingStudent{}, Active: []models.RosterRow{}}
	var active []models.User
	for _, st := range students {
		switch st.Status {
		case models.AccountStatusPending:
			roster.Pending = append(roster.Pending, models.PendingStudent{
				ID:                 st.ID,
				Name:               st.FullName,
				Email:              st.Email,
				RegistrationNumber: models.ValueOr(st.RegistrationNumber, "N/A"),
				Program:            models.ValueOr(st.ProgramName, "N/A"),
				Department:         models.ValueOr(st.Department, "N/A"),
				CreatedAt:          st.CreatedAt,
			})
		case models.AccountStatusApproved:
			active = append(active, st)
		}
	}
	sort.SliceStable(roster.Pending, func(i, j int) bool {
		return roster.Pending[i].CreatedAt.After(roster.Pending[j].CreatedAt)
	})

	data := &rosterData{roster: roster, avatars: map[string]string{}}
	if len(active) == 0 {
		return data, nil
	}

	ids := make([]string, 0, len(active))
	for _, st := range active {
		ids = append(ids, st.ID)
	}
	subs, err := s.docs.ListByStudents(ctx, ids)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load submissions")
	}
	subsByStudent := make(map[string][]models.Submission, len(active))
	for _, sub := range subs {
		subsByStudent[sub.StudentID] = append(subsByStudent[sub.StudentID], sub)
	}

	for _, st := range active {
		programID := models.ValueOr(st.ProgramID, "")
		programItems := itemsByProgram[programID]
		studentSubs := subsByStudent[st.ID]

		submitted := make(map[string]struct{}, len(studentSubs))
		pending := 0
		for _, sub := range studentSubs {
			submitted[sub.ChecklistItemID] = struct{}{}
			if sub.Status.Normalize() == models.StatusPending {
				pending++
			}
		}
		missing := len(programItems) - len(submitted)
		if missing < 0 {
			missing = 0
		}

		row := models.RosterRow{
			ID:                 st.ID,
			Name:               st.FullName,
			Email:              st.Email,
			RegistrationNumber: models.ValueOr(st.RegistrationNumber, "N/A"),
			Program:            models.ValueOr(st.ProgramName, "N/A"),
			ProgramID:          programID,
			Department:         models.ValueOr(st.Department, "N/A"),
			Batch:              models.ValueOr(st.BatchName, "N/A"),
			Status:             labelFor(missing, pending),
			MissingDocs:        missing,
		}
		roster.Active = append(roster.Active, row)

		if ref, ok := AvatarFileRef(programItems, studentSubs); ok {
			data.avatars[st.ID] = ref
		}

		roster.Stats.TotalStudents++
		if row.Status == models.LabelPending {
			roster.Stats.PendingReviews++
		}
		if row.MissingDocs > 0 {
			roster.Stats.Incomplete++
		}
		if row.Status == models.LabelComplete {
			roster.Stats.Complete++
		}
	}
	return data, nil
}

// signAvatars signs avatar links concurrently. Failures leave the row
// without an avatar.
func (s *RosterService) signAvatars(ctx context.Context, data *rosterData) {
	if s.avatars == nil || len(data.avatars) == 0 {
		return
	}
	var mu sync.Mutex
	signed := make(map[string]string, len(data.avatars))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SignConcurrency)
	for studentID, ref := range data.avatars {
		studentID, ref := studentID, ref
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			url, ok := s.signAvatar(studentID, ref)
			if !ok {
				return nil
			}
			mu.Lock()
			signed[studentID] = url
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for i := range data.roster.Active {
		if url, ok := signed[data.roster.Active[i].ID]; ok {
			u := url
			data.roster.Active[i].AvatarURL = &u
		}
	}
}

// signAvatar prefers the thumbnail of the photo when one was generated.
func (s *RosterService) signAvatar(studentID, ref string) (string, bool) {
	return signAvatarRef(s.avatars, s.logger, studentID, ref)
}

func signAvatarRef(avatars avatarSigner, logger *zap.Logger, studentID, ref string) (string, bool) {
	if avatars == nil || ref == "" {
		return "", false
	}
	key := ref
	if thumb := thumbnail.PathFor(ref); avatars.Exists(thumb) {
		key = thumb
	}
	url, _, err := avatars.SignedURL(studentID, key)
	if err != nil {
		logger.Warn("avatar signing failed", zap.String("student_id", studentID), zap.Error(err))
		return "", false
	}
	return url, true
}

// StudentDetail is the coordinator's per-student page: profile, checklist,
// summary, research details and the review log.
func (s *RosterService) StudentDetail(ctx context.Context, actor models.Actor, studentID string) (*models.StudentDetail, error) {
	detail, subs, err := s.detail(ctx, actor, studentID)
	if err != nil {
		return nil, err
	}
	if s.research != nil {
		research, err := s.research.FindByStudent(ctx, studentID)
		switch {
		case err == nil:
			detail.Research = research
		case !errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Internal(err, "failed to load research details")
		}
	}
	if len(subs) > 0 {
		ids := make([]string, 0, len(subs))
		for _, sub := range subs {
			ids = append(ids, sub.ID)
		}
		logs, err := s.docs.ListLogsByDocuments(ctx, ids)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load document logs")
		}
		detail.Logs = logs
	}
	return detail, nil
}

// QuickView returns the profile, summary and checklist rows only.
func (s *RosterService) QuickView(ctx context.Context, actor models.Actor, studentID string) (*models.StudentDetail, error) {
	detail, _, err := s.detail(ctx, actor, studentID)
	return detail, err
}

func (s *RosterService) detail(ctx context.Context, actor models.Actor, studentID string) (*models.StudentDetail, []models.Submission, error) {
	if !actor.IsReviewer() {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only coordinators can view student details")
	}
	profile, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, nil, appErrors.Internal(err, "failed to load student")
	}
	if profile.Role != models.RoleStudent {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	var items []models.ChecklistItem
	if programID := models.ValueOr(profile.ProgramID, ""); programID != "" {
		items, err = s.programs.ListChecklist(ctx, programID)
		if err != nil {
			return nil, nil, appErrors.Internal(err, "failed to load checklist")
		}
	}
	subs, err := s.docs.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to load submissions")
	}

	rows := ResolveChecklist(items, subs)
	detail := &models.StudentDetail{
		Profile:   *profile,
		Checklist: rows,
		Summary:   Summarize(rows),
	}
	if ref, ok := AvatarFileRef(items, subs); ok {
		if url, ok := s.signAvatar(studentID, ref); ok {
			detail.AvatarURL = &url
		}
	}
	return detail, subs, nil
}

// ApproveAccount activates a pending student account.
func (s *RosterService) ApproveAccount(ctx context.Context, actor models.Actor, studentID string) error {
	return s.setAccountStatus(ctx, actor, studentID, models.AccountStatusApproved, models.AuditActionAccountApprove)
}

// RejectAccount declines a student registration.
func (s *RosterService) RejectAccount(ctx context.Context, actor models.Actor, studentID string) error {
	return s.setAccountStatus(ctx, actor, studentID, models.AccountStatusRejected, models.AuditActionAccountReject)
}

func (s *RosterService) setAccountStatus(ctx context.Context, actor models.Actor, studentID string, status models.AccountStatus, action string) error {
	if !actor.IsReviewer() {
		return appErrors.Clone(appErrors.ErrForbidden, "only coordinators can review accounts")
	}
	previous, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Internal(err, "failed to load student")
	}
	oldStatus := previous.Status
	if err := s.users.UpdateStatus(ctx, studentID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Internal(err, "failed to update account status")
	}
	s.cache.InvalidateProgress(ctx)

	if s.audit != nil {
		actorID := actor.ID
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actorID,
			Action:     action,
			Resource:   "user",
			ResourceID: &studentID,
			OldValues:  auditValues(map[string]interface{}{"status": oldStatus}),
			NewValues:  auditValues(map[string]interface{}{"status": status}),
		}); err != nil {
			s.logger.Warn("failed to record account audit log", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	s.logger.Info("student account reviewed", zap.String("student_id", studentID), zap.String("status", string(status)), zap.String("reviewer", actor.ID))
	return nil
}
