package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/research-docs-api/internal/models"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
	"github.com/noah-isme/research-docs-api/pkg/realtime"
)

const (
	defaultAttachmentLimit = 10 * 1024 * 1024
	conversationLimit      = 200
	chatFilesPrefix        = "chat_files"
)

type messageStore interface {
	Create(ctx context.Context, msg *models.Message) error
	ListConversation(ctx context.Context, userID, partnerID string, limit int) ([]models.Message, error)
	LatestPerPartner(ctx context.Context, userID string) ([]models.Message, error)
}

type contactDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, error)
}

type attachmentStore interface {
	Upload(path string, r io.Reader) (int64, error)
	PublicURL(path string) string
}

type eventPublisher interface {
	Publish(ctx context.Context, evt realtime.Event) error
}

// MessageServiceConfig bounds attachments.
type MessageServiceConfig struct {
	MaxAttachmentSize int64
}

// MessageService handles direct messages between students and coordinators.
type MessageService struct {
	messages  messageStore
	users     contactDirectory
	files     attachmentStore
	events    eventPublisher
	validator *validator.Validate
	logger    *zap.Logger
	cfg       MessageServiceConfig
	now       func() time.Time
}

// NewMessageService constructs a MessageService.
func NewMessageService(messages messageStore, users contactDirectory, files attachmentStore, events eventPublisher, validate *validator.Validate, logger *zap.Logger, cfg MessageServiceConfig) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttachmentSize <= 0 {
		cfg.MaxAttachmentSize = defaultAttachmentLimit
	}
	return &MessageService{
		messages:  messages,
		users:     users,
		files:     files,
		events:    events,
		validator: ensureValidator(validate),
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Contacts lists the caller's conversation partners with the latest message
// exchanged. Coordinators see every student. Students see their assigned
// coordinator, or all coordinators when none is assigned.
func (s *MessageService) Contacts(ctx context.Context, actor models.Actor) ([]models.Contact, error) {
	partners, err := s.partners(ctx, actor)
	if err != nil {
		return nil, err
	}
	latest, err := s.messages.LatestPerPartner(ctx, actor.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load recent messages")
	}
	byPartner := make(map[string]models.Message, len(latest))
	for _, msg := range latest {
		partner := msg.ReceiverID
		if partner == actor.ID {
			partner = msg.SenderID
		}
		byPartner[partner] = msg
	}

	contacts := make([]models.Contact, 0, len(partners))
	for _, u := range partners {
		if u.ID == actor.ID {
			continue
		}
		contact := models.Contact{UserID: u.ID, FullName: u.FullName, Role: u.Role}
		if msg, ok := byPartner[u.ID]; ok {
			msg := msg
			contact.LastMessage = &msg
		}
		contacts = append(contacts, contact)
	}
	sort.SliceStable(contacts, func(i, j int) bool {
		a, b := contacts[i].LastMessage, contacts[j].LastMessage
		switch {
		case a != nil && b != nil:
			return a.CreatedAt.After(b.CreatedAt)
		case a != nil || b != nil:
			return a != nil
		default:
			return contacts[i].FullName < contacts[j].FullName
		}
	})
	return contacts, nil
}

func (s *MessageService) partners(ctx context.Context, actor models.Actor) ([]models.User, error) {
	if actor.IsReviewer() {
		role := models.RoleStudent
		students, err := s.users.List(ctx, models.UserFilter{Role: &role})
		if err != nil {
			return nil, appErrors.Internal(err, "failed to list students")
		}
		return students, nil
	}

	profile, err := s.users.FindByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "profile not found")
		}
		return nil, appErrors.Internal(err, "failed to load profile")
	}
	if coordinatorID := models.ValueOr(profile.CoordinatorID, ""); coordinatorID != "" {
		coordinator, err := s.users.FindByID(ctx, coordinatorID)
		switch {
		case err == nil:
			return []models.User{*coordinator}, nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Internal(err, "failed to load coordinator")
		}
		s.logger.Warn("assigned coordinator not found", zap.String("student_id", actor.ID), zap.String("coordinator_id", coordinatorID))
	}
	role := models.RoleCoordinator
	coordinators, err := s.users.List(ctx, models.UserFilter{Role: &role})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list coordinators")
	}
	return coordinators, nil
}

// Conversation returns the messages between the caller and partnerID,
// oldest first.
func (s *MessageService) Conversation(ctx context.Context, actor models.Actor, partnerID string) ([]models.Message, error) {
	if err := s.checkPartner(actor, partnerID); err != nil {
		return nil, err
	}
	if _, err := s.resolvePartner(ctx, actor, partnerID); err != nil {
		return nil, err
	}
	messages, err := s.messages.ListConversation(ctx, actor.ID, partnerID, conversationLimit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load conversation")
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}

// Send stores a message from the caller to partnerID and publishes it on the
// change feed. attachment may be nil.
func (s *MessageService) Send(ctx context.Context, actor models.Actor, partnerID string, req models.SendMessageRequest, attachment *models.Attachment) (*models.Message, error) {
	if err := s.checkPartner(actor, partnerID); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid message")
	}
	content := strings.TrimSpace(req.Content)
	if content == "" && attachment == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message must have content or an attachment")
	}
	partner, err := s.resolvePartner(ctx, actor, partnerID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		SenderID:   actor.ID,
		ReceiverID: partnerID,
		Content:    content,
		CreatedAt:  s.now().UTC(),
	}
	if attachment != nil {
		url, err := s.storeAttachment(actor, partner, attachment)
		if err != nil {
			return nil, err
		}
		name := attachment.Filename
		msg.AttachmentURL = &url
		msg.AttachmentName = &name
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, appErrors.Internal(err, "failed to send message")
	}
	s.publish(ctx, msg)
	return msg, nil
}

func (s *MessageService) checkPartner(actor models.Actor, partnerID string) error {
	if _, err := uuid.Parse(partnerID); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid user id")
	}
	if partnerID == actor.ID {
		return appErrors.Clone(appErrors.ErrValidation, "cannot message yourself")
	}
	return nil
}

// resolvePartner loads the other party. Students may only reach the
// coordinators their contact list offers.
func (s *MessageService) resolvePartner(ctx context.Context, actor models.Actor, partnerID string) (*models.User, error) {
	partner, err := s.users.FindByID(ctx, partnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "recipient not found")
		}
		return nil, appErrors.Internal(err, "failed to load recipient")
	}
	if actor.IsReviewer() {
		return partner, nil
	}
	allowed, err := s.partners(ctx, actor)
	if err != nil {
		return nil, err
	}
	for _, u := range allowed {
		if u.ID == partner.ID {
			return partner, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only message your coordinator")
}

// storeAttachment uploads under the student's folder of the conversation.
func (s *MessageService) storeAttachment(actor models.Actor, partner *models.User, attachment *models.Attachment) (string, error) {
	size := int64(len(attachment.Content))
	if size == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "attachment is empty")
	}
	if size > s.cfg.MaxAttachmentSize {
		return "", appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("attachment exceeds %d bytes", s.cfg.MaxAttachmentSize))
	}
	ext, _, _, err := checkFileType(attachment.Filename, attachment.ContentType, attachment.Content)
	if err != nil {
		return "", err
	}
	owner := partner.ID
	if actor.IsStudent() {
		owner = actor.ID
	}
	path := attachmentPath(owner, ext, s.now())
	if _, err := s.files.Upload(path, bytes.NewReader(attachment.Content)); err != nil {
		return "", appErrors.Internal(err, "failed to store attachment")
	}
	return s.files.PublicURL(path), nil
}

func attachmentPath(owner, ext string, now time.Time) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s/%s/%d_%s.%s", chatFilesPrefix, owner, now.UnixMilli(), suffix, ext)
}

func (s *MessageService) publish(ctx context.Context, msg *models.Message) {
	if s.events == nil {
		return
	}
	evt, err := realtime.NewEvent(models.EventMessageCreated, msg, msg.SenderID, msg.ReceiverID)
	if err != nil {
		s.logger.Warn("failed to encode message event", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish message event", zap.String("message_id", msg.ID), zap.Error(err))
	}
}
