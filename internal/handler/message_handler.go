package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/research-docs-api/internal/models"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
	"github.com/noah-isme/research-docs-api/pkg/realtime"
	"github.com/noah-isme/research-docs-api/pkg/response"
)

const streamWriteTimeout = 5 * time.Second

type messageService interface {
	Contacts(ctx context.Context, actor models.Actor) ([]models.Contact, error)
	Conversation(ctx context.Context, actor models.Actor, partnerID string) ([]models.Message, error)
	Send(ctx context.Context, actor models.Actor, partnerID string, req models.SendMessageRequest, attachment *models.Attachment) (*models.Message, error)
}

type eventStream interface {
	Subscribe(buffer int) <-chan realtime.Event
	Unsubscribe(sub <-chan realtime.Event)
}

// MessageStreamConfig tunes the WebSocket change feed.
type MessageStreamConfig struct {
	OriginPatterns []string
	Buffer         int
	MaxAttachment  int64
}

// MessageHandler exposes direct messaging and its realtime feed.
type MessageHandler struct {
	service messageService
	events  eventStream
	cfg     MessageStreamConfig
	logger  *zap.Logger
}

// NewMessageHandler constructs the handler. A nil events stream disables
// the WebSocket feed.
func NewMessageHandler(svc messageService, events eventStream, cfg MessageStreamConfig, logger *zap.Logger) *MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttachment <= 0 {
		cfg.MaxAttachment = 10 * 1024 * 1024
	}
	return &MessageHandler{service: svc, events: events, cfg: cfg, logger: logger}
}

// Contacts godoc
// @Summary Conversation partners
// @Tags Messages
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /messages/contacts [get]
func (h *MessageHandler) Contacts(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	contacts, err := h.service.Contacts(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, contacts, nil)
}

// Conversation godoc
// @Summary Messages with one partner, oldest first
// @Tags Messages
// @Produce json
// @Param userId path string true "Partner user ID"
// @Success 200 {object} response.Envelope
// @Router /messages/{userId} [get]
func (h *MessageHandler) Conversation(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	messages, err := h.service.Conversation(c.Request.Context(), actor, c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, messages, nil)
}

// Send godoc
// @Summary Send a message
// @Description JSON body, or multipart with content and an optional attachment
// @Tags Messages
// @Accept json
// @Accept multipart/form-data
// @Produce json
// @Param userId path string true "Recipient user ID"
// @Success 201 {object} response.Envelope
// @Router /messages/{userId} [post]
func (h *MessageHandler) Send(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var (
		req        models.SendMessageRequest
		attachment *models.Attachment
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req.Content = c.PostForm("content")
		var err error
		attachment, err = h.readAttachment(c)
		if err != nil {
			response.Error(c, err)
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	msg, err := h.service.Send(c.Request.Context(), actor, c.Param("userId"), req, attachment)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

func (h *MessageHandler) readAttachment(c *gin.Context) (*models.Attachment, error) {
	header, err := c.FormFile("attachment")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attachment")
	}
	if header.Size > h.cfg.MaxAttachment {
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, "attachment too large")
	}
	src, err := header.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read attachment")
	}
	defer src.Close() //nolint:errcheck
	content, err := io.ReadAll(io.LimitReader(src, h.cfg.MaxAttachment+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read attachment")
	}
	return &models.Attachment{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

// Stream godoc
// @Summary Realtime message feed
// @Description WebSocket stream of message.created events addressed to the caller
// @Tags Messages
// @Router /messages/stream [get]
func (h *MessageHandler) Stream(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if h.events == nil {
		response.Error(c, appErrors.New("STREAM_UNAVAILABLE", http.StatusServiceUnavailable, "realtime feed disabled"))
		return
	}
	opts := &websocket.AcceptOptions{}
	if len(h.cfg.OriginPatterns) > 0 {
		opts.OriginPatterns = h.cfg.OriginPatterns
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	sub := h.events.Subscribe(h.cfg.Buffer)
	defer h.events.Unsubscribe(sub)

	// Client frames are ignored; reading surfaces the close handshake.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			if !evt.For(actor.ID) {
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				h.logger.Debug("websocket write failed", zap.String("user_id", actor.ID), zap.Error(err))
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}
