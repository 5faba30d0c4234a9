package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-docs-api/internal/models"
	"github.com/noah-isme/research-docs-api/pkg/realtime"
)

type messageServiceMock struct {
	partner    string
	req        models.SendMessageRequest
	attachment *models.Attachment
}

func (m *messageServiceMock) Contacts(context.Context, models.Actor) ([]models.Contact, error) {
	return []models.Contact{{UserID: "c-1", FullName: "Dr. Rahman", Role: models.RoleCoordinator}}, nil
}

func (m *messageServiceMock) Conversation(_ context.Context, _ models.Actor, partnerID string) ([]models.Message, error) {
	m.partner = partnerID
	return []models.Message{}, nil
}

func (m *messageServiceMock) Send(_ context.Context, actor models.Actor, partnerID string, req models.SendMessageRequest, attachment *models.Attachment) (*models.Message, error) {
	m.partner = partnerID
	m.req = req
	m.attachment = attachment
	return &models.Message{ID: "m-1", SenderID: actor.ID, ReceiverID: partnerID, Content: req.Content}, nil
}

func TestMessageHandlerSendJSON(t *testing.T) {
	svc := &messageServiceMock{}
	handler := NewMessageHandler(svc, nil, MessageStreamConfig{}, nil)

	c, w := newGinContext(http.MethodPost, "/messages/c-1", []byte(`{"content":"Draft attached soon"}`))
	c.AddParam("userId", "c-1")
	asUser(c, "s-1", models.RoleStudent)
	handler.Send(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "c-1", svc.partner)
	assert.Equal(t, "Draft attached soon", svc.req.Content)
	assert.Nil(t, svc.attachment)
}

func TestMessageHandlerSendMultipartWithAttachment(t *testing.T) {
	svc := &messageServiceMock{}
	handler := NewMessageHandler(svc, nil, MessageStreamConfig{MaxAttachment: 1024}, nil)

	body, contentType := multipartBody(t, map[string]string{"content": "see file"}, "attachment", "chapter1.docx", []byte("docx bytes"))
	c, w := newGinContext(http.MethodPost, "/messages/c-1", body.Bytes())
	c.Request.Header.Set("Content-Type", contentType)
	c.AddParam("userId", "c-1")
	asUser(c, "s-1", models.RoleStudent)
	handler.Send(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "see file", svc.req.Content)
	require.NotNil(t, svc.attachment)
	assert.Equal(t, "chapter1.docx", svc.attachment.Filename)
	assert.Equal(t, []byte("docx bytes"), svc.attachment.Content)
}

func TestMessageHandlerSendMultipartWithoutAttachment(t *testing.T) {
	svc := &messageServiceMock{}
	handler := NewMessageHandler(svc, nil, MessageStreamConfig{}, nil)

	body, contentType := multipartBody(t, map[string]string{"content": "text only"}, "", "", nil)
	c, w := newGinContext(http.MethodPost, "/messages/c-1", body.Bytes())
	c.Request.Header.Set("Content-Type", contentType)
	c.AddParam("userId", "c-1")
	asUser(c, "s-1", models.RoleStudent)
	handler.Send(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, svc.attachment)
}

func TestMessageHandlerSendAttachmentTooLarge(t *testing.T) {
	svc := &messageServiceMock{}
	handler := NewMessageHandler(svc, nil, MessageStreamConfig{MaxAttachment: 4}, nil)

	body, contentType := multipartBody(t, nil, "attachment", "big.bin", []byte("0123456789"))
	c, w := newGinContext(http.MethodPost, "/messages/c-1", body.Bytes())
	c.Request.Header.Set("Content-Type", contentType)
	c.AddParam("userId", "c-1")
	asUser(c, "s-1", models.RoleStudent)
	handler.Send(c)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, svc.partner)
}

func TestMessageHandlerStreamDisabled(t *testing.T) {
	handler := NewMessageHandler(&messageServiceMock{}, nil, MessageStreamConfig{}, nil)

	c, w := newGinContext(http.MethodGet, "/messages/stream", nil)
	asUser(c, "s-1", models.RoleStudent)
	handler.Stream(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMessageHandlerStreamDeliversOwnEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := realtime.NewHub(nil)
	handler := NewMessageHandler(&messageServiceMock{}, hub, MessageStreamConfig{Buffer: 4}, nil)

	r := gin.New()
	r.GET("/messages/stream", func(c *gin.Context) {
		asUser(c, "s-1", models.RoleStudent)
		c.Next()
	}, handler.Stream)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/messages/stream", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done") //nolint:errcheck

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	other, err := realtime.NewEvent("message.created", map[string]string{"content": "not yours"}, "s-2", "c-1")
	require.NoError(t, err)
	mine, err := realtime.NewEvent("message.created", map[string]string{"content": "hello"}, "s-1", "c-1")
	require.NoError(t, err)
	hub.Publish(other)
	hub.Publish(mine)

	var got realtime.Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, mine.ID, got.ID)
	assert.JSONEq(t, `{"content":"hello"}`, string(got.Data))
}
