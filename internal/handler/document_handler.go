package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/research-docs-api/internal/models"
	"github.com/noah-isme/research-docs-api/internal/service"
	appErrors "github.com/noah-isme/research-docs-api/pkg/errors"
	"github.com/noah-isme/research-docs-api/pkg/response"
)

const (
	publicFilesPrefix = "chat_files/"
	// multipartOverhead bounds the non-file part of an upload request.
	multipartOverhead = 64 * 1024
)

// publicTypes lists the extensions served with their own content type.
// Anything else is sent as an opaque download.
var publicTypes = map[string]struct{}{
	".pdf": {}, ".jpg": {}, ".jpeg": {}, ".png": {}, ".txt": {}, ".docx": {},
}

type documentService interface {
	Upload(ctx context.Context, actor models.Actor, checklistItemID string, file models.Upload) (*models.Submission, error)
	Approve(ctx context.Context, actor models.Actor, documentID string) (*models.StatusLogEntry, error)
	Reject(ctx context.Context, actor models.Actor, documentID string, req models.RejectRequest) (*models.StatusLogEntry, error)
	SignedURL(ctx context.Context, actor models.Actor, documentID string) (*models.SignedDocumentURL, error)
	Download(ctx context.Context, token string) (*service.DocumentFile, error)
	Logs(ctx context.Context, actor models.Actor, documentID string) ([]models.StatusLogEntry, error)
}

type publicObjects interface {
	Open(path string) (*os.File, error)
}

// DocumentHandler exposes checklist document upload, review and file retrieval.
type DocumentHandler struct {
	service   documentService
	public    publicObjects
	maxUpload int64
}

// NewDocumentHandler constructs the handler. maxUpload caps how much of a
// multipart file is read before the service applies its own size rule.
func NewDocumentHandler(svc documentService, public publicObjects, maxUpload int64) *DocumentHandler {
	if maxUpload <= 0 {
		maxUpload = 10 * 1024 * 1024
	}
	return &DocumentHandler{service: svc, public: public, maxUpload: maxUpload}
}

// Upload godoc
// @Summary Upload a checklist document
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param checklistItemId formData string true "Checklist item ID"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxUpload)))
			return
		}
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	itemID := strings.TrimSpace(c.PostForm("checklistItemId"))
	if header.Size > h.maxUpload {
		response.Error(c, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxUpload)))
		return
	}
	src, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read file"))
		return
	}
	defer src.Close() //nolint:errcheck
	content, err := io.ReadAll(io.LimitReader(src, h.maxUpload+1))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read file"))
		return
	}

	sub, err := h.service.Upload(c.Request.Context(), actor, itemID, models.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        int64(len(content)),
		Content:     content,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sub)
}

// SignedURL godoc
// @Summary Signed download URL for a document
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/url [get]
func (h *DocumentHandler) SignedURL(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	signed, err := h.service.SignedURL(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, signed, nil)
}

// Logs godoc
// @Summary Document status log
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/logs [get]
func (h *DocumentHandler) Logs(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	logs, err := h.service.Logs(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// Approve godoc
// @Summary Approve a document
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /documents/{id}/approve [post]
func (h *DocumentHandler) Approve(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	entry, err := h.service.Approve(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Reject godoc
// @Summary Reject a document with remarks
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body models.RejectRequest true "Remarks"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /documents/{id}/reject [post]
func (h *DocumentHandler) Reject(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entry, err := h.service.Reject(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Download godoc
// @Summary Download a stored object via signed token
// @Tags Files
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /files/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	file, err := h.service.Download(c.Request.Context(), c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.File.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=\"%s\"", file.Name))
	c.Header("Cache-Control", "private, max-age=300")
	c.DataFromReader(http.StatusOK, file.Size, file.ContentType, file.File, nil)
}

// Public godoc
// @Summary Public chat attachment
// @Tags Files
// @Produce octet-stream
// @Param path path string true "Object path"
// @Success 200 {file} binary
// @Router /files/public/{path} [get]
func (h *DocumentHandler) Public(c *gin.Context) {
	key := strings.TrimPrefix(path.Clean("/"+c.Param("path")), "/")
	if !strings.HasPrefix(key, publicFilesPrefix) || h.public == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "file not found"))
		return
	}
	f, err := h.public.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "file not found"))
			return
		}
		response.Error(c, appErrors.Internal(err, "failed to open file"))
		return
	}
	defer f.Close() //nolint:errcheck
	info, err := f.Stat()
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to stat file"))
		return
	}
	contentType := "application/octet-stream"
	if ext := strings.ToLower(filepath.Ext(key)); ext != "" {
		if _, ok := publicTypes[ext]; ok {
			if t := mime.TypeByExtension(ext); t != "" {
				contentType = t
			}
		}
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", path.Base(key)))
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Cache-Control", "public, max-age=86400")
	c.DataFromReader(http.StatusOK, info.Size(), contentType, f, nil)
}
