package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-ingest/internal/http/response"
	"github.com/yungbote/neurobridge-ingest/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
	"github.com/yungbote/neurobridge-ingest/internal/services"
)

const DefaultMaxUploadBytes = int64(32 << 20)

type FileHandler struct {
	log       *logger.Logger
	ingest    services.IngestionService
	maxUpload int64
}

func NewFileHandler(log *logger.Logger, ingest services.IngestionService, maxUpload int64) *FileHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &FileHandler{
		log:       log.With("handler", "FileHandler"),
		ingest:    ingest,
		maxUpload: maxUpload,
	}
}

type uploadJSON struct {
	FileName      string         `json:"file_name"`
	ContentBase64 string         `json:"content_base64"`
	ContentType   string         `json:"content_type"`
	Origin        string         `json:"origin"`
	Metadata      map[string]any `json:"metadata"`
}

// POST /api/files
func (h *FileHandler) Upload(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	var req services.IngestRequest
	var err error
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req, err = h.multipartRequest(c)
	} else {
		req, err = jsonRequest(c)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	req.UserID = userID

	rec, err := h.ingest.Ingest(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.TagFile(c, rec.ID.String(), rec.Namespace)
	response.RespondCreated(c, rec)
}

func (h *FileHandler) multipartRequest(c *gin.Context) (services.IngestRequest, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return services.IngestRequest{}, fmt.Errorf("multipart field \"file\": %w", err)
	}
	f, err := fh.Open()
	if err != nil {
		return services.IngestRequest{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return services.IngestRequest{}, err
	}
	if data == nil {
		data = []byte{}
	}

	req := services.IngestRequest{
		FileName:    fh.Filename,
		Data:        data,
		ContentType: strings.TrimSpace(c.PostForm("content_type")),
		Origin:      c.PostForm("origin"),
	}
	if v := strings.TrimSpace(c.PostForm("file_name")); v != "" {
		req.FileName = v
	}
	if req.ContentType == "" {
		req.ContentType = fh.Header.Get("Content-Type")
	}
	if raw := strings.TrimSpace(c.PostForm("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Metadata); err != nil {
			return services.IngestRequest{}, fmt.Errorf("metadata must be a JSON object: %w", err)
		}
	}
	return req, nil
}

func jsonRequest(c *gin.Context) (services.IngestRequest, error) {
	var body uploadJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		return services.IngestRequest{}, err
	}
	return services.IngestRequest{
		FileName:    body.FileName,
		Base64:      body.ContentBase64,
		ContentType: body.ContentType,
		Origin:      body.Origin,
		Metadata:    body.Metadata,
	}, nil
}

// GET /api/files
func (h *FileHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	files, err := h.ingest.List(c.Request.Context(), userID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"files": files})
}

// GET /api/files/:id
func (h *FileHandler) Get(c *gin.Context) {
	userID, fileID, ok := userAndFile(c)
	if !ok {
		return
	}
	rec, err := h.ingest.Get(c.Request.Context(), userID, fileID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.TagFile(c, rec.ID.String(), rec.Namespace)
	response.RespondOK(c, rec)
}

// GET /api/files/:id/content
func (h *FileHandler) Content(c *gin.Context) {
	userID, fileID, ok := userAndFile(c)
	if !ok {
		return
	}
	data, rec, err := h.ingest.Download(c.Request.Context(), userID, fileID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.TagFile(c, rec.ID.String(), rec.Namespace)
	ct := rec.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.DisplayName))
	c.Data(http.StatusOK, ct, data)
}

// POST /api/files/:id/reextract
func (h *FileHandler) Reextract(c *gin.Context) {
	userID, fileID, ok := userAndFile(c)
	if !ok {
		return
	}
	rec, err := h.ingest.Reextract(c.Request.Context(), userID, fileID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.TagFile(c, rec.ID.String(), rec.Namespace)
	response.RespondOK(c, rec)
}

// DELETE /api/files/:id
func (h *FileHandler) Delete(c *gin.Context) {
	userID, fileID, ok := userAndFile(c)
	if !ok {
		return
	}
	response.TagFile(c, fileID.String(), "")
	if err := h.ingest.Delete(c.Request.Context(), userID, fileID); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func requireUser(c *gin.Context) (string, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || strings.TrimSpace(rd.UserID) == "" {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("unauthorized"))
		return "", false
	}
	return rd.UserID, true
}

func userAndFile(c *gin.Context) (string, uuid.UUID, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return "", uuid.Nil, false
	}
	fileID, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_file_id", err)
		return "", uuid.Nil, false
	}
	return userID, fileID, true
}
