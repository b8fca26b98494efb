package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/AnTengye/contractrisk/service"
	"github.com/gin-gonic/gin"
)

// Analyzer runs one uploaded document through the analysis pipeline
type Analyzer interface {
	Analyze(ctx context.Context, content []byte, filename string) (*model.DocumentAnalysis, error)
}

type AnalysisHandler struct {
	analyzer       Analyzer
	store          service.AnalysisStore
	listLimit      int
	maxUploadBytes int64
}

func NewAnalysisHandler(analyzer Analyzer, store service.AnalysisStore, listLimit int, maxUploadMB int) *AnalysisHandler {
	if listLimit <= 0 {
		listLimit = service.DefaultListLimit
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &AnalysisHandler{
		analyzer:       analyzer,
		store:          store,
		listLimit:      listLimit,
		maxUploadBytes: int64(maxUploadMB) << 20,
	}
}

// Root returns the API banner
func (h *AnalysisHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "AI Legal Document Assistant API"})
}

// Analyze handles a multipart upload in the "file" field. The body is
// streamed: the filename is checked before any file content is read.
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	part, err := nextFilePart(c.Request)
	if err != nil {
		uploadError(c, err)
		return
	}
	defer part.Close()

	filename := part.FileName()
	if _, err := service.DetectFormat(filename); err != nil {
		writeError(c, err)
		return
	}

	content, err := io.ReadAll(part)
	if err != nil {
		uploadError(c, err)
		return
	}

	analysis, err := h.analyzer.Analyze(c.Request.Context(), content, filename)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, analysis)
}

var errNoFile = errors.New("no file part")

// nextFilePart skips form fields until the "file" part
func nextFilePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errNoFile
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errNoFile
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

func uploadError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
	case errors.Is(err, errNoFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
	}
}

// List returns the most recent analyses, newest first
func (h *AnalysisHandler) List(c *gin.Context) {
	limit := h.listLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n < limit {
			limit = n
		}
	}

	analyses, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, analyses)
}

// Get returns a single analysis by id
func (h *AnalysisHandler) Get(c *gin.Context) {
	analysis, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// Delete removes an analysis by id
func (h *AnalysisHandler) Delete(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Analysis deleted successfully"})
}

// statusFor maps a failure kind onto an HTTP status
func statusFor(err error) int {
	switch {
	case service.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrMalformedResponse), errors.Is(err, service.ErrSchemaViolation):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrService):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	kind := service.ErrorKind(err)
	msg := err.Error()
	if status == http.StatusNotFound {
		msg = "Analysis not found"
	}
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed",
			"path", c.Request.URL.Path,
			"kind", kind,
			"error", err,
		)
	}
	c.JSON(status, gin.H{"error": msg, "kind": kind})
}
