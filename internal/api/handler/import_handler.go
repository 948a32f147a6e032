package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/odstat/internal/domain"
	"github.com/timmy/odstat/internal/logger"
	"github.com/timmy/odstat/internal/service"
)

// Importer is the part of the import service the handler drives.
type Importer interface {
	Run(ctx context.Context, req service.ImportRequest) (*domain.ImportJob, error)
	Start(ctx context.Context, req service.ImportRequest) (string, error)
	Progress(ctx context.Context, id string) domain.ImportJob
}

// ImportHandler handles selftest import endpoints.
type ImportHandler struct {
	importer Importer
	logger   *logger.Logger
}

// NewImportHandler creates a new import handler.
// Parameters:
//   - importer: import service instance.
//   - log: logger instance.
//
// Returns:
//   - *ImportHandler: initialized handler.
func NewImportHandler(importer Importer, log *logger.Logger) *ImportHandler {
	return &ImportHandler{
		importer: importer,
		logger:   log,
	}
}

// log returns a logger from Gin context if available, otherwise returns the default logger
func (h *ImportHandler) log(c *gin.Context) *logger.Logger {
	if l := logger.FromContext(c.Request.Context()); l != nil {
		return l
	}
	return h.logger
}

// ImportRequest represents the import API request.
type ImportRequest struct {
	service.ImportRequest
	Async bool `json:"async"`
}

// ImportResponse represents the import API response.
type ImportResponse struct {
	ImportID string              `json:"import_id"`
	Status   domain.ImportStatus `json:"status,omitempty"`
	Message  string              `json:"message,omitempty"`
	Records  int                 `json:"records"`
	Errors   []string            `json:"errors,omitempty"`
}

// ProgressResponse represents the progress of one import.
type ProgressResponse struct {
	ImportID string              `json:"import_id"`
	Status   domain.ImportStatus `json:"status"`
	Progress int                 `json:"progress"`
	Message  string              `json:"message"`
	Errors   []string            `json:"errors"`
	Records  int                 `json:"records"`
}

// StartImport handles POST /api/v1/selftest/import.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *ImportHandler) StartImport(c *gin.Context) {
	ctx := c.Request.Context()

	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid import request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	logger.CtxInfo(ctx, "Received import request: platform=%s, key=%s, async=%v, client_ip=%s",
		req.Platform, req.Key, req.Async, c.ClientIP())

	if req.Async {
		id, err := h.importer.Start(ctx, req.ImportRequest)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, ImportResponse{ImportID: id, Status: domain.ImportStatusStarting})
		return
	}

	job, err := h.importer.Run(ctx, req.ImportRequest)
	if err != nil {
		if job != nil {
			c.JSON(statusFor(err), ImportResponse{
				ImportID: job.ID,
				Status:   job.Status,
				Message:  job.Message,
				Errors:   job.Errors,
			})
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ImportResponse{
		ImportID: job.ID,
		Status:   job.Status,
		Message:  job.Message,
		Records:  job.RecordCount,
		Errors:   job.Errors,
	})
}

// GetProgress handles GET /api/v1/selftest/import/:id/progress.
// Unknown ids answer 200 with status "unknown" so pollers need no special case.
func (h *ImportHandler) GetProgress(c *gin.Context) {
	id := c.Param("id")
	job := h.importer.Progress(c.Request.Context(), id)

	errs := []string(job.Errors)
	if errs == nil {
		errs = []string{}
	}
	c.JSON(http.StatusOK, ProgressResponse{
		ImportID: id,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  job.Message,
		Errors:   errs,
		Records:  job.RecordCount,
	})
}

func (h *ImportHandler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log(c).WithError(err).Error("Import failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// statusFor maps the import error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPlatformRejected):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrImportRunning):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrConsoleUnreachable):
		return http.StatusBadGateway
	case domain.IsFatal(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
