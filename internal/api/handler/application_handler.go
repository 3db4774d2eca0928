package handler

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/cuongbtq/mortgage-recon/internal/api/dto"
	"github.com/cuongbtq/mortgage-recon/internal/ingestion"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// CreateApplication handles POST /api/v1/applications
func (h *ApplicationHandler) CreateApplication(c *gin.Context) {
	var req dto.CreateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	formData, order, err := dto.ParseFormData(req.FormData)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	app, err := h.service.CreateApplication(c.Request.Context(), req.ApplicationID, formData, order)
	if err != nil {
		respondError(c, h.logger, "Failed to create application", err)
		return
	}

	c.JSON(http.StatusCreated, app)
}

// GetApplication handles GET /api/v1/applications/:application_id
func (h *ApplicationHandler) GetApplication(c *gin.Context) {
	app, err := h.service.GetApplication(c.Request.Context(), c.Param("application_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get application", err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// UploadDocuments handles POST /api/v1/applications/:application_id/documents
// Accepts multipart files under "files"
func (h *ApplicationHandler) UploadDocuments(c *gin.Context) {
	var req dto.UploadRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form fields"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Warn("Invalid multipart form", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file is required"})
		return
	}

	uploads := make([]ingestion.Upload, 0, len(files))
	for _, fh := range files {
		content, err := readPart(fh)
		if err != nil {
			h.logger.Error("Failed to read upload", slog.String("filename", fh.Filename), slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read " + fh.Filename})
			return
		}
		uploads = append(uploads, ingestion.Upload{
			Filename:     fh.Filename,
			Content:      content,
			DocumentType: req.DocumentType,
		})
	}

	result, err := h.service.UploadDocuments(c.Request.Context(), c.Param("application_id"), req.ApplicantType, uploads)
	if err != nil {
		respondError(c, h.logger, "Failed to upload documents", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// StartProcessing handles POST /api/v1/applications/:application_id/process
func (h *ApplicationHandler) StartProcessing(c *gin.Context) {
	result, err := h.service.StartProcessing(c.Request.Context(), c.Param("application_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to start processing", err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// ProcessingStatus handles GET /api/v1/applications/:application_id/status
func (h *ApplicationHandler) ProcessingStatus(c *gin.Context) {
	status, err := h.service.ProcessingStatus(c.Request.Context(), c.Param("application_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get processing status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// FieldStatus handles GET /api/v1/applications/:application_id/fields
func (h *ApplicationHandler) FieldStatus(c *gin.Context) {
	fields, err := h.service.FieldStatus(c.Request.Context(), c.Param("application_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get field status", err)
		return
	}
	c.JSON(http.StatusOK, fields)
}

// GoldenSummary handles GET /api/v1/applications/:application_id/golden
func (h *ApplicationHandler) GoldenSummary(c *gin.Context) {
	summary, err := h.service.GoldenSummary(c.Request.Context(), c.Param("application_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get golden record", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ExportGolden handles GET /api/v1/applications/:application_id/golden/export
func (h *ApplicationHandler) ExportGolden(c *gin.Context) {
	appID := c.Param("application_id")
	data, err := h.service.ExportGolden(c.Request.Context(), appID)
	if err != nil {
		respondError(c, h.logger, "Failed to export golden record", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_golden_record.xlsx"`, appID))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// RetryProcessing handles POST /api/v1/applications/:application_id/retry
func (h *ApplicationHandler) RetryProcessing(c *gin.Context) {
	result, err := h.service.RetryProcessing(c.Request.Context(), c.Param("application_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to retry processing", err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// RequiredDocuments handles GET /api/v1/applications/:application_id/required-documents
func (h *ApplicationHandler) RequiredDocuments(c *gin.Context) {
	docs, err := h.service.RequiredDocuments(c.Request.Context(), c.Param("application_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get required documents", err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

// MissingFields handles GET /api/v1/applications/:application_id/missing-fields
func (h *ApplicationHandler) MissingFields(c *gin.Context) {
	missing, err := h.service.MissingFields(c.Request.Context(), c.Param("application_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get missing fields", err)
		return
	}
	c.JSON(http.StatusOK, missing)
}

// Metrics handles GET /api/v1/metrics/processing
func (h *ApplicationHandler) Metrics(c *gin.Context) {
	m, err := h.service.Metrics(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to get processing metrics", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Health handles GET /health
func (h *ApplicationHandler) Health(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.service.Ping(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": serviceName,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}
