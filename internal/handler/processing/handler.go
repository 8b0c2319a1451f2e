package processing

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/healthbridge/internal/handler"
	"github.com/jwalitptl/healthbridge/internal/ingestion"
	"github.com/jwalitptl/healthbridge/internal/service/processing"
	"github.com/jwalitptl/healthbridge/pkg/httputil"
)

// Handler serves the single-shot endpoints that skip the pending document state.
type Handler struct {
	service       processing.ProcessingService
	maxUploadSize int64
}

func NewHandler(service processing.ProcessingService, maxUploadSize int64) *Handler {
	return &Handler{
		service:       service,
		maxUploadSize: maxUploadSize,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	process := r.Group("/process")
	{
		process.POST("/document", h.ProcessDocument)
		process.POST("/text", h.ProcessText)
		process.POST("/batch", h.ProcessBatch)
		process.GET("/status", h.Status)
	}
}

// ProcessDocument accepts either a file or a text form field.
// column_mapping applies when the file is CSV or JSON.
func (h *Handler) ProcessDocument(c *gin.Context) {
	mapping, err := handler.ColumnMapping(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	req := ingestion.Request{
		Hint:          c.PostForm("document_type"),
		Hospital:      handler.FirstForm(c, "hospital_name", "hospital_clinic_name"),
		Location:      handler.FirstForm(c, "location", "source_location"),
		ColumnMapping: mapping,
	}

	if fh, err := c.FormFile("file"); err == nil {
		upload, err := handler.ReadUpload(fh, h.maxUploadSize)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		if _, err := ingestion.ValidateUpload(upload, h.maxUploadSize); err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		req.Filename, req.ContentType, req.Data = upload.Filename, upload.ContentType, upload.Data
	} else if text := c.PostForm("text"); text != "" {
		req.Text = text
	} else {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("file or text is required"))
		return
	}

	result, err := h.service.ProcessDocument(c.Request.Context(), req)
	if err != nil {
		handler.RespondWithResult(c, err, result)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) ProcessText(c *gin.Context) {
	var req processing.TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("text is required"))
		return
	}

	result, err := h.service.ProcessText(c.Request.Context(), req)
	if err != nil {
		handler.RespondWithResult(c, err, result)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) ProcessBatch(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("file is required"))
		return
	}
	mapping, err := handler.ColumnMapping(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	upload, err := handler.ReadUpload(fh, h.maxUploadSize)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if _, err := ingestion.ValidateUpload(upload, h.maxUploadSize); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	result, err := h.service.ProcessBatch(c.Request.Context(), ingestion.Request{
		Filename:      upload.Filename,
		ContentType:   upload.ContentType,
		Data:          upload.Data,
		Hospital:      handler.FirstForm(c, "hospital_name", "hospital_clinic_name"),
		Location:      handler.FirstForm(c, "location", "source_location"),
		ColumnMapping: mapping,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) Status(c *gin.Context) {
	httputil.RespondWithSuccess(c, h.service.Status())
}
