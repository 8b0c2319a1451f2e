package document

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/healthbridge/internal/handler"
	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/service/document"
	"github.com/jwalitptl/healthbridge/pkg/httputil"
)

type Handler struct {
	service       document.DocumentService
	maxUploadSize int64
}

func NewHandler(service document.DocumentService, maxUploadSize int64) *Handler {
	return &Handler{
		service:       service,
		maxUploadSize: maxUploadSize,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	documents := r.Group("/documents")
	{
		documents.POST("", h.Upload)
		documents.GET("", h.List)
		documents.POST("/bulk_upload", h.BulkUpload)
		documents.POST("/process_all_pending", h.ProcessAllPending)
		documents.GET("/:id", h.Get)
		documents.DELETE("/:id", h.Delete)
		documents.POST("/:id/process", h.Process)
		documents.GET("/:id/logs", h.Logs)
	}
}

func (h *Handler) uploadRequest(c *gin.Context) (*document.UploadRequest, error) {
	mapping, err := handler.ColumnMapping(c)
	if err != nil {
		return nil, err
	}
	return &document.UploadRequest{
		DocumentType:  model.DeclaredType(c.PostForm("document_type")),
		Hospital:      handler.FirstForm(c, "hospital_clinic_name", "hospital_name"),
		Location:      handler.FirstForm(c, "source_location", "location"),
		UploadedBy:    c.PostForm("uploaded_by"),
		ColumnMapping: mapping,
	}, nil
}

// Upload stores one file as a pending document; ?process=true also runs it.
func (h *Handler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("file is required"))
		return
	}
	req, err := h.uploadRequest(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if req.File, err = handler.ReadUpload(fh, h.maxUploadSize); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	doc, err := h.service.Upload(c.Request.Context(), req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	if c.Query("process") == "true" {
		if doc, err = h.service.Process(c.Request.Context(), doc.ID); err != nil {
			httputil.RespondWithError(c, err)
			return
		}
	}
	httputil.RespondWithCreated(c, doc)
}

func (h *Handler) BulkUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("multipart form expected"))
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["files[]"]
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("no files provided"))
		return
	}

	base, err := h.uploadRequest(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	reqs := make([]*document.UploadRequest, 0, len(files))
	for _, fh := range files {
		req := *base
		if req.File, err = handler.ReadUpload(fh, h.maxUploadSize); err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		reqs = append(reqs, &req)
	}

	httputil.RespondWithCreated(c, h.service.BulkUpload(c.Request.Context(), reqs))
}

func (h *Handler) List(c *gin.Context) {
	var filters model.DocumentFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	filters.Page, filters.PageSize = httputil.PageParams(c)

	docs, total, err := h.service.List(c.Request.Context(), &filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithPagination(c, docs, filters.Page, filters.PageSize, total)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := handler.ParseID(c, "id", "document")
	if !ok {
		return
	}

	doc, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, doc)
}

func (h *Handler) Delete(c *gin.Context) {
	id, ok := handler.ParseID(c, "id", "document")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Process(c *gin.Context) {
	id, ok := handler.ParseID(c, "id", "document")
	if !ok {
		return
	}

	doc, err := h.service.Process(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, doc)
}

func (h *Handler) ProcessAllPending(c *gin.Context) {
	result, err := h.service.ProcessAllPending(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) Logs(c *gin.Context) {
	id, ok := handler.ParseID(c, "id", "document")
	if !ok {
		return
	}

	logs, err := h.service.Logs(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, logs)
}
