package patient

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/healthbridge/internal/handler"
	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/service/patient"
	"github.com/jwalitptl/healthbridge/pkg/httputil"
)

type Handler struct {
	service patient.PatientService
}

func NewHandler(service patient.PatientService) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	patients := r.Group("/patients")
	{
		patients.GET("", h.ListPatients)
		patients.GET("/export", h.Export)
		patients.GET("/by_disease", h.ByDisease)
		patients.GET("/:id", h.GetPatient)
		patients.PUT("/:id", h.UpdatePatient)
		patients.DELETE("/:id", h.DeletePatient)
	}

	diseases := r.Group("/diseases")
	{
		diseases.GET("", h.ListDiseases)
		diseases.GET("/:id", h.GetDisease)
	}
}

func (h *Handler) ListPatients(c *gin.Context) {
	filters, err := handler.BindPatientFilters(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	patients, total, err := h.service.ListPatients(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithPagination(c, model.NewPatientResponses(patients), filters.Page, filters.PageSize, total)
}

func (h *Handler) GetPatient(c *gin.Context) {
	id, ok := handler.ParseID(c, "id", "patient")
	if !ok {
		return
	}

	p, err := h.service.GetPatient(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, model.NewPatientResponse(p))
}

func (h *Handler) UpdatePatient(c *gin.Context) {
	id, ok := handler.ParseID(c, "id", "patient")
	if !ok {
		return
	}

	var req model.UpdatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	p, err := h.service.UpdatePatient(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, model.NewPatientResponse(p))
}

func (h *Handler) DeletePatient(c *gin.Context) {
	id, ok := handler.ParseID(c, "id", "patient")
	if !ok {
		return
	}

	if err := h.service.DeletePatient(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Export(c *gin.Context) {
	filters, err := handler.BindPatientFilters(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	file, err := h.service.Export(c.Request.Context(), filters, c.DefaultQuery("format", patient.FormatCSV))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

func (h *Handler) ByDisease(c *gin.Context) {
	groups, err := h.service.ByDisease(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, groups)
}

func (h *Handler) ListDiseases(c *gin.Context) {
	diseases, err := h.service.ListDiseases(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, diseases)
}

func (h *Handler) GetDisease(c *gin.Context) {
	id, ok := handler.ParseID(c, "id", "disease")
	if !ok {
		return
	}

	d, err := h.service.GetDisease(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, d)
}
