package analytics

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/healthbridge/internal/handler"
	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/service/analytics"
	"github.com/jwalitptl/healthbridge/pkg/httputil"
)

type Handler struct {
	service analytics.AnalyticsService
}

func NewHandler(service analytics.AnalyticsService) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	a := r.Group("/analytics")
	{
		a.GET("/dashboard", h.Dashboard)
		a.GET("/diseases", h.Diseases)
		a.GET("/locations", h.Locations)
		a.GET("/age", h.Age)
		a.GET("/surveillance", h.Surveillance)
		a.GET("/trends", h.Trends)
		a.GET("/comorbidity", h.Comorbidity)
		a.GET("/filters", h.Filter)
		a.GET("/filter-options", h.FilterOptions)
	}
}

func (h *Handler) Dashboard(c *gin.Context) {
	data, err := h.service.Dashboard(c.Request.Context())
	respond(c, data, err)
}

func (h *Handler) Diseases(c *gin.Context) {
	var diseaseID *uuid.UUID
	if raw := c.Query("disease_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid disease ID"))
			return
		}
		diseaseID = &id
	}
	data, err := h.service.DiseaseAnalytics(c.Request.Context(), diseaseID)
	respond(c, data, err)
}

func (h *Handler) Locations(c *gin.Context) {
	data, err := h.service.Locations(c.Request.Context())
	respond(c, data, err)
}

func (h *Handler) Age(c *gin.Context) {
	data, err := h.service.Age(c.Request.Context())
	respond(c, data, err)
}

func (h *Handler) Surveillance(c *gin.Context) {
	days := 0
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("days must be a number"))
			return
		}
		days = n
	}
	data, err := h.service.Surveillance(c.Request.Context(), days)
	respond(c, data, err)
}

func (h *Handler) Trends(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("days must be a number"))
		return
	}
	data, err := h.service.Trends(c.Request.Context(), days)
	respond(c, data, err)
}

func (h *Handler) Comorbidity(c *gin.Context) {
	data, err := h.service.Comorbidity(c.Request.Context())
	respond(c, data, err)
}

func (h *Handler) Filter(c *gin.Context) {
	filters, err := handler.BindPatientFilters(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	patients, total, err := h.service.Filter(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithPagination(c, model.NewPatientResponses(patients), filters.Page, filters.PageSize, total)
}

func (h *Handler) FilterOptions(c *gin.Context) {
	data, err := h.service.FilterOptions(c.Request.Context())
	respond(c, data, err)
}

func respond[T any](c *gin.Context, data T, err error) {
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, data)
}
