package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/healthbridge/internal/ingestion"
	"github.com/jwalitptl/healthbridge/internal/model"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
	"github.com/jwalitptl/healthbridge/pkg/httputil"
)

// ParseID reads a uuid path parameter and answers 400 when it is malformed.
func ParseID(c *gin.Context, param, resource string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(fmt.Sprintf("invalid %s ID", resource)))
		return uuid.Nil, false
	}
	return id, true
}

// ReadUpload loads one multipart file. At most maxSize+1 bytes are read so
// oversized files are still detected without buffering all of them.
func ReadUpload(fh *multipart.FileHeader, maxSize int64) (ingestion.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return ingestion.Upload{}, apperrors.BadRequest("unreadable file", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return ingestion.Upload{}, apperrors.BadRequest("unreadable file", err)
	}
	return ingestion.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// ColumnMapping decodes the optional column_mapping form field.
func ColumnMapping(c *gin.Context) (map[string]string, error) {
	raw := c.PostForm("column_mapping")
	if raw == "" {
		return nil, nil
	}
	var mapping map[string]string
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return nil, apperrors.BadRequest("column_mapping must be a JSON object of strings", err)
	}
	return mapping, nil
}

// FirstForm returns the first non-empty form value among keys.
func FirstForm(c *gin.Context, keys ...string) string {
	for _, k := range keys {
		if v := c.PostForm(k); v != "" {
			return v
		}
	}
	return ""
}

// BindPatientFilters reads the shared patient filter query parameters.
func BindPatientFilters(c *gin.Context) (*model.PatientFilters, error) {
	var filters model.PatientFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		return nil, apperrors.BadRequest("invalid filter parameters", err)
	}
	if raw := c.Query("disease"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, apperrors.BadRequest("invalid disease ID", err)
		}
		filters.DiseaseID = &id
	}
	filters.Page, filters.PageSize = httputil.PageParams(c)
	return &filters, nil
}
