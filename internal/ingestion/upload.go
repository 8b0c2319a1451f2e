package ingestion

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/jwalitptl/healthbridge/pkg/errors"
)

// DefaultMaxUploadSize is the per-file limit for uploads.
const DefaultMaxUploadSize int64 = 10 << 20

// Upload is one received file, fully read into memory.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// UploadInfo is what validation learned about an accepted upload.
type UploadInfo struct {
	MIMEType  string
	Category  ContentCategory
	PageCount *int
}

var allowedMIME = map[string]ContentCategory{
	"application/pdf":  CategoryPDF,
	"image/png":        CategoryImage,
	"image/jpeg":       CategoryImage,
	"image/jpg":        CategoryImage,
	"text/csv":         CategoryStructured,
	"application/csv":  CategoryStructured,
	"application/json": CategoryStructured,
	"text/json":        CategoryStructured,
	"text/plain":       CategoryText,
}

// ValidateUpload accepts PDF/PNG/JPG, CSV/JSON and plain text up to maxSize.
// PDFs must parse; their page count is returned.
func ValidateUpload(u Upload, maxSize int64) (*UploadInfo, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	if len(u.Data) == 0 {
		return nil, errors.BadRequest("uploaded file is empty", nil)
	}
	if int64(len(u.Data)) > maxSize {
		return nil, errors.TooLarge(fmt.Sprintf("file %q exceeds the %s limit", u.Filename, humanSize(maxSize)))
	}

	mt := DetectMIME(u.ContentType, u.Data)
	category, ok := allowedMIME[mt]
	if !ok {
		// Browsers often send text/plain or octet-stream for CSV/JSON.
		switch categoryOf(mt, u.Filename) {
		case CategoryStructured:
			category, ok = CategoryStructured, true
		case CategoryText:
			category, ok = CategoryText, mt == "" || mt == "application/octet-stream"
		}
	}
	if !ok {
		return nil, errors.UnsupportedMedia(fmt.Sprintf("unsupported file type %q: upload PDF, PNG, JPG, CSV, JSON or text", mt))
	}
	if category == CategoryText && categoryOf(mt, u.Filename) == CategoryStructured {
		category = CategoryStructured
	}

	info := &UploadInfo{MIMEType: mt, Category: category}
	if category == CategoryPDF {
		pages, err := api.PageCount(bytes.NewReader(u.Data), pdfmodel.NewDefaultConfiguration())
		if err != nil {
			return nil, errors.BadRequest("file is not a readable PDF", err)
		}
		info.PageCount = &pages
	}
	return info, nil
}

func humanSize(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}
