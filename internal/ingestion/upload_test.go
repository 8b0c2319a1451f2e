package ingestion

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/healthbridge/pkg/errors"
)

func TestValidateUpload(t *testing.T) {
	tests := []struct {
		name       string
		upload     Upload
		maxSize    int64
		wantStatus int
		wantCat    ContentCategory
	}{
		{"empty", Upload{Filename: "a.png"}, 0, http.StatusBadRequest, ""},
		{"too large", Upload{Filename: "a.png", ContentType: "image/png", Data: bytes.Repeat([]byte{1}, 64)}, 32, http.StatusRequestEntityTooLarge, ""},
		{"unsupported", Upload{Filename: "a.docx", ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Data: []byte("PK")}, 0, http.StatusUnsupportedMediaType, ""},
		{"png", Upload{Filename: "a.png", ContentType: "image/png", Data: pngMagic}, 0, 0, CategoryImage},
		{"csv sent as octet-stream", Upload{Filename: "rows.csv", ContentType: "application/octet-stream", Data: []byte("name,age\nA,3\n")}, 0, 0, CategoryStructured},
		{"json sent as text/plain", Upload{Filename: "rows.json", ContentType: "text/plain", Data: []byte(`[{"name":"A"}]`)}, 0, 0, CategoryStructured},
		{"plain text note", Upload{Filename: "note.txt", ContentType: "text/plain", Data: []byte("fever since 3 days")}, 0, 0, CategoryText},
		{"broken pdf", Upload{Filename: "scan.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 not really")}, 0, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ValidateUpload(tt.upload, tt.maxSize)
			if tt.wantStatus != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantStatus, errors.Status(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCat, info.Category)
			assert.Nil(t, info.PageCount)
		})
	}
}
