package mongo

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jwalitptl/healthbridge/internal/model"
)

func TestUploadDocBSON(t *testing.T) {
	upload := &model.RawUpload{
		DocumentID:  uuid.New(),
		Filename:    "cbc.pdf",
		ContentType: "application/pdf",
		Size:        4,
		Data:        []byte("%PDF"),
		UploadedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}

	raw, err := bson.Marshal(toUploadDoc(upload))
	require.NoError(t, err)

	var stored bson.M
	require.NoError(t, bson.Unmarshal(raw, &stored))
	assert.Equal(t, upload.DocumentID.String(), stored["document_id"])

	var doc uploadDoc
	require.NoError(t, bson.Unmarshal(raw, &doc))
	got, err := doc.toModel()
	require.NoError(t, err)
	assert.Equal(t, upload, got)
}

func TestUploadDocInvalidID(t *testing.T) {
	_, err := uploadDoc{DocumentID: "nope"}.toModel()
	assert.Error(t, err)
}
