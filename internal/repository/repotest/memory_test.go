package repotest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
)

func TestDocuments_TerminalWritesRequireProcessing(t *testing.T) {
	ctx := context.Background()
	docs := NewStore().DocumentRepository()

	doc := &model.Document{OriginalFilename: "a.pdf"}
	require.NoError(t, docs.Create(ctx, doc))

	assert.ErrorIs(t, docs.Complete(ctx, doc), repository.ErrNotProcessing)
	assert.ErrorIs(t, docs.Fail(ctx, doc.ID, "boom"), repository.ErrNotProcessing)
	got, err := docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.ProcessingStatus)

	moved, err := docs.Transition(ctx, doc.ID, model.SourcesOf(model.StatusProcessing), model.StatusProcessing)
	require.NoError(t, err)
	require.True(t, moved)
	require.NoError(t, docs.Fail(ctx, doc.ID, "boom"))

	got, err = docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.ProcessingStatus)
	assert.NotNil(t, got.ProcessedAt)

	// failed never goes straight to completed
	assert.ErrorIs(t, docs.Complete(ctx, got), repository.ErrNotProcessing)
	assert.ErrorIs(t, docs.Fail(ctx, doc.ID, "again"), repository.ErrNotProcessing)
}
