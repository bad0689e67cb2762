package document_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"documind/backend/features/document"
	"documind/backend/internal/testutils"
)

func TestDocumentRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	repo := document.NewPostgresRepo(s.DB)
	ctx := context.Background()

	doc := &document.Document{
		Name:             "report.pdf",
		SourceURL:        "https://files/report.pdf",
		MimeType:         "application/pdf",
		OwnerID:          "alice",
		ProcessingStatus: document.StatusPending,
	}
	require.NoError(t, repo.Save(ctx, doc))
	require.NotEmpty(t, doc.ID)

	// Newly saved documents are processable.
	processable, err := repo.FindProcessable(ctx)
	require.NoError(t, err)
	require.Len(t, processable, 1)

	// Only one claim wins.
	claimed, err := repo.Claim(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.Claim(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	// Completion records chunk count and timestamp.
	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.MarkCompleted(ctx, doc.ID, 7, at))

	got, err := repo.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusCompleted, got.ProcessingStatus)
	assert.Equal(t, 7, got.ChunksCount)
	require.NotNil(t, got.VectorizedAt)

	// Retry is only legal from failed.
	reset, err := repo.ResetForRetry(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, reset)

	require.NoError(t, repo.SetStatus(ctx, doc.ID, document.StatusFailed))
	reset, err = repo.ResetForRetry(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, reset)
}
