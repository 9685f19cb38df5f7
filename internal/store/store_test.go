package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewslens/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpen_BootstrapsSchemaIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st1, err := Open(path, true)
	require.NoError(t, err)
	require.NoError(t, st1.Close())

	// Reopening against the same file re-runs CREATE TABLE IF NOT EXISTS
	// without error.
	st2, err := Open(path, true)
	require.NoError(t, err)
	require.NoError(t, st2.Close())
}

func TestCreateUser_AndGetByUsername(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.CreateUser(ctx, &domain.User{
		Username:        "alice",
		DisplayName:     "Alice",
		PasswordHash:    "bcrypt-hash",
		PreferredLang:   "en",
		ComplexityLevel: "general",
		ReadingSpeedWPM: 200,
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := st.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, "bcrypt-hash", got.PasswordHash)
}

func TestGetUserByUsername_NotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetUserByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateUserProfile_UpdatesOnlyNamedFields(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.CreateUser(ctx, &domain.User{
		Username:     "bob",
		DisplayName:  "Bob",
		PasswordHash: "original-hash",
	})
	require.NoError(t, err)

	require.NoError(t, st.UpdateUserProfile(ctx, id, "Bobby", ""))
	got, err := st.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Bobby", got.DisplayName)
	assert.Equal(t, "original-hash", got.PasswordHash)

	require.NoError(t, st.UpdateUserProfile(ctx, id, "", "new-hash"))
	got, err = st.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Bobby", got.DisplayName)
	assert.Equal(t, "new-hash", got.PasswordHash)
}

func TestUpdateUserProfile_NoopWhenBothEmpty(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.CreateUser(ctx, &domain.User{Username: "carol", DisplayName: "Carol", PasswordHash: "h"})
	require.NoError(t, err)

	require.NoError(t, st.UpdateUserProfile(ctx, id, "", ""))
	got, err := st.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Carol", got.DisplayName)
}

func TestUpsertArticleByURL_DeduplicatesByCanonicalURL(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id1, wasNew1, err := st.UpsertArticleByURL(ctx, &domain.Article{CanonicalURL: "https://example.com/a", Title: "A", Content: "content"})
	require.NoError(t, err)
	assert.True(t, wasNew1)

	id2, wasNew2, err := st.UpsertArticleByURL(ctx, &domain.Article{CanonicalURL: "https://example.com/a", Title: "A again", Content: "different"})
	require.NoError(t, err)
	assert.False(t, wasNew2)
	assert.Equal(t, id1, id2)
}

func TestSaveArticleFullContent_PersistsScrapedText(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, _, err := st.UpsertArticleByURL(ctx, &domain.Article{CanonicalURL: "https://example.com/b", Title: "B", Content: "short"})
	require.NoError(t, err)

	require.NoError(t, st.SaveArticleFullContent(ctx, id, "the full scraped article text"))

	got, err := st.GetArticle(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "the full scraped article text", got.FullContent)
}

func TestArticleVector_RoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, _, err := st.UpsertArticleByURL(ctx, &domain.Article{CanonicalURL: "https://example.com/c", Title: "C", Content: "c"})
	require.NoError(t, err)

	// Absent vector returns (nil, nil), not an error.
	v, err := st.GetArticleVector(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, v)

	vec := []float32{0.1, 0.2, 0.3, 0.4}
	require.NoError(t, st.SaveArticleVector(ctx, id, vec))

	got, err := st.GetArticleVector(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestTransitionProcessingStatus_RejectsUnexpectedState(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, _, err := st.UpsertArticleByURL(ctx, &domain.Article{CanonicalURL: "https://example.com/d", Title: "D", Content: "d"})
	require.NoError(t, err)

	err = st.TransitionProcessingStatus(ctx, id, []domain.ProcessingStatus{domain.StatusCompleted}, domain.StatusFailed)
	assert.ErrorIs(t, err, domain.ErrConflict)

	err = st.TransitionProcessingStatus(ctx, id, []domain.ProcessingStatus{domain.StatusPending}, domain.StatusRunning)
	assert.NoError(t, err)
}

func TestUpsertFeed_AndCreateSubscription(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	userID, err := st.CreateUser(ctx, &domain.User{Username: "dave", DisplayName: "Dave", PasswordHash: "h"})
	require.NoError(t, err)

	feed, err := st.UpsertFeed(ctx, "https://example.com/feed.xml", "Example Feed")
	require.NoError(t, err)
	require.NotZero(t, feed.ID)

	_, err = st.CreateSubscription(ctx, &domain.Subscription{UserID: userID, FeedID: feed.ID, Title: "Example Feed", Weight: 1.0})
	require.NoError(t, err)

	subs, err := st.ListSubscriptionsForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, feed.ID, subs[0].FeedID)
}
