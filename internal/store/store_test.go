package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/archive"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "archive.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func registerTestAccount(t *testing.T, s *Store, id, handle string) archive.Account {
	t.Helper()
	a, err := s.RegisterAccount(context.Background(), "creator-"+handle, archive.Account{
		ID:              id,
		Handle:          handle,
		DisplayName:     "Display " + handle,
		DownloadEnabled: true,
	})
	require.NoError(t, err)
	return a
}

func TestOpenConfiguresPragmas(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	var mode string
	require.NoError(t, s.DB().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.DB().QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var sync int
	require.NoError(t, s.DB().QueryRowContext(ctx, "PRAGMA synchronous").Scan(&sync))
	assert.Equal(t, 1, sync, "NORMAL")
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func TestRegisterAccountCreatesCreatorOnce(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.RegisterAccount(ctx, "Alice", archive.Account{ID: "1", Handle: "@alice", DownloadEnabled: true})
	require.NoError(t, err)
	second, err := s.RegisterAccount(ctx, "alice", archive.Account{ID: "2", Handle: "alice_alt", DownloadEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, first.CreatorID, second.CreatorID, "creator lookup is case-insensitive")
	assert.Equal(t, "alice", first.Handle)
	assert.Equal(t, archive.StatusActive, first.Status)

	_, err = s.RegisterAccount(ctx, "Alice", archive.Account{ID: "1", Handle: "alice"})
	require.ErrorIs(t, err, ErrAccountExists)

	creator, err := s.GetCreator(ctx, first.CreatorID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", creator.Name)
	assert.Len(t, creator.Accounts, 2)

	byHandle, err := s.GetAccountByHandle(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "1", byHandle.ID)
}

func TestEligibleAccounts(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	registerTestAccount(t, s, "1", "active")
	registerTestAccount(t, s, "2", "protected")
	registerTestAccount(t, s, "3", "disabled")
	registerTestAccount(t, s, "4", "suspended")
	q := New(s.DB())
	require.NoError(t, q.SetProtected(ctx, "2", true))
	require.NoError(t, q.SetDownloadEnabled(ctx, "3", false))
	require.NoError(t, q.SetAccountStatus(ctx, "4", archive.StatusSuspended))

	eligible, err := s.EligibleAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "1", eligible[0].ID)

	require.Error(t, q.SetAccountStatus(ctx, "1", "Sleeping"))
	require.ErrorIs(t, q.SetDownloadEnabled(ctx, "missing", true), archive.ErrNotFound)
}

func TestInsertPostIsIdempotent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	registerTestAccount(t, s, "1", "alice")

	post := archive.Post{ID: "101", AccountID: "1", Text: "hello", PostedAt: time.Unix(100, 0), ArchivedAt: time.Unix(200, 0)}
	inserted, err := s.InsertPost(ctx, post)
	require.NoError(t, err)
	assert.True(t, inserted)

	post.Text = "changed"
	inserted, err = s.InsertPost(ctx, post)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetPost(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, archive.WaitingRating, got.Rating)
	assert.True(t, got.PostedAt.Equal(time.Unix(100, 0)))
}

func TestMediaDuplicateLinkAndCascade(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	registerTestAccount(t, s, "1", "alice")
	for _, id := range []string{"101", "102"} {
		_, err := s.InsertPost(ctx, archive.Post{ID: id, AccountID: "1", PostedAt: time.Unix(1, 0)})
		require.NoError(t, err)
	}

	firstID, err := s.InsertMedia(ctx, archive.Media{PostID: "101", Type: "jpg", LocalPath: "/a", DataHash: "h1"})
	require.NoError(t, err)
	secondID, err := s.InsertMedia(ctx, archive.Media{PostID: "102", Type: "jpg", LocalPath: "/b", DataHash: "h1"})
	require.NoError(t, err)

	second, err := s.GetMedia(ctx, secondID)
	require.NoError(t, err)
	require.NotNil(t, second.DuplicateOf)
	assert.Equal(t, firstID, *second.DuplicateOf)
	assert.Empty(t, second.PerceptualHash)

	_, err = s.DB().ExecContext(ctx, `DELETE FROM posts WHERE post_id = '101'`)
	require.NoError(t, err)
	_, err = s.GetMedia(ctx, firstID)
	require.ErrorIs(t, err, archive.ErrNotFound)
	second, err = s.GetMedia(ctx, secondID)
	require.NoError(t, err)
	assert.Nil(t, second.DuplicateOf, "duplicate_of is nulled when its target goes away")

	require.NoError(t, New(s.DB()).DeleteAccount(ctx, "1"))
	_, err = s.GetPost(ctx, "102")
	require.ErrorIs(t, err, archive.ErrNotFound)
	_, err = s.GetMedia(ctx, secondID)
	require.ErrorIs(t, err, archive.ErrNotFound)
}

func TestListPostsFiltersAndSorts(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	registerTestAccount(t, s, "1", "alice")
	registerTestAccount(t, s, "2", "bob")
	q := New(s.DB())

	seed := []struct {
		id, account string
		at          int64
		rating      archive.Rating
	}{
		{"a", "1", 10, archive.Rating{Content: "KF", Safety: "Safe"}},
		{"b", "1", 20, archive.Rating{Content: "KF", Safety: "NSFW"}},
		{"c", "2", 30, archive.Rating{Content: "NonKF", Safety: "Safe"}},
		{"d", "2", 40, archive.WaitingRating},
	}
	for _, p := range seed {
		_, err := q.InsertPost(ctx, archive.Post{ID: p.id, AccountID: p.account, PostedAt: time.Unix(p.at, 0)})
		require.NoError(t, err)
		require.NoError(t, q.SetPostRating(ctx, p.id, p.rating))
	}

	page, err := s.ListPosts(ctx, PostQuery{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, "d", page.Posts[0].ID)

	page, err = s.ListPosts(ctx, PostQuery{Sort: SortOldest, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page.Posts, 2)
	assert.Equal(t, []string{"b", "c"}, []string{page.Posts[0].ID, page.Posts[1].ID})

	page, err = s.ListPosts(ctx, PostQuery{ContentRatings: []string{"KF"}, SafetyRatings: []string{"Safe", "NSFL"}})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "a", page.Posts[0].ID)

	page, err = s.ListPosts(ctx, PostQuery{AccountID: "2"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestSearchAccountsEscapesWildcards(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	registerTestAccount(t, s, "1", "under_score")
	registerTestAccount(t, s, "2", "underXscore")

	found, err := s.SearchAccounts(ctx, "under_", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "1", found[0].ID)
}

func TestMarkMediaRated(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	registerTestAccount(t, s, "1", "alice")
	_, err := s.InsertPost(ctx, archive.Post{ID: "p", AccountID: "1"})
	require.NoError(t, err)
	id, err := s.InsertMedia(ctx, archive.Media{PostID: "p", Type: "png", LocalPath: "/x", DataHash: "h"})
	require.NoError(t, err)

	m, err := s.GetMedia(ctx, id)
	require.NoError(t, err)
	assert.False(t, m.OwnRating)

	require.NoError(t, s.MarkMediaRated(ctx, id))
	m, err = s.GetMedia(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.OwnRating)
	require.ErrorIs(t, s.MarkMediaRated(ctx, id+1), archive.ErrNotFound)
}

func TestOpenAddsColumnsToOlderDatabase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.db")
	old, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = old.ExecContext(ctx, `CREATE TABLE media (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id TEXT NOT NULL,
		media_type TEXT NOT NULL,
		original_url TEXT NOT NULL,
		local_path TEXT NOT NULL,
		caption TEXT,
		media_index INTEGER NOT NULL,
		perceptual_hash TEXT,
		data_hash TEXT NOT NULL,
		duplicate_of INTEGER,
		width INTEGER,
		height INTEGER,
		filesize INTEGER,
		safety_rating TEXT NOT NULL DEFAULT 'Waiting',
		content_rating TEXT NOT NULL DEFAULT 'Waiting'
	)`)
	require.NoError(t, err)
	_, err = old.ExecContext(ctx, `INSERT INTO media (post_id, media_type, original_url, local_path,
		media_index, data_hash) VALUES ('p', 'jpg', 'u', '/x', 0, 'h')`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	for i := 0; i < 2; i++ {
		s, err := Open(ctx, Config{Path: path}, zap.NewNop())
		require.NoError(t, err)
		m, err := s.GetMedia(ctx, 1)
		require.NoError(t, err)
		assert.False(t, m.OwnRating)
		require.NoError(t, s.Close())
	}
}

func TestWatermarkAndCaption(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	registerTestAccount(t, s, "1", "alice")
	q := New(s.DB())

	require.NoError(t, q.SetWatermark(ctx, "1", "103"))
	a, err := s.GetAccount(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "103", a.LastScrapedID)
	require.ErrorIs(t, q.SetWatermark(ctx, "nope", "1"), archive.ErrNotFound)

	_, err = q.InsertPost(ctx, archive.Post{ID: "p", AccountID: "1"})
	require.NoError(t, err)
	id, err := q.InsertMedia(ctx, archive.Media{PostID: "p", Type: "png", LocalPath: "/x", DataHash: "h"})
	require.NoError(t, err)
	require.NoError(t, q.SetMediaCaption(ctx, id, "a cat"))
	m, err := s.GetMedia(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a cat", m.Caption)
}
