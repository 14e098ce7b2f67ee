package relocate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/archive"
	"github.com/JakeFAU/feed-archiver/internal/events"
	"github.com/JakeFAU/feed-archiver/internal/hash/sha256"
	"github.com/JakeFAU/feed-archiver/internal/storage/local"
	"github.com/JakeFAU/feed-archiver/internal/store"
	"github.com/JakeFAU/feed-archiver/internal/writequeue"
)

var testVocabulary = archive.Vocabulary{
	Content: []string{"KF", "NonKF", "Rejected"},
	Safety:  []string{"Safe", "NSFW", "NSFL"},
}

type fixture struct {
	engine *Engine
	store  *store.Store
	files  *countingFiles
	writer *writequeue.Serializer
	events *recordingEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.Open(ctx, store.Config{Path: filepath.Join(dir, "archive.db")}, zap.NewNop())
	require.NoError(t, err)
	archiveStore, err := local.New(local.Config{Root: filepath.Join(dir, "media")})
	require.NoError(t, err)
	writer := writequeue.New(st.DB(), zap.NewNop())
	t.Cleanup(func() {
		_ = writer.Close(context.Background())
		_ = st.Close()
	})

	f := &fixture{
		store:  st,
		files:  &countingFiles{ArchiveStore: archiveStore},
		writer: writer,
		events: &recordingEmitter{},
	}
	f.engine = New(Config{
		Vocabulary: testVocabulary,
		Writer:     writer,
		Files:      f.files,
		Media:      st,
		Hasher:     sha256.New(),
		Events:     f.events,
	})

	_, err = st.RegisterAccount(ctx, "creator", archive.Account{ID: "1", Handle: "alice", DownloadEnabled: true})
	require.NoError(t, err)
	return f
}

// seedPost archives a post with n media files in the Waiting directory.
func (f *fixture) seedPost(t *testing.T, postID string, n int) archive.Post {
	t.Helper()
	ctx := context.Background()
	var paths []string
	for i := 0; i < n; i++ {
		p, err := f.files.WriteScratch(fmt.Sprintf("alice_%s_%d.jpg", postID, i), []byte(postID+fmt.Sprint(i)))
		require.NoError(t, err)
		paths = append(paths, p)
	}
	err := f.writer.Do(ctx, "seed", func(ctx context.Context, tx *sql.Tx) error {
		q := store.New(tx)
		if _, err := q.InsertPost(ctx, archive.Post{
			ID:         postID,
			AccountID:  "1",
			PostedAt:   time.Unix(1700000000, 0),
			ArchivedAt: time.Unix(1700000100, 0),
		}); err != nil {
			return err
		}
		for i, p := range paths {
			if _, err := q.InsertMedia(ctx, archive.Media{
				PostID:      postID,
				Type:        "jpg",
				OriginalURL: "https://img.example/" + postID,
				LocalPath:   p,
				Index:       i,
				DataHash:    fmt.Sprintf("%s-%d", postID, i),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	post, err := f.store.GetPost(ctx, postID)
	require.NoError(t, err)
	return post
}

func ptr(s string) *string { return &s }

func TestSetPostRatingMovesEveryFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedPost(t, "101", 2)

	report, err := f.engine.SetPostRating(ctx, "101", ptr("kf"), ptr("safe"))
	require.NoError(t, err)
	assert.Equal(t, archive.Rating{Content: "KF", Safety: "Safe"}, report.To)
	moved, missing, failed := report.Counts()
	assert.Equal(t, 2, moved)
	assert.Zero(t, missing)
	assert.Zero(t, failed)

	post, err := f.store.GetPost(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, report.To, post.Rating)
	wantDir := f.files.Dir(report.To)
	for _, m := range post.Media {
		assert.Equal(t, report.To, m.Rating)
		assert.Equal(t, wantDir, filepath.Dir(m.LocalPath))
		assert.FileExists(t, m.LocalPath)
	}

	require.Len(t, f.events.snapshot(), 1)
	assert.Equal(t, events.KindRatingApplied, f.events.snapshot()[0].Kind)
}

func TestSetPostRatingTwiceIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedPost(t, "101", 1)

	_, err := f.engine.SetPostRating(ctx, "101", ptr("KF"), ptr("NSFW"))
	require.NoError(t, err)
	first, err := f.store.GetPost(ctx, "101")
	require.NoError(t, err)
	moves, ensures := f.files.counts()

	report, err := f.engine.SetPostRating(ctx, "101", ptr("KF"), ptr("NSFW"))
	require.NoError(t, err)
	assert.True(t, report.Unchanged)

	second, err := f.store.GetPost(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	moves2, ensures2 := f.files.counts()
	assert.Equal(t, moves, moves2)
	assert.Equal(t, ensures, ensures2)
	assert.Len(t, f.events.snapshot(), 1)
}

func TestSetPostRatingConvergesAfterInterruptedMove(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, "101", 1)

	// The file reached its destination but the row update never committed.
	target := archive.Rating{Content: "NonKF", Safety: "NSFL"}
	require.NoError(t, f.files.EnsureDir(target))
	dest := filepath.Join(f.files.Dir(target), filepath.Base(post.Media[0].LocalPath))
	require.NoError(t, os.Rename(post.Media[0].LocalPath, dest))

	report, err := f.engine.SetPostRating(ctx, "101", ptr("NonKF"), ptr("NSFL"))
	require.NoError(t, err)
	require.Len(t, report.Media, 1)
	assert.Equal(t, AlreadyAtDestination, report.Media[0].Outcome)

	got, err := f.store.GetMedia(ctx, post.Media[0].ID)
	require.NoError(t, err)
	assert.Equal(t, dest, got.LocalPath)
	assert.Equal(t, target, got.Rating)
}

func TestSetPostRatingRejectsUnknownValue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	before := f.seedPost(t, "101", 1)

	_, err := f.engine.SetPostRating(ctx, "101", ptr("NotARealRating"), nil)
	require.ErrorIs(t, err, ErrInvalidRating)

	_, err = f.engine.SetPostRating(ctx, "101", nil, ptr("waiting"))
	require.ErrorIs(t, err, ErrInvalidRating)

	after, err := f.store.GetPost(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	moves, ensures := f.files.counts()
	assert.Zero(t, moves)
	assert.Zero(t, ensures)
	assert.Empty(t, f.events.snapshot())
}

func TestSetPostRatingKeepsOmittedComponent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.seedPost(t, "101", 1)

	_, err := f.engine.SetPostRating(ctx, "101", ptr("Rejected"), nil)
	require.NoError(t, err)
	report, err := f.engine.SetPostRating(ctx, "101", nil, ptr("NSFW"))
	require.NoError(t, err)
	assert.Equal(t, archive.Rating{Content: "Rejected", Safety: archive.Waiting}, report.From)
	assert.Equal(t, archive.Rating{Content: "Rejected", Safety: "NSFW"}, report.To)
}

func TestSetPostRatingUpdatesMetadataWhenFileMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, "101", 1)
	require.NoError(t, os.Remove(post.Media[0].LocalPath))

	report, err := f.engine.SetPostRating(ctx, "101", ptr("KF"), ptr("Safe"))
	require.NoError(t, err)
	_, missing, _ := report.Counts()
	assert.Equal(t, 1, missing)

	got, err := f.store.GetMedia(ctx, post.Media[0].ID)
	require.NoError(t, err)
	assert.Equal(t, archive.Rating{Content: "KF", Safety: "Safe"}, got.Rating)
	assert.Equal(t, post.Media[0].LocalPath, got.LocalPath)
}

func TestPostRatingLeavesIndependentMediaAlone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, "101", 2)

	_, err := f.engine.SetMediaRating(ctx, post.Media[1].ID, ptr("Rejected"), ptr("NSFL"))
	require.NoError(t, err)

	report, err := f.engine.SetPostRating(ctx, "101", ptr("KF"), ptr("Safe"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Independent)

	got, err := f.store.GetPost(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, archive.Rating{Content: "KF", Safety: "Safe"}, got.Media[0].Rating)
	assert.Equal(t, archive.Rating{Content: "Rejected", Safety: "NSFL"}, got.Media[1].Rating)
	assert.Equal(t, f.files.Dir(got.Media[1].Rating), filepath.Dir(got.Media[1].LocalPath))
}

func TestIndependentMediaSurvivesMatchingPostRating(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, "201", 1)
	own := archive.Rating{Content: "NonKF", Safety: "NSFW"}

	_, err := f.engine.SetMediaRating(ctx, post.Media[0].ID, ptr(own.Content), ptr(own.Safety))
	require.NoError(t, err)
	_, err = f.engine.SetPostRating(ctx, "201", ptr(own.Content), ptr(own.Safety))
	require.NoError(t, err)
	report, err := f.engine.SetPostRating(ctx, "201", ptr("KF"), ptr("Safe"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Independent)
	assert.Empty(t, report.Media)

	got, err := f.store.GetMedia(ctx, post.Media[0].ID)
	require.NoError(t, err)
	assert.True(t, got.OwnRating)
	assert.Equal(t, own, got.Rating)
	assert.Equal(t, f.files.Dir(own), filepath.Dir(got.LocalPath))
	assert.FileExists(t, got.LocalPath)
}

func TestReapplyingPostRatingRepairsFailedMove(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, "101", 1)
	target := archive.Rating{Content: "KF", Safety: "Safe"}

	f.files.failNextMoves(1)
	report, err := f.engine.SetPostRating(ctx, "101", ptr("KF"), ptr("Safe"))
	require.NoError(t, err)
	require.Len(t, report.Media, 1)
	assert.Equal(t, Failed, report.Media[0].Outcome)

	got, err := f.store.GetMedia(ctx, post.Media[0].ID)
	require.NoError(t, err)
	assert.Equal(t, target, got.Rating)
	assert.Equal(t, post.Media[0].LocalPath, got.LocalPath)
	verify, err := f.engine.Verify(ctx, VerifyOptions{})
	require.NoError(t, err)
	require.Len(t, verify.Problems, 1)
	assert.Equal(t, ProblemMisplaced, verify.Problems[0].Kind)

	report, err = f.engine.SetPostRating(ctx, "101", ptr("KF"), ptr("Safe"))
	require.NoError(t, err)
	assert.False(t, report.Unchanged)
	require.Len(t, report.Media, 1)
	assert.Equal(t, Moved, report.Media[0].Outcome)

	got, err = f.store.GetMedia(ctx, post.Media[0].ID)
	require.NoError(t, err)
	assert.Equal(t, f.files.Dir(target), filepath.Dir(got.LocalPath))
	assert.FileExists(t, got.LocalPath)
	verify, err = f.engine.Verify(ctx, VerifyOptions{})
	require.NoError(t, err)
	assert.Empty(t, verify.Problems)

	report, err = f.engine.SetPostRating(ctx, "101", ptr("KF"), ptr("Safe"))
	require.NoError(t, err)
	assert.True(t, report.Unchanged)
}

func TestReapplyingMediaRatingRepairsFailedMove(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, "101", 1)
	id := post.Media[0].ID

	f.files.failNextMoves(1)
	report, err := f.engine.SetMediaRating(ctx, id, ptr("Rejected"), nil)
	require.NoError(t, err)
	require.Len(t, report.Media, 1)
	assert.Equal(t, Failed, report.Media[0].Outcome)

	report, err = f.engine.SetMediaRating(ctx, id, ptr("Rejected"), nil)
	require.NoError(t, err)
	require.Len(t, report.Media, 1)
	assert.Equal(t, Moved, report.Media[0].Outcome)

	got, err := f.store.GetMedia(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, f.files.Dir(got.Rating), filepath.Dir(got.LocalPath))
}

func TestApplyValidatesTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Apply(ctx, Request{Kind: "album", PostID: "1"})
	require.ErrorIs(t, err, ErrInvalidTarget)
	_, err = f.engine.Apply(ctx, Request{Kind: TargetMedia})
	require.ErrorIs(t, err, ErrInvalidTarget)
	_, err = f.engine.Apply(ctx, Request{Kind: TargetPost, PostID: "404", Content: ptr("KF")})
	require.ErrorIs(t, err, archive.ErrNotFound)

	report, err := f.engine.Apply(ctx, Request{Kind: TargetPost, PostID: "404"})
	require.NoError(t, err)
	assert.True(t, report.Unchanged)
}

func TestRequestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "post:101", Request{Kind: TargetPost, PostID: "101"}.Key())
	assert.Equal(t, "media:7", Request{Kind: TargetMedia, MediaID: 7}.Key())
}

func TestVerifyReportsMissingAndMisplaced(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, "101", 3)

	require.NoError(t, os.Remove(post.Media[0].LocalPath))
	stray := filepath.Join(f.files.Root(), "stray.jpg")
	require.NoError(t, os.Rename(post.Media[1].LocalPath, stray))
	err := f.writer.Do(ctx, "misplace", func(ctx context.Context, tx *sql.Tx) error {
		return store.New(tx).SetMediaLocation(ctx, post.Media[1].ID, archive.WaitingRating, stray)
	})
	require.NoError(t, err)

	report, err := f.engine.Verify(ctx, VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	require.Len(t, report.Problems, 2)
	assert.Equal(t, ProblemMissing, report.Problems[0].Kind)
	assert.Equal(t, ProblemMisplaced, report.Problems[1].Kind)
}

func TestVerifyDeepDetectsCorruptFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, "101", 1)

	data, err := os.ReadFile(post.Media[0].LocalPath)
	require.NoError(t, err)
	sum, err := sha256.New().Hash(data)
	require.NoError(t, err)
	err = f.writer.Do(ctx, "fix hash", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE media SET data_hash = ? WHERE id = ?`, sum, post.Media[0].ID)
		return err
	})
	require.NoError(t, err)

	report, err := f.engine.Verify(ctx, VerifyOptions{Deep: true})
	require.NoError(t, err)
	assert.Empty(t, report.Problems)

	require.NoError(t, os.WriteFile(post.Media[0].LocalPath, []byte("truncated"), 0o600))
	report, err = f.engine.Verify(ctx, VerifyOptions{Deep: true})
	require.NoError(t, err)
	require.Len(t, report.Problems, 1)
	assert.Equal(t, ProblemCorrupt, report.Problems[0].Kind)
}

type countingFiles struct {
	*local.ArchiveStore

	mu        sync.Mutex
	moves     int
	ensures   int
	failMoves int
}

func (c *countingFiles) Move(src, dst string) error {
	c.mu.Lock()
	c.moves++
	fail := c.failMoves > 0
	if fail {
		c.failMoves--
	}
	c.mu.Unlock()
	if fail {
		return errors.New("device busy")
	}
	return c.ArchiveStore.Move(src, dst)
}

func (c *countingFiles) failNextMoves(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failMoves = n
}

func (c *countingFiles) EnsureDir(r archive.Rating) error {
	c.mu.Lock()
	c.ensures++
	c.mu.Unlock()
	return c.ArchiveStore.EnsureDir(r)
}

func (c *countingFiles) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moves, c.ensures
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func TestRequestMergeKeepsLatestComponents(t *testing.T) {
	t.Parallel()

	first := Request{Kind: TargetPost, PostID: "1", Content: ptr("KF"), Safety: ptr("Safe")}
	merged := first.Merge(Request{Kind: TargetPost, PostID: "1", Safety: ptr("NSFW")})
	assert.Equal(t, "KF", *merged.Content)
	assert.Equal(t, "NSFW", *merged.Safety)
}

func TestValidateChecksValuesAndTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.engine.Validate(Request{Kind: TargetMedia, MediaID: 3, Safety: ptr("nsfl")}))
	require.ErrorIs(t, f.engine.Validate(Request{Kind: TargetPost, PostID: "1", Content: ptr("Waiting")}), ErrInvalidRating)
	require.ErrorIs(t, f.engine.Validate(Request{Kind: TargetPost}), ErrInvalidTarget)
}
