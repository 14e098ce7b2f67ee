package crawl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/archive"
	"github.com/JakeFAU/feed-archiver/internal/events"
	"github.com/JakeFAU/feed-archiver/internal/metrics"
	"github.com/JakeFAU/feed-archiver/internal/store"
	"github.com/JakeFAU/feed-archiver/internal/writequeue"
)

var (
	// ErrAlreadyArchived is returned by ScrapeItem for a post that is already indexed.
	ErrAlreadyArchived = errors.New("post already archived")
	// ErrNoMedia is returned by ScrapeItem for a post without attachments.
	ErrNoMedia = errors.New("post has no media")
)

// Writer runs a mutation on the single database writer.
type Writer interface {
	Do(ctx context.Context, name string, fn writequeue.Mutation) error
}

// Index answers the read-only questions the crawler asks of the archive.
type Index interface {
	GetAccount(ctx context.Context, id string) (archive.Account, error)
	PostExists(ctx context.Context, id string) (bool, error)
}

// Scratch stores freshly downloaded files in the unclassified directory.
type Scratch interface {
	WriteScratch(name string, data []byte) (string, error)
}

// Config controls pacing.
type Config struct {
	// PageDelay separates page requests.
	PageDelay time.Duration
	// ItemDelay separates archived items.
	ItemDelay time.Duration
}

// Deps bundles the collaborators of an Engine.
type Deps struct {
	Feed       archive.FeedSource
	Fetcher    archive.Fetcher
	Content    archive.ContentHasher
	Perceptual archive.PerceptualHasher
	Files      Scratch
	Index      Index
	Writer     Writer
	Events     events.Emitter
	Clock      archive.Clock
	Pauser     Pauser
	Logger     *zap.Logger
}

// Result summarizes one account crawl.
type Result struct {
	AccountID string
	Handle    string
	Pages     int
	Ingested  int
	Skipped   int
	Failed    int
	// Watermark is the newest item id observed, empty when the feed was empty.
	Watermark string
	// ReachedWatermark is set when the walk stopped on the previous watermark.
	ReachedWatermark bool
}

// Engine crawls accounts.
type Engine struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New builds an Engine.
func New(cfg Config, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Pauser == nil {
		deps.Pauser = TimerPauser{}
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	return &Engine{cfg: cfg, deps: deps, log: deps.Logger}
}

// Scrape archives every item newer than the account's watermark. A failed
// page request aborts the crawl; a failed item is counted and skipped.
func (e *Engine) Scrape(ctx context.Context, account archive.Account) (Result, error) {
	res := Result{AccountID: account.ID, Handle: account.Handle}
	logger := e.log.With(zap.String("account_id", account.ID), zap.String("handle", account.Handle))
	stopAt := account.LastScrapedID

	var (
		cursor    string
		processed int
	)
	for {
		if res.Pages > 0 {
			e.pause(ctx, "page", e.cfg.PageDelay)
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("scrape %s: %w", account.Handle, err)
		}
		page, err := e.deps.Feed.FetchPage(ctx, account.ID, cursor)
		if err != nil {
			return res, fmt.Errorf("fetch page %d of %s: %w", res.Pages+1, account.Handle, err)
		}
		res.Pages++
		if len(page.Items) == 0 {
			logger.Info("end of timeline", zap.Int("pages", res.Pages))
			break
		}

		if res.Watermark == "" {
			res.Watermark = page.Items[0].ID
			if res.Watermark != stopAt {
				if err := e.saveWatermark(ctx, account.ID, res.Watermark); err != nil {
					return res, err
				}
			}
		}

		for _, item := range page.Items {
			if stopAt != "" && item.ID == stopAt {
				res.ReachedWatermark = true
				break
			}
			if processed > 0 {
				e.pause(ctx, "item", e.cfg.ItemDelay)
			}
			if err := ctx.Err(); err != nil {
				return res, fmt.Errorf("scrape %s: %w", account.Handle, err)
			}
			if err := e.handleItem(ctx, account, item, &res); err != nil {
				return res, err
			}
			processed++
		}
		if res.ReachedWatermark {
			logger.Info("reached previous watermark", zap.String("watermark", stopAt))
			break
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			logger.Info("no further cursor", zap.Int("pages", res.Pages))
			break
		}
		cursor = page.NextCursor
	}

	logger.Info("account scraped",
		zap.Int("pages", res.Pages),
		zap.Int("ingested", res.Ingested),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.String("watermark", res.Watermark),
	)
	return res, nil
}

// ScrapeItem archives a single item by id, regardless of the watermark. An
// account seen for the first time is registered under a creator named after
// its handle.
func (e *Engine) ScrapeItem(ctx context.Context, itemID string) (archive.Post, error) {
	item, err := e.deps.Feed.FetchItem(ctx, itemID)
	if err != nil {
		return archive.Post{}, fmt.Errorf("fetch item %s: %w", itemID, err)
	}
	if len(item.Media) == 0 {
		return archive.Post{}, fmt.Errorf("item %s: %w", itemID, ErrNoMedia)
	}
	account, err := e.ensureAccount(ctx, item)
	if err != nil {
		return archive.Post{}, fmt.Errorf("account of item %s: %w", itemID, err)
	}
	exists, err := e.deps.Index.PostExists(ctx, item.ID)
	if err != nil {
		return archive.Post{}, err
	}
	if exists {
		return archive.Post{}, fmt.Errorf("item %s: %w", itemID, ErrAlreadyArchived)
	}
	post, inserted, err := e.ingest(ctx, account, item)
	if err != nil {
		return archive.Post{}, fmt.Errorf("ingest item %s: %w", itemID, err)
	}
	if !inserted {
		return archive.Post{}, fmt.Errorf("item %s: %w", itemID, ErrAlreadyArchived)
	}
	e.emitIngested(ctx, account, post)
	return post, nil
}

func (e *Engine) ensureAccount(ctx context.Context, item archive.FeedItem) (archive.Account, error) {
	account, err := e.deps.Index.GetAccount(ctx, item.AccountID)
	if !errors.Is(err, archive.ErrNotFound) {
		return account, err
	}
	err = e.deps.Writer.Do(ctx, "register account", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		account, err = store.New(tx).RegisterAccount(ctx, item.Handle, archive.Account{
			ID:              item.AccountID,
			Handle:          item.Handle,
			DownloadEnabled: true,
		})
		return err
	})
	if errors.Is(err, store.ErrAccountExists) {
		return e.deps.Index.GetAccount(ctx, item.AccountID)
	}
	if err != nil {
		return archive.Account{}, err
	}
	e.log.Info("registered account from single item",
		zap.String("account_id", account.ID),
		zap.String("handle", account.Handle),
		zap.String("item_id", item.ID),
	)
	return account, nil
}

// handleItem archives one item and updates res. Only write failures are
// returned; everything else is counted.
func (e *Engine) handleItem(ctx context.Context, account archive.Account, item archive.FeedItem, res *Result) error {
	logger := e.log.With(zap.String("account_id", account.ID), zap.String("item_id", item.ID))
	if len(item.Media) == 0 {
		res.Skipped++
		logger.Debug("item has no media")
		return nil
	}
	exists, err := e.deps.Index.PostExists(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("check item %s: %w", item.ID, err)
	}
	if exists {
		res.Skipped++
		logger.Debug("item already archived")
		return nil
	}

	post, inserted, err := e.ingest(ctx, account, item)
	var se *stageError
	switch {
	case errors.As(err, &se):
		res.Failed++
		metrics.ObserveItemFailed(se.stage)
		logger.Warn("item skipped", zap.String("stage", se.stage), zap.Error(err))
		e.deps.Events.Emit(events.Event{
			Kind:    events.KindItemFailed,
			TS:      e.deps.Clock.Now().UTC(),
			CycleID: events.CycleFrom(ctx),
			Account: &account,
			ItemID:  item.ID,
			Note:    err.Error(),
		})
		return nil
	case err != nil:
		return err
	case !inserted:
		res.Skipped++
		return nil
	}
	res.Ingested++
	logger.Info("post archived", zap.Int("media", len(post.Media)))
	e.emitIngested(ctx, account, post)
	return nil
}

// ingest downloads every attachment and then writes the post and its media
// in one unit. Media rows are only written when the post row is new.
func (e *Engine) ingest(ctx context.Context, account archive.Account, item archive.FeedItem) (archive.Post, bool, error) {
	accountID := item.AccountID
	if accountID == "" {
		accountID = account.ID
	}
	handle := account.Handle
	if handle == "" {
		handle = item.Handle
	}
	post := archive.Post{
		ID:         item.ID,
		AccountID:  accountID,
		Text:       CleanText(item.Text),
		PostedAt:   item.CreatedAt,
		ArchivedAt: e.deps.Clock.Now().UTC(),
		Rating:     archive.WaitingRating,
	}
	media := make([]archive.Media, 0, len(item.Media))
	for i, d := range item.Media {
		m, err := e.download(ctx, handle, item.ID, i, d)
		if err != nil {
			return archive.Post{}, false, err
		}
		media = append(media, m)
	}

	var inserted bool
	err := e.deps.Writer.Do(ctx, "ingest post", func(ctx context.Context, tx *sql.Tx) error {
		q := store.New(tx)
		ok, err := q.InsertPost(ctx, post)
		if err != nil || !ok {
			return err
		}
		for i := range media {
			id, err := q.InsertMedia(ctx, media[i])
			if err != nil {
				return err
			}
			media[i].ID = id
		}
		inserted = true
		return nil
	})
	if err != nil {
		return archive.Post{}, false, fmt.Errorf("store post %s: %w", item.ID, err)
	}
	post.Media = media
	return post, inserted, nil
}

func (e *Engine) download(
	ctx context.Context,
	handle, postID string,
	index int,
	d archive.MediaDescriptor,
) (archive.Media, error) {
	target := ClassifyMedia(d)
	site := metrics.SanitizeSite(target.URL)
	data, err := e.deps.Fetcher.Fetch(ctx, target.URL)
	if err != nil {
		metrics.ObserveMediaDownload(site, "error", 0)
		return archive.Media{}, &stageError{stage: "download", err: err}
	}
	metrics.ObserveMediaDownload(site, "ok", len(data))

	ext := target.Ext
	if ext == ExtUnknown {
		if sniffed := sniffExt(data); sniffed != "" {
			ext = sniffed
		}
	}
	sum, err := e.deps.Content.Hash(data)
	if err != nil {
		return archive.Media{}, &stageError{stage: "hash", err: err}
	}
	name := fmt.Sprintf("%s_%s_%d.%s", handle, postID, index, ext)
	path, err := e.deps.Files.WriteScratch(name, data)
	if err != nil {
		return archive.Media{}, &stageError{stage: "store", err: err}
	}

	return archive.Media{
		PostID:         postID,
		Type:           ext,
		OriginalURL:    target.URL,
		LocalPath:      path,
		Index:          index,
		PerceptualHash: e.perceptualHash(data, name),
		DataHash:       sum,
		Width:          d.Width,
		Height:         d.Height,
		FileSize:       int64(len(data)),
		Rating:         archive.WaitingRating,
	}, nil
}

// perceptualHash is empty for anything that does not decode as an image.
func (e *Engine) perceptualHash(data []byte, name string) string {
	if e.deps.Perceptual == nil {
		return ""
	}
	img, ok, err := decodeImage(data)
	if err != nil {
		e.log.Debug("image not decodable, no perceptual hash", zap.String("file", name), zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	sum, err := e.deps.Perceptual.Hash(img)
	if err != nil {
		e.log.Warn("perceptual hash failed", zap.String("file", name), zap.Error(err))
		return ""
	}
	return sum
}

func (e *Engine) saveWatermark(ctx context.Context, accountID, itemID string) error {
	err := e.deps.Writer.Do(ctx, "advance watermark", func(ctx context.Context, tx *sql.Tx) error {
		return store.New(tx).SetWatermark(ctx, accountID, itemID)
	})
	if err != nil {
		return fmt.Errorf("save watermark %s for %s: %w", itemID, accountID, err)
	}
	return nil
}

func (e *Engine) emitIngested(ctx context.Context, account archive.Account, post archive.Post) {
	e.deps.Events.Emit(events.Event{
		Kind:    events.KindPostIngested,
		TS:      e.deps.Clock.Now().UTC(),
		CycleID: events.CycleFrom(ctx),
		Account: &account,
		Post:    &post,
	})
}

// stageError marks a per-item failure that skips the item without aborting the crawl.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return e.stage + ": " + e.err.Error()
}

func (e *stageError) Unwrap() error {
	return e.err
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
