// Package relocate applies rating changes to posts and media, moving each
// file into the directory of its new rating pair inside one write unit.
package relocate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/archive"
	"github.com/JakeFAU/feed-archiver/internal/events"
	"github.com/JakeFAU/feed-archiver/internal/metrics"
	"github.com/JakeFAU/feed-archiver/internal/store"
	"github.com/JakeFAU/feed-archiver/internal/writequeue"
)

// ErrInvalidRating is returned for a rating value outside the configured
// vocabulary or equal to the Waiting sentinel.
var ErrInvalidRating = errors.New("invalid rating")

// ErrInvalidTarget is returned for a request that names neither a post nor a media row.
var ErrInvalidTarget = errors.New("invalid rating target")

// Writer runs a mutation on the single database writer.
type Writer interface {
	Do(ctx context.Context, name string, fn writequeue.Mutation) error
}

// Files is the on-disk archive layout.
type Files interface {
	Mover
	Dir(r archive.Rating) string
	EnsureDir(r archive.Rating) error
}

// MediaLister pages through media rows for Verify.
type MediaLister interface {
	ListMedia(ctx context.Context, afterID int64, limit int) ([]archive.Media, error)
}

// TargetKind selects what a Request rates.
type TargetKind string

// Rating targets.
const (
	TargetPost  TargetKind = "post"
	TargetMedia TargetKind = "media"
)

// Request asks for a rating change. A nil component keeps its current value.
type Request struct {
	Kind    TargetKind
	PostID  string
	MediaID int64
	Content *string
	Safety  *string
}

// Key identifies the request target.
func (r Request) Key() string {
	if r.Kind == TargetMedia {
		return "media:" + strconv.FormatInt(r.MediaID, 10)
	}
	return "post:" + r.PostID
}

// Merge overlays next on r: components next sets win, omitted ones keep r's.
func (r Request) Merge(next Request) Request {
	if next.Content != nil {
		r.Content = next.Content
	}
	if next.Safety != nil {
		r.Safety = next.Safety
	}
	return r
}

// MediaOutcome reports what happened to one file.
type MediaOutcome struct {
	MediaID int64   `json:"media_id"`
	Outcome Outcome `json:"-"`
	Status  string  `json:"outcome"`
	Path    string  `json:"path"`
	Err     string  `json:"error,omitempty"`
}

// Report describes an applied rating request.
type Report struct {
	PostID  string         `json:"post_id,omitempty"`
	MediaID int64          `json:"media_id,omitempty"`
	From    archive.Rating `json:"from"`
	To      archive.Rating `json:"to"`
	// Unchanged is set when the request matched the stored rating.
	Unchanged bool `json:"unchanged"`
	// Independent counts child media left alone because they carry their own rating.
	Independent int            `json:"independent"`
	Media       []MediaOutcome `json:"media"`
}

// Counts tallies relocated, missing and failed files.
func (r Report) Counts() (moved, missing, failed int) {
	for _, m := range r.Media {
		switch m.Outcome {
		case Moved, AlreadyAtDestination:
			moved++
		case Missing:
			missing++
		case Failed:
			failed++
		}
	}
	return moved, missing, failed
}

// Config wires the engine's collaborators.
type Config struct {
	Vocabulary archive.Vocabulary
	Writer     Writer
	Files      Files
	Media      MediaLister
	Hasher     FileHasher
	Events     events.Emitter
	Clock      archive.Clock
	Logger     *zap.Logger
}

// Engine applies rating changes.
type Engine struct {
	vocab  archive.Vocabulary
	writer Writer
	files  Files
	media  MediaLister
	hasher FileHasher
	events events.Emitter
	clock  archive.Clock
	logger *zap.Logger
}

// New builds an Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	return &Engine{
		vocab:  cfg.Vocabulary,
		writer: cfg.Writer,
		files:  cfg.Files,
		media:  cfg.Media,
		hasher: cfg.Hasher,
		events: cfg.Events,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
}

// Validate checks a request's target and rating values without touching the
// store or the filesystem.
func (e *Engine) Validate(req Request) error {
	if err := checkTarget(req); err != nil {
		return err
	}
	_, err := e.validate(req.Content, req.Safety)
	return err
}

// Apply dispatches on the request kind.
func (e *Engine) Apply(ctx context.Context, req Request) (Report, error) {
	if err := checkTarget(req); err != nil {
		return Report{}, err
	}
	if req.Kind == TargetMedia {
		return e.SetMediaRating(ctx, req.MediaID, req.Content, req.Safety)
	}
	return e.SetPostRating(ctx, req.PostID, req.Content, req.Safety)
}

func checkTarget(req Request) error {
	switch req.Kind {
	case TargetPost:
		if req.PostID == "" {
			return fmt.Errorf("%w: post id is required", ErrInvalidTarget)
		}
	case TargetMedia:
		if req.MediaID <= 0 {
			return fmt.Errorf("%w: media id is required", ErrInvalidTarget)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidTarget, req.Kind)
	}
	return nil
}

// SetPostRating rates a post and every child media row that has not been
// rated on its own. Re-applying the current rating moves files left outside
// their rating's directory by an earlier failed move.
func (e *Engine) SetPostRating(ctx context.Context, postID string, content, safety *string) (Report, error) {
	change, err := e.validate(content, safety)
	if err != nil {
		return Report{}, err
	}
	if change.empty() {
		return Report{PostID: postID, Unchanged: true}, nil
	}

	var report Report
	err = e.writer.Do(ctx, "rate post", func(ctx context.Context, tx *sql.Tx) error {
		q := store.New(tx)
		post, err := q.GetPost(ctx, postID)
		if err != nil {
			return err
		}
		report = Report{PostID: postID, From: post.Rating, To: change.apply(post.Rating)}
		changed := report.To != report.From
		dir := e.files.Dir(report.To)
		var targets []archive.Media
		for _, m := range post.Media {
			switch {
			case m.OwnRating:
				report.Independent++
			case changed || e.misplaced(m, dir):
				targets = append(targets, m)
			}
		}
		if changed || len(targets) > 0 {
			if err := e.files.EnsureDir(report.To); err != nil {
				return fmt.Errorf("prepare %s: %w", report.To, err)
			}
		}
		for _, m := range targets {
			outcome, err := e.relocate(ctx, q, m, report.To, dir)
			if err != nil {
				return err
			}
			report.Media = append(report.Media, outcome)
		}
		if !changed {
			report.Unchanged = len(report.Media) == 0
			return nil
		}
		return q.SetPostRating(ctx, postID, report.To)
	})
	if err != nil {
		return Report{}, fmt.Errorf("rate post %s: %w", postID, err)
	}
	e.finish(report)
	return report, nil
}

// SetMediaRating rates one media file independently of its post. From then
// on post ratings leave the file alone. Re-applying the current rating
// repairs a misplaced file.
func (e *Engine) SetMediaRating(ctx context.Context, mediaID int64, content, safety *string) (Report, error) {
	change, err := e.validate(content, safety)
	if err != nil {
		return Report{}, err
	}
	if change.empty() {
		return Report{MediaID: mediaID, Unchanged: true}, nil
	}

	var report Report
	err = e.writer.Do(ctx, "rate media", func(ctx context.Context, tx *sql.Tx) error {
		q := store.New(tx)
		m, err := q.GetMedia(ctx, mediaID)
		if err != nil {
			return err
		}
		report = Report{PostID: m.PostID, MediaID: mediaID, From: m.Rating, To: change.apply(m.Rating)}
		if !m.OwnRating {
			if err := q.MarkMediaRated(ctx, mediaID); err != nil {
				return err
			}
		}
		dir := e.files.Dir(report.To)
		if report.To == report.From && !e.misplaced(m, dir) {
			report.Unchanged = true
			return nil
		}
		if err := e.files.EnsureDir(report.To); err != nil {
			return fmt.Errorf("prepare %s: %w", report.To, err)
		}
		outcome, err := e.relocate(ctx, q, m, report.To, dir)
		if err != nil {
			return err
		}
		report.Media = append(report.Media, outcome)
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("rate media %d: %w", mediaID, err)
	}
	e.finish(report)
	return report, nil
}

// relocate moves one file and records its new rating. A file that cannot be
// found or moved keeps its recorded path but still takes the new rating.
func (e *Engine) relocate(
	ctx context.Context,
	q *store.Queries,
	m archive.Media,
	to archive.Rating,
	dir string,
) (MediaOutcome, error) {
	dest := filepath.Join(dir, filepath.Base(m.LocalPath))
	outcome, moveErr := Resolve(m.LocalPath, dest, e.files)
	metrics.ObserveRelocation(outcome.String())

	result := MediaOutcome{MediaID: m.ID, Outcome: outcome, Status: outcome.String(), Path: dest}
	logger := e.logger.With(zap.Int64("media_id", m.ID), zap.String("post_id", m.PostID),
		zap.String("recorded", m.LocalPath), zap.String("destination", dest))
	switch outcome {
	case Missing:
		logger.Warn("media file missing at both locations, updating rating only")
		result.Path = m.LocalPath
	case Failed:
		logger.Error("media move failed, updating rating only", zap.Error(moveErr))
		result.Path = m.LocalPath
		result.Err = moveErr.Error()
	case AlreadyAtDestination:
		logger.Info("media file already at destination")
	}
	if err := q.SetMediaLocation(ctx, m.ID, to, result.Path); err != nil {
		return MediaOutcome{}, err
	}
	return result, nil
}

func (e *Engine) misplaced(m archive.Media, dir string) bool {
	return filepath.Clean(filepath.Dir(m.LocalPath)) != filepath.Clean(dir)
}

func (e *Engine) finish(report Report) {
	if report.Unchanged {
		return
	}
	moved, missing, failed := report.Counts()
	e.logger.Info("rating applied",
		zap.String("post_id", report.PostID),
		zap.Int64("media_id", report.MediaID),
		zap.Stringer("from", report.From),
		zap.Stringer("to", report.To),
		zap.Int("moved", moved),
		zap.Int("missing", missing),
		zap.Int("failed", failed),
	)
	e.events.Emit(events.Event{
		Kind: events.KindRatingApplied,
		TS:   e.clock.Now().UTC(),
		Rating: &events.RatingChange{
			PostID:  report.PostID,
			MediaID: report.MediaID,
			From:    report.From,
			To:      report.To,
			Moved:   moved,
			Missing: missing,
			Failed:  failed,
		},
	})
}

type ratingChange struct {
	content string
	safety  string
}

func (c ratingChange) empty() bool {
	return c.content == "" && c.safety == ""
}

func (c ratingChange) apply(current archive.Rating) archive.Rating {
	if c.content != "" {
		current.Content = c.content
	}
	if c.safety != "" {
		current.Safety = c.safety
	}
	return current
}

func (e *Engine) validate(content, safety *string) (ratingChange, error) {
	var change ratingChange
	if content != nil {
		v, ok := e.vocab.Canonical(archive.AxisContent, *content)
		if !ok {
			e.logger.Warn("rejected content rating", zap.String("value", *content))
			return ratingChange{}, fmt.Errorf("%w: content %q", ErrInvalidRating, *content)
		}
		change.content = v
	}
	if safety != nil {
		v, ok := e.vocab.Canonical(archive.AxisSafety, *safety)
		if !ok {
			e.logger.Warn("rejected safety rating", zap.String("value", *safety))
			return ratingChange{}, fmt.Errorf("%w: safety %q", ErrInvalidRating, *safety)
		}
		change.safety = v
	}
	return change, nil
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
