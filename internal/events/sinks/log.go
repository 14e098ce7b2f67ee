package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/events"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("kind", string(evt.Kind)),
			zap.Time("ts", evt.TS),
		}
		if evt.CycleID != "" {
			fields = append(fields, zap.String("cycle_id", evt.CycleID))
		}
		if evt.Account != nil {
			fields = append(fields, zap.String("account_id", evt.Account.ID), zap.String("handle", evt.Account.Handle))
		}
		switch evt.Kind {
		case events.KindPostIngested:
			fields = append(fields, zap.String("post_id", evt.Post.ID), zap.Int("media", len(evt.Post.Media)))
			s.logger.Info("post archived", fields...)
		case events.KindItemFailed:
			fields = append(fields, zap.String("item_id", evt.ItemID), zap.String("note", evt.Note))
			s.logger.Warn("item skipped", fields...)
		case events.KindAccountScraped:
			r := evt.Result
			fields = append(fields,
				zap.Int("ingested", r.Ingested),
				zap.Int("skipped", r.Skipped),
				zap.Int("failed", r.Failed),
				zap.Duration("dur", r.Duration),
				zap.String("error", r.Err),
			)
			s.logger.Info("account scraped", fields...)
		case events.KindCycleFinished:
			ingested, failed := evt.Cycle.Totals()
			fields = append(fields,
				zap.String("cycle_id", evt.Cycle.ID),
				zap.Int("accounts", len(evt.Cycle.Accounts)),
				zap.Int("ingested", ingested),
				zap.Int("failed_accounts", failed),
				zap.Duration("dur", evt.Cycle.Finished.Sub(evt.Cycle.Started)),
			)
			s.logger.Info("scrape cycle finished", fields...)
		case events.KindRatingApplied:
			r := evt.Rating
			fields = append(fields,
				zap.String("post_id", r.PostID),
				zap.Int64("media_id", r.MediaID),
				zap.Stringer("from", r.From),
				zap.Stringer("to", r.To),
				zap.Int("moved", r.Moved),
				zap.Int("missing", r.Missing),
				zap.Int("failed", r.Failed),
			)
			s.logger.Info("rating applied", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
