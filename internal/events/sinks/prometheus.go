package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/feed-archiver/internal/events"
)

// PrometheusSink exports archive activity as Prometheus collectors.
type PrometheusSink struct {
	postsIngested   *prometheus.CounterVec
	mediaIngested   prometheus.Counter
	itemsFailed     prometheus.Counter
	accountsScraped *prometheus.CounterVec
	accountRuntime  *prometheus.HistogramVec
	cycles          *prometheus.CounterVec
	cycleRuntime    prometheus.Histogram
	ratingsApplied  prometheus.Counter
	filesMissing    prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		postsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_posts_ingested_total",
			Help: "Posts archived, partitioned by account handle.",
		}, []string{"handle"}),
		mediaIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_media_ingested_total",
			Help: "Media files archived with their posts.",
		}),
		itemsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_items_skipped_total",
			Help: "Feed items skipped after a media failure.",
		}),
		accountsScraped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_accounts_scraped_total",
			Help: "Account crawls partitioned by result.",
		}, []string{"result"}),
		accountRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_account_scrape_seconds",
			Help:    "Wall time per account crawl.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_scrape_cycles_total",
			Help: "Scrape cycles partitioned by whether any account failed.",
		}, []string{"result"}),
		cycleRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archiver_scrape_cycle_seconds",
			Help:    "Wall time per scrape cycle.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200},
		}),
		ratingsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_ratings_applied_total",
			Help: "Rating changes that reached the archive.",
		}),
		filesMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_rating_files_missing_total",
			Help: "Files found at neither the recorded nor the destination path while rating.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.postsIngested,
		s.mediaIngested,
		s.itemsFailed,
		s.accountsScraped,
		s.accountRuntime,
		s.cycles,
		s.cycleRuntime,
		s.ratingsApplied,
		s.filesMissing,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case events.KindPostIngested:
			s.postsIngested.WithLabelValues(evt.Account.Handle).Inc()
			s.mediaIngested.Add(float64(len(evt.Post.Media)))
		case events.KindItemFailed:
			s.itemsFailed.Inc()
		case events.KindAccountScraped:
			result := resultLabel(evt.Result.Err == "")
			s.accountsScraped.WithLabelValues(result).Inc()
			if evt.Result.Duration > 0 {
				s.accountRuntime.WithLabelValues(result).Observe(evt.Result.Duration.Seconds())
			}
		case events.KindCycleFinished:
			_, failed := evt.Cycle.Totals()
			s.cycles.WithLabelValues(resultLabel(failed == 0)).Inc()
			if dur := evt.Cycle.Finished.Sub(evt.Cycle.Started); dur > 0 {
				s.cycleRuntime.Observe(dur.Seconds())
			}
		case events.KindRatingApplied:
			s.ratingsApplied.Inc()
			s.filesMissing.Add(float64(evt.Rating.Missing))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
