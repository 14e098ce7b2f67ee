package debounce

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/relocate"
)

// Applier validates and applies rating requests.
type Applier interface {
	Validate(req relocate.Request) error
	Apply(ctx context.Context, req relocate.Request) (relocate.Report, error)
}

// Ratings debounces rating requests per target before they reach the
// relocation engine, so a burst of clicks on one post moves its files once.
type Ratings struct {
	applier  Applier
	logger   *zap.Logger
	timeout  time.Duration
	d        *Debouncer[relocate.Request]
	onReport func(relocate.Report)

	mu        sync.Mutex
	observers []Observer
}

// Observer is told how every flushed request ended: err is set when the
// apply failed, otherwise report describes it (report.Unchanged included).
type Observer func(req relocate.Request, report relocate.Report, err error)

// RatingsConfig configures a Ratings debouncer.
type RatingsConfig struct {
	QuietPeriod time.Duration
	// ApplyTimeout bounds how long a flush waits on the write queue.
	ApplyTimeout time.Duration
	// OnReport, when set, receives the report of every successful flush.
	OnReport func(relocate.Report)
	Logger   *zap.Logger
}

// NewRatings builds a Ratings debouncer in front of applier.
func NewRatings(applier Applier, cfg RatingsConfig) *Ratings {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = time.Minute
	}
	r := &Ratings{
		applier:  applier,
		logger:   cfg.Logger,
		timeout:  cfg.ApplyTimeout,
		onReport: cfg.OnReport,
	}
	r.d = New(cfg.QuietPeriod, relocate.Request.Merge, r.apply)
	return r
}

// Submit validates req synchronously and schedules it. Invalid requests are
// rejected without being queued.
func (r *Ratings) Submit(req relocate.Request) error {
	if err := r.applier.Validate(req); err != nil {
		return err
	}
	r.d.Request(req.Key(), req)
	return nil
}

// Observe registers fn for every flushed request.
func (r *Ratings) Observe(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Pending reports targets still inside their quiet period.
func (r *Ratings) Pending() int {
	return r.d.Pending()
}

// Close applies everything still pending.
func (r *Ratings) Close() {
	r.d.Close()
}

func (r *Ratings) apply(key string, req relocate.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	report, err := r.applier.Apply(ctx, req)
	r.notify(req, report, err)
	if err != nil {
		r.logger.Error("debounced rating failed", zap.String("target", key), zap.Error(err))
		return
	}
	if r.onReport != nil {
		r.onReport(report)
	}
}

func (r *Ratings) notify(req relocate.Request, report relocate.Report, err error) {
	r.mu.Lock()
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()
	for _, fn := range observers {
		fn(req, report, err)
	}
}
