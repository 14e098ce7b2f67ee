// Package orchestrator runs periodic scrape cycles over the eligible accounts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/archive"
	"github.com/JakeFAU/feed-archiver/internal/crawl"
	"github.com/JakeFAU/feed-archiver/internal/events"
)

// ErrCycleRunning is returned when a cycle is requested while another is in progress.
var ErrCycleRunning = errors.New("scrape cycle already running")

// Accounts lists the accounts a cycle visits.
type Accounts interface {
	EligibleAccounts(ctx context.Context) ([]archive.Account, error)
	GetAccount(ctx context.Context, id string) (archive.Account, error)
}

// Scraper crawls one account.
type Scraper interface {
	Scrape(ctx context.Context, account archive.Account) (crawl.Result, error)
}

// Config controls scheduling.
type Config struct {
	Interval        time.Duration
	ScrapeAtStartup bool
}

// Orchestrator owns the periodic scrape task. Cycles never overlap.
type Orchestrator struct {
	cfg      Config
	accounts Accounts
	scraper  Scraper
	ids      archive.IDGenerator
	events   events.Emitter
	clock    archive.Clock
	logger   *zap.Logger

	running sync.Mutex
	wg      sync.WaitGroup
	cron    *cron.Cron
}

// New builds an Orchestrator.
func New(
	cfg Config,
	accounts Accounts,
	scraper Scraper,
	ids archive.IDGenerator,
	emitter events.Emitter,
	clock archive.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if emitter == nil {
		emitter = events.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = wallClock{}
	}
	return &Orchestrator{
		cfg:      cfg,
		accounts: accounts,
		scraper:  scraper,
		ids:      ids,
		events:   emitter,
		clock:    clock,
		logger:   logger,
	}
}

// Start schedules a cycle every Interval and, when configured, runs one right away.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.cfg.Interval <= 0 {
		return fmt.Errorf("scrape interval must be > 0, got %s", o.cfg.Interval)
	}
	o.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{o.logger})))
	spec := "@every " + o.cfg.Interval.String()
	if _, err := o.cron.AddFunc(spec, func() { o.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	o.cron.Start()
	o.logger.Info("scrape schedule started", zap.Duration("interval", o.cfg.Interval))

	if o.cfg.ScrapeAtStartup {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runScheduled(ctx)
		}()
	}
	return nil
}

// Stop removes the schedule and waits for a running cycle to finish.
func (o *Orchestrator) Stop() {
	if o.cron != nil {
		<-o.cron.Stop().Done()
	}
	o.wg.Wait()
	o.logger.Info("scrape schedule stopped")
}

func (o *Orchestrator) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := o.RunCycle(ctx); err != nil {
		if errors.Is(err, ErrCycleRunning) {
			o.logger.Info("skipping scheduled cycle, previous one still running")
			return
		}
		o.logger.Error("scrape cycle failed", zap.Error(err))
	}
}

// RunCycle crawls every eligible account in turn. A failing account is
// recorded in the summary and the cycle moves on to the next one.
func (o *Orchestrator) RunCycle(ctx context.Context) (events.CycleSummary, error) {
	if !o.running.TryLock() {
		return events.CycleSummary{}, ErrCycleRunning
	}
	defer o.running.Unlock()

	summary := events.CycleSummary{Started: o.clock.Now().UTC()}
	id, err := o.ids.NewID()
	if err != nil {
		return summary, fmt.Errorf("cycle id: %w", err)
	}
	summary.ID = id
	ctx = events.WithCycle(ctx, id)
	logger := o.logger.With(zap.String("cycle_id", id))

	accounts, err := o.accounts.EligibleAccounts(ctx)
	if err != nil {
		return summary, fmt.Errorf("list eligible accounts: %w", err)
	}
	logger.Info("scrape cycle started", zap.Int("accounts", len(accounts)))

	for _, account := range accounts {
		if ctx.Err() != nil {
			logger.Warn("scrape cycle interrupted", zap.Error(ctx.Err()))
			break
		}
		summary.Accounts = append(summary.Accounts, o.scrapeAccount(ctx, account))
	}

	summary.Finished = o.clock.Now().UTC()
	ingested, failed := summary.Totals()
	logger.Info("scrape cycle finished",
		zap.Int("accounts", len(summary.Accounts)),
		zap.Int("ingested", ingested),
		zap.Int("failed_accounts", failed),
		zap.Duration("duration", summary.Finished.Sub(summary.Started)),
	)
	o.events.Emit(events.Event{
		Kind:    events.KindCycleFinished,
		TS:      summary.Finished,
		CycleID: id,
		Cycle:   &summary,
	})
	return summary, nil
}

// ScrapeAccount crawls a single account by id outside the schedule. It
// shares the cycle lock so it never races a scheduled cycle.
func (o *Orchestrator) ScrapeAccount(ctx context.Context, accountID string) (events.AccountResult, error) {
	if !o.running.TryLock() {
		return events.AccountResult{}, ErrCycleRunning
	}
	defer o.running.Unlock()

	account, err := o.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return events.AccountResult{}, err
	}
	res := o.scrapeAccount(ctx, account)
	if res.Err != "" {
		return res, errors.New(res.Err)
	}
	return res, nil
}

func (o *Orchestrator) scrapeAccount(ctx context.Context, account archive.Account) events.AccountResult {
	start := o.clock.Now()
	res, err := o.safeScrape(ctx, account)
	out := events.AccountResult{
		AccountID: account.ID,
		Handle:    account.Handle,
		Ingested:  res.Ingested,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
		Duration:  o.clock.Now().Sub(start),
	}
	if err != nil {
		out.Err = err.Error()
		o.logger.Error("account scrape failed",
			zap.String("account_id", account.ID),
			zap.String("handle", account.Handle),
			zap.Error(err),
		)
	}
	o.events.Emit(events.Event{
		Kind:    events.KindAccountScraped,
		TS:      o.clock.Now().UTC(),
		CycleID: events.CycleFrom(ctx),
		Account: &account,
		Result:  &out,
	})
	return out
}

func (o *Orchestrator) safeScrape(ctx context.Context, account archive.Account) (res crawl.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scrape %s panicked: %v", account.Handle, r)
		}
	}()
	return o.scraper.Scrape(ctx, account)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
