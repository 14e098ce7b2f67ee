package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/feed-archiver/internal/archive"
)

// Kind identifies what happened.
type Kind string

// Supported event kinds.
const (
	KindPostIngested   Kind = "POST_INGESTED"
	KindItemFailed     Kind = "ITEM_FAILED"
	KindAccountScraped Kind = "ACCOUNT_SCRAPED"
	KindCycleFinished  Kind = "CYCLE_FINISHED"
	KindRatingApplied  Kind = "RATING_APPLIED"
)

// Event is one notification-worthy occurrence.
type Event struct {
	Kind Kind
	// TS is the UTC time recorded by the emitter.
	TS time.Time
	// CycleID groups events produced by one scheduled scrape.
	CycleID string
	// Account is set for ingest and per-account events.
	Account *archive.Account
	// Post carries the ingested post with its media for KindPostIngested.
	Post *archive.Post
	// ItemID names the feed item for KindItemFailed.
	ItemID string
	// Result summarizes one account crawl for KindAccountScraped.
	Result *AccountResult
	// Cycle summarizes a whole scrape for KindCycleFinished.
	Cycle *CycleSummary
	// Rating describes an applied rating for KindRatingApplied.
	Rating *RatingChange
	// Note carries short failure text.
	Note string
}

// AccountResult is the outcome of crawling one account.
type AccountResult struct {
	AccountID string        `json:"account_id"`
	Handle    string        `json:"handle"`
	Ingested  int           `json:"ingested"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	Err       string        `json:"error,omitempty"`
}

// CycleSummary aggregates one scheduled scrape.
type CycleSummary struct {
	ID       string          `json:"id"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Accounts []AccountResult `json:"accounts"`
}

// Totals sums ingested posts and counts failed accounts.
func (c CycleSummary) Totals() (ingested, failedAccounts int) {
	for _, a := range c.Accounts {
		ingested += a.Ingested
		if a.Err != "" {
			failedAccounts++
		}
	}
	return ingested, failedAccounts
}

// RatingChange describes a rating applied to a post or a single media file.
type RatingChange struct {
	PostID  string         `json:"post_id,omitempty"`
	MediaID int64          `json:"media_id,omitempty"`
	From    archive.Rating `json:"from"`
	To      archive.Rating `json:"to"`
	Moved   int            `json:"moved"`
	Missing int            `json:"missing"`
	Failed  int            `json:"failed"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindPostIngested:
		if e.Post == nil || e.Account == nil {
			return errors.New("post ingested requires post and account")
		}
	case KindItemFailed:
		if e.ItemID == "" {
			return errors.New("item failed requires item id")
		}
	case KindAccountScraped:
		if e.Result == nil {
			return errors.New("account scraped requires result")
		}
	case KindCycleFinished:
		if e.Cycle == nil {
			return errors.New("cycle finished requires summary")
		}
	case KindRatingApplied:
		if e.Rating == nil {
			return errors.New("rating applied requires change")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}

type cycleKey struct{}

// WithCycle tags ctx with the id of the running scrape cycle.
func WithCycle(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleKey{}, id)
}

// CycleFrom returns the cycle id stored by WithCycle, if any.
func CycleFrom(ctx context.Context) string {
	id, _ := ctx.Value(cycleKey{}).(string)
	return id
}
