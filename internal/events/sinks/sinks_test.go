package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/feed-archiver/internal/archive"
	"github.com/JakeFAU/feed-archiver/internal/events"
)

func sampleBatch() []events.Event {
	account := &archive.Account{ID: "1", Handle: "alice"}
	start := time.Unix(1000, 0)
	return []events.Event{
		{
			Kind:    events.KindPostIngested,
			TS:      start,
			Account: account,
			Post:    &archive.Post{ID: "101", Media: []archive.Media{{ID: 1}, {ID: 2}}},
		},
		{Kind: events.KindItemFailed, TS: start, Account: account, ItemID: "100", Note: "download failed"},
		{
			Kind:    events.KindAccountScraped,
			TS:      start,
			Account: account,
			Result:  &events.AccountResult{AccountID: "1", Ingested: 1, Failed: 1, Duration: 5 * time.Second},
		},
		{
			Kind: events.KindCycleFinished,
			TS:   start,
			Cycle: &events.CycleSummary{
				ID:       "cycle",
				Started:  start,
				Finished: start.Add(time.Minute),
				Accounts: []events.AccountResult{{Ingested: 1}, {Err: "boom"}},
			},
		},
		{
			Kind:   events.KindRatingApplied,
			TS:     start,
			Rating: &events.RatingChange{PostID: "101", To: archive.Rating{Content: "KF", Safety: "Safe"}, Moved: 1, Missing: 1},
		},
	}
}

// TestPrometheusSinkRecordsMetrics ensures counters are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.postsIngested.WithLabelValues("alice")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.mediaIngested))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.itemsFailed))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.accountsScraped.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.cycles.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.ratingsApplied))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.filesMissing))
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkWritesOneEntryPerEvent(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))
	require.Equal(t, 5, logs.Len())
	require.Equal(t, 1, logs.FilterMessage("item skipped").Len())
}
