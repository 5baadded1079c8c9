package storage

import (
	"context"
	"errors"
	"testing"

	"prijswacht/internal/catalog"
)

func TestSaveNotificationAccumulatesStats(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	queryID := seedQuery(t, st)
	userID, chatID := mustUserForQuery(t, st, queryID)

	const runID = "run-abc"
	kinds := []catalog.EventKind{catalog.EventNew, catalog.EventPriceDrop, catalog.EventNew}
	for i, kind := range kinds {
		n := catalog.Notification{
			UserID:   userID,
			QueryID:  queryID,
			Kind:     kind,
			NewPrice: float64(10 + i),
			Message:  "bericht",
			ChatID:   chatID,
		}
		if err := st.SaveNotification(ctx, n, runID); err != nil {
			t.Fatalf("SaveNotification() #%d error = %v", i, err)
		}
	}

	stats, err := st.RunStats(ctx, runID, userID)
	if err != nil {
		t.Fatalf("RunStats() error = %v", err)
	}
	if stats.NewCount != 2 || stats.DropCount != 1 || stats.IncreaseCount != 0 || stats.Total != 3 {
		t.Fatalf("RunStats() = %+v, want new=2 drop=1 increase=0 total=3", stats)
	}
}

func TestSaveNotificationSeparateRuns(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	queryID := seedQuery(t, st)
	userID, chatID := mustUserForQuery(t, st, queryID)

	for _, runID := range []string{"run-1", "run-2"} {
		n := catalog.Notification{
			UserID: userID, QueryID: queryID, Kind: catalog.EventPriceDrop,
			NewPrice: 5, Message: "bericht", ChatID: chatID,
		}
		if err := st.SaveNotification(ctx, n, runID); err != nil {
			t.Fatalf("SaveNotification(%s) error = %v", runID, err)
		}
	}

	for _, runID := range []string{"run-1", "run-2"} {
		stats, err := st.RunStats(ctx, runID, userID)
		if err != nil {
			t.Fatalf("RunStats(%s) error = %v", runID, err)
		}
		if stats.Total != 1 {
			t.Fatalf("RunStats(%s).Total = %d, want 1", runID, stats.Total)
		}
	}
}

func TestRunStatsNotFound(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	if _, err := st.RunStats(context.Background(), "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RunStats() error = %v, want ErrNotFound", err)
	}
}

func TestPriceExtremes(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	queryID := seedQuery(t, st)

	item := []catalog.Item{{Code: "600001", Label: "Friteuse", Price: 10.00}}
	if _, _, _, err := st.ProcessItems(ctx, queryID, item); err != nil {
		t.Fatalf("seed ProcessItems() error = %v", err)
	}

	// 10.00 -> 0 -> 8.50 -> 12.00 leaves history prices {0, 8.50, 12.00};
	// the zero row must not count as a low.
	var itemID int64
	for _, price := range []float64{0, 8.50, 12.00} {
		item[0].Price = price
		_, _, events, err := st.ProcessItems(ctx, queryID, item)
		if err != nil {
			t.Fatalf("ProcessItems(%v) error = %v", price, err)
		}
		if len(events) != 1 {
			t.Fatalf("ProcessItems(%v) events = %d, want 1", price, len(events))
		}
		itemID = events[0].Item.ID
	}

	ext, err := st.PriceExtremes(ctx, itemID)
	if err != nil {
		t.Fatalf("PriceExtremes() error = %v", err)
	}
	if !ext.Known {
		t.Fatal("PriceExtremes().Known = false, want true")
	}
	if !within(ext.Lowest, 8.50) {
		t.Fatalf("Lowest = %v, want 8.50", ext.Lowest)
	}
	if !within(ext.Highest, 12.00) {
		t.Fatalf("Highest = %v, want 12.00", ext.Highest)
	}
	if ext.LowestAt.IsZero() || ext.HighestAt.IsZero() {
		t.Fatalf("extreme timestamps = (%v, %v), want both set", ext.LowestAt, ext.HighestAt)
	}
}

func TestPriceExtremesNoHistory(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	queryID := seedQuery(t, st)

	_, _, events, err := st.ProcessItems(ctx, queryID, []catalog.Item{{Code: "700001", Label: "Blender", Price: 25.00}})
	if err != nil {
		t.Fatalf("ProcessItems() error = %v", err)
	}

	ext, err := st.PriceExtremes(ctx, events[0].Item.ID)
	if err != nil {
		t.Fatalf("PriceExtremes() error = %v", err)
	}
	if ext.Known {
		t.Fatalf("PriceExtremes() = %+v, want Known=false without history", ext)
	}
}

func TestIsInitialExecution(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	queryID := seedQuery(t, st)

	initial, err := st.IsInitialExecution(ctx, queryID)
	if err != nil {
		t.Fatalf("IsInitialExecution() error = %v", err)
	}
	if !initial {
		t.Fatal("IsInitialExecution() = false before any record, want true")
	}

	rec := catalog.Execution{QueryID: queryID, RunID: "run-x", APIURL: "https://example", Success: true}
	if err := st.RecordExecution(ctx, rec); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}

	initial, err = st.IsInitialExecution(ctx, queryID)
	if err != nil {
		t.Fatalf("IsInitialExecution() error = %v", err)
	}
	if initial {
		t.Fatal("IsInitialExecution() = true after a record, want false")
	}
}

func mustUserForQuery(t *testing.T, st *Store, queryID int64) (userID, chatID int64) {
	t.Helper()
	userID, chatID, err := st.UserForQuery(context.Background(), queryID)
	if err != nil {
		t.Fatalf("UserForQuery() error = %v", err)
	}
	return userID, chatID
}
