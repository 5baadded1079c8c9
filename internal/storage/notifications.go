package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"prijswacht/internal/catalog"
)

// SaveNotification persists a dispatched notification and bumps the per-run
// stats row for its user, atomically. Runs under the highest retry ceiling:
// losing the audit trail of a message that already went out is worse than a
// little extra contention.
func (s *Store) SaveNotification(ctx context.Context, n catalog.Notification, runID string) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "save_notification", notificationAttempts, func() error {
			tx, err := conn.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin: %w", err)
			}
			defer tx.Rollback()

			var itemID any
			if n.ItemID != 0 {
				itemID = n.ItemID
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO notifications(user_id, query_id, item_id, kind, old_price, new_price, discount_amount, discount_pct, message, chat_id)
				 VALUES(?,?,?,?,?,?,?,?,?,?)`,
				n.UserID, n.QueryID, itemID, n.Kind.String(),
				nullFloat(n.OldPrice), n.NewPrice, nullFloat(n.DiscountAmount), nullFloat(n.DiscountPct),
				n.Message, n.ChatID,
			); err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}

			var newN, dropN, incN int
			switch n.Kind {
			case catalog.EventNew:
				newN = 1
			case catalog.EventPriceDrop:
				dropN = 1
			case catalog.EventPriceIncrease:
				incN = 1
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO notification_stats(run_id, user_id, query_id, new_count, drop_count, increase_count, total)
				 VALUES(?,?,?,?,?,?,1)
				 ON CONFLICT(run_id, user_id) DO UPDATE SET
				   new_count = new_count + excluded.new_count,
				   drop_count = drop_count + excluded.drop_count,
				   increase_count = increase_count + excluded.increase_count,
				   total = total + 1`,
				runID, n.UserID, n.QueryID, newN, dropN, incN,
			); err != nil {
				return fmt.Errorf("upsert stats: %w", err)
			}

			return tx.Commit()
		})
	})
}

// RunStats loads the accumulated notification counters for one run and user.
func (s *Store) RunStats(ctx context.Context, runID string, userID int64) (catalog.NotificationStats, error) {
	var st catalog.NotificationStats
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "run_stats", readAttempts, func() error {
			row := conn.QueryRowContext(ctx,
				`SELECT id, run_id, user_id, query_id, new_count, drop_count, increase_count, total
				 FROM notification_stats WHERE run_id = ? AND user_id = ?`, runID, userID)
			scanErr := row.Scan(&st.ID, &st.RunID, &st.UserID, &st.QueryID,
				&st.NewCount, &st.DropCount, &st.IncreaseCount, &st.Total)
			if errors.Is(scanErr, sql.ErrNoRows) {
				return fmt.Errorf("run %s user %d: %w", runID, userID, ErrNotFound)
			}
			return scanErr
		})
	})
	return st, err
}

// PriceExtremes reports the historical lowest and highest recorded price for
// an item. Rows priced at zero are ignored; ties resolve to the earliest
// occurrence.
func (s *Store) PriceExtremes(ctx context.Context, itemID int64) (catalog.PriceExtremes, error) {
	var ext catalog.PriceExtremes
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "price_extremes", readAttempts, func() error {
			low, lowAt, ok, err := itemExtreme(ctx, conn, itemID, "ASC")
			if err != nil || !ok {
				ext = catalog.PriceExtremes{}
				return err
			}
			high, highAt, _, err := itemExtreme(ctx, conn, itemID, "DESC")
			if err != nil {
				ext = catalog.PriceExtremes{}
				return err
			}
			ext = catalog.PriceExtremes{
				Lowest: low, LowestAt: lowAt,
				Highest: high, HighestAt: highAt,
				Known: true,
			}
			return nil
		})
	})
	return ext, err
}

func itemExtreme(ctx context.Context, conn *sql.Conn, itemID int64, order string) (float64, time.Time, bool, error) {
	var (
		price      float64
		recordedAt string
	)
	row := conn.QueryRowContext(ctx,
		`SELECT new_price, recorded_at FROM price_history
		 WHERE item_id = ? AND new_price > 0
		 ORDER BY new_price `+order+`, recorded_at ASC LIMIT 1`, itemID)
	switch err := row.Scan(&price, &recordedAt); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, time.Time{}, false, nil
	case err != nil:
		return 0, time.Time{}, false, err
	}
	at, _ := parseTime(recordedAt)
	return price, at, true, nil
}

// IsInitialExecution reports whether a query has never had an execution
// recorded. Checked before dispatch, so the current run's own record (written
// afterwards by the audit worker) never shadows the answer.
func (s *Store) IsInitialExecution(ctx context.Context, queryID int64) (bool, error) {
	var count int
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "is_initial", readAttempts, func() error {
			return conn.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM execution_records WHERE query_id = ?`, queryID).Scan(&count)
		})
	})
	return count == 0, err
}
