package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"prijswacht/internal/catalog"
)

// EnsureUser registers a chat as a user, updating username/language when the
// chat is already known. Returns the user id.
func (s *Store) EnsureUser(ctx context.Context, chatID int64, username, language string) (int64, error) {
	if language == "" {
		language = "nl"
	}
	var id int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "ensure_user", writeAttempts, func() error {
			_, err := conn.ExecContext(ctx,
				`INSERT INTO users(chat_id, username, language) VALUES(?,?,?)
				 ON CONFLICT(chat_id) DO UPDATE SET username=excluded.username, language=excluded.language`,
				chatID, nullStr(username), language,
			)
			if err != nil {
				return err
			}
			return conn.QueryRowContext(ctx, `SELECT id FROM users WHERE chat_id = ?`, chatID).Scan(&id)
		})
	})
	return id, err
}

// UserForQuery resolves the owning user and delivery chat for a query.
func (s *Store) UserForQuery(ctx context.Context, queryID int64) (userID, chatID int64, err error) {
	err = s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "user_for_query", readAttempts, func() error {
			row := conn.QueryRowContext(ctx,
				`SELECT q.user_id, u.chat_id
				 FROM queries q JOIN users u ON q.user_id = u.id
				 WHERE q.id = ?`, queryID)
			scanErr := row.Scan(&userID, &chatID)
			if errors.Is(scanErr, sql.ErrNoRows) {
				return fmt.Errorf("query %d: %w", queryID, ErrNotFound)
			}
			return scanErr
		})
	})
	return userID, chatID, err
}

// CreateQuery stores a new query for a user. Interval <= 0 falls back to 60m.
func (s *Store) CreateQuery(ctx context.Context, userID int64, name, queryText string, intervalMinutes int) (int64, error) {
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	var id int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "create_query", writeAttempts, func() error {
			res, err := conn.ExecContext(ctx,
				`INSERT INTO queries(user_id, name, query_text, interval_minutes) VALUES(?,?,?,?)`,
				userID, name, queryText, intervalMinutes,
			)
			if err != nil {
				return err
			}
			id, err = res.LastInsertId()
			return err
		})
	})
	return id, err
}

// ActiveQueries returns all non-paused queries.
func (s *Store) ActiveQueries(ctx context.Context) ([]catalog.Query, error) {
	var out []catalog.Query
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "active_queries", readAttempts, func() error {
			rows, err := conn.QueryContext(ctx,
				`SELECT id, user_id, name, query_text, interval_minutes, last_run, paused, created_at
				 FROM queries WHERE paused = 0 ORDER BY id`)
			if err != nil {
				return err
			}
			defer rows.Close()

			out = out[:0]
			for rows.Next() {
				q, err := scanQuery(rows)
				if err != nil {
					return err
				}
				out = append(out, q)
			}
			return rows.Err()
		})
	})
	return out, err
}

// QueryByID loads one query.
func (s *Store) QueryByID(ctx context.Context, id int64) (catalog.Query, error) {
	var q catalog.Query
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "query_by_id", readAttempts, func() error {
			row := conn.QueryRowContext(ctx,
				`SELECT id, user_id, name, query_text, interval_minutes, last_run, paused, created_at
				 FROM queries WHERE id = ?`, id)
			var err error
			q, err = scanQuery(row)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("query %d: %w", id, ErrNotFound)
			}
			return err
		})
	})
	return q, err
}

func (s *Store) PauseQuery(ctx context.Context, id int64) error {
	return s.setPaused(ctx, id, true)
}

func (s *Store) ResumeQuery(ctx context.Context, id int64) error {
	return s.setPaused(ctx, id, false)
}

func (s *Store) setPaused(ctx context.Context, id int64, paused bool) error {
	v := 0
	if paused {
		v = 1
	}
	return s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "set_paused", writeAttempts, func() error {
			_, err := conn.ExecContext(ctx, `UPDATE queries SET paused = ? WHERE id = ?`, v, id)
			return err
		})
	})
}

// SetQueryInterval updates the polling interval (minutes).
func (s *Store) SetQueryInterval(ctx context.Context, id int64, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("interval must be positive, got %d", minutes)
	}
	return s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "set_interval", writeAttempts, func() error {
			_, err := conn.ExecContext(ctx, `UPDATE queries SET interval_minutes = ? WHERE id = ?`, minutes, id)
			return err
		})
	})
}

// DeleteQuery removes a query; items, history, executions and stats go with
// it via foreign-key cascades.
func (s *Store) DeleteQuery(ctx context.Context, id int64) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "delete_query", writeAttempts, func() error {
			_, err := conn.ExecContext(ctx, `DELETE FROM queries WHERE id = ?`, id)
			return err
		})
	})
}

// QueryName returns the display name of a query ("" when unknown).
func (s *Store) QueryName(ctx context.Context, id int64) (string, error) {
	var name string
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "query_name", readAttempts, func() error {
			scanErr := conn.QueryRowContext(ctx, `SELECT name FROM queries WHERE id = ?`, id).Scan(&name)
			if errors.Is(scanErr, sql.ErrNoRows) {
				name = ""
				return nil
			}
			return scanErr
		})
	})
	return name, err
}

// UpdateLastRun advances a query's last_run. Called only after a successful
// execution.
func (s *Store) UpdateLastRun(ctx context.Context, id int64, t time.Time) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "update_last_run", writeAttempts, func() error {
			_, err := conn.ExecContext(ctx, `UPDATE queries SET last_run = ? WHERE id = ?`, formatTime(t), id)
			return err
		})
	})
}

// TuningStat feeds the adaptive interval job: catalog size plus how many
// price changes landed inside the observation window.
type TuningStat struct {
	QueryID         int64
	IntervalMinutes int
	ItemCount       int
	PriceChanges    int
}

// TuningStats reports per-query activity for all non-paused queries.
func (s *Store) TuningStats(ctx context.Context, since time.Time) ([]TuningStat, error) {
	var out []TuningStat
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "tuning_stats", readAttempts, func() error {
			rows, err := conn.QueryContext(ctx,
				`SELECT q.id, q.interval_minutes,
				        (SELECT COUNT(*) FROM catalog_items ci WHERE ci.query_id = q.id),
				        (SELECT COUNT(*) FROM price_history ph
				           JOIN catalog_items ci ON ph.item_id = ci.id
				          WHERE ci.query_id = q.id AND ph.recorded_at >= ?)
				 FROM queries q WHERE q.paused = 0 ORDER BY q.id`,
				formatTime(since))
			if err != nil {
				return err
			}
			defer rows.Close()

			out = out[:0]
			for rows.Next() {
				var st TuningStat
				if err := rows.Scan(&st.QueryID, &st.IntervalMinutes, &st.ItemCount, &st.PriceChanges); err != nil {
					return err
				}
				out = append(out, st)
			}
			return rows.Err()
		})
	})
	return out, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuery(row rowScanner) (catalog.Query, error) {
	var (
		q         catalog.Query
		lastRun   sql.NullString
		createdAt string
	)
	if err := row.Scan(&q.ID, &q.UserID, &q.Name, &q.QueryText, &q.IntervalMinutes, &lastRun, &q.Paused, &createdAt); err != nil {
		return catalog.Query{}, err
	}
	if lastRun.Valid {
		t, err := parseTime(lastRun.String)
		if err != nil {
			return catalog.Query{}, fmt.Errorf("last_run: %w", err)
		}
		q.LastRun = &t
	}
	if t, err := parseTime(createdAt); err == nil {
		q.CreatedAt = t
	}
	return q, nil
}
