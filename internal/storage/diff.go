package storage

import (
	"context"
	"database/sql"
	"fmt"

	logx "prijswacht/pkg/logx"

	"prijswacht/internal/catalog"
)

// ProcessItems reconciles a fetched batch against the stored catalog for one
// query. New items are inserted, price changes update the item and append a
// price_history row. The whole batch commits in a single transaction; on
// failure nothing is recorded and zero counts are returned.
//
// Change events carry the old->new delta as their discount, not the shop's
// recommended-price discount: 10.00 -> 8.50 reports amount 1.50 at 15.0%.
func (s *Store) ProcessItems(ctx context.Context, queryID int64, items []catalog.Item) (newCount, changedCount int, events []catalog.Event, err error) {
	err = s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "process_items", writeAttempts, func() error {
			newCount, changedCount = 0, 0
			events = events[:0]
			return s.processItemsTx(ctx, conn, queryID, items, &newCount, &changedCount, &events)
		})
	})
	if err != nil {
		return 0, 0, nil, err
	}
	return newCount, changedCount, events, nil
}

func (s *Store) processItemsTx(ctx context.Context, conn *sql.Conn, queryID int64, items []catalog.Item, newCount, changedCount *int, events *[]catalog.Event) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		var (
			id       int64
			oldPrice float64
		)
		row := tx.QueryRowContext(ctx,
			`SELECT id, price FROM catalog_items WHERE query_id = ? AND code = ?`,
			queryID, item.Code)
		switch scanErr := row.Scan(&id, &oldPrice); {
		case scanErr == sql.ErrNoRows:
			res, err := tx.ExecContext(ctx,
				`INSERT INTO catalog_items(query_id, code, label, price, image_url, product_url, recommended_price, discount_amount, discount_pct)
				 VALUES(?,?,?,?,?,?,?,?,?)`,
				queryID, item.Code, item.Label, item.Price,
				nullStr(item.ImageURL), nullStr(item.ProductURL),
				nullFloat(item.RecommendedPrice), nullFloat(item.DiscountAmount), nullFloat(item.DiscountPct),
			)
			if err != nil {
				return fmt.Errorf("insert item %s: %w", item.Code, err)
			}
			item.ID, err = res.LastInsertId()
			if err != nil {
				return err
			}
			item.QueryID = queryID
			*newCount++
			*events = append(*events, catalog.Event{
				QueryID:        queryID,
				Item:           item,
				Kind:           catalog.EventNew,
				NewPrice:       item.Price,
				DiscountAmount: item.DiscountAmount,
				DiscountPct:    item.DiscountPct,
			})

		case scanErr != nil:
			return fmt.Errorf("lookup item %s: %w", item.Code, scanErr)

		case oldPrice != item.Price:
			var amount, pct *float64
			kind := catalog.EventPriceIncrease
			if item.Price < oldPrice {
				kind = catalog.EventPriceDrop
				amount = catalog.Float(oldPrice - item.Price)
				if oldPrice > 0 {
					pct = catalog.Float((oldPrice - item.Price) / oldPrice * 100)
				}
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE catalog_items SET price = ?, recommended_price = ?, discount_amount = ?, discount_pct = ? WHERE id = ?`,
				item.Price, nullFloat(item.RecommendedPrice), nullFloat(item.DiscountAmount), nullFloat(item.DiscountPct), id,
			); err != nil {
				return fmt.Errorf("update item %s: %w", item.Code, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO price_history(item_id, old_price, new_price, discount_amount, discount_pct) VALUES(?,?,?,?,?)`,
				id, oldPrice, item.Price, nullFloat(amount), nullFloat(pct),
			); err != nil {
				return fmt.Errorf("record history for %s: %w", item.Code, err)
			}
			item.ID = id
			item.QueryID = queryID
			*changedCount++
			old := oldPrice
			*events = append(*events, catalog.Event{
				QueryID:        queryID,
				Item:           item,
				Kind:           kind,
				OldPrice:       &old,
				NewPrice:       item.Price,
				DiscountAmount: amount,
				DiscountPct:    pct,
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Debug("catalog reconciled",
		logx.Int64("query_id", queryID),
		logx.Int("seen", len(items)),
		logx.Int("new", *newCount),
		logx.Int("changed", *changedCount),
	)
	return nil
}
