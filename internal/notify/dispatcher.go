// Package notify composes and delivers price alerts for finished runs.
package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	logx "prijswacht/pkg/logx"

	"prijswacht/internal/catalog"
	"prijswacht/internal/observability/metrics"
	"prijswacht/internal/transport"
)

// Store is the storage surface dispatch needs.
type Store interface {
	UserForQuery(ctx context.Context, queryID int64) (userID, chatID int64, err error)
	QueryName(ctx context.Context, queryID int64) (string, error)
	PriceExtremes(ctx context.Context, itemID int64) (catalog.PriceExtremes, error)
	SaveNotification(ctx context.Context, n catalog.Notification, runID string) error
}

// Dispatcher turns run events into Telegram messages for the query owner.
// Sends are throttled through one shared limiter so parallel runs cannot
// trip the Bot API flood control.
type Dispatcher struct {
	store   Store
	sender  transport.Sender
	limiter *rate.Limiter
	log     logx.Logger
}

func NewDispatcher(store Store, sender transport.Sender, perSecond float64, log logx.Logger) *Dispatcher {
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		store:   store,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		log:     log.With(logx.String("component", "notify")),
	}
}

// SetRate changes the delivery pace in place. Waiters already queued on the
// limiter pick up the new rate.
func (d *Dispatcher) SetRate(perSecond float64) {
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	d.limiter.SetLimit(rate.Limit(perSecond))
	d.limiter.SetBurst(burst)
	d.log.Info("delivery rate changed", logx.Float64("per_sec", perSecond))
}

// DispatchRun delivers the notifications for one successful run.
//
// The first run of a query sends a single summary instead of one message per
// item, so a broad query cannot flood the chat with its entire catalog.
// Summaries are not persisted; per-event messages are written to storage
// before delivery and still go out when that write fails, because dropping a
// message over bookkeeping would hide a real price change from the user.
//
// Individual send failures are logged and counted, not returned; the error
// return is for cancellation and for failing to resolve the recipient.
func (d *Dispatcher) DispatchRun(ctx context.Context, runID string, queryID int64, initial bool, newCount int, events []catalog.Event) error {
	userID, chatID, err := d.store.UserForQuery(ctx, queryID)
	if err != nil {
		return fmt.Errorf("resolve recipient for query %d: %w", queryID, err)
	}
	name, err := d.store.QueryName(ctx, queryID)
	if err != nil {
		d.log.Warn("query name unavailable", logx.Int64("query_id", queryID), logx.Err(err))
	}
	if name == "" {
		name = fmt.Sprintf("Query #%d", queryID)
	}
	to := transport.ChatTarget{ChatID: chatID}

	if initial {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := d.sender.SendText(ctx, to, SummaryMessage(name, newCount)); err != nil {
			d.log.Error("summary send failed", logx.Int64("chat_id", chatID), logx.Err(err))
			metrics.RecordNotification("failed")
			return nil
		}
		metrics.RecordNotification("sent")
		d.log.Info("initial run summary sent",
			logx.Int64("query_id", queryID), logx.Int("results", newCount))
		return nil
	}

	for _, ev := range events {
		var ext catalog.PriceExtremes
		if ev.Kind != catalog.EventNew {
			ext, err = d.store.PriceExtremes(ctx, ev.Item.ID)
			if err != nil {
				d.log.Warn("price history unavailable",
					logx.Int64("item_id", ev.Item.ID), logx.Err(err))
				ext = catalog.PriceExtremes{}
			}
		}
		msg := EventMessage(name, ev, ext)

		n := catalog.Notification{
			UserID:         userID,
			QueryID:        queryID,
			ItemID:         ev.Item.ID,
			Kind:           ev.Kind,
			OldPrice:       ev.OldPrice,
			NewPrice:       ev.NewPrice,
			DiscountAmount: ev.DiscountAmount,
			DiscountPct:    ev.DiscountPct,
			Message:        msg,
			ChatID:         chatID,
		}
		if err := d.store.SaveNotification(ctx, n, runID); err != nil {
			d.log.Error("notification not persisted",
				logx.Int64("item_id", ev.Item.ID), logx.String("run_id", runID), logx.Err(err))
		}
		if err := d.deliver(ctx, to, ev.Item, msg); err != nil {
			return err
		}
	}
	return nil
}

// deliver sends one composed message, preferring a photo card with a product
// button and degrading to plain text with the URL appended.
func (d *Dispatcher) deliver(ctx context.Context, to transport.ChatTarget, item catalog.Item, msg string) error {
	if item.ImageURL == "" {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := d.sender.SendText(ctx, to, withURL(msg, item.ProductURL)); err != nil {
			d.log.Error("send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			metrics.RecordNotification("failed")
			return nil
		}
		metrics.RecordNotification("sent")
		return nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	err := d.sender.SendPhoto(ctx, to, transport.Photo{
		URL:         item.ImageURL,
		Caption:     msg,
		ActionLabel: "Bekijk product",
		ActionURL:   item.ProductURL,
	})
	if err == nil {
		metrics.RecordNotification("sent")
		return nil
	}
	d.log.Warn("photo send failed, retrying as text",
		logx.Int64("chat_id", to.ChatID), logx.Err(err))

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := d.sender.SendText(ctx, to, withURL(msg, item.ProductURL)); err != nil {
		d.log.Error("fallback send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		metrics.RecordNotification("failed")
		return nil
	}
	metrics.RecordNotification("fallback")
	return nil
}

func withURL(msg, productURL string) string {
	if productURL == "" {
		return msg
	}
	return msg + "\n" + productURL
}
