package catalog

import "time"

// EventKind classifies a detected catalog change.
type EventKind string

const (
	EventNew           EventKind = "NEW"
	EventPriceDrop     EventKind = "PRICE_DROP"
	EventPriceIncrease EventKind = "PRICE_INCREASE"
)

func (k EventKind) String() string { return string(k) }

func (k EventKind) IsValid() bool {
	switch k {
	case EventNew, EventPriceDrop, EventPriceIncrease:
		return true
	}
	return false
}

// User owns queries and receives notifications on their chat.
type User struct {
	ID        int64
	ChatID    int64
	Username  string
	Language  string
	CreatedAt time.Time
}

// Query is a stored, user-owned description of what to watch on the source.
//
// QueryText is an opaque source URL; translating a storefront link into it is
// the front-end's job. LastRun is nil until the first successful run and
// advances only on success.
type Query struct {
	ID              int64
	UserID          int64
	Name            string
	QueryText       string
	IntervalMinutes int
	LastRun         *time.Time
	Paused          bool
	CreatedAt       time.Time
}

// Item is the latest known state of one monitored product within one query.
//
// Unique per (QueryID, Code). Price fields mutate in place on change; rows
// only disappear when the owning query is deleted.
type Item struct {
	ID      int64
	QueryID int64
	Code    string
	Label   string
	Price   float64

	ImageURL   string
	ProductURL string

	// Recommended price and the discount against it, as advertised by the
	// source. Nil when the source lists no old price.
	RecommendedPrice *float64
	DiscountAmount   *float64
	DiscountPct      *float64

	FirstSeen time.Time
}

// PriceChange is one immutable price-history ledger entry.
type PriceChange struct {
	ID             int64
	ItemID         int64
	OldPrice       float64
	NewPrice       float64
	DiscountAmount *float64
	DiscountPct    *float64
	RecordedAt     time.Time
}

// Execution is the audit row for one run of one query.
type Execution struct {
	ID           int64
	QueryID      int64
	RunID        string // correlation id, one per run attempt
	APIURL       string
	Success      bool
	TotalItems   int
	NewCount     int
	ChangedCount int
	Error        string
	StatusCode   int
	Duration     time.Duration
	ExecutedAt   time.Time
}

// Event is the in-memory signal that a run detected a new item or a price
// change. At most one event exists per detected change per run.
//
// OldPrice is nil for NEW items; their advertised old price stays on
// Item.RecommendedPrice. For price changes, DiscountAmount/DiscountPct
// describe the old-to-new delta (a drop of 10.00 to 8.50 gives 1.50 / 15.0);
// for NEW items they carry the source-advertised discount so an introductory
// offer shows up in the message.
type Event struct {
	QueryID int64
	Item    Item
	Kind    EventKind

	OldPrice       *float64
	NewPrice       float64
	DiscountAmount *float64
	DiscountPct    *float64
}

// Notification is the persisted record of one dispatched event.
type Notification struct {
	ID      int64
	UserID  int64
	QueryID int64
	ItemID  int64
	Kind    EventKind

	OldPrice       *float64
	NewPrice       float64
	DiscountAmount *float64
	DiscountPct    *float64

	Message string
	ChatID  int64
	SentAt  time.Time
}

// NotificationStats accumulates per-kind counts for one (run, user). It keys
// on the run correlation id because the execution row is written after
// dispatch and has no id yet when notifications persist.
type NotificationStats struct {
	ID            int64
	RunID         string
	UserID        int64
	QueryID       int64
	NewCount      int
	DropCount     int
	IncreaseCount int
	Total         int
}

// PriceExtremes summarizes an item's history for message composition.
// Zero-valued times mean the bound is unknown.
type PriceExtremes struct {
	Lowest    float64
	LowestAt  time.Time
	Highest   float64
	HighestAt time.Time
	Known     bool
}

func Float(v float64) *float64 { return &v }
