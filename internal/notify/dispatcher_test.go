package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	logx "prijswacht/pkg/logx"

	"prijswacht/internal/catalog"
	"prijswacht/internal/transport"
)

// opLog records store and sender calls in order, so tests can assert that
// persistence happens before delivery.
type opLog struct {
	ops []string
}

func (l *opLog) add(op string) { l.ops = append(l.ops, op) }

type fakeStore struct {
	log *opLog

	name    string
	nameErr error
	userErr error
	ext     catalog.PriceExtremes
	extErr  error
	saveErr error

	saved  []catalog.Notification
	runIDs []string
}

func (f *fakeStore) UserForQuery(ctx context.Context, queryID int64) (int64, int64, error) {
	if f.userErr != nil {
		return 0, 0, f.userErr
	}
	return 42, 777, nil
}

func (f *fakeStore) QueryName(ctx context.Context, queryID int64) (string, error) {
	return f.name, f.nameErr
}

func (f *fakeStore) PriceExtremes(ctx context.Context, itemID int64) (catalog.PriceExtremes, error) {
	f.log.add("extremes")
	return f.ext, f.extErr
}

func (f *fakeStore) SaveNotification(ctx context.Context, n catalog.Notification, runID string) error {
	f.log.add("save")
	f.saved = append(f.saved, n)
	f.runIDs = append(f.runIDs, runID)
	return f.saveErr
}

type fakeSender struct {
	log *opLog

	textErr  error
	photoErr error

	texts  []string
	photos []transport.Photo
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string) error {
	f.log.add("text")
	f.texts = append(f.texts, text)
	return f.textErr
}

func (f *fakeSender) SendPhoto(ctx context.Context, to transport.ChatTarget, photo transport.Photo) error {
	f.log.add("photo")
	f.photos = append(f.photos, photo)
	return f.photoErr
}

func newTestDispatcher(store *fakeStore, sender *fakeSender) *Dispatcher {
	return NewDispatcher(store, sender, 1000, logx.Nop())
}

func dropEvent(itemID int64, imageURL string) catalog.Event {
	return catalog.Event{
		QueryID: 9,
		Item: catalog.Item{
			ID:         itemID,
			Label:      "PARKSIDE accuschroevendraaier",
			ImageURL:   imageURL,
			ProductURL: "https://www.lidl.nl/p/parkside/p100",
		},
		Kind:           catalog.EventPriceDrop,
		OldPrice:       catalog.Float(10),
		NewPrice:       8.50,
		DiscountAmount: catalog.Float(1.50),
		DiscountPct:    catalog.Float(15),
	}
}

func TestDispatchRunTextFlow(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	store := &fakeStore{log: log, name: "gereedschap"}
	sender := &fakeSender{log: log}
	d := newTestDispatcher(store, sender)

	ev := dropEvent(5, "")
	if err := d.DispatchRun(context.Background(), "run-1", 9, false, 0, []catalog.Event{ev}); err != nil {
		t.Fatalf("DispatchRun: %v", err)
	}

	want := []string{"extremes", "save", "text"}
	if strings.Join(log.ops, ",") != strings.Join(want, ",") {
		t.Fatalf("ops = %v, want %v", log.ops, want)
	}
	if len(sender.texts) != 1 {
		t.Fatalf("texts sent = %d, want 1", len(sender.texts))
	}
	if !strings.HasSuffix(sender.texts[0], "\nhttps://www.lidl.nl/p/parkside/p100") {
		t.Fatalf("sent text missing product url suffix: %q", sender.texts[0])
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved = %d, want 1", len(store.saved))
	}
	n := store.saved[0]
	if strings.Contains(n.Message, "https://www.lidl.nl/p/parkside/p100") {
		t.Fatalf("persisted message should not carry the appended url: %q", n.Message)
	}
	if n.UserID != 42 || n.ChatID != 777 || n.ItemID != 5 || n.Kind != catalog.EventPriceDrop {
		t.Fatalf("persisted notification = %+v", n)
	}
	if store.runIDs[0] != "run-1" {
		t.Fatalf("run id = %q, want run-1", store.runIDs[0])
	}
}

func TestDispatchRunPhotoWithButton(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	store := &fakeStore{log: log, name: "gereedschap"}
	sender := &fakeSender{log: log}
	d := newTestDispatcher(store, sender)

	ev := dropEvent(5, "https://img.lidl.nl/p100.jpg")
	if err := d.DispatchRun(context.Background(), "run-1", 9, false, 0, []catalog.Event{ev}); err != nil {
		t.Fatalf("DispatchRun: %v", err)
	}

	want := []string{"extremes", "save", "photo"}
	if strings.Join(log.ops, ",") != strings.Join(want, ",") {
		t.Fatalf("ops = %v, want %v", log.ops, want)
	}
	p := sender.photos[0]
	if p.URL != "https://img.lidl.nl/p100.jpg" {
		t.Fatalf("photo url = %q", p.URL)
	}
	if p.ActionLabel != "Bekijk product" || p.ActionURL != "https://www.lidl.nl/p/parkside/p100" {
		t.Fatalf("photo action = %q / %q", p.ActionLabel, p.ActionURL)
	}
	if !strings.Contains(p.Caption, "Prijsverlaging voor") {
		t.Fatalf("caption = %q", p.Caption)
	}
}

func TestDispatchRunPhotoFallsBackToText(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	store := &fakeStore{log: log, name: "gereedschap"}
	sender := &fakeSender{log: log, photoErr: errors.New("wrong file identifier")}
	d := newTestDispatcher(store, sender)

	ev := dropEvent(5, "https://img.lidl.nl/p100.jpg")
	if err := d.DispatchRun(context.Background(), "run-1", 9, false, 0, []catalog.Event{ev}); err != nil {
		t.Fatalf("DispatchRun: %v", err)
	}

	want := []string{"extremes", "save", "photo", "text"}
	if strings.Join(log.ops, ",") != strings.Join(want, ",") {
		t.Fatalf("ops = %v, want %v", log.ops, want)
	}
	if !strings.HasSuffix(sender.texts[0], "\nhttps://www.lidl.nl/p/parkside/p100") {
		t.Fatalf("fallback text missing product url: %q", sender.texts[0])
	}
}

func TestDispatchRunBothSendsFail(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	store := &fakeStore{log: log, name: "gereedschap"}
	sender := &fakeSender{
		log:      log,
		photoErr: errors.New("wrong file identifier"),
		textErr:  errors.New("chat not found"),
	}
	d := newTestDispatcher(store, sender)

	ev := dropEvent(5, "https://img.lidl.nl/p100.jpg")
	if err := d.DispatchRun(context.Background(), "run-1", 9, false, 0, []catalog.Event{ev}); err != nil {
		t.Fatalf("DispatchRun should swallow send failures, got %v", err)
	}
	want := []string{"extremes", "save", "photo", "text"}
	if strings.Join(log.ops, ",") != strings.Join(want, ",") {
		t.Fatalf("ops = %v, want %v", log.ops, want)
	}
}

func TestDispatchRunInitialSummaryOnly(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	store := &fakeStore{log: log, name: "wasmachines"}
	sender := &fakeSender{log: log}
	d := newTestDispatcher(store, sender)

	ev := dropEvent(5, "")
	err := d.DispatchRun(context.Background(), "run-1", 9, true, 21, []catalog.Event{ev})
	if err != nil {
		t.Fatalf("DispatchRun: %v", err)
	}

	if strings.Join(log.ops, ",") != "text" {
		t.Fatalf("ops = %v, want only a single text send", log.ops)
	}
	want := SummaryMessage("wasmachines", 21)
	if sender.texts[0] != want {
		t.Fatalf("summary = %q, want %q", sender.texts[0], want)
	}
	if len(store.saved) != 0 {
		t.Fatalf("summary must not be persisted, saved %d", len(store.saved))
	}
}

func TestDispatchRunSkipsExtremesForNewItems(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	store := &fakeStore{log: log, name: "gereedschap"}
	sender := &fakeSender{log: log}
	d := newTestDispatcher(store, sender)

	newEv := catalog.Event{
		QueryID:  9,
		Item:     catalog.Item{ID: 4, Label: "CRIVIT fietshelm"},
		Kind:     catalog.EventNew,
		NewPrice: 24.99,
	}
	events := []catalog.Event{newEv, dropEvent(5, "")}
	if err := d.DispatchRun(context.Background(), "run-1", 9, false, 1, events); err != nil {
		t.Fatalf("DispatchRun: %v", err)
	}

	want := []string{"save", "text", "extremes", "save", "text"}
	if strings.Join(log.ops, ",") != strings.Join(want, ",") {
		t.Fatalf("ops = %v, want %v", log.ops, want)
	}
}

func TestDispatchRunDeliversDespiteSaveFailure(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	store := &fakeStore{log: log, name: "gereedschap", saveErr: errors.New("database is locked")}
	sender := &fakeSender{log: log}
	d := newTestDispatcher(store, sender)

	ev := dropEvent(5, "")
	if err := d.DispatchRun(context.Background(), "run-1", 9, false, 0, []catalog.Event{ev}); err != nil {
		t.Fatalf("DispatchRun: %v", err)
	}
	want := []string{"extremes", "save", "text"}
	if strings.Join(log.ops, ",") != strings.Join(want, ",") {
		t.Fatalf("ops = %v, want %v", log.ops, want)
	}
}

func TestDispatchRunUnknownNameFallsBack(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	store := &fakeStore{log: log}
	sender := &fakeSender{log: log}
	d := newTestDispatcher(store, sender)

	err := d.DispatchRun(context.Background(), "run-1", 9, true, 3, nil)
	if err != nil {
		t.Fatalf("DispatchRun: %v", err)
	}
	if !strings.Contains(sender.texts[0], "Zoekopdracht: Query #9 ") {
		t.Fatalf("summary = %q, want Query #9 fallback", sender.texts[0])
	}
}

func TestDispatchRunRecipientFailure(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	store := &fakeStore{log: log, userErr: errors.New("no such query")}
	sender := &fakeSender{log: log}
	d := newTestDispatcher(store, sender)

	err := d.DispatchRun(context.Background(), "run-1", 9, false, 0, []catalog.Event{dropEvent(5, "")})
	if err == nil {
		t.Fatal("DispatchRun should fail when the recipient cannot be resolved")
	}
	if len(log.ops) != 0 {
		t.Fatalf("ops = %v, want none", log.ops)
	}
}

func TestDispatchRunCanceledContext(t *testing.T) {
	t.Parallel()

	log := &opLog{}
	store := &fakeStore{log: log, name: "gereedschap"}
	sender := &fakeSender{log: log}
	d := newTestDispatcher(store, sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.DispatchRun(ctx, "run-1", 9, false, 0, []catalog.Event{dropEvent(5, "")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
