package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "prijswacht/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{
		Path:           filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout:    2 * time.Second,
		MaxConnections: 3,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return st
}

func TestOpenCreatesSchema(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.EnsureUser(ctx, 42, "tester", "nl")
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	if id == 0 {
		t.Fatalf("EnsureUser() id = 0, want nonzero")
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "deep", "test.db")
	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	t.Parallel()
	in := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.FixedZone("CET", 3600))
	got, err := parseTime(formatTime(in))
	if err != nil {
		t.Fatalf("parseTime() error = %v", err)
	}
	if !got.Equal(in) {
		t.Fatalf("parseTime(formatTime(%v)) = %v, want equal instant", in, got)
	}
	if got.Location() != time.UTC {
		t.Fatalf("parseTime() location = %v, want UTC", got.Location())
	}
}

func TestWithConnReleases(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	// Exercise more leases than the pool holds; each must come back.
	for i := 0; i < 10; i++ {
		if _, err := st.EnsureUser(ctx, int64(100+i), "u", "nl"); err != nil {
			t.Fatalf("EnsureUser() #%d error = %v", i, err)
		}
	}
	if got := st.Pool().InUse(); got != 0 {
		t.Fatalf("Pool().InUse() = %d, want 0", got)
	}
}
