package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"companion/internal/domain"
)

func testStore(t *testing.T, opts ...StoreOption) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "companion.db"), testLogger(), opts...)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func inbound(user, sid, text string) domain.Message {
	return domain.Message{UserID: user, Channel: domain.ChannelWhatsApp, Direction: domain.DirectionIn, DeliveryID: sid, Text: text}
}

func TestAppend_IdempotentOnDeliveryID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	inserted, err := s.Append(ctx, inbound("+111", "SM1", "salut"))
	if err != nil || !inserted {
		t.Fatalf("first append: inserted=%v err=%v", inserted, err)
	}
	inserted, err = s.Append(ctx, inbound("+111", "SM1", "salut"))
	if err != nil {
		t.Fatalf("second append should not fail: %v", err)
	}
	if inserted {
		t.Fatal("second append with same delivery id should be a no-op")
	}

	n, err := s.Count(ctx, "+111")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stored message, got %d", n)
	}
}

func TestAppend_NoDeliveryIDAlwaysInserts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		inserted, err := s.Append(ctx, domain.Message{UserID: "internal", Channel: domain.ChannelInternal, Direction: domain.DirectionIn, Text: "hi"})
		if err != nil || !inserted {
			t.Fatalf("append %d: inserted=%v err=%v", i, inserted, err)
		}
	}
	if n, _ := s.Count(ctx, "internal"); n != 3 {
		t.Fatalf("expected 3 messages, got %d", n)
	}
}

func TestAppend_InvalidDirection(t *testing.T) {
	s := testStore(t)
	if _, err := s.Append(context.Background(), domain.Message{UserID: "u", Direction: "UP", Text: "x"}); err == nil {
		t.Fatal("expected error for invalid direction")
	}
}

func TestAppend_ConcurrentSameDelivery(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := s.Append(ctx, inbound("+222", "SM-race", "hello"))
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			if inserted {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winning insert, got %d", wins.Load())
	}
}

func TestHasDelivery(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seen, err := s.HasDelivery(ctx, "SM404")
	if err != nil || seen {
		t.Fatalf("unknown delivery: seen=%v err=%v", seen, err)
	}
	if seen, _ := s.HasDelivery(ctx, ""); seen {
		t.Fatal("empty delivery id must never be seen")
	}

	if _, err := s.Append(ctx, inbound("+111", "SM2", "x")); err != nil {
		t.Fatal(err)
	}
	seen, err = s.HasDelivery(ctx, "SM2")
	if err != nil || !seen {
		t.Fatalf("stored delivery: seen=%v err=%v", seen, err)
	}
}

func TestHasDelivery_IgnoresOutbound(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	out := domain.Message{UserID: "+1", Direction: domain.DirectionOut, DeliveryID: "SM9", Text: "reply"}
	if _, err := s.Append(ctx, out); err != nil {
		t.Fatal(err)
	}
	if seen, _ := s.HasDelivery(ctx, "SM9"); seen {
		t.Fatal("only inbound messages count as processed deliveries")
	}
}

func TestRecent_OldestFirstAndBounded(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if _, err := s.Append(ctx, inbound("+333", fmt.Sprintf("SM%d", i), fmt.Sprintf("m%02d", i))); err != nil {
			t.Fatal(err)
		}
	}
	// another user's traffic must not leak in
	if _, err := s.Append(ctx, inbound("+999", "SMx", "other")); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.Recent(ctx, "+333", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		want := fmt.Sprintf("m%02d", 15+i)
		if m.Text != want {
			t.Errorf("msgs[%d] = %q, want %q", i, m.Text, want)
		}
	}
}

func TestRecent_TiesBrokenByInsertionOrder(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	s := testStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		if _, err := s.Append(ctx, domain.Message{UserID: "u", Direction: domain.DirectionIn, Text: text}); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := s.Recent(ctx, "u", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[0].Text != "a" || msgs[2].Text != "c" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
}

func TestAppend_TimestampNeverGoesBackwards(t *testing.T) {
	times := []time.Time{
		time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), // clock stepped back
	}
	var i int
	s := testStore(t, WithClock(func() time.Time {
		ts := times[i%len(times)]
		i++
		return ts
	}))
	ctx := context.Background()

	s.Append(ctx, domain.Message{UserID: "u", Direction: domain.DirectionIn, Text: "first"})
	s.Append(ctx, domain.Message{UserID: "u", Direction: domain.DirectionOut, Text: "second"})

	msgs, err := s.Recent(ctx, "u", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "first" || msgs[1].Text != "second" {
		t.Fatalf("order broken by clock step: %+v", msgs)
	}
	if msgs[1].Timestamp.Before(msgs[0].Timestamp) {
		t.Fatal("timestamps must be non-decreasing")
	}
}

func TestAppend_ConcurrentTimestampsFollowInsertOrder(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int64
	// Every call steps the clock back, so only the clamp keeps order.
	s := testStore(t, WithClock(func() time.Time {
		return base.Add(-time.Duration(calls.Add(1)) * time.Millisecond)
	}))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Append(ctx, domain.Message{UserID: "u", Direction: domain.DirectionIn, Text: fmt.Sprint(i)}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	rows, err := s.db.QueryContext(ctx, `SELECT ts FROM messages ORDER BY id`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var prev int64
	n := 0
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			t.Fatal(err)
		}
		if ts < prev {
			t.Fatalf("row %d: ts %d < previous %d", n, ts, prev)
		}
		prev = ts
		n++
	}
	if n != 40 {
		t.Fatalf("expected 40 rows, got %d", n)
	}
}

func TestRecent_ZeroLimit(t *testing.T) {
	s := testStore(t)
	msgs, err := s.Recent(context.Background(), "u", 0)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty result, got %v err=%v", msgs, err)
	}
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.Append(ctx, inbound("+1", "SM-persist", "x"))
	s.Close()

	s, err = NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if seen, _ := s.HasDelivery(ctx, "SM-persist"); !seen {
		t.Fatal("delivery id should survive a restart")
	}
}
