package relay

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"companion/internal/domain"
	"companion/internal/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *memory.SQLiteStore {
	t.Helper()
	s, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeReplier records every generation request.
type fakeReplier struct {
	mu    sync.Mutex
	text  string
	reqs  []domain.GenerateRequest
	delay time.Duration
}

func (f *fakeReplier) Reply(ctx context.Context, req domain.GenerateRequest) domain.GenerationResult {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	text := f.text
	if text == "" {
		text = "Hello !"
	}
	return domain.GenerationResult{Text: text, Source: domain.SourceGenerated, Attempts: 1}
}

func (f *fakeReplier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeReplier) Last() domain.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type staticProfile domain.Profile

func (s staticProfile) Current() domain.Profile { return domain.Profile(s) }

type fixedVerifier bool

func (v fixedVerifier) Verify(string, map[string]string, string) bool { return bool(v) }

// failingStore fails every operation.
type failingStore struct{}

var errDiskFull = errors.New("disk full")

func (failingStore) Append(context.Context, domain.Message) (bool, error) { return false, errDiskFull }
func (failingStore) Recent(context.Context, string, int) ([]domain.Message, error) {
	return nil, errDiskFull
}
func (failingStore) HasDelivery(context.Context, string) (bool, error) { return false, errDiskFull }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func countDirection(t *testing.T, s *memory.SQLiteStore, userID string, dir domain.Direction) int {
	t.Helper()
	msgs, err := s.Recent(context.Background(), userID, 1000)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	n := 0
	for _, m := range msgs {
		if m.Direction == dir {
			n++
		}
	}
	return n
}
