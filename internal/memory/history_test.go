package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"companion/internal/domain"
)

type brokenStore struct{}

func (brokenStore) Append(context.Context, domain.Message) (bool, error) {
	return false, errors.New("disk full")
}
func (brokenStore) Recent(context.Context, string, int) ([]domain.Message, error) {
	return nil, errors.New("disk full")
}
func (brokenStore) HasDelivery(context.Context, string) (bool, error) {
	return false, errors.New("disk full")
}

func TestHistory_WindowReturnsLast16OldestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		dir := domain.DirectionIn
		if i%2 == 1 {
			dir = domain.DirectionOut
		}
		if _, err := s.Append(ctx, domain.Message{UserID: "+111", Direction: dir, Text: fmt.Sprintf("t%02d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	h := NewHistory(s, 16)
	turns, err := h.Window(ctx, "+111")
	if err != nil {
		t.Fatal(err)
	}
	want := make([]domain.Turn, 0, 16)
	for i := 4; i < 20; i++ {
		dir := domain.DirectionIn
		if i%2 == 1 {
			dir = domain.DirectionOut
		}
		want = append(want, domain.Turn{Direction: dir, Text: fmt.Sprintf("t%02d", i)})
	}
	if diff := cmp.Diff(want, turns); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}
}

func TestHistory_ShortHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.Append(ctx, domain.Message{UserID: "u", Direction: domain.DirectionIn, Text: "only"})

	turns, err := NewHistory(s, 16).Window(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.Turn{{Direction: domain.DirectionIn, Text: "only"}}
	if diff := cmp.Diff(want, turns); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}
}

func TestHistory_StoreFailureYieldsEmptyWindow(t *testing.T) {
	turns, err := NewHistory(brokenStore{}, 16).Window(context.Background(), "u")
	if err == nil {
		t.Fatal("expected the store error to be reported")
	}
	if turns == nil || len(turns) != 0 {
		t.Fatalf("expected empty non-nil window, got %#v", turns)
	}
}

func TestHistory_DefaultBound(t *testing.T) {
	if got := NewHistory(brokenStore{}, 0).MaxTurns(); got != DefaultHistoryTurns {
		t.Fatalf("expected default %d, got %d", DefaultHistoryTurns, got)
	}
}
