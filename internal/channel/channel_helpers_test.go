package channel

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"companion/internal/domain"
	"companion/internal/memory"
	"companion/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type echoReplier struct {
	calls atomic.Int32
}

func (e *echoReplier) Reply(_ context.Context, req domain.GenerateRequest) domain.GenerationResult {
	e.calls.Add(1)
	return domain.GenerationResult{Text: "Re: " + req.Text, Source: domain.SourceGenerated, Attempts: 1}
}

type testEnv struct {
	store    *memory.SQLiteStore
	replier  *echoReplier
	pipeline *relay.Pipeline
}

func newTestEnv(t *testing.T, verifier domain.SignatureVerifier) *testEnv {
	t.Helper()
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "channel.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r := &echoReplier{}
	p := relay.NewPipeline(relay.PipelineConfig{
		Store:    store,
		Replier:  r,
		Verifier: verifier,
		Logger:   testLogger(),
	})
	return &testEnv{store: store, replier: r, pipeline: p}
}

func (e *testEnv) count(t *testing.T, userID string) int {
	t.Helper()
	n, err := e.store.Count(context.Background(), userID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
