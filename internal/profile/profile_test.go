package profile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRead_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	writeFile(t, path, `{"display_name": "Léa", "preferences": {"reply_max_chars": 200}, "features": {"checkin": {"enabled": true}}}`)

	p, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.DisplayName != "Léa" {
		t.Errorf("display name = %q", p.DisplayName)
	}
	if p.Preferences.ReplyMaxChars != 200 {
		t.Errorf("reply_max_chars = %d", p.Preferences.ReplyMaxChars)
	}
	if !p.Features.Checkin.Enabled {
		t.Error("checkin feature should be enabled")
	}
	if p.Signature != "— Bot 🤝" {
		t.Errorf("missing fields should keep defaults, signature = %q", p.Signature)
	}
}

func TestRead_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	writeFile(t, path, "display_name: Sam\ninterests:\n  - vélo\n  - jazz\nboundaries:\n  - pas de politique\n")

	p, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := Default()
	want.DisplayName = "Sam"
	want.Interests = []string{"vélo", "jazz"}
	want.Boundaries = []string{"pas de politique"}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("profile mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	writeFile(t, path, "{not: [valid")
	if _, err := Read(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFileBacked_PicksUpEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	writeFile(t, path, `{"display_name": "A"}`)
	fb := NewFileBacked(path, testLogger())

	if got := fb.Current().DisplayName; got != "A" {
		t.Fatalf("got %q", got)
	}
	writeFile(t, path, `{"display_name": "B"}`)
	if got := fb.Current().DisplayName; got != "B" {
		t.Fatalf("edit not picked up, got %q", got)
	}
}

func TestFileBacked_KeepsLastGoodOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	writeFile(t, path, `{"display_name": "Good"}`)
	fb := NewFileBacked(path, testLogger())
	fb.Current()

	writeFile(t, path, "{broken")
	if got := fb.Current().DisplayName; got != "Good" {
		t.Fatalf("expected last good profile, got %q", got)
	}
}

func TestFileBacked_DefaultWhenNeverRead(t *testing.T) {
	fb := NewFileBacked(filepath.Join(t.TempDir(), "absent.json"), testLogger())
	if got := fb.Current().DisplayName; got != "Ami" {
		t.Fatalf("expected default profile, got %q", got)
	}
}

func (f *FileBacked) isWatching() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watching
}

func TestFileBacked_WatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	writeFile(t, path, "display_name: A\n")
	fb := NewFileBacked(path, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fb.Watch(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !fb.isWatching() {
		if time.Now().After(deadline) {
			t.Fatal("watch did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := fb.Current().DisplayName; got != "A" {
		t.Fatalf("cached profile = %q, want A", got)
	}

	writeFile(t, path, "display_name: B\n")
	deadline = time.Now().Add(2 * time.Second)
	for fb.Current().DisplayName != "B" {
		if time.Now().After(deadline) {
			t.Fatalf("edit not reloaded, still %q", fb.Current().DisplayName)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
	if fb.isWatching() {
		t.Fatal("watching flag should be cleared")
	}
}

func TestFileBacked_WatchMissingDirectory(t *testing.T) {
	fb := NewFileBacked(filepath.Join(t.TempDir(), "nope", "profile.json"), testLogger())
	if err := fb.Watch(context.Background()); err == nil {
		t.Fatal("expected error for a missing directory")
	}
}

func TestSelect(t *testing.T) {
	if _, ok := Select("", testLogger()).(DefaultFallback); !ok {
		t.Fatal("empty path should select DefaultFallback")
	}
	if _, ok := Select(filepath.Join(t.TempDir(), "nope.json"), testLogger()).(DefaultFallback); !ok {
		t.Fatal("missing file should select DefaultFallback")
	}

	path := filepath.Join(t.TempDir(), "profile.json")
	writeFile(t, path, `{}`)
	if _, ok := Select(path, testLogger()).(*FileBacked); !ok {
		t.Fatal("existing file should select FileBacked")
	}
}
