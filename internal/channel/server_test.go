package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"companion/internal/metrics"
)

func TestServer_Routes(t *testing.T) {
	env := newTestEnv(t, nil)
	s := NewServer(ServerConfig{
		Port:        0,
		WhatsApp:    NewWhatsAppWebhook(WhatsAppWebhookConfig{Relay: env.pipeline, Logger: testLogger()}),
		Internal:    NewInternal(InternalConfig{Relay: env.pipeline, Token: "t", Logger: testLogger()}),
		MetricsPath: "/metrics",
		Metrics:     metrics.Default.Handler(),
		Logger:      testLogger(),
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.PostForm(srv.URL+"/whatsapp/webhook", url.Values{"Body": {"hi"}, "From": {"whatsapp:+1"}, "MessageSid": {"SMroute"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/whatsapp/webhook")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET webhook: expected 405, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/internal/send", "application/json", strings.NewReader(`{"text":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("internal without token: expected 403, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", resp.StatusCode)
	}
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	s := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
