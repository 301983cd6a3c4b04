package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"companion/internal/domain"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func fakeCompletionServer(t *testing.T, reply string, got *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": reply},
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
}

func TestOpenAI_GenerateSendsHistoryInOrder(t *testing.T) {
	var got chatRequest
	srv := fakeCompletionServer(t, "Coucou !", &got)
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	text, err := o.Generate(context.Background(), domain.GenerateRequest{
		Text: "ça va ?",
		History: []domain.Turn{
			{Direction: domain.DirectionIn, Text: "salut"},
			{Direction: domain.DirectionOut, Text: "hello"},
		},
		Profile: domain.Profile{Signature: "— Bot"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Coucou !\n— Bot" {
		t.Fatalf("unexpected styled reply %q", text)
	}

	if got.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", got.Model)
	}
	roles := make([]string, len(got.Messages))
	for i, m := range got.Messages {
		roles[i] = m.Role
	}
	if strings.Join(roles, ",") != "system,user,assistant,user" {
		t.Fatalf("unexpected roles %v", roles)
	}
	if got.Messages[3].Content != "ça va ?" {
		t.Errorf("last message should be the user text, got %q", got.Messages[3].Content)
	}
}

func TestOpenAI_UpstreamErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	if _, err := o.Generate(context.Background(), domain.GenerateRequest{Text: "x"}); err == nil {
		t.Fatal("expected error on 503")
	}
}
