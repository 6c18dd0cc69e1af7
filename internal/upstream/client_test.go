package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected authorization header: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","model":"sonar-pro","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", time.Second)
	text, err := client.Complete(context.Background(), "sonar-pro", []ChatMessage{
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "hi" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestClientCompleteForwardsConversation(t *testing.T) {
	var got ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer server.Close()

	messages := []ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
	}
	client := NewClient(server.URL, "k", time.Second)
	if _, err := client.Complete(context.Background(), "sonar-reasoning-pro", messages); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got.Model != "sonar-reasoning-pro" {
		t.Fatalf("unexpected model: %s", got.Model)
	}
	if len(got.Messages) != len(messages) {
		t.Fatalf("expected %d messages, got %d", len(messages), len(got.Messages))
	}
	for i := range messages {
		if got.Messages[i] != messages[i] {
			t.Fatalf("message %d mutated: %+v != %+v", i, got.Messages[i], messages[i])
		}
	}
}

func TestClientCompleteCitations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"Answer"}}],"citations":["http://a","http://b"]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", time.Second)
	text, err := client.Complete(context.Background(), "sonar-pro", []ChatMessage{{Role: "user", Content: "q"}})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	want := "Answer\n\nCitations:\n[1] http://a\n[2] http://b\n"
	if text != want {
		t.Fatalf("unexpected text: %q, want %q", text, want)
	}
}

func TestClientCompleteHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"rate limited"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", time.Second)
	_, err := client.Complete(context.Background(), "sonar-pro", []ChatMessage{{Role: "user", Content: "q"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("error should contain status code: %v", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("error should contain response body: %v", err)
	}
}

func TestClientCompleteErrorBodyTruncation(t *testing.T) {
	// A multi-byte rune straddling the truncation limit must not be split.
	body := strings.Repeat("x", maxErrorBody-1) + "éllo"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", time.Second)
	_, err := client.Complete(context.Background(), "sonar-pro", []ChatMessage{{Role: "user", Content: "q"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !utf8.ValidString(err.Error()) {
		t.Fatalf("error message is not valid UTF-8: %q", err.Error())
	}
	if !strings.Contains(err.Error(), "...") {
		t.Fatalf("error message should mark truncation: %v", err)
	}
}

func TestClientCompleteMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", time.Second)
	_, err := client.Complete(context.Background(), "sonar-pro", []ChatMessage{{Role: "user", Content: "q"}})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestClientCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", time.Second)
	_, err := client.Complete(context.Background(), "sonar-pro", []ChatMessage{{Role: "user", Content: "q"}})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestClientCompleteNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL, "k", time.Second)
	_, err := client.Complete(context.Background(), "sonar-pro", []ChatMessage{{Role: "user", Content: "q"}})
	if err == nil {
		t.Fatalf("expected error")
	}
}
