package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/Zerofisher/anxun/agent/llm"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(&llm.Config{BaseURL: srv.URL + "/v1", Model: "qwen3:8b", Timeout: 2 * time.Second, APIKey: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestChat(t *testing.T) {
	var (
		got  api.ChatRequest
		auth string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"message":{"role":"assistant","content":"你好"},"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":2}`)
	})

	resp, err := c.Chat(context.Background(), &llm.ChatRequest{
		Messages:  []llm.Message{{Role: llm.RoleSystem, Content: "sys"}, {Role: llm.RoleUser, Content: "hi"}},
		MaxTokens: 128,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "你好" || resp.StopReason != "stop" || resp.Usage.TotalTokens != 5 {
		t.Errorf("unexpected response %+v", resp)
	}
	if got.Stream == nil || *got.Stream || got.Model != "qwen3:8b" || len(got.Messages) != 2 || got.Messages[1].Role != "user" {
		t.Errorf("unexpected request body %+v", got)
	}
	if got.Options["num_predict"] != float64(128) {
		t.Errorf("options = %v", got.Options)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestChatNon200(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model \"qwen3:8b\" not found"}`)
	})

	_, err := c.Chat(context.Background(), &llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || !strings.Contains(apiErr.Body, "not found") {
		t.Errorf("unexpected APIError %+v", apiErr)
	}
}

func TestChatTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()
	c, _ := New(&llm.Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})

	if _, err := c.Chat(context.Background(), &llm.ChatRequest{}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func collect(t *testing.T, ch <-chan llm.StreamEvent) (string, []llm.StreamEvent) {
	t.Helper()
	var sb strings.Builder
	var events []llm.StreamEvent
	for ev := range ch {
		events = append(events, ev)
		if ev.Type == llm.StreamEventDelta {
			sb.WriteString(ev.Delta)
		}
	}
	return sb.String(), events
}

func TestChatStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req api.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream == nil || !*req.Stream {
			t.Error("stream flag not set")
		}
		io.WriteString(w, `{"message":{"role":"assistant","content":"校园"},"done":false}`+"\n")
		io.WriteString(w, `{"message":{"role":"assistant","content":"网络"},"done":false}`+"\n")
		io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`+"\n")
	})

	ch, err := c.ChatStream(context.Background(), &llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	text, events := collect(t, ch)
	if text != "校园网络" {
		t.Errorf("text = %q", text)
	}
	if events[0].Type != llm.StreamEventStart {
		t.Errorf("first event = %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Type != llm.StreamEventEnd || last.StopReason != "stop" {
		t.Errorf("last event = %+v", last)
	}
}

func TestChatStreamFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{
			name:   "no done chunk",
			status: http.StatusOK,
			body:   `{"message":{"content":"partial"},"done":false}` + "\n",
			check:  func(err error) bool { return errors.Is(err, io.ErrUnexpectedEOF) },
		},
		{
			name:   "error chunk",
			status: http.StatusOK,
			body:   `{"message":{"content":"partial"},"done":false}` + "\n" + `{"error":"out of memory"}` + "\n",
			check:  func(err error) bool { return strings.Contains(err.Error(), "out of memory") },
		},
		{
			name:   "non-200",
			status: http.StatusInternalServerError,
			body:   `{"error":"runner crashed"}` + "\n",
			check: func(err error) bool {
				var apiErr *llm.APIError
				return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusInternalServerError
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			ch, err := c.ChatStream(context.Background(), &llm.ChatRequest{})
			if err != nil {
				t.Fatalf("ChatStream: %v", err)
			}
			_, events := collect(t, ch)
			last := events[len(events)-1]
			if last.Type != llm.StreamEventError || !tt.check(last.Error) {
				t.Errorf("unexpected last event %+v", last)
			}
		})
	}
}

func TestChatStreamCancel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 1000; i++ {
			if _, err := io.WriteString(w, `{"message":{"content":"x"},"done":false}`+"\n"); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.ChatStream(ctx, &llm.ChatRequest{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	<-ch
	cancel()

	closed := make(chan struct{})
	go func() {
		for range ch {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after cancellation")
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"models":[]}`)
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	down, _ := New(&llm.Config{BaseURL: "http://127.0.0.1:1", HealthTimeout: 200 * time.Millisecond})
	if err := down.Ping(context.Background()); err == nil {
		t.Error("Ping against a closed port should fail")
	}
}
