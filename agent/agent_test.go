package agent

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Zerofisher/anxun/agent/llm"
	"github.com/Zerofisher/anxun/agent/session"
	"github.com/Zerofisher/anxun/pkg/model"
)

// fakeClient records requests and replays canned replies.
type fakeClient struct {
	mu       sync.Mutex
	requests []*llm.ChatRequest
	replies  []string
	err      error
	stream   []llm.StreamEvent
}

func (f *fakeClient) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, cloneRequest(req))
	if f.err != nil {
		return nil, f.err
	}
	reply := "ok"
	if len(f.replies) > 0 {
		reply, f.replies = f.replies[0], f.replies[1:]
	}
	return &llm.ChatResponse{Content: reply}, nil
}

func (f *fakeClient) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	f.mu.Lock()
	f.requests = append(f.requests, cloneRequest(req))
	events := f.stream
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeClient) Provider() llm.Provider { return llm.ProviderOllama }
func (f *fakeClient) ModelID() string        { return "fake" }

func cloneRequest(req *llm.ChatRequest) *llm.ChatRequest {
	c := *req
	c.Messages = append([]llm.Message(nil), req.Messages...)
	return &c
}

// memSink keeps saved analyses in memory.
type memSink struct {
	analyses []model.AnalysisResult
	err      error
}

func (m *memSink) SaveLiveCapture([]model.CapturedPacketSummary) (string, error) { return "", nil }
func (m *memSink) SaveStructured(string, []model.PacketRecord) (string, error)  { return "", nil }
func (m *memSink) ListHistory(int) ([]model.HistoryEntry, error)                { return nil, nil }
func (m *memSink) Root() string                                                 { return "" }
func (m *memSink) SaveAnalysis(r *model.AnalysisResult) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.analyses = append(m.analyses, *r)
	return "ai_analysis_test.json", nil
}

func records(n int) []model.PacketRecord {
	out := make([]model.PacketRecord, n)
	for i := range out {
		out[i] = model.PacketRecord{
			{Name: "frame.number", Value: strconv.Itoa(i + 1)},
			{Name: "ip.src", Value: "10.0.0.1"},
		}
	}
	return out
}

func TestBuildAnalysisPrompt(t *testing.T) {
	recs := records(15)

	p := BuildAnalysisPrompt(recs, false)
	if !strings.HasPrefix(p, NoThinkDirective+"\n") {
		t.Errorf("missing no-think prefix: %q", p[:20])
	}
	if !strings.Contains(p, "共15个数据包") {
		t.Error("prompt should report the full packet count")
	}
	if got := strings.Count(p, "ip.src: 10.0.0.1"); got != PromptSampleSize {
		t.Errorf("prompt embeds %d records, want %d", got, PromptSampleSize)
	}
	for _, field := range []string{"summary", "threats", "risk_level", "recommendations", "detailed_analysis"} {
		if !strings.Contains(p, "- "+field+":") {
			t.Errorf("prompt does not describe %s", field)
		}
	}

	if strings.Contains(BuildAnalysisPrompt(recs, true), NoThinkDirective) {
		t.Error("thinking mode should not add the no-think directive")
	}
}

func TestAnalyzeReconcilesAndPersists(t *testing.T) {
	client := &fakeClient{replies: []string{`{"summary":"发现端口扫描","risk_level":"high","threats":["端口扫描"]}`}}
	sink := &memSink{}
	a := NewAnalyzer(client, sink)

	res, err := a.Analyze(context.Background(), records(3), AnalyzeOptions{Model: "qwen2.5:7b"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.RiskLevel != model.RiskHigh || res.Summary != "发现端口扫描" {
		t.Errorf("unexpected result %+v", res)
	}
	if len(sink.analyses) != 1 {
		t.Fatalf("expected one saved analysis, got %d", len(sink.analyses))
	}
	if got := client.requests[0].Model; got != "qwen3:8b" {
		t.Errorf("alias not applied, model = %q", got)
	}
	if msgs := client.requests[0].Messages; len(msgs) != 1 || msgs[0].Role != llm.RoleUser {
		t.Errorf("analysis should send a single user message, got %+v", msgs)
	}
}

func TestAnalyzeSaveFailureStillSucceeds(t *testing.T) {
	a := NewAnalyzer(&fakeClient{replies: []string{"一切正常"}}, &memSink{err: errors.New("disk full")})
	res, err := a.Analyze(context.Background(), records(1), AnalyzeOptions{})
	if err != nil {
		t.Fatalf("Analyze should succeed when saving fails: %v", err)
	}
	if res.RiskLevel != model.RiskLow {
		t.Errorf("risk = %s", res.RiskLevel)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	a := NewAnalyzer(&fakeClient{err: &llm.APIError{StatusCode: 500}}, nil)

	_, err := a.Analyze(context.Background(), records(1), AnalyzeOptions{})
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
		t.Errorf("expected wrapped APIError, got %v", err)
	}

	_, err = a.Analyze(context.Background(), nil, AnalyzeOptions{})
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("empty records should be invalid input, got %v", err)
	}
}

func TestChatContextOrdering(t *testing.T) {
	client := &fakeClient{replies: []string{"first reply", "second reply"}}
	c := NewChatter(client, session.New(0, SystemPrompt))

	if _, err := c.Chat(context.Background(), "hello", "s1", ""); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if _, err := c.Chat(context.Background(), "again", "s1", ""); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	msgs := client.requests[1].Messages
	want := []llm.Message{
		{Role: llm.RoleSystem, Content: SystemPrompt},
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "first reply"},
		{Role: llm.RoleUser, Content: "again"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("context has %d messages, want %d: %+v", len(msgs), len(want), msgs)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, msgs[i], want[i])
		}
	}
	if got := len(c.Sessions().History("s1")); got != 4 {
		t.Errorf("history has %d turns, want 4", got)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	client := &fakeClient{}
	c := NewChatter(client, session.New(0, SystemPrompt))
	if _, err := c.Chat(context.Background(), "  ", "s", ""); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
	if len(client.requests) != 0 {
		t.Error("no request should be sent for an empty message")
	}
	if c.Sessions().Count() != 0 {
		t.Error("no session should be created for an empty message")
	}
}

func TestChatStreamRecordsConcatenatedReply(t *testing.T) {
	client := &fakeClient{stream: []llm.StreamEvent{
		{Type: llm.StreamEventStart},
		{Type: llm.StreamEventDelta, Delta: "<think>x</think>"},
		{Type: llm.StreamEventDelta, Delta: "流量"},
		{Type: llm.StreamEventDelta, Delta: "正常"},
		{Type: llm.StreamEventEnd},
	}}
	c := NewChatter(client, session.New(0, SystemPrompt))

	ch, stop, err := c.ChatStream(context.Background(), "状态?", "", "")
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer stop()
	var parts []string
	done := false
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("unexpected error chunk: %v", chunk.Err)
		}
		if chunk.Done {
			done = true
			continue
		}
		parts = append(parts, chunk.Content)
	}
	if !done || len(parts) != 3 {
		t.Fatalf("done=%v parts=%v", done, parts)
	}

	history := c.Sessions().History(DefaultSessionID)
	if len(history) != 2 || history[1].Content != "<think>x</think>流量正常" {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestChatStreamErrorDoesNotRecordPartialReply(t *testing.T) {
	client := &fakeClient{stream: []llm.StreamEvent{
		{Type: llm.StreamEventDelta, Delta: "partial"},
		{Type: llm.StreamEventError, Error: errors.New("connection reset")},
	}}
	c := NewChatter(client, session.New(0, SystemPrompt))

	ch, stop, err := c.ChatStream(context.Background(), "hi", "s", "")
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer stop()
	var last ChatChunk
	for chunk := range ch {
		last = chunk
	}
	if last.Err == nil {
		t.Fatal("expected a terminal error chunk")
	}
	if history := c.Sessions().History("s"); len(history) != 1 || history[0].Role != model.RoleUser {
		t.Errorf("partial reply should not be recorded: %+v", history)
	}
}

// endlessClient streams deltas until its context is cancelled.
type endlessClient struct {
	fakeClient
	exited chan struct{}
}

func (e *endlessClient) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(e.exited)
		defer close(ch)
		for i := 0; i < 100; i++ {
			select {
			case ch <- llm.StreamEvent{Type: llm.StreamEventDelta, Delta: strconv.Itoa(i)}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- llm.StreamEvent{Type: llm.StreamEventEnd}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func TestChatStreamStopReleasesProducer(t *testing.T) {
	client := &endlessClient{exited: make(chan struct{})}
	c := NewChatter(client, session.New(0, SystemPrompt))

	ch, stop, err := c.ChatStream(context.Background(), "hi", "s", "")
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if first := <-ch; first.Content != "0" {
		t.Fatalf("first chunk = %+v", first)
	}
	// The reader walks away after one chunk.
	stop()

	select {
	case <-client.exited:
	case <-time.After(2 * time.Second):
		t.Fatal("backend producer still running after stop")
	}
	closed := make(chan struct{})
	go func() {
		for range ch {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("chunk channel not closed after stop")
	}
	if history := c.Sessions().History("s"); len(history) != 1 {
		t.Errorf("stopped reply should not be recorded: %+v", history)
	}
	stop()
}

func TestAliases(t *testing.T) {
	a := DefaultAliases()
	if a.Resolve("qwen2.5:7b") != "qwen3:8b" || a.Resolve("llama3") != "llama3" || a.Resolve("") != "" {
		t.Error("unexpected alias resolution")
	}
}
