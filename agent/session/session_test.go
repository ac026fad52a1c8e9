package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Zerofisher/anxun/pkg/model"
)

func TestTruncationKeepsNewest(t *testing.T) {
	s := New(10, "")
	const extra = 7
	total := 2*10 + extra
	for i := 0; i < total; i++ {
		s.Append("s1", model.RoleUser, fmt.Sprintf("m%d", i))
	}

	turns := s.History("s1")
	if len(turns) != 20 {
		t.Fatalf("expected 20 turns, got %d", len(turns))
	}
	for i, turn := range turns {
		if want := fmt.Sprintf("m%d", i+extra); turn.Content != want {
			t.Errorf("turn %d = %s, want %s", i, turn.Content, want)
		}
	}
}

func TestContextIncludesSystemPrompt(t *testing.T) {
	s := New(0, "你是安巡")
	s.Append("a", model.RoleUser, "hello")
	s.Append("a", model.RoleAssistant, "hi")

	ctx := s.Context("a", true)
	if len(ctx) != 3 || ctx[0].Role != model.RoleSystem || ctx[0].Content != "你是安巡" {
		t.Fatalf("unexpected context %+v", ctx)
	}
	if ctx[1].Content != "hello" || ctx[2].Content != "hi" {
		t.Errorf("turn order broken: %+v", ctx)
	}

	if got := s.Context("a", false); len(got) != 2 {
		t.Errorf("context without system prompt has %d turns", len(got))
	}
	if s.Limit() != 2*DefaultMaxHistory {
		t.Errorf("Limit() = %d", s.Limit())
	}
}

func TestImplicitCreationAndClear(t *testing.T) {
	s := New(3, "")
	if got := s.History("new"); len(got) != 0 {
		t.Errorf("unknown session returned %v", got)
	}

	s.Append("x", model.RoleUser, "1")
	s.Append("y", model.RoleUser, "2")
	if s.Count() != 2 {
		t.Errorf("Count() = %d", s.Count())
	}

	s.Clear("x")
	if len(s.History("x")) != 0 {
		t.Error("Clear left turns behind")
	}
	if len(s.History("y")) != 1 {
		t.Error("Clear touched another session")
	}
}

func TestHistoryIsACopy(t *testing.T) {
	s := New(3, "")
	s.Append("x", model.RoleUser, "original")
	h := s.History("x")
	h[0].Content = "mutated"
	if s.History("x")[0].Content != "original" {
		t.Error("History exposed internal storage")
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := New(50, "")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				s.Append("shared", model.RoleUser, fmt.Sprintf("%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()
	if got := len(s.History("shared")); got != 80 {
		t.Errorf("expected 80 turns, got %d", got)
	}
}
