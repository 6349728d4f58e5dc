package bluebonnet

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func historyOfTurns(n int) []ThreadMessage {
	var msgs []ThreadMessage
	for i := 0; i < n; i++ {
		msgs = append(msgs,
			ThreadMessage{Role: "user", Content: fmt.Sprintf("question %d", i+1)},
			ThreadMessage{Role: "assistant", Content: fmt.Sprintf("answer %d", i+1)},
		)
	}
	return msgs
}

func TestReformulate_ShortHistoryPassesThrough(t *testing.T) {
	p := &stubProvider{}
	r := NewReformulator(p)

	got, err := r.Reformulate(context.Background(), "What is CCS?", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "What is CCS?" {
		t.Errorf("got %q, want the original query", got)
	}
	if p.calls != 0 {
		t.Error("no history means no LLM call")
	}
}

func TestReformulate_ExtractsTaggedQuery(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"closed tag", "How is the copay calculated?</reformulated_query>", "How is the copay calculated?"},
		{"bare completion", "How is the copay calculated?", "How is the copay calculated?"},
		{"full tags", "<reformulated_query>How is the copay calculated?</reformulated_query>", "How is the copay calculated?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReformulator(&stubProvider{responses: []string{tt.response}})
			got, err := r.Reformulate(context.Background(), "How is it calculated?", historyOfTurns(1))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReformulate_FailureUsesOriginal(t *testing.T) {
	r := NewReformulator(&stubProvider{err: fmt.Errorf("rate limited")})
	got, err := r.Reformulate(context.Background(), "How is it calculated?", historyOfTurns(1))
	if err != nil {
		t.Fatalf("provider failure must not error: %v", err)
	}
	if got != "How is it calculated?" {
		t.Errorf("got %q, want the original query", got)
	}
}

func TestReformulate_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReformulator(&stubProvider{err: ctx.Err()})

	_, err := r.Reformulate(ctx, "q", historyOfTurns(1))
	if err == nil {
		t.Fatal("cancellation must surface as an error")
	}
}

func TestSummarize_ShortHistorySkipsLLM(t *testing.T) {
	p := &stubProvider{}
	r := NewReformulator(p)

	got, err := r.Summarize(context.Background(), historyOfTurns(2))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "User: question 1") {
		t.Errorf("expected formatted raw history, got %q", got)
	}
	if p.calls != 0 {
		t.Error("short history must not spend an LLM call")
	}
}

func TestSummarize_LongHistoryUsesLLM(t *testing.T) {
	p := &stubProvider{responses: []string{"Family of 3 discussed PSoC and income limits."}}
	r := NewReformulator(p, SummarizeAfter(2))

	got, err := r.Summarize(context.Background(), historyOfTurns(4))
	if err != nil {
		t.Fatal(err)
	}
	if got != "Family of 3 discussed PSoC and income limits." {
		t.Errorf("got %q", got)
	}
	if p.calls != 1 {
		t.Errorf("calls = %d, want 1", p.calls)
	}
}

func TestSummarize_FailureTruncatesRaw(t *testing.T) {
	r := NewReformulator(&stubProvider{err: fmt.Errorf("unavailable")}, SummarizeAfter(1))

	got, err := r.Summarize(context.Background(), historyOfTurns(3))
	if err != nil {
		t.Fatalf("summarization failure must degrade, not error: %v", err)
	}
	if got == "" {
		t.Error("expected truncated raw history")
	}
}

func TestSummarize_Empty(t *testing.T) {
	r := NewReformulator(&stubProvider{})
	got, err := r.Summarize(context.Background(), nil)
	if err != nil || got != "" {
		t.Errorf("got %q, %v; want empty", got, err)
	}
}
