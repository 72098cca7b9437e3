package store

import (
	"context"
	"fmt"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "sess-1", RoleUser, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "sess-1", RoleAssistant, "hi there"); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := s.Recent(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "hello" {
		t.Errorf("first message wrong: %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "hi there" {
		t.Errorf("second message wrong: %+v", msgs[1])
	}
}

func TestRecent_LimitsAndOrders(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if err := s.Append(ctx, "sess-2", RoleUser, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := s.Recent(ctx, "sess-2", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("want 3 messages, got %d", len(msgs))
	}
	// Newest three, oldest-first.
	want := []string{"msg 5", "msg 6", "msg 7"}
	for i, w := range want {
		if msgs[i].Content != w {
			t.Errorf("position %d: want %q, got %q", i, w, msgs[i].Content)
		}
	}
}

func TestRecent_SessionsIsolated(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "sess-a", RoleUser, "a only"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "sess-b", RoleUser, "b only"); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := s.Recent(ctx, "sess-a", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "a only" {
		t.Errorf("session isolation broken: %+v", msgs)
	}
}

func TestRecent_EmptySession(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	msgs, err := s.Recent(context.Background(), "nobody", 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("want no messages, got %d", len(msgs))
	}
}

func TestQueryMetrics_Aggregates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	records := []QueryRecord{
		{Question: "q1", NumSources: 4, LatencyMS: 100, Success: true},
		{Question: "q2", NumSources: 2, LatencyMS: 300, Success: true},
		{Question: "q3", NumSources: 0, LatencyMS: 200, Success: false},
	}
	for _, r := range records {
		if err := s.RecordQuery(ctx, r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalQueries != 3 {
		t.Errorf("want 3 queries, got %d", st.TotalQueries)
	}
	if st.AvgLatencyMS != 200 {
		t.Errorf("want avg latency 200, got %f", st.AvgLatencyMS)
	}
	if st.AvgSources != 2 {
		t.Errorf("want avg sources 2, got %f", st.AvgSources)
	}
	want := 2.0 / 3.0
	if st.SuccessRate < want-0.001 || st.SuccessRate > want+0.001 {
		t.Errorf("want success rate %f, got %f", want, st.SuccessRate)
	}
}

func TestQueryMetrics_EmptyStats(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalQueries != 0 || st.AvgLatencyMS != 0 || st.SuccessRate != 0 {
		t.Errorf("empty store must yield zero stats: %+v", st)
	}
}
