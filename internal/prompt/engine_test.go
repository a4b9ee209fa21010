package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/user/ticketdigest/internal/types"
	"github.com/user/ticketdigest/pkg/llm"
)

// wordCount stands in for a tokenizer in tests.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

func testEngine(budget int) *Engine {
	e := NewWithCounter(budget, wordCount)
	e.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestBuildOrdersChunksBySequence(t *testing.T) {
	e := testEngine(10000)
	ticket := &types.Ticket{ID: 42, Title: "Printer down", Status: "New"}
	hits := []Scored{
		{Chunk: types.Chunk{Seq: 2, Text: "third part"}, Score: 0.9},
		{Chunk: types.Chunk{Seq: 0, Text: "first part"}, Score: 0.8},
	}

	messages, err := e.Build(ticket, hits, "What happened?")
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != llm.RoleSystem {
		t.Errorf("expected system message first, got %q", messages[0].Role)
	}
	sys := messages[0].Content
	if !strings.Contains(sys, "#42 (Printer down)") || !strings.Contains(sys, "Status: New") {
		t.Errorf("system prompt missing ticket details:\n%s", sys)
	}
	if !strings.Contains(sys, "2024-03-01T12:00:00Z") {
		t.Errorf("system prompt missing time:\n%s", sys)
	}

	user := messages[1].Content
	first := strings.Index(user, "first part")
	third := strings.Index(user, "third part")
	if first < 0 || third < 0 || first > third {
		t.Errorf("expected chunks in sequence order:\n%s", user)
	}
	if !strings.HasSuffix(user, "What happened?") {
		t.Errorf("expected query last:\n%s", user)
	}
}

func TestBuildRespectsBudget(t *testing.T) {
	ticket := &types.Ticket{ID: 1}
	e := testEngine(0)
	bare, err := e.Build(ticket, nil, "q")
	if err != nil {
		t.Fatal(err)
	}
	// room for the system prompt, the query, "alpha beta gamma" and "theta"
	e.maxTokens = wordCount(bare[0].Content) + 1 + 3 + 1

	hits := []Scored{
		{Chunk: types.Chunk{Seq: 0, Text: "alpha beta gamma"}, Score: 0.9},
		{Chunk: types.Chunk{Seq: 1, Text: "delta epsilon zeta eta"}, Score: 0.8},
		{Chunk: types.Chunk{Seq: 2, Text: "theta"}, Score: 0.7},
	}
	messages, err := e.Build(ticket, hits, "q")
	if err != nil {
		t.Fatal(err)
	}
	user := messages[1].Content
	if !strings.Contains(user, "alpha") {
		t.Error("top-ranked chunk must always be included")
	}
	if strings.Contains(user, "delta") {
		t.Error("chunk over budget should be skipped")
	}
	if !strings.Contains(user, "theta") {
		t.Error("smaller lower-ranked chunk should still fit")
	}
}

func TestBuildAlwaysKeepsTopChunk(t *testing.T) {
	e := testEngine(1)
	hits := []Scored{{Chunk: types.Chunk{Seq: 0, Text: "too long for budget"}}}
	messages, err := e.Build(&types.Ticket{ID: 3}, hits, "q")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(messages[1].Content, "too long for budget") {
		t.Error("expected top chunk despite tiny budget")
	}
}

func TestAnalysisQuerySections(t *testing.T) {
	for _, heading := range []string{"Problem Description", "Troubleshooting Steps", "Solution", "Key Information"} {
		if !strings.Contains(AnalysisQuery, "## "+heading) {
			t.Errorf("query missing section %q", heading)
		}
	}
	if !strings.Contains(AnalysisQuery, "No solution provided.") {
		t.Error("query missing no-solution phrase")
	}
}
