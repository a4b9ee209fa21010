// internal/prompt/engine.go
package prompt

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/ticketdigest/internal/types"
	"github.com/user/ticketdigest/pkg/llm"
)

// Engine assembles token-budgeted retrieval prompts for the LLM.
type Engine struct {
	count     func(string) int
	maxTokens int
	system    *template.Template
	now       func() time.Time
}

// New creates a prompt engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4").
// maxTokens bounds the system prompt, retrieved context and query together.
func New(model string, maxTokens int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return NewWithCounter(maxTokens, func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}), nil
}

// NewWithCounter creates an engine that measures text with count instead
// of a tokenizer.
func NewWithCounter(maxTokens int, count func(string) int) *Engine {
	return &Engine{
		count:     count,
		maxTokens: maxTokens,
		system:    template.Must(template.New("system").Parse(SystemPrompt)),
		now:       time.Now,
	}
}

// Scored is a retrieved chunk with its similarity to the query.
type Scored struct {
	Chunk types.Chunk
	Score float64
}

type systemData struct {
	Time     string
	TicketID int
	Title    string
	Status   string
}

// Build assembles the system prompt and a user message holding the
// retrieved context followed by the query. Chunks are admitted in rank
// order while they fit the budget, then laid out in ticket order. The
// highest-ranked chunk is always included.
func (e *Engine) Build(ticket *types.Ticket, hits []Scored, query string) ([]llm.Message, error) {
	var sys bytes.Buffer
	err := e.system.Execute(&sys, systemData{
		Time:     e.now().UTC().Format(time.RFC3339),
		TicketID: ticket.ID,
		Title:    ticket.Title,
		Status:   ticket.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	remaining := e.maxTokens - e.count(sys.String()) - e.count(query)

	var picked []types.Chunk
	for i, h := range hits {
		n := e.count(h.Chunk.Text)
		if i > 0 && n > remaining {
			continue
		}
		picked = append(picked, h.Chunk)
		remaining -= n
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].Seq < picked[j].Seq })

	var user strings.Builder
	user.WriteString("Ticket context:\n")
	for _, c := range picked {
		fmt.Fprintf(&user, "\n[excerpt %d]\n%s\n", c.Seq+1, c.Text)
	}
	user.WriteString("\n")
	user.WriteString(query)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: sys.String()},
		{Role: llm.RoleUser, Content: user.String()},
	}, nil
}
