package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/user/ticketdigest/internal/prompt"
	"github.com/user/ticketdigest/internal/types"
	"github.com/user/ticketdigest/pkg/llm"
)

var tracer = otel.Tracer("github.com/user/ticketdigest/internal/summarize")

// Options tune chunking, retrieval and the completion call.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	MaxChunks    int
	Timeout      time.Duration
	Params       llm.Params
}

// DefaultOptions returns 1000-rune chunks with 200 runes of overlap, top-4
// retrieval over at most 128 chunks and a 90s completion deadline.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		TopK:         4,
		MaxChunks:    128,
		Timeout:      90 * time.Second,
		Params:       llm.Params{Temperature: llm.Float(0.7), MaxTokens: 512},
	}
}

// Summarizer answers a query about one ticket from its most relevant
// excerpts.
type Summarizer struct {
	embedder llm.Embedder
	provider llm.Provider
	engine   *prompt.Engine
	opts     Options
}

// New creates a Summarizer. A zero Options uses DefaultOptions; otherwise
// only non-positive limits fall back to their defaults.
func New(embedder llm.Embedder, provider llm.Provider, engine *prompt.Engine, opts Options) *Summarizer {
	def := DefaultOptions()
	if opts == (Options{}) {
		opts = def
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = def.MaxChunks
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	return &Summarizer{embedder: embedder, provider: provider, engine: engine, opts: opts}
}

// Summarize chunks and indexes the ticket body, retrieves the excerpts
// closest to query and returns the model's raw answer. A ticket without
// text gets a fixed notice and no model calls are made. Model failures are
// reported as upstream errors and are not retried.
func (s *Summarizer) Summarize(ctx context.Context, ticket *types.Ticket, query string) (string, error) {
	if strings.TrimSpace(ticket.Body) == "" {
		slog.Info("ticket has no content, skipping model", "ticket_id", ticket.ID)
		return prompt.InsufficientContentSummary, nil
	}

	chunks, err := ChunkText(ticket.ID, ticket.Body, s.opts.ChunkSize, s.opts.ChunkOverlap)
	if err != nil {
		return "", fmt.Errorf("chunk ticket %d: %w", ticket.ID, err)
	}
	if len(chunks) > s.opts.MaxChunks {
		slog.Warn("ticket body exceeds chunk limit, truncating",
			"ticket_id", ticket.ID, "chunks", len(chunks), "max_chunks", s.opts.MaxChunks)
		chunks = chunks[:s.opts.MaxChunks]
	}

	index, err := s.buildIndex(ctx, chunks)
	if err != nil {
		return "", err
	}

	qvecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return "", types.Wrap(types.ErrUpstreamUnavailable, "embed query", err)
	}
	if len(qvecs) != 1 {
		return "", types.Wrap(types.ErrUpstreamUnavailable, "embed query", fmt.Errorf("got %d vectors", len(qvecs)))
	}
	hits := index.Search(qvecs[0], s.opts.TopK)

	messages, err := s.engine.Build(ticket, hits, query)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	resp, err := s.complete(ctx, messages)
	if err != nil {
		return "", err
	}
	slog.Debug("summary generated", "ticket_id", ticket.ID, "chunks", len(chunks), "retrieved", len(hits),
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return resp.Content, nil
}

func (s *Summarizer) buildIndex(ctx context.Context, chunks []types.Chunk) (*Index, error) {
	ctx, span := tracer.Start(ctx, "summarize.embed_chunks")
	defer span.End()
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return nil, types.Wrap(types.ErrUpstreamUnavailable, "embed chunks", err)
	}
	index, err := NewIndex(chunks, vectors)
	if err != nil {
		return nil, types.Wrap(types.ErrUpstreamUnavailable, "embed chunks", err)
	}
	return index, nil
}

func (s *Summarizer) complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "summarize.complete")
	defer span.End()

	resp, err := s.provider.Complete(ctx, messages, s.opts.Params)
	if err != nil {
		span.RecordError(err)
		return nil, types.Wrap(types.ErrUpstreamUnavailable, "complete", err)
	}
	return resp, nil
}
