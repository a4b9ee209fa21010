package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/user/ticketdigest/internal/types"
)

const contentType = "application/pdf"

// Store persists a finished report under key.
type Store interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) error
}

// DocumentRenderer writes a sectioned summary as a document.
type DocumentRenderer interface {
	Render(w io.Writer, ticket *types.Ticket, sum types.Summary, generated time.Time) error
}

// Builder renders summaries to PDF and uploads them.
type Builder struct {
	store      Store
	renderer   DocumentRenderer
	scratchDir string
	now        func() time.Time
}

// NewBuilder creates a builder that stages files in scratchDir.
func NewBuilder(store Store, renderer DocumentRenderer, scratchDir string) *Builder {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Builder{store: store, renderer: renderer, scratchDir: scratchDir, now: time.Now}
}

// ObjectKey is the storage key for a report generated at t.
func ObjectKey(ticketID int, t time.Time) string {
	return path.Join("reports", strconv.Itoa(ticketID), t.UTC().Format("20060102T150405Z")+".pdf")
}

// BuildAndStore sections summaryText, renders it and uploads the PDF. The
// staged file is removed on every path. The artifact is returned only once
// the upload is confirmed.
func (b *Builder) BuildAndStore(ctx context.Context, ticket *types.Ticket, summaryText string) (*types.ReportArtifact, error) {
	sum := ParseSections(summaryText)
	if sum.Malformed {
		slog.Warn("summary has no recognisable sections, using fallback",
			"ticket_id", ticket.ID, "error", types.ErrMalformedContent)
	}

	generated := b.now().UTC()
	art := &types.ReportArtifact{
		TicketID:     ticket.ID,
		GeneratedAt:  generated,
		UploadStatus: types.UploadPending,
	}

	if err := os.MkdirAll(b.scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	f, err := os.CreateTemp(b.scratchDir, fmt.Sprintf("report-%d-*.pdf", ticket.ID))
	if err != nil {
		return nil, fmt.Errorf("create report file: %w", err)
	}
	art.LocalPath = f.Name()
	defer func() {
		f.Close()
		if err := os.Remove(art.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("remove report file", "path", art.LocalPath, "error", err)
		}
	}()

	if err := b.renderer.Render(f, ticket, sum, generated); err != nil {
		return nil, fmt.Errorf("render report for ticket %d: %w", ticket.ID, err)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat report file: %w", err)
	}
	art.Size = info.Size()
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind report file: %w", err)
	}

	key := ObjectKey(ticket.ID, generated)
	if err := b.store.Put(ctx, key, f, contentType); err != nil {
		if !errors.Is(err, types.ErrStorage) {
			err = types.Wrap(types.ErrStorage, "put "+key, err)
		}
		return nil, fmt.Errorf("upload report: %w", err)
	}

	art.StorageKey = key
	art.UploadStatus = types.UploadStored
	slog.Info("report stored", "ticket_id", ticket.ID, "key", key, "bytes", art.Size, "sections", len(sum.Sections))
	return art, nil
}
