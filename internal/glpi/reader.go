package glpi

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/ticketdigest/internal/types"
)

var statusLabels = map[int]string{
	1: "New",
	2: "Processing (assigned)",
	3: "Processing (planned)",
	4: "Pending",
	5: "Solved",
	6: "Closed",
}

// TicketAPI is the part of the GLPI API the reader needs.
type TicketAPI interface {
	GetTicket(ctx context.Context, token string, id int) (*TicketRecord, error)
	ListFollowups(ctx context.Context, token string, id int) ([]FollowupRecord, error)
}

// Reader turns GLPI records into a ticket snapshot with a single text body.
type Reader struct {
	api TicketAPI
	loc *time.Location
}

// NewReader creates a reader over api. GLPI timestamps carry no zone; they
// are read in loc, or UTC when loc is nil.
func NewReader(api TicketAPI, loc *time.Location) *Reader {
	if loc == nil {
		loc = time.UTC
	}
	return &Reader{api: api, loc: loc}
}

// FetchTicket retrieves a ticket and all of its follow-ups.
func (r *Reader) FetchTicket(ctx context.Context, session types.Session, id int) (*types.Ticket, error) {
	rec, err := r.api.GetTicket(ctx, session.Token, id)
	if err != nil {
		return nil, fmt.Errorf("get ticket %d: %w", id, err)
	}
	records, err := r.api.ListFollowups(ctx, session.Token, id)
	if err != nil {
		return nil, fmt.Errorf("list followups for ticket %d: %w", id, err)
	}

	ticket := &types.Ticket{
		ID:          rec.ID,
		Title:       strings.TrimSpace(html.UnescapeString(rec.Name)),
		Description: richText(rec.Content),
		Status:      statusLabel(rec.Status),
		OpenedAt:    parseDate(rec.Date, r.loc),
	}
	for _, f := range records {
		ticket.Followups = append(ticket.Followups, types.Followup{
			ID:      f.ID,
			Author:  authorName(f.UsersID),
			At:      parseDate(f.Date, r.loc),
			Content: richText(f.Content),
		})
	}
	sort.SliceStable(ticket.Followups, func(i, j int) bool {
		a, b := ticket.Followups[i], ticket.Followups[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		return a.ID < b.ID
	})
	ticket.Body = BuildBody(ticket.Description, ticket.Followups)

	slog.Debug("ticket fetched", "ticket_id", id, "followups", len(ticket.Followups), "body_len", len(ticket.Body))
	return ticket, nil
}

// BuildBody joins the description and follow-ups, in the given order, into
// the text handed to the summarizer. Empty parts are skipped and nothing is
// truncated.
func BuildBody(description string, followups []types.Followup) string {
	var parts []string
	if d := strings.TrimSpace(description); d != "" {
		parts = append(parts, d)
	}
	for _, f := range followups {
		content := strings.TrimSpace(f.Content)
		if content == "" {
			continue
		}
		parts = append(parts, followupHeader(f)+"\n"+content)
	}
	return strings.Join(parts, "\n\n")
}

func followupHeader(f types.Followup) string {
	header := "Follow-up"
	if f.Author != "" {
		header += " by " + f.Author
	}
	if !f.At.IsZero() {
		header += " at " + f.At.Format("2006-01-02 15:04")
	}
	return header + ":"
}

// richText converts GLPI's HTML-escaped rich text into plain markdown text.
func richText(s string) string {
	s = strings.TrimSpace(html.UnescapeString(s))
	if s == "" || !strings.Contains(s, "<") {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		slog.Warn("convert ticket html", "error", err)
		return s
	}
	return strings.TrimSpace(md)
}

func statusLabel(status int) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	if status == 0 {
		return ""
	}
	return fmt.Sprintf("status %d", status)
}
