package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/user/ticketdigest/internal/types"
)

const (
	sourceType = "glpi_ticket"
	fontFamily = "Helvetica"
	lineHeight = 5.5
)

// Renderer lays out a sectioned summary as a Letter-size PDF.
type Renderer struct {
	model    string
	compress bool
}

// NewRenderer creates a renderer. model is printed in the source block.
func NewRenderer(model string) *Renderer {
	return &Renderer{model: model, compress: true}
}

// Title is the document title for a ticket report.
func Title(ticketID int) string {
	return "Ticket Analysis - #" + strconv.Itoa(ticketID)
}

// Render writes the report for ticket to w.
func (r *Renderer) Render(w io.Writer, ticket *types.Ticket, sum types.Summary, generated time.Time) error {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetCompression(r.compress)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(Title(ticket.ID), true)
	pdf.SetCreator("ticketdigest", true)
	pdf.SetCreationDate(generated)
	pdf.SetModificationDate(generated)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	left, _, right, _ := pdf.GetMargins()
	pageW, _ := pdf.GetPageSize()

	pdf.SetFont(fontFamily, "B", 18)
	pdf.SetTextColor(20, 20, 20)
	pdf.MultiCell(0, 9, tr(Title(ticket.ID)), "", "L", false)
	if ticket.Title != "" {
		pdf.SetFont(fontFamily, "B", 12)
		pdf.MultiCell(0, 7, tr(ticket.Title), "", "L", false)
	}

	pdf.SetFont(fontFamily, "", 9)
	pdf.SetTextColor(90, 90, 90)
	var details []string
	if ticket.Status != "" {
		details = append(details, "Status: "+ticket.Status)
	}
	if !ticket.OpenedAt.IsZero() {
		details = append(details, "Opened: "+ticket.OpenedAt.Format("2006-01-02 15:04"))
	}
	details = append(details, "Generated: "+generated.UTC().Format("2006-01-02 15:04 MST"))
	for _, d := range details {
		pdf.CellFormat(0, lineHeight, tr(d), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(left, pdf.GetY(), pageW-right, pdf.GetY())
	pdf.Ln(4)

	for _, s := range sum.Sections {
		pdf.SetFont(fontFamily, "B", 13)
		pdf.SetTextColor(20, 20, 20)
		pdf.MultiCell(0, 7, tr(s.Heading), "", "L", false)
		pdf.Ln(1)
		pdf.SetFont(fontFamily, "", 10)
		pdf.SetTextColor(40, 40, 40)
		for _, item := range s.Bullets {
			bullet(pdf, left, tr(item))
		}
		pdf.Ln(3)
	}

	pdf.SetFont(fontFamily, "B", 11)
	pdf.SetTextColor(20, 20, 20)
	pdf.MultiCell(0, 7, "Source Information", "", "L", false)
	pdf.SetFont(fontFamily, "", 9)
	pdf.SetTextColor(90, 90, 90)
	source := []string{
		"Source ID: " + strconv.Itoa(ticket.ID),
		"Source Type: " + sourceType,
		"Follow-ups: " + strconv.Itoa(len(ticket.Followups)),
	}
	if r.model != "" {
		source = append(source, "Model: "+r.model)
	}
	if sum.Malformed {
		source = append(source, "Note: the model answer had no recognisable sections")
	}
	for _, line := range source {
		pdf.CellFormat(0, lineHeight, tr(line), "", 1, "L", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// bullet writes one hanging-indent list item.
func bullet(pdf *fpdf.Fpdf, left float64, text string) {
	pdf.SetX(left + 2)
	pdf.CellFormat(5, lineHeight, "\x95", "", 0, "L", false, 0, "")
	pdf.SetLeftMargin(left + 7)
	pdf.MultiCell(0, lineHeight, text, "", "L", false)
	pdf.SetLeftMargin(left)
}
