package credential

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

// Ticket is the text printed on a ticket document. QRPNG may be empty, in
// which case the QR image is generated from EntryCode.
type Ticket struct {
	EventName string
	Location  string
	StartsAt  time.Time
	Holder    string
	EntryCode string
	QRPNG     []byte
}

// RenderTicket lays out an A4 PDF ticket: event title, date, location,
// holder, the entry code in clear text and the QR image below it.
func RenderTicket(t Ticket) ([]byte, error) {
	png := t.QRPNG
	if len(png) == 0 {
		var err error
		if png, err = Generate(t.EntryCode); err != nil {
			return nil, err
		}
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Ticket - "+t.EventName, true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 22)
	pdf.CellFormat(0, 14, tr(t.EventName), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 12)
	line := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(40, 8, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		pdf.CellFormat(0, 8, tr(value), "", 1, "L", false, 0, "")
	}
	if !t.StartsAt.IsZero() {
		line("Date", t.StartsAt.UTC().Format("Mon 02 Jan 2006, 15:04 MST"))
	}
	if t.Location != "" {
		line("Location", t.Location)
	}
	line("Holder", t.Holder)
	line("Entry code", t.EntryCode)

	const side = 80.0
	pageW, _ := pdf.GetPageSize()
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(png))
	pdf.ImageOptions("qr", (pageW-side)/2, pdf.GetY()+10, side, side, false, opts, 0, "")

	pdf.SetY(pdf.GetY() + side + 16)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(0, 6, "Present this code at the entrance. It can be scanned once.", "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("credential: render ticket: %w", err)
	}
	return buf.Bytes(), nil
}
