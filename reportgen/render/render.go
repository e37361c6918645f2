// Package render produces the per-item report artifact. The output is a
// minimal single-page PDF built by hand: the document layout carries no
// business meaning here, only that each item yields a well-formed, stable
// artifact for the archive.
package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/andrewwormald/durable/reportgen"
)

// PDF renders one page per item with its id, name and score.
type PDF struct {
	// Title is printed above the item details. Empty means "Report".
	Title string
}

var _ reportgen.Renderer = (*PDF)(nil)

func NewPDF() *PDF {
	return &PDF{}
}

func (p *PDF) Render(ctx context.Context, item reportgen.WorkItem) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if item.ID == "" {
		return nil, errors.New("cannot render item without id", j.KV("name", item.Name))
	}

	title := p.Title
	if title == "" {
		title = "Report"
	}

	lines := []string{
		title,
		"ID: " + item.ID,
		"Name: " + item.Name,
		fmt.Sprintf("Score: %.2f", item.Score),
	}

	return buildPDF(lines), nil
}

// buildPDF assembles a single page document with the given text lines. Object
// offsets are tracked as the body is written so the cross reference table is
// exact.
func buildPDF(lines []string) []byte {
	content := contentStream(lines)

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xref)

	return buf.Bytes()
}

func contentStream(lines []string) string {
	var b strings.Builder
	b.WriteString("BT\n/F1 14 Tf\n72 770 Td\n16 TL\n")
	for i, line := range lines {
		if i > 0 {
			b.WriteString("T*\n")
		}
		fmt.Fprintf(&b, "(%s) Tj\n", escapeText(line))
	}
	b.WriteString("ET")

	return b.String()
}

func escapeText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
