package pdfextract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page records where a page's text starts in Result.Text (byte offset).
type Page struct {
	Number int
	Start  int
}

type Result struct {
	Text  string
	Pages []Page
}

// ExtractPages reads the entire content of r and extracts plain text page by
// page. Pages without extractable text are skipped. Pages are separated by a
// blank line so the last sentence of one page never runs into the next.
func ExtractPages(r io.Reader) (*Result, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf failed: %w", err)
	}
	if len(b) == 0 {
		return &Result{}, nil
	}
	pdfReader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}

	var out strings.Builder
	var pages []Page
	for i := 1; i <= pdfReader.NumPage(); i++ {
		p := pdfReader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract pdf page %d failed: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		pages = append(pages, Page{Number: i, Start: out.Len()})
		out.WriteString(text)
	}
	return &Result{Text: out.String(), Pages: pages}, nil
}

// SectionID names the section a page becomes after ingestion.
func SectionID(page int) string {
	return fmt.Sprintf("page-%d", page)
}
