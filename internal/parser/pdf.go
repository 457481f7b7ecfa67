package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	pdflib "github.com/ledongthuc/pdf"
)

// PDFConverter handles PDF files. Each non-empty page becomes a
// "## Page N" section. It tries the Go reader first and, when enabled,
// falls back to pdftotext.
type PDFConverter struct {
	FallbackPdftotext bool
}

func (c *PDFConverter) Convert(content []byte) ([]byte, error) {
	pages, err := extractPDFPages(content)
	if err != nil && c.FallbackPdftotext {
		pages, err = extractPdftotext(content)
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	var blocks []string
	for i, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("## Page %d", i+1), pdfParagraphs(page))
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	return []byte(joinBlocks(blocks) + "\n"), nil
}

func extractPDFPages(content []byte) ([]string, error) {
	reader, err := pdflib.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}
	numPages := reader.NumPage()
	pages := make([]string, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}

// extractPdftotext needs a path, so the content goes through a temp file.
func extractPdftotext(content []byte) ([]string, error) {
	tmp, err := os.CreateTemp("", "docembed-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	out, err := exec.CommandContext(ctx, "pdftotext", "-layout", tmpPath, "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	// pdftotext separates pages with form feeds.
	return strings.Split(string(out), "\f"), nil
}

// pdfParagraphs escapes page text, keeping blank-line paragraph breaks and
// collapsing layout indentation.
func pdfParagraphs(page string) string {
	var paras []string
	for _, p := range strings.Split(page, "\n\n") {
		lines := strings.Split(p, "\n")
		kept := lines[:0]
		for _, l := range lines {
			if l = strings.TrimSpace(l); l != "" {
				kept = append(kept, l)
			}
		}
		if len(kept) > 0 {
			paras = append(paras, escapeText(strings.Join(kept, "\n")))
		}
	}
	return joinBlocks(paras)
}
