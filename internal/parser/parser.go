package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docembed/internal/doctree"
	"github.com/go-enry/go-enry/v2"
)

var (
	// ErrUnsupportedFormat is returned for files no converter handles.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrUnparseable is returned when no normalization path produced a tree.
	ErrUnparseable = errors.New("document could not be parsed")
)

// Converter turns raw document bytes into canonical markdown.
type Converter interface {
	Convert(content []byte) ([]byte, error)
}

// extensionFormats maps file extensions to formats. Plain .md files are
// read as flow markup first; Markdoc written in a .md file is caught by
// the structured-markup fallback in Normalize.
var extensionFormats = map[string]doctree.Format{
	".mdx":      doctree.FormatFlowMarkup,
	".md":       doctree.FormatFlowMarkup,
	".markdown": doctree.FormatFlowMarkup,
	".mdoc":     doctree.FormatStructuredMarkup,
	".markdoc":  doctree.FormatStructuredMarkup,
	".html":     doctree.FormatRichHypertext,
	".htm":      doctree.FormatRichHypertext,
	".txt":      doctree.FormatPlainText,
	".csv":      doctree.FormatSpreadsheet,
	".pdf":      doctree.FormatPortableDocument,
	".docx":     doctree.FormatWordDocument,
}

// languageFormats maps linguist language names to formats for extensions
// missing from extensionFormats (.mkd, .xhtml, ...).
var languageFormats = map[string]doctree.Format{
	"Markdown": doctree.FormatFlowMarkup,
	"MDX":      doctree.FormatFlowMarkup,
	"HTML":     doctree.FormatRichHypertext,
	"Text":     doctree.FormatPlainText,
	"CSV":      doctree.FormatSpreadsheet,
}

// Classify returns the format of a file from its name.
func Classify(filename string) (doctree.Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := extensionFormats[ext]; ok {
		return f, nil
	}
	if lang, _ := enry.GetLanguageByExtension(filename); lang != "" {
		if f, ok := languageFormats[lang]; ok {
			return f, nil
		}
	}
	return doctree.FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// IsSupported reports whether Classify accepts the filename.
func IsSupported(filename string) bool {
	_, err := Classify(filename)
	return err == nil
}

// Normalizer converts source documents into canonical markup trees.
type Normalizer struct {
	// PDFFallbackPdftotext shells out to pdftotext when the Go PDF reader fails.
	PDFFallbackPdftotext bool
}

// ForFormat returns the converter for a single-path format. Flow markup has
// no converter of its own because it may fall back to structured markup.
func (n *Normalizer) ForFormat(format doctree.Format) (Converter, error) {
	switch format {
	case doctree.FormatStructuredMarkup:
		return &MarkdocConverter{}, nil
	case doctree.FormatRichHypertext:
		return &HTMLConverter{}, nil
	case doctree.FormatPlainText:
		return &TextConverter{}, nil
	case doctree.FormatSpreadsheet:
		return &CSVConverter{}, nil
	case doctree.FormatPortableDocument:
		return &PDFConverter{FallbackPdftotext: n.PDFFallbackPdftotext}, nil
	case doctree.FormatWordDocument:
		return &DOCXConverter{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// Normalize converts content of the given format into a canonical tree.
// Flow markup that fails to parse is retried as structured markup before
// the document is declared unparseable.
func (n *Normalizer) Normalize(content []byte, format doctree.Format) (*doctree.Document, error) {
	if format == doctree.FormatFlowMarkup {
		res := normalizeFlow(content)
		if !res.FallbackRequired {
			return res.Doc, nil
		}
		md, err := (&MarkdocConverter{}).Convert(content)
		if err != nil {
			return nil, fmt.Errorf("%w: mdx: %v; markdoc: %v", ErrUnparseable, res.Reason, err)
		}
		return ParseMarkdown(md), nil
	}

	conv, err := n.ForFormat(format)
	if err != nil {
		return nil, err
	}
	md, err := conv.Convert(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnparseable, format, err)
	}
	return ParseMarkdown(md), nil
}
