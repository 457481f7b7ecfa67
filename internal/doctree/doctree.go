package doctree

import "github.com/yuin/goldmark/ast"

// Format identifies how a source document is written.
type Format int

const (
	FormatUnknown Format = iota
	// FormatStructuredMarkup is markdown with {% tag %} blocks (Markdoc).
	FormatStructuredMarkup
	// FormatFlowMarkup is markdown with embedded expressions and elements (MDX).
	FormatFlowMarkup
	// FormatRichHypertext is HTML.
	FormatRichHypertext
	FormatPlainText
	FormatSpreadsheet
	FormatPortableDocument
	FormatWordDocument
)

func (f Format) String() string {
	switch f {
	case FormatStructuredMarkup:
		return "markdoc"
	case FormatFlowMarkup:
		return "mdx"
	case FormatRichHypertext:
		return "html"
	case FormatPlainText:
		return "text"
	case FormatSpreadsheet:
		return "csv"
	case FormatPortableDocument:
		return "pdf"
	case FormatWordDocument:
		return "docx"
	}
	return "unknown"
}

// SourceDocument is one file handed to the pipeline. It is never mutated.
type SourceDocument struct {
	ProjectID  string
	Path       string
	Content    []byte
	Format     Format
	Credential string // Optional per-document provider credential.
}

// Document is the canonical markup tree of a normalized source.
// Root is the goldmark parse of Source; node segments index into Source.
type Document struct {
	Source []byte
	Root   ast.Node
}

// Section is a heading-delimited slice of a Document.
type Section struct {
	Index   int
	Heading string // Empty for the leading section before the first heading.
	Level   int
	Content string
}

// Chunk is a budget-bounded piece of a Section, the unit sent for embedding.
type Chunk struct {
	Index   int
	Section int
	Text    string
}

// IngestError is a non-fatal (or single fatal) failure reported to the caller.
type IngestError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}
