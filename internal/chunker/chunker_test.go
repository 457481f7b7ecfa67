package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dgallion1/docembed/internal/doctree"
	"github.com/dgallion1/docembed/internal/parser"
	"github.com/yuin/goldmark/ast"
)

func split(t *testing.T, src string) []doctree.Section {
	t.Helper()
	return Split(parser.ParseMarkdown([]byte(src)))
}

func TestSplit_LeadingContentAndHeadings(t *testing.T) {
	input := "Intro text.\n\n# Title\n\nBody one.\n\n## Sub\n\nBody two.\n"
	sections := split(t, input)

	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(sections))
	}
	want := []doctree.Section{
		{Index: 0, Heading: "", Level: 0, Content: "Intro text."},
		{Index: 1, Heading: "Title", Level: 1, Content: "# Title\n\nBody one."},
		{Index: 2, Heading: "Sub", Level: 2, Content: "## Sub\n\nBody two."},
	}
	for i, w := range want {
		if sections[i] != w {
			t.Errorf("section[%d]: expected %+v, got %+v", i, w, sections[i])
		}
	}
}

func TestSplit_SectionCounts(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"whitespace only", "\n\n  \n", 0},
		{"no headings", "Just text.\n\nMore text.\n", 1},
		{"heading first", "# A\n\ntext\n", 1},
		{"consecutive headings", "# A\n## B\n### C\n", 3},
		{"leading content", "text\n\n# A\n\n# B\n", 3},
		{"setext headings", "Title\n=====\n\nbody\n\nSub\n---\n\nmore\n", 2},
		{"empty atx headings", "#\n\ntext\n\n##\n\nmore\n", 2},
		{"heading in code fence", "# A\n\n```\n# not a heading\n```\n", 1},
		{"heading in blockquote", "# A\n\n> # quoted\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := split(t, tt.input); len(got) != tt.want {
				t.Errorf("expected %d sections, got %d: %+v", tt.want, len(got), got)
			}
		})
	}
}

func TestSplit_EmptyHeadingBoundaries(t *testing.T) {
	sections := split(t, "#\n\ntext\n\n##\n\nmore\n")
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}
	if sections[0].Content != "#\n\ntext" {
		t.Errorf("section 0: got %q", sections[0].Content)
	}
	if sections[1].Content != "##\n\nmore" || sections[1].Level != 2 {
		t.Errorf("section 1: got %+v", sections[1])
	}
}

func TestSplit_ReconstructsTopLevelNodes(t *testing.T) {
	inputs := []string{
		"Intro.\n\n# One\n\nPara.\n\n- a\n- b\n\n## Two\n\n```go\nx := 1\n```\n\n> quote\n\n# Three\n",
		"# A\n## B\n### C\n",
		"Title\n=====\n\nbody\n\n---\n\n| a | b |\n| --- | --- |\n| 1 | 2 |\n",
		"    indented code\n\n# H\n\ntext\n",
		"#\n\ntext\n\n##\n",
	}
	for _, in := range inputs {
		doc := parser.ParseMarkdown([]byte(in))
		sections := Split(doc)

		parts := make([]string, len(sections))
		for i, s := range sections {
			parts[i] = s.Content
		}
		rebuilt := parser.ParseMarkdown([]byte(strings.Join(parts, "\n\n")))

		if a, b := kinds(doc.Root), kinds(rebuilt.Root); a != b {
			t.Errorf("%q: node sequence changed:\n%s\n%s", in, a, b)
		}
	}
}

func TestSplit_HeadingCountProperty(t *testing.T) {
	for k := 0; k < 6; k++ {
		for _, lead := range []bool{false, true} {
			var sb strings.Builder
			if lead {
				sb.WriteString("Preamble paragraph.\n\n")
			}
			for i := range k {
				fmt.Fprintf(&sb, "## Heading %d\n\nBody %d.\n\n", i, i)
			}
			sections := split(t, sb.String())

			want := k
			if lead {
				want = k + 1
			}
			if len(sections) != want {
				t.Errorf("k=%d lead=%v: expected %d sections, got %d", k, lead, want, len(sections))
			}
			for i, s := range sections {
				if s.Index != i {
					t.Errorf("k=%d: section %d has index %d", k, i, s.Index)
				}
			}
		}
	}
}

func TestBound_UnderBudgetIsWhole(t *testing.T) {
	inputs := []string{"", "short", strings.Repeat("x", 15999), "a\nb\nc"}
	for _, in := range inputs {
		got := Bound(in, 4000)
		if len(got) != 1 || got[0] != in {
			t.Errorf("expected the section back whole, got %d pieces", len(got))
		}
	}
}

func TestBound_ResetsCountAfterFlush(t *testing.T) {
	line := func(c string) string { return strings.Repeat(c, 20) } // 5 tokens
	section := strings.Join([]string{line("a"), line("b"), line("c"), line("d")}, "\n")

	got := Bound(section, 10)
	want := []string{
		line("a"),
		line("b") + "\n" + line("c"),
		line("d"),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d pieces, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("piece %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestBound_OversizedLine(t *testing.T) {
	section := "small\n" + strings.Repeat("z", 100) + "\nsmall"
	got := Bound(section, 10)
	if strings.Join(got, "\n") != section {
		t.Fatalf("pieces do not rebuild the section: %q", got)
	}
	if got[0] != "small" {
		t.Errorf("expected first piece %q, got %q", "small", got[0])
	}
}

func TestBound_LinesPreserved(t *testing.T) {
	budgets := []float64{1, 5, 17, 100, 4000}
	for seed := 1; seed <= 20; seed++ {
		var lines []string
		for i := range 50 + seed*7 {
			n := (i*seed*31 + seed) % 240
			lines = append(lines, strings.Repeat("w", n))
		}
		section := strings.Join(lines, "\n")
		for _, b := range budgets {
			pieces := Bound(section, b)
			if got := strings.Join(pieces, "\n"); got != section {
				t.Fatalf("seed %d budget %v: lines lost or reordered", seed, b)
			}
		}
	}
}

func TestBound_TwentyThousandCharacterSection(t *testing.T) {
	lines := make([]string, 200)
	for i := range lines {
		lines[i] = strings.Repeat("x", 99)
	}
	section := strings.Join(lines, "\n")

	pieces := Bound(section, Budget(DefaultContextTokensCutoff))
	if len(pieces) != 2 {
		t.Fatalf("expected 2 pieces, got %d", len(pieces))
	}
	if n := len(pieces[0]); n < 15000 || n > 17000 {
		t.Errorf("expected the first cut near 16000 characters, got %d", n)
	}
}

func TestBudget(t *testing.T) {
	if got := Budget(5000); got != 4000 {
		t.Errorf("expected 4000, got %v", got)
	}
}

func TestApproxTokens(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"", 0},
		{"abcd", 1},
		{"abcdef", 1.5},
		{"héllo wörld!", 3},
	}
	for _, tt := range tests {
		if got := ApproxTokens(tt.input); got != tt.want {
			t.Errorf("ApproxTokens(%q): expected %v, got %v", tt.input, tt.want, got)
		}
	}
}

func TestChunks_Indexing(t *testing.T) {
	big := strings.Repeat(strings.Repeat("y", 40)+"\n", 9) + strings.Repeat("y", 40)
	sections := []doctree.Section{
		{Index: 0, Content: "small"},
		{Index: 1, Content: big},
		{Index: 2, Content: "tail"},
	}
	chunks := Chunks(sections, 25)

	if len(chunks) < 4 {
		t.Fatalf("expected the big section to be split, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d: expected index %d, got %d", i, i, c.Index)
		}
	}
	if chunks[0].Section != 0 || chunks[len(chunks)-1].Section != 2 {
		t.Errorf("unexpected section mapping: %+v", chunks)
	}
}

func kinds(root ast.Node) string {
	var out []string
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		out = append(out, n.Kind().String())
	}
	return strings.Join(out, ",")
}
