package parser

import (
	"testing"
)

func TestHTMLConverter_Document(t *testing.T) {
	input := `<html><head><title>Guide</title><style>p { color: red }</style></head>
<body>
<nav>Menu</nav>
<h1>Getting <em>started</em></h1>
<p>Install the <code>cli</code> tool. See <a href="https://x.dev/docs">docs</a>.</p>
<ul><li>One</li><li>Two</li></ul>
<script>alert(1)</script>
<table><tr><th>Name</th><th>Value</th></tr><tr><td>a</td><td>1</td></tr></table>
<pre><code class="language-go">fmt.Println("hi")
</code></pre>
</body></html>`

	got, err := (&HTMLConverter{}).Convert([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "# Getting *started*\n\n" +
		"Install the `cli` tool. See [docs](https://x.dev/docs).\n\n" +
		"- One\n- Two\n\n" +
		"| Name | Value |\n| --- | --- |\n| a | 1 |\n\n" +
		"```go\nfmt.Println(\"hi\")\n```\n"
	if string(got) != want {
		t.Errorf("expected:\n%q\ngot:\n%q", want, got)
	}
}

func TestHTMLConverter_Blocks(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"blockquote escapes", `<blockquote><p># not heading</p></blockquote>`, "> \\# not heading\n"},
		{"ordered start", `<ol start="3"><li>Three</li><li>Four</li></ol>`, "3. Three\n4. Four\n"},
		{"rule", `<p>above</p><hr><p>below</p>`, "above\n\n---\n\nbelow\n"},
		{"bare text in div", `<div>Text <span>more</span></div>`, "Text more\n"},
		{"heading levels", `<h2>Two</h2><h6>Six</h6>`, "## Two\n\n###### Six\n"},
		{"strikethrough", `<p><del>old</del> new</p>`, "~~old~~ new\n"},
		{"javascript links", `<p><a href="javascript:void(0)">click</a></p>`, "click\n"},
		{"whitespace collapse", "<p>a\n\t  b</p>", "a b\n"},
		{"skipped only", `<script>x()</script><footer>f</footer>`, ""},
		{"line break", `<p>line<br>break</p>`, "line  \nbreak\n"},
		{"trailing line break", `<p>end<br></p>`, "end\n"},
		{"line break in heading", `<h2>One<br>Two</h2>`, "## One Two\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&HTMLConverter{}).Convert([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestHTMLTitle(t *testing.T) {
	if got := HTMLTitle([]byte("<html><head><title> Guide </title></head><body></body></html>")); got != "Guide" {
		t.Errorf("expected %q, got %q", "Guide", got)
	}
	if got := HTMLTitle([]byte("<p>no title</p>")); got != "" {
		t.Errorf("expected empty title, got %q", got)
	}
}
