package mdnote

import (
	"strings"
	"testing"
	"time"
)

func TestParse_FrontMatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - notes\ncreated: 2023-04-01T10:00:00Z\nrating: 5\n---\n# Hello\nBody text.\n")
	r := Parse(input)
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if len(r.Tags) != 2 || r.Tags[0] != "go" || r.Tags[1] != "notes" {
		t.Errorf("tags = %v, want [go notes]", r.Tags)
	}
	if !strings.Contains(r.Body, "Body text.") || strings.Contains(r.Body, "title:") {
		t.Errorf("body = %q", r.Body)
	}
	want := time.Date(2023, 4, 1, 10, 0, 0, 0, time.UTC)
	if !r.Meta.CreatedAt().Equal(want) {
		t.Errorf("created = %v, want %v", r.Meta.CreatedAt(), want)
	}
	if r.Meta.Extra["rating"] != 5 {
		t.Errorf("extra rating = %v, want 5", r.Meta.Extra["rating"])
	}
}

func TestParse_NoFrontMatter(t *testing.T) {
	r := Parse([]byte("# Just a heading\nSome text.\n"))
	if r.Meta.Title != "" {
		t.Errorf("meta title = %q, want empty", r.Meta.Title)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
	if r.Body != "# Just a heading\nSome text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r := Parse(input)
	// Invalid front matter falls back to treating everything as body.
	if r.Meta.Title != "" {
		t.Errorf("expected empty meta on invalid YAML")
	}
	if !strings.Contains(r.Body, "Body") {
		t.Errorf("body = %q", r.Body)
	}
}

func TestExtractLinks_WikiAndMarkdown(t *testing.T) {
	body := "See [[Note A]] and [[Note B|alias]].\nAlso ![pic](img/photo.png) and [site](https://example.com)."
	links := extractLinks(body)
	if len(links) != 4 {
		t.Fatalf("len(links) = %d, want 4: %v", len(links), links)
	}
	if !links[0].Wiki || links[0].Target != "Note A" || links[0].Display != "Note A" {
		t.Errorf("links[0] = %+v", links[0])
	}
	if links[1].Target != "Note B" || links[1].Display != "alias" {
		t.Errorf("links[1] = %+v", links[1])
	}
	if !links[2].Image || links[2].Target != "img/photo.png" {
		t.Errorf("links[2] = %+v", links[2])
	}
	if links[3].Image || links[3].Wiki || links[3].Target != "https://example.com" {
		t.Errorf("links[3] = %+v", links[3])
	}
}

func TestExtractLinks_EmptyTarget(t *testing.T) {
	links := extractLinks("see [[ ]] and [[|alias]]")
	if len(links) != 0 {
		t.Errorf("expected no links, got %v", links)
	}
}

func TestRewriteLinks(t *testing.T) {
	body := "See [[Note A]] and ![pic](img/photo.png), but keep [ext](https://example.com)."
	out := RewriteLinks(body, func(l Link) (string, bool) {
		switch l.Target {
		case "Note A":
			return "[Note A](note://id-a)", true
		case "img/photo.png":
			return "![pic](resource://id-p)", true
		}
		return "", false
	})
	want := "See [Note A](note://id-a) and ![pic](resource://id-p), but keep [ext](https://example.com)."
	if out != want {
		t.Errorf("rewrite = %q, want %q", out, want)
	}
}

func TestRewriteLinks_WikiReplacementSurvivesSecondPass(t *testing.T) {
	// A wikilink rewritten into Markdown form is seen again by the
	// Markdown pass; repl declines targets that are already final.
	out := RewriteLinks("[[Note A]]", func(l Link) (string, bool) {
		if strings.Contains(l.Target, "://") {
			return "", false
		}
		return "[x](note://id-a)", true
	})
	if out != "[x](note://id-a)" {
		t.Errorf("rewrite = %q", out)
	}
}

func TestExtractTags_InlineAndFrontMatter(t *testing.T) {
	body := "Some text #beta and #alpha again."
	tags := extractTags(body, []string{"alpha"})
	// alpha from front matter, beta from body; alpha not duplicated.
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v, want [alpha beta]", tags)
	}
}

func TestDeriveTitle_FrontMatterOverH1(t *testing.T) {
	if got := deriveTitle("FM Title", "# H1 Title\ntext"); got != "FM Title" {
		t.Errorf("title = %q, want %q", got, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	if got := deriveTitle("", "some text\n# My Heading\nmore"); got != "My Heading" {
		t.Errorf("title = %q, want %q", got, "My Heading")
	}
}

func TestParseStamp_Layouts(t *testing.T) {
	cases := map[string]bool{
		"2023-04-01T10:00:00Z": true,
		"2023-04-01 10:00:00":  true,
		"2023-04-01":           true,
		"yesterday":            false,
		"":                     false,
	}
	for in, ok := range cases {
		got := parseStamp(in)
		if ok && got.IsZero() {
			t.Errorf("parseStamp(%q) = zero, want parsed", in)
		}
		if !ok && !got.IsZero() {
			t.Errorf("parseStamp(%q) = %v, want zero", in, got)
		}
	}
}
