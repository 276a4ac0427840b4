// Package mdnote extracts front matter, links, and tags from Markdown
// notes. Both the Markdown-tree source adapter and the vault index sync
// read files through it.
package mdnote

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	mdLinkRe   = regexp.MustCompile(`(!?)\[([^\]]*)\]\(([^)\s]+)\)`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Meta is the recognized front-matter key set. Unknown keys land in Extra.
type Meta struct {
	Title    string         `yaml:"title"`
	SourceID string         `yaml:"source_id"`
	Created  string         `yaml:"created"`
	Updated  string         `yaml:"updated"`
	Tags     []string       `yaml:"tags"`
	Aliases  []string       `yaml:"aliases"`
	Extra    map[string]any `yaml:",inline"`
}

// CreatedAt parses the created stamp; zero when absent or unparseable.
func (m Meta) CreatedAt() time.Time { return parseStamp(m.Created) }

// UpdatedAt parses the updated stamp; zero when absent or unparseable.
func (m Meta) UpdatedAt() time.Time { return parseStamp(m.Updated) }

func parseStamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Link is one outgoing reference found in a body.
type Link struct {
	Target  string // as written: wikilink target or markdown destination
	Display string
	Image   bool
	Wiki    bool
}

// Result holds the output of parsing one Markdown file.
type Result struct {
	Meta  Meta
	Body  string
	Links []Link
	Tags  []string
	Title string
}

// Parse splits front matter from the body and extracts links, tags, and a
// title. Malformed front matter is not an error: the whole input becomes
// the body.
func Parse(data []byte) *Result {
	var meta Meta
	body, err := frontmatter.Parse(bytes.NewReader(data), &meta)
	if err != nil {
		meta = Meta{}
		body = data
	}

	text := string(body)
	return &Result{
		Meta:  meta,
		Body:  text,
		Links: extractLinks(text),
		Tags:  extractTags(text, meta.Tags),
		Title: deriveTitle(meta.Title, text),
	}
}

// RewriteLinks replaces each link in body for which repl returns true with
// the returned text. Wikilinks are rewritten before Markdown links, so a
// replacement in Markdown syntax is visited again by the second pass; repl
// must leave already-final targets alone.
func RewriteLinks(body string, repl func(Link) (string, bool)) string {
	body = wikilinkRe.ReplaceAllStringFunc(body, func(match string) string {
		sub := wikilinkRe.FindStringSubmatch(match)
		target, display := sub[1], sub[1]
		if i := strings.Index(target, "|"); i >= 0 {
			display = target[i+1:]
			target = target[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			return match
		}
		if out, ok := repl(Link{Target: target, Display: strings.TrimSpace(display), Wiki: true}); ok {
			return out
		}
		return match
	})
	return mdLinkRe.ReplaceAllStringFunc(body, func(match string) string {
		sub := mdLinkRe.FindStringSubmatch(match)
		target := strings.TrimSpace(sub[3])
		if target == "" {
			return match
		}
		if out, ok := repl(Link{Target: target, Display: sub[2], Image: sub[1] == "!"}); ok {
			return out
		}
		return match
	})
}

// extractLinks returns wikilinks and inline Markdown links in encounter
// order. Wikilink aliases ([[Target|Alias]]) split into target and display.
func extractLinks(body string) []Link {
	var out []Link
	for _, m := range wikilinkRe.FindAllStringSubmatch(body, -1) {
		target, display := m[1], m[1]
		if i := strings.Index(target, "|"); i >= 0 {
			display = target[i+1:]
			target = target[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		out = append(out, Link{Target: target, Display: strings.TrimSpace(display), Wiki: true})
	}
	for _, m := range mdLinkRe.FindAllStringSubmatch(body, -1) {
		target := strings.TrimSpace(m[3])
		if target == "" {
			continue
		}
		out = append(out, Link{Target: target, Display: m[2], Image: m[1] == "!"})
	}
	return out
}

// extractTags merges front-matter tags with inline #tags, deduplicated in
// encounter order.
func extractTags(body string, fmTags []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range fmTags {
		add(t)
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle prefers the front-matter title, then the first H1 heading.
func deriveTitle(fmTitle, body string) string {
	if fmTitle != "" {
		return fmTitle
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
