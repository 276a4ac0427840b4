package enex

import (
	"html"
	"regexp"
	"strings"

	"github.com/notemill/notemill/internal/imf"
)

// The ENML pass is deliberately small: block tags map to line structure,
// inline marks to Markdown spans, en-media to canonical resource URIs, and
// everything unrecognized is stripped.
var (
	enNoteRe    = regexp.MustCompile(`(?s)<en-note[^>]*>(.*)</en-note>`)
	enMediaRe   = regexp.MustCompile(`<en-media[^>]*/?>`)
	enTodoRe    = regexp.MustCompile(`<en-todo[^>]*/?>`)
	enCryptRe   = regexp.MustCompile(`(?s)<en-crypt[^>]*>.*?</en-crypt>`)
	hashAttrRe  = regexp.MustCompile(`hash="([0-9a-fA-F]+)"`)
	typeAttrRe  = regexp.MustCompile(`type="([^"]*)"`)
	anchorRe    = regexp.MustCompile(`(?s)<a\s[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	preRe       = regexp.MustCompile(`(?s)<pre[^>]*>(.*?)</pre>`)
	headingRe   = regexp.MustCompile(`<h([1-6])[^>]*>`)
	headingEnd  = regexp.MustCompile(`</h[1-6]>`)
	listItemRe  = regexp.MustCompile(`<li[^>]*>`)
	lineBreakRe = regexp.MustCompile(`<br[^>]*/?>`)
	hrRe        = regexp.MustCompile(`<hr[^>]*/?>`)
	cellEndRe   = regexp.MustCompile(`</t[dh]>`)
	boldRe      = regexp.MustCompile(`</?(b|strong)(\s[^>]*)?>`)
	italicRe    = regexp.MustCompile(`</?(i|em)(\s[^>]*)?>`)
	codeRe      = regexp.MustCompile(`</?code(\s[^>]*)?>`)
	tagStripRe  = regexp.MustCompile(`(?s)<[^>]*>`)
	manyBlankRe = regexp.MustCompile(`\n{3,}`)
)

// enmlToMarkdown converts one note's ENML document to Markdown. lookup
// resolves an en-media hash to the note's decoded resource; a miss still
// emits a canonical URI so the resolver records the dangling reference.
func enmlToMarkdown(content string, lookup func(hash string) (*imf.Resource, bool)) string {
	s := content
	if m := enNoteRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}

	s = enCryptRe.ReplaceAllString(s, "*(encrypted)*")

	s = enMediaRe.ReplaceAllStringFunc(s, func(m string) string {
		hm := hashAttrRe.FindStringSubmatch(m)
		if hm == nil {
			return ""
		}
		hash := strings.ToLower(hm[1])
		mime := ""
		if tm := typeAttrRe.FindStringSubmatch(m); tm != nil {
			mime = tm[1]
		}
		name := "attachment"
		if res, ok := lookup(hash); ok {
			if res.Filename != "" {
				name = res.Filename
			}
			mime = res.MIME
		}
		uri := imf.ResourceURI(hash)
		if strings.HasPrefix(mime, "image/") {
			return imf.MarkdownImage(name, uri)
		}
		return imf.MarkdownLink(name, uri)
	})

	s = anchorRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := anchorRe.FindStringSubmatch(m)
		href := sub[1]
		label := strings.TrimSpace(tagStripRe.ReplaceAllString(sub[2], ""))
		if label == "" {
			label = href
		}
		if strings.HasPrefix(href, "evernote:") {
			// Exports carry no stable note ids, so app links stay
			// dangling and degrade to their label downstream.
			return imf.MarkdownLink(label, imf.NoteURI(evernoteTarget(href)))
		}
		return imf.MarkdownLink(label, href)
	})

	s = enTodoRe.ReplaceAllStringFunc(s, func(m string) string {
		if strings.Contains(m, `checked="true"`) {
			return "[x] "
		}
		return "[ ] "
	})

	s = preRe.ReplaceAllStringFunc(s, func(m string) string {
		inner := tagStripRe.ReplaceAllString(preRe.FindStringSubmatch(m)[1], "")
		return "\n```\n" + strings.Trim(inner, "\n") + "\n```\n"
	})

	s = headingRe.ReplaceAllStringFunc(s, func(m string) string {
		n := int(headingRe.FindStringSubmatch(m)[1][0] - '0')
		return "\n" + strings.Repeat("#", n) + " "
	})
	s = headingEnd.ReplaceAllString(s, "\n")

	s = listItemRe.ReplaceAllString(s, "- ")
	s = strings.ReplaceAll(s, "</li>", "\n")
	s = lineBreakRe.ReplaceAllString(s, "\n")
	s = hrRe.ReplaceAllString(s, "\n---\n")
	s = strings.ReplaceAll(s, "</div>", "\n")
	s = strings.ReplaceAll(s, "</p>", "\n\n")
	s = strings.ReplaceAll(s, "</tr>", "\n")
	s = cellEndRe.ReplaceAllString(s, " | ")

	s = boldRe.ReplaceAllString(s, "**")
	s = italicRe.ReplaceAllString(s, "*")
	s = codeRe.ReplaceAllString(s, "`")

	s = tagStripRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = manyBlankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// evernoteTarget pulls the note GUID out of an evernote:///view link. The
// GUID never matches a generated note id, but it keeps failure reports
// traceable to the original note.
func evernoteTarget(href string) string {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(href, "evernote://"), "/"), "/")
	for i, p := range parts {
		if p == "view" && len(parts) > i+3 {
			return parts[i+3]
		}
	}
	return "evernote-internal"
}
