// Package enex parses an Evernote ENEX export file into the entity
// forest. Notes are decoded one at a time off the XML stream; every note
// lands in a single notebook titled after the export file. Resource
// payloads are inline base64 whose id is the MD5 hash en-media references.
package enex

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/notemill/notemill/internal/checksum"
	"github.com/notemill/notemill/internal/imf"
	"github.com/notemill/notemill/internal/source"
)

func init() {
	source.Register("enex", func(path string, logger *slog.Logger) source.Parser {
		return &Parser{path: path, logger: logger}
	})
}

// Parser reads one .enex file.
type Parser struct {
	path   string
	logger *slog.Logger
}

type xmlNote struct {
	Title     string        `xml:"title"`
	Content   string        `xml:"content"`
	Created   string        `xml:"created"`
	Updated   string        `xml:"updated"`
	Tags      []string      `xml:"tag"`
	Resources []xmlResource `xml:"resource"`
}

type xmlResource struct {
	Data xmlData `xml:"data"`
	Mime string  `xml:"mime"`
	Attr struct {
		FileName string `xml:"file-name"`
	} `xml:"resource-attributes"`
}

type xmlData struct {
	Encoding string `xml:"encoding,attr"`
	Value    string `xml:",chardata"`
}

// Parse streams the export. ENEX notes carry no stable identifier, so note
// ids are derived from the export path and document position; that keeps
// two runs over the same file byte-identical.
func (p *Parser) Parse(ctx context.Context) (*imf.Forest, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("enex: open export: %w", err)
	}
	defer f.Close()

	abs := p.path
	if a, err := filepath.Abs(p.path); err == nil {
		abs = a
	}
	scope := checksum.Sum([]byte(filepath.Clean(abs)))[:8]
	title := strings.TrimSuffix(filepath.Base(p.path), filepath.Ext(p.path))
	book := &imf.Notebook{ID: "enex-" + scope, Title: title}

	dec := xml.NewDecoder(f)
	dec.Strict = false
	seq := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("enex: decode %s: %w", filepath.Base(p.path), err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "note" {
			continue
		}
		var xn xmlNote
		if err := dec.DecodeElement(&xn, &se); err != nil {
			return nil, fmt.Errorf("enex: note %d: %w", seq+1, err)
		}
		seq++
		book.Notes = append(book.Notes, p.buildNote(&xn, fmt.Sprintf("%s-n%04d", scope, seq)))
	}

	out := imf.NewForest()
	out.Roots = []*imf.Notebook{book}
	return out, nil
}

func (p *Parser) buildNote(x *xmlNote, id string) *imf.Note {
	byHash := make(map[string]*imf.Resource, len(x.Resources))
	var resources []*imf.Resource
	for i := range x.Resources {
		res, err := decodeResource(&x.Resources[i])
		if err != nil {
			p.logger.Warn("enex: resource decode failed",
				slog.String("note", x.Title), slog.String("error", err.Error()))
			continue
		}
		if _, dup := byHash[res.ID]; dup {
			continue
		}
		byHash[res.ID] = res
		resources = append(resources, res)
	}

	body := enmlToMarkdown(x.Content, func(hash string) (*imf.Resource, bool) {
		res, ok := byHash[hash]
		return res, ok
	})

	return &imf.Note{
		ID:        id,
		Title:     x.Title,
		Body:      body,
		Created:   parseEDAM(x.Created),
		Updated:   parseEDAM(x.Updated),
		Tags:      append([]string(nil), x.Tags...),
		Resources: resources,
		Links:     imf.ExtractLinks(body),
	}
}

func decodeResource(x *xmlResource) (*imf.Resource, error) {
	if enc := strings.ToLower(strings.TrimSpace(x.Data.Encoding)); enc != "" && enc != "base64" {
		return nil, fmt.Errorf("unsupported data encoding %q", enc)
	}
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, x.Data.Value)
	data, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	sum := md5.Sum(data)
	return imf.NewResource(hex.EncodeToString(sum[:]), x.Attr.FileName, x.Mime, data), nil
}

// parseEDAM reads Evernote's compact UTC timestamps (20060102T150405Z).
func parseEDAM(s string) time.Time {
	t, err := time.Parse("20060102T150405Z", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
