package enex

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/notemill/notemill/internal/checksum"
	"github.com/notemill/notemill/internal/imf"
)

var payload = []byte("PNGDATA")

func payloadMD5() string {
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])
}

func exportFixture(t *testing.T) string {
	t.Helper()
	b64 := base64.StdEncoding.EncodeToString(payload)
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE en-export SYSTEM "http://xml.evernote.com/pub/evernote-export3.dtd">
<en-export export-date="20230405T120000Z" application="Evernote" version="10.0">
  <note>
    <title>First note</title>
    <content><![CDATA[<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE en-note SYSTEM "http://xml.evernote.com/pub/enml2.dtd">
<en-note><div>Hello <b>world</b></div><div><en-media hash="` + payloadMD5() + `" type="image/png"/></div></en-note>]]></content>
    <created>20230401T100000Z</created>
    <updated>20230402T113000Z</updated>
    <tag>work</tag>
    <tag>journal</tag>
    <resource>
      <data encoding="base64">` + b64 + `</data>
      <mime>image/png</mime>
      <resource-attributes><file-name>photo.png</file-name></resource-attributes>
    </resource>
  </note>
  <note>
    <title>Second</title>
    <content><![CDATA[<en-note><div>See <a href="evernote:///view/123/s1/guid-aaa/guid-aaa/">first</a></div></en-note>]]></content>
  </note>
</en-export>
`
	path := filepath.Join(t.TempDir(), "export.enex")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func parseExport(t *testing.T, path string) *imf.Forest {
	t.Helper()
	p := &Parser{path: path, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	f, err := p.Parse(context.Background())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

func TestSingleNotebookFromFile(t *testing.T) {
	f := parseExport(t, exportFixture(t))
	if len(f.Roots) != 1 {
		t.Fatalf("roots = %d, want 1", len(f.Roots))
	}
	book := f.Roots[0]
	if book.Title != "export" {
		t.Errorf("notebook title = %q, want %q", book.Title, "export")
	}
	if len(book.Notes) != 2 {
		t.Fatalf("notes = %d, want 2", len(book.Notes))
	}
	if book.Notes[0].Title != "First note" || book.Notes[1].Title != "Second" {
		t.Errorf("note order: %q, %q", book.Notes[0].Title, book.Notes[1].Title)
	}
	if book.Notes[0].ID == book.Notes[1].ID {
		t.Error("note ids must be distinct")
	}
}

func TestNoteFields(t *testing.T) {
	f := parseExport(t, exportFixture(t))
	n := f.Roots[0].Notes[0]

	wantCreated := time.Date(2023, 4, 1, 10, 0, 0, 0, time.UTC)
	if !n.Created.Equal(wantCreated) {
		t.Errorf("created = %v, want %v", n.Created, wantCreated)
	}
	wantUpdated := time.Date(2023, 4, 2, 11, 30, 0, 0, time.UTC)
	if !n.Updated.Equal(wantUpdated) {
		t.Errorf("updated = %v, want %v", n.Updated, wantUpdated)
	}
	if len(n.Tags) != 2 || n.Tags[0] != "work" || n.Tags[1] != "journal" {
		t.Errorf("tags = %v", n.Tags)
	}
	if !strings.Contains(n.Body, "Hello **world**") {
		t.Errorf("body = %q", n.Body)
	}
}

func TestResourceDecoded(t *testing.T) {
	f := parseExport(t, exportFixture(t))
	n := f.Roots[0].Notes[0]

	if len(n.Resources) != 1 {
		t.Fatalf("resources = %d, want 1", len(n.Resources))
	}
	r := n.Resources[0]
	if r.ID != payloadMD5() {
		t.Errorf("id = %s, want md5 %s", r.ID, payloadMD5())
	}
	if r.Filename != "photo.png" || r.MIME != "image/png" {
		t.Errorf("resource = %+v", r)
	}
	if string(r.Data) != string(payload) {
		t.Errorf("payload = %q", r.Data)
	}
	if r.Checksum != checksum.Sum(payload) {
		t.Errorf("checksum = %s", r.Checksum)
	}
	if !strings.Contains(n.Body, "![photo.png](resource://"+payloadMD5()+")") {
		t.Errorf("body lacks canonical media link: %q", n.Body)
	}
	if len(n.Links) != 1 || n.Links[0].Kind != imf.LinkResource || n.Links[0].TargetID != payloadMD5() {
		t.Errorf("links = %+v", n.Links)
	}
}

func TestInternalLinkDangles(t *testing.T) {
	f := parseExport(t, exportFixture(t))
	n := f.Roots[0].Notes[1]
	if !strings.Contains(n.Body, "[first](note://guid-aaa)") {
		t.Errorf("body = %q", n.Body)
	}
	want := imf.NoteLink{TargetID: "guid-aaa", Display: "first", Kind: imf.LinkNote}
	if len(n.Links) != 1 || n.Links[0] != want {
		t.Errorf("links = %+v, want [%+v]", n.Links, want)
	}
}

func TestParseDeterministic(t *testing.T) {
	path := exportFixture(t)
	a := parseExport(t, path)
	b := parseExport(t, path)
	if !reflect.DeepEqual(a, b) {
		t.Error("two parses of the same export differ")
	}
}

func TestMalformedXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.enex")
	if err := os.WriteFile(path, []byte("<en-export><note><title>x</title>"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := &Parser{path: path, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if _, err := p.Parse(context.Background()); err == nil {
		t.Error("expected decode error")
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Parser{path: exportFixture(t), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if _, err := p.Parse(ctx); err == nil {
		t.Error("expected context error")
	}
}
