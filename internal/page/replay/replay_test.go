package replay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/tscopy/internal/page"
)

func transcriptHTML(rows int) []byte {
	var b strings.Builder
	b.WriteString(`<html><body><div class="header">会議</div>`)
	b.WriteString(`<div role="list" style="height:50px; overflow-y: auto">`)
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, `<div role="listitem"><span>Speaker %d</span><span>0:%02d</span><p>line number %d of the meeting</p></div>`, i, i%60, i)
	}
	b.WriteString(`</div></body></html>`)
	return []byte(b.String())
}

func testOptions() Options { return Options{RowHeight: 10, ViewportRows: 5, Overscan: 1} }

func TestLocate_InlineOverflow(t *testing.T) {
	p, err := Load(transcriptHTML(30), testOptions())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c, box, err := page.Locate(context.Background(), p, []string{`[data-tid="transcript-list"]`, `[role="list"]`})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if box.Selector != `[role="list"]` || box.OverflowY != "auto" {
		t.Fatalf("命中不正确：%+v", box)
	}
	m, err := c.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if m.ScrollHeight != 300 || m.ClientHeight != 50 || m.ScrollTop != 0 {
		t.Fatalf("度量不正确：%+v", m)
	}
}

func TestLocate_DataIsScrollable(t *testing.T) {
	raw := []byte(`<html><body><div data-is-scrollable="true">` + strings.Repeat(`<div>row</div>`, 40) + `</div></body></html>`)
	p, err := Load(raw, testOptions())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, box, err := page.Locate(context.Background(), p, []string{`[data-is-scrollable="true"]`})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if box.Tag != "div" {
		t.Fatalf("期望 div，实际 %q", box.Tag)
	}
}

func TestLocate_NoScrollable(t *testing.T) {
	p, err := Load([]byte(`<html><body><div role="list"><div>a</div></div></body></html>`), testOptions())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, _, err := page.Locate(context.Background(), p, []string{`[role="list"]`}); !page.IsDiscovery(err) {
		t.Fatalf("期望 DiscoveryError，实际 %v", err)
	}
}

func TestSnapshot_RendersOnlyWindow(t *testing.T) {
	p, err := Load(transcriptHTML(30), testOptions())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx := context.Background()

	// 未滚动过：整页
	doc, err := p.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if n := doc.Find(`[role="listitem"]`).Length(); n != 30 {
		t.Fatalf("期望 30 行，实际 %d", n)
	}

	c, _, err := page.Locate(ctx, p, []string{`[role="list"]`})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if err := c.SetScrollTop(ctx, 0); err != nil {
		t.Fatalf("SetScrollTop: %v", err)
	}
	doc, _ = p.Snapshot(ctx)
	items := doc.Find(`[role="listitem"]`)
	if items.Length() != 6 {
		t.Fatalf("top=0 期望 6 行（0..5），实际 %d", items.Length())
	}
	if !strings.Contains(items.First().Text(), "Speaker 0") {
		t.Fatalf("首行不正确：%q", items.First().Text())
	}

	if err := c.SetScrollTop(ctx, 100); err != nil {
		t.Fatalf("SetScrollTop: %v", err)
	}
	doc, _ = p.Snapshot(ctx)
	items = doc.Find(`[role="listitem"]`)
	if items.Length() != 7 {
		t.Fatalf("top=100 期望 7 行（9..15），实际 %d", items.Length())
	}
	if !strings.Contains(items.First().Text(), "Speaker 9") || !strings.Contains(items.Last().Text(), "Speaker 15") {
		t.Fatalf("窗口不正确：%q .. %q", items.First().Text(), items.Last().Text())
	}
	if doc.Find(".header").Length() != 1 {
		t.Fatalf("容器外内容不应被移除")
	}
}

func TestSetScrollTop_Clamps(t *testing.T) {
	p, _ := Load(transcriptHTML(30), testOptions())
	ctx := context.Background()
	c, _, err := page.Locate(ctx, p, []string{`[role="list"]`})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}

	_ = c.SetScrollTop(ctx, 1000)
	m, _ := c.Metrics(ctx)
	if m.ScrollTop != 250 {
		t.Fatalf("期望截断到 250，实际 %v", m.ScrollTop)
	}
	if m.Progress() != 100 {
		t.Fatalf("期望进度 100，实际 %d", m.Progress())
	}

	_ = c.SetScrollTop(ctx, -5)
	m, _ = c.Metrics(ctx)
	if m.ScrollTop != 0 {
		t.Fatalf("期望截断到 0，实际 %v", m.ScrollTop)
	}
}

func TestContainer_UnknownRef(t *testing.T) {
	p, _ := Load(transcriptHTML(3), testOptions())
	if _, err := p.Container("9999").Metrics(context.Background()); err == nil {
		t.Fatalf("期望错误，实际 nil")
	}
	if err := p.Container("abc").SetScrollTop(context.Background(), 1); err == nil {
		t.Fatalf("期望错误，实际 nil")
	}
}

func TestLoad_Empty(t *testing.T) {
	if _, err := Load([]byte("  \n"), DefaultOptions()); err == nil {
		t.Fatalf("期望错误，实际 nil")
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, transcriptHTML(5), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := Open(path, DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	doc, _ := p.Snapshot(context.Background())
	if n := doc.Find(`[role="listitem"]`).Length(); n != 5 {
		t.Fatalf("期望 5 行，实际 %d", n)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(transcriptHTML(4))
	}))
	defer srv.Close()

	p, err := Fetch(context.Background(), srv.Client(), srv.URL+"/page", DefaultOptions())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	doc, _ := p.Snapshot(context.Background())
	if n := doc.Find(`[role="listitem"]`).Length(); n != 4 {
		t.Fatalf("期望 4 行，实际 %d", n)
	}

	_, err = Fetch(context.Background(), srv.Client(), srv.URL+"/missing", DefaultOptions())
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("404 期望 StatusError，实际 %v", err)
	}
}
