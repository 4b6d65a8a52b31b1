package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/John-Robertt/tscopy/internal/page"
)

// Options 控制回放时的虚拟化参数。
type Options struct {
	RowHeight    float64 // 每个子元素的假定高度（px）
	ViewportRows int     // 可视区域能容纳的行数
	Overscan     int     // 可视区域上下额外渲染的行数
}

func DefaultOptions() Options {
	return Options{RowHeight: 48, ViewportRows: 12, Overscan: 2}
}

var _ page.Page = (*Page)(nil)

// Page 把一份保存下来的完整页面 HTML 当作“虚拟列表”回放。
//
// 滚动容器是带 overflow(-y): auto|scroll 内联样式或 data-is-scrollable="true" 的元素；
// 它的子元素视为列表行。Snapshot 只保留当前滚动窗口附近的行，其余行被卸载，
// 与在线页面的虚拟滚动行为一致。
//
// 约束：每次 Snapshot 都从原始字节重新解析，互不影响；并发安全。
type Page struct {
	raw  []byte
	opts Options
	base *goquery.Document

	mu     sync.Mutex
	tops   map[string]float64
	active string
}

// StatusError 表示抓取页面时收到了非 2xx 状态码。
// 转录页通常需要登录，401/403 多半意味着应改用 serve 模式。
type StatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *StatusError) Error() string {
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// Load 校验并包装页面 HTML。
func Load(raw []byte, opts Options) (*Page, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("html 为空")
	}
	if opts.RowHeight <= 0 {
		opts.RowHeight = DefaultOptions().RowHeight
	}
	if opts.ViewportRows <= 0 {
		opts.ViewportRows = DefaultOptions().ViewportRows
	}
	if opts.Overscan < 0 {
		opts.Overscan = 0
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return &Page{
		raw:  append([]byte(nil), raw...),
		opts: opts,
		base: doc,
		tops: make(map[string]float64),
	}, nil
}

// Open 从本地文件加载页面。
func Open(path string, opts Options) (*Page, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(b, opts)
}

// Fetch 通过 HTTP 抓取页面后加载（c 由上层统一构造：UA/代理/重试）。
func Fetch(ctx context.Context, c *http.Client, u string, opts Options) (*Page, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}
	return Load(b, opts)
}

func (p *Page) ScrollBoxes(ctx context.Context, selector string) ([]page.ScrollBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, &page.Error{Op: "scroll_boxes", Err: err}
	}
	index := nodeIndex(p.base)

	var out []page.ScrollBox
	p.base.Find(selector).Each(func(_ int, s *goquery.Selection) {
		ov := overflowY(s)
		if ov == "" {
			return
		}
		sh, ch := p.heights(s)
		cls, _ := s.Attr("class")
		role, _ := s.Attr("role")
		out = append(out, page.ScrollBox{
			Ref:          strconv.Itoa(index[s.Get(0)]),
			Selector:     selector,
			Tag:          goquery.NodeName(s),
			Class:        strings.TrimSpace(cls),
			Role:         strings.TrimSpace(role),
			OverflowY:    ov,
			ScrollHeight: sh,
			ClientHeight: ch,
		})
	})
	return out, nil
}

func (p *Page) Container(ref string) page.Container {
	return &container{p: p, ref: ref}
}

func (p *Page) Snapshot(ctx context.Context) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, &page.Error{Op: "snapshot", Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.raw))
	if err != nil {
		return nil, &page.Error{Op: "snapshot", Err: err}
	}

	p.mu.Lock()
	ref := p.active
	top := p.tops[ref]
	p.mu.Unlock()
	if ref == "" {
		return doc, nil
	}

	el, ok := findByRef(doc, ref)
	if !ok {
		return doc, nil
	}
	first, last := p.window(top)
	el.Children().Each(func(i int, row *goquery.Selection) {
		if i < first || i > last {
			row.Remove()
		}
	})
	return doc, nil
}

// window 返回 [first, last] 行号区间（含 overscan）。
func (p *Page) window(top float64) (int, int) {
	h := p.opts.RowHeight
	first := int(math.Floor(top/h)) - p.opts.Overscan
	last := int(math.Ceil((top+h*float64(p.opts.ViewportRows))/h)) - 1 + p.opts.Overscan
	if first < 0 {
		first = 0
	}
	return first, last
}

func (p *Page) heights(s *goquery.Selection) (scrollHeight, clientHeight float64) {
	rows := s.Children().Length()
	scrollHeight = float64(rows) * p.opts.RowHeight
	clientHeight = float64(p.opts.ViewportRows) * p.opts.RowHeight
	if clientHeight > scrollHeight {
		clientHeight = scrollHeight
	}
	return scrollHeight, clientHeight
}

type container struct {
	p   *Page
	ref string
}

func (c *container) Metrics(ctx context.Context) (page.Metrics, error) {
	if err := ctx.Err(); err != nil {
		return page.Metrics{}, &page.Error{Op: "metrics", Err: err}
	}
	el, ok := findByRef(c.p.base, c.ref)
	if !ok {
		return page.Metrics{}, &page.Error{Op: "metrics", Err: fmt.Errorf("容器不存在：ref=%s", c.ref)}
	}
	sh, ch := c.p.heights(el)

	c.p.mu.Lock()
	top := c.p.tops[c.ref]
	c.p.mu.Unlock()
	return page.Metrics{ScrollTop: top, ScrollHeight: sh, ClientHeight: ch}, nil
}

// SetScrollTop 与浏览器一致：超出范围的值被截断到 [0, scrollHeight-clientHeight]。
func (c *container) SetScrollTop(ctx context.Context, top float64) error {
	if err := ctx.Err(); err != nil {
		return &page.Error{Op: "scroll", Err: err}
	}
	el, ok := findByRef(c.p.base, c.ref)
	if !ok {
		return &page.Error{Op: "scroll", Err: fmt.Errorf("容器不存在：ref=%s", c.ref)}
	}
	sh, ch := c.p.heights(el)
	max := sh - ch
	if top > max {
		top = max
	}
	if top < 0 {
		top = 0
	}

	c.p.mu.Lock()
	c.p.tops[c.ref] = top
	c.p.active = c.ref
	c.p.mu.Unlock()
	return nil
}

var (
	overflowYRE = regexp.MustCompile(`(?i)overflow-y\s*:\s*([a-z-]+)`)
	overflowRE  = regexp.MustCompile(`(?i)(?:^|;)\s*overflow\s*:\s*([a-z-]+)`)
)

// overflowY 从内联样式推断 overflow-y；Fluent UI 的 data-is-scrollable 视为 auto。
// 不可滚动时返回空串。
func overflowY(s *goquery.Selection) string {
	style, _ := s.Attr("style")
	v := ""
	if m := overflowYRE.FindStringSubmatch(style); m != nil {
		v = strings.ToLower(m[1])
	} else if m := overflowRE.FindStringSubmatch(style); m != nil {
		v = strings.ToLower(m[1])
	}
	if v == "auto" || v == "scroll" {
		return v
	}
	if ds, _ := s.Attr("data-is-scrollable"); strings.EqualFold(strings.TrimSpace(ds), "true") {
		return "auto"
	}
	return ""
}

// nodeIndex 以“全文档元素的先序位置”作为稳定 ref（同一份字节重新解析后不变）。
func nodeIndex(doc *goquery.Document) map[*html.Node]int {
	m := make(map[*html.Node]int, 256)
	doc.Find("*").Each(func(i int, s *goquery.Selection) {
		m[s.Get(0)] = i
	})
	return m
}

func findByRef(doc *goquery.Document, ref string) (*goquery.Selection, bool) {
	i, err := strconv.Atoi(ref)
	if err != nil || i < 0 {
		return nil, false
	}
	el := doc.Find("*").Eq(i)
	if el.Length() == 0 {
		return nil, false
	}
	return el, true
}
