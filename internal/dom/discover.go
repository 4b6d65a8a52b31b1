package dom

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/John-Robertt/tscopy/internal/extract"
)

// DefaultItemSelectors 是条目发现的候选 selector（按顺序尝试，首个非空命中胜出）。
var DefaultItemSelectors = []string{
	`[role="listitem"]`,
	`[data-automation-id="transcript-item"]`,
	`.transcript-item`,
	`.caption-item`,
	`[class*="transcript-entry"]`,
	`[class*="segment"]`,
}

// DefaultContainerSelectors 是列表容器的候选 selector（diagnose 逐个报告命中情况）。
var DefaultContainerSelectors = []string{
	`[role="list"]`,
	`[data-automation-id="transcript-list"]`,
	`.transcript-list`,
	`.captions-list`,
	`[class*="transcript"]`,
	`[class*="caption"]`,
}

// DefaultScrollableSelectors 是滚动容器的候选 selector（见 page.Locate）。
var DefaultScrollableSelectors = []string{
	`[role="list"]`,
	`[class*="scroll"]`,
	`[class*="transcript"]`,
	`.ms-List`,
}

// Strategy 是一种条目发现方式。
//
// 约束：Find 必须是纯函数（只读 doc），返回值按文档顺序排列且不重复。
type Strategy interface {
	Name() string
	Find(doc *goquery.Document) []*goquery.Selection
}

// Selector 用一个 CSS selector 发现条目。
type Selector string

func (s Selector) Name() string { return string(s) }

func (s Selector) Find(doc *goquery.Document) []*goquery.Selection {
	if doc == nil {
		return nil
	}
	var out []*goquery.Selection
	doc.Find(string(s)).Each(func(_ int, el *goquery.Selection) {
		out = append(out, el)
	})
	return out
}

// Heuristic 以“整段就是 H:MM 的叶子”为锚点，向上最多 MaxDepth 层寻找
// 文本长度比时间文本至少多 MinMargin 个字符的祖先，作为一条发言。
type Heuristic struct {
	MaxDepth  int
	MinMargin int
}

func DefaultHeuristic() Heuristic { return Heuristic{MaxDepth: 5, MinMargin: 10} }

func (Heuristic) Name() string { return "heuristic" }

func (h Heuristic) Find(doc *goquery.Document) []*goquery.Selection {
	if doc == nil {
		return nil
	}
	seen := make(map[*html.Node]struct{})
	var out []*goquery.Selection

	doc.Find("*").Each(func(_ int, el *goquery.Selection) {
		if el.Children().Length() > 0 {
			return
		}
		text := strings.TrimSpace(el.Text())
		if !extract.IsClock(text) {
			return
		}
		n := utf8.RuneCountInString(text)

		p := el.Parent()
		for i := 0; i < h.MaxDepth && p.Length() > 0; i++ {
			if utf8.RuneCountInString(p.Text()) > n+h.MinMargin {
				node := p.Get(0)
				if _, ok := seen[node]; !ok {
					seen[node] = struct{}{}
					out = append(out, p)
				}
				return
			}
			p = p.Parent()
		}
	})
	return out
}

// Discoverer 按顺序尝试各策略，返回首个非空结果。
type Discoverer struct {
	Strategies []Strategy
}

// NewDiscoverer 用 selector 列表 + 启发式兜底构造 Discoverer。
func NewDiscoverer(itemSelectors []string) Discoverer {
	ss := make([]Strategy, 0, len(itemSelectors)+1)
	for _, s := range itemSelectors {
		if s = strings.TrimSpace(s); s != "" {
			ss = append(ss, Selector(s))
		}
	}
	ss = append(ss, DefaultHeuristic())
	return Discoverer{Strategies: ss}
}

// Discover 返回当前快照中可见的条目以及命中的策略名；全部落空时返回 (nil, "")。
func (d Discoverer) Discover(doc *goquery.Document) ([]*goquery.Selection, string) {
	for _, s := range d.Strategies {
		items := s.Find(doc)
		if len(items) > 0 {
			slog.Debug("items discovered", "strategy", s.Name(), "count", len(items))
			return items, s.Name()
		}
	}
	return nil, ""
}

// ValidateSelectors 校验 selector 语法（配置阶段调用，避免运行中静默落空）。
func ValidateSelectors(sels []string) error {
	for _, s := range sels {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("selector 不能为空")
		}
		if _, err := cascadia.Compile(s); err != nil {
			return fmt.Errorf("selector 无效 %q：%w", s, err)
		}
	}
	return nil
}
