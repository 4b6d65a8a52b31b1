package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page 把“页面从哪里来”（离线回放 / 在线浏览器）限制在实现内部；
// 收集循环只依赖这组最小原语。
//
// 约束：
// - ScrollBoxes 只返回 overflow-y 为 auto/scroll 的元素（按文档顺序）
// - Snapshot 返回当前已渲染的 DOM（虚拟列表只包含可见附近的条目）
type Page interface {
	ScrollBoxes(ctx context.Context, selector string) ([]ScrollBox, error)
	Container(ref string) Container
	Snapshot(ctx context.Context) (*goquery.Document, error)
}

// Container 是一个可滚动元素。
type Container interface {
	Metrics(ctx context.Context) (Metrics, error)
	SetScrollTop(ctx context.Context, top float64) error
}

// ScrollBox 是一个候选滚动元素的描述。
type ScrollBox struct {
	Ref          string  `json:"ref"`
	Selector     string  `json:"selector"`
	Tag          string  `json:"tag"`
	Class        string  `json:"class,omitempty"`
	Role         string  `json:"role,omitempty"`
	OverflowY    string  `json:"overflow_y"`
	ScrollHeight float64 `json:"scroll_height"`
	ClientHeight float64 `json:"client_height"`
}

// Metrics 是滚动容器的当前度量。
type Metrics struct {
	ScrollTop    float64 `json:"scroll_top"`
	ScrollHeight float64 `json:"scroll_height"`
	ClientHeight float64 `json:"client_height"`
}

// Progress 返回 0~100 的滚动进度；不可滚动时视为 100。
func (m Metrics) Progress() int {
	span := m.ScrollHeight - m.ClientHeight
	if span <= 0 {
		return 100
	}
	p := m.ScrollTop / span * 100
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return int(p + 0.5)
}

// minScrollSlack：按 selector 命中的容器必须“明显可滚动”。
const minScrollSlack = 100

// DiscoveryError 表示找不到滚动容器。这是唯一在启动边界上致命的错误。
type DiscoveryError struct {
	Tried []string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("未找到转录列表的滚动容器（已尝试 %d 个 selector 与全局兜底）；请在转录显示页面运行", len(e.Tried))
}

// IsDiscovery 判断 err 是否为 *DiscoveryError。
func IsDiscovery(err error) bool {
	var e *DiscoveryError
	return errors.As(err, &e)
}

// Error 是页面通信阶段的可追溯错误（bridge 断开、超时、回放解析失败等）。
type Error struct {
	Op  string // "scroll_boxes" / "metrics" / "scroll" / "snapshot"
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("page op=%s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Locate 寻找滚动容器，返回容器及其描述。
//
// 规则（固定）：
// 1) 按 selectors 顺序：首个 scrollHeight > clientHeight + 100 的元素胜出
// 2) 兜底：全页 scrollHeight > clientHeight 的元素中 scrollHeight 最大者
// 3) 都没有：*DiscoveryError
func Locate(ctx context.Context, p Page, selectors []string) (Container, ScrollBox, error) {
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		boxes, err := p.ScrollBoxes(ctx, sel)
		if err != nil {
			return nil, ScrollBox{}, err
		}
		for _, b := range boxes {
			if !scrollable(b.OverflowY) {
				continue
			}
			if b.ScrollHeight > b.ClientHeight+minScrollSlack {
				slog.Debug("scroll container located", "selector", sel, "ref", b.Ref)
				return p.Container(b.Ref), b, nil
			}
		}
	}

	boxes, err := p.ScrollBoxes(ctx, "*")
	if err != nil {
		return nil, ScrollBox{}, err
	}
	var best *ScrollBox
	for i := range boxes {
		b := &boxes[i]
		if !scrollable(b.OverflowY) || b.ScrollHeight <= b.ClientHeight {
			continue
		}
		if best == nil || b.ScrollHeight > best.ScrollHeight {
			best = b
		}
	}
	if best != nil {
		slog.Debug("scroll container located (fallback)", "ref", best.Ref)
		return p.Container(best.Ref), *best, nil
	}
	return nil, ScrollBox{}, &DiscoveryError{Tried: append([]string(nil), selectors...)}
}

func scrollable(overflowY string) bool {
	switch strings.ToLower(strings.TrimSpace(overflowY)) {
	case "auto", "scroll":
		return true
	default:
		return false
	}
}
