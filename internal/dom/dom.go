package dom

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/tscopy/internal/extract"
)

// Leaves 按文档顺序返回 s 下所有“叶子元素”（没有子元素）的 trim 文本。
// 空文本与 script/style 叶子会被忽略。
func Leaves(s *goquery.Selection) []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, 8)
	s.Find("*").Each(func(_ int, c *goquery.Selection) {
		if c.Children().Length() > 0 {
			return
		}
		switch goquery.NodeName(c) {
		case "script", "style", "noscript", "template":
			return
		}
		if txt := strings.TrimSpace(c.Text()); txt != "" {
			out = append(out, txt)
		}
	})
	return out
}

// ToItem 把一个条目元素展平为分类器的输入。
func ToItem(s *goquery.Selection) extract.Item {
	if s == nil {
		return extract.Item{}
	}
	return extract.Item{Leaves: Leaves(s), Raw: s.Text()}
}

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max])
}
