package dom

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/John-Robertt/tscopy/internal/extract"
)

// Diagnosis 是页面结构诊断结果，用于在 selector 失效时人工定位新结构。
type Diagnosis struct {
	RoleListCount     int           `json:"role_list_count"`
	RoleListItemCount int           `json:"role_listitem_count"`
	Lists             []ElementInfo `json:"lists"`
	ListItems         []ElementInfo `json:"listitems"`

	TimeElementCount int           `json:"time_element_count"`
	TimeElements     []TimeElement `json:"time_elements"`

	TextElementCount int           `json:"text_element_count"`
	TextElements     []ElementInfo `json:"text_elements"`

	DataAttributes []string `json:"data_attributes"`

	// Containers 按配置顺序列出每个容器 selector 的命中情况。
	Containers []SelectorHit `json:"containers"`
	// ClassPatterns 只包含至少命中一个元素的类名片段。
	ClassPatterns  map[string]PatternHit `json:"class_patterns"`
	ItemStructures []ItemStructure       `json:"item_structures"`

	// ItemStrategy 是当前快照下条目发现会命中的策略（空表示全部落空）。
	ItemStrategy string `json:"item_strategy"`
	ItemCount    int    `json:"item_count"`
}

type ElementInfo struct {
	Tag         string `json:"tag"`
	Class       string `json:"class,omitempty"`
	ID          string `json:"id,omitempty"`
	ChildCount  int    `json:"child_count,omitempty"`
	Text        string `json:"text,omitempty"`
	ParentClass string `json:"parent_class,omitempty"`
}

type TimeElement struct {
	Tag              string `json:"tag"`
	Class            string `json:"class,omitempty"`
	Text             string `json:"text"`
	ParentClass      string `json:"parent_class,omitempty"`
	GrandparentClass string `json:"grandparent_class,omitempty"`
}

type SelectorHit struct {
	Selector string   `json:"selector"`
	Count    int      `json:"count"`
	Samples  []string `json:"samples"`
}

type PatternHit struct {
	Count   int      `json:"count"`
	Samples []string `json:"samples"`
}

// ItemStructure 描述一个 listitem 的内部结构。
type ItemStructure struct {
	Index          int        `json:"index"`
	DirectChildren int        `json:"direct_children"`
	AllDescendants int        `json:"all_descendants"`
	Structure      []NodeInfo `json:"structure"`
}

type NodeInfo struct {
	Tag   string `json:"tag"`
	Class string `json:"class,omitempty"`
	Text  string `json:"text,omitempty"`
	Role  string `json:"role,omitempty"`
}

// ClassPatterns 是类名调查使用的片段（按 [class*="..."] 匹配）。
var ClassPatterns = []string{
	"transcript", "caption", "speaker", "message", "utterance", "segment", "line", "entry", "item",
}

const (
	sampleListItems = 5
	sampleTime      = 10
	sampleText      = 10
	sampleClasses   = 3
	sampleStructure = 3
	structureNodes  = 20
	structureField  = 50
)

// Diagnose 扫描快照并汇总与转录列表相关的结构线索。
//
// containers 是容器候选 selector（通常来自配置）；非法 selector 记为 0 命中。
func Diagnose(doc *goquery.Document, d Discoverer, containers []string) Diagnosis {
	out := Diagnosis{
		Lists:          []ElementInfo{},
		ListItems:      []ElementInfo{},
		TimeElements:   []TimeElement{},
		TextElements:   []ElementInfo{},
		DataAttributes: []string{},
		Containers:     []SelectorHit{},
		ClassPatterns:  map[string]PatternHit{},
		ItemStructures: []ItemStructure{},
	}
	if doc == nil {
		return out
	}

	lists := doc.Find(`[role="list"]`)
	items := doc.Find(`[role="listitem"]`)
	out.RoleListCount = lists.Length()
	out.RoleListItemCount = items.Length()
	lists.Each(func(_ int, s *goquery.Selection) {
		out.Lists = append(out.Lists, info(s))
	})
	items.EachWithBreak(func(i int, s *goquery.Selection) bool {
		ei := info(s)
		ei.Text = truncateRunes(normSpace(s.Text()), 100)
		out.ListItems = append(out.ListItems, ei)
		return i+1 < sampleListItems
	})

	attrs := make(map[string]struct{})
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			for _, a := range n.Attr {
				if strings.HasPrefix(a.Key, "data-") {
					attrs[a.Key] = struct{}{}
				}
			}
		}

		if s.Children().Length() > 0 {
			return
		}
		raw := s.Text()
		text := strings.TrimSpace(raw)
		if text == "" {
			return
		}
		n := utf8.RuneCountInString(text)

		if extract.HasLooseTime(raw) && n < 20 {
			out.TimeElementCount++
			if len(out.TimeElements) < sampleTime {
				p := s.Parent()
				out.TimeElements = append(out.TimeElements, TimeElement{
					Tag:              goquery.NodeName(s),
					Class:            attr(s, "class"),
					Text:             text,
					ParentClass:      attr(p, "class"),
					GrandparentClass: attr(p.Parent(), "class"),
				})
			}
		}

		if n > 20 && n < 1000 && !strings.ContainsAny(text, "<{") {
			out.TextElementCount++
			if len(out.TextElements) < sampleText {
				t := truncateRunes(text, 80)
				if n > 80 {
					t += "..."
				}
				out.TextElements = append(out.TextElements, ElementInfo{
					Tag:         goquery.NodeName(s),
					Class:       attr(s, "class"),
					Text:        t,
					ParentClass: attr(s.Parent(), "class"),
				})
			}
		}
	})

	for k := range attrs {
		out.DataAttributes = append(out.DataAttributes, k)
	}
	sort.Strings(out.DataAttributes)

	for _, sel := range containers {
		hit := SelectorHit{Selector: sel, Samples: []string{}}
		if m, err := cascadia.Compile(sel); err == nil {
			matched := doc.FindMatcher(m)
			hit.Count = matched.Length()
			hit.Samples = classSamples(matched)
		}
		out.Containers = append(out.Containers, hit)
	}

	for _, pat := range ClassPatterns {
		matched := doc.Find(`[class*="` + pat + `"]`)
		if matched.Length() == 0 {
			continue
		}
		out.ClassPatterns[pat] = PatternHit{Count: matched.Length(), Samples: classSamples(matched)}
	}

	items.EachWithBreak(func(i int, s *goquery.Selection) bool {
		desc := s.Find("*")
		st := ItemStructure{
			Index:          i,
			DirectChildren: s.Children().Length(),
			AllDescendants: desc.Length(),
			Structure:      []NodeInfo{},
		}
		desc.EachWithBreak(func(j int, c *goquery.Selection) bool {
			cls, _ := c.Attr("class")
			role, _ := c.Attr("role")
			st.Structure = append(st.Structure, NodeInfo{
				Tag:   goquery.NodeName(c),
				Class: truncateRunes(cls, structureField),
				Text:  truncateRunes(strings.TrimSpace(c.Text()), structureField),
				Role:  role,
			})
			return j+1 < structureNodes
		})
		out.ItemStructures = append(out.ItemStructures, st)
		return i+1 < sampleStructure
	})

	found, strategy := d.Discover(doc)
	out.ItemStrategy = strategy
	out.ItemCount = len(found)
	return out
}

func info(s *goquery.Selection) ElementInfo {
	return ElementInfo{
		Tag:        goquery.NodeName(s),
		Class:      attr(s, "class"),
		ID:         attr(s, "id"),
		ChildCount: s.Children().Length(),
	}
}

func classSamples(s *goquery.Selection) []string {
	out := []string{}
	s.EachWithBreak(func(i int, el *goquery.Selection) bool {
		cls, _ := el.Attr("class")
		out = append(out, cls)
		return i+1 < sampleClasses
	})
	return out
}

func attr(s *goquery.Selection, name string) string {
	if s == nil || s.Length() == 0 {
		return ""
	}
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}
