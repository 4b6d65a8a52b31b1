package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// speakerMaxLen：说话人候选必须短于该长度（按字符计）。
	speakerMaxLen = 50
	// contentMinLen：达到该长度的叶子都视为正文候选（不管是否像时间）。
	contentMinLen = 10
)

var (
	// 严格时间：整段文本就是 H:MM / HH:MM。
	clockRE = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
	// 冗长时长：例如 "3 分 20 秒" / "12分間5秒間"。
	durationRE = regexp.MustCompile(`^\d+\s*分(?:間)?\s*\d+\s*秒(?:間)?$`)
	// 宽松时间：文本中任意位置出现 H:MM。
	looseClockRE = regexp.MustCompile(`\d{1,2}:\d{2}`)
)

// Item 是一个条目元素被展平后的输入。
//
// Leaves 是按文档顺序排列、已 trim 的叶子文本；Raw 是条目的完整拼接文本（textContent）。
type Item struct {
	Leaves []string
	Raw    string
}

// Fields 是分类结果；任何字段缺失都是空串。
type Fields struct {
	Speaker string
	Time    string
	Content string
}

// Candidates 是一个条目的叶子分桶结果。每个叶子至多属于一个桶。
type Candidates struct {
	Times    []string
	Speakers []string
	Contents []string
}

// IsStrictTime 判断文本是否“整体就是”一个时间标记。
func IsStrictTime(s string) bool {
	s = strings.TrimSpace(s)
	return clockRE.MatchString(s) || durationRE.MatchString(s)
}

// IsClock 判断文本是否整体是 H:MM（启发式条目发现使用该规则）。
func IsClock(s string) bool {
	return clockRE.MatchString(strings.TrimSpace(s))
}

// HasLooseTime 判断文本中是否包含 H:MM 片段。
func HasLooseTime(s string) bool {
	return looseClockRE.MatchString(s)
}

// Bucket 把叶子分到 times / contents / speakers。
//
// 优先级：严格时间 > 正文（长度 >= 10）> 说话人。
// 10~49 字符的叶子因此只会进入正文桶；这与“说话人不能是任何正文候选的子串”的选择规则等价。
func Bucket(leaves []string) Candidates {
	var c Candidates
	for _, raw := range leaves {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		n := utf8.RuneCountInString(s)
		switch {
		case IsStrictTime(s):
			c.Times = append(c.Times, s)
		case n >= contentMinLen:
			c.Contents = append(c.Contents, s)
		case n < speakerMaxLen && !HasLooseTime(s) && hasWordRune(s):
			c.Speakers = append(c.Speakers, s)
		}
	}
	return c
}

// Classify 从一个条目中解析 (speaker, time, content)。
//
// 约束：纯函数（相同输入 => 相同输出），且从不失败；无法判断的字段保持空串。
func Classify(it Item) Fields {
	c := Bucket(it.Leaves)

	var f Fields
	if len(c.Times) > 0 {
		f.Time = c.Times[0]
	} else if m := looseClockRE.FindString(it.Raw); m != "" {
		f.Time = m
	}

	for _, s := range c.Speakers {
		if !substringOfAny(s, c.Contents) {
			f.Speaker = s
			break
		}
	}

	best := -1
	for _, s := range c.Contents {
		if n := utf8.RuneCountInString(s); n > best {
			best = n
			f.Content = s
		}
	}

	if f.Content == "" {
		rest := it.Raw
		if f.Time != "" {
			rest = strings.Replace(rest, f.Time, "", 1)
		}
		if f.Speaker != "" {
			rest = strings.Replace(rest, f.Speaker, "", 1)
		}
		f.Content = strings.TrimSpace(rest)
	}
	return f
}

func substringOfAny(s string, in []string) bool {
	for _, x := range in {
		if strings.Contains(x, s) {
			return true
		}
	}
	return false
}

// hasWordRune：至少包含一个非空白、非标点/符号的字符（排除 "・"、"—"、"..." 这类装饰叶子）。
func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		return true
	}
	return false
}
