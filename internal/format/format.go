package format

import (
	"strings"

	"github.com/John-Robertt/tscopy/internal/collect"
	"github.com/John-Robertt/tscopy/internal/domain"
)

const (
	DefaultSpeakerPlaceholder = "(話者不明)"
	DefaultTimePlaceholder    = "--:--"
)

// Placeholders 是字段缺失时的占位文本。
type Placeholders struct {
	Speaker string
	Time    string
}

func DefaultPlaceholders() Placeholders {
	return Placeholders{Speaker: DefaultSpeakerPlaceholder, Time: DefaultTimePlaceholder}
}

// Text 把累加器内容按首次出现顺序渲染为最终文本。
func Text(acc *collect.Accumulator, ph Placeholders) string {
	if acc == nil {
		return ""
	}
	return Records(acc.Records(), ph)
}

// Records 渲染记录列表：每条两行（"说话人 时间" + 正文），条目之间空一行。
// 正文 trim 后为空的记录直接跳过（仍保留在累加器中）。
func Records(records []domain.Record, ph Placeholders) string {
	blocks := make([]string, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		speaker := r.Speaker
		if speaker == "" {
			speaker = ph.Speaker
		}
		t := r.Time
		if t == "" {
			t = ph.Time
		}
		blocks = append(blocks, speaker+" "+t+"\n"+r.Content)
	}
	return strings.Join(blocks, "\n\n")
}

// Rendered 返回会出现在输出中的记录数。
func Rendered(records []domain.Record) int {
	n := 0
	for _, r := range records {
		if strings.TrimSpace(r.Content) != "" {
			n++
		}
	}
	return n
}
