package extract

import (
	"strings"

	"github.com/John-Robertt/tscopy/internal/domain"
)

// CarryState 记录最近一次明确出现的说话人/时间，作用域是一次收集。
//
// 虚拟列表里经常把“头部（说话人 + 时间）”和“正文”拆成相邻的两个条目，
// 因此正文条目缺失的元数据需要从前面的条目继承。
type CarryState struct {
	LastSpeaker string
	LastTime    string
}

// Reset 在每次收集开始时清空继承状态。
func (c *CarryState) Reset() { *c = CarryState{} }

// Resolve 按扫描顺序处理一个已分类条目，返回补全后的记录以及是否应继续入库。
//
// - 只有头部（有 speaker/time、无正文）：更新继承状态，丢弃条目
// - 有正文：缺什么补什么；自带的 speaker/time 覆盖继承状态
// - 三者皆空：原样透传（其 key 为空，入库时自然被拒绝）
func (c *CarryState) Resolve(f Fields) (domain.Record, bool) {
	hasContent := strings.TrimSpace(f.Content) != ""

	switch {
	case !hasContent && (f.Speaker != "" || f.Time != ""):
		if f.Speaker != "" {
			c.LastSpeaker = f.Speaker
		}
		if f.Time != "" {
			c.LastTime = f.Time
		}
		return domain.Record{}, false

	case hasContent:
		if f.Speaker == "" {
			f.Speaker = c.LastSpeaker
		} else {
			c.LastSpeaker = f.Speaker
		}
		if f.Time == "" {
			f.Time = c.LastTime
		} else {
			c.LastTime = f.Time
		}
	}

	return domain.Record{
		Speaker: f.Speaker,
		Time:    f.Time,
		Content: f.Content,
		Key:     domain.Key(f.Time, f.Content),
	}, true
}
