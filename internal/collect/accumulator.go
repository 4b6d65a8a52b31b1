package collect

import "github.com/John-Robertt/tscopy/internal/domain"

// Accumulator 是按 key 去重、按首次出现顺序保存记录的容器。
//
// 不变式：keys 与 byKey 的元素个数始终一致，且每个 key 在 keys 中恰好出现一次。
// 非并发安全：由唯一的收集循环独占修改。
type Accumulator struct {
	byKey map[string]domain.Record
	keys  []string
}

func New() *Accumulator {
	return &Accumulator{byKey: make(map[string]domain.Record, 256)}
}

// Insert 计算 record 的 key 并尝试入库。
// key 为空或已存在时返回 false 且不做任何修改（首个版本胜出）。
func (a *Accumulator) Insert(r domain.Record) bool {
	r.Key = domain.Key(r.Time, r.Content)
	if r.Key == "" {
		return false
	}
	if a.byKey == nil {
		a.byKey = make(map[string]domain.Record, 256)
	}
	if _, ok := a.byKey[r.Key]; ok {
		return false
	}
	a.byKey[r.Key] = r
	a.keys = append(a.keys, r.Key)
	return true
}

// Reset 清空全部记录（新一轮收集开始时调用）。
func (a *Accumulator) Reset() {
	a.byKey = make(map[string]domain.Record, 256)
	a.keys = nil
}

func (a *Accumulator) Len() int { return len(a.keys) }

func (a *Accumulator) Get(key string) (domain.Record, bool) {
	r, ok := a.byKey[key]
	return r, ok
}

// Keys 返回首次出现顺序的 key 副本。
func (a *Accumulator) Keys() []string {
	return append([]string(nil), a.keys...)
}

// Records 返回首次出现顺序的记录快照（调用方可自由修改）。
func (a *Accumulator) Records() []domain.Record {
	out := make([]domain.Record, 0, len(a.keys))
	for _, k := range a.keys {
		out = append(out, a.byKey[k])
	}
	return out
}
