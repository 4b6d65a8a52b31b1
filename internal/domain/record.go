package domain

// Record 是一条已解析的发言记录。
//
// Key 是去重身份（time + "|" + content 前 50 字符），不是唯一 ID：
// 同一显示时间、前缀相同的两条发言会被视为同一条（有意保留的已知限制）。
type Record struct {
	Speaker string `json:"speaker"`
	Time    string `json:"time"`
	Content string `json:"content"`
	Key     string `json:"key"`
}

// Severity 是状态消息的级别（对应展示端的配色）。
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// KeyPrefixLen 是去重 key 截取的正文前缀长度（按字符计）。
const KeyPrefixLen = 50

// Key 计算去重 key：time + "|" + content 前 50 字符。
//
// time 与 content 都为空的记录不携带任何信息，返回空 key（累加器会拒收）。
func Key(time, content string) string {
	if time == "" && content == "" {
		return ""
	}
	return time + "|" + prefixRunes(content, KeyPrefixLen)
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
