// Package added 维护追加到基础词表之后的特殊词，并在预分词之前从文本中抽取它们。
package added

import (
	"sort"
	"strings"
)

// Segment: 抽取后的文本片段；ID >= 0 表示命中追加词。
type Segment struct {
	Text string
	ID   int
}

// Vocab: 追加词表。注册只发生在分词开始之前；之后只读，可并发 Split。
type Vocab struct {
	ids   map[string]int
	order []string // 按长度降序，保证最长优先匹配
}

// New 创建空的追加词表。
func New() *Vocab { return &Vocab{ids: map[string]int{}} }

// Add 为未登记的词分配 next, next+1, ...；返回新增个数。
// known 用于跳过基础词表中已存在的词（返回其 id 与是否存在）。
func (v *Vocab) Add(tokens []string, next int, known func(string) (int, bool)) int {
	n := 0
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := v.ids[t]; ok {
			continue
		}
		if known != nil {
			if id, ok := known(t); ok {
				// 基础词表已有：仍需参与抽取，避免被拆分
				v.ids[t] = id
				continue
			}
		}
		v.ids[t] = next + n
		n++
	}
	v.order = v.order[:0]
	for t := range v.ids {
		v.order = append(v.order, t)
	}
	sort.Slice(v.order, func(i, j int) bool {
		if len(v.order[i]) != len(v.order[j]) {
			return len(v.order[i]) > len(v.order[j])
		}
		return v.order[i] < v.order[j]
	})
	return n
}

// ID 返回追加词 id。
func (v *Vocab) ID(t string) (int, bool) {
	id, ok := v.ids[t]
	return id, ok
}

// Has 判断 id 是否属于追加词。
func (v *Vocab) Has(id int) bool {
	for _, x := range v.ids {
		if x == id {
			return true
		}
	}
	return false
}

// Len 返回登记的追加词数（含基础词表已存在者）。
func (v *Vocab) Len() int { return len(v.ids) }

// Split 将 text 切分为普通片段与追加词片段，顺序保持；空片段省略。
func (v *Vocab) Split(text string) []Segment {
	if len(v.order) == 0 {
		return []Segment{{Text: text, ID: -1}}
	}
	var out []Segment
	rest := text
	for len(rest) > 0 {
		pos, tok := -1, ""
		for _, t := range v.order {
			if i := strings.Index(rest, t); i >= 0 && (pos < 0 || i < pos) {
				pos, tok = i, t
			}
		}
		if pos < 0 {
			out = append(out, Segment{Text: rest, ID: -1})
			break
		}
		if pos > 0 {
			out = append(out, Segment{Text: rest[:pos], ID: -1})
		}
		out = append(out, Segment{Text: tok, ID: v.ids[tok]})
		rest = rest[pos+len(tok):]
	}
	return out
}
