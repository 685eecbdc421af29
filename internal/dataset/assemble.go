// Package dataset 把划分语料组装成单列表格，并并发分词为模型输入。
package dataset

import (
	"fmt"

	"tapt/pkg/contract"
)

// 固定列名。
const (
	ColumnText        = "text"
	ColumnInputIDs    = "input_ids"
	ColumnSpecialMask = "special_tokens_mask"
)

// Table: 单划分、单列（text）的表格。
type Table struct {
	Split contract.Split
	Text  []string
}

// Len 返回行数。
func (t *Table) Len() int { return len(t.Text) }

// Column 按列名取列；仅支持 ColumnText。
func (t *Table) Column(name string) ([]string, error) {
	if name != ColumnText {
		return nil, fmt.Errorf("%w: column %q", contract.ErrInvariantViolation, name)
	}
	return t.Text, nil
}

// DatasetDict: 划分 → 表格。test 划分被解析但不参与组装。
type DatasetDict struct {
	tables map[contract.Split]*Table
}

// Assemble 将 Corpus 组装为 DatasetDict，丢弃 test 划分；行序保持不变。
func Assemble(c contract.Corpus) DatasetDict {
	d := DatasetDict{tables: make(map[contract.Split]*Table, 2)}
	for _, s := range contract.Splits() {
		if s == contract.SplitTest {
			continue
		}
		text := make([]string, len(c[s]))
		copy(text, c[s])
		d.tables[s] = &Table{Split: s, Text: text}
	}
	return d
}

// Split 取表格；不存在时返回 ErrSplitNotFound（而非空表）。
func (d DatasetDict) Split(s contract.Split) (*Table, error) {
	t, ok := d.tables[s]
	if !ok {
		return nil, fmt.Errorf("%w: %q", contract.ErrSplitNotFound, s)
	}
	return t, nil
}

// Splits 按规范顺序返回存在的划分。
func (d DatasetDict) Splits() []contract.Split {
	var out []contract.Split
	for _, s := range contract.Splits() {
		if _, ok := d.tables[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// TokenizedTable: 分词后的表格，与源表逐行一一对应。
type TokenizedTable struct {
	Split       contract.Split
	Text        []string
	InputIDs    [][]int
	SpecialMask [][]int
}

// Len 返回行数。
func (t *TokenizedTable) Len() int { return len(t.InputIDs) }

// Tokens 返回全部行的 token 总数。
func (t *TokenizedTable) Tokens() int {
	n := 0
	for _, ids := range t.InputIDs {
		n += len(ids)
	}
	return n
}

// TokenizedDict: 划分 → 分词表格。
type TokenizedDict struct {
	tables map[contract.Split]*TokenizedTable
}

// Split 取分词表格；不存在时返回 ErrSplitNotFound。
func (d TokenizedDict) Split(s contract.Split) (*TokenizedTable, error) {
	t, ok := d.tables[s]
	if !ok {
		return nil, fmt.Errorf("%w: %q", contract.ErrSplitNotFound, s)
	}
	return t, nil
}

// Splits 按规范顺序返回存在的划分。
func (d TokenizedDict) Splits() []contract.Split {
	var out []contract.Split
	for _, s := range contract.Splits() {
		if _, ok := d.tables[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
