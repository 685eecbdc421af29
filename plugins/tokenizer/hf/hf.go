// Package hf 适配 HuggingFace tokenizer.json（纯 Go 实现，github.com/sugarme/tokenizer）。
package hf

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"tapt/pkg/contract"
)

// Options: 可选配置。
type Options struct {
	// File: 相对模型目录的 tokenizer.json 文件名。
	File string `json:"file"`
}

// Tokenizer 包装 sugarme Tokenizer。
// 截断与特殊词标记在适配层完成，sugarme 只负责切分与模板；
// Encode 串行化调用，上层并行度由 worker 池提供，编码缓存吸收重复句子。
type Tokenizer struct {
	mu       sync.Mutex
	tk       *tokenizer.Tokenizer
	path     string
	maxLen   int
	specials contract.SpecialTokens
	// special: 注册为特殊词的 id，编码结果中一律标 1
	special map[int]bool
}

var (
	_ contract.Tokenizer     = (*Tokenizer)(nil)
	_ contract.Fingerprinted = (*Tokenizer)(nil)
)

// New 加载 modelDir 下的 tokenizer.json。
// 文件自带的 truncation/padding 段被忽略：截断由 EnableTruncation 决定，填充由 collator 负责。
func New(modelDir string, opts *Options) (*Tokenizer, error) {
	name := "tokenizer.json"
	if opts != nil && strings.TrimSpace(opts.File) != "" {
		name = opts.File
	}
	path := filepath.Join(modelDir, name)
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	tk.WithTruncation(nil)
	tk.WithPadding(nil)
	t := &Tokenizer{tk: tk, path: path, special: map[int]bool{}}
	t.markSpecial(tk.GetSpecialTokens())
	t.specials = resolveSpecials(tk.TokenToId)
	return t, nil
}

// 兼容 BERT 与 RoBERTa 两套特殊词命名。
var specialNames = struct {
	pad, mask, cls, sep, unk []string
}{
	pad:  []string{"[PAD]", "<pad>"},
	mask: []string{"[MASK]", "<mask>"},
	cls:  []string{"[CLS]", "<s>"},
	sep:  []string{"[SEP]", "</s>"},
	unk:  []string{"[UNK]", "<unk>"},
}

// resolveSpecials 逐个查询特殊词 id。
// 不使用 GetVocab(true)：sugarme 会把追加词写回模型词表，之后的词表大小会重复计数。
func resolveSpecials(lookup func(string) (int, bool)) contract.SpecialTokens {
	find := func(names []string) int {
		for _, n := range names {
			if id, ok := lookup(n); ok {
				return id
			}
		}
		return -1
	}
	return contract.SpecialTokens{
		Pad:  find(specialNames.pad),
		Mask: find(specialNames.mask),
		CLS:  find(specialNames.cls),
		SEP:  find(specialNames.sep),
		UNK:  find(specialNames.unk),
	}
}

func (t *Tokenizer) markSpecial(tokens []string) {
	for _, s := range tokens {
		if id, ok := t.tk.TokenToId(s); ok {
			t.special[id] = true
		}
	}
}

// AddSpecialTokens 以 special=true 注册；已存在的词不计数。
func (t *Tokenizer) AddSpecialTokens(tokens []string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	toks := make([]tokenizer.AddedToken, 0, len(tokens))
	names := make([]string, 0, len(tokens))
	for _, s := range tokens {
		if s == "" {
			continue
		}
		toks = append(toks, tokenizer.NewAddedToken(s, true))
		names = append(names, s)
	}
	before := t.tk.GetVocabSize(true)
	t.tk.AddSpecialTokens(toks)
	n := t.tk.GetVocabSize(true) - before
	if n < 0 {
		return 0, errors.Wrap(contract.ErrInvariantViolation, "vocab shrank after AddSpecialTokens")
	}
	t.markSpecial(names)
	t.specials = resolveSpecials(t.tk.TokenToId)
	return n, nil
}

// EnableTruncation 设置最长序列（含特殊词）；<= 0 表示不截断。
func (t *Tokenizer) EnableTruncation(maxLen int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxLen = maxLen
}

// Encode 编码单句并附加模板特殊词。
func (t *Tokenizer) Encode(text string) (contract.Encoding, error) {
	t.mu.Lock()
	enc, err := t.tk.EncodeSingle(text, true)
	maxLen := t.maxLen
	t.mu.Unlock()
	if err != nil {
		return contract.Encoding{}, errors.Wrap(err, "hf encode")
	}
	out := truncate(fromEncoding(enc.Ids, enc.Tokens, enc.SpecialTokenMask), maxLen)
	for i, id := range out.IDs {
		if t.special[id] {
			out.SpecialMask[i] = 1
		}
	}
	return out, nil
}

func fromEncoding(ids []int, toks []string, mask []int) contract.Encoding {
	out := contract.Encoding{
		IDs:         append([]int(nil), ids...),
		Tokens:      make([]string, len(ids)),
		SpecialMask: make([]int, len(ids)),
	}
	copy(out.Tokens, toks)
	copy(out.SpecialMask, mask)
	return out
}

// truncate 截掉正文尾部，保留模板追加在句尾的特殊词（[SEP] 或 </s>）。
// 句尾特殊词只看模板给出的掩码，文本里的追加词不算。
func truncate(e contract.Encoding, maxLen int) contract.Encoding {
	n := len(e.IDs)
	if maxLen <= 0 || n <= maxLen {
		return e
	}
	tail := 0
	for tail < n && e.SpecialMask[n-1-tail] == 1 {
		tail++
	}
	if tail >= maxLen {
		tail = 0
	}
	head := maxLen - tail
	e.IDs = keepEnds(e.IDs, head, tail)
	e.Tokens = keepEnds(e.Tokens, head, tail)
	e.SpecialMask = keepEnds(e.SpecialMask, head, tail)
	return e
}

func keepEnds[T any](s []T, head, tail int) []T {
	return append(s[:head:head], s[len(s)-tail:]...)
}

// Len 返回含追加词在内的词表大小。
func (t *Tokenizer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tk.GetVocabSize(true)
}

// Specials 返回特殊词 id。
func (t *Tokenizer) Specials() contract.SpecialTokens {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.specials
}

// Fingerprint 标识 tokenizer.json 路径。
func (t *Tokenizer) Fingerprint() string { return fmt.Sprintf("hf:%s", t.path) }
