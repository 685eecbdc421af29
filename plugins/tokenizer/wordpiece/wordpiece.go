// Package wordpiece 实现基于 BERT vocab.txt 的 WordPiece 分词器。
package wordpiece

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"tapt/pkg/contract"
	"tapt/plugins/tokenizer/added"
)

// Options: 可选配置。
type Options struct {
	// VocabFile: 词表文件名（相对模型目录）。默认 vocab.txt。
	VocabFile string `json:"vocab_file"`
	// Lowercase: 覆盖 tokenizer_config.json 的 do_lower_case；nil 表示沿用（缺省 true）。
	Lowercase *bool `json:"lowercase,omitempty"`
	// MaxInputCharsPerWord: 超长词直接映射为 [UNK]。默认 100。
	MaxInputCharsPerWord int `json:"max_input_chars_per_word"`
}

// Tokenizer: BasicTokenizer + WordPiece。
type Tokenizer struct {
	vocab     map[string]int
	size      int
	extra     int
	lowercase bool
	maxChars  int
	maxLen    int
	path      string
	specials  contract.SpecialTokens
	added     *added.Vocab
}

var (
	_ contract.Tokenizer     = (*Tokenizer)(nil)
	_ contract.Fingerprinted = (*Tokenizer)(nil)
)

// New 从模型目录加载 vocab.txt（以及可选 tokenizer_config.json）。
func New(modelDir string, opts *Options) (*Tokenizer, error) {
	name := "vocab.txt"
	maxChars := 100
	if opts != nil {
		if strings.TrimSpace(opts.VocabFile) != "" {
			name = opts.VocabFile
		}
		if opts.MaxInputCharsPerWord > 0 {
			maxChars = opts.MaxInputCharsPerWord
		}
	}
	path := filepath.Join(modelDir, name)
	vocab, size, err := loadVocab(path)
	if err != nil {
		return nil, err
	}
	t := &Tokenizer{vocab: vocab, size: size, lowercase: true, maxChars: maxChars, path: path, added: added.New()}
	if lc, ok := readLowercase(filepath.Join(modelDir, "tokenizer_config.json")); ok {
		t.lowercase = lc
	}
	if opts != nil && opts.Lowercase != nil {
		t.lowercase = *opts.Lowercase
	}
	t.specials = contract.SpecialTokens{
		Pad:  t.lookup("[PAD]"),
		Mask: t.lookup("[MASK]"),
		CLS:  t.lookup("[CLS]"),
		SEP:  t.lookup("[SEP]"),
		UNK:  t.lookup("[UNK]"),
	}
	if t.specials.UNK < 0 {
		return nil, fmt.Errorf("%s: %w: missing [UNK]", path, contract.ErrInvariantViolation)
	}
	// 基础特殊词同样需在预分词之前抽取（仅登记词表中已存在者，不分配新 id）
	var base []string
	for _, s := range []string{"[PAD]", "[MASK]", "[CLS]", "[SEP]", "[UNK]"} {
		if _, ok := t.vocab[s]; ok {
			base = append(base, s)
		}
	}
	t.added.Add(base, t.size, t.known)
	return t, nil
}

func loadVocab(path string) (map[string]int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	vocab := make(map[string]int, 32000)
	sc := bufio.NewScanner(f)
	id := 0
	for sc.Scan() {
		tok := strings.TrimRight(sc.Text(), "\r")
		if _, dup := vocab[tok]; !dup {
			vocab[tok] = id
		}
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	return vocab, id, nil
}

func readLowercase(path string) (bool, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return false, false
	}
	var cfg struct {
		DoLowerCase *bool `json:"do_lower_case"`
	}
	if json.Unmarshal(b, &cfg) != nil || cfg.DoLowerCase == nil {
		return false, false
	}
	return *cfg.DoLowerCase, true
}

func (t *Tokenizer) lookup(s string) int {
	if id, ok := t.vocab[s]; ok {
		return id
	}
	return -1
}

func (t *Tokenizer) known(s string) (int, bool) {
	id, ok := t.vocab[s]
	return id, ok
}

// AddSpecialTokens 追加特殊词；已在基础词表中的词不占新 id。
func (t *Tokenizer) AddSpecialTokens(tokens []string) (int, error) {
	n := t.added.Add(tokens, t.Len(), t.known)
	t.extra += n
	return n, nil
}

// EnableTruncation 设置截断长度（含 [CLS]/[SEP]）。
func (t *Tokenizer) EnableTruncation(maxLen int) { t.maxLen = maxLen }

// Len 返回基础词表大小 + 追加词数。
func (t *Tokenizer) Len() int { return t.size + t.extra }

// Specials 返回特殊词 id。
func (t *Tokenizer) Specials() contract.SpecialTokens { return t.specials }

// Fingerprint 标识词表与大小写策略。
func (t *Tokenizer) Fingerprint() string {
	return fmt.Sprintf("wordpiece:%s:lower=%t", t.path, t.lowercase)
}

// Encode 分词并加上 [CLS]/[SEP]；超长时截断正文。
func (t *Tokenizer) Encode(text string) (contract.Encoding, error) {
	var ids []int
	var toks []string
	var special []int
	for _, seg := range t.added.Split(text) {
		if seg.ID >= 0 {
			ids = append(ids, seg.ID)
			toks = append(toks, seg.Text)
			special = append(special, 1)
			continue
		}
		for _, w := range t.basic(seg.Text) {
			for _, p := range t.wordpiece(w) {
				ids = append(ids, t.lookupOrUnk(p))
				toks = append(toks, p)
				special = append(special, 0)
			}
		}
	}
	if t.maxLen > 0 {
		body := t.maxLen
		if t.specials.CLS >= 0 {
			body--
		}
		if t.specials.SEP >= 0 {
			body--
		}
		if body < 0 {
			body = 0
		}
		if len(ids) > body {
			ids, toks, special = ids[:body], toks[:body], special[:body]
		}
	}
	enc := contract.Encoding{
		IDs:         make([]int, 0, len(ids)+2),
		SpecialMask: make([]int, 0, len(ids)+2),
		Tokens:      make([]string, 0, len(ids)+2),
	}
	if t.specials.CLS >= 0 {
		enc.IDs = append(enc.IDs, t.specials.CLS)
		enc.SpecialMask = append(enc.SpecialMask, 1)
		enc.Tokens = append(enc.Tokens, "[CLS]")
	}
	enc.IDs = append(enc.IDs, ids...)
	enc.SpecialMask = append(enc.SpecialMask, special...)
	enc.Tokens = append(enc.Tokens, toks...)
	if t.specials.SEP >= 0 {
		enc.IDs = append(enc.IDs, t.specials.SEP)
		enc.SpecialMask = append(enc.SpecialMask, 1)
		enc.Tokens = append(enc.Tokens, "[SEP]")
	}
	return enc, nil
}

func (t *Tokenizer) lookupOrUnk(p string) int {
	if id, ok := t.vocab[p]; ok {
		return id
	}
	return t.specials.UNK
}

// basic: 清洗控制字符、CJK 单字切分、小写 + 去重音、按空白与标点切分。
func (t *Tokenizer) basic(text string) []string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar || isControl(r):
			continue
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case isCJK(r):
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if t.lowercase {
		cleaned = stripAccents(strings.ToLower(cleaned))
	}
	var out []string
	for _, w := range strings.Fields(cleaned) {
		out = append(out, splitPunct(w)...)
	}
	return out
}

// wordpiece: 贪心最长匹配；无法切分时整词为 [UNK]。
func (t *Tokenizer) wordpiece(word string) []string {
	rs := []rune(word)
	if len(rs) > t.maxChars {
		return []string{"[UNK]"}
	}
	var pieces []string
	for start := 0; start < len(rs); {
		end := len(rs)
		cur := ""
		for start < end {
			sub := string(rs[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := t.vocab[sub]; ok {
				cur = sub
				break
			}
			end--
		}
		if cur == "" {
			return []string{"[UNK]"}
		}
		pieces = append(pieces, cur)
		start = end
	}
	return pieces
}

func stripAccents(s string) string {
	tr := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(tr, s)
	if err != nil {
		return s
	}
	return out
}

func splitPunct(w string) []string {
	var out []string
	var cur []rune
	for _, r := range w {
		if isPunct(r) {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = cur[:0]
			}
			out = append(out, string(r))
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r) || unicode.Is(unicode.Cf, r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || (r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) || (r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) || (r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) || (r >= 0x2F800 && r <= 0x2FA1F)
}
