// Package sentencepiece 适配 tokenizer.model（github.com/eliben/go-sentencepiece）。
package sentencepiece

import (
	"fmt"
	"path/filepath"
	"strings"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/pkg/errors"

	"tapt/pkg/contract"
	"tapt/plugins/tokenizer/added"
)

// Options: 可选配置。
type Options struct {
	// File: 相对模型目录的模型文件名。默认 tokenizer.model。
	File string `json:"file"`
	// MaskToken: 掩码词文本。默认 "<mask>"。
	MaskToken string `json:"mask_token"`
	// MaskID: 模型自带掩码词时指定其 id；为空则追加到词表末尾。
	MaskID *int `json:"mask_id,omitempty"`
}

type pieceEncoder interface {
	Encode(text string) []esentencepiece.Token
}

// Tokenizer: SentencePiece 编码 + 追加特殊词抽取。句首/句尾词充当 CLS/SEP。
type Tokenizer struct {
	enc      pieceEncoder
	size     int
	extra    int
	maxLen   int
	path     string
	specials contract.SpecialTokens
	added    *added.Vocab
	names    map[int]string
}

var (
	_ contract.Tokenizer     = (*Tokenizer)(nil)
	_ contract.Fingerprinted = (*Tokenizer)(nil)
)

// New 加载 modelDir 下的 tokenizer.model。
func New(modelDir string, opts *Options) (*Tokenizer, error) {
	name := "tokenizer.model"
	if opts != nil && strings.TrimSpace(opts.File) != "" {
		name = opts.File
	}
	path := filepath.Join(modelDir, name)
	proc, err := esentencepiece.NewProcessorFromPath(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't create sentencepiece from %s", path)
	}
	t := newTokenizer(proc, proc.ModelInfo(), opts)
	t.path = path
	return t, nil
}

func newTokenizer(enc pieceEncoder, info *esentencepiece.ModelInfo, opts *Options) *Tokenizer {
	t := &Tokenizer{
		enc:   enc,
		size:  info.VocabularySize,
		added: added.New(),
		names: map[int]string{},
		specials: contract.SpecialTokens{
			Pad:  info.PadID,
			Mask: -1,
			CLS:  info.BeginningOfSentenceID,
			SEP:  info.EndOfSentenceID,
			UNK:  info.UnknownID,
		},
	}
	t.names[info.BeginningOfSentenceID] = "<s>"
	t.names[info.EndOfSentenceID] = "</s>"
	mask := "<mask>"
	var maskID *int
	if opts != nil {
		if strings.TrimSpace(opts.MaskToken) != "" {
			mask = opts.MaskToken
		}
		maskID = opts.MaskID
	}
	if maskID != nil && *maskID >= 0 && *maskID < t.size {
		id := *maskID
		t.added.Add([]string{mask}, t.size, func(s string) (int, bool) { return id, s == mask })
		t.specials.Mask = id
	} else {
		t.extra += t.added.Add([]string{mask}, t.size, nil)
		t.specials.Mask, _ = t.added.ID(mask)
	}
	return t
}

// AddSpecialTokens 追加特殊词，返回新增个数。
func (t *Tokenizer) AddSpecialTokens(tokens []string) (int, error) {
	n := t.added.Add(tokens, t.Len(), nil)
	t.extra += n
	return n, nil
}

// EnableTruncation 设置最长序列（含句首/句尾）。
func (t *Tokenizer) EnableTruncation(maxLen int) { t.maxLen = maxLen }

// Len 返回基础词表 + 追加词数。
func (t *Tokenizer) Len() int { return t.size + t.extra }

// Specials 返回特殊词 id。
func (t *Tokenizer) Specials() contract.SpecialTokens { return t.specials }

// Fingerprint 标识模型文件。
func (t *Tokenizer) Fingerprint() string { return fmt.Sprintf("sentencepiece:%s", t.path) }

// Encode 编码单句。
func (t *Tokenizer) Encode(text string) (contract.Encoding, error) {
	var body contract.Encoding
	for _, seg := range t.added.Split(text) {
		if seg.ID >= 0 {
			body.IDs = append(body.IDs, seg.ID)
			body.Tokens = append(body.Tokens, seg.Text)
			body.SpecialMask = append(body.SpecialMask, 1)
			continue
		}
		for _, p := range t.enc.Encode(seg.Text) {
			body.IDs = append(body.IDs, p.ID)
			body.Tokens = append(body.Tokens, p.Text)
			body.SpecialMask = append(body.SpecialMask, 0)
		}
	}
	cls, sep := t.specials.CLS >= 0, t.specials.SEP >= 0
	if t.maxLen > 0 {
		room := t.maxLen
		if cls {
			room--
		}
		if sep {
			room--
		}
		if room < 0 {
			room = 0
		}
		if len(body.IDs) > room {
			body.IDs, body.Tokens, body.SpecialMask = body.IDs[:room], body.Tokens[:room], body.SpecialMask[:room]
		}
	}
	var out contract.Encoding
	if cls {
		out.IDs = append(out.IDs, t.specials.CLS)
		out.Tokens = append(out.Tokens, t.names[t.specials.CLS])
		out.SpecialMask = append(out.SpecialMask, 1)
	}
	out.IDs = append(out.IDs, body.IDs...)
	out.Tokens = append(out.Tokens, body.Tokens...)
	out.SpecialMask = append(out.SpecialMask, body.SpecialMask...)
	if sep {
		out.IDs = append(out.IDs, t.specials.SEP)
		out.Tokens = append(out.Tokens, t.names[t.specials.SEP])
		out.SpecialMask = append(out.SpecialMask, 1)
	}
	return out, nil
}
