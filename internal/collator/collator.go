// Package collator 将分词结果拼成 MLM 训练批：填充、随机掩码、标签。
package collator

import (
	"fmt"
	"math/rand"

	"tapt/pkg/contract"
)

// DefaultProbability: 掩码比例。
const DefaultProbability = 0.15

// Row: 单条分词结果。
type Row struct {
	IDs         []int
	SpecialMask []int
}

// Collator 按 80/10/10 规则动态掩码。
type Collator struct {
	pad, mask int
	vocab     int
	prob      float64
}

// New 创建 Collator；tokenizer 没有掩码词时返回 ErrNoMaskToken。
// prob <= 0 取 DefaultProbability。
func New(sp contract.SpecialTokens, vocabSize int, prob float64) (*Collator, error) {
	if sp.Mask < 0 {
		return nil, fmt.Errorf("collator: %w", contract.ErrNoMaskToken)
	}
	if vocabSize <= 0 {
		return nil, fmt.Errorf("collator: %w: vocab size %d", contract.ErrInvariantViolation, vocabSize)
	}
	if prob <= 0 {
		prob = DefaultProbability
	}
	pad := sp.Pad
	if pad < 0 {
		pad = 0
	}
	return &Collator{pad: pad, mask: sp.Mask, vocab: vocabSize, prob: prob}, nil
}

// Collate 填充到批内最长行并生成掩码输入与标签。
// 特殊词与填充位置不参与掩码；未选中位置标签为 IgnoreIndex。
func (c *Collator) Collate(rows []Row, rng *rand.Rand) contract.Batch {
	width := 0
	for _, r := range rows {
		if len(r.IDs) > width {
			width = len(r.IDs)
		}
	}
	b := contract.Batch{
		InputIDs:      make([][]int, len(rows)),
		AttentionMask: make([][]int, len(rows)),
		Labels:        make([][]int, len(rows)),
	}
	for i, r := range rows {
		in := make([]int, width)
		att := make([]int, width)
		lab := make([]int, width)
		for j := 0; j < width; j++ {
			lab[j] = contract.IgnoreIndex
			if j >= len(r.IDs) {
				in[j] = c.pad
				continue
			}
			id := r.IDs[j]
			in[j] = id
			att[j] = 1
			if j < len(r.SpecialMask) && r.SpecialMask[j] == 1 {
				continue
			}
			if rng.Float64() >= c.prob {
				continue
			}
			lab[j] = id
			switch p := rng.Float64(); {
			case p < 0.8:
				in[j] = c.mask
			case p < 0.9:
				in[j] = rng.Intn(c.vocab)
			}
		}
		b.InputIDs[i], b.AttentionMask[i], b.Labels[i] = in, att, lab
	}
	return b
}
