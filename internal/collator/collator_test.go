package collator

import (
	"errors"
	"math/rand"
	"testing"

	"tapt/pkg/contract"
)

var sp = contract.SpecialTokens{Pad: 0, Mask: 4, CLS: 2, SEP: 3, UNK: 1}

func TestNewRequiresMask(t *testing.T) {
	_, err := New(contract.SpecialTokens{Pad: 0, Mask: -1}, 10, 0)
	if !errors.Is(err, contract.ErrNoMaskToken) {
		t.Fatalf("want ErrNoMaskToken, got %v", err)
	}
}

func TestPaddingAndAttention(t *testing.T) {
	c, _ := New(sp, 50, 1e-9)
	b := c.Collate([]Row{
		{IDs: []int{2, 10, 11, 3}, SpecialMask: []int{1, 0, 0, 1}},
		{IDs: []int{2, 12, 3}, SpecialMask: []int{1, 0, 1}},
	}, rand.New(rand.NewSource(1)))
	if b.Size() != 2 || len(b.InputIDs[1]) != 4 {
		t.Fatalf("shape=%v", b.InputIDs)
	}
	if b.InputIDs[1][3] != 0 || b.AttentionMask[1][3] != 0 || b.AttentionMask[1][2] != 1 {
		t.Fatalf("padding: ids=%v att=%v", b.InputIDs[1], b.AttentionMask[1])
	}
	if b.Labels[1][3] != contract.IgnoreIndex {
		t.Fatalf("填充位置标签应忽略")
	}
}

func TestSpecialsNeverMasked(t *testing.T) {
	c, _ := New(sp, 50, 1)
	row := Row{IDs: []int{2, 30, 31, 32, 3}, SpecialMask: []int{1, 0, 1, 0, 1}}
	b := c.Collate([]Row{row}, rand.New(rand.NewSource(7)))
	for j, s := range row.SpecialMask {
		if s == 1 {
			if b.Labels[0][j] != contract.IgnoreIndex || b.InputIDs[0][j] != row.IDs[j] {
				t.Fatalf("special position %d touched: in=%v lab=%v", j, b.InputIDs[0], b.Labels[0])
			}
			continue
		}
		if b.Labels[0][j] != row.IDs[j] {
			t.Fatalf("prob=1 时普通位置应全部选中: %v", b.Labels[0])
		}
	}
}

func TestMaskingRatios(t *testing.T) {
	c, _ := New(sp, 1000, 0)
	const n = 20000
	ids := make([]int, n)
	mask := make([]int, n)
	for i := range ids {
		ids[i] = 500
	}
	b := c.Collate([]Row{{IDs: ids, SpecialMask: mask}}, rand.New(rand.NewSource(42)))
	chosen, masked, kept := 0, 0, 0
	for j := range ids {
		if b.Labels[0][j] == contract.IgnoreIndex {
			if b.InputIDs[0][j] != 500 {
				t.Fatalf("未选中位置被修改")
			}
			continue
		}
		chosen++
		switch b.InputIDs[0][j] {
		case 4:
			masked++
		case 500:
			kept++
		}
	}
	ratio := float64(chosen) / n
	if ratio < 0.13 || ratio > 0.17 {
		t.Fatalf("chosen ratio=%.3f", ratio)
	}
	if m := float64(masked) / float64(chosen); m < 0.75 || m > 0.85 {
		t.Fatalf("mask ratio=%.3f", m)
	}
	if k := float64(kept) / float64(chosen); k < 0.07 || k > 0.14 {
		t.Fatalf("keep ratio=%.3f", k)
	}
}

func TestDeterministicWithSeed(t *testing.T) {
	c, _ := New(sp, 100, 0.5)
	rows := []Row{{IDs: []int{2, 10, 11, 12, 13, 3}, SpecialMask: []int{1, 0, 0, 0, 0, 1}}}
	a := c.Collate(rows, rand.New(rand.NewSource(3)))
	b := c.Collate(rows, rand.New(rand.NewSource(3)))
	for j := range a.InputIDs[0] {
		if a.InputIDs[0][j] != b.InputIDs[0][j] || a.Labels[0][j] != b.Labels[0][j] {
			t.Fatalf("同一种子结果应一致")
		}
	}
}
