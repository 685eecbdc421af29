package trainer

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"

	"tapt/pkg/contract"
)

// AdamW: 解耦权重衰减的 Adam。状态按参数名保存。
type AdamW struct {
	Beta1, Beta2, Eps, WeightDecay float64

	step int
	m, v map[string][]float64
}

// NewAdamW 由训练参数构造优化器。
func NewAdamW(a Args) *AdamW {
	return &AdamW{
		Beta1:       a.AdamBeta1,
		Beta2:       a.AdamBeta2,
		Eps:         a.AdamEpsilon,
		WeightDecay: a.WeightDecay,
		m:           map[string][]float64{},
		v:           map[string][]float64{},
	}
}

// Step 以学习率 lr 更新全部参数。Decay=false 的参数不做权重衰减。
func (o *AdamW) Step(params []contract.Param, lr float64) error {
	o.step++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.step))
	for _, p := range params {
		if len(p.Data) != len(p.Grad) {
			return fmt.Errorf("adamw: %w: %s data/grad length %d/%d", contract.ErrInvariantViolation, p.Name, len(p.Data), len(p.Grad))
		}
		m, v := o.m[p.Name], o.v[p.Name]
		if len(m) != len(p.Data) {
			// 首次出现或形状变化（resize 后）时重置动量
			m = make([]float64, len(p.Data))
			v = make([]float64, len(p.Data))
			o.m[p.Name], o.v[p.Name] = m, v
		}
		for i, g := range p.Grad {
			if p.Decay && o.WeightDecay != 0 {
				p.Data[i] -= lr * o.WeightDecay * p.Data[i]
			}
			m[i] = o.Beta1*m[i] + (1-o.Beta1)*g
			v[i] = o.Beta2*v[i] + (1-o.Beta2)*g*g
			p.Data[i] -= lr * (m[i] / bc1) / (math.Sqrt(v[i]/bc2) + o.Eps)
		}
	}
	return nil
}

// Steps 返回已执行的更新次数。
func (o *AdamW) Steps() int { return o.step }

type adamState struct {
	Step int
	M, V map[string][]float64
}

// Encode 以 gob 写出优化器状态（optimizer.gob）。
func (o *AdamW) Encode(w io.Writer) error {
	return gob.NewEncoder(w).Encode(adamState{Step: o.step, M: o.m, V: o.v})
}

// Decode 读取 Encode 写出的状态。
func (o *AdamW) Decode(r io.Reader) error {
	var st adamState
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return err
	}
	o.step, o.m, o.v = st.Step, st.M, st.V
	if o.m == nil {
		o.m = map[string][]float64{}
	}
	if o.v == nil {
		o.v = map[string][]float64{}
	}
	return nil
}

// ClipGradNorm 将全部梯度的 L2 范数裁剪到 maxNorm，返回裁剪前范数。
func ClipGradNorm(params []contract.Param, maxNorm float64) float64 {
	var sq float64
	for _, p := range params {
		sq += floats.Dot(p.Grad, p.Grad)
	}
	norm := math.Sqrt(sq)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	scale := maxNorm / (norm + 1e-6)
	for _, p := range params {
		floats.Scale(scale, p.Grad)
	}
	return norm
}
