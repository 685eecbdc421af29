// Package cbow 实现一个轻量掩码语言模型后端（CPU，gonum 矩阵）。
//
// 结构：词嵌入 E[V×d]（输入与输出共享）、位置嵌入 P[L×d]、投影 W[d×d]、偏置 b[d]、输出偏置 o[V]。
// 对每个被标注位置 i：
//
//	c = mean_j E[x_j] + P[i]   （j 取该行所有有效位置）
//	h = tanh(W c + b)
//	logits = E h + o
//
// 损失为 softmax 交叉熵的均值，梯度解析累加。
package cbow

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"tapt/pkg/contract"
)

// 文件名约定。
const (
	ConfigFile  = "config.json"
	WeightsFile = "model.gob"
)

// Config: 持久化到 config.json 的结构参数。
type Config struct {
	HiddenSize            int   `json:"hidden_size"`
	MaxPositionEmbeddings int   `json:"max_position_embeddings"`
	VocabSize             int   `json:"vocab_size"`
	Seed                  int64 `json:"seed"`
}

// Options: 模型目录缺少 config.json 时使用的初始结构。
type Options struct {
	HiddenSize            int   `json:"hidden_size"`
	MaxPositionEmbeddings int   `json:"max_position_embeddings"`
	VocabSize             int   `json:"vocab_size"`
	Seed                  int64 `json:"seed"`
}

const initStd = 0.02

// Model: contract.MaskedLM 的 CBOW 实现。非并发安全。
type Model struct {
	cfg    Config
	device string
	fresh  bool

	e, p, w *mat.Dense
	b, o    *mat.VecDense

	ge, gp, gw *mat.Dense
	gb, gOut   *mat.VecDense
}

var _ contract.MaskedLM = (*Model)(nil)

// New 从 modelDir 加载；缺少 model.gob 时按配置新建权重（Fresh() 为 true）。
func New(modelDir string, opts *Options) (*Model, error) {
	cfg := Config{HiddenSize: 32, MaxPositionEmbeddings: 64, Seed: 42}
	if opts != nil {
		if opts.HiddenSize > 0 {
			cfg.HiddenSize = opts.HiddenSize
		}
		if opts.MaxPositionEmbeddings > 0 {
			cfg.MaxPositionEmbeddings = opts.MaxPositionEmbeddings
		}
		if opts.VocabSize > 0 {
			cfg.VocabSize = opts.VocabSize
		}
		if opts.Seed != 0 {
			cfg.Seed = opts.Seed
		}
	}
	if b, err := os.ReadFile(filepath.Join(modelDir, ConfigFile)); err == nil {
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("cbow: parse %s: %w", ConfigFile, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if cfg.HiddenSize <= 0 || cfg.MaxPositionEmbeddings <= 0 || cfg.VocabSize < 0 {
		return nil, fmt.Errorf("cbow: %w: config %+v", contract.ErrInvariantViolation, cfg)
	}
	m := &Model{cfg: cfg, device: "cpu"}
	f, err := os.Open(filepath.Join(modelDir, WeightsFile))
	switch {
	case err == nil:
		defer f.Close()
		if err := m.decode(f); err != nil {
			return nil, fmt.Errorf("cbow: load %s: %w", WeightsFile, err)
		}
	case errors.Is(err, os.ErrNotExist):
		m.init()
		m.fresh = true
	default:
		return nil, err
	}
	return m, nil
}

// Fresh 报告权重是否为新初始化（模型目录中没有 model.gob）。
func (m *Model) Fresh() bool { return m.fresh }

// Config 返回当前结构参数。
func (m *Model) Config() Config { return m.cfg }

func (m *Model) init() {
	rng := rand.New(rand.NewSource(m.cfg.Seed))
	v, d, l := m.cfg.VocabSize, m.cfg.HiddenSize, m.cfg.MaxPositionEmbeddings
	m.e = randDense(rng, v, d)
	m.p = randDense(rng, l, d)
	m.w = randDense(rng, d, d)
	m.b = mat.NewVecDense(d, nil)
	m.o = newVec(v)
	m.allocGrads()
}

func randDense(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64() * initStd
	}
	return newDense(r, c, data)
}

// gonum 不允许零维矩阵；零行时用 nil 表示。
func newDense(r, c int, data []float64) *mat.Dense {
	if r == 0 || c == 0 {
		return nil
	}
	return mat.NewDense(r, c, data)
}

func newVec(n int) *mat.VecDense {
	if n == 0 {
		return nil
	}
	return mat.NewVecDense(n, nil)
}

func (m *Model) allocGrads() {
	v, d, l := m.cfg.VocabSize, m.cfg.HiddenSize, m.cfg.MaxPositionEmbeddings
	m.ge = newDense(v, d, nil)
	m.gp = newDense(l, d, nil)
	m.gw = newDense(d, d, nil)
	m.gb = newVec(d)
	m.gOut = newVec(v)
}

// VocabSize 返回词嵌入行数。
func (m *Model) VocabSize() int { return m.cfg.VocabSize }

// ResizeTokenEmbeddings 调整 E 与 o 的行数；新增行服从 N(0, 0.02)。
func (m *Model) ResizeTokenEmbeddings(n int) error {
	if n <= 0 {
		return fmt.Errorf("cbow: %w: resize to %d", contract.ErrInvariantViolation, n)
	}
	old := m.cfg.VocabSize
	if n == old {
		return nil
	}
	d := m.cfg.HiddenSize
	rng := rand.New(rand.NewSource(m.cfg.Seed + int64(old)))
	data := make([]float64, n*d)
	keep := old
	if n < keep {
		keep = n
	}
	if keep > 0 {
		copy(data, m.e.RawMatrix().Data[:keep*d])
	}
	for i := keep * d; i < len(data); i++ {
		data[i] = rng.NormFloat64() * initStd
	}
	o := make([]float64, n)
	if keep > 0 {
		copy(o, m.o.RawVector().Data[:keep])
	}
	m.e = mat.NewDense(n, d, data)
	m.o = mat.NewVecDense(n, o)
	m.cfg.VocabSize = n
	m.ge = mat.NewDense(n, d, nil)
	m.gOut = mat.NewVecDense(n, nil)
	return nil
}

// Device 返回当前设备。
func (m *Model) Device() string { return m.device }

// To 仅支持 cpu。
func (m *Model) To(device string) error {
	if device != "cpu" {
		return fmt.Errorf("cbow: %w: %s", contract.ErrDeviceUnsupported, device)
	}
	m.device = device
	return nil
}

// Params 返回参数视图。ResizeTokenEmbeddings 之后需重新获取。
func (m *Model) Params() []contract.Param {
	return []contract.Param{
		{Name: "embeddings.word", Data: denseData(m.e), Grad: denseData(m.ge), Decay: true},
		{Name: "embeddings.position", Data: denseData(m.p), Grad: denseData(m.gp), Decay: true},
		{Name: "dense.weight", Data: denseData(m.w), Grad: denseData(m.gw), Decay: true},
		{Name: "dense.bias", Data: vecData(m.b), Grad: vecData(m.gb)},
		{Name: "lm_head.bias", Data: vecData(m.o), Grad: vecData(m.gOut)},
	}
}

func denseData(d *mat.Dense) []float64 {
	if d == nil {
		return nil
	}
	return d.RawMatrix().Data
}

func vecData(v *mat.VecDense) []float64 {
	if v == nil {
		return nil
	}
	return v.RawVector().Data
}

// ZeroGrad 清零所有梯度。
func (m *Model) ZeroGrad() {
	for _, p := range m.Params() {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

func (m *Model) check(b contract.Batch) error {
	v := m.cfg.VocabSize
	for r, row := range b.InputIDs {
		if len(row) > m.cfg.MaxPositionEmbeddings {
			return fmt.Errorf("cbow: %w: row %d length %d exceeds %d positions", contract.ErrInvariantViolation, r, len(row), m.cfg.MaxPositionEmbeddings)
		}
		if r >= len(b.AttentionMask) || r >= len(b.Labels) || len(b.AttentionMask[r]) != len(row) || len(b.Labels[r]) != len(row) {
			return fmt.Errorf("cbow: %w: ragged batch at row %d", contract.ErrInvariantViolation, r)
		}
		for j, id := range row {
			if id < 0 || id >= v {
				return fmt.Errorf("cbow: %w: input id %d at [%d,%d], vocab %d", contract.ErrVocabMismatch, id, r, j, v)
			}
			if lab := b.Labels[r][j]; lab != contract.IgnoreIndex && (lab < 0 || lab >= v) {
				return fmt.Errorf("cbow: %w: label %d at [%d,%d], vocab %d", contract.ErrVocabMismatch, lab, r, j, v)
			}
		}
	}
	return nil
}

// Loss 计算批内被标注位置的平均交叉熵；train 为 true 时累加梯度。
func (m *Model) Loss(b contract.Batch, train bool) (float64, int, error) {
	if err := m.check(b); err != nil {
		return 0, 0, err
	}
	total := 0
	for r := range b.Labels {
		for j, lab := range b.Labels[r] {
			if lab != contract.IgnoreIndex && b.AttentionMask[r][j] == 1 {
				total++
			}
		}
	}
	if total == 0 {
		return 0, 0, nil
	}
	d, v := m.cfg.HiddenSize, m.cfg.VocabSize
	scale := 1 / float64(total)

	mean := mat.NewVecDense(d, nil)
	c := mat.NewVecDense(d, nil)
	h := mat.NewVecDense(d, nil)
	logits := mat.NewVecDense(v, nil)
	dlog := mat.NewVecDense(v, nil)
	dh := mat.NewVecDense(d, nil)
	dz := mat.NewVecDense(d, nil)
	dc := mat.NewVecDense(d, nil)
	dmean := mat.NewVecDense(d, nil)

	var sum float64
	for r, row := range b.InputIDs {
		attended := 0
		mean.Zero()
		for j, id := range row {
			if b.AttentionMask[r][j] == 1 {
				mean.AddVec(mean, m.e.RowView(id))
				attended++
			}
		}
		if attended == 0 {
			continue
		}
		mean.ScaleVec(1/float64(attended), mean)
		dmean.Zero()
		for i, lab := range b.Labels[r] {
			if lab == contract.IgnoreIndex || b.AttentionMask[r][i] != 1 {
				continue
			}
			c.AddVec(mean, m.p.RowView(i))
			h.MulVec(m.w, c)
			h.AddVec(h, m.b)
			hd := h.RawVector().Data
			for k := range hd {
				hd[k] = math.Tanh(hd[k])
			}
			logits.MulVec(m.e, h)
			logits.AddVec(logits, m.o)
			ld := logits.RawVector().Data
			lse := floats.LogSumExp(ld)
			sum += lse - ld[lab]
			if !train {
				continue
			}
			// dlogits = (softmax - onehot) / N
			dd := dlog.RawVector().Data
			for k := range dd {
				dd[k] = math.Exp(ld[k]-lse) * scale
			}
			dd[lab] -= scale
			m.gOut.AddVec(m.gOut, dlog)
			dh.MulVec(m.e.T(), dlog)
			m.ge.RankOne(m.ge, 1, dlog, h)
			zd, dhd := dz.RawVector().Data, dh.RawVector().Data
			for k := range zd {
				zd[k] = dhd[k] * (1 - hd[k]*hd[k])
			}
			m.gb.AddVec(m.gb, dz)
			m.gw.RankOne(m.gw, 1, dz, c)
			dc.MulVec(m.w.T(), dz)
			prow := m.gp.RowView(i).(*mat.VecDense)
			prow.AddVec(prow, dc)
			dmean.AddVec(dmean, dc)
		}
		if !train {
			continue
		}
		dmean.ScaleVec(1/float64(attended), dmean)
		for j, id := range row {
			if b.AttentionMask[r][j] == 1 {
				erow := m.ge.RowView(id).(*mat.VecDense)
				erow.AddVec(erow, dmean)
			}
		}
	}
	return sum * scale, total, nil
}

// state: model.gob 的编码结构。
type state struct {
	Config Config
	E, P   []float64
	W      []float64
	B, O   []float64
}

func (m *Model) decode(f *os.File) error {
	var st state
	if err := gob.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	d, l, v := st.Config.HiddenSize, st.Config.MaxPositionEmbeddings, st.Config.VocabSize
	if d <= 0 || l <= 0 || v < 0 || len(st.E) != v*d || len(st.P) != l*d || len(st.W) != d*d || len(st.B) != d || len(st.O) != v {
		return fmt.Errorf("%w: weights do not match config %+v", contract.ErrInvariantViolation, st.Config)
	}
	m.cfg = st.Config
	m.e = newDense(v, d, st.E)
	m.p = mat.NewDense(l, d, st.P)
	m.w = mat.NewDense(d, d, st.W)
	m.b = mat.NewVecDense(d, st.B)
	if v > 0 {
		m.o = mat.NewVecDense(v, st.O)
	}
	m.allocGrads()
	return nil
}

// Save 写出 dir/model.gob 与 dir/config.json。
func (m *Model) Save(w contract.Writer, dir string) error {
	st := state{
		Config: m.cfg,
		E:      denseData(m.e),
		P:      denseData(m.p),
		W:      denseData(m.w),
		B:      vecData(m.b),
		O:      vecData(m.o),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&st); err != nil {
		return err
	}
	ctx := context.Background()
	if err := w.Write(ctx, contract.ArtifactID(dir).Join(WeightsFile), &buf); err != nil {
		return err
	}
	cb, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return w.Write(ctx, contract.ArtifactID(dir).Join(ConfigFile), bytes.NewReader(cb))
}
