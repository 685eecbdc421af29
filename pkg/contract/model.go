package contract

// Param: 可训练参数的扁平视图。Data/Grad 共享模型内部存储。
type Param struct {
	Name string
	Data []float64
	Grad []float64
	// Decay: 是否施加权重衰减（偏置类参数为 false）。
	Decay bool
}

// Batch: 已整理的 MLM 批（等长填充）。
type Batch struct {
	InputIDs      [][]int
	AttentionMask [][]int
	// Labels: 被遮蔽位置为原 id，其余为 IgnoreIndex。
	Labels [][]int
}

// Size 返回批内样本数。
func (b Batch) Size() int { return len(b.InputIDs) }

// MaskedLM: 掩码语言模型后端的窄接口。
// 约束：
//   - 任何 input id >= VocabSize() 必须以 ErrVocabMismatch 拒绝；
//   - ResizeTokenEmbeddings 须在扩词之后、训练之前调用；
//   - Loss(train=true) 在参数 Grad 上累加梯度；train=false 不触碰梯度。
type MaskedLM interface {
	VocabSize() int
	ResizeTokenEmbeddings(n int) error
	Device() string
	To(device string) error
	Params() []Param
	ZeroGrad()
	// Loss 返回批内被标注位置的平均交叉熵与位置数。
	Loss(b Batch, train bool) (loss float64, n int, err error)
	// Save 将权重与配置写入目录 dir（由调用方创建）。
	Save(w Writer, dir string) error
}
