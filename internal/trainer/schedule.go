package trainer

import "math"

// Schedule: 线性预热后线性衰减到 0。
type Schedule struct {
	Base   float64
	Warmup int
	Total  int
}

// NewSchedule 按 ratio 计算预热步数（向上取整）。
func NewSchedule(base float64, total int, ratio float64) Schedule {
	return Schedule{Base: base, Warmup: int(math.Ceil(float64(total) * ratio)), Total: total}
}

// LR 返回第 step 次更新（从 0 计）所用学习率。
func (s Schedule) LR(step int) float64 {
	if step < s.Warmup {
		return s.Base * float64(step) / float64(max(1, s.Warmup))
	}
	rest := float64(s.Total-step) / float64(max(1, s.Total-s.Warmup))
	if rest < 0 {
		rest = 0
	}
	return s.Base * rest
}
