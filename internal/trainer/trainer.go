// Package trainer 实现 MLM 训练循环：按 epoch 训练、评估、保存并轮转 checkpoint。
package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"tapt/internal/collator"
	"tapt/internal/diag"
	"tapt/pkg/contract"
)

// 目录与文件名约定。
const (
	CheckpointPrefix = "checkpoint-"
	OptimizerFile    = "optimizer.gob"
	StateFile        = "trainer_state.json"
	ArgsFile         = "training_args.json"
)

// TrainOutput: 训练结果摘要。
type TrainOutput struct {
	GlobalStep   int
	TrainingLoss float64
	Metrics      map[string]float64
}

// String 形如 TrainOutput(global_step=10, training_loss=2.31, metrics={...})，键按字典序。
func (o TrainOutput) String() string {
	keys := make([]string, 0, len(o.Metrics))
	for k := range o.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("'%s': %s", k, strconv.FormatFloat(o.Metrics[k], 'g', -1, 64)))
	}
	return fmt.Sprintf("TrainOutput(global_step=%d, training_loss=%s, metrics={%s})",
		o.GlobalStep, strconv.FormatFloat(o.TrainingLoss, 'g', -1, 64), strings.Join(parts, ", "))
}

// LogEntry: trainer_state.json 中的一条历史记录。
type LogEntry struct {
	Epoch        float64  `json:"epoch"`
	Step         int      `json:"step"`
	Loss         *float64 `json:"loss,omitempty"`
	LearningRate *float64 `json:"learning_rate,omitempty"`
	EvalLoss     *float64 `json:"eval_loss,omitempty"`
}

// State: trainer_state.json。
type State struct {
	Epoch       float64    `json:"epoch"`
	GlobalStep  int        `json:"global_step"`
	MaxSteps    int        `json:"max_steps"`
	NumEpochs   int        `json:"num_train_epochs"`
	LogHistory  []LogEntry `json:"log_history"`
	TrainBatch  int        `json:"train_batch_size"`
	TotalFlos   float64    `json:"total_flos"`
	IsWorldZero bool       `json:"is_world_process_zero"`
}

// Trainer 串行执行训练；模型与优化器状态不跨 goroutine 共享。
type Trainer struct {
	args   Args
	model  contract.MaskedLM
	coll   *collator.Collator
	writer contract.Writer
	logger *diag.Logger
	now    func() time.Time
}

// New 构造 Trainer。logger 可为 nil。
func New(args Args, model contract.MaskedLM, coll *collator.Collator, w contract.Writer, logger *diag.Logger) *Trainer {
	return &Trainer{args: args, model: model, coll: coll, writer: w, logger: logger, now: time.Now}
}

func ptr(f float64) *float64 { return &f }

// Train 运行全部 epoch。任一错误原样上抛（不重试、不恢复）。
func (t *Trainer) Train(ctx context.Context, train, eval []collator.Row) (TrainOutput, error) {
	a := t.args
	if len(train) == 0 {
		return TrainOutput{}, fmt.Errorf("trainer: %w: empty train split", contract.ErrInvariantViolation)
	}
	if a.PerDeviceTrainBatchSize <= 0 || a.NumTrainEpochs <= 0 {
		return TrainOutput{}, fmt.Errorf("trainer: %w: batch=%d epochs=%d", contract.ErrInvariantViolation, a.PerDeviceTrainBatchSize, a.NumTrainEpochs)
	}
	stepsPerEpoch := (len(train) + a.PerDeviceTrainBatchSize - 1) / a.PerDeviceTrainBatchSize
	total := stepsPerEpoch * a.NumTrainEpochs
	sched := NewSchedule(a.LearningRate, total, a.WarmupRatio)
	opt := NewAdamW(a)
	rng := rand.New(rand.NewSource(a.Seed))
	term := diag.GetTerminal()

	state := State{MaxSteps: total, NumEpochs: a.NumTrainEpochs, TrainBatch: a.PerDeviceTrainBatchSize, IsWorldZero: true}
	order := make([]int, len(train))
	for i := range order {
		order[i] = i
	}
	rows := make([]collator.Row, 0, a.PerDeviceTrainBatchSize)

	start := t.now()
	timer := t.logger.Begin("trainer", "train", t.args.OutputDir, diag.Fields{
		"samples": strconv.Itoa(len(train)), "steps": strconv.Itoa(total), "warmup": strconv.Itoa(sched.Warmup),
	})
	var (
		step      int
		lossSum   float64
		lossSteps int
		winSum    float64
		winSteps  int
		saved     = -1
	)
	for epoch := 1; epoch <= a.NumTrainEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return TrainOutput{}, err
		}
		epochStart := t.now()
		term.EpochStart(epoch, a.NumTrainEpochs, stepsPerEpoch)
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for s := 0; s < stepsPerEpoch; s++ {
			if err := ctx.Err(); err != nil {
				return TrainOutput{}, err
			}
			rows = rows[:0]
			for _, idx := range order[s*a.PerDeviceTrainBatchSize : min(len(order), (s+1)*a.PerDeviceTrainBatchSize)] {
				rows = append(rows, train[idx])
			}
			batch := t.coll.Collate(rows, rng)
			t.model.ZeroGrad()
			loss, n, err := t.model.Loss(batch, true)
			if err != nil {
				return TrainOutput{}, fmt.Errorf("epoch %d step %d: %w", epoch, step, err)
			}
			if n == 0 {
				// 该批无掩码位置：无梯度，跳过更新
				continue
			}
			params := t.model.Params()
			ClipGradNorm(params, a.MaxGradNorm)
			lr := sched.LR(step)
			if err := opt.Step(params, lr); err != nil {
				return TrainOutput{}, err
			}
			step++
			lossSum += loss
			lossSteps++
			winSum += loss
			winSteps++
			term.StepProgress(s+1, loss)
			if a.LoggingSteps > 0 && step%a.LoggingSteps == 0 {
				ep := float64(epoch-1) + float64(s+1)/float64(stepsPerEpoch)
				avg := winSum / float64(winSteps)
				state.LogHistory = append(state.LogHistory, LogEntry{Epoch: ep, Step: step, Loss: ptr(avg), LearningRate: ptr(lr)})
				t.logger.Info("trainer", "log", diag.Fields{
					"step": strconv.Itoa(step), "loss": fmtF(avg), "learning_rate": fmtF(lr), "epoch": fmtF(ep),
				})
				winSum, winSteps = 0, 0
			}
		}
		state.Epoch = float64(epoch)
		state.GlobalStep = step

		evalLoss := math.NaN()
		if len(eval) > 0 {
			l, err := t.Evaluate(eval)
			if err != nil {
				return TrainOutput{}, fmt.Errorf("evaluate epoch %d: %w", epoch, err)
			}
			evalLoss = l
			if math.IsNaN(l) {
				t.logger.Warn("trainer", diag.CodeInvariant, "no masked position in validation split, eval_loss unavailable", nil)
			} else {
				state.LogHistory = append(state.LogHistory, LogEntry{Epoch: float64(epoch), Step: step, EvalLoss: ptr(l)})
				t.logger.Info("trainer", "eval", diag.Fields{"epoch": strconv.Itoa(epoch), "eval_loss": fmtF(l)})
			}
		} else {
			t.logger.Warn("trainer", diag.CodeInvariant, "validation split empty, evaluation skipped", nil)
		}

		// 本 epoch 没有任何更新时 step 不变，保留已有的同名 checkpoint
		if step == saved {
			t.logger.Warn("trainer", diag.CodeInvariant, "no optimizer update in epoch, checkpoint not rewritten",
				diag.Fields{"epoch": strconv.Itoa(epoch), "step": strconv.Itoa(step)})
		} else {
			if err := t.saveCheckpoint(ctx, step, opt, state); err != nil {
				return TrainOutput{}, err
			}
			if err := t.rotate(ctx); err != nil {
				return TrainOutput{}, err
			}
			saved = step
		}
		term.EpochFinish(evalLoss, t.now().Sub(epochStart))
	}

	runtime := t.now().Sub(start).Seconds()
	trainLoss := 0.0
	if lossSteps > 0 {
		trainLoss = lossSum / float64(lossSteps)
	}
	out := TrainOutput{
		GlobalStep:   step,
		TrainingLoss: trainLoss,
		Metrics: map[string]float64{
			"train_runtime":            round(runtime, 4),
			"train_samples_per_second": round(perSecond(float64(len(train)*a.NumTrainEpochs), runtime), 3),
			"train_steps_per_second":   round(perSecond(float64(step), runtime), 3),
			"train_loss":               trainLoss,
			"epoch":                    float64(a.NumTrainEpochs),
		},
	}
	timer.End("train", int64(step), diag.Fields{"train_loss": fmtF(trainLoss)})
	return out, nil
}

// Evaluate 以固定种子掩码计算验证集平均损失（按掩码位置数加权）。
// 没有任何掩码位置时返回 NaN。
func (t *Trainer) Evaluate(eval []collator.Row) (float64, error) {
	bs := t.args.PerDeviceEvalBatchSize
	if bs <= 0 {
		bs = t.args.PerDeviceTrainBatchSize
	}
	rng := rand.New(rand.NewSource(t.args.Seed))
	var sum float64
	var count int
	for i := 0; i < len(eval); i += bs {
		batch := t.coll.Collate(eval[i:min(len(eval), i+bs)], rng)
		loss, n, err := t.model.Loss(batch, false)
		if err != nil {
			return 0, err
		}
		sum += loss * float64(n)
		count += n
	}
	if count == 0 {
		return math.NaN(), nil
	}
	return sum / float64(count), nil
}

func (t *Trainer) saveCheckpoint(ctx context.Context, step int, opt *AdamW, state State) error {
	dir := CheckpointPrefix + strconv.Itoa(step)
	timer := t.logger.Begin("trainer", "save", dir, nil)
	if err := t.model.Save(t.writer, dir); err != nil {
		return fmt.Errorf("save %s: %w", dir, err)
	}
	var buf bytes.Buffer
	if err := opt.Encode(&buf); err != nil {
		return err
	}
	if err := t.writer.Write(ctx, contract.ArtifactID(dir).Join(OptimizerFile), &buf); err != nil {
		return fmt.Errorf("save %s: %w", dir, err)
	}
	for name, v := range map[string]any{StateFile: state, ArgsFile: t.args} {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		if err := t.writer.Write(ctx, contract.ArtifactID(dir).Join(name), bytes.NewReader(b)); err != nil {
			return fmt.Errorf("save %s: %w", dir, err)
		}
	}
	timer.End("save", int64(step), nil)
	return nil
}

// rotate 仅保留 SaveTotalLimit 个最新 checkpoint（按 step 排序）。
// Writer 不支持 Pruner 时跳过。
func (t *Trainer) rotate(ctx context.Context) error {
	limit := t.args.SaveTotalLimit
	p, ok := t.writer.(contract.Pruner)
	if limit <= 0 || !ok {
		return nil
	}
	ids, err := p.List(ctx, "")
	if err != nil {
		return err
	}
	type ckpt struct {
		id   contract.ArtifactID
		step int
	}
	var all []ckpt
	for _, id := range ids {
		name := id.Base()
		if !strings.HasPrefix(name, CheckpointPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, CheckpointPrefix))
		if err != nil {
			continue
		}
		all = append(all, ckpt{id: id, step: n})
	}
	if len(all) <= limit {
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].step < all[j].step })
	for _, c := range all[:len(all)-limit] {
		if err := p.Remove(ctx, c.id); err != nil {
			return fmt.Errorf("rotate %s: %w", c.id, err)
		}
		t.logger.Info("trainer", "checkpoint removed", diag.Fields{"checkpoint": string(c.id)})
	}
	return nil
}

func perSecond(n, secs float64) float64 {
	if secs <= 0 {
		return 0
	}
	return n / secs
}

func round(f float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(f*p) / p
}

func fmtF(f float64) string { return strconv.FormatFloat(f, 'g', 6, 64) }
