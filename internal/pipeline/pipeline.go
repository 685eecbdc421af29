package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"tapt/internal/collator"
	"tapt/internal/corpus"
	"tapt/internal/dataset"
	"tapt/internal/diag"
	"tapt/internal/gpu"
	"tapt/internal/trainer"
	"tapt/pkg/contract"
)

// - 顺序约束：扩词 → 分词 → 调整嵌入 → 训练；任何一步失败即返回，不重试。
// - 单点并发：仅分词阶段并发（worker 池在 dataset 内），其余阶段串行。
// - 设备：GPU 可用时尝试迁移模型；后端不支持则告警并留在 cpu。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader    contract.Reader
	Tokenizer contract.Tokenizer
	Model     contract.MaskedLM
	Writer    contract.Writer
	// Probe: 可选；nil 视为无 GPU。
	Probe gpu.Probe
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	DatasetName string
	DataDir     string
	// ModelDir/TokenizerKind 仅用于日志与终端提示。
	ModelDir      string
	TokenizerKind string
	NumProc       int
	MaxLength     int
	Args          trainer.Args
	// CacheMaxBytes>0 时启用分词缓存；CacheDir 为空则仅驻留内存。
	CacheDir      string
	CacheMaxBytes int
	// ExportDir 非空时导出分词结果（parquet）。
	ExportDir string
}

// Run 执行完整流程：Reader → Corpus → Dataset → (扩词) → Tokenize → (Export) → Device → Resize → Train。
// 结束时向 stdout 打印 TrainOutput、Time、Samples/second 与显存占用。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger, stdout io.Writer) (trainer.TrainOutput, error) {
	if err := sanity(comp, set); err != nil {
		return trainer.TrainOutput{}, fmt.Errorf("sanity: %w", err)
	}
	if stdout == nil {
		stdout = io.Discard
	}
	term := diag.GetTerminal()
	term.RunStart(set.ModelDir, set.NumProc)
	runStart := time.Now()
	ok := false
	defer func() { term.RunFinish(ok, time.Since(runStart)) }()

	if f, fresh := comp.Model.(interface{ Fresh() bool }); fresh && f.Fresh() {
		logger.Warn("model", diag.CodeIO, "no weights found, initialized fresh", diag.Fields{"model": set.ModelDir})
	}

	// 1) 语料
	ctimer := logger.Begin("corpus", "load", set.DataDir, diag.Fields{"dataset": set.DatasetName})
	corp, stats, err := corpus.LoadWithStats(ctx, comp.Reader, set.DataDir, set.DatasetName)
	if err != nil {
		return trainer.TrainOutput{}, fail(logger, "corpus", "load failed", err)
	}
	ctimer.End("load", int64(corp.Len()), diag.Fields{
		"files":      strconv.Itoa(stats.Files),
		"train":      strconv.Itoa(len(corp[contract.SplitTrain])),
		"validation": strconv.Itoa(len(corp[contract.SplitValidation])),
		"test":       strconv.Itoa(len(corp[contract.SplitTest])),
		"skipped":    strconv.Itoa(stats.Skipped),
	})

	// 2) 组装（丢弃 test）
	dict := dataset.Assemble(corp)

	// 3) 扩词：必须先于分词与调整嵌入
	var tok contract.Tokenizer = comp.Tokenizer
	added, err := tok.AddSpecialTokens(contract.MarkerTokens)
	if err != nil {
		return trainer.TrainOutput{}, fail(logger, "tokenizer", "add special tokens failed", err)
	}
	logger.Info("tokenizer", "special tokens added", diag.Fields{
		"kind": set.TokenizerKind, "added": strconv.Itoa(added), "vocab": strconv.Itoa(tok.Len()),
	})
	var cache *dataset.EncodeCache
	if set.CacheMaxBytes > 0 {
		cache = dataset.NewEncodeCache(tok, set.CacheDir, set.CacheMaxBytes)
		tok = cache
	}

	// 4) 分词
	ttimer := logger.Begin("tokenizer", "tokenize", "", diag.Fields{"num_proc": strconv.Itoa(set.NumProc)})
	tokd, err := dataset.Tokenize(ctx, dict, tok, dataset.TokenizeOptions{MaxLength: set.MaxLength, NumProc: set.NumProc})
	if err != nil {
		return trainer.TrainOutput{}, fail(logger, "tokenizer", "tokenize failed", err)
	}
	trainT, err := tokd.Split(contract.SplitTrain)
	if err != nil {
		return trainer.TrainOutput{}, fail(logger, "tokenizer", "train split missing", err)
	}
	evalT, err := tokd.Split(contract.SplitValidation)
	if err != nil {
		return trainer.TrainOutput{}, fail(logger, "tokenizer", "validation split missing", err)
	}
	ttimer.End("tokenize", int64(trainT.Len()+evalT.Len()), diag.Fields{"tokens": strconv.Itoa(trainT.Tokens() + evalT.Tokens())})
	if cache != nil {
		entries, gets, misses := cache.Stats()
		logger.Info("cache", "encode cache", diag.Fields{
			"entries": strconv.FormatUint(entries, 10), "gets": strconv.FormatUint(gets, 10), "misses": strconv.FormatUint(misses, 10),
		})
		if err := cache.Save(); err != nil {
			// 缓存仅为加速，持久化失败不影响训练
			logger.Warn("cache", diag.Classify(err), "save failed: "+err.Error(), nil)
		}
	}

	// 5) 导出（可选）
	if set.ExportDir != "" {
		etimer := logger.Begin("dataset", "export", set.ExportDir, nil)
		if err := dataset.Export(set.ExportDir, tokd); err != nil {
			return trainer.TrainOutput{}, fail(logger, "dataset", "export failed", err)
		}
		etimer.End("export", int64(len(tokd.Splits())), nil)
	}

	// 6) 设备
	if comp.Probe != nil && comp.Probe.Available(ctx) {
		if err := comp.Model.To("cuda"); err != nil {
			if !errors.Is(err, contract.ErrDeviceUnsupported) {
				return trainer.TrainOutput{}, fail(logger, "model", "move to device failed", err)
			}
			logger.Warn("model", diag.CodeResource, "cuda unsupported by backend, staying on "+comp.Model.Device(), nil)
		}
		fmt.Fprintln(stdout, gpu.Report(ctx, comp.Probe))
	}

	// 7) 调整嵌入：词表大小以扩词后的分词器为准
	if err := comp.Model.ResizeTokenEmbeddings(tok.Len()); err != nil {
		return trainer.TrainOutput{}, fail(logger, "model", "resize token embeddings failed", err)
	}

	// 8) 训练
	coll, err := collator.New(tok.Specials(), tok.Len(), set.Args.MLMProbability)
	if err != nil {
		return trainer.TrainOutput{}, fail(logger, "collator", "init failed", err)
	}
	tr := trainer.New(set.Args, comp.Model, coll, comp.Writer, logger)
	out, err := tr.Train(ctx, rowsOf(trainT), rowsOf(evalT))
	if err != nil {
		return trainer.TrainOutput{}, fail(logger, "trainer", "train failed", err)
	}

	fmt.Fprintln(stdout, out.String())
	printSummary(ctx, stdout, out, comp.Probe)
	ok = true
	return out, nil
}

// printSummary 打印运行摘要。
func printSummary(ctx context.Context, w io.Writer, out trainer.TrainOutput, p gpu.Probe) {
	fmt.Fprintf(w, "Time: %.2f\n", out.Metrics["train_runtime"])
	fmt.Fprintf(w, "Samples/second: %.2f\n", out.Metrics["train_samples_per_second"])
	fmt.Fprintln(w, gpu.Report(ctx, p))
}

func rowsOf(t *dataset.TokenizedTable) []collator.Row {
	rows := make([]collator.Row, t.Len())
	for i := range rows {
		rows[i] = collator.Row{IDs: t.InputIDs[i], SpecialMask: t.SpecialMask[i]}
	}
	return rows
}

// fail 记录错误事件并返回带阶段前缀的包装错误。
func fail(logger *diag.Logger, comp, msg string, err error) error {
	logger.Fail(comp, msg, err, nil)
	return fmt.Errorf("%s: %w", comp, err)
}

func sanity(comp Components, set Settings) error {
	if comp.Reader == nil || comp.Tokenizer == nil || comp.Model == nil || comp.Writer == nil {
		return errors.New("components incomplete")
	}
	if set.DatasetName == "" {
		return errors.New("dataset name empty")
	}
	if set.DataDir == "" {
		return errors.New("data dir empty")
	}
	return nil
}
