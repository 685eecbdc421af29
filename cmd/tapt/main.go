// Command tapt 在领域语料上继续 MLM 预训练（task-adaptive pretraining）。
//
//	tapt --dataset_name tweets --model models/bert-base-uncased --model_name -bert
//
// 输出写入 runs/ta_pretraining<model_name>，每个 epoch 一个 checkpoint，最多保留 2 个。
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	cfgpkg "tapt/internal/config"
	"tapt/internal/diag"
	"tapt/internal/pipeline"
)

// 进程退出码。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

var pipelineRun = pipeline.Run

func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := genCorrID()
	// .env 必须先于任何 ENV 读取；已存在的环境变量不被覆盖
	_ = cfgpkg.LoadDotEnv(".env")

	logger := diag.NewLogger(corrID, "info")
	configFail := func(stage string, err error) int {
		fprintf(os.Stderr, "%s: %v\n", stage, err)
		logger.Fail("config", stage, err, &start)
		return exitConfig
	}

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		return exitConfig
	}
	if opts.initDir != "" {
		if err := initConfig(opts.initDir); err != nil {
			return configFail("init-config", err)
		}
		return exitOK
	}

	cfg, err := resolveConfig(opts, os.Getenv, os.Environ())
	if err != nil {
		return configFail("load config", err)
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		dumpConfig(cfg)
		return configFail("invalid config", err)
	}
	logger = diag.NewLogger(corrID, cfg.Logging.Level)

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return configFail("assemble", err)
	}
	if err := preflightCheckOutputDir(set.Args.OutputDir); err != nil {
		return configFail("output dir not writable", err)
	}

	diag.SetTerminal(diag.NewTerminal(os.Stderr, opts.status))
	defer diag.SetTerminal(nil)
	logger.Debug("config", "effective", diag.Fields{
		"dataset_name": cfg.DatasetName,
		"model":        cfg.Model,
		"model_name":   cfg.ModelName,
		"data_dir":     cfg.DataDir,
		"num_proc":     strconv.Itoa(cfg.NumProc),
		"max_length":   strconv.Itoa(cfg.MaxLength),
		"tokenizer":    set.TokenizerKind,
		"model_kind":   cfg.Components.Model,
		"output_dir":   set.Args.OutputDir,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	span := logger.Begin("pipeline", "run", set.Args.OutputDir, nil)
	_, err = pipelineRun(ctx, comp, set, logger, os.Stdout)
	defer func() { logger.Debug("metrics", "snapshot", diag.Snapshot().Fields()) }()
	if err != nil {
		logger.Fail("pipeline", "run", err, &start)
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "run failed: %v\n", err)
		}
		return exitRuntime
	}
	span.End("run", 0, nil)
	return exitOK
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func genCorrID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
