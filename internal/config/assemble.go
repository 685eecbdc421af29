package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"tapt/internal/gpu"
	"tapt/internal/pipeline"
	"tapt/internal/trainer"
	"tapt/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.DatasetName) == "" {
		return errors.New("config: dataset_name not set")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return errors.New("config: model not set")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("config: data_dir cannot be empty")
	}
	if strings.ContainsAny(cfg.ModelName, `/\`) || strings.Contains(cfg.ModelName, "..") {
		return fmt.Errorf("config: model_name %q must not contain path separators", cfg.ModelName)
	}
	if cfg.NumProc < 1 {
		return errors.New("config: num_proc must be >= 1")
	}
	if cfg.MaxLength < 2 {
		return errors.New("config: max_length must be >= 2")
	}
	if cfg.Cache.MaxBytes < 0 {
		return errors.New("config: cache.max_bytes must be >= 0")
	}
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	// tokenizer 为空时在 Assemble 阶段按文件自动选择
	if name := cfg.Components.Tokenizer; name != "" && registry.Tokenizer[name] == nil {
		return fmt.Errorf("config: tokenizer %q not registered", name)
	}
	if name := effName(cfg.Components.Model, d.Components.Model); registry.Model[name] == nil {
		return fmt.Errorf("config: model %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
// Writer 未指定 output_dir 时注入 runs/ta_pretraining<model_name>；训练参数的 output_dir 与之一致。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	// 有效名称
	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	mn := effName(cfg.Components.Model, d.Components.Model)
	wn := effName(cfg.Components.Writer, d.Components.Writer)
	tn := cfg.Components.Tokenizer
	if tn == "" {
		kind, err := registry.DetectTokenizer(cfg.Model)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: %w", err)
		}
		tn = kind
	}

	// 构造实例
	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader %s: %w", rn, err)
	}
	tok, err := registry.Tokenizer[tn](cfg.Model, cfg.Options.Tokenizer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("tokenizer %s: %w", tn, err)
	}
	m, err := registry.Model[mn](cfg.Model, cfg.Options.Model)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("model %s: %w", mn, err)
	}
	outDir := trainer.OutputDirFor(cfg.ModelName)
	wraw, outDir, err := withOutputDir(cfg.Options.Writer, outDir)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer %s: %w", wn, err)
	}
	w, err := registry.Writer[wn](wraw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer %s: %w", wn, err)
	}

	comp := pipeline.Components{
		Reader:    r,
		Tokenizer: tok,
		Model:     m,
		Writer:    w,
		Probe:     gpu.NewNvidiaSMI(),
	}

	cacheDir := cfg.Cache.Dir
	if cfg.Cache.MaxBytes > 0 && cacheDir == "" {
		cacheDir = filepath.Join(outDir, ".cache", "encode")
	}
	set := pipeline.Settings{
		DatasetName:   cfg.DatasetName,
		DataDir:       cfg.DataDir,
		ModelDir:      cfg.Model,
		TokenizerKind: tn,
		NumProc:       cfg.NumProc,
		MaxLength:     cfg.MaxLength,
		Args:          trainer.DefaultArgs(outDir),
		CacheDir:      cacheDir,
		CacheMaxBytes: cfg.Cache.MaxBytes,
		ExportDir:     cfg.Export.Dir,
	}
	return comp, set, nil
}

// withOutputDir 在 writer options 缺少 output_dir（或为空）时注入 def；返回生效的输出目录。
func withOutputDir(raw json.RawMessage, def string) (json.RawMessage, string, error) {
	m := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, "", err
		}
	}
	if v, ok := m["output_dir"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil && strings.TrimSpace(s) != "" {
			return raw, s, nil
		}
	}
	b, err := json.Marshal(def)
	if err != nil {
		return nil, "", err
	}
	m["output_dir"] = b
	out, err := json.Marshal(m)
	return out, def, err
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
