package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "tapt/internal/config"
	"tapt/internal/diag"
	"tapt/internal/pipeline"
	"tapt/internal/trainer"
)

func setArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	os.Args = append([]string{"tapt"}, args...)
	t.Cleanup(func() { os.Args = orig })
}

// chdirTemp 切换到临时目录并在其中放置最小模型目录（vocab.txt）。
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	if err := os.MkdirAll("bert", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join("bert", "vocab.txt"), []byte("[PAD]\n[UNK]\n[CLS]\n[SEP]\n[MASK]\nhello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

type runFunc = func(context.Context, pipeline.Components, pipeline.Settings, *diag.Logger, io.Writer) (trainer.TrainOutput, error)

func stubPipeline(t *testing.T, fn runFunc) *bool {
	t.Helper()
	called := false
	orig := pipelineRun
	pipelineRun = func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger, w io.Writer) (trainer.TrainOutput, error) {
		called = true
		if fn != nil {
			return fn(ctx, comp, set, logger, w)
		}
		return trainer.TrainOutput{}, nil
	}
	t.Cleanup(func() { pipelineRun = orig })
	return &called
}

func TestWriteConfig(t *testing.T) {
	cfg := cfgpkg.Defaults()
	file := filepath.Join(t.TempDir(), "c.json")
	if err := writeConfig(file, cfg); err != nil {
		t.Fatalf("writeConfig file: %v", err)
	}
	if err := writeConfig(file, cfg); err == nil {
		t.Fatal("existing file must not be overwritten")
	}
}

func TestRunFlags(t *testing.T) {
	chdirTemp(t)
	setArgs(t, "--dataset_name", "tweets", "--model", "bert", "--model_name", "-bert", "--num_proc", "2", "--status=false")
	called := stubPipeline(t, func(_ context.Context, comp pipeline.Components, set pipeline.Settings, _ *diag.Logger, _ io.Writer) (trainer.TrainOutput, error) {
		if set.DatasetName != "tweets" || set.NumProc != 2 || set.DataDir != "data" {
			t.Errorf("settings=%+v", set)
		}
		if set.Args.OutputDir != "runs/ta_pretraining-bert" {
			t.Errorf("output dir=%s", set.Args.OutputDir)
		}
		if set.TokenizerKind != "wordpiece" || comp.Tokenizer == nil {
			t.Errorf("tokenizer=%s", set.TokenizerKind)
		}
		return trainer.TrainOutput{}, nil
	})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if !*called {
		t.Fatal("pipelineRun not called")
	}
}

func TestRunMissingRequired(t *testing.T) {
	chdirTemp(t)
	setArgs(t, "--model", "bert")
	called := stubPipeline(t, nil)
	if code := run(); code != 3 {
		t.Fatalf("expect 3, got %d", code)
	}
	if *called {
		t.Fatal("pipeline must not run")
	}
}

func TestRunUnknownFlag(t *testing.T) {
	chdirTemp(t)
	setArgs(t, "--learning_rate", "1e-4")
	if code := run(); code != 3 {
		t.Fatalf("expect 3, got %d", code)
	}
}

func TestRunConfigJSONEnv(t *testing.T) {
	chdirTemp(t)
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.DatasetName, cfg.Model = "tweets", "bert"
	b, _ := json.Marshal(cfg)
	t.Setenv("TAPT_CONFIG_JSON", string(b))
	setArgs(t, "--status=false")
	called := stubPipeline(t, nil)
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if !*called {
		t.Fatal("pipelineRun not called")
	}
}

func TestRunConfigFileAndPrecedence(t *testing.T) {
	dir := chdirTemp(t)
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.DatasetName, cfg.Model, cfg.NumProc = "from-json", "bert", 2
	b, _ := json.Marshal(cfg)
	path := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TAPT_CONFIG_FILE", path)
	t.Setenv("TAPT_NUM_PROC", "6")
	t.Setenv("TAPT_DATASET_NAME", "from-env")
	setArgs(t, "--dataset_name", "from-cli", "--status=false")
	stubPipeline(t, func(_ context.Context, _ pipeline.Components, set pipeline.Settings, _ *diag.Logger, _ io.Writer) (trainer.TrainOutput, error) {
		if set.DatasetName != "from-cli" || set.NumProc != 6 {
			t.Errorf("precedence broken: %+v", set)
		}
		return trainer.TrainOutput{}, nil
	})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
}

func TestRunDefaultConfigFile(t *testing.T) {
	chdirTemp(t)
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.DatasetName, cfg.Model = "tweets", "bert"
	b, _ := json.Marshal(cfg)
	if err := os.WriteFile("config.json", b, 0o644); err != nil {
		t.Fatal(err)
	}
	setArgs(t, "--status=false")
	called := stubPipeline(t, nil)
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if !*called {
		t.Fatal("pipelineRun not called")
	}
}

func TestRunDotEnv(t *testing.T) {
	chdirTemp(t)
	if err := os.WriteFile(".env", []byte("TAPT_DATASET_NAME=dotenv\nTAPT_MODEL=bert\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// .env 写入进程环境；测试结束后清理
	t.Setenv("TAPT_DATASET_NAME", "")
	t.Setenv("TAPT_MODEL", "")
	os.Unsetenv("TAPT_DATASET_NAME")
	os.Unsetenv("TAPT_MODEL")
	setArgs(t, "--status=false")
	stubPipeline(t, func(_ context.Context, _ pipeline.Components, set pipeline.Settings, _ *diag.Logger, _ io.Writer) (trainer.TrainOutput, error) {
		if set.DatasetName != "dotenv" {
			t.Errorf("dataset=%s", set.DatasetName)
		}
		return trainer.TrainOutput{}, nil
	})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
}

func TestRunConfigFileNotFound(t *testing.T) {
	chdirTemp(t)
	setArgs(t, "--config", "missing.json")
	if code := run(); code != 3 {
		t.Fatalf("expect 3, got %d", code)
	}
}

func TestRunBadEnvNumber(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TAPT_NUM_PROC", "many")
	setArgs(t, "--dataset_name", "d", "--model", "bert")
	if code := run(); code != 3 {
		t.Fatalf("expect 3, got %d", code)
	}
}

func TestRunAssembleError(t *testing.T) {
	chdirTemp(t)
	setArgs(t, "--dataset_name", "d", "--model", "no-such-model")
	called := stubPipeline(t, nil)
	if code := run(); code != 3 {
		t.Fatalf("expect 3, got %d", code)
	}
	if *called {
		t.Fatal("pipeline must not run")
	}
}

func TestRunPipelineError(t *testing.T) {
	chdirTemp(t)
	setArgs(t, "--dataset_name", "d", "--model", "bert", "--status=false")
	stubPipeline(t, func(context.Context, pipeline.Components, pipeline.Settings, *diag.Logger, io.Writer) (trainer.TrainOutput, error) {
		return trainer.TrainOutput{}, errors.New("boom")
	})
	if code := run(); code != 1 {
		t.Fatalf("expect 1, got %d", code)
	}
}

func TestRunInitConfigDefault(t *testing.T) {
	chdirTemp(t)
	setArgs(t, "--init-config")
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	for _, p := range []string{"config.json", ".env"} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s not written: %v", p, err)
		}
	}
	// 生成的模板可被严格解析
	if _, err := cfgpkg.LoadJSON("config.json", nil); err != nil {
		t.Fatalf("template not loadable: %v", err)
	}
}

func TestRunInitConfigDir(t *testing.T) {
	dir := chdirTemp(t)
	outDir := filepath.Join(dir, "emit")
	setArgs(t, "--init-config", outDir, "--status=false")
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if _, err := os.Stat(filepath.Join(outDir, "config.json")); err != nil {
		t.Fatalf("config not generated: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, ".env")); err != nil {
		t.Fatalf(".env not generated: %v", err)
	}
}

func TestRunInitConfigFileExists(t *testing.T) {
	dir := chdirTemp(t)
	outDir := filepath.Join(dir, "out2")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	setArgs(t, "--init-config", outDir)
	if code := run(); code != 3 {
		t.Fatalf("expect 3, got %d", code)
	}
}

func TestPreflightCheckOutputDir(t *testing.T) {
	dir := t.TempDir()
	if err := preflightCheckOutputDir(filepath.Join(dir, "a", "b", "c")); err != nil {
		t.Fatalf("nested missing dir: %v", err)
	}
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := preflightCheckOutputDir(file); err == nil {
		t.Fatal("file path should fail")
	}
	if err := preflightCheckOutputDir(filepath.Join(file, "x")); err == nil {
		t.Fatal("parent file should fail")
	}
}

func TestWithInitDefault(t *testing.T) {
	cases := []struct{ in, want []string }{
		{[]string{"--init-config"}, []string{"--init-config", "."}},
		{[]string{"--init-config", "--status=false"}, []string{"--init-config", ".", "--status=false"}},
		{[]string{"-init-config", "out"}, []string{"-init-config", "out"}},
		{[]string{"--init-config=out"}, []string{"--init-config=out"}},
	}
	for _, c := range cases {
		got := withInitDefault(c.in)
		if strings.Join(got, " ") != strings.Join(c.want, " ") {
			t.Fatalf("withInitDefault(%v)=%v", c.in, got)
		}
	}
}

func TestParseOptionsDefaults(t *testing.T) {
	o, err := parseOptions([]string{"--dataset_name", "tweets", "--model", "m"})
	if err != nil {
		t.Fatal(err)
	}
	if !o.status || o.numProc != 0 || o.dataDir != "" || o.initDir != "" {
		t.Fatalf("options=%+v", o)
	}
}

func TestResolveConfigInlineBeatsFile(t *testing.T) {
	dir := chdirTemp(t)
	file := filepath.Join(dir, "c.json")
	if err := os.WriteFile(file, []byte(`{"dataset_name":"file","model":"bert"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	env := map[string]string{
		"TAPT_CONFIG_FILE": file,
		"TAPT_CONFIG_JSON": `{"dataset_name":"inline","model":"bert"}`,
	}
	cfg, err := resolveConfig(options{}, func(k string) string { return env[k] }, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatasetName != "inline" || cfg.DataDir != "data" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if _, err := resolveConfig(options{}, func(k string) string {
		if k == "TAPT_CONFIG_JSON" {
			return `{"bogus":1}`
		}
		return ""
	}, nil); err == nil {
		t.Fatal("unknown field must fail")
	}
}
