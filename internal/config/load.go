package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"tapt/internal/dataset"
)

// EnvPrefix: 环境变量前缀。
const EnvPrefix = "TAPT_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：dataset_name 与 model 不设默认（必须由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		DataDir:   "data",
		NumProc:   dataset.DefaultNumProc,
		MaxLength: dataset.DefaultMaxLength,
		Logging:   Logging{Level: "info"},
		Components: Components{
			Reader: "fs",
			Model:  "cbow",
			Writer: "fs",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并；零值视为未覆盖。
func Merge(base, over Config) Config {
	out := base
	setStr(&out.DatasetName, over.DatasetName)
	setStr(&out.Model, over.Model)
	setStr(&out.ModelName, over.ModelName)
	setStr(&out.DataDir, over.DataDir)
	if over.NumProc != 0 {
		out.NumProc = over.NumProc
	}
	if over.MaxLength != 0 {
		out.MaxLength = over.MaxLength
	}
	setStr(&out.Logging.Level, over.Logging.Level)

	// 组件名（空不覆盖）
	setStr(&out.Components.Reader, over.Components.Reader)
	setStr(&out.Components.Tokenizer, over.Components.Tokenizer)
	setStr(&out.Components.Model, over.Components.Model)
	setStr(&out.Components.Writer, over.Components.Writer)

	// Options（完整替换对应键）
	setRaw(&out.Options.Reader, over.Options.Reader)
	setRaw(&out.Options.Tokenizer, over.Options.Tokenizer)
	setRaw(&out.Options.Model, over.Options.Model)
	setRaw(&out.Options.Writer, over.Options.Writer)

	setStr(&out.Cache.Dir, over.Cache.Dir)
	if over.Cache.MaxBytes != 0 {
		out.Cache.MaxBytes = over.Cache.MaxBytes
	}
	setStr(&out.Export.Dir, over.Export.Dir)
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（键为 TAPT_ + env 标签路径）。
// 例：TAPT_DATASET_NAME、TAPT_COMPONENTS_TOKENIZER、TAPT_OPTIONS_MODEL_JSON。
// 未设置或空值的键不覆盖；数值解析失败返回错误。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	m := env.ToMap(environ)
	for k, v := range m {
		// 空值视为未设置，避免清空 config.json 中的值
		if strings.TrimSpace(v) == "" {
			delete(m, k)
		}
	}
	err := env.ParseWithOptions(&over, env.Options{
		Environment: m,
		Prefix:      EnvPrefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(json.RawMessage(nil)): func(v string) (interface{}, error) {
				return json.RawMessage(v), nil
			},
		},
	})
	if err != nil {
		return Config{}, err
	}
	trim(&over)
	return over, nil
}

// LoadDotEnv 读取 .env 并写入进程环境；已存在的变量不被覆盖。文件不存在时忽略。
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func trim(c *Config) {
	for _, p := range []*string{
		&c.DatasetName, &c.Model, &c.ModelName, &c.DataDir, &c.Logging.Level,
		&c.Components.Reader, &c.Components.Tokenizer, &c.Components.Model, &c.Components.Writer,
		&c.Cache.Dir, &c.Export.Dir,
	} {
		*p = strings.TrimSpace(*p)
	}
}

func setStr(dst *string, v string) {
	if t := strings.TrimSpace(v); t != "" {
		*dst = t
	}
}

func setRaw(dst *json.RawMessage, v json.RawMessage) {
	if len(v) > 0 {
		*dst = cloneRaw(v)
	}
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
