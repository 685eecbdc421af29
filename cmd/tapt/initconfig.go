package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	cfgpkg "tapt/internal/config"
)

// initConfig 在 dir 下生成 config.json 与 .env 模板。
// config.json 已存在视为错误；.env 已存在则保留原文件。
func initConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeConfig(filepath.Join(dir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
		return err
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fprintf(os.Stderr, "skip .env: %v\n", err)
	}
	return nil
}

// writeConfig 以 O_EXCL 创建文件，不覆盖已有配置。path 为 "-" 时写 stdout。
func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(b)
		return err
	}
	return createExclusive(path, b)
}

func writeDotEnv(path string) error {
	err := createExclusive(path, []byte(cfgpkg.DotEnvTemplate))
	if os.IsExist(err) {
		return nil
	}
	return err
}

func createExclusive(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
