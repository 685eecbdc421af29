package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// preflightCheckOutputDir 在训练前确认 checkpoint 目录可写。
// 目录已存在时在其中创建并删除探测文件；不存在时对最近的已存在祖先目录做同样检查，
// 不提前创建目标目录。
func preflightCheckOutputDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	probe, err := nearestExisting(filepath.Clean(dir))
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(probe, ".tapt-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// nearestExisting 返回 p 本身（若存在）或其最近的已存在祖先；该路径必须是目录。
func nearestExisting(p string) (string, error) {
	for {
		st, err := os.Stat(p)
		switch {
		case err == nil && st.IsDir():
			return p, nil
		case err == nil:
			return "", fmt.Errorf("not a directory: %s", p)
		case !os.IsNotExist(err):
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor for %s", p)
		}
		p = parent
	}
}
