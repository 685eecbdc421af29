//go:build !windows

package filesystem

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

// TestIterateNonRegular 非常规文件被忽略 (Unix only - uses mkfifo)
func TestIterateNonRegular(t *testing.T) {
	root := t.TempDir()
	if err := syscall.Mkfifo(filepath.Join(root, "x.train.sen"), 0o644); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}
	got, err := collect(t, New(nil), root)
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("non-regular should skip, visited %#v", got)
	}
}

// TestIterateSymlink 指向常规文件的符号链接被跟随 (Unix only)
func TestIterateSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "real.txt")
	os.WriteFile(target, []byte("ok"), 0o644)
	os.Symlink(target, filepath.Join(dir, "x.train.sen"))
	got, err := collect(t, New(nil), dir)
	if err != nil || len(got) != 1 || got[0] != "x.train.sen" {
		t.Fatalf("symlink not visited: %v %#v", err, got)
	}
}

// TestIterateSymlinkDir 指向目录的符号链接忽略 (Unix only)
func TestIterateSymlinkDir(t *testing.T) {
	root := t.TempDir()
	realDir := filepath.Join(root, "real")
	os.Mkdir(realDir, 0o755)
	os.Symlink(realDir, filepath.Join(root, "x.train.sen"))
	got, err := collect(t, New(nil), root)
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("dir symlink visited: %#v", got)
	}
}

// TestIterateSymlinkDangling 符号链接失效返回错误 (Unix only)
func TestIterateSymlinkDangling(t *testing.T) {
	dir := t.TempDir()
	os.Symlink(filepath.Join(dir, "no"), filepath.Join(dir, "x.train.sen"))
	if _, err := collect(t, New(nil), dir); err == nil {
		t.Fatalf("expect error for dangling symlink")
	}
}
