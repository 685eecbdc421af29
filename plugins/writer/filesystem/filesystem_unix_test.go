//go:build !windows

package filesystem

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tapt/pkg/contract"
)

func TestEscapingIDsRejectedUnix(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	ctx := context.Background()
	for _, id := range []contract.ArtifactID{"/etc/passwd", "..", ".", "checkpoint-1/../../x", "../runs/checkpoint-2"} {
		if err := w.Write(ctx, id, strings.NewReader("x")); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("write %q: %v", id, err)
		}
		if err := w.Remove(ctx, id); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("remove %q: %v", id, err)
		}
	}
	if _, err := w.List(ctx, "../"); !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("list escaping dir: %v", err)
	}
}
