package gpu

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func fakeRunner(out string, err error, got *[]string) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		if got != nil {
			*got = append([]string{name}, args...)
		}
		return []byte(out), err
	}
}

func TestUsedMB(t *testing.T) {
	var args []string
	p := &NvidiaSMI{Run: fakeRunner("1234\n5678\n", nil, &args)}
	n, err := p.UsedMB(context.Background())
	if err != nil || n != 1234 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	want := []string{"nvidia-smi", "--query-gpu=memory.used", "--format=csv,noheader,nounits", "-i", "0"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args=%v", args)
	}
	if got := Report(context.Background(), p); got != "GPU memory occupied: 1234 MB." {
		t.Fatalf("report=%q", got)
	}
}

func TestUnavailable(t *testing.T) {
	p := &NvidiaSMI{Run: fakeRunner("", errors.New("exec: not found"), nil)}
	if p.Available(context.Background()) {
		t.Fatalf("should be unavailable")
	}
	if got := Report(context.Background(), p); got != "GPU memory occupied: n/a" {
		t.Fatalf("report=%q", got)
	}
	if got := Report(context.Background(), nil); got != "GPU memory occupied: n/a" {
		t.Fatalf("nil probe report=%q", got)
	}
	if (&NvidiaSMI{}).Available(context.Background()) {
		t.Fatalf("no runner should be unavailable")
	}
}

func TestParseUsedErrors(t *testing.T) {
	if _, err := parseUsed([]byte("  \n")); err == nil {
		t.Fatalf("empty output should fail")
	}
	if _, err := parseUsed([]byte("N/A")); err == nil {
		t.Fatalf("non-numeric output should fail")
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	p := &NvidiaSMI{Bin: "tapt-no-such-binary", Run: ExecRunner}
	if p.Available(context.Background()) {
		t.Fatalf("missing binary should be unavailable")
	}
}
