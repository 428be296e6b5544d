package portcheck

import (
	"context"
	"testing"
)

type fakeFinder struct {
	pid  int
	name string
	ok   bool
}

func (f fakeFinder) FindOwner(ctx context.Context, port int) (int, string, bool) {
	return f.pid, f.name, f.ok
}

func TestDescribeWithNamedOwner(t *testing.T) {
	got := Describe(context.Background(), fakeFinder{pid: 1234, name: "claude-ops", ok: true}, 3211)
	want := " (likely owned by claude-ops, pid 1234)"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDescribeWithUnnamedOwner(t *testing.T) {
	got := Describe(context.Background(), fakeFinder{pid: 5678, ok: true}, 3211)
	want := " (likely owned by pid 5678)"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDescribeNoOwnerFound(t *testing.T) {
	got := Describe(context.Background(), fakeFinder{ok: false}, 3211)
	if got != "" {
		t.Fatalf("expected empty string when no owner is found, got %q", got)
	}
}
