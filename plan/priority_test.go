package plan

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestPrioritiesFlag(t *testing.T) {
	var p Priorities

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Var(&p, "nice", "")

	if err := fs.Parse([]string{"--nice", "0=5", "--nice", "3=-2,1=19"}); err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if got := p.For(0); got != 5 {
		t.Errorf("For(0) = %d, want 5", got)
	}
	if got := p.For(3); got != -2 {
		t.Errorf("For(3) = %d, want -2", got)
	}
	if got := p.For(2); got != 0 {
		t.Errorf("For(2) = %d, want 0", got)
	}
	if got := p.String(); got != "0=5,1=19,3=-2" {
		t.Errorf("String() = %q", got)
	}
}

func TestPrioritiesRejects(t *testing.T) {
	for _, in := range []string{"5", "x=1", "0=y", "0=20", "0=-21"} {
		var p Priorities
		if err := p.Set(in); err == nil {
			t.Errorf("Set(%q) succeeded, want error", in)
		}
	}
}

func TestNiceCohort(t *testing.T) {
	n, tuning := NiceCohort()
	if n != 2 {
		t.Errorf("cohort = %d, want 2", n)
	}
	if tuning.Priorities.For(0) != 5 || tuning.Priorities.For(1) != 0 {
		t.Errorf("priorities = %v", tuning.Priorities)
	}
	if tuning.CPU != NoCPU {
		t.Errorf("cpu = %d, want NoCPU", tuning.CPU)
	}
}
