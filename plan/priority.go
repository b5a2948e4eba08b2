package plan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// Niceness bounds accepted by setpriority(2).
const (
	MinNice = -20
	MaxNice = 19
)

// NoCPU disables CPU pinning.
const NoCPU = -1

// Priorities maps a worker id to the niceness delta applied to it right
// after it starts. Workers without an entry keep the inherited priority.
type Priorities map[uint32]int

var _ pflag.Value = (*Priorities)(nil)

// For returns the niceness delta for a worker.
func (p Priorities) For(id uint32) int {
	return p[id]
}

// String renders the map as sorted id=delta pairs.
func (p *Priorities) String() string {
	if p == nil || len(*p) == 0 {
		return ""
	}

	ids := make([]uint32, 0, len(*p))
	for id := range *p {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d=%d", id, (*p)[id]))
	}

	return strings.Join(parts, ",")
}

// Set parses one or more comma separated id=delta pairs.
func (p *Priorities) Set(s string) error {
	if *p == nil {
		*p = make(Priorities)
	}

	for _, pair := range strings.Split(s, ",") {
		id, delta, err := parsePriority(pair)
		if err != nil {
			return err
		}

		(*p)[id] = delta
	}

	return nil
}

// Type implements pflag.Value.
func (*Priorities) Type() string {
	return "id=delta"
}

func parsePriority(pair string) (uint32, int, error) {
	idStr, deltaStr, ok := strings.Cut(strings.TrimSpace(pair), "=")
	if !ok {
		return 0, 0, &ConfigError{Name: "nice", Value: pair, Reason: "should be id=delta"}
	}

	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return 0, 0, &ConfigError{Name: "nice", Value: pair, Reason: "worker id should be number"}
	}

	delta, err := strconv.Atoi(deltaStr)
	if err != nil {
		return 0, 0, &ConfigError{Name: "nice", Value: pair, Reason: "delta should be number"}
	}

	if delta < MinNice || delta > MaxNice {
		return 0, 0, &ConfigError{
			Name:   "nice",
			Value:  pair,
			Reason: fmt.Sprintf("delta should be within [%d, %d]", MinNice, MaxNice),
		}
	}

	return uint32(id), delta, nil
}

// Tuning holds the per-worker OS knobs of a run.
type Tuning struct {
	Priorities Priorities
	// CPU pins every worker to one CPU, or NoCPU.
	CPU int
}

// NiceCohort is the priority-aware preset: two workers where worker 0 runs
// with niceness +5.
func NiceCohort() (uint32, Tuning) {
	return 2, Tuning{Priorities: Priorities{0: 5}, CPU: NoCPU}
}
