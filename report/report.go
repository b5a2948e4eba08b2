// Package report summarizes sample records emitted by workers into a
// per-worker comparison table.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/weiihann/schedlat/worker"
)

// WorkerSummary describes the progress curve of one worker.
type WorkerSummary struct {
	WorkerID       uint32  `json:"worker_id"`
	Samples        int     `json:"samples"`
	FirstMs        uint64  `json:"first_ms"`
	FinishMs       uint64  `json:"finish_ms"`
	MeanIntervalMs float64 `json:"mean_interval_ms"`
	MaxGapMs       uint64  `json:"max_gap_ms"`
	Complete       bool    `json:"complete"`
}

// Report is the analysis of one run's records.
type Report struct {
	Workers  []WorkerSummary `json:"workers"`
	Fairness float64         `json:"fairness"`
}

// Parse reads tab-separated "id elapsed_ms percent" records. Blank lines are
// skipped.
func Parse(r io.Reader) ([]worker.Sample, error) {
	var samples []worker.Sample

	sc := bufio.NewScanner(r)
	line := 0

	for sc.Scan() {
		line++

		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		s, err := parseRecord(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		samples = append(samples, s)
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	return samples, nil
}

func parseRecord(text string) (worker.Sample, error) {
	fields := strings.Split(text, "\t")
	if len(fields) != 3 {
		return worker.Sample{}, fmt.Errorf("want 3 tab-separated fields, got %d", len(fields))
	}

	id, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return worker.Sample{}, fmt.Errorf("worker id: %w", err)
	}

	elapsed, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return worker.Sample{}, fmt.Errorf("elapsed ms: %w", err)
	}

	pct, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil || pct > 100 {
		return worker.Sample{}, fmt.Errorf("progress percent %q out of range", fields[2])
	}

	return worker.Sample{
		WorkerID:        uint32(id),
		ElapsedMs:       elapsed,
		ProgressPercent: uint8(pct),
	}, nil
}

// Summarize groups samples by worker and measures each progress curve.
// Records of different workers may be interleaved in any order.
func Summarize(samples []worker.Sample) Report {
	byWorker := make(map[uint32][]worker.Sample)
	for _, s := range samples {
		byWorker[s.WorkerID] = append(byWorker[s.WorkerID], s)
	}

	ids := make([]uint32, 0, len(byWorker))
	for id := range byWorker {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rep := Report{Workers: make([]WorkerSummary, 0, len(ids))}
	for _, id := range ids {
		rep.Workers = append(rep.Workers, summarize(id, byWorker[id]))
	}

	rep.Fairness = jainIndex(rep.Workers)

	return rep
}

func summarize(id uint32, samples []worker.Sample) WorkerSummary {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].ElapsedMs < samples[j].ElapsedMs
	})

	first := samples[0]
	last := samples[len(samples)-1]

	sum := WorkerSummary{
		WorkerID: id,
		Samples:  len(samples),
		FirstMs:  first.ElapsedMs,
		FinishMs: last.ElapsedMs,
		Complete: last.ProgressPercent == 100,
	}

	for i := 1; i < len(samples); i++ {
		gap := samples[i].ElapsedMs - samples[i-1].ElapsedMs
		if gap > sum.MaxGapMs {
			sum.MaxGapMs = gap
		}
	}

	if len(samples) > 1 {
		sum.MeanIntervalMs = float64(last.ElapsedMs-first.ElapsedMs) / float64(len(samples)-1)
	}

	return sum
}

// jainIndex is Jain's fairness index over per-worker progress rates: 1 when
// every worker advanced at the same rate, 1/n when one worker got all CPU.
func jainIndex(workers []WorkerSummary) float64 {
	var sum, sumSq float64

	n := 0

	for _, w := range workers {
		if w.FinishMs == 0 {
			continue
		}

		rate := float64(w.Samples) / float64(w.FinishMs)
		sum += rate
		sumSq += rate * rate
		n++
	}

	if n == 0 || sumSq == 0 {
		return 0
	}

	return (sum * sum) / (float64(n) * sumSq)
}

// Generate writes a markdown comparison table for the report.
func Generate(w io.Writer, rep Report) error {
	if len(rep.Workers) == 0 {
		return fmt.Errorf("no records to report")
	}

	fastest := findFastest(rep.Workers)

	fmt.Fprintln(w, "## Scheduling Results")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Workers: %d, fairness (Jain): %.3f\n", len(rep.Workers), rep.Fairness)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Worker | Samples | First | Finish | Mean Interval "+
		"| Max Gap | Slowdown |")
	fmt.Fprintln(w, "|--------|---------|-------|--------|---------------"+
		"|---------|----------|")

	for _, s := range rep.Workers {
		slowdown := 1.0
		if fastest > 0 && s.FinishMs > 0 {
			slowdown = float64(s.FinishMs) / float64(fastest)
		}

		samples := humanize.Comma(int64(s.Samples))
		if !s.Complete {
			samples += " (incomplete)"
		}

		fmt.Fprintf(w, "| %d | %s | %s | %s | %.2fms | %s | %.2fx |\n",
			s.WorkerID,
			samples,
			formatMs(s.FirstMs),
			formatMs(s.FinishMs),
			s.MeanIntervalMs,
			formatMs(s.MaxGapMs),
			slowdown,
		)
	}

	return nil
}

// GenerateJSON writes the report as JSON to w.
func GenerateJSON(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(rep)
}

func findFastest(workers []WorkerSummary) uint64 {
	fastest := uint64(math.MaxUint64)
	for _, s := range workers {
		if s.FinishMs > 0 && s.FinishMs < fastest {
			fastest = s.FinishMs
		}
	}

	if fastest == math.MaxUint64 {
		return 0
	}

	return fastest
}

func formatMs(ms uint64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}

	return fmt.Sprintf("%.2fs", float64(ms)/1000)
}
