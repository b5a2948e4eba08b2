package coordinator_test

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/weiihann/schedlat/worker"
)

// lockedBuffer is shared by several exec copy goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func parseRecords(t *testing.T, out string) map[uint32][]worker.Sample {
	t.Helper()

	byWorker := make(map[uint32][]worker.Sample)

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		require.Len(t, fields, 3, "line %q", sc.Text())

		id, err := strconv.ParseUint(fields[0], 10, 32)
		require.NoError(t, err)
		elapsed, err := strconv.ParseUint(fields[1], 10, 64)
		require.NoError(t, err)
		pct, err := strconv.ParseUint(fields[2], 10, 8)
		require.NoError(t, err)

		byWorker[uint32(id)] = append(byWorker[uint32(id)], worker.Sample{
			WorkerID:        uint32(id),
			ElapsedMs:       elapsed,
			ProgressPercent: uint8(pct),
		})
	}

	return byWorker
}
