package sched_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/internal/pipe"
	"rvkernel/internal/sched"
)

// TestIOBoostOnPipeWake exercises spec.md §4.I's "I/O on a pipe that
// unblocks a reader causes the reader, when re-scheduled, to have its
// priority boosted" end to end: a reader demoted to a low priority
// level is woken by a writer, and the dispatcher boosts it back to
// priority 0 instead of re-adding it at its demoted level.
func TestIOBoostOnPipeWake(t *testing.T) {
	k := newTestKernel(t)
	s := sched.NewScheduler()

	r, w := pipe.New()
	reader := spawnPCB(t, k)
	s.Add(reader, 3) // demoted, as if it had exhausted several slices waiting
	_, ok := s.Fetch()
	require.True(t, ok, "reader is the only process, it must be fetchable at its demoted level")

	var buf [4]byte
	n, err := r.Read(buf[:])
	require.NoError(t, err)
	require.Zero(t, n, "nothing written yet, reader would retry after yielding")

	_, woke, err := w.WriteWoke([]byte("go"))
	require.NoError(t, err)
	require.True(t, woke, "the write transitioned the ring from empty, waking the blocked reader")

	n, err = r.Read(buf[:])
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// The dispatcher that observed `woke` asks the scheduler to boost
	// the reader instead of re-adding it at its demoted level.
	s.Boost(reader)
	require.Equal(t, 0, reader.Priority(), "a reader woken by a pipe write must not stay penalised at its demoted level")
	require.Equal(t, 1, s.Len(0))
}
